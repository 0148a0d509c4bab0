package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, BackendOllama, cfg.LLMBackend)
	assert.Equal(t, IndexLocal, cfg.IndexBackend)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 100, cfg.ChunkOverlap)
	assert.Equal(t, 5, cfg.ChatTopK)
	assert.Equal(t, 10, cfg.TaskTopK)
	assert.Equal(t, 10*time.Minute, cfg.RequestTimeout)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CLOSEDBOOK_PORT", "9090")
	t.Setenv("CLOSEDBOOK_CHAT_TOP_K", "7")
	t.Setenv("CLOSEDBOOK_REQUEST_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 7, cfg.ChatTopK)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			LLMBackend:     BackendOllama,
			IndexBackend:   IndexLocal,
			ChunkSize:      1000,
			ChunkOverlap:   100,
			ChatTopK:       5,
			TaskTopK:       10,
			RequestTimeout: time.Minute,
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.LLMBackend = "mystery"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.IndexBackend = "flat-files"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ChunkOverlap = cfg.ChunkSize
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.ChatTopK = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.RequestTimeout = 0
	assert.Error(t, cfg.Validate())
}
