// Package config centralizes configuration for the Closed-Book server.
// Values are read from environment variables (optionally seeded from a .env
// file) with validation and defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Backend names accepted for CLOSEDBOOK_LLM_BACKEND.
const (
	BackendOllama = "ollama"
	BackendGemini = "gemini"
	BackendOpenAI = "openai"
)

// Index backend names accepted for CLOSEDBOOK_INDEX_BACKEND.
const (
	IndexLocal  = "local"
	IndexChroma = "chroma"
)

// Config holds all configuration for the server.
type Config struct {
	// HTTP settings
	Port string

	// Storage layout: DataDir holds one raw-document directory per user,
	// StorageDir holds one index directory plus chat history per user.
	DataDir    string
	StorageDir string
	UsersFile  string

	// LLM settings
	LLMBackend       string
	OllamaURL        string
	OllamaModel      string
	OllamaEmbedModel string
	GeminiAPIKey     string
	GeminiModel      string
	GeminiEmbedModel string
	OpenAIKey        string
	OpenAIBaseURL    string
	OpenAIModel      string
	OpenAIEmbedModel string
	// Local inference is slow; the timeout is minutes, not seconds.
	RequestTimeout time.Duration

	// Index settings
	IndexBackend string
	ChromaURL    string
	ChunkSize    int
	ChunkOverlap int

	// Retrieval breadth: point lookups for chat, wider coverage for the
	// canned synthesis tasks.
	ChatTopK int
	TaskTopK int
}

// Load reads configuration from the environment. A .env file in the working
// directory is honoured when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// No .env file is fine; rely on the process environment.
		_ = err
	}

	cfg := &Config{
		Port:             getEnv("CLOSEDBOOK_PORT", "8080"),
		DataDir:          getEnv("CLOSEDBOOK_DATA_DIR", "/data"),
		StorageDir:       getEnv("CLOSEDBOOK_STORAGE_DIR", "/app/storage"),
		UsersFile:        getEnv("CLOSEDBOOK_USERS_FILE", "users.yaml"),
		LLMBackend:       getEnv("CLOSEDBOOK_LLM_BACKEND", BackendOllama),
		OllamaURL:        getEnv("OLLAMA_URL", "http://ollama:11434"),
		OllamaModel:      getEnv("OLLAMA_MODEL", "gpt-oss:20b"),
		OllamaEmbedModel: getEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text:latest"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		GeminiEmbedModel: getEnv("GEMINI_EMBED_MODEL", "text-embedding-004"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIEmbedModel: getEnv("OPENAI_EMBED_MODEL", "text-embedding-3-small"),
		RequestTimeout:   getEnvDuration("CLOSEDBOOK_REQUEST_TIMEOUT", 10*time.Minute),
		IndexBackend:     getEnv("CLOSEDBOOK_INDEX_BACKEND", IndexLocal),
		ChromaURL:        getEnv("CHROMA_URL", "http://localhost:8000"),
		ChunkSize:        getEnvInt("CLOSEDBOOK_CHUNK_SIZE", 1000),
		ChunkOverlap:     getEnvInt("CLOSEDBOOK_CHUNK_OVERLAP", 100),
		ChatTopK:         getEnvInt("CLOSEDBOOK_CHAT_TOP_K", 5),
		TaskTopK:         getEnvInt("CLOSEDBOOK_TASK_TOP_K", 10),
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	switch c.LLMBackend {
	case BackendOllama, BackendGemini, BackendOpenAI:
	default:
		return fmt.Errorf("CLOSEDBOOK_LLM_BACKEND must be one of ollama, gemini, openai, got %q", c.LLMBackend)
	}
	switch c.IndexBackend {
	case IndexLocal, IndexChroma:
	default:
		return fmt.Errorf("CLOSEDBOOK_INDEX_BACKEND must be local or chroma, got %q", c.IndexBackend)
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("chunk overlap (%d) must be non-negative and smaller than chunk size (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.ChatTopK <= 0 || c.TaskTopK <= 0 {
		return fmt.Errorf("top-k values must be positive, got chat=%d task=%d", c.ChatTopK, c.TaskTopK)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("CLOSEDBOOK_REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
