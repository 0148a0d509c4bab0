package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/closedbook/rag/config"
	"github/closedbook/rag/models"
)

// mockLLM implements llm.Client for testing. Embeddings are derived
// deterministically from the text so similar inputs stay comparable.
type mockLLM struct {
	mu         sync.Mutex
	embedCalls int
	embedErr   error
	onEmbed    func(text string)

	answer      string
	completeErr error
	onComplete  func()
	prompts     []string

	fragments []string
	streamErr error
}

func (m *mockLLM) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.embedCalls++
	fn := m.onEmbed
	m.mu.Unlock()
	if fn != nil {
		fn(text)
	}
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	var v [3]float32
	for i, b := range []byte(text) {
		v[i%3] += float32(b)
	}
	return v[:], nil
}

func (m *mockLLM) Complete(_ context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	fn := m.onComplete
	m.mu.Unlock()
	if fn != nil {
		fn()
	}
	if m.completeErr != nil {
		return "", m.completeErr
	}
	if m.answer != "" {
		return m.answer, nil
	}
	return "mock answer", nil
}

func (m *mockLLM) CompleteStream(_ context.Context, prompt string) (<-chan string, <-chan error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	fragments := make(chan string, len(m.fragments))
	errs := make(chan error, 1)
	for _, f := range m.fragments {
		fragments <- f
	}
	if m.streamErr != nil {
		errs <- m.streamErr
	}
	close(fragments)
	close(errs)
	return fragments, errs
}

func (m *mockLLM) embedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embedCalls
}

func (m *mockLLM) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

// --- Test helpers ---

func setupSync(t *testing.T) (*SyncService, *DocStore, *mockLLM) {
	t.Helper()
	cfg := &config.Config{
		DataDir:      t.TempDir(),
		StorageDir:   t.TempDir(),
		IndexBackend: config.IndexLocal,
		ChunkSize:    1000,
		ChunkOverlap: 100,
	}
	docs, err := NewDocStore(cfg.DataDir)
	require.NoError(t, err)
	client := &mockLLM{}
	return NewSyncService(cfg, docs, client), docs, client
}

func TestSyncEmptySelection(t *testing.T) {
	svc, _, client := setupSync(t)

	idx, err := svc.Sync(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Nil(t, idx)
	assert.Zero(t, client.embedCount())
}

func TestSyncIsIdempotent(t *testing.T) {
	svc, docs, client := setupSync(t)
	ctx := context.Background()

	require.NoError(t, docs.Save("alice", "a.txt", []byte("alpha document text")))
	require.NoError(t, docs.Save("alice", "b.txt", []byte("beta document text")))

	idx, err := svc.Sync(ctx, "alice", []string{"a.txt", "b.txt"})
	require.NoError(t, err)
	require.NotNil(t, idx)
	firstPass := client.embedCount()
	assert.Positive(t, firstPass)

	// Unchanged files: no further embedding work, same order or not.
	idx2, err := svc.Sync(ctx, "alice", []string{"b.txt", "a.txt"})
	require.NoError(t, err)
	assert.Equal(t, idx, idx2)
	assert.Equal(t, firstPass, client.embedCount())
}

func TestSyncReindexesChangedFile(t *testing.T) {
	svc, docs, client := setupSync(t)
	ctx := context.Background()

	require.NoError(t, docs.Save("alice", "a.txt", []byte("original text")))
	_, err := svc.Sync(ctx, "alice", []string{"a.txt"})
	require.NoError(t, err)
	before := client.embedCount()

	// Saving through the store fires the change hook, so the memo is dropped.
	require.NoError(t, docs.Save("alice", "a.txt", []byte("rewritten text")))

	idx, err := svc.Sync(ctx, "alice", []string{"a.txt"})
	require.NoError(t, err)
	assert.Greater(t, client.embedCount(), before)

	fingerprints, err := idx.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Len(t, fingerprints, 1)
}

func TestSyncPrunesDeletedFiles(t *testing.T) {
	svc, docs, client := setupSync(t)
	ctx := context.Background()

	require.NoError(t, docs.Save("alice", "a.txt", []byte("alpha text")))
	require.NoError(t, docs.Save("alice", "b.txt", []byte("beta text")))
	_, err := svc.Sync(ctx, "alice", []string{"a.txt", "b.txt"})
	require.NoError(t, err)

	require.NoError(t, docs.Delete("alice", "b.txt"))
	before := client.embedCount()

	idx, err := svc.Sync(ctx, "alice", []string{"a.txt"})
	require.NoError(t, err)

	fingerprints, err := idx.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Contains(t, fingerprints, "a.txt")
	assert.NotContains(t, fingerprints, "b.txt")
	// Pruning is deletion only, never re-embedding.
	assert.Equal(t, before, client.embedCount())
}

func TestSyncPreservesUnselectedDocuments(t *testing.T) {
	svc, docs, _ := setupSync(t)
	ctx := context.Background()

	require.NoError(t, docs.Save("alice", "a.txt", []byte("alpha text")))
	require.NoError(t, docs.Save("alice", "b.txt", []byte("beta text")))
	_, err := svc.Sync(ctx, "alice", []string{"a.txt", "b.txt"})
	require.NoError(t, err)

	// b.txt still exists on disk, it is just outside the selection.
	idx, err := svc.Sync(ctx, "alice", []string{"a.txt"})
	require.NoError(t, err)

	fingerprints, err := idx.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Contains(t, fingerprints, "b.txt")
}

func TestSyncMissingSelectedFile(t *testing.T) {
	svc, _, _ := setupSync(t)

	_, err := svc.Sync(context.Background(), "alice", []string{"ghost.txt"})
	assert.ErrorIs(t, err, models.ErrInvalidSelection)
}

func TestRebuildClearsIndex(t *testing.T) {
	svc, docs, client := setupSync(t)
	ctx := context.Background()

	require.NoError(t, docs.Save("alice", "a.txt", []byte("alpha text")))
	_, err := svc.Sync(ctx, "alice", []string{"a.txt"})
	require.NoError(t, err)
	before := client.embedCount()

	require.NoError(t, svc.Rebuild(ctx, "alice"))
	_, statErr := os.Stat(svc.IndexDir("alice"))
	assert.True(t, os.IsNotExist(statErr))

	// Everything is re-embedded from scratch.
	idx, err := svc.Sync(ctx, "alice", []string{"a.txt"})
	require.NoError(t, err)
	require.NotNil(t, idx)
	assert.Greater(t, client.embedCount(), before)
}

func TestSyncConflictWhenFileKeepsChanging(t *testing.T) {
	svc, docs, client := setupSync(t)
	ctx := context.Background()

	require.NoError(t, docs.Save("alice", "a.txt", []byte("version 0")))
	path, err := docs.Path("alice", "a.txt")
	require.NoError(t, err)

	// Rewrite the file underneath every embedding call so the post-embed
	// hash check never settles.
	version := 0
	client.onEmbed = func(string) {
		version++
		require.NoError(t, os.WriteFile(path, []byte("version "+string(rune('0'+version))), 0o644))
	}

	_, err = svc.Sync(ctx, "alice", []string{"a.txt"})
	assert.ErrorIs(t, err, models.ErrSyncConflict)
}

func TestSyncHealsCorruptIndex(t *testing.T) {
	svc, docs, _ := setupSync(t)
	ctx := context.Background()

	require.NoError(t, docs.Save("alice", "a.txt", []byte("alpha text")))

	// A garbage database from a previous run must not wedge sync.
	dir := svc.IndexDir("alice")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.db"), []byte("garbage"), 0o644))

	idx, err := svc.Sync(ctx, "alice", []string{"a.txt"})
	require.NoError(t, err)
	require.NotNil(t, idx)

	fingerprints, err := idx.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Contains(t, fingerprints, "a.txt")
}

func TestSelectionKeyOrderIndependent(t *testing.T) {
	assert.Equal(t, selectionKey([]string{"b.txt", "a.txt"}), selectionKey([]string{"a.txt", "b.txt"}))
	assert.NotEqual(t, selectionKey([]string{"a.txt"}), selectionKey([]string{"a.txt", "b.txt"}))
}
