package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/closedbook/rag/models"
)

func testDoc(id, hash string) models.Document {
	return models.Document{ID: id, Hash: hash}
}

func testChunks(docID string, vectors ...[]float32) []models.Chunk {
	chunks := make([]models.Chunk, len(vectors))
	for i, v := range vectors {
		chunks[i] = models.Chunk{
			ID:         docID + "-chunk" + string(rune('0'+i)),
			DocumentID: docID,
			Position:   i,
			Text:       "chunk " + string(rune('0'+i)) + " of " + docID,
			Embedding:  v,
		}
	}
	return chunks
}

func TestLocalPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")

	idx, err := OpenLocal(dir)
	require.NoError(t, err)

	require.NoError(t, idx.ReplaceDocument(ctx, testDoc("a.txt", "hash-a"),
		testChunks("a.txt", []float32{1, 0}, []float32{0, 1})))
	require.NoError(t, idx.Close())

	// Reopening from the directory alone restores the full state.
	reopened, err := OpenLocal(dir)
	require.NoError(t, err)
	defer reopened.Close()

	fingerprints, err := reopened.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.txt": "hash-a"}, fingerprints)

	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := reopened.Query(ctx, []float32{1, 0}, []string{"a.txt"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a.txt", results[0].Chunk.DocumentID)
	assert.Equal(t, []float32{1, 0}, results[0].Chunk.Embedding)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestLocalQueryScopedToAllowedDocuments(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	// b.txt holds the perfect match; a.txt holds a weaker one.
	require.NoError(t, idx.ReplaceDocument(ctx, testDoc("a.txt", "hash-a"),
		testChunks("a.txt", []float32{0.5, 0.5})))
	require.NoError(t, idx.ReplaceDocument(ctx, testDoc("b.txt", "hash-b"),
		testChunks("b.txt", []float32{1, 0})))

	results, err := idx.Query(ctx, []float32{1, 0}, []string{"a.txt"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.txt", results[0].Chunk.DocumentID)

	_, err = idx.Query(ctx, []float32{1, 0}, nil, 10)
	assert.ErrorIs(t, err, models.ErrInvalidSelection)
}

func TestLocalQueryOrdersByScoreAndTruncates(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.ReplaceDocument(ctx, testDoc("a.txt", "hash-a"),
		testChunks("a.txt", []float32{0, 1}, []float32{1, 0}, []float32{0.7, 0.7})))

	results, err := idx.Query(ctx, []float32{1, 0}, []string{"a.txt"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Chunk.Position)
	assert.Equal(t, 2, results[1].Chunk.Position)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestLocalReplaceDocumentDropsStaleChunks(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.ReplaceDocument(ctx, testDoc("a.txt", "hash-1"),
		testChunks("a.txt", []float32{1, 0}, []float32{0, 1})))
	require.NoError(t, idx.ReplaceDocument(ctx, testDoc("a.txt", "hash-2"),
		testChunks("a.txt", []float32{0.5, 0.5})))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	fingerprints, err := idx.Fingerprints(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hash-2", fingerprints["a.txt"])
}

func TestLocalDeleteDocument(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.ReplaceDocument(ctx, testDoc("a.txt", "hash-a"),
		testChunks("a.txt", []float32{1, 0})))
	require.NoError(t, idx.ReplaceDocument(ctx, testDoc("b.txt", "hash-b"),
		testChunks("b.txt", []float32{0, 1})))

	require.NoError(t, idx.DeleteDocument(ctx, "a.txt"))

	fingerprints, err := idx.Fingerprints(ctx)
	require.NoError(t, err)
	assert.NotContains(t, fingerprints, "a.txt")
	assert.Contains(t, fingerprints, "b.txt")

	results, err := idx.Query(ctx, []float32{1, 0}, []string{"a.txt", "b.txt"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b.txt", results[0].Chunk.DocumentID)
}

func TestLocalReusedNameGetsFreshContent(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLocal(t.TempDir())
	require.NoError(t, err)
	defer idx.Close()

	require.NoError(t, idx.ReplaceDocument(ctx, testDoc("a.txt", "hash-old"),
		testChunks("a.txt", []float32{1, 0})))
	require.NoError(t, idx.DeleteDocument(ctx, "a.txt"))

	// Same name, different file: only the new content is retrievable.
	fresh := []models.Chunk{{
		ID:         "fresh-chunk0",
		DocumentID: "a.txt",
		Position:   0,
		Text:       "brand new text",
		Embedding:  []float32{0, 1},
	}}
	require.NoError(t, idx.ReplaceDocument(ctx, testDoc("a.txt", "hash-new"), fresh))

	results, err := idx.Query(ctx, []float32{0, 1}, []string{"a.txt"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "brand new text", results[0].Chunk.Text)
}

func TestOpenLocalCorruptDatabase(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, localDBName), []byte("this is not a database"), 0o644))

	_, err := OpenLocal(dir)
	assert.ErrorIs(t, err, models.ErrStorageCorrupt)
}

func TestVectorBlobRoundTrip(t *testing.T) {
	vec := []float32{0.25, -1.5, 3.14159, 0}
	assert.Equal(t, vec, blobToVector(vectorToBlob(vec)))
	assert.Empty(t, blobToVector(nil))
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, cosineSimilarity([]float32{1}, []float32{1, 0}))
}
