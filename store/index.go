// Package store implements the persisted vector index. The default backend
// keeps one self-contained SQLite directory per user; a Chroma backend is
// available for deployments that already run a Chroma server.
package store

import (
	"context"
	"encoding/binary"
	"math"

	"github/closedbook/rag/models"
)

// Index is the aggregate mapping chunks to embeddings for one user. All
// mutations are keyed by owning document: a changed document replaces its
// entire chunk set, never individual chunks.
type Index interface {
	// Fingerprints returns one contentHash per document currently
	// represented in the index.
	Fingerprints(ctx context.Context) (map[string]string, error)

	// ReplaceDocument deletes any stale chunks for the document and inserts
	// the given chunk set, all-or-nothing.
	ReplaceDocument(ctx context.Context, doc models.Document, chunks []models.Chunk) error

	// DeleteDocument removes the document and all of its chunks.
	DeleteDocument(ctx context.Context, docID string) error

	// Query returns the topK chunks most similar to the embedding, strictly
	// restricted to chunks whose owning document is in allowedIDs.
	Query(ctx context.Context, embedding []float32, allowedIDs []string, topK int) ([]models.RetrievedChunk, error)

	// Count reports the total number of chunks.
	Count(ctx context.Context) (int, error)

	Close() error
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Returns 0 for mismatched or zero-length vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// vectorToBlob encodes a vector as little-endian float32 bytes for storage.
func vectorToBlob(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// blobToVector decodes a stored vector blob.
func blobToVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}
