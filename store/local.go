package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	_ "modernc.org/sqlite"

	"github/closedbook/rag/models"
)

const localDBName = "index.db"

const localSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id   TEXT PRIMARY KEY,
	hash TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	position    INTEGER NOT NULL,
	text        TEXT NOT NULL,
	vector      BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`

// Local is the default index backend: a single SQLite database inside the
// user's index directory. The directory alone is enough to reconstruct the
// index after a restart.
type Local struct {
	db  *sql.DB
	dir string
}

// OpenLocal opens (creating if needed) the index stored in dir. A directory
// whose database exists but cannot be parsed yields ErrStorageCorrupt so
// the caller can wipe and rebuild.
func OpenLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	dbPath := filepath.Join(dir, localDBName)
	_, statErr := os.Stat(dbPath)
	existed := statErr == nil

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}

	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		if existed {
			return nil, fmt.Errorf("%w: %s: %v", models.ErrStorageCorrupt, dbPath, err)
		}
		return nil, fmt.Errorf("failed to initialise index schema: %w", err)
	}

	// A pre-existing file that is not a usable index shows up here, not at
	// Open time.
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s: %v", models.ErrStorageCorrupt, dbPath, err)
	}

	return &Local{db: db, dir: dir}, nil
}

// Dir returns the directory this index persists to.
func (l *Local) Dir() string {
	return l.dir
}

// Fingerprints implements Index.
func (l *Local) Fingerprints(ctx context.Context) (map[string]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, hash FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("failed to read document fingerprints: %w", err)
	}
	defer rows.Close()

	fingerprints := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, err
		}
		fingerprints[id] = hash
	}
	return fingerprints, rows.Err()
}

// ReplaceDocument implements Index. The delete and all inserts share one
// transaction so a failed embedding pass never leaves a half-indexed
// document behind.
func (l *Local) ReplaceDocument(ctx context.Context, doc models.Document, chunks []models.Chunk) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to delete stale chunks for %s: %w", doc.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, hash) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET hash = excluded.hash
	`, doc.ID, doc.Hash); err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}

	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, position, text, vector)
			VALUES (?, ?, ?, ?, ?)
		`, chunk.ID, doc.ID, chunk.Position, chunk.Text, vectorToBlob(chunk.Embedding)); err != nil {
			return fmt.Errorf("failed to insert chunk %d of %s: %w", chunk.Position, doc.ID, err)
		}
	}

	return tx.Commit()
}

// DeleteDocument implements Index.
func (l *Local) DeleteDocument(ctx context.Context, docID string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", docID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, docID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	return tx.Commit()
}

// Query implements Index with a brute-force cosine scan over the chunks of
// the allowed documents. Corpora here are a handful of files per user, so a
// scan beats maintaining an ANN structure.
func (l *Local) Query(ctx context.Context, embedding []float32, allowedIDs []string, topK int) ([]models.RetrievedChunk, error) {
	if len(allowedIDs) == 0 {
		return nil, models.ErrInvalidSelection
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top-k must be positive, got %d", models.ErrInvalidInput, topK)
	}

	query := `SELECT id, document_id, position, text, vector FROM chunks WHERE document_id IN (?` +
		repeatPlaceholder(len(allowedIDs)-1) + `)`
	args := make([]any, len(allowedIDs))
	for i, id := range allowedIDs {
		args[i] = id
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var results []models.RetrievedChunk
	for rows.Next() {
		var chunk models.Chunk
		var blob []byte
		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.Position, &chunk.Text, &blob); err != nil {
			return nil, err
		}
		chunk.Embedding = blobToVector(blob)
		results = append(results, models.RetrievedChunk{
			Chunk: chunk,
			Score: cosineSimilarity(embedding, chunk.Embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count implements Index.
func (l *Local) Count(ctx context.Context) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Close implements Index.
func (l *Local) Close() error {
	return l.db.Close()
}

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ",?"
	}
	return s
}
