package models

// Document represents a source file staged for indexing, after text
// extraction. ID is the file name within the owning user's directory and
// doubles as the scoping key for retrieval.
type Document struct {
	ID   string `json:"id"`
	Path string `json:"path"`
	Text string `json:"text"`
	Hash string `json:"hash"`
}

// Chunk is the unit of retrieval and storage in the index: a contiguous
// span of extracted text and its embedding. Chunks are immutable; a changed
// document is handled by replacing its whole chunk set.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Position   int       `json:"position"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

// RetrievedChunk pairs a chunk with its similarity score.
type RetrievedChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// User is an authenticated identity as supplied by the credential store.
type User struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}
