package models

// Message roles. Transcripts only ever contain these two.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatSession is the persisted form of one conversation. ID is derived from
// the creation timestamp, so lexicographic order is chronological order.
type ChatSession struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Messages      []Message `json:"messages"`
	SelectedFiles []string  `json:"selected_files"`
}

// ChatSummary is the listing form of a session (most recent first).
type ChatSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}
