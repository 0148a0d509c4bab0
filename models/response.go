package models

// LoginResponse carries the bearer token for subsequent requests.
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// FileListResponse is the structure for the response of GET /files.
type FileListResponse struct {
	Count int      `json:"count"`
	Files []string `json:"files"`
}

// QueryResponse is the non-streaming answer to a query or canned task.
type QueryResponse struct {
	SessionID   string   `json:"session_id"`
	Answer      string   `json:"answer"`
	SourceFiles []string `json:"source_files,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// SessionListResponse lists saved chats, most recent first.
type SessionListResponse struct {
	Count    int           `json:"count"`
	Sessions []ChatSummary `json:"sessions"`
}
