package models

// RegisterRequest is the payload for POST /api/v1/auth/register.
type RegisterRequest struct {
	Username        string `json:"username" binding:"required"`
	Email           string `json:"email" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// LoginRequest is the payload for POST /api/v1/auth/login.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// QueryRequest is the payload for POST /api/v1/query. Either Question (free
// chat) or Task (canned analysis) must be set, never both.
type QueryRequest struct {
	SessionID     string   `json:"session_id" binding:"required"`
	Question      string   `json:"question,omitempty"`
	Task          string   `json:"task,omitempty"`
	SelectedFiles []string `json:"selected_files"`
	Stream        bool     `json:"stream,omitempty"`
}
