package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github/closedbook/rag/models"
	"github/closedbook/rag/services"
)

// ChatController handles chat sessions and query execution, including the
// SSE token stream for interactive answers.
type ChatController struct {
	orch  *services.Orchestrator
	chats *services.ChatStore
}

// NewChatController is a constructor function that creates a new ChatController.
func NewChatController(orch *services.Orchestrator, chats *services.ChatStore) *ChatController {
	return &ChatController{orch: orch, chats: chats}
}

// CreateSession is the Gin handler for POST /api/v1/sessions.
func (c *ChatController) CreateSession(ctx *gin.Context) {
	user := currentUser(ctx)
	chatID := c.orch.NewChat(user.Username)
	ctx.JSON(http.StatusCreated, gin.H{"session_id": chatID})
}

// ListSessions is the Gin handler for GET /api/v1/sessions.
func (c *ChatController) ListSessions(ctx *gin.Context) {
	user := currentUser(ctx)

	sessions, err := c.chats.List(user.Username)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.SessionListResponse{Count: len(sessions), Sessions: sessions})
}

// GetSession is the Gin handler for GET /api/v1/sessions/:id. Loading a
// session also makes it the live conversation for subsequent queries.
func (c *ChatController) GetSession(ctx *gin.Context) {
	user := currentUser(ctx)

	session, err := c.orch.LoadChat(user.Username, ctx.Param("id"))
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, session)
}

// DeleteSession is the Gin handler for DELETE /api/v1/sessions/:id.
func (c *ChatController) DeleteSession(ctx *gin.Context) {
	user := currentUser(ctx)

	if err := c.orch.DeleteChat(user.Username, ctx.Param("id")); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Session deleted"})
}

// Query is the Gin handler for POST /api/v1/query. Routes to a canned task
// or a free-form question, streamed or not.
func (c *ChatController) Query(ctx *gin.Context) {
	user := currentUser(ctx)

	var req models.QueryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if (req.Question == "") == (req.Task == "") {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Exactly one of question or task must be set"})
		return
	}

	reqCtx := ctx.Request.Context()

	if req.Task != "" {
		_, answer, err := c.orch.RunTask(reqCtx, user.Username, req.SessionID, req.Task, req.SelectedFiles)
		if err != nil {
			respondError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, models.QueryResponse{
			SessionID:   req.SessionID,
			Answer:      answer,
			SourceFiles: req.SelectedFiles,
		})
		return
	}

	if req.Stream {
		c.streamAnswer(ctx, user.Username, req)
		return
	}

	answer, sources, err := c.orch.Ask(reqCtx, user.Username, req.SessionID, req.Question, req.SelectedFiles)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.QueryResponse{
		SessionID:   req.SessionID,
		Answer:      answer,
		SourceFiles: sourceFiles(sources),
	})
}

// streamAnswer delivers the answer as server-sent events: one "message"
// event per fragment, then "done" with the full text, or "error" if
// generation failed before completion.
func (c *ChatController) streamAnswer(ctx *gin.Context, username string, req models.QueryRequest) {
	ctx.Writer.Header().Set("Content-Type", "text/event-stream")
	ctx.Writer.Header().Set("Cache-Control", "no-cache")
	ctx.Writer.Header().Set("Connection", "keep-alive")
	ctx.Writer.WriteHeader(http.StatusOK)
	ctx.Writer.Flush()

	answer, err := c.orch.AskStream(ctx.Request.Context(), username, req.SessionID, req.Question, req.SelectedFiles, func(fragment string) {
		ctx.SSEvent("message", fragment)
		ctx.Writer.Flush()
	})
	if err != nil {
		ctx.SSEvent("error", err.Error())
		ctx.Writer.Flush()
		return
	}

	ctx.SSEvent("done", answer)
	ctx.Writer.Flush()
}

func sourceFiles(sources []models.RetrievedChunk) []string {
	seen := make(map[string]bool)
	var files []string
	for _, rc := range sources {
		if rc.Chunk.DocumentID == "" || seen[rc.Chunk.DocumentID] {
			continue
		}
		seen[rc.Chunk.DocumentID] = true
		files = append(files, rc.Chunk.DocumentID)
	}
	return files
}
