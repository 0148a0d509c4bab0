package controller

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github/closedbook/rag/models"
	"github/closedbook/rag/services"
)

// FileController handles the document management endpoints: upload, list,
// delete and the full index rebuild.
type FileController struct {
	docs    *services.DocStore
	syncSvc *services.SyncService
}

// NewFileController is a constructor function that creates a new FileController.
func NewFileController(docs *services.DocStore, syncSvc *services.SyncService) *FileController {
	return &FileController{docs: docs, syncSvc: syncSvc}
}

// Upload is the Gin handler for POST /api/v1/files. Accepts one or more
// multipart files under the "files" field.
func (c *FileController) Upload(ctx *gin.Context) {
	user := currentUser(ctx)

	form, err := ctx.MultipartForm()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form: " + err.Error()})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "No files supplied"})
		return
	}

	saved := 0
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			respondError(ctx, err)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respondError(ctx, err)
			return
		}
		if err := c.docs.Save(user.Username, fh.Filename, data); err != nil {
			respondError(ctx, err)
			return
		}
		saved++
	}

	ctx.JSON(http.StatusCreated, gin.H{"message": "Files saved", "count": saved})
}

// List is the Gin handler for GET /api/v1/files.
func (c *FileController) List(ctx *gin.Context) {
	user := currentUser(ctx)

	files, err := c.docs.List(user.Username)
	if err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, models.FileListResponse{Count: len(files), Files: files})
}

// Delete is the Gin handler for DELETE /api/v1/files/:name.
func (c *FileController) Delete(ctx *gin.Context) {
	user := currentUser(ctx)

	if err := c.docs.Delete(user.Username, ctx.Param("name")); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "File deleted"})
}

// Rebuild is the Gin handler for POST /api/v1/index/rebuild. It clears the
// user's persisted index; the next query re-embeds everything selected.
func (c *FileController) Rebuild(ctx *gin.Context) {
	user := currentUser(ctx)

	if err := c.syncSvc.Rebuild(ctx.Request.Context(), user.Username); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "Index cleared; documents will be re-embedded on next sync"})
}
