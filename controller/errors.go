package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github/closedbook/rag/models"
)

// statusFor maps domain error conditions to HTTP status codes. The
// controllers are the single place taxonomy errors become user-visible.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput), errors.Is(err, models.ErrInvalidSelection):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists),
		errors.Is(err, models.ErrSessionBusy),
		errors.Is(err, models.ErrSyncConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, models.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(ctx *gin.Context, err error) {
	ctx.JSON(statusFor(err), gin.H{"error": err.Error()})
}
