package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/closedbook/rag/models"
	"github/closedbook/rag/services"
)

func setupAuthRouter(t *testing.T) (*gin.Engine, *AuthController) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	creds, err := services.LoadCredentialStore(filepath.Join(t.TempDir(), "users.yaml"))
	require.NoError(t, err)
	auth := NewAuthController(creds)

	router := gin.New()
	router.POST("/auth/register", auth.Register)
	router.POST("/auth/login", auth.Login)
	router.GET("/whoami", auth.Middleware(), func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"username": currentUser(ctx).Username})
	})
	return router, auth
}

func doJSON(router *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterLoginFlow(t *testing.T) {
	router, _ := setupAuthRouter(t)

	body := `{"username":"alice","email":"alice@example.com","password":"s3cret","confirm_password":"s3cret"}`
	rec := doJSON(router, http.MethodPost, "/auth/register", body, "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate registration conflicts.
	rec = doJSON(router, http.MethodPost, "/auth/register", body, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(router, http.MethodPost, "/auth/login", `{"username":"alice","password":"s3cret"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var login models.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))
	assert.NotEmpty(t, login.Token)
	assert.Equal(t, "alice", login.User.Username)

	// The token resolves back to the user on protected routes.
	rec = doJSON(router, http.MethodGet, "/whoami", "", login.Token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "alice")
}

func TestLoginBadPassword(t *testing.T) {
	router, _ := setupAuthRouter(t)

	body := `{"username":"alice","email":"alice@example.com","password":"s3cret","confirm_password":"s3cret"}`
	require.Equal(t, http.StatusCreated, doJSON(router, http.MethodPost, "/auth/register", body, "").Code)

	rec := doJSON(router, http.MethodPost, "/auth/login", `{"username":"alice","password":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsMissingOrBogusToken(t *testing.T) {
	router, _ := setupAuthRouter(t)

	rec := doJSON(router, http.MethodGet, "/whoami", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(router, http.MethodGet, "/whoami", "", "not-a-real-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterInvalidBody(t *testing.T) {
	router, _ := setupAuthRouter(t)

	rec := doJSON(router, http.MethodPost, "/auth/register", `{"username":`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.ErrInvalidInput, http.StatusBadRequest},
		{models.ErrInvalidSelection, http.StatusBadRequest},
		{models.ErrAuthFailed, http.StatusUnauthorized},
		{models.ErrNotFound, http.StatusNotFound},
		{models.ErrAlreadyExists, http.StatusConflict},
		{models.ErrSessionBusy, http.StatusConflict},
		{models.ErrSyncConflict, http.StatusConflict},
		{models.ErrGenerationFailed, http.StatusBadGateway},
		{models.ErrServiceUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", models.ErrSessionBusy), http.StatusConflict},
		{fmt.Errorf("anything else"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "error: %v", tt.err)
	}
}
