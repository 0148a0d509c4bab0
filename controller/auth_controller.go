package controller

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github/closedbook/rag/models"
	"github/closedbook/rag/services"
)

const userContextKey = "closedbook_user"

// AuthController handles registration, login and the bearer-token
// middleware guarding the rest of the API. Tokens live in memory for the
// process lifetime; a restart just means logging in again.
type AuthController struct {
	creds *services.CredentialStore

	mu     sync.Mutex
	tokens map[string]models.User
}

// NewAuthController is a constructor function that creates a new AuthController.
func NewAuthController(creds *services.CredentialStore) *AuthController {
	return &AuthController{
		creds:  creds,
		tokens: make(map[string]models.User),
	}
}

// Register is the Gin handler for POST /api/v1/auth/register.
func (c *AuthController) Register(ctx *gin.Context) {
	var req models.RegisterRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	if err := c.creds.Register(req.Username, req.Email, req.Password, req.ConfirmPassword); err != nil {
		respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"message": "User registered successfully"})
}

// Login is the Gin handler for POST /api/v1/auth/login.
func (c *AuthController) Login(ctx *gin.Context) {
	var req models.LoginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	user, err := c.creds.Authenticate(req.Username, req.Password)
	if err != nil {
		respondError(ctx, err)
		return
	}

	token := uuid.New().String()
	c.mu.Lock()
	c.tokens[token] = *user
	c.mu.Unlock()

	ctx.JSON(http.StatusOK, models.LoginResponse{Token: token, User: *user})
}

// Middleware resolves the bearer token into the authenticated user for all
// protected routes.
func (c *AuthController) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing bearer token"})
			return
		}

		c.mu.Lock()
		user, found := c.tokens[token]
		c.mu.Unlock()
		if !found {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}

		ctx.Set(userContextKey, user)
		ctx.Next()
	}
}

// currentUser returns the user the middleware attached to the request.
func currentUser(ctx *gin.Context) models.User {
	if v, ok := ctx.Get(userContextKey); ok {
		if user, ok := v.(models.User); ok {
			return user
		}
	}
	return models.User{}
}
