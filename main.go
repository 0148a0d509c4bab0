package main

import (
	"context"
	"log"

	"github/closedbook/rag/config"
	"github/closedbook/rag/controller"
	"github/closedbook/rag/llm"
	"github/closedbook/rag/services"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Invalid configuration: %v", err)
	}

	creds, err := services.LoadCredentialStore(cfg.UsersFile)
	if err != nil {
		log.Fatalf("FATAL: Failed to load credential store: %v", err)
	}

	docs, err := services.NewDocStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("FATAL: Failed to prepare document storage: %v", err)
	}

	llmClient, err := llm.New(cfg)
	if err != nil {
		log.Fatalf("FATAL: Failed to create LLM client: %v", err)
	}
	log.Printf("Using %s backend for inference and embeddings.", cfg.LLMBackend)

	// Use the proper constructor functions
	syncService := services.NewSyncService(cfg, docs, llmClient)
	queryService := services.NewQueryService(llmClient, cfg.ChatTopK, cfg.TaskTopK)
	chatStore := services.NewChatStore(cfg.StorageDir)
	orchestrator := services.NewOrchestrator(syncService, queryService, chatStore)

	authController := controller.NewAuthController(creds)
	fileController := controller.NewFileController(docs, syncService)
	chatController := controller.NewChatController(orchestrator, chatStore)

	// Watch the data directory so out-of-band file changes invalidate the
	// per-user sync memo.
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go syncService.Watch(watchCtx)

	// Setup Gin router
	router := gin.Default()

	// Add CORS middleware for testing
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Add health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "Closed-Book API",
			"version": "1.0.0",
		})
	})

	// API routes
	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/auth/register", authController.Register) // Endpoint to create an account
		apiV1.POST("/auth/login", authController.Login)       // Endpoint to obtain a bearer token

		authed := apiV1.Group("/", authController.Middleware())
		{
			authed.POST("/files", fileController.Upload)          // Endpoint to upload documents
			authed.GET("/files", fileController.List)             // Endpoint to list documents
			authed.DELETE("/files/:name", fileController.Delete)  // Endpoint to delete a document
			authed.POST("/index/rebuild", fileController.Rebuild) // Endpoint to rebuild the index from scratch

			authed.POST("/sessions", chatController.CreateSession)       // Endpoint to start a conversation
			authed.GET("/sessions", chatController.ListSessions)         // Endpoint to list saved conversations
			authed.GET("/sessions/:id", chatController.GetSession)       // Endpoint to resume a conversation
			authed.DELETE("/sessions/:id", chatController.DeleteSession) // Endpoint to delete a conversation

			authed.POST("/query", chatController.Query) // Endpoint to ask a question or run a task
		}
	}

	// Start the Server
	log.Printf("Closed-Book server starting on http://localhost:%s", cfg.Port)
	log.Printf("Health check available at: http://localhost:%s/health", cfg.Port)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("FATAL: Failed to start server: %v", err)
	}
}
