// Package llm is the boundary to the external embedding/inference service.
// Exactly one backend is active per process, selected by configuration.
package llm

import (
	"context"
	"fmt"
	"net/http"

	"github/closedbook/rag/config"
)

// Client provides text embeddings and prompt completion. Completion is
// available either as a single finished string or as a lazy, finite,
// non-restartable sequence of text fragments.
type Client interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Complete returns the full generated answer for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteStream generates the answer incrementally. The fragment
	// channel is closed once generation finishes; the error channel carries
	// at most one terminal error. Neither channel is restartable.
	CompleteStream(ctx context.Context, prompt string) (<-chan string, <-chan error)
}

// New constructs the client selected by the configuration.
func New(cfg *config.Config) (Client, error) {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	switch cfg.LLMBackend {
	case config.BackendOllama:
		return NewOllamaClient(httpClient, cfg.OllamaURL, cfg.OllamaModel, cfg.OllamaEmbedModel), nil
	case config.BackendGemini:
		return NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.GeminiEmbedModel)
	case config.BackendOpenAI:
		return NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenAIEmbedModel)
	default:
		return nil, fmt.Errorf("unknown llm backend: %s", cfg.LLMBackend)
	}
}
