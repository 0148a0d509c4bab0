package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github/closedbook/rag/models"
)

// GeminiClient runs embeddings and generation against the Gemini API.
type GeminiClient struct {
	client     *genai.Client
	model      string
	embedModel string
}

// NewGeminiClient creates a Gemini-backed client. Requires GEMINI_API_KEY.
func NewGeminiClient(apiKey, model, embedModel string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini backend selected but GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model, embedModel: embedModel}, nil
}

// Embed returns the embedding vector for the given text.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := c.client.Models.EmbedContent(ctx, c.embedModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: gemini embed: %v", models.ErrServiceUnavailable, err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: gemini returned no embedding", models.ErrServiceUnavailable)
	}
	return result.Embeddings[0].Values, nil
}

// Complete generates the full answer in one call.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("%w: gemini api call failed: %v", models.ErrGenerationFailed, err)
	}
	return result.Text(), nil
}

// CompleteStream generates the answer incrementally.
func (c *GeminiClient) CompleteStream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	fragments := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(fragments)
		defer close(errs)

		for result, err := range c.client.Models.GenerateContentStream(ctx, c.model, genai.Text(prompt), nil) {
			if err != nil {
				errs <- fmt.Errorf("%w: gemini stream: %v", models.ErrGenerationFailed, err)
				return
			}
			text := result.Text()
			if text == "" {
				continue
			}
			select {
			case fragments <- text:
			case <-ctx.Done():
				errs <- fmt.Errorf("%w: %v", models.ErrGenerationFailed, ctx.Err())
				return
			}
		}
	}()

	return fragments, errs
}
