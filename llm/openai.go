package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github/closedbook/rag/models"
)

// OpenAIClient targets any OpenAI-compatible endpoint (including Ollama's
// compatibility layer when pointed at it).
type OpenAIClient struct {
	client     *openai.Client
	model      string
	embedModel openai.EmbeddingModel
}

// NewOpenAIClient creates an OpenAI-backed client.
func NewOpenAIClient(apiKey, baseURL, model, embedModel string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai backend selected but OPENAI_API_KEY is not set")
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return &OpenAIClient{
		client:     openai.NewClientWithConfig(clientConfig),
		model:      model,
		embedModel: openai.EmbeddingModel(embedModel),
	}, nil
}

// Embed returns the embedding vector for the given text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: c.embedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai embeddings: %v", models.ErrServiceUnavailable, err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("%w: openai returned no embedding", models.ErrServiceUnavailable)
	}
	return resp.Data[0].Embedding, nil
}

// Complete generates the full answer in one call.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%w: openai completion: %v", models.ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: openai returned no choices", models.ErrGenerationFailed)
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteStream generates the answer incrementally.
func (c *OpenAIClient) CompleteStream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	fragments := make(chan string)
	errs := make(chan error, 1)

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Stream: true,
	})
	if err != nil {
		close(fragments)
		errs <- fmt.Errorf("%w: openai stream: %v", models.ErrServiceUnavailable, err)
		close(errs)
		return fragments, errs
	}

	go func() {
		defer close(fragments)
		defer close(errs)
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				errs <- fmt.Errorf("%w: openai stream: %v", models.ErrGenerationFailed, err)
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case fragments <- delta:
			case <-ctx.Done():
				errs <- fmt.Errorf("%w: %v", models.ErrGenerationFailed, ctx.Err())
				return
			}
		}
	}()

	return fragments, errs
}
