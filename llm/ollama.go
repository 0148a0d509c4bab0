package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github/closedbook/rag/models"
)

// ollamaEmbedRequest is used to structure the request to the Ollama embedding API.
type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ollamaEmbedResponse is used to parse the embedding from the Ollama API response.
type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// ollamaGenerateRequest is the payload for /api/generate.
type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// ollamaGenerateChunk is one NDJSON line of a /api/generate response. With
// Stream=false a single line carries the whole answer.
type ollamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// OllamaClient talks to a local Ollama instance over its native HTTP API.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	embedModel string
}

// NewOllamaClient creates a client for the given Ollama endpoint.
func NewOllamaClient(httpClient *http.Client, baseURL, model, embedModel string) *OllamaClient {
	return &OllamaClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		model:      model,
		embedModel: embedModel,
	}
}

// Embed generates an embedding vector using Ollama.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(ollamaEmbedRequest{
		Model:  c.embedModel,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: ollama embeddings returned status %d, body: %s", models.ErrServiceUnavailable, resp.StatusCode, string(bodyBytes))
	}

	var ollamaResp ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode ollama response: %w", err)
	}
	return ollamaResp.Embedding, nil
}

// Complete generates the full answer in one call.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.generate(ctx, prompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var chunk ollamaGenerateChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return "", fmt.Errorf("%w: decoding ollama response: %v", models.ErrGenerationFailed, err)
	}
	return chunk.Response, nil
}

// CompleteStream generates the answer as an NDJSON token stream.
func (c *OllamaClient) CompleteStream(ctx context.Context, prompt string) (<-chan string, <-chan error) {
	fragments := make(chan string)
	errs := make(chan error, 1)

	resp, err := c.generate(ctx, prompt, true)
	if err != nil {
		close(fragments)
		errs <- err
		close(errs)
		return fragments, errs
	}

	go func() {
		defer close(fragments)
		defer close(errs)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var chunk ollamaGenerateChunk
			if err := json.Unmarshal(line, &chunk); err != nil {
				errs <- fmt.Errorf("%w: decoding ollama stream: %v", models.ErrGenerationFailed, err)
				return
			}
			if chunk.Response != "" {
				select {
				case fragments <- chunk.Response:
				case <-ctx.Done():
					errs <- fmt.Errorf("%w: %v", models.ErrGenerationFailed, ctx.Err())
					return
				}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errs <- fmt.Errorf("%w: reading ollama stream: %v", models.ErrGenerationFailed, err)
		}
	}()

	return fragments, errs
}

func (c *OllamaClient) generate(ctx context.Context, prompt string, stream bool) (*http.Response, error) {
	reqBody, err := json.Marshal(ollamaGenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("%w: ollama generate returned status %d, body: %s", models.ErrGenerationFailed, resp.StatusCode, string(bodyBytes))
	}
	return resp, nil
}
