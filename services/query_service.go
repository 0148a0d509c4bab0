package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github/closedbook/rag/llm"
	"github/closedbook/rag/models"
	"github/closedbook/rag/store"
)

// QueryService executes retrieval-scoped queries: every retrieved chunk is
// guaranteed to come from the allowed document set, even when a closer
// match exists elsewhere in the index.
type QueryService struct {
	client   llm.Client
	chatTopK int
	taskTopK int
}

// NewQueryService creates a query service with the configured retrieval
// breadths.
func NewQueryService(client llm.Client, chatTopK, taskTopK int) *QueryService {
	return &QueryService{
		client:   client,
		chatTopK: chatTopK,
		taskTopK: taskTopK,
	}
}

// ChatTopK is the retrieval breadth for free-form chat queries.
func (q *QueryService) ChatTopK() int { return q.chatTopK }

// TaskTopK is the wider retrieval breadth for canned synthesis tasks.
func (q *QueryService) TaskTopK() int { return q.taskTopK }

// Answer runs the full pipeline and returns the complete answer text along
// with the chunks that grounded it.
func (q *QueryService) Answer(ctx context.Context, idx store.Index, question string, allowedIDs []string, topK int) (string, []models.RetrievedChunk, error) {
	retrieved, prompt, err := q.retrieve(ctx, idx, question, allowedIDs, topK)
	if err != nil {
		return "", nil, err
	}

	answer, err := q.client.Complete(ctx, prompt)
	if err != nil {
		return "", nil, generationError(err)
	}
	return answer, retrieved, nil
}

// AnswerStream runs retrieval eagerly, then returns the lazily generated
// fragment sequence. The fragment channel closes when generation finishes;
// the error channel carries at most one terminal error.
func (q *QueryService) AnswerStream(ctx context.Context, idx store.Index, question string, allowedIDs []string, topK int) (<-chan string, <-chan error, []models.RetrievedChunk, error) {
	retrieved, prompt, err := q.retrieve(ctx, idx, question, allowedIDs, topK)
	if err != nil {
		return nil, nil, nil, err
	}

	fragments, errs := q.client.CompleteStream(ctx, prompt)
	return fragments, errs, retrieved, nil
}

// retrieve validates the selection, embeds the question and performs the
// scoped similarity search, returning the assembled prompt. The selection
// check runs before any client call so an empty selection never reaches the
// inference service.
func (q *QueryService) retrieve(ctx context.Context, idx store.Index, question string, allowedIDs []string, topK int) ([]models.RetrievedChunk, string, error) {
	if len(allowedIDs) == 0 {
		return nil, "", models.ErrInvalidSelection
	}
	if idx == nil {
		return nil, "", fmt.Errorf("%w: no index available for the selection", models.ErrInvalidSelection)
	}

	embedding, err := q.client.Embed(ctx, question)
	if err != nil {
		return nil, "", err
	}

	retrieved, err := idx.Query(ctx, embedding, allowedIDs, topK)
	if err != nil {
		return nil, "", fmt.Errorf("retrieval failed: %w", err)
	}
	log.Printf("SERVICE: Retrieved %d chunks for query (top_k=%d, %d allowed docs)", len(retrieved), topK, len(allowedIDs))

	return retrieved, buildAnswerPrompt(question, retrieved), nil
}

// generationError keeps ErrServiceUnavailable recognisable and folds
// everything else into the generation failure condition.
func generationError(err error) error {
	if errors.Is(err, models.ErrServiceUnavailable) || errors.Is(err, models.ErrGenerationFailed) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrGenerationFailed, err)
}
