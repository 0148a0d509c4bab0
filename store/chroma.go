package store

import (
	"context"
	"encoding/json"
	"fmt"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"

	"github/closedbook/rag/models"
)

// Chroma is an alternative index backend for deployments that run a Chroma
// server. Each user maps to one collection; chunk metadata carries the
// owning document id and content fingerprint so refresh semantics match the
// local backend.
type Chroma struct {
	client     chromago.Client
	collection chromago.Collection
}

// OpenChroma connects to the Chroma server and binds the user's collection,
// creating it on first use.
func OpenChroma(ctx context.Context, baseURL, userID string) (*Chroma, error) {
	client, err := chromago.NewHTTPClient(chromago.WithBaseURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}

	collection, err := client.GetOrCreateCollection(
		ctx,
		"closedbook-"+userID,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("description", "closed-book document index"),
				chromago.NewStringAttribute("owner", userID),
			),
		),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: failed to get or create collection: %v", models.ErrServiceUnavailable, err)
	}

	return &Chroma{client: client, collection: collection}, nil
}

// Fingerprints implements Index.
func (c *Chroma) Fingerprints(ctx context.Context) (map[string]string, error) {
	results, err := c.collection.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents from chroma: %w", err)
	}

	fingerprints := make(map[string]string)
	for _, meta := range results.GetMetadatas() {
		metaMap, err := metadataToMap(meta)
		if err != nil {
			continue
		}
		docID, ok := metaMap["document_id"].(string)
		if !ok {
			continue
		}
		if hash, ok := metaMap["file_hash"].(string); ok {
			if _, exists := fingerprints[docID]; !exists {
				fingerprints[docID] = hash
			}
		}
	}
	return fingerprints, nil
}

// ReplaceDocument implements Index. Chroma offers no transactions; the
// delete-then-add sequence mirrors how the refresh path always worked
// against it.
func (c *Chroma) ReplaceDocument(ctx context.Context, doc models.Document, chunks []models.Chunk) error {
	if err := c.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}
	for _, chunk := range chunks {
		metadata := chromago.NewDocumentMetadata(
			chromago.NewStringAttribute("document_id", doc.ID),
			chromago.NewStringAttribute("file_hash", doc.Hash),
			chromago.NewIntAttribute("position", int64(chunk.Position)),
		)
		err := c.collection.Add(ctx,
			chromago.WithIDs(chromago.DocumentID(chunk.ID)),
			chromago.WithTexts(chunk.Text),
			chromago.WithEmbeddings(embeddings.NewEmbeddingFromFloat32(chunk.Embedding)),
			chromago.WithMetadatas(metadata),
		)
		if err != nil {
			return fmt.Errorf("failed to add chunk %d of %s to chroma: %w", chunk.Position, doc.ID, err)
		}
	}
	return nil
}

// DeleteDocument implements Index.
func (c *Chroma) DeleteDocument(ctx context.Context, docID string) error {
	where := chromago.EqString("document_id", docID)
	if err := c.collection.Delete(ctx, chromago.WithWhereDelete(where)); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", docID, err)
	}
	return nil
}

// Query implements Index using a chroma where-clause with OR semantics
// across the allowed document ids.
func (c *Chroma) Query(ctx context.Context, embedding []float32, allowedIDs []string, topK int) ([]models.RetrievedChunk, error) {
	if len(allowedIDs) == 0 {
		return nil, models.ErrInvalidSelection
	}

	where := chromago.EqString("document_id", allowedIDs[0])
	if len(allowedIDs) > 1 {
		clauses := make([]chromago.WhereClause, 0, len(allowedIDs))
		for _, id := range allowedIDs {
			clauses = append(clauses, chromago.EqString("document_id", id))
		}
		where = chromago.Or(clauses...)
	}

	results, err := c.collection.Query(ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(embedding)),
		chromago.WithNResults(topK),
		chromago.WithWhereQuery(where),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chroma: %w", err)
	}

	var retrieved []models.RetrievedChunk
	idGroups := results.GetIDGroups()
	documentGroups := results.GetDocumentsGroups()
	metadataGroups := results.GetMetadatasGroups()
	distanceGroups := results.GetDistancesGroups()

	if len(documentGroups) == 0 {
		return retrieved, nil
	}
	for i, doc := range documentGroups[0] {
		if doc.ContentString() == "" {
			continue
		}
		chunk := models.Chunk{Text: doc.ContentString()}
		if len(idGroups) > 0 && i < len(idGroups[0]) {
			chunk.ID = string(idGroups[0][i])
		}
		if len(metadataGroups) > 0 && i < len(metadataGroups[0]) {
			if metaMap, err := metadataToMap(metadataGroups[0][i]); err == nil {
				if docID, ok := metaMap["document_id"].(string); ok {
					chunk.DocumentID = docID
				}
				if pos, ok := metaMap["position"].(float64); ok {
					chunk.Position = int(pos)
				}
			}
		}
		score := 0.0
		if len(distanceGroups) > 0 && i < len(distanceGroups[0]) {
			// Chroma reports distance; flip it so higher is better, like
			// the local backend's cosine score.
			score = 1 - float64(distanceGroups[0][i])
		}
		retrieved = append(retrieved, models.RetrievedChunk{Chunk: chunk, Score: score})
	}
	return retrieved, nil
}

// Count implements Index.
func (c *Chroma) Count(ctx context.Context) (int, error) {
	count, err := c.collection.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count items in collection: %w", err)
	}
	return int(count), nil
}

// Close implements Index.
func (c *Chroma) Close() error {
	return c.client.Close()
}

// metadataToMap converts chroma DocumentMetadata to a plain map. The struct
// has no public accessor for all values, so round-trip through JSON.
func metadataToMap(meta chromago.DocumentMetadata) (map[string]interface{}, error) {
	if meta == nil {
		return nil, fmt.Errorf("nil metadata")
	}
	jsonBytes, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	var metaMap map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &metaMap); err != nil {
		return nil, err
	}
	return metaMap, nil
}
