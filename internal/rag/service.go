package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/craftlab-ai/appforge/internal/common"
	"github.com/craftlab-ai/appforge/internal/llm"
	"github.com/craftlab-ai/appforge/internal/vector"
)

// DefaultResults is the neighbor count used when a caller does not ask for a
// specific number.
const DefaultResults = 5

// Result is one retrieved chunk with its provenance.
type Result struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Score    float32                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Service embeds documents on the way in and queries on the way out,
// pairing an embedding backend with a vector store. All operations scope to
// one project via the project_id metadata key.
type Service struct {
	embedder llm.Embedder
	store    vector.Store
}

func NewService(embedder llm.Embedder, store vector.Store) *Service {
	return &Service{embedder: embedder, store: store}
}

// AddDocuments embeds each document and upserts it under the given id. The
// metadatas are stored verbatim; callers are expected to have stamped
// project_id already.
func (s *Service) AddDocuments(ctx context.Context, documents []string, metadatas []map[string]interface{}, ids []string) error {
	if len(documents) == 0 {
		return nil
	}
	if len(ids) != len(documents) {
		return fmt.Errorf("add documents: %d documents but %d ids", len(documents), len(ids))
	}
	vectors, err := s.embedder.Embed(ctx, documents)
	if err != nil {
		return fmt.Errorf("embed documents: %w", err)
	}
	if err := s.store.Upsert(ctx, ids, documents, metadatas, vectors); err != nil {
		return fmt.Errorf("upsert documents: %w", err)
	}
	common.Logger().Debug("rag: documents indexed", "count", len(documents), "embedder", s.embedder.EmbedderName())
	return nil
}

// Query embeds the question and returns the nearest chunks belonging to the
// project, best first.
func (s *Service) Query(ctx context.Context, projectID, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultResults
	}
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	where := map[string]interface{}{"project_id": projectID}
	hits, err := s.store.Query(ctx, vectors[0], limit, where)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		results = append(results, Result{
			ID:       hit.ID,
			Text:     hit.Document,
			Score:    hit.Score,
			Metadata: hit.Metadata,
		})
	}
	return results, nil
}

// ContextForQuery renders retrieved chunks as a text block ready for prompt
// injection. An empty string means no grounding material exists for the
// project and callers should omit the document section entirely.
func (s *Service) ContextForQuery(ctx context.Context, projectID, query string, limit int) (string, error) {
	results, err := s.Query(ctx, projectID, query, limit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}
	sections := make([]string, 0, len(results))
	for _, result := range results {
		source := "unknown"
		if result.Metadata != nil {
			if s, ok := result.Metadata["source"].(string); ok && s != "" {
				source = s
			}
		}
		sections = append(sections, fmt.Sprintf("[Source: %s]\n%s\n", source, result.Text))
	}
	return strings.Join(sections, "\n---\n"), nil
}

// DeleteProject removes every chunk stamped with the project id. Chunks from
// other projects are untouched.
func (s *Service) DeleteProject(ctx context.Context, projectID string) error {
	if strings.TrimSpace(projectID) == "" {
		return fmt.Errorf("delete project: empty project id")
	}
	if err := s.store.Delete(ctx, map[string]interface{}{"project_id": projectID}); err != nil {
		return fmt.Errorf("delete project chunks: %w", err)
	}
	common.Logger().Info("rag: project chunks deleted", "project", projectID)
	return nil
}

// Available reports whether the underlying vector store is reachable.
func (s *Service) Available() bool {
	return s.store != nil && s.store.Available()
}
