package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/erdosproject/erdos/internal/llm"
)

// Retriever indexes lemma snippets and retrieves the ones most similar to a
// problem statement, so prompts can carry relevant prior art.
type Retriever struct {
	provider llm.Provider
	repo     Repository
	topK     int
}

// NewRetriever creates a Retriever. topK <= 0 defaults to 5.
func NewRetriever(provider llm.Provider, repo Repository, topK int) *Retriever {
	if topK <= 0 {
		topK = 5
	}
	return &Retriever{provider: provider, repo: repo, topK: topK}
}

// Index embeds the given snippets and upserts them into the vector store.
func (r *Retriever) Index(ctx context.Context, snippets []string, metadata []map[string]string) error {
	if len(snippets) == 0 {
		return nil
	}

	vectors, err := r.provider.Embed(ctx, snippets)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(snippets) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(snippets))
	}

	docs := make([]Document, len(snippets))
	for i := range snippets {
		meta := map[string]string{}
		if i < len(metadata) && metadata[i] != nil {
			meta = metadata[i]
		}
		docs[i] = Document{
			ID:       uuid.NewString(),
			Content:  snippets[i],
			Vector:   vectors[i],
			Metadata: meta,
		}
	}
	return r.repo.Upsert(ctx, docs)
}

// RelatedContext embeds the problem statement and returns the contents of
// the closest indexed snippets, most similar first.
func (r *Retriever) RelatedContext(ctx context.Context, statement string) ([]string, error) {
	vectors, err := r.provider.Embed(ctx, []string{statement})
	if err != nil {
		return nil, fmt.Errorf("embed statement: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want 1", len(vectors))
	}

	matches, err := r.repo.Search(ctx, vectors[0], r.topK)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Content != "" {
			out = append(out, m.Content)
		}
	}
	return out, nil
}
