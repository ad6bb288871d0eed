package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/erdosproject/erdos/internal/llm"
)

// embedProvider returns a fixed-dimension embedding per input.
type embedProvider struct {
	embedErr error
	calls    [][]string
}

func (p *embedProvider) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	return nil, errors.New("not implemented")
}

func (p *embedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls = append(p.calls, texts)
	if p.embedErr != nil {
		return nil, p.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i])), 1, 0}
	}
	return out, nil
}

func (p *embedProvider) Name() string { return "embed-fake" }

// memoryRepo is an in-memory Repository that returns its documents in
// insertion order.
type memoryRepo struct {
	docs      []Document
	searchErr error
}

func (r *memoryRepo) Upsert(ctx context.Context, docs []Document) error {
	r.docs = append(r.docs, docs...)
	return nil
}

func (r *memoryRepo) Search(ctx context.Context, vector []float32, topK int) ([]SearchResult, error) {
	if r.searchErr != nil {
		return nil, r.searchErr
	}
	n := topK
	if n > len(r.docs) {
		n = len(r.docs)
	}
	out := make([]SearchResult, n)
	for i := 0; i < n; i++ {
		out[i] = SearchResult{ID: r.docs[i].ID, Content: r.docs[i].Content, Score: 1}
	}
	return out, nil
}

func (r *memoryRepo) Close() error { return nil }

func TestRetriever_Index(t *testing.T) {
	repo := &memoryRepo{}
	r := NewRetriever(&embedProvider{}, repo, 3)

	err := r.Index(context.Background(), []string{"lemma one", "lemma two"}, []map[string]string{
		{"source": "mathlib"},
		nil,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(repo.docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(repo.docs))
	}
	if repo.docs[0].ID == "" || repo.docs[0].ID == repo.docs[1].ID {
		t.Fatal("documents need distinct generated IDs")
	}
	if repo.docs[0].Metadata["source"] != "mathlib" {
		t.Fatal("metadata lost")
	}
	if len(repo.docs[0].Vector) == 0 {
		t.Fatal("vector lost")
	}
}

func TestRetriever_Index_Empty(t *testing.T) {
	p := &embedProvider{}
	r := NewRetriever(p, &memoryRepo{}, 3)

	if err := r.Index(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if len(p.calls) != 0 {
		t.Fatal("no snippets should mean no embedding call")
	}
}

func TestRetriever_RelatedContext(t *testing.T) {
	repo := &memoryRepo{}
	r := NewRetriever(&embedProvider{}, repo, 2)

	if err := r.Index(context.Background(), []string{"a", "b", "c"}, nil); err != nil {
		t.Fatal(err)
	}

	got, err := r.RelatedContext(context.Background(), "theorem t : True := trivial")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected topK=2 snippets, got %d", len(got))
	}
}

func TestRetriever_EmbedFailure(t *testing.T) {
	r := NewRetriever(&embedProvider{embedErr: errors.New("quota exceeded")}, &memoryRepo{}, 2)

	if err := r.Index(context.Background(), []string{"x"}, nil); err == nil {
		t.Fatal("expected an indexing error")
	}
	if _, err := r.RelatedContext(context.Background(), "stmt"); err == nil {
		t.Fatal("expected a retrieval error")
	}
}

func TestRetriever_SearchFailure(t *testing.T) {
	repo := &memoryRepo{searchErr: errors.New("collection missing")}
	r := NewRetriever(&embedProvider{}, repo, 2)

	if _, err := r.RelatedContext(context.Background(), "stmt"); err == nil {
		t.Fatal("expected a search error")
	}
}
