package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/erdosproject/erdos/internal/observability"
)

func TestWithObservability_NilProvider(t *testing.T) {
	if got := WithObservability(nil, "m"); got != nil {
		t.Fatalf("nil provider must stay nil, got %v", got)
	}
}

func TestObservedProvider_PassesThroughAndCounts(t *testing.T) {
	inner := &scriptedCompleter{resp: &Response{Content: "by ring", InputTokens: 10, OutputTokens: 5}}
	p := WithObservability(inner, "claude-sonnet-4")

	before := observability.Metrics().LLMRequestsTotal.Value()
	resp, err := p.Complete(context.Background(), &Prompt{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "by ring" {
		t.Fatalf("response altered: %q", resp.Content)
	}
	if p.Name() != inner.Name() {
		t.Fatalf("name must delegate, got %q", p.Name())
	}
	if delta := observability.Metrics().LLMRequestsTotal.Value() - before; delta != 1 {
		t.Fatalf("request counter delta = %v, want 1", delta)
	}
}

func TestObservedProvider_CountsErrors(t *testing.T) {
	inner := &scriptedCompleter{err: errors.New("HTTP 503: overloaded")}
	p := WithObservability(inner, "m")

	before := observability.Metrics().LLMErrorsTotal.Value()
	if _, err := p.Complete(context.Background(), &Prompt{}, nil); err == nil {
		t.Fatal("expected error to pass through")
	}
	if delta := observability.Metrics().LLMErrorsTotal.Value() - before; delta != 1 {
		t.Fatalf("error counter delta = %v, want 1", delta)
	}
}

type scriptedCompleter struct {
	resp *Response
	err  error
}

func (s *scriptedCompleter) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	return s.resp, s.err
}

func (s *scriptedCompleter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("no embeddings")
}

func (s *scriptedCompleter) Name() string { return "scripted" }
