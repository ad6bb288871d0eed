package llm

import (
	"context"
	"time"

	"github.com/erdosproject/erdos/internal/observability"
)

// observedProvider wraps a Provider so every completion is traced and
// counted in the pipeline metrics.
type observedProvider struct {
	inner Provider
	model string
}

// WithObservability instruments a provider. Nil in, nil out, so callers can
// chain it unconditionally.
func WithObservability(p Provider, model string) Provider {
	if p == nil {
		return nil
	}
	return &observedProvider{inner: p, model: model}
}

func (o *observedProvider) Name() string { return o.inner.Name() }

func (o *observedProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	ctx, span := observability.StartLLMSpan(ctx, o.inner.Name(), o.model)
	defer span.End()

	started := time.Now()
	resp, err := o.inner.Complete(ctx, prompt, opts)
	elapsed := time.Since(started)

	tokens := 0
	if resp != nil {
		tokens = resp.InputTokens + resp.OutputTokens
		observability.RecordLLMMetrics(span, resp.InputTokens, resp.OutputTokens, elapsed)
	}
	observability.Metrics().RecordLLMRequest(elapsed, tokens, err)
	if err != nil {
		observability.RecordError(span, err)
	}
	return resp, err
}

func (o *observedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	started := time.Now()
	vecs, err := o.inner.Embed(ctx, texts)
	observability.Metrics().RecordLLMRequest(time.Since(started), 0, err)
	return vecs, err
}
