package llm

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds outbound provider traffic. A batch run drives one
// provider from several workers at once; these limits keep it under
// account-level throttling instead of discovering it via 429s.
type RateLimitConfig struct {
	// RequestsPerMinute limits call frequency; 0 means unlimited.
	RequestsPerMinute int
	// TokensPerMinute limits reported token usage per minute; 0 means
	// unlimited.
	TokensPerMinute int
	// Burst is the number of requests allowed to go out back-to-back.
	Burst int
}

// DefaultRateLimitConfig stays inside the free tiers of the hosted
// providers (Groq is the tightest at 6K-30K tokens per minute).
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerMinute: 25,
		TokensPerMinute:   25000,
		Burst:             3,
	}
}

// RateLimitProvider admits calls through a request limiter and a per-minute
// token budget before delegating. Safe for concurrent use.
type RateLimitProvider struct {
	inner    Provider
	requests *rate.Limiter // nil when request rate is unlimited

	mu          sync.Mutex
	perMinute   int // 0 means the token budget is unlimited
	budget      int // tokens left in the current window; may go negative
	windowStart time.Time
}

// NewRateLimitProvider wraps a provider. A nil config means defaults.
func NewRateLimitProvider(inner Provider, cfg *RateLimitConfig) *RateLimitProvider {
	if cfg == nil {
		cfg = DefaultRateLimitConfig()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute)/60, burst)
	}

	return &RateLimitProvider{
		inner:       inner,
		requests:    limiter,
		perMinute:   cfg.TokensPerMinute,
		budget:      cfg.TokensPerMinute,
		windowStart: time.Now(),
	}
}

func (r *RateLimitProvider) Name() string { return r.inner.Name() }

func (r *RateLimitProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	if err := r.admit(ctx); err != nil {
		return nil, err
	}
	resp, err := r.inner.Complete(ctx, prompt, opts)
	if err == nil && resp != nil {
		r.spend(resp.InputTokens + resp.OutputTokens)
	}
	return resp, err
}

func (r *RateLimitProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.admit(ctx); err != nil {
		return nil, err
	}
	return r.inner.Embed(ctx, texts)
}

// admit blocks until both the request limiter and the token budget allow
// another call, or the context ends.
func (r *RateLimitProvider) admit(ctx context.Context) error {
	if r.requests != nil {
		if err := r.requests.Wait(ctx); err != nil {
			return err
		}
	}

	for {
		r.mu.Lock()
		if r.perMinute > 0 && time.Since(r.windowStart) >= time.Minute {
			r.windowStart = time.Now()
			r.budget = r.perMinute
		}
		if r.perMinute == 0 || r.budget > 0 {
			r.mu.Unlock()
			return nil
		}
		wait := time.Minute - time.Since(r.windowStart)
		r.mu.Unlock()

		if wait <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// spend deducts usage the provider actually reported. One oversized
// response can push the budget negative; the next admit then waits out the
// window.
func (r *RateLimitProvider) spend(tokens int) {
	r.mu.Lock()
	r.budget -= tokens
	r.mu.Unlock()
}

// WithRateLimit wraps a provider with rate limiting. Nil in, nil out, so
// callers can chain it unconditionally.
func WithRateLimit(p Provider, cfg *RateLimitConfig) Provider {
	if p == nil {
		return nil
	}
	return NewRateLimitProvider(p, cfg)
}
