package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// RetryConfig bounds the retry loop around one logical provider call. Proof
// generation and judging requests run for minutes against APIs that shed
// load freely, so transient failure is the normal case, not the exception.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt; 0 means
	// a single attempt.
	MaxRetries int
	// RetryDelay is the delay before the first retry; it doubles per retry.
	RetryDelay time.Duration
	// MaxDelay caps the backoff growth.
	MaxDelay time.Duration
	// Timeout is the wall-clock bound on each individual attempt.
	Timeout time.Duration
}

// DefaultRetryConfig suits long-form completion calls.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 6,
		RetryDelay: time.Second,
		MaxDelay:   time.Minute,
		Timeout:    3 * time.Minute,
	}
}

// RetryProvider retries transient provider failures with exponential
// backoff, and gives up immediately on anything that looks permanent.
type RetryProvider struct {
	inner Provider
	cfg   *RetryConfig
}

// NewRetryProvider wraps a provider. A nil config means defaults.
func NewRetryProvider(inner Provider, cfg *RetryConfig) *RetryProvider {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryProvider{inner: inner, cfg: cfg}
}

func (r *RetryProvider) Name() string { return r.inner.Name() }

func (r *RetryProvider) Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error) {
	var resp *Response
	err := r.do(ctx, func(attemptCtx context.Context) error {
		var err error
		resp, err = r.inner.Complete(attemptCtx, prompt, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (r *RetryProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32
	err := r.do(ctx, func(attemptCtx context.Context) error {
		var err error
		vecs, err = r.inner.Embed(attemptCtx, texts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

// do runs call until it succeeds, fails permanently, or the retry budget is
// spent. Each attempt gets its own timeout; the backoff sleep respects the
// caller's context.
func (r *RetryProvider) do(ctx context.Context, call func(context.Context) error) error {
	delay := r.cfg.RetryDelay
	for attempt := 0; ; attempt++ {
		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if r.cfg.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		}
		err := call(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retryable(err) {
			return fmt.Errorf("permanent provider failure: %w", err)
		}
		if attempt >= r.cfg.MaxRetries {
			return fmt.Errorf("still failing after %d retries: %w", r.cfg.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > r.cfg.MaxDelay && r.cfg.MaxDelay > 0 {
			delay = r.cfg.MaxDelay
		}
	}
}

// httpStatusRe matches the "HTTP <code>" convention the provider clients
// use in their error strings.
var httpStatusRe = regexp.MustCompile(`HTTP (\d{3})`)

// retryable classifies a provider error. Anything rate-related or
// server-side is worth waiting out; anything that points at the request or
// the credentials will fail identically next time.
func retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	// A per-attempt timeout, unlike a cancel, may clear on retry.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	msg := err.Error()
	if m := httpStatusRe.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		switch {
		case code == http.StatusTooManyRequests:
			// A daily token quota will not clear within a proof run.
			return !strings.Contains(msg, "tokens per day") && !strings.Contains(msg, "TPD")
		case code == http.StatusRequestTimeout:
			return true
		case code >= 500:
			// Includes Anthropic's 529 "overloaded".
			return true
		case code >= 400:
			return false
		}
	}
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "unexpected EOF") {
		return true
	}
	// Unknown failure: retrying a long proof run beats aborting it.
	return true
}

// WrapWithRetry derives retry behavior from a provider config, falling back
// to the defaults for anything unset.
func WrapWithRetry(provider Provider, cfg ProviderConfig) Provider {
	if provider == nil {
		return nil
	}
	rc := DefaultRetryConfig()
	if cfg.Timeout > 0 {
		rc.Timeout = cfg.Timeout
	}
	if cfg.MaxRetries > 0 {
		rc.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		rc.RetryDelay = cfg.RetryDelay
	}
	return NewRetryProvider(provider, rc)
}
