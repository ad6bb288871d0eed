// Package generator adapts external proof-generation services. A generator
// receives a problem statement plus accumulated feedback and returns a
// candidate Lean proof.
package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/erdosproject/erdos/internal/problem"
)

// Request carries everything a generation service needs for one attempt.
type Request struct {
	Problem *problem.Problem
	// Feedback is derived from prior failed attempts (verifier diagnostics,
	// judge reasons). Empty on the first attempt.
	Feedback string
	// MaxTokens bounds the generation budget where the backend supports it.
	MaxTokens int
}

// Result is a successfully generated candidate proof.
type Result struct {
	ProofText string
	Model     string
}

// Generator is the proof-generation service boundary.
type Generator interface {
	// Generate produces a candidate proof. Adapter-fatal conditions (bad
	// credentials, malformed problem) are returned as errors wrapping
	// *FatalError; the session maps those to a terminal FatalError status.
	Generate(ctx context.Context, req *Request) (*Result, error)
	// Name returns the backend identifier.
	Name() string
}

// FatalError marks conditions that no retry within the same session can
// recover from. Distinct from transient service failures, which are plain
// errors.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("generator fatal: %s: %v", e.Reason, e.Err)
	}
	return "generator fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a *FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// Fatalf builds a FatalError from a format string.
func Fatalf(format string, args ...any) error {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}
