// Package verifier adapts the formal proof checker. A verifier decides
// whether a candidate proof is accepted by the checker, distinguishing a
// checked rejection (Fail) from inability to run the checker at all (Error).
package verifier

import (
	"context"
	"strings"
	"time"
)

// Outcome classifies a verification run.
type Outcome string

const (
	// OutcomePass: the checker ran and accepted the proof.
	OutcomePass Outcome = "pass"
	// OutcomeFail: the checker ran and rejected the proof.
	OutcomeFail Outcome = "fail"
	// OutcomeError: the checker could not be run (timeout, missing
	// toolchain, crash). Never conflated with Fail; a session still spends
	// an iteration on it, but operators need to tell the two apart.
	OutcomeError Outcome = "error"
)

// Result is the structured outcome of one verification.
type Result struct {
	Outcome  Outcome       `json:"outcome"`
	Output   string        `json:"output,omitempty"`
	Errors   []string      `json:"errors,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration_ms,omitempty"`
}

// Passed reports whether the proof was accepted.
func (r *Result) Passed() bool { return r.Outcome == OutcomePass }

// Diagnostic returns the failure text fed back to the generator.
func (r *Result) Diagnostic() string {
	if len(r.Errors) > 0 {
		return strings.Join(r.Errors, "\n")
	}
	return r.Output
}

// Verifier is the formal checker boundary. Implementations must report
// infrastructure problems as OutcomeError in the Result, not as a Go error;
// the error return is reserved for programmer mistakes (nil receiver,
// impossible state).
type Verifier interface {
	Verify(ctx context.Context, proofText string) (*Result, error)
	Name() string
}
