// Package judge adapts the semantic proof judge. Judging exists to catch
// proofs that type-check but do not substantively address the stated
// problem: degenerate instantiations, vacuous bounds, restatements weakened
// until trivial, or placeholder constructs the checker accepts.
package judge

import "context"

// Outcome classifies a judge verdict.
type Outcome string

const (
	OutcomeAccept Outcome = "accept"
	OutcomeReject Outcome = "reject"
)

// Verdict is the judge's decision on a verifier-accepted proof.
type Verdict struct {
	Outcome Outcome `json:"outcome"`
	// Reason is the rejection feedback fed to the next generation attempt.
	// Empty on Accept.
	Reason string `json:"reason,omitempty"`
	// Summary is the judge's one-paragraph reading of what the proof does.
	Summary string `json:"summary,omitempty"`
	// Issues lists specific defects found.
	Issues []string `json:"issues,omitempty"`
	// Confidence in [0,1]; informational only.
	Confidence float64 `json:"confidence,omitempty"`
}

// Accepted reports whether the proof was judged legitimate.
func (v *Verdict) Accepted() bool { return v.Outcome == OutcomeAccept }

// Judge is the semantic judgment boundary. Review must only be called on
// proofs that already passed formal verification. Implementations never
// return an error: adapter failure resolves to a Reject verdict with a
// "judge unavailable" reason, because a broken judge must not wave proofs
// through.
type Judge interface {
	Review(ctx context.Context, problemStatement, proofText string) *Verdict
	Name() string
}

// Feedback is the outcome of analyzing a failed attempt, used to steer the
// next one.
type Feedback struct {
	Analysis    string
	Suggestions string
	// RevisedHint replaces the problem hint for the next attempt when
	// non-empty.
	RevisedHint string
	ShouldRetry bool
}

// Analyzer turns a failed attempt into actionable generation feedback.
// Optional: sessions work without one, falling back to raw diagnostics.
type Analyzer interface {
	AnalyzeFailure(ctx context.Context, req *FailureContext) (*Feedback, error)
}

// FailureContext describes one failed attempt for analysis.
type FailureContext struct {
	ProblemStatement string
	Hint             string
	ProofText        string
	ErrorOutput      string
	AttemptNumber    int
}

type disabledJudge struct{}

func (disabledJudge) Review(ctx context.Context, problemStatement, proofText string) *Verdict {
	return &Verdict{Outcome: OutcomeAccept, Summary: "judging disabled"}
}

func (disabledJudge) Name() string { return "disabled" }

// Disabled returns a Judge that accepts every verified proof. Used when no
// LLM provider is configured and formal verification alone decides. Not to
// be confused with Unavailable: a judge that is configured but broken
// still rejects.
func Disabled() Judge { return disabledJudge{} }

// Unavailable builds the conservative verdict used when the judge cannot
// be reached.
func Unavailable(detail string) *Verdict {
	reason := "judge unavailable"
	if detail != "" {
		reason += ": " + detail
	}
	return &Verdict{Outcome: OutcomeReject, Reason: reason}
}
