package batch

import (
	"sort"
	"time"

	"github.com/erdosproject/erdos/internal/session"
)

// ProblemResult is the terminal outcome of one problem's session.
type ProblemResult struct {
	ProblemID string         `json:"problem_id"`
	SessionID string         `json:"session_id"`
	Status    session.Status `json:"status"`
	Attempts  int            `json:"attempts"`
	Duration  time.Duration  `json:"duration"`
	// Proof is the accepted proof text, empty unless Status is succeeded.
	Proof       string `json:"proof,omitempty"`
	FatalReason string `json:"fatal_reason,omitempty"`

	// Session carries the full attempt history for post-mortem inspection.
	Session *session.Session `json:"-"`
}

// Result aggregates per-problem outcomes, keyed by problem ID. Read-only
// once the run completes.
type Result struct {
	Results    map[string]*ProblemResult `json:"results"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
}

// Duration of the whole batch run.
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Counts tallies outcomes by terminal status.
func (r *Result) Counts() (succeeded, exhausted, fatal int) {
	for _, pr := range r.Results {
		switch pr.Status {
		case session.StatusSucceeded:
			succeeded++
		case session.StatusExhausted:
			exhausted++
		default:
			fatal++
		}
	}
	return
}

// Sorted returns the per-problem results ordered by problem ID, for stable
// reports regardless of completion order.
func (r *Result) Sorted() []*ProblemResult {
	out := make([]*ProblemResult, 0, len(r.Results))
	for _, pr := range r.Results {
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProblemID < out[j].ProblemID })
	return out
}

// Merge combines two results into a new one, keyed by problem ID. It is
// commutative and associative, so partitioned runs can be combined in any
// order. On a key collision the result with more attempts wins; a full tie
// is broken by session ID so the outcome does not depend on argument order.
func Merge(a, b *Result) *Result {
	if a == nil {
		a = &Result{}
	}
	if b == nil {
		b = &Result{}
	}

	out := &Result{Results: make(map[string]*ProblemResult, len(a.Results)+len(b.Results))}
	for id, pr := range a.Results {
		out.Results[id] = pr
	}
	for id, pr := range b.Results {
		prev, ok := out.Results[id]
		if !ok || preferred(pr, prev) {
			out.Results[id] = pr
		}
	}

	out.StartedAt = earlier(a.StartedAt, b.StartedAt)
	out.FinishedAt = later(a.FinishedAt, b.FinishedAt)
	return out
}

// preferred reports whether x should replace y for the same problem ID.
func preferred(x, y *ProblemResult) bool {
	if x.Attempts != y.Attempts {
		return x.Attempts > y.Attempts
	}
	return x.SessionID < y.SessionID
}

func earlier(a, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}

func later(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
