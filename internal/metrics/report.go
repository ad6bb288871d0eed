// Package metrics builds the end-of-run batch report, in both a
// human-readable summary and JSON for downstream tooling.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/erdosproject/erdos/internal/batch"
	"github.com/erdosproject/erdos/internal/session"
)

// BatchReport summarizes one batch run.
type BatchReport struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Duration   time.Duration   `json:"duration_ms"`
	Problems   int             `json:"problems"`
	Succeeded  int             `json:"succeeded"`
	Exhausted  int             `json:"exhausted"`
	Fatal      int             `json:"fatal"`
	Results    []ProblemReport `json:"results"`
}

// ProblemReport is one problem's line in the report.
type ProblemReport struct {
	ProblemID   string         `json:"problem_id"`
	Status      session.Status `json:"status"`
	Attempts    int            `json:"attempts"`
	Duration    time.Duration  `json:"duration_ms"`
	FatalReason string         `json:"fatal_reason,omitempty"`
}

// NewBatchReport builds a report from a completed batch result. Per-problem
// lines are ordered by problem ID so reports are stable across runs.
func NewBatchReport(res *batch.Result) *BatchReport {
	succeeded, exhausted, fatal := res.Counts()

	r := &BatchReport{
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		Duration:   res.Duration(),
		Problems:   len(res.Results),
		Succeeded:  succeeded,
		Exhausted:  exhausted,
		Fatal:      fatal,
	}
	for _, pr := range res.Sorted() {
		r.Results = append(r.Results, ProblemReport{
			ProblemID:   pr.ProblemID,
			Status:      pr.Status,
			Attempts:    pr.Attempts,
			Duration:    pr.Duration,
			FatalReason: pr.FatalReason,
		})
	}
	return r
}

// SuccessRate is the fraction of problems solved, in [0, 1].
func (r *BatchReport) SuccessRate() float64 {
	if r.Problems == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Problems)
}

// PrintSummary writes a human-readable summary.
func (r *BatchReport) PrintSummary(w io.Writer) {
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║          ERDOS BATCH REPORT          ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Duration:    %-23s ║\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "║ Problems:    %-23d ║\n", r.Problems)
	fmt.Fprintf(w, "║ Solved:      %-3d (%.0f%%)%15s║\n", r.Succeeded, r.SuccessRate()*100, "")
	fmt.Fprintf(w, "║ Exhausted:   %-23d ║\n", r.Exhausted)
	fmt.Fprintf(w, "║ Fatal:       %-23d ║\n", r.Fatal)
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ PROBLEMS\n")
	for _, p := range r.Results {
		fmt.Fprintf(w, "║   %-20s %-11s %d attempts  %s\n",
			p.ProblemID, p.Status, p.Attempts, p.Duration.Round(time.Millisecond))
	}

	var fatal []ProblemReport
	for _, p := range r.Results {
		if p.FatalReason != "" {
			fatal = append(fatal, p)
		}
	}
	if len(fatal) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ FAILURES\n")
		for _, p := range fatal {
			fmt.Fprintf(w, "║   • %s: %s\n", p.ProblemID, p.FatalReason)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the report as formatted JSON.
func (r *BatchReport) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
