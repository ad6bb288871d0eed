package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/erdosproject/erdos/internal/batch"
	"github.com/erdosproject/erdos/internal/session"
)

func sampleResult() *batch.Result {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &batch.Result{
		StartedAt:  t0,
		FinishedAt: t0.Add(90 * time.Second),
		Results: map[string]*batch.ProblemResult{
			"p2": {ProblemID: "p2", Status: session.StatusExhausted, Attempts: 5, Duration: time.Minute},
			"p1": {ProblemID: "p1", Status: session.StatusSucceeded, Attempts: 2, Duration: 30 * time.Second},
			"p3": {ProblemID: "p3", Status: session.StatusFatalError, Attempts: 0, FatalReason: "invalid credentials"},
		},
	}
}

func TestNewBatchReport(t *testing.T) {
	r := NewBatchReport(sampleResult())

	if r.Problems != 3 || r.Succeeded != 1 || r.Exhausted != 1 || r.Fatal != 1 {
		t.Fatalf("unexpected totals: %+v", r)
	}
	if r.Duration != 90*time.Second {
		t.Fatalf("expected 90s duration, got %s", r.Duration)
	}

	// Stable ordering by problem ID regardless of map iteration.
	ids := make([]string, len(r.Results))
	for i, p := range r.Results {
		ids[i] = p.ProblemID
	}
	want := []string{"p1", "p2", "p3"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("results order %v, want %v", ids, want)
		}
	}
}

func TestSuccessRate(t *testing.T) {
	r := NewBatchReport(sampleResult())
	if got := r.SuccessRate(); got < 0.33 || got > 0.34 {
		t.Fatalf("expected 1/3 success rate, got %f", got)
	}

	empty := NewBatchReport(&batch.Result{Results: map[string]*batch.ProblemResult{}})
	if empty.SuccessRate() != 0 {
		t.Fatal("empty batch has zero success rate")
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	NewBatchReport(sampleResult()).PrintSummary(&buf)

	out := buf.String()
	for _, want := range []string{
		"ERDOS BATCH REPORT",
		"p1",
		"succeeded",
		"exhausted",
		"invalid credentials",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestReportJSON(t *testing.T) {
	data, err := NewBatchReport(sampleResult()).JSON()
	if err != nil {
		t.Fatal(err)
	}

	var decoded BatchReport
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("report JSON does not round-trip: %v", err)
	}
	if decoded.Problems != 3 || len(decoded.Results) != 3 {
		t.Fatalf("unexpected decoded report: %+v", decoded)
	}
}
