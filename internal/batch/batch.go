// Package batch runs proof sessions for a set of problems concurrently
// under a fixed worker limit and aggregates their terminal outcomes.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/erdosproject/erdos/internal/observability"
	"github.com/erdosproject/erdos/internal/problem"
	"github.com/erdosproject/erdos/internal/session"
)

// DefaultWorkers is the worker limit used when none is configured.
const DefaultWorkers = 4

// Recorder persists finished sessions. Implemented by the store package;
// declared here so the runner depends only on what it needs.
type Recorder interface {
	SaveSession(ctx context.Context, s *session.Session) error
}

// Runner executes one session per problem. Sessions are fully independent:
// they share the adapters (which must be concurrency-safe) and nothing else.
type Runner struct {
	Deps    session.Deps
	Config  session.Config
	Workers int

	// Optional collaborators. All are nil-safe.
	Store   Recorder
	Audit   *observability.AuditLogger
	Metrics *observability.PipelineMetrics
	Logger  *slog.Logger
}

// Run drives every problem to a terminal status and returns the merged
// result. One session failing, exhausting its budget, or panicking never
// affects the others; the only whole-batch error is malformed input.
func (r *Runner) Run(ctx context.Context, problems []*problem.Problem) (*Result, error) {
	workers := r.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}

	seen := make(map[string]bool, len(problems))
	for _, p := range problems {
		if p == nil || p.ID == "" {
			return nil, fmt.Errorf("batch: problem without an ID")
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("batch: duplicate problem ID %q", p.ID)
		}
		seen[p.ID] = true
	}

	ctx, span := observability.StartBatchSpan(ctx, len(problems), workers)
	defer span.End()

	result := &Result{
		Results:   make(map[string]*ProblemResult, len(problems)),
		StartedAt: time.Now(),
	}
	r.Audit.BatchStart(len(problems), workers)
	log.Info("batch started", "problems", len(problems), "workers", workers)

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	results := make([]*ProblemResult, len(problems))

	for i, p := range problems {
		wg.Add(1)
		sem <- struct{}{} // acquire
		go func(idx int, p *problem.Problem) {
			defer wg.Done()
			defer func() { <-sem }() // release

			results[idx] = r.runOne(ctx, p, log)
		}(i, p)
	}
	wg.Wait()

	for _, pr := range results {
		result.Results[pr.ProblemID] = pr
	}
	result.FinishedAt = time.Now()

	succeeded, exhausted, fatal := result.Counts()
	observability.RecordBatchResult(span, succeeded, exhausted, fatal)
	r.Audit.BatchEnd(succeeded, exhausted, fatal, result.Duration())
	log.Info("batch finished",
		"succeeded", succeeded, "exhausted", exhausted, "fatal", fatal,
		"duration", result.Duration().Round(time.Millisecond))

	return result, nil
}

// runOne executes a single session, converting a panic anywhere inside it
// into that session's fatal outcome.
func (r *Runner) runOne(ctx context.Context, p *problem.Problem, log *slog.Logger) (pr *ProblemResult) {
	if m := r.Metrics; m != nil {
		m.ActiveWorkers.Inc()
		defer m.ActiveWorkers.Dec()
	}

	// Sessions emit their own per-step audit and metric events; hand them
	// the runner's sinks unless the caller wired their own.
	deps := r.Deps
	if deps.Audit == nil {
		deps.Audit = r.Audit
	}
	if deps.Metrics == nil {
		deps.Metrics = r.Metrics
	}

	s := session.New(p, deps, r.Config)
	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("session panicked", "problem", p.ID, "panic", rec)
			log.Debug("panic stack", "stack", string(debug.Stack()))
			s.Status = session.StatusFatalError
			s.FatalReason = fmt.Sprintf("panic: %v", rec)
			if s.FinishedAt.IsZero() {
				s.FinishedAt = time.Now()
			}
			pr = r.finish(ctx, s, time.Since(started))
		}
	}()

	r.Audit.SessionStart(p.ID)
	s.Run(ctx)
	return r.finish(ctx, s, time.Since(started))
}

// finish records one terminal session everywhere it needs to go.
func (r *Runner) finish(ctx context.Context, s *session.Session, elapsed time.Duration) *ProblemResult {
	if m := r.Metrics; m != nil {
		m.RecordSession(string(s.Status), len(s.Attempts), elapsed)
	}
	r.Audit.SessionEnd(s.Problem.ID, string(s.Status), len(s.Attempts), elapsed)

	if r.Store != nil {
		// Persistence is bookkeeping; a failed write never fails the batch.
		if err := r.Store.SaveSession(ctx, s); err != nil {
			logger := r.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("failed to persist session", "session", s.ID, "err", err)
		}
	}

	pr := &ProblemResult{
		ProblemID:   s.Problem.ID,
		SessionID:   s.ID,
		Status:      s.Status,
		Attempts:    len(s.Attempts),
		Duration:    elapsed,
		FatalReason: s.FatalReason,
		Session:     s,
	}
	if a := s.AcceptedAttempt(); a != nil {
		pr.Proof = a.ProofText
	}
	return pr
}
