package session

import (
	"context"
	"fmt"
	"time"

	"github.com/erdosproject/erdos/internal/generator"
	"github.com/erdosproject/erdos/internal/judge"
	"github.com/erdosproject/erdos/internal/observability"
	"github.com/erdosproject/erdos/internal/verifier"
)

// State is the internal machine position of a running session. Terminal
// states correspond one-to-one with terminal Status values.
type State string

const (
	StateInit       State = "init"
	StateGenerating State = "generating"
	StateVerifying  State = "verifying"
	StateJudging    State = "judging"
	StateRetrying   State = "retrying"
	StateSucceeded  State = "succeeded"
	StateExhausted  State = "exhausted"
	StateFatal      State = "fatal_error"
)

// Terminal reports whether the machine halts in this state.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateFatal
}

type eventKind int

const (
	evStart eventKind = iota
	evGenerated
	evGenerateFailed
	evVerified
	evJudged
	evBudget
)

// event is the tagged input to the transition function. Exactly one payload
// field is meaningful per kind.
type event struct {
	kind    eventKind
	verify  *verifier.Result
	verdict *judge.Verdict
}

// next is the pure transition function. It consults only the config, the
// current state, the event, and the attempt count, which makes budget
// handling and terminal-state reachability testable without adapters.
func next(cfg Config, st State, ev event, attempts int) State {
	switch st {
	case StateInit:
		if ev.kind == evStart {
			return StateGenerating
		}
	case StateGenerating:
		switch ev.kind {
		case evGenerated:
			if !cfg.VerifyEnabled {
				// Local checking disabled: a generated proof is the
				// terminal accepted result.
				return StateSucceeded
			}
			return StateVerifying
		case evGenerateFailed:
			// A malfunctioning generator is not a per-attempt condition.
			return StateFatal
		}
	case StateVerifying:
		if ev.kind == evVerified {
			if ev.verify.Passed() {
				if cfg.JudgeEnabled {
					return StateJudging
				}
				return StateSucceeded
			}
			// Fail and Error both consume a retry: a different candidate
			// may avoid a checker edge case, and the diagnostic is recorded
			// either way.
			return StateRetrying
		}
	case StateJudging:
		if ev.kind == evJudged {
			if ev.verdict.Accepted() {
				return StateSucceeded
			}
			return StateRetrying
		}
	case StateRetrying:
		if ev.kind == evBudget {
			if attempts >= cfg.MaxIterations {
				return StateExhausted
			}
			return StateGenerating
		}
	}
	// Unexpected event for this state: a programming error, not a runtime
	// condition. Halt the session rather than loop.
	return StateFatal
}

func statusFor(st State) Status {
	switch st {
	case StateSucceeded:
		return StatusSucceeded
	case StateExhausted:
		return StatusExhausted
	case StateFatal:
		return StatusFatalError
	default:
		return StatusInProgress
	}
}

// Run drives the session to a terminal status. Steps are strictly
// sequential: attempt N+1's generation only ever observes feedback derived
// from attempts 1..N.
func (s *Session) Run(ctx context.Context) Status {
	ctx, span := observability.StartSessionSpan(ctx, s.Problem.ID)
	defer span.End()

	s.Status = StatusInProgress
	s.StartedAt = time.Now()
	defer func() {
		s.FinishedAt = time.Now()
		observability.RecordSessionOutcome(span, string(s.Status), len(s.Attempts))
	}()

	log := s.deps.Logger.With("session", s.ID, "problem", s.Problem.DisplayName())

	st := next(s.Config, StateInit, event{kind: evStart}, 0)
	var current *Attempt

	for !st.Terminal() {
		if err := ctx.Err(); err != nil {
			s.fatal(fmt.Sprintf("cancelled: %v", err))
			return s.Status
		}

		switch st {
		case StateGenerating:
			log.Info("generating proof", "attempt", len(s.Attempts)+1, "max", s.Config.MaxIterations)
			res, err := s.generate(ctx)
			if err != nil {
				s.fatal(err.Error())
				if generator.IsFatal(err) {
					log.Error("generator fatal", "err", err)
				} else {
					log.Error("generation failed", "err", err)
				}
				return s.Status
			}
			current = s.appendAttempt(res.ProofText)
			st = next(s.Config, st, event{kind: evGenerated}, len(s.Attempts))

		case StateVerifying:
			vres := s.verify(ctx, current)
			current.Verify = vres
			log.Info("verified", "attempt", current.Index, "outcome", vres.Outcome)
			st = next(s.Config, st, event{kind: evVerified, verify: vres}, len(s.Attempts))

		case StateJudging:
			verdict := s.judge(ctx, current)
			current.Verdict = verdict
			log.Info("judged", "attempt", current.Index, "outcome", verdict.Outcome)
			st = next(s.Config, st, event{kind: evJudged, verdict: verdict}, len(s.Attempts))

		case StateRetrying:
			s.analyzeForRetry(ctx, current)
			st = next(s.Config, st, event{kind: evBudget}, len(s.Attempts))

		default:
			s.fatal(fmt.Sprintf("unexpected machine state %q", st))
			return s.Status
		}
	}

	s.Status = statusFor(st)
	if s.Status == StatusFatalError && s.FatalReason == "" {
		s.FatalReason = "internal state machine fault"
	}
	return s.Status
}

func (s *Session) fatal(reason string) {
	s.Status = StatusFatalError
	s.FatalReason = reason
}

func (s *Session) generate(ctx context.Context) (*generator.Result, error) {
	ctx, span := observability.StartGenerateSpan(ctx, s.deps.Generator.Name())
	defer span.End()
	started := time.Now()

	p := *s.Problem
	p.Hint = s.hint

	res, err := s.deps.Generator.Generate(ctx, &generator.Request{
		Problem:   &p,
		Feedback:  buildFeedback(s.Attempts, s.Config.MaxFeedbackBytes),
		MaxTokens: s.Config.MaxTokens,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	s.deps.Audit.Generate(s.Problem.ID, len(s.Attempts)+1, time.Since(started))
	return res, nil
}

func (s *Session) verify(ctx context.Context, current *Attempt) *verifier.Result {
	ctx, span := observability.StartVerifySpan(ctx, s.deps.Verifier.Name())
	defer span.End()
	started := time.Now()

	res, err := s.deps.Verifier.Verify(ctx, current.ProofText)
	if err != nil {
		// Contract violation by the adapter; treat as infrastructure error
		// so the attempt is still recorded and retried.
		observability.RecordError(span, err)
		res = &verifier.Result{
			Outcome: verifier.OutcomeError,
			Output:  err.Error(),
			Errors:  []string{err.Error()},
		}
	}
	elapsed := time.Since(started)
	observability.RecordVerifyResult(span, string(res.Outcome), len(res.Errors), len(res.Warnings), elapsed)
	if m := s.deps.Metrics; m != nil {
		m.RecordVerify(string(res.Outcome), elapsed)
	}
	s.deps.Audit.Verify(s.Problem.ID, current.Index, string(res.Outcome), elapsed)
	return res
}

func (s *Session) judge(ctx context.Context, current *Attempt) *judge.Verdict {
	ctx, span := observability.StartJudgeSpan(ctx, s.deps.Judge.Name())
	defer span.End()

	verdict := s.deps.Judge.Review(ctx, s.Problem.Statement, current.ProofText)
	observability.RecordJudgeVerdict(span, string(verdict.Outcome), verdict.Confidence)
	if m := s.deps.Metrics; m != nil {
		m.RecordJudge(verdict.Accepted())
	}
	s.deps.Audit.Judge(s.Problem.ID, current.Index, string(verdict.Outcome), verdict.Reason)
	return verdict
}

// analyzeForRetry optionally asks the analyzer for a revised hint before
// the next attempt. Analysis never decides termination: the budget does.
func (s *Session) analyzeForRetry(ctx context.Context, failed *Attempt) {
	if s.deps.Analyzer == nil || failed == nil {
		return
	}
	if len(s.Attempts) >= s.Config.MaxIterations {
		// No next attempt to steer.
		return
	}

	fb, err := s.deps.Analyzer.AnalyzeFailure(ctx, &judge.FailureContext{
		ProblemStatement: s.Problem.Statement,
		Hint:             s.hint,
		ProofText:        failed.ProofText,
		ErrorOutput:      attemptDiagnostic(failed),
		AttemptNumber:    failed.Index,
	})
	if err != nil {
		s.deps.Logger.Warn("failure analysis unavailable", "session", s.ID, "err", err)
		return
	}
	if fb.RevisedHint != "" {
		s.hint = fb.RevisedHint
	}
}
