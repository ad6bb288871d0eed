// Package session implements the per-problem proof attempt orchestrator:
// a state machine that drives one problem from submission to a terminal
// verdict, coordinating the generator, verifier and judge adapters under a
// bounded iteration budget while recording the full attempt history.
package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/erdosproject/erdos/internal/generator"
	"github.com/erdosproject/erdos/internal/judge"
	"github.com/erdosproject/erdos/internal/observability"
	"github.com/erdosproject/erdos/internal/problem"
	"github.com/erdosproject/erdos/internal/verifier"
)

// Status is the externally visible lifecycle of a session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSucceeded  Status = "succeeded"
	StatusExhausted  Status = "exhausted"
	StatusFatalError Status = "fatal_error"
)

// Terminal reports whether no further adapter calls will happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusExhausted || s == StatusFatalError
}

// Config is the immutable per-session configuration. Passed in explicitly
// so sessions run deterministically under test; never read from globals.
type Config struct {
	// MaxIterations bounds the attempt count. The attempt list never grows
	// past it.
	MaxIterations int
	// VerifyEnabled false skips verification and judging entirely: a
	// successfully generated proof is terminal (local-only checking is
	// optional).
	VerifyEnabled bool
	// JudgeEnabled false skips semantic judging of verified proofs.
	JudgeEnabled bool
	// MaxTokens is forwarded to the generator as its budget hint.
	MaxTokens int
	// MaxFeedbackBytes bounds the feedback context assembled for retries,
	// so prompts do not grow without bound across iterations.
	MaxFeedbackBytes int
}

// DefaultConfig mirrors the CLI defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:    5,
		VerifyEnabled:    true,
		JudgeEnabled:     true,
		MaxFeedbackBytes: 16 * 1024,
	}
}

// Attempt is one generate/verify/judge cycle. Append-only: never mutated
// once its cycle completes.
type Attempt struct {
	// Index is 1-based within the session.
	Index     int              `json:"index"`
	ProofText string           `json:"proof_text"`
	Verify    *verifier.Result `json:"verify,omitempty"`
	// Verdict is present only when verification passed and judging is
	// enabled.
	Verdict   *judge.Verdict `json:"verdict,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Deps are the external collaborators for one session. Sessions never share
// mutable state; the adapters themselves must be safe for concurrent use
// across sessions.
type Deps struct {
	Generator generator.Generator
	Verifier  verifier.Verifier
	Judge     judge.Judge
	// Analyzer is optional; when present, failed attempts are analyzed and
	// the revised hint steers the next generation.
	Analyzer judge.Analyzer
	Logger   *slog.Logger

	// Audit and Metrics receive per-step events. Both are optional and
	// nil-safe; the batch runner fills them in when it has its own.
	Audit   *observability.AuditLogger
	Metrics *observability.PipelineMetrics
}

// Session owns the ordered attempt history and terminal outcome for one
// problem. It is the unit of retry; only Run mutates it.
type Session struct {
	ID      string
	Problem *problem.Problem
	Config  Config

	Status   Status
	Attempts []*Attempt
	// FatalReason is set when Status is FatalError.
	FatalReason string

	StartedAt  time.Time
	FinishedAt time.Time

	// hint starts as the problem's hint and may be revised by the analyzer
	// between attempts.
	hint string

	deps Deps
}

// New creates a pending session.
func New(p *problem.Problem, deps Deps, cfg Config) *Session {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 1
	}
	if cfg.MaxFeedbackBytes <= 0 {
		cfg.MaxFeedbackBytes = DefaultConfig().MaxFeedbackBytes
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Session{
		ID:      uuid.NewString(),
		Problem: p,
		Config:  cfg,
		Status:  StatusPending,
		hint:    p.Hint,
		deps:    deps,
	}
}

// AcceptedAttempt returns the attempt that produced the accepted proof, or
// nil unless the session succeeded.
func (s *Session) AcceptedAttempt() *Attempt {
	if s.Status != StatusSucceeded || len(s.Attempts) == 0 {
		return nil
	}
	return s.Attempts[len(s.Attempts)-1]
}

// Duration of the completed session.
func (s *Session) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

func (s *Session) appendAttempt(proofText string) *Attempt {
	a := &Attempt{
		Index:     len(s.Attempts) + 1,
		ProofText: proofText,
		Timestamp: time.Now(),
	}
	s.Attempts = append(s.Attempts, a)
	return a
}
