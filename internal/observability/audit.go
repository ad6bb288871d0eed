package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventSessionStart AuditEventType = "session.start"
	AuditEventSessionEnd   AuditEventType = "session.end"
	AuditEventGenerate     AuditEventType = "attempt.generate"
	AuditEventVerify       AuditEventType = "attempt.verify"
	AuditEventJudge        AuditEventType = "attempt.judge"
	AuditEventBatchStart   AuditEventType = "batch.start"
	AuditEventBatchEnd     AuditEventType = "batch.end"
)

// AuditEvent is a single entry in the run log.
type AuditEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	RunID     string         `json:"run_id"`
	ProblemID string         `json:"problem_id,omitempty"`
	Attempt   int            `json:"attempt,omitempty"`
	Status    string         `json:"status,omitempty"`
	Duration  int64          `json:"duration_ms,omitempty"`
	Message   string         `json:"message,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// AuditLogger appends pipeline events to a JSONL run log. A disabled logger
// swallows all events, so callers never need a nil check.
type AuditLogger struct {
	mu      sync.Mutex
	writer  io.Writer
	closer  io.Closer
	runID   string
	enabled bool
}

// NewAuditLogger opens (or creates) the run log at path.
func NewAuditLogger(path, runID string) (*AuditLogger, error) {
	if path == "" {
		return &AuditLogger{runID: runID}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &AuditLogger{writer: f, closer: f, runID: runID, enabled: true}, nil
}

// NewAuditLoggerTo writes events to an arbitrary writer. Used by tests and
// by the CLI when logging to stderr.
func NewAuditLoggerTo(w io.Writer, runID string) *AuditLogger {
	return &AuditLogger{writer: w, runID: runID, enabled: true}
}

// Enabled reports whether events are being recorded.
func (a *AuditLogger) Enabled() bool {
	return a != nil && a.enabled
}

// Log appends one event. Errors writing the log are ignored so that
// bookkeeping can never take a proof run down.
func (a *AuditLogger) Log(ev AuditEvent) {
	if !a.Enabled() {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.RunID = a.runID

	line, err := json.Marshal(ev)
	if err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.writer.Write(append(line, '\n'))
}

// SessionStart records the beginning of a proof session.
func (a *AuditLogger) SessionStart(problemID string) {
	a.Log(AuditEvent{EventType: AuditEventSessionStart, ProblemID: problemID})
}

// SessionEnd records a terminal session status.
func (a *AuditLogger) SessionEnd(problemID, status string, attempts int, duration time.Duration) {
	a.Log(AuditEvent{
		EventType: AuditEventSessionEnd,
		ProblemID: problemID,
		Attempt:   attempts,
		Status:    status,
		Duration:  duration.Milliseconds(),
	})
}

// Generate records one generated candidate within a session.
func (a *AuditLogger) Generate(problemID string, attempt int, duration time.Duration) {
	a.Log(AuditEvent{
		EventType: AuditEventGenerate,
		ProblemID: problemID,
		Attempt:   attempt,
		Duration:  duration.Milliseconds(),
	})
}

// Verify records one verifier run within a session.
func (a *AuditLogger) Verify(problemID string, attempt int, outcome string, duration time.Duration) {
	a.Log(AuditEvent{
		EventType: AuditEventVerify,
		ProblemID: problemID,
		Attempt:   attempt,
		Status:    outcome,
		Duration:  duration.Milliseconds(),
	})
}

// Judge records one judge verdict within a session.
func (a *AuditLogger) Judge(problemID string, attempt int, outcome, reason string) {
	a.Log(AuditEvent{
		EventType: AuditEventJudge,
		ProblemID: problemID,
		Attempt:   attempt,
		Status:    outcome,
		Message:   reason,
	})
}

// BatchStart records the start of a batch run.
func (a *AuditLogger) BatchStart(problems, workers int) {
	a.Log(AuditEvent{
		EventType: AuditEventBatchStart,
		Detail:    map[string]any{"problems": problems, "workers": workers},
	})
}

// BatchEnd records batch totals.
func (a *AuditLogger) BatchEnd(succeeded, exhausted, fatal int, duration time.Duration) {
	a.Log(AuditEvent{
		EventType: AuditEventBatchEnd,
		Duration:  duration.Milliseconds(),
		Detail:    map[string]any{"succeeded": succeeded, "exhausted": exhausted, "fatal": fatal},
	})
}

// Close flushes and closes the underlying file, if any.
func (a *AuditLogger) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
