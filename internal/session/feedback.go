package session

import (
	"fmt"
	"strings"

	"github.com/erdosproject/erdos/internal/verifier"
)

// buildFeedback assembles the feedback context for the next generation
// attempt: the most recent attempt's failing proof and diagnostics in full,
// plus a one-line summary per earlier failure. Bounded by maxBytes with the
// newest material kept first; the proof text is the first thing sacrificed,
// the latest diagnostic the last.
func buildFeedback(attempts []*Attempt, maxBytes int) string {
	if len(attempts) == 0 {
		return ""
	}

	last := attempts[len(attempts)-1]

	var diag strings.Builder
	if last.Verify != nil && !last.Verify.Passed() {
		fmt.Fprintf(&diag, "Verifier output for the previous attempt:\n%s\n", last.Verify.Diagnostic())
	}
	if last.Verdict != nil && !last.Verdict.Accepted() {
		fmt.Fprintf(&diag, "Judge rejection for the previous attempt:\n%s\n", last.Verdict.Reason)
	}

	var summary strings.Builder
	if len(attempts) > 1 {
		summary.WriteString("Earlier failed attempts:\n")
		for _, a := range attempts[:len(attempts)-1] {
			fmt.Fprintf(&summary, "- attempt %d: %s\n", a.Index, failureCategory(a))
		}
	}

	proofSection := fmt.Sprintf("Previous proof (attempt %d):\n%s\n", last.Index, last.ProofText)

	// Assemble in priority order: latest diagnostics always survive, then
	// the rolling summary, then the failing proof text.
	budget := maxBytes
	out := make([]string, 0, 3)

	d := diag.String()
	if d != "" {
		d = clampTail(d, budget)
		budget -= len(d)
	}
	if s := summary.String(); s != "" && budget > 0 {
		s = clampTail(s, budget)
		budget -= len(s)
		out = append(out, s)
	}
	if budget > 0 {
		out = append(out, clampTail(proofSection, budget))
	}
	if d != "" {
		out = append(out, d)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

// attemptDiagnostic is the raw failure context for one attempt, used when
// handing an attempt to the failure analyzer.
func attemptDiagnostic(a *Attempt) string {
	var b strings.Builder
	if a.Verify != nil && !a.Verify.Passed() {
		b.WriteString(a.Verify.Diagnostic())
	}
	if a.Verdict != nil && !a.Verdict.Accepted() {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(a.Verdict.Reason)
	}
	return b.String()
}

func failureCategory(a *Attempt) string {
	switch {
	case a.Verify != nil && a.Verify.Outcome == verifier.OutcomeError:
		return "verifier unavailable: " + firstLine(a.Verify.Diagnostic())
	case a.Verify != nil && !a.Verify.Passed():
		return "verification failed: " + firstLine(a.Verify.Diagnostic())
	case a.Verdict != nil && !a.Verdict.Accepted():
		return "judged not legitimate: " + firstLine(a.Verdict.Reason)
	default:
		return "failed"
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i != -1 {
		return s[:i]
	}
	return s
}

// clampTail keeps the last max bytes of s, since compiler output puts the
// decisive error near the end.
func clampTail(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
