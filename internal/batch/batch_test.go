package batch

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/erdosproject/erdos/internal/generator"
	"github.com/erdosproject/erdos/internal/judge"
	"github.com/erdosproject/erdos/internal/observability"
	"github.com/erdosproject/erdos/internal/problem"
	"github.com/erdosproject/erdos/internal/session"
	"github.com/erdosproject/erdos/internal/verifier"
)

// scriptedGenerator returns canned proofs keyed by problem ID and counts
// calls per problem.
type scriptedGenerator struct {
	mu    sync.Mutex
	calls map[string]int

	fatalFor map[string]bool
	panicFor map[string]bool
}

func newScriptedGenerator() *scriptedGenerator {
	return &scriptedGenerator{
		calls:    make(map[string]int),
		fatalFor: make(map[string]bool),
		panicFor: make(map[string]bool),
	}
}

func (g *scriptedGenerator) Generate(ctx context.Context, req *generator.Request) (*generator.Result, error) {
	id := req.Problem.ID

	g.mu.Lock()
	g.calls[id]++
	n := g.calls[id]
	g.mu.Unlock()

	if g.panicFor[id] {
		panic("generator exploded for " + id)
	}
	if g.fatalFor[id] {
		return nil, generator.Fatalf("invalid credentials for %s", id)
	}
	return &generator.Result{ProofText: fmt.Sprintf("proof %s attempt %d", id, n)}, nil
}

func (g *scriptedGenerator) Name() string { return "scripted" }

func (g *scriptedGenerator) callCount(id string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[id]
}

// passVerifier accepts every proof.
type passVerifier struct{}

func (passVerifier) Verify(ctx context.Context, proofText string) (*verifier.Result, error) {
	return &verifier.Result{Outcome: verifier.OutcomePass}, nil
}

func (passVerifier) Name() string { return "pass" }

type acceptJudge struct{}

func (acceptJudge) Review(ctx context.Context, statement, proofText string) *judge.Verdict {
	return &judge.Verdict{Outcome: judge.OutcomeAccept}
}

func (acceptJudge) Name() string { return "accept" }

func problems(ids ...string) []*problem.Problem {
	ps := make([]*problem.Problem, len(ids))
	for i, id := range ids {
		ps[i] = &problem.Problem{ID: id, Statement: "statement for " + id, Format: problem.FormatLean}
	}
	return ps
}

// Three problems with distinct fates: p1 solved on the first try, p2 never
// verifies and exhausts its budget, p3 hits a fatal generator error before
// any attempt is recorded.
func TestRunner_MixedOutcomes(t *testing.T) {
	gen := newScriptedGenerator()
	gen.fatalFor["p3"] = true

	// p1 verifies immediately; p2 never does.
	v := verifierFunc(func(proofText string) *verifier.Result {
		if strings.Contains(proofText, "p1") {
			return &verifier.Result{Outcome: verifier.OutcomePass}
		}
		return &verifier.Result{Outcome: verifier.OutcomeFail, Errors: []string{"unsolved goals"}}
	})

	r := &Runner{
		Deps:    session.Deps{Generator: gen, Verifier: v, Judge: acceptJudge{}},
		Config:  session.Config{MaxIterations: 3, VerifyEnabled: true, JudgeEnabled: true},
		Workers: 2,
	}

	res, err := r.Run(context.Background(), problems("p1", "p2", "p3"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}

	p1 := res.Results["p1"]
	if p1.Status != session.StatusSucceeded || p1.Attempts != 1 {
		t.Errorf("p1: expected succeeded after 1 attempt, got %s after %d", p1.Status, p1.Attempts)
	}
	if p1.Proof == "" {
		t.Error("p1: expected the accepted proof text")
	}

	p2 := res.Results["p2"]
	if p2.Status != session.StatusExhausted || p2.Attempts != 3 {
		t.Errorf("p2: expected exhausted after 3 attempts, got %s after %d", p2.Status, p2.Attempts)
	}

	p3 := res.Results["p3"]
	if p3.Status != session.StatusFatalError || p3.Attempts != 0 {
		t.Errorf("p3: expected fatal_error with no attempts, got %s after %d", p3.Status, p3.Attempts)
	}
	if !strings.Contains(p3.FatalReason, "invalid credentials") {
		t.Errorf("p3: fatal reason should carry the adapter error, got %q", p3.FatalReason)
	}

	succeeded, exhausted, fatal := res.Counts()
	if succeeded != 1 || exhausted != 1 || fatal != 1 {
		t.Errorf("counts = (%d, %d, %d), want (1, 1, 1)", succeeded, exhausted, fatal)
	}
}

// verifierFunc adapts a function to the Verifier interface.
type verifierFunc func(proofText string) *verifier.Result

func (f verifierFunc) Verify(ctx context.Context, proofText string) (*verifier.Result, error) {
	return f(proofText), nil
}

func (f verifierFunc) Name() string { return "func" }

func TestRunner_PanicIsolation(t *testing.T) {
	gen := newScriptedGenerator()
	gen.panicFor["bad"] = true

	r := &Runner{
		Deps:    session.Deps{Generator: gen, Verifier: passVerifier{}, Judge: acceptJudge{}},
		Config:  session.Config{MaxIterations: 2, VerifyEnabled: true, JudgeEnabled: true},
		Workers: 2,
	}

	res, err := r.Run(context.Background(), problems("ok1", "bad", "ok2"))
	if err != nil {
		t.Fatal(err)
	}

	bad := res.Results["bad"]
	if bad.Status != session.StatusFatalError {
		t.Fatalf("expected the panicking session to end fatal, got %s", bad.Status)
	}
	if !strings.Contains(bad.FatalReason, "panic") {
		t.Errorf("fatal reason should mention the panic, got %q", bad.FatalReason)
	}

	for _, id := range []string{"ok1", "ok2"} {
		if got := res.Results[id].Status; got != session.StatusSucceeded {
			t.Errorf("%s: expected the panic to be isolated, got %s", id, got)
		}
	}
}

// The merged result must not depend on worker count: running the same
// problem set with 1 worker and with more workers than problems yields
// identical per-problem outcomes.
func TestRunner_WorkerCountEquivalence(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}

	run := func(workers int) *Result {
		gen := newScriptedGenerator()
		gen.fatalFor["c"] = true
		r := &Runner{
			Deps: session.Deps{
				Generator: gen,
				Verifier: verifierFunc(func(proofText string) *verifier.Result {
					if strings.Contains(proofText, "attempt 2") {
						return &verifier.Result{Outcome: verifier.OutcomePass}
					}
					return &verifier.Result{Outcome: verifier.OutcomeFail, Errors: []string{"nope"}}
				}),
				Judge: acceptJudge{},
			},
			Config:  session.Config{MaxIterations: 3, VerifyEnabled: true, JudgeEnabled: true},
			Workers: workers,
		}
		res, err := r.Run(context.Background(), problems(ids...))
		if err != nil {
			t.Fatal(err)
		}
		return res
	}

	serial := run(1)
	parallel := run(8)

	for _, id := range ids {
		s, p := serial.Results[id], parallel.Results[id]
		if s.Status != p.Status || s.Attempts != p.Attempts {
			t.Errorf("%s: serial (%s, %d) != parallel (%s, %d)",
				id, s.Status, s.Attempts, p.Status, p.Attempts)
		}
	}
}

func TestRunner_RejectsDuplicateIDs(t *testing.T) {
	r := &Runner{
		Deps:   session.Deps{Generator: newScriptedGenerator(), Verifier: passVerifier{}, Judge: acceptJudge{}},
		Config: session.DefaultConfig(),
	}

	_, err := r.Run(context.Background(), problems("p1", "p1"))
	if err == nil {
		t.Fatal("expected an error for duplicate problem IDs")
	}
}

func TestRunner_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{
		Deps:    session.Deps{Generator: newScriptedGenerator(), Verifier: passVerifier{}, Judge: acceptJudge{}},
		Config:  session.DefaultConfig(),
		Workers: 2,
	}

	res, err := r.Run(ctx, problems("p1", "p2"))
	if err != nil {
		t.Fatal(err)
	}
	// Every problem still gets a terminal result; no session hangs.
	for id, pr := range res.Results {
		if pr.Status != session.StatusFatalError {
			t.Errorf("%s: expected fatal_error under cancellation, got %s", id, pr.Status)
		}
		if !strings.Contains(pr.FatalReason, "cancel") {
			t.Errorf("%s: fatal reason should mention cancellation, got %q", id, pr.FatalReason)
		}
	}
}

// recordingStore captures saved sessions.
type recordingStore struct {
	mu    sync.Mutex
	saved []*session.Session
	err   error
}

func (s *recordingStore) SaveSession(ctx context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, sess)
	return s.err
}

func TestRunner_PersistsSessions(t *testing.T) {
	st := &recordingStore{}
	r := &Runner{
		Deps:    session.Deps{Generator: newScriptedGenerator(), Verifier: passVerifier{}, Judge: acceptJudge{}},
		Config:  session.DefaultConfig(),
		Workers: 1,
		Store:   st,
	}

	if _, err := r.Run(context.Background(), problems("p1", "p2")); err != nil {
		t.Fatal(err)
	}
	if len(st.saved) != 2 {
		t.Fatalf("expected 2 persisted sessions, got %d", len(st.saved))
	}
}

func TestRunner_StoreFailureDoesNotAbort(t *testing.T) {
	st := &recordingStore{err: fmt.Errorf("disk full")}
	r := &Runner{
		Deps:    session.Deps{Generator: newScriptedGenerator(), Verifier: passVerifier{}, Judge: acceptJudge{}},
		Config:  session.DefaultConfig(),
		Workers: 1,
		Store:   st,
	}

	res, err := r.Run(context.Background(), problems("p1"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Results["p1"].Status != session.StatusSucceeded {
		t.Fatal("a store failure must not change the session outcome")
	}
}

func TestMerge(t *testing.T) {
	mk := func(id string, attempts int, sessionID string) *Result {
		return &Result{Results: map[string]*ProblemResult{
			id: {ProblemID: id, SessionID: sessionID, Attempts: attempts, Status: session.StatusSucceeded},
		}}
	}

	t.Run("disjoint keys union", func(t *testing.T) {
		m := Merge(mk("a", 1, "s1"), mk("b", 2, "s2"))
		if len(m.Results) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(m.Results))
		}
	})

	t.Run("commutative", func(t *testing.T) {
		x := mk("a", 1, "s1")
		y := mk("a", 3, "s2")
		ab := Merge(x, y)
		ba := Merge(y, x)
		if ab.Results["a"].SessionID != ba.Results["a"].SessionID {
			t.Fatal("merge is not commutative on collisions")
		}
		if ab.Results["a"].Attempts != 3 {
			t.Fatal("collision should keep the result with more attempts")
		}
	})

	t.Run("associative", func(t *testing.T) {
		x, y, z := mk("a", 1, "s1"), mk("b", 1, "s2"), mk("a", 2, "s3")
		left := Merge(Merge(x, y), z)
		right := Merge(x, Merge(y, z))
		if left.Results["a"].SessionID != right.Results["a"].SessionID ||
			len(left.Results) != len(right.Results) {
			t.Fatal("merge is not associative")
		}
	})

	t.Run("nil operands", func(t *testing.T) {
		m := Merge(nil, mk("a", 1, "s1"))
		if len(m.Results) != 1 {
			t.Fatal("merging with nil should keep the non-nil side")
		}
	})

	t.Run("time bounds", func(t *testing.T) {
		t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		x := &Result{Results: map[string]*ProblemResult{}, StartedAt: t0, FinishedAt: t0.Add(time.Hour)}
		y := &Result{Results: map[string]*ProblemResult{}, StartedAt: t0.Add(time.Minute), FinishedAt: t0.Add(2 * time.Hour)}
		m := Merge(x, y)
		if !m.StartedAt.Equal(t0) || !m.FinishedAt.Equal(t0.Add(2*time.Hour)) {
			t.Fatalf("merged window = [%v, %v]", m.StartedAt, m.FinishedAt)
		}
	})
}

func TestResult_Sorted(t *testing.T) {
	r := &Result{Results: map[string]*ProblemResult{
		"c": {ProblemID: "c"},
		"a": {ProblemID: "a"},
		"b": {ProblemID: "b"},
	}}

	got := r.Sorted()
	want := []string{"a", "b", "c"}
	for i, pr := range got {
		if pr.ProblemID != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, pr.ProblemID, want[i])
		}
	}
}

func TestRunner_SessionsInheritAuditAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := observability.NewPipelineMetrics()

	r := &Runner{
		Deps: session.Deps{
			Generator: newScriptedGenerator(),
			Verifier:  passVerifier{},
			Judge:     acceptJudge{},
		},
		Config:  session.Config{MaxIterations: 2, VerifyEnabled: true, JudgeEnabled: true},
		Workers: 2,
		Audit:   observability.NewAuditLoggerTo(&buf, "run"),
		Metrics: m,
	}

	if _, err := r.Run(context.Background(), problems("p1", "p2")); err != nil {
		t.Fatal(err)
	}

	// Per-step events come from inside the sessions; their presence proves
	// the runner handed its sinks down.
	out := buf.String()
	for _, want := range []observability.AuditEventType{
		observability.AuditEventGenerate,
		observability.AuditEventVerify,
		observability.AuditEventJudge,
	} {
		if !strings.Contains(out, string(want)) {
			t.Errorf("run log is missing %q events:\n%s", want, out)
		}
	}
	if got := m.VerifyPassTotal.Value(); got != 2 {
		t.Errorf("verify pass counter = %v, want 2", got)
	}
	if got := m.JudgeAcceptTotal.Value(); got != 2 {
		t.Errorf("judge accept counter = %v, want 2", got)
	}
}
