package temporal

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.temporal.io/sdk/temporal"

	"github.com/erdosproject/erdos/internal/generator"
	"github.com/erdosproject/erdos/internal/judge"
	"github.com/erdosproject/erdos/internal/verifier"
)

type stubGenerator struct {
	result *generator.Result
	err    error
	last   *generator.Request
}

func (g *stubGenerator) Generate(ctx context.Context, req *generator.Request) (*generator.Result, error) {
	g.last = req
	return g.result, g.err
}

func (g *stubGenerator) Name() string { return "stub" }

type stubVerifier struct {
	result *verifier.Result
	err    error
}

func (v *stubVerifier) Verify(ctx context.Context, proofText string) (*verifier.Result, error) {
	return v.result, v.err
}

func (v *stubVerifier) Name() string { return "stub" }

type stubJudge struct {
	verdict *judge.Verdict
}

func (j *stubJudge) Review(ctx context.Context, statement, proofText string) *judge.Verdict {
	return j.verdict
}

func (j *stubJudge) Name() string { return "stub" }

func TestGenerateActivity(t *testing.T) {
	gen := &stubGenerator{result: &generator.Result{ProofText: "by simp", Model: "m1"}}
	SetDependencies(&Dependencies{Generator: gen})

	res, err := GenerateActivity(context.Background(), GenerateInput{
		ProblemID: "p1",
		Statement: "theorem t : True",
		Format:    "lean",
		Hint:      "use trivial",
		Feedback:  "previous attempt failed",
		MaxTokens: 2048,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ProofText != "by simp" || res.Model != "m1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	if gen.last.Problem.ID != "p1" || gen.last.Problem.Hint != "use trivial" {
		t.Fatalf("problem not reconstructed: %+v", gen.last.Problem)
	}
	if gen.last.Feedback != "previous attempt failed" || gen.last.MaxTokens != 2048 {
		t.Fatalf("request fields lost: %+v", gen.last)
	}
}

func TestGenerateActivity_FatalIsNonRetryable(t *testing.T) {
	SetDependencies(&Dependencies{
		Generator: &stubGenerator{err: generator.Fatalf("bad credentials")},
	})

	_, err := GenerateActivity(context.Background(), GenerateInput{ProblemID: "p1"})
	if err == nil {
		t.Fatal("expected an error")
	}

	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected an application error, got %T", err)
	}
	if appErr.Type() != ErrTypeGeneratorFatal {
		t.Fatalf("expected type %s, got %s", ErrTypeGeneratorFatal, appErr.Type())
	}
	if !appErr.NonRetryable() {
		t.Fatal("fatal generator errors must be non-retryable")
	}
}

func TestGenerateActivity_TransientErrorRetryable(t *testing.T) {
	SetDependencies(&Dependencies{
		Generator: &stubGenerator{err: errors.New("connection reset")},
	})

	_, err := GenerateActivity(context.Background(), GenerateInput{ProblemID: "p1"})
	if err == nil {
		t.Fatal("expected an error")
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.NonRetryable() {
		t.Fatal("transient errors must stay retryable")
	}
}

func TestVerifyActivity(t *testing.T) {
	SetDependencies(&Dependencies{
		Verifier: &stubVerifier{result: &verifier.Result{
			Outcome:  verifier.OutcomeFail,
			Errors:   []string{"unsolved goals"},
			Warnings: []string{"declaration uses sorry"},
		}},
	})

	res, err := VerifyActivity(context.Background(), VerifyInput{ProofText: "by simp"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != "fail" {
		t.Fatalf("expected fail, got %s", res.Outcome)
	}
	if !strings.Contains(res.Diagnostic, "unsolved goals") {
		t.Fatalf("diagnostic lost: %q", res.Diagnostic)
	}
	if len(res.Warnings) != 1 {
		t.Fatal("warnings lost")
	}
}

func TestVerifyActivity_AdapterErrorBecomesOutcome(t *testing.T) {
	SetDependencies(&Dependencies{
		Verifier: &stubVerifier{err: errors.New("lake not installed")},
	})

	res, err := VerifyActivity(context.Background(), VerifyInput{ProofText: "rfl"})
	if err != nil {
		t.Fatalf("adapter errors must become an error outcome, not an activity error: %v", err)
	}
	if res.Outcome != "error" {
		t.Fatalf("expected error outcome, got %s", res.Outcome)
	}
	if !strings.Contains(res.Diagnostic, "lake not installed") {
		t.Fatalf("cause lost: %q", res.Diagnostic)
	}
}

func TestJudgeActivity(t *testing.T) {
	SetDependencies(&Dependencies{
		Judge: &stubJudge{verdict: &judge.Verdict{
			Outcome:    judge.OutcomeReject,
			Reason:     "vacuous proof",
			Confidence: 0.9,
		}},
	})

	res, err := JudgeActivity(context.Background(), JudgeInput{Statement: "s", ProofText: "p"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Accepted {
		t.Fatal("expected a rejection")
	}
	if res.Reason != "vacuous proof" || res.Confidence != 0.9 {
		t.Fatalf("verdict fields lost: %+v", res)
	}
}
