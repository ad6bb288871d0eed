package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"

	"github.com/erdosproject/erdos/internal/generator"
	"github.com/erdosproject/erdos/internal/judge"
	"github.com/erdosproject/erdos/internal/observability"
	"github.com/erdosproject/erdos/internal/problem"
	"github.com/erdosproject/erdos/internal/verifier"
)

// ErrTypeGeneratorFatal marks generator errors that must not be retried by
// the activity retry policy (bad credentials, malformed problem).
const ErrTypeGeneratorFatal = "GeneratorFatal"

// Dependencies holds shared adapters injected into activities.
type Dependencies struct {
	Generator generator.Generator
	Verifier  verifier.Verifier
	Judge     judge.Judge
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

// GenerateInput is the serializable request for one generation attempt.
type GenerateInput struct {
	ProblemID string
	Statement string
	Format    string
	Hint      string
	Context   []string
	Feedback  string
	MaxTokens int
}

// GenerateResult is the serializable generation outcome.
type GenerateResult struct {
	ProofText string
	Model     string
}

func GenerateActivity(ctx context.Context, input GenerateInput) (GenerateResult, error) {
	res, err := deps.Generator.Generate(ctx, &generator.Request{
		Problem: &problem.Problem{
			ID:        input.ProblemID,
			Statement: input.Statement,
			Format:    problem.Format(input.Format),
			Hint:      input.Hint,
			Context:   input.Context,
		},
		Feedback:  input.Feedback,
		MaxTokens: input.MaxTokens,
	})
	if err != nil {
		if generator.IsFatal(err) {
			return GenerateResult{}, temporal.NewNonRetryableApplicationError(
				err.Error(), ErrTypeGeneratorFatal, err)
		}
		return GenerateResult{}, err
	}
	return GenerateResult{ProofText: res.ProofText, Model: res.Model}, nil
}

// VerifyInput is the serializable request for one verification.
type VerifyInput struct {
	ProofText string
}

// VerifyResult is the serializable verification outcome.
type VerifyResult struct {
	Outcome    string
	Diagnostic string
	Warnings   []string
}

func VerifyActivity(ctx context.Context, input VerifyInput) (VerifyResult, error) {
	started := time.Now()
	res, err := deps.Verifier.Verify(ctx, input.ProofText)
	if err != nil {
		observability.Metrics().RecordVerify(string(verifier.OutcomeError), time.Since(started))
		return VerifyResult{Outcome: string(verifier.OutcomeError), Diagnostic: err.Error()}, nil
	}
	observability.Metrics().RecordVerify(string(res.Outcome), time.Since(started))
	return VerifyResult{
		Outcome:    string(res.Outcome),
		Diagnostic: res.Diagnostic(),
		Warnings:   res.Warnings,
	}, nil
}

// JudgeInput is the serializable request for one judge review.
type JudgeInput struct {
	Statement string
	ProofText string
}

// JudgeResult is the serializable verdict.
type JudgeResult struct {
	Accepted   bool
	Reason     string
	Confidence float64
}

func JudgeActivity(ctx context.Context, input JudgeInput) (JudgeResult, error) {
	verdict := deps.Judge.Review(ctx, input.Statement, input.ProofText)
	observability.Metrics().RecordJudge(verdict.Accepted())
	return JudgeResult{
		Accepted:   verdict.Accepted(),
		Reason:     verdict.Reason,
		Confidence: verdict.Confidence,
	}, nil
}
