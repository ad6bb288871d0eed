// Package temporal hosts the durable form of the proof pipeline: the same
// generate/verify/judge loop as a local session, but with each adapter call
// running as a Temporal activity so long proofs survive process restarts.
package temporal

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ProofInput holds the workflow parameters for one problem.
type ProofInput struct {
	ProblemID string
	Statement string
	Format    string
	Hint      string
	Context   []string

	MaxIterations int
	VerifyEnabled bool
	JudgeEnabled  bool
	MaxTokens     int
}

// ProofOutput holds the workflow result.
type ProofOutput struct {
	Status      string
	Attempts    int
	Proof       string
	FatalReason string
}

// ProofSessionWorkflow drives one problem to a terminal status. Semantics
// mirror the in-process session: generation failure is fatal, verification
// fail and error both consume an iteration, judge reject retries, and the
// iteration budget alone decides exhaustion.
func ProofSessionWorkflow(ctx workflow.Context, input ProofInput) (*ProofOutput, error) {
	if input.MaxIterations <= 0 {
		input.MaxIterations = 1
	}

	genOpts := workflow.ActivityOptions{
		// Generation can poll a remote prover for a long time.
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeGeneratorFatal},
		},
	}
	checkOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}

	logger := workflow.GetLogger(ctx)
	out := &ProofOutput{Status: "in_progress"}
	feedback := ""

	for attempt := 1; attempt <= input.MaxIterations; attempt++ {
		logger.Info("generating proof", "problem", input.ProblemID, "attempt", attempt)

		var gen GenerateResult
		genCtx := workflow.WithActivityOptions(ctx, genOpts)
		if err := workflow.ExecuteActivity(genCtx, GenerateActivity, GenerateInput{
			ProblemID: input.ProblemID,
			Statement: input.Statement,
			Format:    input.Format,
			Hint:      input.Hint,
			Context:   input.Context,
			Feedback:  feedback,
			MaxTokens: input.MaxTokens,
		}).Get(ctx, &gen); err != nil {
			out.Status = "fatal_error"
			out.FatalReason = err.Error()
			return out, nil
		}
		out.Attempts = attempt

		if !input.VerifyEnabled {
			out.Status = "succeeded"
			out.Proof = gen.ProofText
			return out, nil
		}

		var verify VerifyResult
		checkCtx := workflow.WithActivityOptions(ctx, checkOpts)
		if err := workflow.ExecuteActivity(checkCtx, VerifyActivity, VerifyInput{
			ProofText: gen.ProofText,
		}).Get(ctx, &verify); err != nil {
			// Activity machinery failure; same treatment as a checker
			// infrastructure error.
			verify = VerifyResult{Outcome: "error", Diagnostic: err.Error()}
		}

		if verify.Outcome == "pass" {
			accepted := true
			reason := ""
			if input.JudgeEnabled {
				var verdict JudgeResult
				if err := workflow.ExecuteActivity(checkCtx, JudgeActivity, JudgeInput{
					Statement: input.Statement,
					ProofText: gen.ProofText,
				}).Get(ctx, &verdict); err != nil {
					// A judge that cannot be reached never accepts.
					accepted = false
					reason = fmt.Sprintf("judge unavailable: %v", err)
				} else {
					accepted = verdict.Accepted
					reason = verdict.Reason
				}
			}
			if accepted {
				out.Status = "succeeded"
				out.Proof = gen.ProofText
				return out, nil
			}
			feedback = retryFeedback("", reason)
		} else {
			feedback = retryFeedback(verify.Diagnostic, "")
		}

		logger.Info("attempt failed", "problem", input.ProblemID, "attempt", attempt)
	}

	out.Status = "exhausted"
	return out, nil
}

func retryFeedback(diagnostic, judgeReason string) string {
	var parts []string
	if diagnostic != "" {
		parts = append(parts, "Verifier output for the previous attempt:\n"+diagnostic)
	}
	if judgeReason != "" {
		parts = append(parts, "Judge rejection for the previous attempt:\n"+judgeReason)
	}
	return strings.Join(parts, "\n")
}
