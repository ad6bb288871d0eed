package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/erdosproject/erdos/internal/llm"
)

const reviewSystemPrompt = `Ruthless proof critic. Catch proofs that type-check but prove nothing.`

const reviewPromptTemplate = `Problem:
%s

Lean Proof:
` + "```lean" + `
%s
` + "```" + `

Detect proofs that type-check but don't prove anything real:

1. DEGENERATE CASES - using trivial objects (point as triangle, empty set, n=0)
2. VACUOUS PROOFS - exploiting weak definitions
3. CLASSICAL.EM ABUSE - using "P or not P" instead of proving P
4. FORMALIZATION ONLY - just definitions, no theorem with proof
5. SORRY/ADMIT - incomplete proofs
6. WRONG THEOREM - proving something different

Reply JSON:
{"legitimate": bool, "confidence": 0-1, "summary": "what it does", "issues": [...], "feedback": "what to fix"}

BE HARSH.`

const analyzeSystemPrompt = `You are an expert mathematical proof assistant helping to debug Lean 4 proofs.

Analyze errors and provide:
1. Root cause analysis
2. Specific fixes or alternative strategies
3. A revised proof hint

Format:
## Analysis
[What went wrong]

## Suggestions
[Actionable suggestions]

## Revised Proof Hint
[New proof sketch, or "NO REVISION NEEDED"]

## Should Retry
[YES or NO]`

// LLMJudge implements Judge and Analyzer on top of an llm.Provider.
type LLMJudge struct {
	provider llm.Provider
}

// NewLLM creates an LLM-backed judge.
func NewLLM(provider llm.Provider) *LLMJudge {
	return &LLMJudge{provider: provider}
}

func (j *LLMJudge) Name() string {
	if j.provider == nil {
		return "llm"
	}
	return "llm:" + j.provider.Name()
}

// Review checks whether a verifier-accepted proof is legitimate. Any
// transport, parse, or provider problem resolves to Reject; the judge is the
// last line of defense against checker-valid garbage and must not default
// open.
func (j *LLMJudge) Review(ctx context.Context, problemStatement, proofText string) *Verdict {
	if j.provider == nil {
		return Unavailable("no provider configured")
	}

	resp, err := j.provider.Complete(ctx, &llm.Prompt{
		SystemPrompt: reviewSystemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf(reviewPromptTemplate, problemStatement, proofText),
		}},
	}, nil)
	if err != nil {
		return Unavailable(err.Error())
	}

	return parseReview(resp.Content)
}

func parseReview(content string) *Verdict {
	raw := llm.ExtractFencedBlock(llm.StripThinkingTags(content), "json")

	var parsed struct {
		Legitimate bool     `json:"legitimate"`
		Confidence float64  `json:"confidence"`
		Summary    string   `json:"summary"`
		Issues     []string `json:"issues"`
		Feedback   string   `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return &Verdict{
			Outcome: OutcomeReject,
			Reason:  "judge returned unparseable verdict: " + truncate(raw, 200),
		}
	}

	if parsed.Legitimate {
		return &Verdict{
			Outcome:    OutcomeAccept,
			Summary:    parsed.Summary,
			Confidence: parsed.Confidence,
		}
	}

	reason := parsed.Feedback
	if reason == "" {
		reason = parsed.Summary
	}
	if reason == "" {
		reason = "proof judged not legitimate"
	}
	return &Verdict{
		Outcome:    OutcomeReject,
		Reason:     reason,
		Summary:    parsed.Summary,
		Issues:     parsed.Issues,
		Confidence: parsed.Confidence,
	}
}

// AnalyzeFailure asks the model for a root-cause analysis of a failed
// attempt and a revised hint.
func (j *LLMJudge) AnalyzeFailure(ctx context.Context, req *FailureContext) (*Feedback, error) {
	if j.provider == nil {
		return nil, fmt.Errorf("analyze failure: no provider configured")
	}

	hint := req.Hint
	if hint == "" {
		hint = "None"
	}
	proof := req.ProofText
	if proof == "" {
		proof = "None"
	}

	prompt := fmt.Sprintf(`## Problem
%s

## Proof Hint
%s

## Generated Lean Proof
`+"```lean"+`
%s
`+"```"+`

## Error Output
`+"```"+`
%s
`+"```"+`

Attempt #%d. Analyze and provide feedback.`,
		req.ProblemStatement, hint, proof, req.ErrorOutput, req.AttemptNumber)

	resp, err := j.provider.Complete(ctx, &llm.Prompt{
		SystemPrompt: analyzeSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("analyze failure: %w", err)
	}

	return parseFeedback(llm.StripThinkingTags(resp.Content)), nil
}

func parseFeedback(content string) *Feedback {
	sections := map[string]string{}
	current := ""
	var lines []string

	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(strings.Join(lines, "\n"))
		}
		lines = nil
	}

	for _, line := range strings.Split(content, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(lower, "## analysis"):
			flush()
			current = "analysis"
		case strings.HasPrefix(lower, "## suggestion"):
			flush()
			current = "suggestions"
		case strings.HasPrefix(lower, "## revised proof"):
			flush()
			current = "hint"
		case strings.HasPrefix(lower, "## should retry"):
			flush()
			current = "retry"
		default:
			if current != "" {
				lines = append(lines, line)
			}
		}
	}
	flush()

	fb := &Feedback{
		Analysis:    sections["analysis"],
		Suggestions: sections["suggestions"],
		ShouldRetry: true,
	}
	if fb.Analysis == "" {
		fb.Analysis = strings.TrimSpace(content)
	}
	if retry, ok := sections["retry"]; ok {
		fb.ShouldRetry = strings.Contains(strings.ToLower(retry), "yes")
	}
	if hint := sections["hint"]; hint != "" && !strings.Contains(strings.ToLower(hint), "no revision") {
		fb.RevisedHint = hint
	}
	return fb
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
