package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/erdosproject/erdos/internal/llm"
)

const proverSystemPrompt = `You are an expert Lean 4 mathematician. Given a problem statement, produce a complete, compiling Lean 4 proof using Mathlib.

Rules:
- Output ONLY the Lean source, wrapped in a single ` + "```lean" + ` fence.
- Never use sorry, admit, or axiom.
- Prove the stated theorem, not a weakened restatement.`

// LLMGenerator implements Generator on top of a generic llm.Provider, for
// running the pipeline against chat-completion models instead of a dedicated
// prover service.
type LLMGenerator struct {
	provider llm.Provider
}

// NewLLM creates a provider-backed generator.
func NewLLM(provider llm.Provider) *LLMGenerator {
	return &LLMGenerator{provider: provider}
}

func (g *LLMGenerator) Name() string {
	if g.provider == nil {
		return "llm"
	}
	return "llm:" + g.provider.Name()
}

func (g *LLMGenerator) Generate(ctx context.Context, req *Request) (*Result, error) {
	if g.provider == nil {
		return nil, &FatalError{Reason: "no LLM provider configured for generation"}
	}
	if req == nil || req.Problem == nil || strings.TrimSpace(req.Problem.Statement) == "" {
		return nil, &FatalError{Reason: "empty problem statement"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Problem\n%s\n", req.Problem.Statement)
	if req.Problem.Hint != "" {
		fmt.Fprintf(&b, "\n## Proof Hint\n%s\n", req.Problem.Hint)
	}
	for i, snippet := range req.Problem.Context {
		fmt.Fprintf(&b, "\n## Context %d\n%s\n", i+1, snippet)
	}
	if req.Feedback != "" {
		fmt.Fprintf(&b, "\n## Feedback From Previous Attempts\n%s\n", req.Feedback)
	}

	opts := &llm.RequestOptions{}
	if req.MaxTokens > 0 {
		opts.MaxTokens = &req.MaxTokens
	}

	resp, err := g.provider.Complete(ctx, &llm.Prompt{
		SystemPrompt: proverSystemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
	}, opts)
	if err != nil {
		// Auth failures will not recover across attempts in this session.
		msg := err.Error()
		if strings.Contains(msg, "401") || strings.Contains(msg, "403") {
			return nil, &FatalError{Reason: "llm auth rejected", Err: err}
		}
		return nil, fmt.Errorf("llm generate: %w", err)
	}

	proof := llm.ExtractFencedBlock(llm.StripThinkingTags(resp.Content), "lean")
	if strings.TrimSpace(proof) == "" {
		return nil, fmt.Errorf("llm generate: empty proof in response")
	}

	return &Result{ProofText: proof, Model: resp.Model}, nil
}
