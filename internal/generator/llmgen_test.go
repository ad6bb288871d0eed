package generator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/erdosproject/erdos/internal/llm"
	"github.com/erdosproject/erdos/internal/problem"
)

type scriptedProvider struct {
	content string
	err     error
	prompts []*llm.Prompt
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, prompt *llm.Prompt, _ *llm.RequestOptions) (*llm.Response, error) {
	p.prompts = append(p.prompts, prompt)
	if p.err != nil {
		return nil, p.err
	}
	return &llm.Response{Content: p.content, Model: "scripted-model"}, nil
}

func (p *scriptedProvider) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("not supported")
}

func TestLLMGenerator_ExtractsFencedProof(t *testing.T) {
	provider := &scriptedProvider{
		content: "Here is the proof.\n```lean\ntheorem t : True := trivial\n```\nHope it compiles.",
	}
	g := NewLLM(provider)

	res, err := g.Generate(context.Background(), &Request{
		Problem: &problem.Problem{ID: "p", Statement: "theorem t : True", Format: problem.FormatLean},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.ProofText != "theorem t : True := trivial" {
		t.Errorf("proof = %q", res.ProofText)
	}
	if res.Model != "scripted-model" {
		t.Errorf("model = %q", res.Model)
	}
}

func TestLLMGenerator_PromptCarriesHintContextFeedback(t *testing.T) {
	provider := &scriptedProvider{content: "```lean\ntheorem t : True := trivial\n```"}
	g := NewLLM(provider)

	_, err := g.Generate(context.Background(), &Request{
		Problem: &problem.Problem{
			ID:        "p",
			Statement: "theorem t : True",
			Format:    problem.FormatLean,
			Hint:      "try trivial",
			Context:   []string{"lemma helper : 1 = 1 := rfl"},
		},
		Feedback: "unsolved goals at line 2",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	user := provider.prompts[0].Messages[0].Content
	for _, want := range []string{"theorem t : True", "try trivial", "lemma helper", "unsolved goals at line 2"} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestLLMGenerator_AuthErrorIsFatal(t *testing.T) {
	g := NewLLM(&scriptedProvider{err: errors.New("HTTP 401: invalid api key")})

	_, err := g.Generate(context.Background(), &Request{
		Problem: &problem.Problem{ID: "p", Statement: "theorem t : True", Format: problem.FormatLean},
	})
	if !IsFatal(err) {
		t.Fatalf("expected fatal, got %v", err)
	}
}

func TestLLMGenerator_TransientErrorIsNotFatal(t *testing.T) {
	g := NewLLM(&scriptedProvider{err: errors.New("HTTP 503: overloaded")})

	_, err := g.Generate(context.Background(), &Request{
		Problem: &problem.Problem{ID: "p", Statement: "theorem t : True", Format: problem.FormatLean},
	})
	if err == nil || IsFatal(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}

func TestLLMGenerator_EmptyProofInResponse(t *testing.T) {
	g := NewLLM(&scriptedProvider{content: "I could not find a proof, sorry."})

	// No fence: the raw content becomes the proof text, which is fine.
	res, err := g.Generate(context.Background(), &Request{
		Problem: &problem.Problem{ID: "p", Statement: "theorem t : True", Format: problem.FormatLean},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.ProofText == "" {
		t.Error("expected non-empty proof text")
	}

	g = NewLLM(&scriptedProvider{content: "```lean\n\n```"})
	if _, err := g.Generate(context.Background(), &Request{
		Problem: &problem.Problem{ID: "p", Statement: "theorem t : True", Format: problem.FormatLean},
	}); err == nil {
		t.Fatal("expected error for empty fenced proof")
	}
}

func TestLLMGenerator_NoProviderIsFatal(t *testing.T) {
	g := NewLLM(nil)
	_, err := g.Generate(context.Background(), &Request{
		Problem: &problem.Problem{ID: "p", Statement: "theorem t : True", Format: problem.FormatLean},
	})
	if !IsFatal(err) {
		t.Fatalf("expected fatal, got %v", err)
	}
}

func TestFatalError(t *testing.T) {
	inner := errors.New("boom")
	err := &FatalError{Reason: "auth rejected", Err: inner}

	if !IsFatal(err) {
		t.Error("IsFatal(FatalError) = false")
	}
	if !errors.Is(err, inner) {
		t.Error("FatalError does not unwrap to inner error")
	}
	if IsFatal(errors.New("plain")) {
		t.Error("plain error reported fatal")
	}
	if IsFatal(nil) {
		t.Error("nil reported fatal")
	}

	wrapped := Fatalf("bad input: %s", "x")
	if !IsFatal(wrapped) {
		t.Error("Fatalf result not fatal")
	}
}
