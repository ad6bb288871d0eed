package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/erdosproject/erdos/internal/llm"
)

func TestComplete(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatal(err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"content": "theorem t : True := trivial"},
				"finish_reason": "stop",
			}},
			"model": "deepseek-prover",
			"usage": map[string]int{"prompt_tokens": 30, "completion_tokens": 9},
		})
	}))
	defer srv.Close()

	c := New("sk-test", "deepseek-prover", srv.URL, "")
	resp, err := c.Complete(context.Background(), &llm.Prompt{
		SystemPrompt: "You prove theorems in Lean 4.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "prove True"}},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" {
		t.Errorf("system prompt must become the leading message, got %+v", gotBody.Messages)
	}
	if resp.Content != "theorem t : True := trivial" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.InputTokens != 30 || resp.OutputTokens != 9 {
		t.Errorf("usage lost: %+v", resp)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	defer srv.Close()

	c := New("sk-test", "m", srv.URL, "")
	if _, err := c.Complete(context.Background(), &llm.Prompt{}, nil); err == nil {
		t.Fatal("an empty choices list must be an error, not an empty proof")
	}
}

func TestComplete_ErrorCarriesStatusCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":"rate_limit_exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New("sk-test", "m", srv.URL, "")
	_, err := c.Complete(context.Background(), &llm.Prompt{}, nil)
	if err == nil || !strings.Contains(err.Error(), "HTTP 429") {
		t.Fatalf("numeric status must survive for retry classification: %v", err)
	}
}

func TestEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var body embedRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Model != "text-embedding-3-small" {
			t.Errorf("embed model = %q", body.Model)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"embedding": []float32{0.1, 0.2}},
				{"embedding": []float32{0.3, 0.4}},
			},
		})
	}))
	defer srv.Close()

	c := New("sk-test", "m", srv.URL, "")
	vecs, err := c.Embed(context.Background(), []string{"lemma one", "lemma two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 2 {
		t.Fatalf("vectors = %v", vecs)
	}
}
