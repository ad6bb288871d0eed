package generator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/erdosproject/erdos/internal/problem"
)

func leanProblem(statement string) *problem.Problem {
	return &problem.Problem{ID: "p1", Statement: statement, Format: problem.FormatLean}
}

func informalProblem(statement, hint string) *problem.Problem {
	return &problem.Problem{ID: "p2", Statement: statement, Format: problem.FormatTeX, Hint: hint}
}

func TestAristotle_Generate_SubmitAndPoll(t *testing.T) {
	var polls atomic.Int32
	var submitted map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/projects":
			if err := json.NewDecoder(r.Body).Decode(&submitted); err != nil {
				t.Errorf("bad submit body: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{"project_id": "proj-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/projects/proj-1":
			if polls.Add(1) < 2 {
				json.NewEncoder(w).Encode(map[string]string{"status": "in_progress"})
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"status": "complete",
				"proof":  "theorem t : True := trivial",
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewAristotle("test-key", srv.URL, time.Millisecond)
	res, err := c.Generate(context.Background(), &Request{
		Problem:  leanProblem("theorem t : True"),
		Feedback: "previous attempt had unsolved goals",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if res.ProofText != "theorem t : True := trivial" {
		t.Errorf("proof = %q", res.ProofText)
	}
	if polls.Load() < 2 {
		t.Errorf("expected at least 2 polls, got %d", polls.Load())
	}
	if submitted["input_type"] != "formal_lean" {
		t.Errorf("input_type = %v", submitted["input_type"])
	}
	if submitted["feedback"] != "previous attempt had unsolved goals" {
		t.Errorf("feedback not forwarded: %v", submitted["feedback"])
	}
}

func TestAristotle_Generate_InformalCarriesHintInline(t *testing.T) {
	var submitted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewDecoder(r.Body).Decode(&submitted)
			json.NewEncoder(w).Encode(map[string]string{"project_id": "proj-2"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "complete", "proof": "theorem t : True := trivial"})
	}))
	defer srv.Close()

	c := NewAristotle("test-key", srv.URL, time.Millisecond)
	_, err := c.Generate(context.Background(), &Request{
		Problem: informalProblem("Show that $1+1=2$.", "use Peano axioms"),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if submitted["input_type"] != "informal" {
		t.Errorf("input_type = %v", submitted["input_type"])
	}
	input, _ := submitted["input"].(string)
	if !strings.Contains(input, "PROVIDED SOLUTION:") || !strings.Contains(input, "use Peano axioms") {
		t.Errorf("hint not inlined into statement: %q", input)
	}
}

func TestAristotle_Generate_AuthRejectedIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAristotle("bad-key", srv.URL, time.Millisecond)
	_, err := c.Generate(context.Background(), &Request{Problem: leanProblem("theorem t : True")})
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestAristotle_Generate_MalformedInputIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not parseable as a theorem", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewAristotle("test-key", srv.URL, time.Millisecond)
	_, err := c.Generate(context.Background(), &Request{Problem: leanProblem("garbage")})
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestAristotle_Generate_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewAristotle("test-key", srv.URL, time.Millisecond)
	_, err := c.Generate(context.Background(), &Request{Problem: leanProblem("theorem t : True")})
	if err == nil {
		t.Fatal("expected error")
	}
	if IsFatal(err) {
		t.Fatalf("server failure must stay retryable, got fatal: %v", err)
	}
}

func TestAristotle_Generate_ProjectFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"project_id": "proj-3"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "failed", "error": "search exhausted"})
	}))
	defer srv.Close()

	c := NewAristotle("test-key", srv.URL, time.Millisecond)
	_, err := c.Generate(context.Background(), &Request{Problem: leanProblem("theorem t : True")})
	if err == nil || !strings.Contains(err.Error(), "search exhausted") {
		t.Fatalf("err = %v", err)
	}
	if IsFatal(err) {
		t.Fatal("prover giving up is attempt-local, not fatal")
	}
}

func TestAristotle_Generate_CancelDuringPoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			json.NewEncoder(w).Encode(map[string]string{"project_id": "proj-4"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewAristotle("test-key", srv.URL, time.Hour)
	_, err := c.Generate(ctx, &Request{Problem: leanProblem("theorem t : True")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestAristotle_Generate_EmptyInputs(t *testing.T) {
	c := NewAristotle("", "http://unused.invalid", time.Millisecond)

	_, err := c.Generate(context.Background(), &Request{Problem: leanProblem("   ")})
	if !IsFatal(err) {
		t.Fatalf("empty statement: expected fatal, got %v", err)
	}

	_, err = c.Generate(context.Background(), &Request{Problem: leanProblem("theorem t : True")})
	if !IsFatal(err) {
		t.Fatalf("missing api key: expected fatal, got %v", err)
	}
}
