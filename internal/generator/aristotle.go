package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAristotleBaseURL = "https://api.aristotle.harmonic.fun/v1"

// AristotleClient implements Generator against the Aristotle prover API.
// Proof generation is asynchronous: a project is submitted, then polled
// until it completes or fails.
type AristotleClient struct {
	apiKey       string
	baseURL      string
	pollInterval time.Duration
	http         *http.Client
}

// NewAristotle creates an Aristotle-backed generator.
func NewAristotle(apiKey, baseURL string, pollInterval time.Duration) *AristotleClient {
	if baseURL == "" {
		baseURL = defaultAristotleBaseURL
	}
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &AristotleClient{
		apiKey:       apiKey,
		baseURL:      baseURL,
		pollInterval: pollInterval,
		http:         &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *AristotleClient) Name() string { return "aristotle" }

// projectStatus values reported by the service.
const (
	statusQueued     = "queued"
	statusInProgress = "in_progress"
	statusComplete   = "complete"
	statusFailed     = "failed"
)

func (c *AristotleClient) Generate(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Problem == nil || strings.TrimSpace(req.Problem.Statement) == "" {
		return nil, &FatalError{Reason: "empty problem statement"}
	}
	if c.apiKey == "" {
		return nil, &FatalError{Reason: "aristotle api key not configured"}
	}

	id, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.poll(ctx, id)
}

func (c *AristotleClient) submit(ctx context.Context, req *Request) (string, error) {
	inputType := "informal"
	if req.Problem.IsFormal() {
		inputType = "formal_lean"
	}

	// Informal submissions carry the hint inline, the way a human would
	// attach a proof sketch to the statement.
	statement := req.Problem.Statement
	if !req.Problem.IsFormal() && req.Problem.Hint != "" {
		statement = statement + "\n\nPROVIDED SOLUTION:\n" + req.Problem.Hint
	}

	body := map[string]any{
		"input":      statement,
		"input_type": inputType,
	}
	if len(req.Problem.Context) > 0 {
		body["context"] = req.Problem.Context
	}
	if req.Feedback != "" {
		body["feedback"] = req.Feedback
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/projects", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("aristotle submit: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &FatalError{Reason: fmt.Sprintf("aristotle auth rejected: %s", resp.Status)}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", &FatalError{Reason: fmt.Sprintf("aristotle rejected problem: %s: %s", resp.Status, respBody)}
	default:
		return "", fmt.Errorf("aristotle submit: %s: %s", resp.Status, respBody)
	}

	var result struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("aristotle submit response: %w", err)
	}
	if result.ProjectID == "" {
		return "", fmt.Errorf("aristotle submit: no project id in response")
	}
	return result.ProjectID, nil
}

func (c *AristotleClient) poll(ctx context.Context, projectID string) (*Result, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		status, proof, errMsg, err := c.fetch(ctx, projectID)
		if err != nil {
			return nil, err
		}

		switch status {
		case statusComplete:
			if strings.TrimSpace(proof) == "" {
				return nil, fmt.Errorf("aristotle project %s completed without a proof", projectID)
			}
			return &Result{ProofText: proof, Model: "aristotle"}, nil
		case statusFailed:
			if errMsg == "" {
				errMsg = "no detail provided"
			}
			return nil, fmt.Errorf("aristotle project %s failed: %s", projectID, errMsg)
		case statusQueued, statusInProgress:
		default:
			return nil, fmt.Errorf("aristotle project %s: unknown status %q", projectID, status)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *AristotleClient) fetch(ctx context.Context, projectID string) (status, proof, errMsg string, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/projects/"+projectID, nil)
	if err != nil {
		return "", "", "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", "", "", fmt.Errorf("aristotle poll: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", "", fmt.Errorf("aristotle poll: %s: %s", resp.Status, respBody)
	}

	var result struct {
		Status string `json:"status"`
		Proof  string `json:"proof"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", "", "", fmt.Errorf("aristotle poll response: %w", err)
	}
	return result.Status, result.Proof, result.Error, nil
}
