package verifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// LeanConfig configures the Lean toolchain runner.
type LeanConfig struct {
	// ProjectDir is a Lean project root containing lakefile.toml with
	// Mathlib available. Required.
	ProjectDir string
	// Timeout bounds one `lake build` invocation.
	Timeout time.Duration
	// MaxConcurrent caps concurrent checker invocations independently of
	// the batch worker count; the Lean toolchain saturates a machine well
	// below typical batch parallelism.
	MaxConcurrent int
}

// DefaultLeanConfig returns the defaults used by the CLI.
func DefaultLeanConfig() *LeanConfig {
	return &LeanConfig{
		Timeout:       5 * time.Minute,
		MaxConcurrent: 2,
	}
}

// LeanVerifier runs candidate proofs through `lake build` in a Mathlib
// project.
type LeanVerifier struct {
	cfg *LeanConfig
	sem chan struct{}
}

// NewLean creates a Lean verifier. Returns an error when the project dir
// does not look like a Lean project.
func NewLean(cfg *LeanConfig) (*LeanVerifier, error) {
	if cfg == nil {
		cfg = DefaultLeanConfig()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.ProjectDir == "" {
		return nil, fmt.Errorf("lean verifier: project dir not configured")
	}
	if _, err := os.Stat(filepath.Join(cfg.ProjectDir, "lakefile.toml")); err != nil {
		if _, err2 := os.Stat(filepath.Join(cfg.ProjectDir, "lakefile.lean")); err2 != nil {
			return nil, fmt.Errorf("lean verifier: no lakefile in %s", cfg.ProjectDir)
		}
	}
	return &LeanVerifier{
		cfg: cfg,
		sem: make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

func (v *LeanVerifier) Name() string { return "lean" }

func (v *LeanVerifier) Verify(ctx context.Context, proofText string) (*Result, error) {
	start := time.Now()

	// An incomplete proof is a checked rejection, not an infrastructure
	// problem; no point spending a lake build on it.
	if HasSorry(proofText) {
		return &Result{
			Outcome:  OutcomeFail,
			Output:   "proof contains sorry (incomplete)",
			Errors:   []string{"proof contains sorry or admit: the checker would accept the shape but nothing is proved"},
			Duration: time.Since(start),
		}, nil
	}

	select {
	case v.sem <- struct{}{}:
		defer func() { <-v.sem }()
	case <-ctx.Done():
		return &Result{
			Outcome:  OutcomeError,
			Output:   "cancelled while waiting for checker slot",
			Errors:   []string{ctx.Err().Error()},
			Duration: time.Since(start),
		}, nil
	}

	moduleName, cleanup, err := v.writeCandidate(proofText)
	if err != nil {
		return &Result{
			Outcome:  OutcomeError,
			Output:   err.Error(),
			Errors:   []string{err.Error()},
			Duration: time.Since(start),
		}, nil
	}
	defer cleanup()

	res := v.runLakeBuild(ctx, moduleName)
	res.Duration = time.Since(start)
	return res, nil
}

// writeCandidate drops the proof into <project>/Candidates/<name>.lean and
// returns the lake module name plus a cleanup func.
func (v *LeanVerifier) writeCandidate(proofText string) (string, func(), error) {
	dir := filepath.Join(v.cfg.ProjectDir, "Candidates")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create candidates dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "Candidate*.lean")
	if err != nil {
		return "", nil, fmt.Errorf("create candidate file: %w", err)
	}
	path := f.Name()
	if _, err := f.WriteString(proofText); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("write candidate file: %w", err)
	}
	f.Close()

	rel, err := filepath.Rel(v.cfg.ProjectDir, path)
	if err != nil {
		os.Remove(path)
		return "", nil, err
	}
	module := strings.ReplaceAll(strings.TrimSuffix(rel, ".lean"), string(filepath.Separator), ".")
	return module, func() { os.Remove(path) }, nil
}

func (v *LeanVerifier) runLakeBuild(ctx context.Context, moduleName string) *Result {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "lake", "build", moduleName)
	cmd.Dir = v.cfg.ProjectDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	output := stdout.String() + stderr.String()
	errLines, warnLines := parseLeanOutput(output)

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &Result{
			Outcome: OutcomeError,
			Output:  output,
			Errors:  []string{fmt.Sprintf("verification timed out after %s", v.cfg.Timeout)},
		}
	case runErr != nil && len(errLines) == 0:
		// lake itself could not run (missing toolchain, crash): Error, not Fail.
		var execErr *exec.Error
		if errors.As(runErr, &execErr) {
			return &Result{
				Outcome: OutcomeError,
				Output:  output,
				Errors:  []string{fmt.Sprintf("cannot run lake: %v", runErr)},
			}
		}
		return &Result{
			Outcome: OutcomeFail,
			Output:  output,
			Errors:  []string{fmt.Sprintf("lake build failed: %v", runErr)},
		}
	case runErr != nil || len(errLines) > 0:
		return &Result{
			Outcome:  OutcomeFail,
			Output:   output,
			Errors:   errLines,
			Warnings: warnLines,
		}
	default:
		return &Result{
			Outcome:  OutcomePass,
			Output:   output,
			Warnings: warnLines,
		}
	}
}

// HasSorry reports whether non-comment lines contain a sorry/admit
// placeholder.
func HasSorry(proofText string) bool {
	for _, line := range strings.Split(proofText, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			continue
		}
		if strings.Contains(trimmed, "sorry") || strings.Contains(trimmed, "admit") {
			return true
		}
	}
	return false
}

// parseLeanOutput splits lake build output into error and warning lines.
func parseLeanOutput(output string) (errs, warnings []string) {
	for _, line := range strings.Split(output, "\n") {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "error:"):
			errs = append(errs, strings.TrimSpace(line))
		case strings.Contains(lower, "declaration uses 'sorry'"):
			warnings = append(warnings, "proof contains sorry (incomplete)")
		case strings.Contains(lower, "warning:"):
			warnings = append(warnings, strings.TrimSpace(line))
		}
	}
	return errs, warnings
}
