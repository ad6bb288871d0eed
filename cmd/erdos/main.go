package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/erdosproject/erdos/internal/batch"
	"github.com/erdosproject/erdos/internal/config"
	"github.com/erdosproject/erdos/internal/generator"
	"github.com/erdosproject/erdos/internal/judge"
	"github.com/erdosproject/erdos/internal/llm"
	"github.com/erdosproject/erdos/internal/llmutil"
	"github.com/erdosproject/erdos/internal/metrics"
	"github.com/erdosproject/erdos/internal/observability"
	"github.com/erdosproject/erdos/internal/problem"
	"github.com/erdosproject/erdos/internal/session"
	"github.com/erdosproject/erdos/internal/store"
	"github.com/erdosproject/erdos/internal/vector"
	"github.com/erdosproject/erdos/internal/verifier"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "erdos",
		Short: "Automated theorem proving pipeline (generate, verify, judge, retry)",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/erdos.yaml", "Config file path")

	var (
		proofHint      string
		proofFile      string
		contextPaths   []string
		contextFolder  string
		outputPath     string
		maxIterations  int
		noVerify       bool
		relatedContext bool
		jsonOut        bool
	)

	proveCmd := &cobra.Command{
		Use:   "prove <problem-file>",
		Short: "Run the proof pipeline on a single problem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProve(configPath, args[0], proveOptions{
				proofHint:      proofHint,
				proofFile:      proofFile,
				contextPaths:   contextPaths,
				contextFolder:  contextFolder,
				outputPath:     outputPath,
				maxIterations:  maxIterations,
				noVerify:       noVerify,
				relatedContext: relatedContext,
				jsonOut:        jsonOut,
			})
		},
	}
	proveCmd.Flags().StringVarP(&proofHint, "proof-hint", "p", "", "Proof sketch passed to the generator")
	proveCmd.Flags().StringVar(&proofFile, "proof-file", "", "File containing a proof sketch (overrides --proof-hint)")
	proveCmd.Flags().StringArrayVarP(&contextPaths, "context", "c", nil, "Context file (repeatable)")
	proveCmd.Flags().StringVar(&contextFolder, "context-folder", "", "Folder of context files")
	proveCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the accepted proof to this path")
	proveCmd.Flags().IntVarP(&maxIterations, "max-iterations", "n", 0, "Attempt budget (0 = config default)")
	proveCmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip verification and judging")
	proveCmd.Flags().BoolVar(&relatedContext, "related-context", false, "Retrieve related lemmas from the vector store")
	proveCmd.Flags().BoolVar(&jsonOut, "json", false, "Output the session result as JSON")

	checkCmd := &cobra.Command{
		Use:   "check <file.lean>",
		Short: "Verify an existing Lean proof without generating anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(configPath, args[0], jsonOut)
		},
	}
	checkCmd.Flags().BoolVar(&jsonOut, "json", false, "Output the verifier result as JSON")

	var (
		batchPattern string
		batchOutput  string
		batchWorkers int
		batchJSON    bool
		runLogPath   string
	)

	batchCmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Run the proof pipeline over every problem in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(configPath, args[0], batchOptions{
				pattern:    batchPattern,
				outputDir:  batchOutput,
				workers:    batchWorkers,
				jsonOut:    batchJSON,
				runLogPath: runLogPath,
			})
		},
	}
	batchCmd.Flags().StringVar(&batchPattern, "pattern", "", "Problem file glob (default from config)")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "Directory for solved proofs (<stem>_solved.lean)")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "Concurrent sessions (0 = config default)")
	batchCmd.Flags().BoolVar(&batchJSON, "json", false, "Output the batch report as JSON")
	batchCmd.Flags().StringVar(&runLogPath, "run-log", "", "Append per-event JSONL run log to this path")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available LLM providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-14s %s\n", name, url)
			}
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println("  none           (run without an LLM — judging disabled)")
			fmt.Println()
			fmt.Println("Configure in erdos.yaml or via environment:")
			fmt.Println("  ERDOS_LLM_PROVIDER=anthropic")
			fmt.Println("  ERDOS_LLM_API_KEY=sk-...")
			fmt.Println("  ERDOS_GENERATOR_API_KEY=ak-...")
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(configPath)
		},
	}

	// Lemma library operations for the vector store.
	lemmasCmd := &cobra.Command{
		Use:   "lemmas",
		Short: "Manage the lemma context library",
	}

	lemmasIndexCmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Embed and index lemma files for retrieval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLemmasIndex(configPath, args[0])
		},
	}

	var searchTopK int
	lemmasSearchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the lemma library for related statements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLemmasSearch(configPath, args[0], searchTopK)
		},
	}
	lemmasSearchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "Result count (0 = config default)")

	lemmasCmd.AddCommand(lemmasIndexCmd, lemmasSearchCmd)
	rootCmd.AddCommand(proveCmd, checkCmd, batchCmd, providersCmd, configCmd, lemmasCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type proveOptions struct {
	proofHint      string
	proofFile      string
	contextPaths   []string
	contextFolder  string
	outputPath     string
	maxIterations  int
	noVerify       bool
	relatedContext bool
	jsonOut        bool
}

type batchOptions struct {
	pattern    string
	outputDir  string
	workers    int
	jsonOut    bool
	runLogPath string
}

func runProve(configPath, problemPath string, opts proveOptions) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	hint := opts.proofHint
	if opts.proofFile != "" {
		data, err := os.ReadFile(opts.proofFile)
		if err != nil {
			return fmt.Errorf("read proof file: %w", err)
		}
		hint = string(data)
	}

	contextPaths := opts.contextPaths
	if opts.contextFolder != "" {
		folderFiles, err := problem.ScanContextFolder(opts.contextFolder)
		if err != nil {
			return err
		}
		contextPaths = append(contextPaths, folderFiles...)
	}

	p, err := problem.LoadWithHint(problemPath, hint, contextPaths)
	if err != nil {
		return err
	}

	ctx := context.Background()

	if opts.relatedContext {
		related, err := retrieveRelated(ctx, cfg, p.Statement, cfg.Vector.TopK)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: lemma retrieval failed (%v), continuing without it\n", err)
		} else if len(related) > 0 {
			fmt.Printf("Retrieved %d related lemmas\n", len(related))
			p.Context = append(p.Context, related...)
		}
	}

	deps, err := buildDeps(cfg, !opts.noVerify, logger)
	if err != nil {
		return err
	}

	sessCfg := sessionConfig(cfg)
	if opts.maxIterations > 0 {
		sessCfg.MaxIterations = opts.maxIterations
	}
	if opts.noVerify {
		sessCfg.VerifyEnabled = false
	}

	fmt.Printf("Proving %s (%s, budget %d)\n", p.DisplayName(), p.Format, sessCfg.MaxIterations)
	fmt.Printf("Generator: %s\n", deps.Generator.Name())

	s := session.New(p, deps, sessCfg)
	status := s.Run(ctx)

	persistSession(ctx, cfg, logger, s)

	if opts.jsonOut {
		return printSessionJSON(s)
	}

	fmt.Println()
	switch status {
	case session.StatusSucceeded:
		a := s.AcceptedAttempt()
		fmt.Printf("SUCCEEDED after %d attempt(s) in %s\n", len(s.Attempts), s.Duration().Round(time.Second))
		if opts.outputPath != "" {
			if err := writeProof(opts.outputPath, a.ProofText); err != nil {
				return err
			}
			fmt.Printf("Proof written to %s\n", opts.outputPath)
		} else {
			fmt.Println("\n" + a.ProofText)
		}
		return nil
	case session.StatusExhausted:
		fmt.Printf("EXHAUSTED: budget of %d attempts spent without an accepted proof\n", sessCfg.MaxIterations)
		if last := lastDiagnostic(s); last != "" {
			fmt.Printf("Last failure:\n%s\n", last)
		}
		return fmt.Errorf("no proof found")
	default:
		fmt.Printf("FATAL: %s\n", s.FatalReason)
		return fmt.Errorf("pipeline failed: %s", s.FatalReason)
	}
}

func runCheck(configPath, leanPath string, jsonOut bool) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(leanPath)
	if err != nil {
		return fmt.Errorf("read proof: %w", err)
	}

	lean, err := newLeanVerifier(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Checking %s\n", filepath.Base(leanPath))
	result, err := lean.Verify(context.Background(), string(data))
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	if jsonOut {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	} else {
		fmt.Printf("Outcome: %s (%s)\n", result.Outcome, result.Duration.Round(time.Millisecond))
		for _, e := range result.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		for _, w := range result.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}

	if !result.Passed() {
		return fmt.Errorf("proof did not pass")
	}
	return nil
}

func runBatch(configPath, dir string, opts batchOptions) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	pattern := opts.pattern
	if pattern == "" {
		pattern = cfg.Batch.Pattern
	}
	workers := opts.workers
	if workers <= 0 {
		workers = cfg.Batch.Workers
	}

	problems, err := problem.Glob(dir, pattern)
	if err != nil {
		return err
	}
	if len(problems) == 0 {
		return fmt.Errorf("no problems matching %q under %s", pattern, dir)
	}

	ctx := context.Background()

	tracingCfg := observability.DefaultTracingConfig()
	tracingCfg.OTLPEndpoint = os.Getenv("ERDOS_OTLP_ENDPOINT")
	tp, err := observability.InitTracing(ctx, tracingCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: tracing init failed (%v), continuing without it\n", err)
	} else {
		defer tp.Shutdown(context.Background())
	}

	deps, err := buildDeps(cfg, cfg.Pipeline.VerifyEnabled, logger)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	audit, err := observability.NewAuditLogger(opts.runLogPath, runID)
	if err != nil {
		return err
	}
	defer audit.Close()

	var recorder batch.Recorder
	if cfg.Store.Path != "" {
		st, err := store.New(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		recorder = st
	}

	fmt.Printf("Batch: %d problems, %d workers, pattern %q\n", len(problems), workers, pattern)

	runner := &batch.Runner{
		Deps:    deps,
		Config:  sessionConfig(cfg),
		Workers: workers,
		Store:   recorder,
		Audit:   audit,
		Metrics: observability.Metrics(),
		Logger:  logger,
	}

	result, err := runner.Run(ctx, problems)
	if err != nil {
		return err
	}

	if opts.outputDir != "" {
		if err := writeSolved(opts.outputDir, result); err != nil {
			return err
		}
	}

	report := metrics.NewBatchReport(result)
	if opts.jsonOut {
		data, err := report.JSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		report.PrintSummary(os.Stdout)
	}
	return nil
}

func runConfig(configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return err
	}

	redacted := *cfg
	redacted.Generator.APIKey = redactKey(cfg.Generator.APIKey)
	redacted.LLM.APIKey = redactKey(cfg.LLM.APIKey)
	for role, o := range cfg.LLM.Roles {
		o.APIKey = redactKey(o.APIKey)
		redacted.LLM.Roles[role] = o
	}

	data, err := json.MarshalIndent(&redacted, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runLemmasIndex(configPath, dir string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	files, err := problem.ScanContextFolder(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no lemma files under %s", dir)
	}

	snippets := make([]string, 0, len(files))
	metadata := make([]map[string]string, 0, len(files))
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read lemma file: %w", err)
		}
		snippets = append(snippets, string(data))
		metadata = append(metadata, map[string]string{"source": f})
	}

	ctx := context.Background()
	retriever, closeRepo, err := newRetriever(ctx, cfg, cfg.Vector.TopK)
	if err != nil {
		return err
	}
	defer closeRepo()

	if err := retriever.Index(ctx, snippets, metadata); err != nil {
		return fmt.Errorf("index lemmas: %w", err)
	}
	fmt.Printf("Indexed %d lemma files into collection %q\n", len(files), cfg.Vector.Collection)
	return nil
}

func runLemmasSearch(configPath, query string, topK int) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if topK <= 0 {
		topK = cfg.Vector.TopK
	}

	ctx := context.Background()
	results, err := retrieveRelated(ctx, cfg, query, topK)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("No related lemmas found")
		return nil
	}
	for i, r := range results {
		fmt.Printf("--- result %d ---\n%s\n", i+1, strings.TrimSpace(r))
	}
	return nil
}

// loadConfig resolves the config file (falling back to defaults when it is
// missing) and builds the slog logger the pipeline components share.
func loadConfig(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return cfg, slog.New(handler), nil
}

// newFactory registers every supported provider backend.
func newFactory() *llm.ProviderFactory {
	factory := llm.NewFactory()
	llmutil.RegisterDefaultProviders(factory)
	return factory
}

func providerForRole(factory *llm.ProviderFactory, cfg *config.Config, role string) (llm.Provider, error) {
	roleCfg := cfg.LLM.ResolveForRole(role)
	p, err := factory.Create(llm.ProviderConfig{
		Provider:   roleCfg.Provider,
		APIKey:     roleCfg.APIKey,
		Model:      roleCfg.Model,
		BaseURL:    roleCfg.BaseURL,
		EmbedModel: roleCfg.EmbedModel,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s provider: %w", role, err)
	}
	if p == nil {
		return nil, nil
	}
	p = llm.WithObservability(p, roleCfg.Model)
	return llm.WithRateLimit(p, llm.DefaultRateLimitConfig()), nil
}

// buildDeps assembles the generator, verifier and judge adapters from
// config.
func buildDeps(cfg *config.Config, verify bool, logger *slog.Logger) (session.Deps, error) {
	factory := newFactory()

	judgeProvider, err := providerForRole(factory, cfg, "judge")
	if err != nil {
		return session.Deps{}, err
	}
	var proofJudge judge.Judge = judge.Disabled()
	var analyzer judge.Analyzer
	if judgeProvider != nil {
		llmJudge := judge.NewLLM(judgeProvider)
		proofJudge = llmJudge
		analyzer = llmJudge
	}

	var gen generator.Generator
	switch cfg.Generator.Backend {
	case "llm":
		proverProvider, err := providerForRole(factory, cfg, "prover")
		if err != nil {
			return session.Deps{}, err
		}
		if proverProvider == nil {
			return session.Deps{}, fmt.Errorf("generator backend 'llm' requires an LLM provider")
		}
		gen = generator.NewLLM(proverProvider)
	default:
		gen = generator.NewAristotle(cfg.Generator.APIKey, cfg.Generator.BaseURL, cfg.Generator.PollInterval)
	}

	var v verifier.Verifier
	if verify {
		lean, err := newLeanVerifier(cfg)
		if err != nil {
			return session.Deps{}, err
		}
		v = lean
	}

	return session.Deps{
		Generator: gen,
		Verifier:  v,
		Judge:     proofJudge,
		Analyzer:  analyzer,
		Logger:    logger,
	}, nil
}

func newLeanVerifier(cfg *config.Config) (*verifier.LeanVerifier, error) {
	lean, err := verifier.NewLean(&verifier.LeanConfig{
		ProjectDir:    cfg.Verifier.ProjectDir,
		Timeout:       cfg.Verifier.Timeout,
		MaxConcurrent: cfg.Verifier.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("lean verifier: %w", err)
	}
	return lean, nil
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		MaxIterations:    cfg.Pipeline.MaxIterations,
		VerifyEnabled:    cfg.Pipeline.VerifyEnabled,
		JudgeEnabled:     cfg.Pipeline.JudgeEnabled,
		MaxTokens:        cfg.Pipeline.MaxTokens,
		MaxFeedbackBytes: cfg.Pipeline.MaxFeedbackBytes,
	}
}

// newRetriever dials qdrant and builds the embedding retriever. The judge
// role's provider is reused for embeddings.
func newRetriever(ctx context.Context, cfg *config.Config, topK int) (*vector.Retriever, func(), error) {
	provider, err := providerForRole(newFactory(), cfg, "analyzer")
	if err != nil {
		return nil, nil, err
	}
	if provider == nil {
		return nil, nil, fmt.Errorf("lemma retrieval requires an LLM provider with embeddings")
	}

	repo, err := vector.NewQdrant(ctx, cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection)
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant: %w", err)
	}
	return vector.NewRetriever(provider, repo, topK), func() { _ = repo.Close() }, nil
}

func retrieveRelated(ctx context.Context, cfg *config.Config, statement string, topK int) ([]string, error) {
	retriever, closeRepo, err := newRetriever(ctx, cfg, topK)
	if err != nil {
		return nil, err
	}
	defer closeRepo()
	return retriever.RelatedContext(ctx, statement)
}

func persistSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, s *session.Session) {
	if cfg.Store.Path == "" {
		return
	}
	st, err := store.New(cfg.Store.Path)
	if err != nil {
		logger.Warn("store unavailable", "error", err)
		return
	}
	defer st.Close()
	if err := st.SaveSession(ctx, s); err != nil {
		logger.Warn("persist session failed", "session", s.ID, "error", err)
	}
}

func printSessionJSON(s *session.Session) error {
	out := struct {
		SessionID   string             `json:"session_id"`
		ProblemID   string             `json:"problem_id"`
		Status      session.Status     `json:"status"`
		Attempts    []*session.Attempt `json:"attempts"`
		FatalReason string             `json:"fatal_reason,omitempty"`
		DurationMS  int64              `json:"duration_ms"`
	}{
		SessionID:   s.ID,
		ProblemID:   s.Problem.ID,
		Status:      s.Status,
		Attempts:    s.Attempts,
		FatalReason: s.FatalReason,
		DurationMS:  s.Duration().Milliseconds(),
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func lastDiagnostic(s *session.Session) string {
	for i := len(s.Attempts) - 1; i >= 0; i-- {
		a := s.Attempts[i]
		if a.Verify != nil && !a.Verify.Passed() {
			return a.Verify.Diagnostic()
		}
		if a.Verdict != nil && !a.Verdict.Accepted() {
			return a.Verdict.Reason
		}
	}
	return ""
}

func writeProof(path, proofText string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(proofText), 0o644)
}

// writeSolved writes each accepted proof as <stem>_solved.lean under dir.
func writeSolved(dir string, result *batch.Result) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, pr := range result.Sorted() {
		if pr.Proof == "" {
			continue
		}
		name := problem.Stem(pr.ProblemID) + "_solved.lean"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(pr.Proof), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func redactKey(key string) string {
	if key == "" {
		return ""
	}
	return "***"
}
