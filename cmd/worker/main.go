package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	temporalclient "go.temporal.io/sdk/client"

	"github.com/erdosproject/erdos/internal/config"
	"github.com/erdosproject/erdos/internal/generator"
	"github.com/erdosproject/erdos/internal/judge"
	"github.com/erdosproject/erdos/internal/llm"
	"github.com/erdosproject/erdos/internal/llmutil"
	"github.com/erdosproject/erdos/internal/observability"
	temporalmod "github.com/erdosproject/erdos/internal/temporal"
	"github.com/erdosproject/erdos/internal/verifier"
)

func main() {
	configPath := "configs/erdos.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Build LLM provider via factory (supports no-LLM operation).
	factory := llm.NewFactory()
	llmutil.RegisterDefaultProviders(factory)

	judgeCfg := cfg.LLM.ResolveForRole("judge")
	judgeProvider, err := factory.Create(llm.ProviderConfig{
		Provider: judgeCfg.Provider,
		APIKey:   judgeCfg.APIKey,
		Model:    judgeCfg.Model,
		BaseURL:  judgeCfg.BaseURL,
	})
	if err != nil {
		log.Fatalf("creating judge provider: %v", err)
	}

	var proofJudge judge.Judge = judge.Disabled()
	if judgeProvider != nil {
		judgeProvider = llm.WithObservability(judgeProvider, judgeCfg.Model)
		judgeProvider = llm.WithRateLimit(judgeProvider, llm.DefaultRateLimitConfig())
		proofJudge = judge.NewLLM(judgeProvider)
	}

	var gen generator.Generator
	switch cfg.Generator.Backend {
	case "llm":
		proverCfg := cfg.LLM.ResolveForRole("prover")
		proverProvider, err := factory.Create(llm.ProviderConfig{
			Provider: proverCfg.Provider,
			APIKey:   proverCfg.APIKey,
			Model:    proverCfg.Model,
			BaseURL:  proverCfg.BaseURL,
		})
		if err != nil {
			log.Fatalf("creating prover provider: %v", err)
		}
		if proverProvider == nil {
			log.Fatal("generator backend 'llm' requires an LLM provider")
		}
		proverProvider = llm.WithObservability(proverProvider, proverCfg.Model)
		gen = generator.NewLLM(llm.WithRateLimit(proverProvider, llm.DefaultRateLimitConfig()))
	default:
		gen = generator.NewAristotle(cfg.Generator.APIKey, cfg.Generator.BaseURL, cfg.Generator.PollInterval)
	}

	lean, err := verifier.NewLean(&verifier.LeanConfig{
		ProjectDir:    cfg.Verifier.ProjectDir,
		Timeout:       cfg.Verifier.Timeout,
		MaxConcurrent: cfg.Verifier.MaxConcurrent,
	})
	if err != nil {
		log.Fatalf("lean verifier: %v", err)
	}

	temporalmod.SetDependencies(&temporalmod.Dependencies{
		Generator: gen,
		Verifier:  lean,
		Judge:     proofJudge,
	})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}

	fmt.Printf("Worker started on task queue: %s\n", cfg.Temporal.TaskQueue)

	if addr := os.Getenv("ERDOS_METRICS_ADDR"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Metrics().Handler())
		go func() {
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Printf("metrics endpoint: %v", err)
			}
		}()
		fmt.Printf("Metrics served on http://%s/metrics\n", addr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	w.Stop()
	fmt.Println("Worker stopped")
}
