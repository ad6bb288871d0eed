// Package config loads erdos configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Generator GeneratorConfig `mapstructure:"generator"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Verifier  VerifierConfig  `mapstructure:"verifier"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Store     StoreConfig     `mapstructure:"store"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Log       LogConfig       `mapstructure:"log"`
}

// GeneratorConfig selects and configures the proof generator backend.
type GeneratorConfig struct {
	// Backend is "aristotle" or "llm".
	Backend      string        `mapstructure:"backend"`
	APIKey       string        `mapstructure:"api_key"`
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	// EmbedModel is used for lemma retrieval (OpenAI-compatible providers).
	EmbedModel string `mapstructure:"embed_model"`

	// Per-role overrides. Keys are role names ("prover", "judge",
	// "analyzer"). Each override inherits unset fields from the top-level
	// LLM config.
	Roles map[string]LLMRoleOverride `mapstructure:"roles"`
}

// LLMRoleOverride allows per-role LLM provider configuration.
type LLMRoleOverride struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// ResolveForRole returns an LLMConfig with role-specific overrides applied.
func (c LLMConfig) ResolveForRole(role string) LLMConfig {
	override, ok := c.Roles[role]
	if !ok {
		return c
	}
	resolved := c
	if override.Provider != "" {
		resolved.Provider = override.Provider
	}
	if override.Model != "" {
		resolved.Model = override.Model
	}
	if override.APIKey != "" {
		resolved.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		resolved.BaseURL = override.BaseURL
	}
	return resolved
}

// VerifierConfig configures the Lean checker.
type VerifierConfig struct {
	ProjectDir    string        `mapstructure:"project_dir"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
}

// PipelineConfig holds the per-session retry policy.
type PipelineConfig struct {
	MaxIterations    int  `mapstructure:"max_iterations"`
	VerifyEnabled    bool `mapstructure:"verify"`
	JudgeEnabled     bool `mapstructure:"judge"`
	MaxTokens        int  `mapstructure:"max_tokens"`
	MaxFeedbackBytes int  `mapstructure:"max_feedback_bytes"`
}

type BatchConfig struct {
	Workers int    `mapstructure:"workers"`
	Pattern string `mapstructure:"pattern"`
	Output  string `mapstructure:"output"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	TopK       int    `mapstructure:"top_k"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Generator: GeneratorConfig{
			Backend:      "aristotle",
			BaseURL:      "https://aristotle.harmonic.fun/api/v1",
			PollInterval: 30 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Temperature: 0.2,
			MaxTokens:   8192,
			EmbedModel:  "text-embedding-3-small",
		},
		Verifier: VerifierConfig{
			Timeout:       5 * time.Minute,
			MaxConcurrent: 2,
		},
		Pipeline: PipelineConfig{
			MaxIterations:    5,
			VerifyEnabled:    true,
			JudgeEnabled:     true,
			MaxFeedbackBytes: 16 * 1024,
		},
		Batch: BatchConfig{
			Workers: 4,
			Pattern: "*.lean",
		},
		Store:    StoreConfig{Path: "erdos.db"},
		Vector:   VectorConfig{Host: "localhost", Port: 6334, Collection: "lemmas", TopK: 5},
		Temporal: TemporalConfig{Host: "localhost:7233", Namespace: "default", TaskQueue: "erdos-proofs"},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Generator.Backend != "" && c.Generator.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("generator backend '%s' is configured but api_key is empty", c.Generator.Backend))
	}

	if c.LLM.Provider != "" && c.LLM.Provider != "none" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty; judging will be disabled", c.LLM.Provider))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}

	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}

	if c.Pipeline.MaxIterations < 1 {
		warnings = append(warnings, fmt.Sprintf("pipeline max_iterations %d is below 1; a single attempt will be used", c.Pipeline.MaxIterations))
	}

	if c.Batch.Workers < 1 {
		warnings = append(warnings, fmt.Sprintf("batch workers %d is below 1; the default will be used", c.Batch.Workers))
	}

	return warnings
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return unmarshal(v)
}

// LoadOrDefault reads the config file if it exists, otherwise returns
// defaults with environment overrides applied.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return unmarshal(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("ERDOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("generator.backend", d.Generator.Backend)
	v.SetDefault("generator.base_url", d.Generator.BaseURL)
	v.SetDefault("generator.poll_interval", d.Generator.PollInterval)
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.embed_model", d.LLM.EmbedModel)
	v.SetDefault("verifier.timeout", d.Verifier.Timeout)
	v.SetDefault("verifier.max_concurrent", d.Verifier.MaxConcurrent)
	v.SetDefault("pipeline.max_iterations", d.Pipeline.MaxIterations)
	v.SetDefault("pipeline.verify", d.Pipeline.VerifyEnabled)
	v.SetDefault("pipeline.judge", d.Pipeline.JudgeEnabled)
	v.SetDefault("pipeline.max_feedback_bytes", d.Pipeline.MaxFeedbackBytes)
	v.SetDefault("batch.workers", d.Batch.Workers)
	v.SetDefault("batch.pattern", d.Batch.Pattern)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("vector.host", d.Vector.Host)
	v.SetDefault("vector.port", d.Vector.Port)
	v.SetDefault("vector.collection", d.Vector.Collection)
	v.SetDefault("vector.top_k", d.Vector.TopK)
	v.SetDefault("temporal.host", d.Temporal.Host)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
