// Package config loads the quorum configuration from YAML with environment
// variable expansion, defaulting, and validation. Unknown keys are ignored so
// frontends can carry their own sections in the same file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for quorum.
type Config struct {
	Models        ModelsConfig        `yaml:"models"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Context       ContextConfig       `yaml:"context"`
	Tools         ToolsConfig         `yaml:"tools"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ModelsConfig configures the four model participants.
type ModelsConfig struct {
	Claude ModelConfig `yaml:"claude"`
	GPT    ModelConfig `yaml:"gpt"`
	Gemini ModelConfig `yaml:"gemini"`
	Grok   ModelConfig `yaml:"grok"`
}

// ModelConfig configures one model participant. A nil Enabled means enabled;
// availability still requires a credential at runtime.
type ModelConfig struct {
	Enabled     *bool   `yaml:"enabled"`
	APIKey      string  `yaml:"api_key"`
	ModelID     string  `yaml:"model_id"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// IsEnabled reports whether the participant is configured on.
func (m ModelConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// OrchestrationConfig tunes turn-taking and the speaking evaluator.
type OrchestrationConfig struct {
	// SilenceThreshold is the minimum evaluator confidence to speak.
	SilenceThreshold float64 `yaml:"silence_threshold"`

	// FirstResponderStrategy is one of rotate, confidence, fixed.
	FirstResponderStrategy string `yaml:"first_responder_strategy"`

	// FixedFirstResponder names the model for the fixed strategy.
	FixedFirstResponder string `yaml:"fixed_first_responder"`

	// EvaluatorTimeout bounds each candidate's should-speak call.
	EvaluatorTimeout time.Duration `yaml:"evaluator_timeout"`

	// MaxToolIterations caps the tool loop per contributor.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// ParallelTools enables parallel execution of read-only tool calls.
	ParallelTools *bool `yaml:"parallel_tools"`

	// SummarizeThresholdTokens triggers incremental summarization.
	SummarizeThresholdTokens int `yaml:"summarize_threshold_tokens"`
}

// ParallelToolsEnabled reports whether parallel-safe execution is on.
func (o OrchestrationConfig) ParallelToolsEnabled() bool {
	return o.ParallelTools == nil || *o.ParallelTools
}

// ContextConfig tunes context budget assembly.
type ContextConfig struct {
	MaxContextTokens      int `yaml:"max_context_tokens"`
	ResponseReserve       int `yaml:"response_reserve"`
	MinConversationBudget int `yaml:"min_conversation_budget"`
}

// ToolsConfig configures the tool subsystem.
type ToolsConfig struct {
	Enabled *bool `yaml:"enabled"`

	// Workspace is the root directory file tools resolve paths against.
	// Defaults to the current working directory.
	Workspace string `yaml:"workspace"`

	// AutoApprove skips confirmation for every permitted tool.
	AutoApprove bool `yaml:"auto_approve"`

	// AutoApproveLevel is the highest permission level that runs without
	// confirmation: safe, cautious, or dangerous. Default safe.
	AutoApproveLevel string `yaml:"auto_approve_level"`

	// BlockedTools are denied regardless of other settings.
	BlockedTools []string `yaml:"blocked_tools"`

	// BlockedPaths are path fragments file tools refuse to touch.
	BlockedPaths []string `yaml:"blocked_paths"`

	// BlockedCommands are command prefixes run_command refuses.
	BlockedCommands []string `yaml:"blocked_commands"`

	// DefaultTimeout bounds a single tool execution.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// MaxOutputLength truncates tool output beyond this many characters.
	MaxOutputLength int `yaml:"max_output_length"`
}

// ToolsEnabled reports whether the tool subsystem is on.
func (t ToolsConfig) ToolsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	// Backend is one of memory, sqlite, postgres. Default memory.
	Backend string `yaml:"backend"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`

	// DSN is the connection string for the postgres backend.
	DSN string `yaml:"dsn"`
}

// ObservabilityConfig configures logging, metrics, and tracing.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// MetricsEnabled turns on the Prometheus registry.
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OTLPEndpoint is the trace collector address. Empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// TraceSampleRate is the head-sampling ratio in [0, 1]. Default 1.
	TraceSampleRate *float64 `yaml:"trace_sample_rate"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	applyModelDefaults(&cfg.Models.Claude, "claude-opus-4-5-20251101", "ANTHROPIC_API_KEY")
	applyModelDefaults(&cfg.Models.GPT, "gpt-4o", "OPENAI_API_KEY")
	applyModelDefaults(&cfg.Models.Gemini, "gemini-2.0-flash", "GEMINI_API_KEY")
	applyModelDefaults(&cfg.Models.Grok, "grok-3", "XAI_API_KEY")

	if cfg.Orchestration.SilenceThreshold == 0 {
		cfg.Orchestration.SilenceThreshold = 0.3
	}
	if cfg.Orchestration.FirstResponderStrategy == "" {
		cfg.Orchestration.FirstResponderStrategy = "rotate"
	}
	if cfg.Orchestration.EvaluatorTimeout == 0 {
		cfg.Orchestration.EvaluatorTimeout = 5 * time.Second
	}
	if cfg.Orchestration.MaxToolIterations == 0 {
		cfg.Orchestration.MaxToolIterations = 10
	}
	if cfg.Orchestration.SummarizeThresholdTokens == 0 {
		cfg.Orchestration.SummarizeThresholdTokens = 50_000
	}

	if cfg.Context.MaxContextTokens == 0 {
		cfg.Context.MaxContextTokens = 100_000
	}
	if cfg.Context.ResponseReserve == 0 {
		cfg.Context.ResponseReserve = 4096
	}
	if cfg.Context.MinConversationBudget == 0 {
		cfg.Context.MinConversationBudget = 2000
	}

	if cfg.Tools.AutoApproveLevel == "" {
		cfg.Tools.AutoApproveLevel = "safe"
	}
	if cfg.Tools.DefaultTimeout == 0 {
		cfg.Tools.DefaultTimeout = 30 * time.Second
	}
	if cfg.Tools.MaxOutputLength == 0 {
		cfg.Tools.MaxOutputLength = 100_000
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "quorum.db"
	}

	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.LogFormat == "" {
		cfg.Observability.LogFormat = "json"
	}
}

func applyModelDefaults(m *ModelConfig, modelID, envKey string) {
	if m.APIKey == "" {
		m.APIKey = os.Getenv(envKey)
	}
	if m.ModelID == "" {
		m.ModelID = modelID
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = 8192
	}
	if m.Temperature == 0 {
		m.Temperature = 0.7
	}
}
