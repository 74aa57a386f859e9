package config

import (
	"errors"
	"fmt"
)

var validStrategies = map[string]bool{
	"rotate":     true,
	"confidence": true,
	"fixed":      true,
}

var validBackends = map[string]bool{
	"memory":   true,
	"sqlite":   true,
	"postgres": true,
}

var validApproveLevels = map[string]bool{
	"safe":      true,
	"cautious":  true,
	"dangerous": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration for inconsistencies. All problems are
// reported at once via errors.Join.
func (c *Config) Validate() error {
	var errs []error

	if c.Orchestration.SilenceThreshold < 0 || c.Orchestration.SilenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("orchestration.silence_threshold must be in [0, 1], got %v", c.Orchestration.SilenceThreshold))
	}
	if !validStrategies[c.Orchestration.FirstResponderStrategy] {
		errs = append(errs, fmt.Errorf("orchestration.first_responder_strategy must be rotate, confidence, or fixed, got %q", c.Orchestration.FirstResponderStrategy))
	}
	if c.Orchestration.FirstResponderStrategy == "fixed" && c.Orchestration.FixedFirstResponder == "" {
		errs = append(errs, errors.New("orchestration.fixed_first_responder is required with the fixed strategy"))
	}
	if c.Orchestration.EvaluatorTimeout < 0 {
		errs = append(errs, errors.New("orchestration.evaluator_timeout must be positive"))
	}
	if c.Orchestration.MaxToolIterations < 1 {
		errs = append(errs, fmt.Errorf("orchestration.max_tool_iterations must be at least 1, got %d", c.Orchestration.MaxToolIterations))
	}

	if c.Context.ResponseReserve >= c.Context.MaxContextTokens {
		errs = append(errs, fmt.Errorf("context.response_reserve (%d) must be below context.max_context_tokens (%d)", c.Context.ResponseReserve, c.Context.MaxContextTokens))
	}
	if c.Context.MinConversationBudget < 0 {
		errs = append(errs, errors.New("context.min_conversation_budget must not be negative"))
	}

	if !validApproveLevels[c.Tools.AutoApproveLevel] {
		errs = append(errs, fmt.Errorf("tools.auto_approve_level must be safe, cautious, or dangerous, got %q", c.Tools.AutoApproveLevel))
	}
	if c.Tools.DefaultTimeout < 0 {
		errs = append(errs, errors.New("tools.default_timeout must be positive"))
	}

	if !validBackends[c.Storage.Backend] {
		errs = append(errs, fmt.Errorf("storage.backend must be memory, sqlite, or postgres, got %q", c.Storage.Backend))
	}
	if c.Storage.Backend == "postgres" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required with the postgres backend"))
	}

	if !validLogLevels[c.Observability.LogLevel] {
		errs = append(errs, fmt.Errorf("observability.log_level must be debug, info, warn, or error, got %q", c.Observability.LogLevel))
	}
	if c.Observability.LogFormat != "json" && c.Observability.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("observability.log_format must be json or text, got %q", c.Observability.LogFormat))
	}
	if rate := c.Observability.TraceSampleRate; rate != nil && (*rate < 0 || *rate > 1) {
		errs = append(errs, fmt.Errorf("observability.trace_sample_rate must be in [0, 1], got %v", *rate))
	}

	for _, mc := range []struct {
		name string
		cfg  ModelConfig
	}{
		{"claude", c.Models.Claude},
		{"gpt", c.Models.GPT},
		{"gemini", c.Models.Gemini},
		{"grok", c.Models.Grok},
	} {
		if mc.cfg.Temperature < 0 || mc.cfg.Temperature > 2 {
			errs = append(errs, fmt.Errorf("models.%s.temperature must be in [0, 2], got %v", mc.name, mc.cfg.Temperature))
		}
		if mc.cfg.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("models.%s.max_tokens must not be negative", mc.name))
		}
	}

	return errors.Join(errs...)
}
