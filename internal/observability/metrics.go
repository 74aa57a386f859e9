package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting orchestration metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - LLM request performance, token consumption, and estimated cost
//   - Speaking-evaluation outcomes per model
//   - Tool execution patterns and latencies
//   - Turn throughput and duration
//   - Error rates categorized by component and type
type Metrics struct {
	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: model, kind (generate|stream|evaluate)
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests by model, kind, and status.
	// Labels: model, kind, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// LLMCostEstimate accumulates estimated spend in USD.
	// Labels: model
	LLMCostEstimate *prometheus.CounterVec

	// SpeakerDecisions counts evaluator outcomes.
	// Labels: model, outcome (speak|silent|forced|timeout|malformed)
	SpeakerDecisions *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// TurnDuration measures whole-turn latency in seconds.
	TurnDuration prometheus.Histogram

	// TurnCounter counts completed turns.
	TurnCounter prometheus.Counter

	// ErrorCounter tracks errors by component and type.
	// Labels: component (engine|evaluator|provider|tool|session), error_type
	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics against the given
// registerer. Pass nil to use the default registry; tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorum_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"model", "kind"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_llm_requests_total",
				Help: "Total number of LLM requests by model, kind, and status",
			},
			[]string{"model", "kind", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_llm_tokens_total",
				Help: "Total number of tokens used by model and type",
			},
			[]string{"model", "type"},
		),

		LLMCostEstimate: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_llm_cost_usd_total",
				Help: "Estimated LLM spend in USD by model",
			},
			[]string{"model"},
		),

		SpeakerDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_speaker_decisions_total",
				Help: "Speaking-evaluation outcomes by model",
			},
			[]string{"model", "outcome"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quorum_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		TurnDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quorum_turn_duration_seconds",
				Help:    "Duration of complete orchestration turns in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),

		TurnCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "quorum_turns_total",
				Help: "Total number of completed orchestration turns",
			},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quorum_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),
	}
}

// RecordLLMRequest records a completed LLM request.
func (m *Metrics) RecordLLMRequest(model, kind string, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.LLMRequestDuration.WithLabelValues(model, kind).Observe(seconds)
	m.LLMRequestCounter.WithLabelValues(model, kind, status).Inc()
}

// RecordTokens records token usage and estimated cost for a model.
func (m *Metrics) RecordTokens(model string, promptTokens, completionTokens int, costUSD float64) {
	m.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	m.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(completionTokens))
	if costUSD > 0 {
		m.LLMCostEstimate.WithLabelValues(model).Add(costUSD)
	}
}

// RecordToolExecution records a completed tool execution.
func (m *Metrics) RecordToolExecution(toolName string, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(seconds)
}

// RecordDecision records a speaking-evaluation outcome.
func (m *Metrics) RecordDecision(model, outcome string) {
	m.SpeakerDecisions.WithLabelValues(model, outcome).Inc()
}

// RecordTurn records a completed turn.
func (m *Metrics) RecordTurn(seconds float64) {
	m.TurnCounter.Inc()
	m.TurnDuration.Observe(seconds)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}
