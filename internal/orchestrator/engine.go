package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/internal/providers"
	"github.com/quorumchat/quorum/internal/tools"
	"github.com/quorumchat/quorum/pkg/models"
)

// DefaultMaxToolIterations caps the tool loop per contributor.
const DefaultMaxToolIterations = 10

// Engine drives one conversation turn at a time: mention parsing, speaking
// evaluation, contributor ordering, and each contributor's streamed response
// with its tool loop. Contributors run strictly sequentially so each speaker
// sees the full text of those before it.
//
// The engine owns the transcript. Consumers observe turns through the pull-
// driven event channel returned by Process; a slow consumer simply delays
// the engine at the emission point.
type Engine struct {
	registry     *providers.Registry
	parser       *MentionParser
	evaluator    *SpeakingEvaluator
	turns        *TurnManager
	assembler    *ContextAssembler
	executor     *tools.Executor
	toolRegistry *tools.Registry

	parallelTools     bool
	maxToolIterations int

	mu          sync.Mutex
	transcript  []models.Message
	pinned      map[string]bool
	unavailable map[string]bool

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// EngineConfig configures an Engine. Registry is required; everything else
// has working defaults.
type EngineConfig struct {
	Registry *providers.Registry

	Evaluator *SpeakingEvaluator
	Turns     *TurnManager
	Assembler *ContextAssembler

	// Executor and ToolRegistry enable the tool loop. With either nil the
	// engine streams plain responses.
	Executor     *tools.Executor
	ToolRegistry *tools.Registry

	// ParallelTools enables concurrent execution of parallel-safe calls.
	ParallelTools bool

	// MaxToolIterations caps the tool loop per contributor. Default 10.
	MaxToolIterations int

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// NewEngine creates an engine over the given clients.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	if cfg.Evaluator == nil {
		cfg.Evaluator = NewSpeakingEvaluator(EvaluatorConfig{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}
	if cfg.Turns == nil {
		cfg.Turns = NewTurnManager(StrategyRotate, cfg.Registry.IDs())
	}
	if cfg.Assembler == nil {
		cfg.Assembler = NewContextAssembler(0, 0, cfg.Logger)
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	return &Engine{
		registry:          cfg.Registry,
		parser:            NewMentionParser(cfg.Registry.IDs()),
		evaluator:         cfg.Evaluator,
		turns:             cfg.Turns,
		assembler:         cfg.Assembler,
		executor:          cfg.Executor,
		toolRegistry:      cfg.ToolRegistry,
		parallelTools:     cfg.ParallelTools,
		maxToolIterations: cfg.MaxToolIterations,
		pinned:            make(map[string]bool),
		unavailable:       make(map[string]bool),
		logger:            cfg.Logger.WithFields("component", "orchestrator.engine"),
		metrics:           cfg.Metrics,
		tracer:            cfg.Tracer,
	}
}

// Process runs one full turn for the user's message and returns the event
// stream. The channel is unbuffered and closed when the turn ends or ctx is
// cancelled; after cancellation no further events are emitted.
func (e *Engine) Process(ctx context.Context, userText string) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		e.processTurn(ctx, userText, events)
	}()
	return events
}

func (e *Engine) processTurn(ctx context.Context, userText string, events chan<- Event) {
	start := time.Now()
	ctx, span := e.startSpan(ctx, "orchestrator.turn")
	defer span.end()

	available := e.availableClients()
	availableIDs := make([]string, len(available))
	for i, c := range available {
		availableIDs[i] = c.ID()
	}

	parsed := e.parser.Parse(userText)
	forced := parsed.ForcedSpeakers(availableIDs)

	// Explicit addressees narrow the turn to the mentioned models; nobody
	// else is evaluated. A broadcast forces everyone instead.
	evalClients := available
	if len(forced) > 0 && !parsed.Broadcast {
		forcedSet := make(map[string]bool, len(forced))
		for _, m := range forced {
			forcedSet[m] = true
		}
		evalClients = make([]providers.ModelClient, 0, len(forced))
		for _, c := range available {
			if forcedSet[c.ID()] {
				evalClients = append(evalClients, c)
			}
		}
	}

	e.appendMessage(models.Message{Role: models.RoleUser, Content: parsed.CleanText, CreatedAt: time.Now().UTC()})

	if !emit(ctx, events, thinkingEvent()) {
		return
	}

	decisions := e.evaluator.EvaluateAll(ctx, evalClients, e.Transcript(), parsed.CleanText, nil, forced)
	for _, d := range decisions {
		if !emit(ctx, events, decisionEvent(d)) {
			return
		}
	}

	order := e.turns.DetermineOrder(decisions)
	if len(order) == 0 {
		e.logger.Info(ctx, "all models stayed silent")
		emit(ctx, events, turnCompleteEvent(nil, models.Usage{}))
		return
	}

	var (
		responses []providers.Response
		usage     models.Usage
	)
	for _, model := range order {
		resp, ok := e.contributorStep(ctx, model, responses, events)
		if ctx.Err() != nil {
			return
		}
		if ok {
			responses = append(responses, resp)
			usage = usage.Add(resp.Usage)
		}
	}

	if e.metrics != nil {
		e.metrics.RecordTurn(time.Since(start).Seconds())
	}
	emit(ctx, events, turnCompleteEvent(responses, usage))
}

// Retry re-runs one contributor against the current transcript, with no
// evaluation or ordering.
func (e *Engine) Retry(ctx context.Context, model string) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		e.contributorStep(ctx, model, nil, events)
	}()
	return events
}

// ForceSpeak runs one contributor like Retry but first announces a forced
// speaking decision.
func (e *Engine) ForceSpeak(ctx context.Context, model string) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		if !emit(ctx, events, decisionEvent(ForcedDecision(model))) {
			return
		}
		e.contributorStep(ctx, model, nil, events)
	}()
	return events
}

// contributorStep streams one model's full response, driving the tool loop
// until a non-tool-use finish or the iteration cap.
func (e *Engine) contributorStep(ctx context.Context, model string, prior []providers.Response, events chan<- Event) (providers.Response, bool) {
	client, ok := e.registry.Get(model)
	if !ok || !client.Available() || e.isUnavailable(model) {
		emit(ctx, events, errorEvent(model, fmt.Sprintf("model %s is not available", model)))
		return providers.Response{}, false
	}

	ctx, span := e.startSpan(ctx, "orchestrator.contributor", attribute.String("model", model))
	defer span.end()

	if !emit(ctx, events, responseStartEvent(model)) {
		return providers.Response{}, false
	}

	others := e.otherDisplayNames(model)
	system, messages := e.assembler.Assemble(ctx, e.Transcript(), client, others, e.PinnedIDs(), priorResponsesContext(prior))

	var defs []providers.ToolDefinition
	if e.toolRegistry != nil && e.executor != nil {
		defs = e.toolRegistry.Definitions()
	}

	var turnUsage models.Usage
	for iteration := 1; iteration <= e.maxToolIterations; iteration++ {
		stream, err := client.Stream(ctx, &providers.Request{
			Messages: messages,
			System:   system,
			Tools:    defs,
		})
		if err != nil {
			e.reportProviderError(ctx, model, err, events)
			return providers.Response{}, false
		}

		var (
			content strings.Builder
			calls   []models.ToolCall
			finish  = models.FinishStop
		)
		for chunk := range stream {
			if chunk.Err != nil {
				e.reportProviderError(ctx, model, chunk.Err, events)
				return providers.Response{}, false
			}
			if chunk.Content != "" {
				content.WriteString(chunk.Content)
				if !emit(ctx, events, responseChunkEvent(model, chunk.Content)) {
					return providers.Response{}, false
				}
			}
			if chunk.ToolCall != nil {
				calls = append(calls, *chunk.ToolCall)
				if !emit(ctx, events, toolCallEvent(model, *chunk.ToolCall)) {
					return providers.Response{}, false
				}
			}
			if chunk.Done {
				finish = chunk.FinishReason
				if chunk.Usage != nil {
					turnUsage = turnUsage.Add(*chunk.Usage)
				}
			}
		}
		if ctx.Err() != nil {
			return providers.Response{}, false
		}

		assistantMsg := models.Message{
			Role:      models.RoleAssistant,
			Model:     model,
			Content:   content.String(),
			ToolCalls: calls,
			CreatedAt: time.Now().UTC(),
		}
		e.appendMessage(assistantMsg)

		if finish == models.FinishToolUse && len(calls) > 0 && e.executor != nil {
			results := e.executor.ExecuteBatch(ctx, calls, e.parallelTools)
			toolResults := tools.ResultsToToolResults(results)
			for _, r := range toolResults {
				if !emit(ctx, events, toolResultEvent(model, r)) {
					return providers.Response{}, false
				}
			}
			toolMsg := models.Message{
				Role:        models.RoleTool,
				Model:       model,
				ToolResults: toolResults,
				CreatedAt:   time.Now().UTC(),
			}
			e.appendMessage(toolMsg)

			// The older context prefix did not change; extend it with the
			// in-memory suffix instead of re-assembling.
			messages = append(messages, assistantMsg, toolMsg)
			continue
		}

		resp := providers.Response{
			Content:      content.String(),
			Model:        model,
			FinishReason: finish,
			ToolCalls:    calls,
			Usage:        turnUsage,
		}
		if e.metrics != nil {
			e.metrics.RecordTokens(model, turnUsage.PromptTokens, turnUsage.CompletionTokens, turnUsage.CostEstimate)
		}
		if !emit(ctx, events, responseCompleteEvent(model, resp)) {
			return providers.Response{}, false
		}
		return resp, true
	}

	e.logger.Warn(ctx, "tool iteration cap reached", "model", model, "cap", e.maxToolIterations)
	if e.metrics != nil {
		e.metrics.RecordError("engine", "tool_iterations_exceeded")
	}
	emit(ctx, events, errorEvent(model, fmt.Sprintf("Maximum tool iterations (%d) reached", e.maxToolIterations)))
	return providers.Response{}, false
}

// reportProviderError logs a provider failure, marks the model unavailable
// for the session on authentication errors, and surfaces an error event.
func (e *Engine) reportProviderError(ctx context.Context, model string, err error, events chan<- Event) {
	if ctx.Err() != nil {
		return
	}
	kind := string(providers.ClassifyError(err))
	e.logger.Error(ctx, "provider request failed", "model", model, "kind", kind, "error", err)
	if e.metrics != nil {
		e.metrics.RecordError("provider", kind)
	}
	if providers.IsAuthError(err) {
		e.markUnavailable(model)
	}
	emit(ctx, events, errorEvent(model, err.Error()))
}

// priorResponsesContext digests earlier in-turn responses for the next
// speaker's system prompt.
func priorResponsesContext(prior []providers.Response) string {
	if len(prior) == 0 {
		return ""
	}
	lines := make([]string, len(prior))
	for i, r := range prior {
		content := r.Content
		if len(content) > 200 {
			content = content[:200] + "..."
		}
		lines[i] = fmt.Sprintf("- %s: %s", r.Model, content)
	}
	return "Other models have already responded this turn:\n" + strings.Join(lines, "\n")
}

func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Transcript returns a snapshot of the conversation.
func (e *Engine) Transcript() []models.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.Message(nil), e.transcript...)
}

// SetTranscript replaces the conversation, e.g. when a session is loaded.
func (e *Engine) SetTranscript(messages []models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transcript = append([]models.Message(nil), messages...)
}

// AddMessage appends a message to the conversation.
func (e *Engine) AddMessage(msg models.Message) {
	e.appendMessage(msg)
}

func (e *Engine) appendMessage(msg models.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transcript = append(e.transcript, msg)
}

// ClearConversation drops the transcript and all pins.
func (e *Engine) ClearConversation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transcript = nil
	e.pinned = make(map[string]bool)
}

// Pin marks a message for unconditional inclusion in assembled context.
func (e *Engine) Pin(messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned[messageID] = true
}

// Unpin removes a pin.
func (e *Engine) Unpin(messageID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pinned, messageID)
}

// PinnedIDs returns a snapshot of the pinned message ids.
func (e *Engine) PinnedIDs() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]bool, len(e.pinned))
	for id := range e.pinned {
		out[id] = true
	}
	return out
}

// ModelStatus reports availability and display metadata per model. Models
// marked unavailable after an authentication failure report unavailable for
// the rest of the session.
func (e *Engine) ModelStatus() map[string]providers.Status {
	status := e.registry.StatusMap()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range e.unavailable {
		if s, ok := status[id]; ok {
			s.Available = false
			status[id] = s
		}
	}
	return status
}

// TurnManager exposes rotation controls (set_first, reset, peek).
func (e *Engine) TurnManager() *TurnManager {
	return e.turns
}

func (e *Engine) availableClients() []providers.ModelClient {
	all := e.registry.Available()
	out := make([]providers.ModelClient, 0, len(all))
	for _, c := range all {
		if !e.isUnavailable(c.ID()) {
			out = append(out, c)
		}
	}
	return out
}

func (e *Engine) otherDisplayNames(model string) []string {
	var names []string
	for _, c := range e.availableClients() {
		if c.ID() != model {
			names = append(names, c.DisplayName())
		}
	}
	return names
}

func (e *Engine) isUnavailable(model string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unavailable[model]
}

func (e *Engine) markUnavailable(model string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unavailable[model] = true
}

// span wraps an optional otel span so call sites stay unconditional.
type span struct{ end func() }

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, span) {
	if e.tracer == nil {
		return ctx, span{end: func() {}}
	}
	ctx, s := e.tracer.Start(ctx, name, attrs...)
	return ctx, span{end: func() { s.End() }}
}
