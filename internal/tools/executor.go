package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quorumchat/quorum/internal/backoff"
	"github.com/quorumchat/quorum/internal/observability"
	"github.com/quorumchat/quorum/pkg/models"
)

const (
	// DefaultToolTimeout bounds a tool execution when the tool declares none.
	DefaultToolTimeout = 30 * time.Second

	// DefaultMaxOutputLength truncates tool output beyond this many
	// characters.
	DefaultMaxOutputLength = 100_000

	// retryBaseDelay is the linear backoff unit for transient retries.
	retryBaseDelay = 500 * time.Millisecond

	// defaultMaxRetries bounds transient reruns in ExecuteWithRetry.
	defaultMaxRetries = 2
)

// wellKnownParallelSafe are read-only tools that always join the parallel
// group regardless of registration flags.
var wellKnownParallelSafe = map[string]bool{
	"read_file":      true,
	"list_directory": true,
	"search_files":   true,
}

// Executor runs tool calls: argument validation against the registered
// schema, permission check, handler execution under a timeout, and output
// truncation. Failures come back inside the ExecutionResult so the model can
// see them and recover; Execute itself does not fail.
type Executor struct {
	registry    *Registry
	permissions *PermissionManager

	defaultTimeout  time.Duration
	maxOutputLength int

	logger  *observability.Logger
	metrics *observability.Metrics
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Registry    *Registry
	Permissions *PermissionManager

	// DefaultTimeout bounds tools that declare no timeout. Default 30s.
	DefaultTimeout time.Duration

	// MaxOutputLength truncates outputs. Default 100000 characters.
	MaxOutputLength int

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewExecutor creates an executor over the given registry and permissions.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultToolTimeout
	}
	if cfg.MaxOutputLength <= 0 {
		cfg.MaxOutputLength = DefaultMaxOutputLength
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger()
	}
	return &Executor{
		registry:        cfg.Registry,
		permissions:     cfg.Permissions,
		defaultTimeout:  cfg.DefaultTimeout,
		maxOutputLength: cfg.MaxOutputLength,
		logger:          cfg.Logger.WithFields("component", "tools.executor"),
		metrics:         cfg.Metrics,
	}
}

// Execute runs one tool call and returns its structured result.
func (e *Executor) Execute(ctx context.Context, call models.ToolCall) ExecutionResult {
	start := time.Now()
	result := e.execute(ctx, call)
	result.ToolCallID = call.ID
	result.ToolName = call.Name
	result.Elapsed = time.Since(start)
	result.Timestamp = time.Now().UTC()

	if e.metrics != nil {
		e.metrics.RecordToolExecution(call.Name, result.Elapsed.Seconds(), result.Success)
	}
	if result.Success {
		e.logger.Debug(ctx, "tool executed",
			"tool", call.Name, "elapsed", result.Elapsed.String())
	} else {
		e.logger.Warn(ctx, "tool execution failed",
			"tool", call.Name, "error", result.Error)
	}
	return result
}

func (e *Executor) execute(ctx context.Context, call models.ToolCall) ExecutionResult {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		err := NewToolError(ErrNotFound, call.Name, nil).
			WithMessage(fmt.Sprintf("tool not found: %s", call.Name))
		return e.failure(call, err)
	}
	if !tool.Enabled {
		err := NewToolError(ErrNotFound, call.Name, nil).
			WithMessage(fmt.Sprintf("tool is disabled: %s", call.Name))
		return e.failure(call, err)
	}

	args, err := e.validateArgs(call)
	if err != nil {
		return e.failure(call, err)
	}

	if e.permissions != nil {
		if err := e.permissions.Check(ctx, call.Name, args, tool.Permission); err != nil {
			return e.failure(call, err)
		}
	}

	value, err := e.runHandler(ctx, tool, args)
	if err != nil {
		return e.failure(call, err)
	}

	return ExecutionResult{
		Success: true,
		Output:  e.render(value),
	}
}

// validateArgs decodes and validates the call's arguments. Unknown keys are
// rejected before schema validation so the model gets a precise message.
func (e *Executor) validateArgs(call models.ToolCall) (map[string]any, error) {
	raw := call.Arguments
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, NewToolError(ErrValidation, call.Name, err).
			WithMessage(fmt.Sprintf("invalid arguments: not a JSON object: %v", err))
	}
	if args == nil {
		args = make(map[string]any)
	}

	if known := e.knownProperties(call.Name); known != nil {
		for key := range args {
			if !known[key] {
				return nil, NewToolError(ErrValidation, call.Name, nil).
					WithMessage(fmt.Sprintf("invalid arguments: unknown parameter %q", key))
			}
		}
	}

	schema, ok := e.registry.Schema(call.Name)
	if ok {
		if err := schema.Validate(args); err != nil {
			return nil, NewToolError(ErrValidation, call.Name, err).
				WithMessage(fmt.Sprintf("invalid arguments: %v", err))
		}
	}
	return args, nil
}

// knownProperties returns the declared parameter names, or nil when the
// schema declares no property map.
func (e *Executor) knownProperties(toolName string) map[string]bool {
	tool, ok := e.registry.Get(toolName)
	if !ok {
		return nil
	}
	props, ok := tool.Definition.ParametersMap()["properties"].(map[string]any)
	if !ok {
		return nil
	}
	known := make(map[string]bool, len(props))
	for name := range props {
		known[name] = true
	}
	return known
}

// runHandler executes the handler in its own goroutine under the tool's
// timeout, so a stuck synchronous handler cannot block the caller. Panics are
// recovered into errors.
func (e *Executor) runHandler(ctx context.Context, tool *Tool, args map[string]any) (any, error) {
	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: NewToolError(ErrPanic, tool.Name(), nil).
					WithMessage(fmt.Sprintf("tool panicked: %v", r))}
			}
		}()
		value, err := tool.Handler(ctx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if _, ok := GetToolError(out.err); ok {
				return nil, out.err
			}
			errType := ErrHandler
			if IsTransientError(out.err) {
				errType = ErrTransient
			}
			return nil, NewToolError(errType, tool.Name(), out.err)
		}
		return out.value, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, NewToolError(ErrTimeout, tool.Name(), nil).
				WithMessage(fmt.Sprintf("tool timed out after %s", timeout))
		}
		return nil, ctx.Err()
	}
}

// render converts a handler's return value to transcript text and truncates
// oversized output.
func (e *Executor) render(value any) string {
	var text string
	switch v := value.(type) {
	case nil:
		text = ""
	case string:
		text = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			text = fmt.Sprintf("%v", v)
		} else {
			text = string(data)
		}
	}

	if len(text) > e.maxOutputLength {
		text = text[:e.maxOutputLength] +
			fmt.Sprintf("\n... [output truncated at %d characters]", e.maxOutputLength)
	}
	return text
}

func (e *Executor) failure(call models.ToolCall, err error) ExecutionResult {
	errType := ErrHandler
	if toolErr, ok := GetToolError(err); ok {
		errType = toolErr.Type
	}
	return ExecutionResult{
		Success: false,
		Error:   FormatErrorForModel(call.Name, err),
		ErrType: errType,
	}
}

// ExecuteWithRetry reruns transient failures with linear backoff. Permission
// denials, validation failures, and ordinary handler errors are never
// retried.
func (e *Executor) ExecuteWithRetry(ctx context.Context, call models.ToolCall) ExecutionResult {
	var result ExecutionResult
	for attempt := 0; attempt <= defaultMaxRetries; attempt++ {
		if attempt > 0 {
			if err := backoff.SleepWithContext(ctx, backoff.Linear(retryBaseDelay, attempt)); err != nil {
				return result
			}
		}
		result = e.Execute(ctx, call)
		if result.Success || !result.Retryable() {
			return result
		}
	}
	return result
}

// ExecuteBatch runs a set of tool calls and returns results in the original
// call order. With parallel enabled, calls whose tool is parallel-safe (or in
// the well-known read-only set) run concurrently first; the rest run
// sequentially in their original relative order.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []models.ToolCall, parallel bool) []ExecutionResult {
	results := make([]ExecutionResult, len(calls))

	if !parallel {
		for i, call := range calls {
			results[i] = e.Execute(ctx, call)
		}
		return results
	}

	var parallelIdx, sequentialIdx []int
	for i, call := range calls {
		if e.isParallelSafe(call.Name) {
			parallelIdx = append(parallelIdx, i)
		} else {
			sequentialIdx = append(sequentialIdx, i)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, i := range parallelIdx {
		g.Go(func() error {
			results[i] = e.Execute(gctx, calls[i])
			return nil
		})
	}
	// Workers never return errors; results carry their own failures.
	_ = g.Wait()

	for _, i := range sequentialIdx {
		results[i] = e.Execute(ctx, calls[i])
	}

	return results
}

func (e *Executor) isParallelSafe(name string) bool {
	if wellKnownParallelSafe[name] {
		return true
	}
	tool, ok := e.registry.Get(name)
	return ok && tool.ParallelSafe
}

// ResultsToToolResults converts execution results into transcript tool
// results, applying the model-facing error formatting.
func ResultsToToolResults(results []ExecutionResult) []models.ToolResult {
	out := make([]models.ToolResult, len(results))
	for i, r := range results {
		content := r.Output
		if !r.Success {
			content = r.Error
		}
		out[i] = models.ToolResult{
			ToolCallID: r.ToolCallID,
			Content:    content,
			IsError:    !r.Success,
		}
	}
	return out
}
