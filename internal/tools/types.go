// Package tools implements the tool subsystem: a registry of callable tools
// with JSON Schema parameters, a permission manager with confirmation flow,
// and an executor with validation, timeouts, retry, and parallel-safe
// batching.
package tools

import (
	"context"
	"strings"
	"time"

	"github.com/quorumchat/quorum/internal/providers"
)

// PermissionLevel orders tools by how much damage they can do.
type PermissionLevel int

const (
	// PermissionSafe marks read-only tools.
	PermissionSafe PermissionLevel = iota

	// PermissionCautious marks tools that modify workspace files.
	PermissionCautious

	// PermissionDangerous marks tools with side effects beyond the
	// workspace, like shell execution.
	PermissionDangerous

	// PermissionBlocked marks tools that never run.
	PermissionBlocked
)

// String returns the lowercase level name.
func (p PermissionLevel) String() string {
	switch p {
	case PermissionSafe:
		return "safe"
	case PermissionCautious:
		return "cautious"
	case PermissionDangerous:
		return "dangerous"
	case PermissionBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// ParsePermissionLevel converts a config string to a level. Unknown strings
// map to PermissionBlocked so a typo fails closed.
func ParsePermissionLevel(s string) PermissionLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "safe":
		return PermissionSafe
	case "cautious":
		return PermissionCautious
	case "dangerous":
		return PermissionDangerous
	default:
		return PermissionBlocked
	}
}

// Handler executes a tool call. Arguments arrive already validated against
// the tool's parameter schema. The returned value is rendered to a string for
// the transcript; handlers that already produce strings pass through.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool bundles a callable tool with its metadata.
type Tool struct {
	// Definition is the name, description, and parameter schema sent to
	// providers.
	Definition providers.ToolDefinition

	// Handler executes the call.
	Handler Handler

	// Permission is the declared permission level.
	Permission PermissionLevel

	// Category groups tools for display ("filesystem", "shell", ...).
	Category string

	// Timeout bounds one execution. Zero means the executor default.
	Timeout time.Duration

	// Enabled gates execution. Disabled tools stay registered and listed.
	Enabled bool

	// ParallelSafe marks tools that may run concurrently with other
	// parallel-safe calls in the same batch. Read-only tools set this.
	ParallelSafe bool
}

// Name returns the tool's registered name.
func (t *Tool) Name() string { return t.Definition.Name }

// ExecutionResult is the structured outcome of one tool call.
type ExecutionResult struct {
	// ToolCallID ties the result back to the originating call.
	ToolCallID string

	// ToolName is the executed tool.
	ToolName string

	// Success is false when Error is set.
	Success bool

	// Output is the rendered (possibly truncated) tool output.
	Output string

	// Error is the model-facing failure text, empty on success.
	Error string

	// ErrType is the failure class, empty on success. Retry decisions key
	// off it.
	ErrType ErrorType

	// Elapsed is the handler wall-clock time.
	Elapsed time.Duration

	// Timestamp records when execution finished.
	Timestamp time.Time
}

// Retryable reports whether the failure class is worth rerunning. Only
// timeouts and explicitly transient failures qualify.
func (r ExecutionResult) Retryable() bool {
	switch r.ErrType {
	case ErrTransient, ErrTimeout:
		return true
	default:
		return false
	}
}

// PermissionRequest is handed to the confirmation callback when a tool needs
// explicit approval.
type PermissionRequest struct {
	// Tool is the tool name.
	Tool string

	// Arguments are the validated call arguments.
	Arguments map[string]any

	// Level is the effective permission level.
	Level PermissionLevel

	// Description is a human-readable line for the approval prompt.
	Description string
}

// ConfirmFunc decides a PermissionRequest. Returning false denies the call.
type ConfirmFunc func(ctx context.Context, req PermissionRequest) bool
