package tools

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType categorizes a tool failure for retry and reporting decisions.
type ErrorType string

const (
	// ErrNotFound means the tool is not registered or is disabled.
	ErrNotFound ErrorType = "not_found"

	// ErrValidation means the arguments failed schema validation.
	ErrValidation ErrorType = "validation"

	// ErrPermission means the permission manager denied the call.
	ErrPermission ErrorType = "permission"

	// ErrTimeout means the handler exceeded its time budget.
	ErrTimeout ErrorType = "timeout"

	// ErrHandler means the handler returned an error.
	ErrHandler ErrorType = "handler"

	// ErrTransient means a retryable environmental failure.
	ErrTransient ErrorType = "transient"

	// ErrPanic means the handler panicked.
	ErrPanic ErrorType = "panic"
)

// ToolError is a structured failure from the tool subsystem.
type ToolError struct {
	// Type categorizes the failure
	Type ErrorType

	// Tool is the tool name
	Tool string

	// ToolCallID is the originating call id, if known
	ToolCallID string

	// Message is the human-readable failure text
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))
	if e.Tool != "" {
		parts = append(parts, e.Tool)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError creates a ToolError for the named tool.
func NewToolError(errType ErrorType, tool string, cause error) *ToolError {
	err := &ToolError{Type: errType, Tool: tool, Cause: cause}
	if cause != nil {
		err.Message = cause.Error()
	}
	return err
}

// WithMessage sets the failure text.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// WithCallID records the originating tool-call id.
func (e *ToolError) WithCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// IsTransient reports whether the failure is worth retrying. Timeouts and
// explicitly transient failures qualify; permission and validation never do.
func (e *ToolError) IsTransient() bool {
	switch e.Type {
	case ErrTransient, ErrTimeout:
		return true
	default:
		return false
	}
}

// GetToolError extracts a ToolError from an error chain.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// IsTransientError reports whether err should be retried. Plain errors are
// classified by substring: timeouts, connection failures, and OS-level I/O
// problems count as transient.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if toolErr, ok := GetToolError(err); ok {
		return toolErr.IsTransient()
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "temporarily unavailable") ||
		strings.Contains(msg, "resource busy")
}

// errorHints maps message substrings to recovery hints for the model.
var errorHints = []struct {
	patterns []string
	hint     string
}{
	{[]string{"not found"}, "Check that the name or path is correct, or list the directory first."},
	{[]string{"permission", "denied"}, "This operation is not permitted. Try a different approach or ask the user to grant access."},
	{[]string{"timeout", "timed out"}, "The operation took too long. Try a smaller scope or split the work."},
	{[]string{"validation", "invalid"}, "Check the argument names and types against the tool's schema."},
	{[]string{"encoding", "decode"}, "The file may be binary or use an unexpected encoding."},
	{[]string{"connection", "network"}, "A network problem occurred. The operation may succeed on retry."},
}

// FormatErrorForModel renders a failure the way it is surfaced into the tool
// loop: the error, the tool, and a recovery hint when one matches.
func FormatErrorForModel(toolName string, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\nTool: %s", err.Error(), toolName)

	msg := strings.ToLower(err.Error())
	for _, entry := range errorHints {
		for _, pattern := range entry.patterns {
			if strings.Contains(msg, pattern) {
				fmt.Fprintf(&b, "\nHint: %s", entry.hint)
				return b.String()
			}
		}
	}
	return b.String()
}
