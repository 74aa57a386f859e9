package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrorKind categorizes a provider failure for retry decisions.
type ErrorKind string

const (
	// ErrorAuth indicates missing or rejected credentials. Never retried;
	// the engine marks the model unavailable for the session.
	ErrorAuth ErrorKind = "auth"

	// ErrorRateLimit indicates throttling. Retried with backoff, honouring
	// a server-advertised retry delay when present.
	ErrorRateLimit ErrorKind = "rate_limit"

	// ErrorAPI indicates a provider-side failure (5xx, transport). Retried.
	ErrorAPI ErrorKind = "api"

	// ErrorOther is an unclassified failure. Not retried.
	ErrorOther ErrorKind = "other"
)

// IsRetryable returns true if the error kind suggests retrying may succeed.
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case ErrorRateLimit, ErrorAPI:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from a model provider. It carries the
// context the engine and the retry wrapper need.
type ProviderError struct {
	// Kind categorizes the error for retry logic
	Kind ErrorKind

	// Provider is the participant id ("claude", "gpt", ...)
	Provider string

	// Model is the concrete model id that was requested
	Model string

	// Status is the HTTP status code, if applicable
	Status int

	// RetryAfter is a server-advertised retry delay, if any
	RetryAfter time.Duration

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError, classifying the cause.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Kind:     ErrorOther,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Kind = ClassifyError(cause)
	}
	return err
}

// WithKind overrides the classified error kind.
func (e *ProviderError) WithKind(kind ErrorKind) *ProviderError {
	e.Kind = kind
	return e
}

// WithStatus adds the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if kind := classifyStatusCode(status); kind != ErrorOther {
		e.Kind = kind
	}
	return e
}

// WithRetryAfter records a server-advertised retry delay.
func (e *ProviderError) WithRetryAfter(d time.Duration) *ProviderError {
	e.RetryAfter = d
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError inspects an error's text and returns the matching kind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorOther
	}
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return ErrorRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return ErrorAuth
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return ErrorAPI
	}

	return ErrorOther
}

func classifyStatusCode(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorAuth
	case status == http.StatusTooManyRequests:
		return ErrorRateLimit
	case status >= 500:
		return ErrorAPI
	default:
		return ErrorOther
	}
}

// GetProviderError extracts a ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable checks if an error should be retried.
func IsRetryable(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Kind.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

// IsAuthError checks if an error is an authentication failure.
func IsAuthError(err error) bool {
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Kind == ErrorAuth
	}
	return ClassifyError(err) == ErrorAuth
}
