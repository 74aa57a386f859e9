package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
)

// TestClassifyError tests the text-based error classification heuristics.
func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ErrorOther},
		{"rate limit text", errors.New("rate limit exceeded"), ErrorRateLimit},
		{"429 status", errors.New("request failed with status 429"), ErrorRateLimit},
		{"too many requests", errors.New("Too Many Requests"), ErrorRateLimit},
		{"unauthorized", errors.New("401 unauthorized"), ErrorAuth},
		{"invalid key", errors.New("invalid api key provided"), ErrorAuth},
		{"permission denied", errors.New("permission denied for resource"), ErrorAuth},
		{"timeout", errors.New("request timeout"), ErrorAPI},
		{"overloaded", errors.New("overloaded_error: try again"), ErrorAPI},
		{"server error", errors.New("502 bad gateway"), ErrorAPI},
		{"unclassified", errors.New("something odd happened"), ErrorOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

// TestErrorKindIsRetryable tests which kinds permit retries.
func TestErrorKindIsRetryable(t *testing.T) {
	if !ErrorRateLimit.IsRetryable() {
		t.Error("rate limit errors should be retryable")
	}
	if !ErrorAPI.IsRetryable() {
		t.Error("API errors should be retryable")
	}
	if ErrorAuth.IsRetryable() {
		t.Error("auth errors should not be retryable")
	}
	if ErrorOther.IsRetryable() {
		t.Error("unclassified errors should not be retryable")
	}
}

// TestProviderErrorWithStatus tests reclassification from HTTP status codes.
func TestProviderErrorWithStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, ErrorAuth},
		{http.StatusForbidden, ErrorAuth},
		{http.StatusTooManyRequests, ErrorRateLimit},
		{http.StatusInternalServerError, ErrorAPI},
		{http.StatusServiceUnavailable, ErrorAPI},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			err := NewProviderError("claude", "claude-test", errors.New("boom")).WithStatus(tt.status)
			if err.Kind != tt.want {
				t.Errorf("status %d classified as %s, want %s", tt.status, err.Kind, tt.want)
			}
			if err.Status != tt.status {
				t.Errorf("status not recorded: got %d", err.Status)
			}
		})
	}

	// Non-signal statuses keep the text classification.
	err := NewProviderError("gpt", "gpt-4o", errors.New("rate limit")).WithStatus(http.StatusBadRequest)
	if err.Kind != ErrorRateLimit {
		t.Errorf("400 should not override text classification, got %s", err.Kind)
	}
}

// TestProviderErrorString tests the rendered error message.
func TestProviderErrorString(t *testing.T) {
	err := NewProviderError("gemini", "gemini-2.0-flash", errors.New("quota exceeded")).
		WithStatus(http.StatusTooManyRequests)

	msg := err.Error()
	for _, want := range []string{"rate_limit", "gemini", "model=gemini-2.0-flash", "status=429", "quota exceeded"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error string missing %q: %s", want, msg)
		}
	}
}

// TestProviderErrorUnwrap tests errors.Is through the chain.
func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewProviderError("grok", "grok-3", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}

	wrapped := fmt.Errorf("during generate: %w", err)
	got, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatal("GetProviderError should find the ProviderError through wrapping")
	}
	if got.Provider != "grok" {
		t.Errorf("wrong provider extracted: %s", got.Provider)
	}
}

// TestIsRetryableAndIsAuthError tests the package-level helpers on both
// structured and plain errors.
func TestIsRetryableAndIsAuthError(t *testing.T) {
	retryable := NewProviderError("claude", "m", errors.New("overloaded")).WithKind(ErrorRateLimit)
	if !IsRetryable(retryable) {
		t.Error("structured rate-limit error should be retryable")
	}

	auth := NewProviderError("claude", "m", errors.New("x")).WithKind(ErrorAuth)
	if IsRetryable(auth) {
		t.Error("structured auth error should not be retryable")
	}
	if !IsAuthError(auth) {
		t.Error("IsAuthError should detect structured auth errors")
	}

	if !IsRetryable(errors.New("503 service unavailable")) {
		t.Error("plain 503 error should be retryable")
	}
	if !IsAuthError(errors.New("401 unauthorized")) {
		t.Error("plain 401 error should classify as auth")
	}
}

// TestRetryAfterRecorded tests the retry-after hint plumbing.
func TestRetryAfterRecorded(t *testing.T) {
	err := NewProviderError("gpt", "gpt-4o", errors.New("rate limit")).
		WithRetryAfter(2500 * time.Millisecond)
	if err.RetryAfter != 2500*time.Millisecond {
		t.Errorf("retry-after not recorded: %v", err.RetryAfter)
	}
}
