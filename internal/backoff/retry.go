package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// RetryResult holds the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the successful result value.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// Retry executes fn with exponential backoff between failed attempts.
// fn receives the current attempt number (1-indexed). A nil error stops the
// loop; a non-nil error triggers a sleep and another attempt while attempts
// remain. Context cancellation is honoured both between attempts and inside
// the backoff sleep.
//
// If delayHint returns a positive duration for the error, that duration
// replaces the computed backoff for the next sleep. This lets callers honour
// server-advertised retry-after delays. delayHint may be nil.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	fn func(attempt int) (T, error),
	delayHint func(err error) time.Duration,
) (RetryResult[T], error) {
	var result RetryResult[T]
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = lastErr
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}

		lastErr = err
		result.LastError = err

		if attempt < maxAttempts {
			delay := Compute(policy, attempt)
			if delayHint != nil {
				if hint := delayHint(err); hint > 0 {
					delay = hint
				}
			}
			if err := SleepWithContext(ctx, delay); err != nil {
				return result, err
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}
