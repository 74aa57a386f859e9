package providers

import (
	"context"
	"time"

	"github.com/quorumchat/quorum/internal/backoff"
)

// maxGenerateAttempts bounds retries for one-shot completion calls.
const maxGenerateAttempts = 3

// callWithRetry wraps a provider call with exponential backoff on retryable
// errors. Base 1s, factor 2, cap 60s, up to 3 attempts. Rate-limit errors
// that advertise a retry delay override the computed backoff; auth and other
// non-retryable errors return immediately.
func callWithRetry[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	policy := backoff.ProviderPolicy()
	var lastErr error

	for attempt := 1; attempt <= maxGenerateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := fn(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == maxGenerateAttempts {
			return zero, err
		}

		delay := backoff.Compute(policy, attempt)
		if pe, ok := GetProviderError(err); ok && pe.RetryAfter > 0 {
			delay = pe.RetryAfter
		}
		if err := backoff.SleepWithContext(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

// retryAfterFromHeader parses a Retry-After style value in seconds.
func retryAfterFromSeconds(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
