// Package backoff provides exponential and linear backoff utilities for
// retrying provider and tool calls.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied to each attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// Compute calculates the backoff duration for a given attempt number.
// The formula is: base = initialMs * factor^(attempt-1), jitter = base * jitter * random().
// Returns min(maxMs, base + jitter) as a time.Duration. Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff duration using a provided random value,
// which keeps tests deterministic. randomValue should be in [0.0, 1.0).
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// ProviderPolicy returns the backoff schedule used for model API calls.
// Initial: 1s, Max: 60s, Factor: 2, no jitter so rate-limit hints stay predictable.
func ProviderPolicy() Policy {
	return Policy{
		InitialMs: 1000,
		MaxMs:     60000,
		Factor:    2,
		Jitter:    0,
	}
}

// EvaluatorPolicy returns a quick-retry schedule suitable for the bounded
// should-speak evaluation calls. Initial: 100ms, Max: 2s, Factor: 2, Jitter: 10%.
func EvaluatorPolicy() Policy {
	return Policy{
		InitialMs: 100,
		MaxMs:     2000,
		Factor:    2,
		Jitter:    0.1,
	}
}

// Linear returns the delay for linear backoff: base * attempt.
// Attempt numbers start at 1. Used by the tool executor's transient retries.
func Linear(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * time.Duration(attempt)
}
