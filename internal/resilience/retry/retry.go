// Package retry provides a bounded retry executor with exponential backoff
// and jitter. It handles transient upstream failures by re-invoking an
// operation a fixed number of times, never indefinitely.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// Default backoff parameters, matching the gateway's upstream retry policy.
const (
	DefaultMaxRetries     = 3
	DefaultBaseDelay      = 1 * time.Second
	DefaultMaxDelay       = 16 * time.Second
	DefaultJitterFraction = 0.1
)

// Config holds the configuration for the retry executor.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt, so an
	// operation is invoked at most MaxRetries+1 times. Must be >= 0.
	MaxRetries int

	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// JitterFraction is the fraction of the capped delay added as uniform
	// random jitter (0.0 to 1.0) to desynchronize concurrent retriers.
	JitterFraction float64

	// Retryable classifies errors. Only errors for which it returns true
	// trigger a retry; everything else propagates immediately. When nil,
	// no error is considered retryable.
	Retryable func(error) bool
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
		JitterFraction: DefaultJitterFraction,
	}
}

// LLMProxyConfig returns configuration optimized for upstream LLM calls.
// Moderate retry due to cost considerations.
func LLMProxyConfig() Config {
	return Config{
		MaxRetries:     3,
		BaseDelay:      1 * time.Second,
		MaxDelay:       16 * time.Second,
		JitterFraction: 0.1,
	}
}

// StoreConfig returns configuration optimized for cache-backend operations.
// Fast retry for transient connection issues.
func StoreConfig() Config {
	return Config{
		MaxRetries:     2,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       1 * time.Second,
		JitterFraction: 0.1,
	}
}

// ExhaustedError is returned when every attempt failed with a retryable
// error. It carries the total attempt count and wraps the last error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %v", e.Attempts, e.Err)
}

// Unwrap returns the last observed error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Delay computes the backoff delay for a retry after the given zero-indexed
// attempt: min(base * 2^attempt, max) plus uniform jitter in
// [0, delay*jitterFraction). The result never exceeds max*(1+jitterFraction).
func Delay(attempt int, base, max time.Duration, jitterFraction float64) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if max <= 0 {
		max = DefaultMaxDelay
	}

	delay := base << uint(attempt)
	if delay > max || delay <= 0 { // shift overflow guard
		delay = max
	}

	if jitterFraction > 0 {
		if jitterFraction > 1.0 {
			jitterFraction = 1.0
		}
		// #nosec G404 -- math/rand is sufficient for backoff jitter;
		// cryptographic randomness is not required here.
		delay += time.Duration(rand.Float64() * float64(delay) * jitterFraction)
	}

	return delay
}

// Do invokes op up to cfg.MaxRetries+1 times, sleeping with exponential
// backoff between attempts. The sleep is a select on a timer and the context,
// so a pending delay is cancellable and holds no locks.
//
// Non-retryable errors propagate immediately. When all attempts fail, the
// last error is returned wrapped in an *ExhaustedError carrying the attempt
// count.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 0 {
				slog.Info("operation succeeded after retry",
					slog.Int("attempt", attempt+1))
			}
			return result, nil
		}
		lastErr = err

		if cfg.Retryable == nil || !cfg.Retryable(err) {
			return zero, err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		delay := Delay(attempt, cfg.BaseDelay, cfg.MaxDelay, cfg.JitterFraction)

		slog.Warn("operation failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", cfg.MaxRetries+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}

	slog.Error("all retry attempts failed",
		slog.Int("attempts", cfg.MaxRetries+1),
		slog.Any("error", lastErr))

	return zero, &ExhaustedError{Attempts: cfg.MaxRetries + 1, Err: lastErr}
}

// IsExhausted reports whether err marks a retry budget spent on transient
// failures, and returns the attempt count when it does.
func IsExhausted(err error) (int, bool) {
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return exhausted.Attempts, true
	}
	return 0, false
}
