// Package retry implements the attempt policy used around flaky upstream calls:
// a bounded number of attempts with exponential backoff, a predicate deciding
// which failures are worth another try, and an optional fallback producer.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"VibeTune/logger"
)

// ErrAttemptsExhausted wraps the last error once every attempt failed.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// Policy configures Do.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// Retryable reports whether a failure may be retried. Nil retries everything.
	Retryable func(err error) bool
	// Sleep waits between attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
	// Name labels log lines.
	Name string
}

// Exponential returns the backoff base * 2^attempt.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	}
}

// DefaultPolicy is three attempts with 2s, 4s waits between them.
func DefaultPolicy(name string) Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     Exponential(time.Second),
		Name:        name,
	}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, a non-retryable error occurs, attempts run out
// or ctx is cancelled.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info("[Retry] succeeded after retry",
					logger.String("op", p.Name), logger.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err
		logger.Warn("[Retry] attempt failed",
			logger.String("op", p.Name),
			logger.Int("attempt", attempt),
			logger.Int("maxAttempts", attempts),
			logger.ErrorField(err))

		if attempt == attempts || (p.Retryable != nil && !p.Retryable(err)) {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
	return zero, fmt.Errorf("%w for %s: %w", ErrAttemptsExhausted, p.Name, lastErr)
}

// Step is one strategy in a fallback chain.
type Step[T any] func(ctx context.Context) (T, error)

// FirstSuccess runs steps in order and returns the first success. When all of
// them fail, fallback produces the result; it is called exactly once and must
// not fail.
func FirstSuccess[T any](ctx context.Context, fallback func() T, steps ...Step[T]) T {
	for i, step := range steps {
		if step == nil {
			continue
		}
		result, err := step(ctx)
		if err == nil {
			return result
		}
		logger.Warn("[Retry] strategy failed, moving on",
			logger.Int("step", i+1), logger.ErrorField(err))
	}
	return fallback()
}
