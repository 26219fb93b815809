// Package retry runs an operation until it succeeds or fails with an
// error the caller classifies as permanent.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy retries while Retryable reports true. There is no attempt cap;
// the loop ends on success, a permanent error, or ctx cancellation.
type Policy struct {
	Backoff   BackoffConfig
	Retryable func(error) bool
	// OnRetry runs before each sleep with the 1-based attempt that failed.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Do runs fn under p. On cancellation the returned error wraps both the
// context error and the last retryable failure.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}

		delay := NextBackoffDelay(p.Backoff, attempt, nil)
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w (last error: %w)", ctx.Err(), err)
		case <-timer.C:
		}
	}
}
