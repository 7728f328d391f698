// Package retry holds the shared attempt/delay/cooldown policy used by the
// pipeline for transient upstream failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted marks an operation that failed on every attempt.
var ErrExhausted = errors.New("retries exhausted")

// Policy describes how a failing operation is retried and how long its key
// is parked afterwards.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Cooldown    time.Duration

	// OnRetry is called after a failed attempt that will be retried.
	OnRetry func(op string, attempt int, err error)
}

// DefaultPolicy returns 5 attempts, 30s apart, followed by a 15 minute cooldown.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		Delay:       30 * time.Second,
		Cooldown:    15 * time.Minute,
	}
}

// Do calls fn until it succeeds, attempts run out, or ctx is done.
// The returned error wraps both ErrExhausted and the last failure.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				return err
			}
			return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempt-1, lastErr)
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, lastErr)
		}
		if p.Delay > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempt, lastErr)
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", op, ErrExhausted, attempts, lastErr)
}
