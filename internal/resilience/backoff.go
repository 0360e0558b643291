// Package resilience provides the bounded reconnection policy used when the
// realtime session drops mid-conversation.
//
// The policy is deliberately explicit: a fixed number of attempts with
// non-decreasing exponential delays, every wait cancellable. Exhaustion is a
// first-class outcome, not an edge case — the caller terminates on it.
//
// This package is internal because the policy encodes application-specific
// recovery behavior and is not intended for import by external code.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"
)

// Defaults for [Backoff].
const (
	DefaultInitialDelay = 500 * time.Millisecond
	DefaultMultiplier   = 2.0
	DefaultMaxAttempts  = 3
)

// ErrAttemptsExhausted is wrapped into the error returned by [Backoff.Retry]
// when every attempt failed with a retryable error.
var ErrAttemptsExhausted = errors.New("reconnection attempts exhausted")

// Backoff is a bounded exponential retry policy.
type Backoff struct {
	// InitialDelay is the wait before the second attempt. The first attempt
	// runs immediately.
	InitialDelay time.Duration

	// Multiplier scales the delay after each failed attempt. Must be at
	// least 1 so delays never decrease.
	Multiplier float64

	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
}

// DefaultBackoff returns the documented default policy: 3 attempts starting
// at 500 ms and doubling.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

// Validate reports configuration errors, joined per field.
func (b Backoff) Validate() error {
	var errs []error
	if b.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("initial delay must be positive, got %v", b.InitialDelay))
	}
	if b.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier must be at least 1, got %v", b.Multiplier))
	}
	if b.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("max attempts must be at least 1, got %d", b.MaxAttempts))
	}
	if len(errs) > 0 {
		return fmt.Errorf("resilience: invalid backoff: %w", errors.Join(errs...))
	}
	return nil
}

// Delay returns the wait before the given 1-based attempt. Attempt 1 has no
// wait; attempt n waits InitialDelay * Multiplier^(n-2). Delays are
// non-decreasing because Multiplier is at least 1.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return time.Duration(float64(b.InitialDelay) * math.Pow(b.Multiplier, float64(attempt-2)))
}

// Retry runs op up to MaxAttempts times. It stops early when op succeeds,
// when op fails with an error that permanent classifies as non-retryable, or
// when ctx is cancelled during a wait. On exhaustion the returned error
// wraps both [ErrAttemptsExhausted] and the last attempt's error.
//
// A nil permanent treats every error as retryable.
func (b Backoff) Retry(ctx context.Context, log *slog.Logger, op func(ctx context.Context) error, permanent func(error) bool) error {
	if log == nil {
		log = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= b.MaxAttempts; attempt++ {
		if delay := b.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("reconnected", "attempt", attempt)
			}
			return nil
		}
		lastErr = err

		if permanent != nil && permanent(err) {
			log.Error("permanent failure, not retrying", "attempt", attempt, "error", err)
			return err
		}
		log.Warn("attempt failed",
			"attempt", attempt,
			"max_attempts", b.MaxAttempts,
			"next_delay", b.Delay(attempt+1),
			"error", err)
	}

	return fmt.Errorf("resilience: %w after %d attempts: %w", ErrAttemptsExhausted, b.MaxAttempts, lastErr)
}
