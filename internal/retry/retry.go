// Package retry implements the exponential-backoff wrapper used by the
// transfer engine. The schedule is deterministic (base doubled per attempt,
// no jitter) so callers can reason about total worst-case duration.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/user/remoterun/internal/ctxlog"
)

// Policy controls how many times an operation is retried and how long the
// waits between attempts grow. Total attempts = MaxRetries + 1.
type Policy struct {
	MaxRetries int
	Backoff    time.Duration

	// Sleeper replaces the context-aware wait in tests. Nil means real time.
	Sleeper func(ctx context.Context, d time.Duration) error
}

// Delay returns the wait before retry attempt n (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.Backoff << (attempt - 1)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleeper != nil {
		return p.Sleeper(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds or MaxRetries+1 attempts are exhausted,
// sleeping Delay(n) after the n-th failure. The last error is propagated
// unchanged so callers can inspect it.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	logger := ctxlog.From(ctx)
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		delay := p.Delay(attempt)
		logger.Warn("operation failed, retrying",
			"op", op, "attempt", attempt, "max_attempts", attempts,
			"backoff", delay, "error", lastErr)
		if err := p.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return fmt.Errorf("%s: %d attempts exhausted: %w", op, attempts, lastErr)
}
