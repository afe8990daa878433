package ledger

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryPolicy bounds retries of transient gateway failures with
// exponential backoff. Terminal gateway errors abort immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// DefaultRetryPolicy returns the policy used when configuration leaves
// the retry section unset.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
	}
}

// Do runs op until it succeeds, fails terminally, or the attempt budget
// is exhausted. The context cancels the backoff sleeps.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(p.backoff(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("retries exhausted after %d attempts: %w", attempts, lastErr)
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	base := p.BaseBackoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := p.MaxBackoff
	if max <= 0 {
		max = 30 * time.Second
	}

	d := base << (attempt - 1)
	if d > max || d <= 0 {
		d = max
	}
	// Jitter spreads retries from concurrent workers.
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
