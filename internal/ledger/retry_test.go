package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 4, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &Error{Op: "payment", Code: "unavailable", Transient: true}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_TerminalErrorAbortsImmediately(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Millisecond}
	terminal := &Error{Op: "payment", Code: "bad_request", Transient: false}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return terminal
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "bad_request", lerr.Code)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &Error{Op: "payment", Code: "unavailable", Transient: true}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err))
}

func TestRetryPolicy_ContextCancelsBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseBackoff: time.Hour, MaxBackoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, func(ctx context.Context) error {
		return &Error{Op: "payment", Code: "unavailable", Transient: true}
	})
	assert.ErrorIs(t, err, context.Canceled)
}
