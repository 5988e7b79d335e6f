package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fastPolicy(attempts int) *Policy {
	p := NewExponential(attempts)
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 2 * time.Millisecond
	p.Retryable = func(err error) bool { return errors.Is(err, errTransient) }
	return p
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_StopsAtMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), fastPolicy(2), func(context.Context) error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 2, calls)
}

func TestDo_DoesNotRetryPermanentErrors(t *testing.T) {
	t.Parallel()

	permanent := errors.New("permanent")
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func(context.Context) error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 1, calls)
}

func TestDo_NilPolicyRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	err := Do(context.Background(), nil, func(context.Context) error {
		calls++
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 1, calls)
}

func TestShouldRetry_Cancellation(t *testing.T) {
	t.Parallel()

	p := NewExponential(5)
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.False(t, p.ShouldRetry(nil, 1))
}

func TestBackoff_IsBounded(t *testing.T) {
	t.Parallel()

	p := NewExponential(10)
	for attempt := 1; attempt < 10; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, p.MaxDelay)
	}
}

func TestShouldRetry_AttemptTimeoutIsRetryable(t *testing.T) {
	t.Parallel()

	p := NewExponential(3)
	require.True(t, p.ShouldRetry(context.DeadlineExceeded, 1))
	require.False(t, p.ShouldRetry(context.DeadlineExceeded, 3))
}

func TestDo_StopsWhenCallerContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, fastPolicy(5), func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	require.Equal(t, 1, calls)
}
