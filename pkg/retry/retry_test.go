package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
		MaxElapsedTime:  time.Second,
	}
}

func TestDoSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtMaxAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func() error {
		calls++
		return errors.New("always failing")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoFatalErrorNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), func() error {
		calls++
		return NewFatalError(errors.New("broken payload"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastPolicy(5), func() error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestDoWithCallbackObservesRetries(t *testing.T) {
	var attempts []int
	err := DoWithCallback(context.Background(), fastPolicy(3), func() error {
		return errors.New("transient")
	}, func(attempt int, err error, nextDelay time.Duration) {
		attempts = append(attempts, attempt)
		assert.Positive(t, nextDelay)
	})
	require.Error(t, err)

	// The callback fires before each retry sleep, never after the final
	// attempt.
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestNextDelayCapped(t *testing.T) {
	policy := Policy{
		InitialInterval: time.Second,
		MaxInterval:     4 * time.Second,
		Multiplier:      2.0,
	}
	assert.Equal(t, time.Second, NextDelay(1, policy), "first retry sleeps the initial interval")
	assert.Equal(t, 2*time.Second, NextDelay(2, policy))
	assert.Equal(t, 4*time.Second, NextDelay(3, policy))
	assert.Equal(t, 4*time.Second, NextDelay(10, policy))
}
