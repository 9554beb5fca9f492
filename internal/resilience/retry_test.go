package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/force-engine/force/internal/ferrors"
)

func TestRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryExhaustsAndWrapsError(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ferrors.ErrMaxRetriesExceeded))
	assert.Equal(t, 2, attempts)
}

func TestRetryStopsImmediatelyOnUserError(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return ferrors.Withf("op", "tool", "t1", ferrors.ErrParameter, "bad input")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "a user error must not be retried")
}

func TestRetryWithCircuitBreakerStopsOnOpenCircuit(t *testing.T) {
	cfg := testConfig("retrying_tool/transient")
	cfg.VolumeThreshold = 1
	cb := New(cfg)

	attempts := 0
	err := RetryWithCircuitBreaker(context.Background(), RetryConfig{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, cb,
		func(ctx context.Context) error {
			attempts++
			return errors.New("boom")
		})

	require.Error(t, err)
	assert.NotEqual(t, StateClosed, cb.State(), "a circuit that tripped on the first failure should not end up closed again")
	assert.GreaterOrEqual(t, attempts, 1)
}
