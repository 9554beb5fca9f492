package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.VolumeThreshold = 3
	cfg.ErrorThreshold = 0.5
	cfg.SleepWindow = 20 * time.Millisecond
	cfg.HalfOpenRequests = 2
	cfg.SuccessThreshold = 0.5
	cfg.WindowSize = time.Second
	cfg.BucketCount = 10
	return cfg
}

func TestCircuitBreakerStartsClosed(t *testing.T) {
	cb := New(testConfig("fresh"))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerTripsOpenAfterErrorRateExceeded(t *testing.T) {
	cb := New(testConfig("flaky_tool/transient"))
	failing := func(ctx context.Context) error { return errors.New("boom") }

	// Five invocations: three failures clear VolumeThreshold=3 with a 100%
	// error rate, tripping the breaker; the fourth and fifth are rejected
	// without ever reaching failing().
	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), failing)
		assert.Error(t, err)
	}
	assert.Equal(t, StateOpen, cb.State())

	calls := 0
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, 0, calls, "open breaker must not invoke the wrapped function")

	err = cb.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestCircuitBreakerHalfOpensAfterSleepWindowAndRecoversOnSuccess(t *testing.T) {
	cb := New(testConfig("recovering_tool/transient"))
	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return errors.New("boom") })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
		assert.NoError(t, err)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerRecoversPanicAsError(t *testing.T) {
	cb := New(testConfig("panicky_tool/transient"))
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		panic("kaboom")
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestManagerHandsOutOneBreakerPerKey(t *testing.T) {
	m := NewManager(nil)
	a1 := m.Get("tool_a", "transient", 0)
	a2 := m.Get("tool_a", "transient", 0)
	b := m.Get("tool_b", "transient", 0)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
}
