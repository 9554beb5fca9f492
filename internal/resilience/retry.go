package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/force-engine/force/internal/ferrors"
)

// RetryConfig bounds one retry/exponential_backoff error-handling strategy
// invocation, sourced from the matching ErrorHandler.MaxRetries.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig mirrors gomind's retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// Retry runs fn under an exponential backoff schedule, stopping after
// cfg.MaxRetries attempts or when ctx is cancelled. A backoff.Permanent
// error returned by fn stops retrying immediately, matching how
// ferrors.IsUserError conditions should never be retried.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.InitialDelay
	bo.MaxInterval = cfg.MaxDelay

	wrapped := func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if ferrors.IsUserError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	maxTries := cfg.MaxRetries
	if maxTries <= 0 {
		maxTries = 1
	}

	_, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxTries)),
	)
	if err != nil {
		return ferrors.Withf("resilience.Retry", "execution", "", ferrors.ErrMaxRetriesExceeded,
			"retries exhausted: %v", err)
	}
	return nil
}

// RetryWithCircuitBreaker runs fn through cb's admission control on every
// attempt, so a breaker that trips mid-retry stops further attempts without
// waiting out the remaining backoff schedule.
func RetryWithCircuitBreaker(ctx context.Context, cfg RetryConfig, cb *CircuitBreaker, fn func(context.Context) error) error {
	return Retry(ctx, cfg, func(ctx context.Context) error {
		err := cb.Execute(ctx, fn)
		if errors.Is(err, ferrors.ErrCircuitOpen) {
			return backoff.Permanent(err)
		}
		return err
	})
}
