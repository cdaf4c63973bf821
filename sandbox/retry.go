package sandbox

import (
	"context"

	"github.com/felixgeelhaar/fortify/retry"
)

// newRetrier builds the exponential backoff policy shared by container
// creation and execution. Only transient runtime errors are retried.
func newRetrier[T any](cfg RetryConfig) retry.Retry[T] {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 2.0
	}

	return retry.New[T](retry.Config{
		MaxAttempts:   attempts,
		InitialDelay:  cfg.InitialDelay,
		MaxDelay:      cfg.MaxDelay,
		Multiplier:    multiplier,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        cfg.Jitter,
		IsRetryable:   IsTransient,
	})
}

// doWithRetry runs op under r and returns the error of the last attempt, so
// callers can match it with errors.Is whatever wrapping the policy applies.
func doWithRetry[T any](ctx context.Context, r retry.Retry[T], op func(context.Context) (T, error)) (T, int, error) {
	var (
		lastErr  error
		attempts int
	)

	result, err := r.Do(ctx, func(ctx context.Context) (T, error) {
		attempts++
		v, opErr := op(ctx)
		lastErr = opErr
		return v, opErr
	})
	if err != nil {
		if lastErr == nil {
			// The policy gave up before running op, e.g. on a cancelled context
			lastErr = err
		}
		var zero T
		return zero, attempts, lastErr
	}
	return result, attempts, nil
}
