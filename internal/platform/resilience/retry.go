package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls exponential backoff between attempts
type RetryConfig struct {
	MaxAttempts int           // total calls including the first; <= 0 means one
	BaseDelay   time.Duration // wait before the second attempt
	MaxDelay    time.Duration // cap on any single wait; 0 means uncapped
	Jitter      float64       // fraction of each wait randomized either way, 0..1

	// OnRetry, when set, is called before each backoff sleep
	OnRetry func(attempt int, err error, delay time.Duration)
}

// backoff returns the wait after the given failed attempt (1-based)
func (c RetryConfig) backoff(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(2, float64(attempt-1))
	if c.MaxDelay > 0 {
		d = math.Min(d, float64(c.MaxDelay))
	}
	if c.Jitter > 0 {
		spread := d * math.Min(c.Jitter, 1)
		d += (rand.Float64()*2 - 1) * spread
	}
	return time.Duration(d)
}

// Retry calls fn until it succeeds, attempts run out or ctx ends
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	return RetryIf(ctx, cfg, nil, fn)
}

// RetryIf is Retry that gives up at once on errors isRetryable rejects.
// A nil isRetryable retries every error.
func RetryIf(ctx context.Context, cfg RetryConfig, isRetryable func(error) bool, fn func(context.Context) error) error {
	_, err := RetryIfWithResult(ctx, cfg, isRetryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryIfWithResult is RetryIf for calls that produce a value
func RetryIfWithResult[T any](ctx context.Context, cfg RetryConfig, isRetryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	attempts := max(cfg.MaxAttempts, 1)
	for attempt := 1; ; attempt++ {
		res, err := fn(ctx)
		switch {
		case err == nil:
			return res, nil
		case isRetryable != nil && !isRetryable(err):
			return zero, fmt.Errorf("non-retryable error: %w", err)
		case ctx.Err() != nil:
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case attempt >= attempts:
			return zero, fmt.Errorf("gave up after %d attempts: %w", attempts, err)
		}

		delay := cfg.backoff(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry cancelled during backoff: %w", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRetryable reports whether err may succeed on a later attempt. Guard
// rejections and caller cancellation are final.
func IsRetryable(err error) bool {
	return err != nil &&
		!errors.Is(err, ErrCircuitOpen) &&
		!errors.Is(err, ErrRateLimitExceeded) &&
		!errors.Is(err, context.Canceled)
}
