package resilience

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

var (
	// ErrRateLimitExceeded is returned when rate limit is exceeded
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// RateLimiter is a token bucket limiter for inbound cache requests
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter
// rps: number of requests per second
// burst: maximum burst size
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 10 // default: 10 requests/sec
	}
	if burst <= 0 {
		burst = int(rps) // default burst = rate
		if burst < 1 {
			burst = 1
		}
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Allow reports whether a request may proceed now, consuming a token if so
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Guard runs fn when a token is available, otherwise fails fast with ErrRateLimitExceeded
func (rl *RateLimiter) Guard(ctx context.Context, fn func(context.Context) error) error {
	if !rl.Allow() {
		return ErrRateLimitExceeded
	}
	return fn(ctx)
}
