package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling the backend while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker position. Its int value is exported as a gauge.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures that open a closed breaker (default 5)
	SuccessThreshold int           // successes in half-open that close it again (default 2)
	Timeout          time.Duration // cool-down before an open breaker admits trials (default 60s)
	MaxTrials        int           // concurrent requests admitted while half-open; <= 0 means unlimited

	// IsFailure decides which errors count against the breaker. Defaults to
	// every error except caller cancellation.
	IsFailure func(error) bool

	// OnStateChange runs under the breaker lock; it must not call back into it
	OnStateChange func(from, to State)
}

type counts struct {
	failures  int
	successes int
	trials    int
}

// CircuitBreaker guards calls to a backend that may be down. Errors that
// IsFailure rejects (a cache miss, a type mismatch) pass through without
// affecting state.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	maxTrials        int
	isFailure        func(error) bool
	onStateChange    func(from, to State)

	mu       sync.RWMutex
	state    State
	counts   counts
	openedAt time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		maxTrials:        cfg.MaxTrials,
		isFailure:        cfg.IsFailure,
		onStateChange:    cfg.OnStateChange,
	}
	if cb.failureThreshold <= 0 {
		cb.failureThreshold = 5
	}
	if cb.successThreshold <= 0 {
		cb.successThreshold = 2
	}
	if cb.timeout <= 0 {
		cb.timeout = 60 * time.Second
	}
	if cb.isFailure == nil {
		cb.isFailure = func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}
	}
	return cb
}

// Execute runs fn unless the breaker is rejecting calls
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(trial, err)
	return err
}

// ExecuteWithResult is Execute for calls that produce a value. It is a
// function because methods cannot take type parameters.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	trial, err := cb.admit()
	if err != nil {
		var zero T
		return zero, err
	}
	res, err := fn(ctx)
	cb.record(trial, err)
	return res, err
}

// admit decides whether a call may proceed and whether it is a half-open trial
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) <= cb.timeout {
			return false, ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	}

	if cb.state == StateHalfOpen {
		if cb.maxTrials > 0 && cb.counts.trials >= cb.maxTrials {
			return false, ErrCircuitOpen
		}
		cb.counts.trials++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) record(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if trial && cb.counts.trials > 0 {
		cb.counts.trials--
	}

	switch {
	case err == nil:
		cb.onSuccess()
	case cb.isFailure(err):
		cb.onFailure()
	}
	// Errors IsFailure rejects count neither way
}

func (cb *CircuitBreaker) onSuccess() {
	switch cb.state {
	case StateClosed:
		cb.counts.failures = 0
	case StateHalfOpen:
		cb.counts.successes++
		if cb.counts.successes >= cb.successThreshold {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	switch cb.state {
	case StateClosed:
		cb.counts.failures++
		if cb.counts.failures >= cb.failureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
}

// trip opens the breaker and restarts the cool-down. Caller holds mu.
func (cb *CircuitBreaker) trip() {
	cb.openedAt = time.Now()
	cb.transition(StateOpen)
}

// transition moves to next with fresh counters. Caller holds mu.
func (cb *CircuitBreaker) transition(next State) {
	prev := cb.state
	cb.state = next
	cb.counts = counts{}

	if cb.onStateChange != nil && prev != next {
		cb.onStateChange(prev, next)
	}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// StateInt returns the state as a gauge value
func (cb *CircuitBreaker) StateInt() int64 {
	return int64(cb.State())
}

func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset closes the breaker and clears its counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

// ForceOpen opens the breaker as if the failure threshold had been reached
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trip()
}

// Stats returns the state with its consecutive failure and half-open success counts
func (cb *CircuitBreaker) Stats() (state State, failures, successes int) {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state, cb.counts.failures, cb.counts.successes
}
