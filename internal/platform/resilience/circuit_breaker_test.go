package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agatticelli/cachekit/internal/platform/cache"
)

// backendDown is what a Redis-backed cache returns when the server is unreachable
var backendDown = fmt.Errorf("get %q: %w", "user:1", cache.ErrConnectionFailure)

func newCacheBreaker(failures, successes int, timeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "cache",
		FailureThreshold: failures,
		SuccessThreshold: successes,
		Timeout:          timeout,
		IsFailure:        cache.IsTransient,
	})
}

func fail(cb *CircuitBreaker, err error, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(ctx context.Context) error { return err })
	}
}

func succeed(cb *CircuitBreaker) error {
	return cb.Execute(context.Background(), func(ctx context.Context) error { return nil })
}

// TestOpensAfterTransportFailures verifies the breaker trips only at the threshold
func TestOpensAfterTransportFailures(t *testing.T) {
	cb := newCacheBreaker(3, 2, time.Second)

	if cb.State() != StateClosed {
		t.Fatalf("Expected initial state closed, got %s", cb.State())
	}

	fail(cb, backendDown, 2)
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed below threshold, got %s", cb.State())
	}

	fail(cb, backendDown, 1)
	if cb.State() != StateOpen {
		t.Fatalf("Expected open at threshold, got %s", cb.State())
	}

	called := false
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if called {
		t.Error("Backend must not be called while open")
	}

	t.Log("✓ Breaker opens after consecutive transport failures")
}

// TestCacheOutcomesThatDoNotTrip verifies caller-level cache results never count as failures
func TestCacheOutcomesThatDoNotTrip(t *testing.T) {
	outcomes := []error{
		cache.ErrNotFound,
		fmt.Errorf("incr %q: %w", "name", cache.ErrTypeMismatch),
		cache.ErrOverflow,
		context.Canceled,
	}

	for _, outcome := range outcomes {
		t.Run(outcome.Error(), func(t *testing.T) {
			cb := newCacheBreaker(1, 1, time.Hour)

			for i := 0; i < 5; i++ {
				err := cb.Execute(context.Background(), func(ctx context.Context) error { return outcome })
				if !errors.Is(err, outcome) {
					t.Fatalf("Expected %v to pass through, got %v", outcome, err)
				}
			}

			if cb.State() != StateClosed {
				t.Errorf("Expected closed, got %s", cb.State())
			}
		})
	}

	t.Log("✓ Misses, mismatches, overflows and cancellations leave the breaker closed")
}

// TestBackendCommandErrorsTrip verifies rejected commands count like lost connections
func TestBackendCommandErrorsTrip(t *testing.T) {
	cb := newCacheBreaker(2, 1, time.Hour)

	fail(cb, fmt.Errorf("keys: %w", cache.ErrBackendCommand), 2)

	if cb.State() != StateOpen {
		t.Errorf("Expected open after backend command errors, got %s", cb.State())
	}

	t.Log("✓ Backend command errors trip the breaker")
}

// TestDefaultIsFailureIgnoresCancellation verifies the default classifier
func TestDefaultIsFailureIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Hour})

	fail(cb, context.Canceled, 3)
	fail(cb, context.DeadlineExceeded, 3)
	if cb.State() != StateClosed {
		t.Fatalf("Expected closed after cancellations, got %s", cb.State())
	}

	fail(cb, errors.New("dial tcp: connection refused"), 2)
	if cb.State() != StateOpen {
		t.Errorf("Expected open after plain errors, got %s", cb.State())
	}

	t.Log("✓ Default classifier ignores caller cancellation")
}

// TestRecoveryThroughHalfOpen walks open -> half-open -> closed
func TestRecoveryThroughHalfOpen(t *testing.T) {
	cb := newCacheBreaker(1, 2, 50*time.Millisecond)

	fail(cb, backendDown, 1)
	if cb.State() != StateOpen {
		t.Fatalf("Expected open, got %s", cb.State())
	}

	time.Sleep(80 * time.Millisecond)

	if err := succeed(cb); err != nil {
		t.Fatalf("First trial rejected: %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("Expected half-open after one success, got %s", cb.State())
	}

	if err := succeed(cb); err != nil {
		t.Fatalf("Second trial rejected: %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed after success threshold, got %s", cb.State())
	}

	t.Log("✓ Breaker recovers through half-open")
}

// TestHalfOpenFailureReopens verifies a failed trial restarts the cool-down
func TestHalfOpenFailureReopens(t *testing.T) {
	cb := newCacheBreaker(1, 2, 50*time.Millisecond)

	fail(cb, backendDown, 1)
	time.Sleep(80 * time.Millisecond)

	fail(cb, backendDown, 1)
	if cb.State() != StateOpen {
		t.Fatalf("Expected open after failed trial, got %s", cb.State())
	}

	// Cool-down restarted, so an immediate call is still rejected
	if err := succeed(cb); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen right after reopening, got %v", err)
	}

	t.Log("✓ Failed trial reopens the breaker")
}

// TestSuccessResetsFailureCount verifies failures must be consecutive
func TestSuccessResetsFailureCount(t *testing.T) {
	cb := newCacheBreaker(3, 1, time.Hour)

	for i := 0; i < 5; i++ {
		fail(cb, backendDown, 2)
		if err := succeed(cb); err != nil {
			t.Fatalf("Unexpected rejection: %v", err)
		}
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected closed with interleaved successes, got %s", cb.State())
	}
	if _, failures, _ := cb.Stats(); failures != 0 {
		t.Errorf("Expected failure count reset, got %d", failures)
	}

	t.Log("✓ Successes reset the failure count")
}

// TestOnStateChangeReportsTransitions verifies the callback sees every real transition once
func TestOnStateChangeReportsTransitions(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "cache",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          30 * time.Millisecond,
		IsFailure:        cache.IsTransient,
		OnStateChange: func(from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+"->"+to.String())
			mu.Unlock()
		},
	})

	fail(cb, backendDown, 1)
	time.Sleep(50 * time.Millisecond)
	_ = succeed(cb)
	cb.Reset() // already closed: no callback

	want := []string{"closed->open", "open->half-open", "half-open->closed"}

	mu.Lock()
	defer mu.Unlock()
	if len(transitions) != len(want) {
		t.Fatalf("Expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}

	t.Log("✓ State change callback fires once per transition")
}

// TestManualControls covers ForceOpen, Reset and the defaults
func TestManualControls(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "manual"})

	if cb.failureThreshold != 5 || cb.successThreshold != 2 || cb.timeout != 60*time.Second {
		t.Errorf("Unexpected defaults: %d %d %v", cb.failureThreshold, cb.successThreshold, cb.timeout)
	}
	if cb.Name() != "manual" {
		t.Errorf("Expected name manual, got %s", cb.Name())
	}

	cb.ForceOpen()
	if cb.State() != StateOpen || cb.StateInt() != 1 {
		t.Fatalf("Expected forced open, got %s", cb.State())
	}
	if err := succeed(cb); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected rejection while forced open, got %v", err)
	}

	cb.Reset()
	state, failures, successes := cb.Stats()
	if state != StateClosed || failures != 0 || successes != 0 {
		t.Errorf("Expected clean closed state, got %s %d %d", state, failures, successes)
	}

	t.Log("✓ Manual controls work")
}

// TestHalfOpenTrialLimit verifies only MaxTrials requests run while half-open
func TestHalfOpenTrialLimit(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test-trials",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
		MaxTrials:        1,
	})

	cb.ForceOpen()
	time.Sleep(100 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- cb.Execute(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started

	// A second request while the trial is in flight is rejected
	if err := succeed(cb); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen while trial in flight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Trial failed: %v", err)
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected closed after successful trial, got %s", cb.State())
	}

	t.Log("✓ Half-open trial limit enforced")
}

// TestExecuteWithResultGuardsCacheReads wraps a real cache read
func TestExecuteWithResultGuardsCacheReads(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemoryCache(10)
	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect(ctx)

	if _, err := c.Set(ctx, "greeting", "hello", cache.NoExpiration); err != nil {
		t.Fatal(err)
	}

	cb := newCacheBreaker(1, 1, time.Hour)

	v, err := ExecuteWithResult(cb, ctx, func(ctx context.Context) (interface{}, error) {
		return c.Get(ctx, "greeting")
	})
	if err != nil || v != "hello" {
		t.Fatalf("Expected hello, got %v (%v)", v, err)
	}

	_, err = ExecuteWithResult(cb, ctx, func(ctx context.Context) (interface{}, error) {
		return c.Get(ctx, "missing")
	})
	if !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// A disconnected cache is not a transport failure either
	_ = c.Disconnect(ctx)
	_, err = ExecuteWithResult(cb, ctx, func(ctx context.Context) (interface{}, error) {
		return c.Get(ctx, "greeting")
	})
	if !errors.Is(err, cache.ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected closed, got %s", cb.State())
	}

	t.Log("✓ ExecuteWithResult passes cache results through")
}

// TestConcurrentExecute verifies counters stay consistent under contention
func TestConcurrentExecute(t *testing.T) {
	cb := newCacheBreaker(1000, 1, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if (i+j)%2 == 0 {
					_ = succeed(cb)
				} else {
					fail(cb, backendDown, 1)
				}
			}
		}(i)
	}
	wg.Wait()

	if cb.State() != StateClosed {
		t.Errorf("Expected closed with interleaved results, got %s", cb.State())
	}

	t.Log("✓ Concurrent access is safe")
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	}
	for state, want := range cases {
		if state.String() != want {
			t.Errorf("State(%d).String() = %s, want %s", state, state.String(), want)
		}
	}
}
