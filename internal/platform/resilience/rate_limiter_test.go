package resilience

import (
	"context"
	"errors"
	"testing"
)

// TestRateLimiterBurst verifies the bucket admits burst requests then rejects
func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("Expected request %d within burst to be allowed", i+1)
		}
	}
	if rl.Allow() {
		t.Error("Expected request beyond burst to be rejected")
	}

	t.Log("✓ Burst enforced")
}

// TestRateLimiterGuard verifies Guard fails fast when the bucket is empty
func TestRateLimiterGuard(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	calls := 0
	fn := func(ctx context.Context) error {
		calls++
		return nil
	}

	if err := rl.Guard(context.Background(), fn); err != nil {
		t.Fatalf("First call should pass: %v", err)
	}
	if err := rl.Guard(context.Background(), fn); !errors.Is(err, ErrRateLimitExceeded) {
		t.Errorf("Expected ErrRateLimitExceeded, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}

	t.Log("✓ Guard rejects when limited")
}
