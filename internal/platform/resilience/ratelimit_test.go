package resilience

import (
	"context"
	"testing"
	"time"
)

func TestSlidingWindowLimiter_AllowsWithinBudget(t *testing.T) {
	t.Parallel()

	limiter := NewSlidingWindowLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		waited, err := limiter.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait #%d error: %v", i, err)
		}
		if waited > 50*time.Millisecond {
			t.Fatalf("Wait #%d blocked for %v, expected immediate", i, waited)
		}
	}

	if got := limiter.InWindow(); got != 3 {
		t.Fatalf("expected 3 requests in window, got=%d", got)
	}
}

func TestSlidingWindowLimiter_BlocksWhenExhausted(t *testing.T) {
	t.Parallel()

	limiter := NewSlidingWindowLimiter(1, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	if _, err := limiter.Wait(ctx); err != nil {
		t.Fatalf("first Wait error: %v", err)
	}
	if _, err := limiter.Wait(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded on exhausted budget, got=%v", err)
	}
}

func TestSlidingWindowLimiter_WindowExpiry(t *testing.T) {
	t.Parallel()

	limiter := NewSlidingWindowLimiter(1, time.Minute)
	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }

	if _, err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait error: %v", err)
	}
	if got := limiter.InWindow(); got != 1 {
		t.Fatalf("expected 1 in window, got=%d", got)
	}

	current = current.Add(61 * time.Second)
	if got := limiter.InWindow(); got != 0 {
		t.Fatalf("expected expired window, got=%d", got)
	}
	if _, err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("Wait after expiry error: %v", err)
	}
}
