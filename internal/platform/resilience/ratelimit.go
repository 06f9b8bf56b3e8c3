package resilience

import (
	"context"
	"sync"
	"time"
)

// SlidingWindowLimiter enforces a per-provider request budget: at most
// maxRequests calls inside any trailing window. Wait blocks until the window
// has capacity or the context is cancelled.
type SlidingWindowLimiter struct {
	mu          sync.Mutex
	maxRequests int
	window      time.Duration
	timestamps  []time.Time
	now         func() time.Time
}

func NewSlidingWindowLimiter(maxRequests int, window time.Duration) *SlidingWindowLimiter {
	if maxRequests < 1 {
		maxRequests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindowLimiter{
		maxRequests: maxRequests,
		window:      window,
		timestamps:  make([]time.Time, 0, maxRequests),
		now:         time.Now,
	}
}

// Wait blocks until a request slot is available, then records the request.
// Returns the time spent waiting so callers can log budget pressure.
func (l *SlidingWindowLimiter) Wait(ctx context.Context) (time.Duration, error) {
	start := l.now()
	for {
		wait := l.tryReserve()
		if wait <= 0 {
			return l.now().Sub(start), nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return l.now().Sub(start), ctx.Err()
		case <-timer.C:
		}
	}
}

// tryReserve records the call if the window has capacity, otherwise returns
// how long until the oldest in-window call expires.
func (l *SlidingWindowLimiter) tryReserve() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := l.timestamps[:0]
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.timestamps = kept

	if len(l.timestamps) < l.maxRequests {
		l.timestamps = append(l.timestamps, now)
		return 0
	}

	return l.timestamps[0].Sub(cutoff)
}

// InWindow reports how many requests currently count against the budget.
func (l *SlidingWindowLimiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	count := 0
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			count++
		}
	}
	return count
}
