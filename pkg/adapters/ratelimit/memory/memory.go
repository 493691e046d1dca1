package memory

import (
	"context"
	"sync"
	"time"
)

// Limiter implements ports.RateLimiter with an in-process sliding window of
// request timestamps per caller.
type Limiter struct {
	maxRequests int
	window      time.Duration

	mu      sync.Mutex
	callers map[string][]time.Time
}

// NewLimiter creates a sliding-window limiter allowing maxRequests per
// window per caller.
func NewLimiter(maxRequests int, window time.Duration) *Limiter {
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		callers:     make(map[string][]time.Time),
	}
}

// Allow records one request for callerID if it fits the window. Rejected
// requests are not recorded, so a throttled caller is not penalized for
// probing.
func (l *Limiter) Allow(ctx context.Context, callerID string) (bool, error) {
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.callers[callerID]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.maxRequests {
		l.callers[callerID] = kept
		return false, nil
	}

	l.callers[callerID] = append(kept, now)
	return true, nil
}
