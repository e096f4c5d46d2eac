package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter guards the admin-facing /api/stats endpoint against a
// misbehaving poller hammering diagnostics for a running game, separately
// from the per-connection datagram bandwidth shaping the step transport
// applies. It enforces a maximum number of requests within a time window and
// keeps a running count of rejections so StatsHandler can surface pressure
// on the endpoint without logging every single 429.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu       sync.Mutex
	events   []time.Time
	rejected uint64
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit events per window.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if window <= 0 || limit <= 0 {
		return &SlidingWindowLimiter{window: window, limit: limit}
	}
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{
		window: window,
		limit:  limit,
		now:    timeSource,
	}
}

// Allow reports whether the caller may proceed under the current rate limits.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	kept := l.events[:0]
	for _, ts := range l.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.events = kept
	if len(l.events) >= l.limit {
		l.rejected++
		return false
	}
	l.events = append(l.events, now)
	return true
}

// Rejected reports the total number of requests turned away by this
// limiter since construction. Safe to call on a nil limiter.
func (l *SlidingWindowLimiter) Rejected() uint64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rejected
}
