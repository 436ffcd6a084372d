package correlation

import (
	"sync"
	"time"
)

// OriginRateLimiter caps how many alerts each origin may submit inside a
// fixed window. The counter resets when the window rolls over, so a burst
// right at the boundary can briefly see up to twice the limit.
type OriginRateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	counts map[string]*originWindow

	now func() time.Time
}

type originWindow struct {
	start time.Time
	count int
}

// NewOriginRateLimiter creates a limiter admitting limit alerts per
// origin per window.
func NewOriginRateLimiter(limit int, window time.Duration) *OriginRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &OriginRateLimiter{
		limit:  limit,
		window: window,
		counts: make(map[string]*originWindow),
		now:    time.Now,
	}
}

// Allow reports whether the origin is still inside its budget and counts
// the request against it. A non-positive limit admits everything.
func (l *OriginRateLimiter) Allow(origin string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.counts[origin]
	if !ok || now.Sub(w.start) >= l.window {
		l.counts[origin] = &originWindow{start: now, count: 1}
		return true
	}
	w.count++
	return w.count <= l.limit
}
