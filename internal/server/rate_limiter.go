package server

import (
	"sync"
	"time"

	"github.com/scanpoint/verity/internal/clock"
)

// rateLimiter is a fixed-window per-key limiter for the scan and webhook
// endpoints. A scanning device keying the same window repeatedly is bounded;
// entries from expired windows are dropped opportunistically on access.
type rateLimiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock
	mu     sync.Mutex
	items  map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

func newRateLimiter(limit int, window time.Duration, clk clock.Clock) *rateLimiter {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &rateLimiter{
		limit:  limit,
		window: window,
		clock:  clk,
		items:  make(map[string]*rateWindow),
	}
}

func (r *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}

	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.items[key]
	if entry == nil || now.Sub(entry.start) > r.window {
		entry = &rateWindow{start: now}
		r.items[key] = entry
	}
	if entry.count >= r.limit {
		return false
	}
	entry.count++

	if len(r.items) > 1024 {
		r.evictStaleLocked(now)
	}
	return true
}

func (r *rateLimiter) evictStaleLocked(now time.Time) {
	for key, entry := range r.items {
		if now.Sub(entry.start) > r.window {
			delete(r.items, key)
		}
	}
}
