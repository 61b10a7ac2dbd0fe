package server

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	limiter := newRateLimiter(3, time.Minute, clk)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("dev-7") {
			t.Fatalf("request %d should pass", i)
		}
	}
	if limiter.Allow("dev-7") {
		t.Fatalf("fourth request should be blocked")
	}
	if !limiter.Allow("dev-8") {
		t.Fatalf("other keys are unaffected")
	}
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	clk := &fakeClock{now: time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)}
	limiter := newRateLimiter(1, time.Minute, clk)

	if !limiter.Allow("dev-7") {
		t.Fatalf("first request should pass")
	}
	if limiter.Allow("dev-7") {
		t.Fatalf("second request inside the window should be blocked")
	}

	clk.Advance(61 * time.Second)
	if !limiter.Allow("dev-7") {
		t.Fatalf("request after window rollover should pass")
	}
}

func TestRateLimiterRejectsEmptyKey(t *testing.T) {
	limiter := newRateLimiter(10, time.Minute, nil)
	if limiter.Allow("") {
		t.Fatalf("empty key must not pass")
	}
}
