package middleware

import (
	"context"
	"sync"
	"time"
)

const (
	loginAttemptsPerMinute = 5
	memoryLimiterSweep     = 5 * time.Minute
)

type fixedWindow struct {
	start time.Time
	count int
}

// MemoryRateLimiter is a per-process fixed window limiter. It backs the
// console login route, which must keep working when Redis is down.
type MemoryRateLimiter struct {
	mu        sync.Mutex
	windows   map[string]*fixedWindow
	lastSweep time.Time
	now       func() time.Time
}

func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{
		windows: make(map[string]*fixedWindow),
		now:     time.Now,
	}
}

func (l *MemoryRateLimiter) Check(_ context.Context, key string, limit int) (bool, int, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	win, ok := l.windows[key]
	if !ok || now.Sub(win.start) >= rateLimitWindow {
		win = &fixedWindow{start: now}
		l.windows[key] = win
	}
	resetAt := win.start.Add(rateLimitWindow).Unix()

	if win.count >= limit {
		return false, 0, resetAt
	}
	win.count++
	return true, limit - win.count, resetAt
}

func (l *MemoryRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < memoryLimiterSweep {
		return
	}
	l.lastSweep = now
	for key, win := range l.windows {
		if now.Sub(win.start) >= rateLimitWindow {
			delete(l.windows, key)
		}
	}
}

// NewLoginRateLimiter throttles console password attempts per client IP.
func NewLoginRateLimiter() *RateLimitMiddleware {
	return NewRateLimitMiddleware(NewMemoryRateLimiter(), loginAttemptsPerMinute, "login")
}
