package api

import (
	"net/http"
	"sync"
	"time"

	"pollroom/internal/platform/apperr"
)

// windowLimiter is a fixed-window counter per source key. Unlike a token
// bucket it gives a hard bound: no key is ever granted more than limit
// requests inside one window, and the count resets deterministically when
// the window rolls over.
type windowLimiter struct {
	mu        sync.Mutex
	limit     int
	window    time.Duration
	entries   map[string]*windowEntry
	lastSweep time.Time
	now       func() time.Time
}

type windowEntry struct {
	windowStart time.Time
	count       int
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	return &windowLimiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

func (l *windowLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.window {
		for k, e := range l.entries {
			if now.Sub(e.windowStart) >= l.window {
				delete(l.entries, k)
			}
		}
		l.lastSweep = now
	}

	e, ok := l.entries[key]
	if !ok || now.Sub(e.windowStart) >= l.window {
		l.entries[key] = &windowEntry{windowStart: now, count: 1}
		return true
	}
	if e.count >= l.limit {
		return false
	}
	e.count++
	return true
}

// RateLimitVotes rejects vote-casting requests beyond limit per source
// address per window, before they reach the ledger.
func RateLimitVotes(limit int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newWindowLimiter(limit, window)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !limiter.allow(ip) {
				errorResponse(w, apperr.TooManyRequests("rate_limited", "too many vote attempts, please try again later", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
