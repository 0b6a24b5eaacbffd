package api

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// FailureLimiter throttles wrong admin passwords per client address. Each
// address gets perMinute attempts of burst, refilled at perMinute/60 per
// second.
type FailureLimiter struct {
	mu       sync.Mutex
	limiters map[string]*failureEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type failureEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewFailureLimiter allows perMinute failed attempts per address. It
// returns nil for perMinute <= 0, and a nil limiter never blocks.
func NewFailureLimiter(perMinute int) *FailureLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &FailureLimiter{
		limiters: make(map[string]*failureEntry),
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
		now:      time.Now,
	}
}

// entry returns the limiter for key. Callers hold l.mu.
func (l *FailureLimiter) entry(key string, now time.Time) *rate.Limiter {
	e, ok := l.limiters[key]
	if !ok {
		e = &failureEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

// Blocked reports whether key has used up its failures.
func (l *FailureLimiter) Blocked(key string) bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.limiters[key]
	if !ok {
		return false
	}
	return e.limiter.TokensAt(l.now()) < 1
}

// Fail records a failed attempt from key.
func (l *FailureLimiter) Fail(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.entry(key, now).AllowN(now, 1)
}

// Reset forgets the failures of key after a successful login.
func (l *FailureLimiter) Reset(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

// RetryAfter returns the number of seconds until key may try again.
func (l *FailureLimiter) RetryAfter(key string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	r := l.entry(key, now).ReserveN(now, 1)
	defer r.CancelAt(now)
	return int(math.Ceil(r.DelayFrom(now).Seconds()))
}

// Cleanup forgets addresses that have not been seen for maxAge.
func (l *FailureLimiter) Cleanup(maxAge time.Duration) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxAge)
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}
