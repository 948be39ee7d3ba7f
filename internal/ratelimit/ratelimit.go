package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks request counts per key within a sliding window. Keys
// are caller identities: a user id, or a remote IP for anonymous
// traffic.
type Limiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	window  time.Duration
}

// NewLimiter creates a Limiter allowing max requests per window.
func NewLimiter(max int, window time.Duration) *Limiter {
	return &Limiter{
		entries: make(map[string][]time.Time),
		max:     max,
		window:  window,
	}
}

// Max returns the per-window request allowance.
func (l *Limiter) Max() int {
	return l.max
}

// Allow records a request for the key if it is under the limit. It
// returns whether the request is allowed, how many requests remain in
// the current window, and when the oldest counted request expires.
func (l *Limiter) Allow(key string) (ok bool, remaining int, reset time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	timestamps := l.entries[key]
	// Remove expired entries
	valid := timestamps[:0]
	for _, t := range timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= l.max {
		l.entries[key] = valid
		return false, 0, valid[0].Add(l.window)
	}

	valid = append(valid, now)
	l.entries[key] = valid
	return true, l.max - len(valid), valid[0].Add(l.window)
}
