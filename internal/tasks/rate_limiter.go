package tasks

import (
	"sync"
	"time"
)

// RateLimiter throttles inbound letters per sender with a sliding window.
// An excited child mashing "send" should not fan out into dozens of
// pipeline runs, and a spammer should not burn LLM budget.
type RateLimiter struct {
	mu       sync.Mutex
	window   time.Duration
	limit    int
	arrivals map[string][]time.Time
}

// NewRateLimiter allows limit events per key within window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		window:   window,
		limit:    limit,
		arrivals: make(map[string][]time.Time),
	}
}

// Allow records an arrival for key and reports whether it is within the
// limit.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	recent := rl.arrivals[key][:0]
	for _, t := range rl.arrivals[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.limit {
		rl.arrivals[key] = recent
		return false
	}
	rl.arrivals[key] = append(recent, now)
	return true
}

// Reset clears all recorded arrivals.
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.arrivals = make(map[string][]time.Time)
}
