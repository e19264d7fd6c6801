package ratelimit

import (
	"sync"
	"time"

	"support-chat-agent/internal/config"
)

// Limiter is a keyed fixed-window counter. Each key gets an independent
// (window start, count) pair; the pair resets when the window elapses.
// Counters are charged at admission time, not completion time.
type Limiter struct {
	window  time.Duration
	max     int
	message string

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time

	now func() time.Time
}

type bucket struct {
	start time.Time
	count int
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed    bool
	Message    string
	RetryAfter time.Duration
}

// NewLimiter creates a limiter that admits at most limit.Max requests per
// key per limit.Window. message is the retry hint returned on rejection.
func NewLimiter(limit config.Limit, message string) *Limiter {
	return &Limiter{
		window:  limit.Window,
		max:     limit.Max,
		message: message,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow charges one request against key, rejecting it if the key's counter
// would exceed the cap within the current window.
func (l *Limiter) Allow(key string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= l.window {
		b = &bucket{start: now}
		l.buckets[key] = b
	}
	if b.count >= l.max {
		return Decision{
			Allowed:    false,
			Message:    l.message,
			RetryAfter: b.start.Add(l.window).Sub(now),
		}
	}
	b.count++
	return Decision{Allowed: true}
}

// Refund returns one previously charged request to key's counter. Used by
// the general layer when it is configured to not count requests by outcome.
func (l *Limiter) Refund(key string) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok || now.Sub(b.start) >= l.window || b.count == 0 {
		return
	}
	b.count--
}

// pruneLocked drops expired buckets so idle keys do not accumulate. Runs at
// most once per window.
func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < l.window {
		return
	}
	l.lastPrune = now
	for key, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, key)
		}
	}
}
