package ratelimit

import (
	"time"

	"chathub/internal/keyed"
	"chathub/pkg/types"
)

// Defaults for outbound message throughput
const (
	DefaultWindow = 10 * time.Second
	DefaultLimit  = 20
)

// Limiter implements a fixed-window counter per (userId, sessionId)
// ARCHITECTURAL DISCOVERY: Per-identity state tracking with explicit discard on
// disconnect and a periodic sweep so idle identities never accumulate
type Limiter struct {
	window  time.Duration
	limit   int
	buckets *keyed.Map[*bucket]
}

// bucket tracks a single identity's current window
type bucket struct {
	count       int
	windowStart time.Time
}

// Decision is the result of TryConsume
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Err converts a rejected decision into a *types.RateLimitError.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &types.RateLimitError{RetryAfter: d.RetryAfter}
}

// New creates a limiter. Non-positive values fall back to the defaults.
func New(window time.Duration, limit int) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Limiter{
		window:  window,
		limit:   limit,
		buckets: keyed.NewMap[*bucket](0),
	}
}

// TryConsume checks whether id may send one more message at now
func (l *Limiter) TryConsume(id types.Identity, now time.Time) Decision {
	key := id.Key()
	var d Decision

	l.buckets.Do(key, func(items map[string]*bucket) {
		b, exists := items[key]

		// First message, or the previous window has elapsed: open a fresh window
		if !exists || now.Sub(b.windowStart) >= l.window {
			items[key] = &bucket{count: 1, windowStart: now}
			d = Decision{Allowed: true}
			return
		}

		if b.count >= l.limit {
			d = Decision{RetryAfter: b.windowStart.Add(l.window).Sub(now)}
			return
		}

		b.count++
		d = Decision{Allowed: true}
	})

	return d
}

// Discard drops the bucket for id; the next send opens a fresh window
func (l *Limiter) Discard(id types.Identity) {
	l.buckets.Delete(id.Key())
}

// Sweep removes buckets whose window started more than five windows ago
func (l *Limiter) Sweep(now time.Time) int {
	return l.buckets.Sweep(func(_ string, b *bucket) bool {
		return now.Sub(b.windowStart) > 5*l.window
	})
}

// Len returns the number of live buckets
func (l *Limiter) Len() int {
	return l.buckets.Len()
}
