// Package ratelimit provides keyed token buckets. A bucket with capacity 1 and a
// refill of 1/period acts as a per-key cooldown.
package ratelimit

import (
	"sync"
	"time"
)

// epsilon absorbs float drift when refill is accumulated over several calls.
const epsilon = 1e-9

type bucket struct {
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	last       time.Time
}

type Limiter struct {
	mu  sync.Mutex
	m   map[string]*bucket
	now func() time.Time
}

func New() *Limiter { return NewWithClock(time.Now) }

// NewWithClock lets tests drive time.
func NewWithClock(now func() time.Time) *Limiter {
	return &Limiter{m: make(map[string]*bucket), now: now}
}

// Allow returns true if one token can be consumed for key.
func (l *Limiter) Allow(key string, capacity, refillPerSec float64) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: capacity, capacity: capacity, refillRate: refillPerSec, last: now}
		l.m[key] = b
	}
	// refill
	elapsed := now.Sub(b.last).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.last = now
	}
	if b.tokens >= 1-epsilon {
		b.tokens--
		if b.tokens < 0 {
			b.tokens = 0
		}
		return true
	}
	return false
}

// Forget drops the bucket for key so the next Allow starts full.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}

// Cooldown permits one attempt per key per period.
type Cooldown struct {
	limiter *Limiter
	period  time.Duration
}

func NewCooldown(limiter *Limiter, period time.Duration) *Cooldown {
	return &Cooldown{limiter: limiter, period: period}
}

func (c *Cooldown) Allow(key string) bool {
	if c.period <= 0 {
		return true
	}
	return c.limiter.Allow("cooldown:"+key, 1, 1/c.period.Seconds())
}

func (c *Cooldown) Period() time.Duration { return c.period }
