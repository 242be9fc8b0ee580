// Package ratelimit provides fixed-window request limiting keyed by caller
// identity. It backs the token-issue endpoint throttle.
package ratelimit

import (
	"sync"
	"time"
)

// Decision reports the outcome of a single Allow call.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(key string, limit int) Decision
}

// InMemoryLimiter is the process-local fallback when redis is down.
type InMemoryLimiter struct {
	mu     sync.Mutex
	window time.Duration
	slots  map[string]windowSlot
}

type windowSlot struct {
	count   int
	resetAt time.Time
}

func NewInMemory(window time.Duration) *InMemoryLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &InMemoryLimiter{
		window: window,
		slots:  make(map[string]windowSlot),
	}
}

func (l *InMemoryLimiter) Allow(key string, limit int) Decision {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(now)
	slot, ok := l.slots[key]
	if !ok || now.After(slot.resetAt) {
		slot = windowSlot{resetAt: now.Add(l.window)}
	}
	slot.count++
	l.slots[key] = slot
	remaining := limit - slot.count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:    slot.count <= limit,
		Count:      slot.count,
		Limit:      limit,
		Remaining:  remaining,
		RetryAfter: slot.resetAt.Sub(now),
	}
}

func (l *InMemoryLimiter) sweep(now time.Time) {
	for k, slot := range l.slots {
		if now.After(slot.resetAt) {
			delete(l.slots, k)
		}
	}
}
