package inmem

import (
	"context"
	"math"
	"sync"
	"time"

	"teamcards/internal/session"
)

const idleBucketTTL = 10 * time.Minute

// Throttle is a keyed token bucket. The HTTP surface uses one instance per
// client address and another per sign-in email.
type Throttle struct {
	rate  float64 // tokens per second
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewThrottle creates a throttle refilling rate tokens per second up to burst.
// A nil clock uses time.Now.
func NewThrottle(rate float64, burst int, clock func() time.Time) *Throttle {
	if clock == nil {
		clock = time.Now
	}
	return &Throttle{
		rate:    rate,
		burst:   burst,
		now:     clock,
		buckets: make(map[string]*bucket),
	}
}

func (t *Throttle) Allow(key string) session.ThrottleResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(t.burst), lastSeen: now}
		t.buckets[key] = b
	}

	b.tokens = math.Min(b.tokens+now.Sub(b.lastSeen).Seconds()*t.rate, float64(t.burst))
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return session.ThrottleResult{Allowed: true}
	}

	deficit := 1.0 - b.tokens
	return session.ThrottleResult{
		RetryAfter: max(int(math.Ceil(deficit/t.rate)), 1),
	}
}

// Reset forgets key, restoring its full burst.
func (t *Throttle) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.buckets, key)
}

// Cleanup drops buckets idle for longer than ten minutes.
func (t *Throttle) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, b := range t.buckets {
		if now.Sub(b.lastSeen) > idleBucketTTL {
			delete(t.buckets, key)
		}
	}
}

// Run calls Cleanup every interval until ctx is done.
func (t *Throttle) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Cleanup()
		}
	}
}

// BucketCount returns the number of tracked keys.
func (t *Throttle) BucketCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buckets)
}
