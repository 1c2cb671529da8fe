package channel

import (
	"sync"
	"time"
)

// maxIdleBuckets bounds the per-sender map; full buckets are dropped first.
const maxIdleBuckets = 10000

// RateLimiter is a token bucket per sender for throttling inbound turns.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	max     float64
	rate    float64 // tokens per second
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	lastTime time.Time
}

func NewRateLimiter(maxBurst int, ratePerMinute float64) *RateLimiter {
	if maxBurst <= 0 {
		maxBurst = 10
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30 // 30 turns per minute default
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		max:     float64(maxBurst),
		rate:    ratePerMinute / 60.0, // Convert to per-second
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket, reporting false when it is empty.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		if len(rl.buckets) >= maxIdleBuckets {
			rl.pruneLocked(now)
		}
		b = &bucket{tokens: rl.max, lastTime: now}
		rl.buckets[key] = b
	}
	rl.refill(b, now)

	if b.tokens >= 1.0 {
		b.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) refill(b *bucket, now time.Time) {
	b.tokens += now.Sub(b.lastTime).Seconds() * rl.rate
	if b.tokens > rl.max {
		b.tokens = rl.max
	}
	b.lastTime = now
}

// pruneLocked drops buckets that have refilled completely; such a sender is
// indistinguishable from a new one.
func (rl *RateLimiter) pruneLocked(now time.Time) {
	for k, b := range rl.buckets {
		rl.refill(b, now)
		if b.tokens >= rl.max {
			delete(rl.buckets, k)
		}
	}
}
