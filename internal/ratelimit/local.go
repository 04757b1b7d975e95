package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// LocalLimiter is an in-process token-bucket guard applied before the
// distributed limiter. It smooths per-client bursts without a store round
// trip; the distributed limiter remains the authority on quotas.
type LocalLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewLocalLimiter creates a per-key token bucket allowing rps requests per
// second with the given burst.
func NewLocalLimiter(rps float64, burst int) *LocalLimiter {
	return &LocalLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Allow reports whether a request from the given key may proceed.
func (l *LocalLimiter) Allow(key string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = limiter

		if len(l.limiters) > 10000 {
			l.evict()
		}
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// evict drops half the tracked keys. Idle buckets refill to full burst
// anyway, so dropping one only forgets in-flight debt.
func (l *LocalLimiter) evict() {
	target := len(l.limiters) / 2
	for key := range l.limiters {
		delete(l.limiters, key)
		target--
		if target <= 0 {
			break
		}
	}
}

// Size returns the number of tracked keys.
func (l *LocalLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
