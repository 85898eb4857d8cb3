package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LoginLimiter throttles authentication attempts per client address. Each
// address gets its own token bucket, created on first sight.
type LoginLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rate    rate.Limit
	burst   int
}

// NewLoginLimiter allows burst immediate attempts per address, refilling
// one attempt every interval.
func NewLoginLimiter(interval time.Duration, burst int) *LoginLimiter {
	return &LoginLimiter{
		buckets: make(map[string]*rate.Limiter),
		rate:    rate.Every(interval),
		burst:   burst,
	}
}

// Allow reports whether the address may attempt a login right now.
func (l *LoginLimiter) Allow(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.buckets[addr]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.buckets[addr] = limiter
	}

	return limiter.Allow()
}
