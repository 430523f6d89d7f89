package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// Default request budgets.
const (
	DefaultNamespaceRate = 1000 // requests per second per namespace
	DefaultUserRate      = 100  // requests per second per ns:user
)

// keyedLimiter lazily creates one token bucket per key.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newKeyedLimiter(perSecond int) *keyedLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &keyedLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    perSecond,
	}
}

func (k *keyedLimiter) allow(key string) bool {
	k.mu.Lock()
	limiter, ok := k.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(k.limit, k.burst)
		k.limiters[key] = limiter
	}
	k.mu.Unlock()
	return limiter.Allow()
}

// RateLimiter enforces two budgets: per namespace and per ns:user. Health
// and metrics endpoints bypass it at the middleware level.
type RateLimiter struct {
	ns      *keyedLimiter
	user    *keyedLimiter
	enabled bool
}

// NewRateLimiter makes an enabled limiter with the given budgets.
func NewRateLimiter(nsPerSecond, userPerSecond int) *RateLimiter {
	return &RateLimiter{
		ns:      newKeyedLimiter(nsPerSecond),
		user:    newKeyedLimiter(userPerSecond),
		enabled: true,
	}
}

// NewDisabledRateLimiter makes a limiter that admits everything.
func NewDisabledRateLimiter() *RateLimiter {
	return &RateLimiter{enabled: false}
}

// Allow reports whether the request fits both budgets.
func (r *RateLimiter) Allow(ns, user string) bool {
	if !r.enabled {
		return true
	}
	if !r.ns.allow(ns) {
		return false
	}
	return r.user.allow(ns + ":" + user)
}
