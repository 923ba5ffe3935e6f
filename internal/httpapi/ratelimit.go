package httpapi

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// capabilityRateLimiter hands out one token-bucket limiter per capability
// hash, so one leaked or guessed hash can be throttled without affecting
// any other tenant's capability URL. The LRU bound keeps memory flat under
// a sweep of random hashes instead of growing one entry per guess forever.
type capabilityRateLimiter struct {
	limiters *lru.Cache[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

const capabilityLimiterCacheSize = 4096

func newCapabilityRateLimiter(rps float64, burst int) *capabilityRateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst <= 0 {
		burst = 1
	}
	cache, _ := lru.New[string, *rate.Limiter](capabilityLimiterCacheSize)
	return &capabilityRateLimiter{limiters: cache, rps: rate.Limit(rps), burst: burst}
}

// allow reports whether hash's capability URL may execute right now.
func (c *capabilityRateLimiter) allow(hash string) bool {
	limiter, ok := c.limiters.Get(hash)
	if !ok {
		limiter = rate.NewLimiter(c.rps, c.burst)
		c.limiters.Add(hash, limiter)
	}
	return limiter.Allow()
}
