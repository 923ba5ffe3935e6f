// Package lock implements the control plane's Lock Service: the single
// mutual-exclusion primitive the group facade and the scheduler build on.
// Two backends satisfy core.LockService — a DB-row lock that is always
// available, and an optional Redis-backed accelerator for deployments that
// already run Redis for other reasons.
package lock

import (
	"math/rand/v2"
	"time"
)

// jitteredBackoff returns the delay before retry attempt n (0-indexed),
// exponential with +/-25% jitter, capped at maxDelay. Both lock backends
// use it between acquire retries.
func jitteredBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	d := base * time.Duration(1<<uint(attempt))
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	spread := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(offset)
}
