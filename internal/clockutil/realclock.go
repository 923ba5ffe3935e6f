// Package clockutil provides Real, a core.Clock backed directly by the time
// package, and Wrap, which adapts a k8s.io/utils/clock.Clock to core.Clock,
// the narrow clock interface the scheduler's ticker and the worker's poll loops
// are written against. Tests use clock/testing.FakeClock wrapped the same
// way; see internal/lock/dblock_test.go for the pattern this mirrors.
package clockutil

import (
	"time"

	k8sclock "k8s.io/utils/clock"

	"github.com/scalepilot/autoscale/internal/core"
)

// Real is the production core.Clock, backed by the wall clock.
var Real core.Clock = realClock{}

type realClock struct{}

func (realClock) Now() time.Time                    { return time.Now() }
func (realClock) Since(t time.Time) time.Duration    { return time.Since(t) }
func (realClock) NewTicker(d time.Duration) core.Ticker {
	return realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// Wrap adapts any k8s.io/utils/clock.Clock (including clock/testing.FakeClock)
// to core.Clock, so tests can drive the scheduler and worker deterministically
// without depending on the wall clock.
func Wrap(c k8sclock.Clock) core.Clock {
	return wrapped{c}
}

type wrapped struct {
	c k8sclock.Clock
}

func (w wrapped) Now() time.Time                 { return w.c.Now() }
func (w wrapped) Since(t time.Time) time.Duration { return w.c.Since(t) }
func (w wrapped) NewTicker(d time.Duration) core.Ticker {
	return wrappedTicker{w.c.NewTicker(d)}
}

type wrappedTicker struct {
	t k8sclock.Ticker
}

func (w wrappedTicker) C() <-chan time.Time { return w.t.C() }
func (w wrappedTicker) Stop()               { w.t.Stop() }
