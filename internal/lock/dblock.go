package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

// RowStore is the narrow slice of a Store backend the DB-row lock needs.
// Both the Postgres and SQLite backends implement it directly against their
// "control_lock" table: one row per resource, acquisition is an insert that
// succeeds only when no row exists or the existing row's TTL has expired.
type RowStore interface {
	// TryAcquireRow inserts or takes over the lock row for resource. It
	// returns true if this owner now holds the lock, false if another
	// owner holds it and has not gone stale.
	TryAcquireRow(ctx context.Context, resource, owner string, expiresAt time.Time) (bool, error)

	// ReleaseRow deletes the lock row for resource, but only if owner is
	// the current holder. Releasing a lock this owner does not hold is not
	// an error.
	ReleaseRow(ctx context.Context, resource, owner string) error
}

// DBLock is the spec-mandated Lock Service backend: an advisory lock kept
// in the same durable store as everything else, with stale-TTL takeover and
// bounded jittered retry. It requires no additional infrastructure, so it is
// always available regardless of deployment profile.
type DBLock struct {
	rows    RowStore
	clock   core.Clock
	logger  *slog.Logger
	metrics *metrics.LockMetrics
}

// NewDBLock returns a DBLock backed by rows, using clock for TTL math and
// logger for acquire/contention logging. m may be nil, in which case no
// acquire/contention metrics are recorded.
func NewDBLock(rows RowStore, clock core.Clock, logger *slog.Logger, m *metrics.LockMetrics) *DBLock {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBLock{rows: rows, clock: clock, logger: logger, metrics: m}
}

// Acquire implements core.LockService. maxRetries of 0 means a single
// attempt with no retry — the shape the scheduler's "schedule" singleton
// lock needs so a busy scheduler never blocks a tick waiting on another
// replica.
func (l *DBLock) Acquire(ctx context.Context, resource, owner string, ttl time.Duration, maxRetries int) error {
	for attempt := 0; ; attempt++ {
		ok, err := l.rows.TryAcquireRow(ctx, resource, owner, l.clock.Now().Add(ttl))
		if err != nil {
			if l.metrics != nil {
				l.metrics.AcquireTotal.WithLabelValues("error").Inc()
			}
			return err
		}
		if ok {
			l.logger.Debug("lock acquired", "resource", resource, "owner", owner, "attempt", attempt)
			if l.metrics != nil {
				l.metrics.AcquireTotal.WithLabelValues("acquired").Inc()
				l.metrics.AcquireAttempts.Observe(float64(attempt))
			}
			return nil
		}

		if attempt >= maxRetries {
			l.logger.Debug("lock busy, retries exhausted", "resource", resource, "owner", owner, "attempts", attempt+1)
			if l.metrics != nil {
				l.metrics.AcquireTotal.WithLabelValues("busy").Inc()
				l.metrics.AcquireAttempts.Observe(float64(attempt + 1))
			}
			return &core.BusyLockError{Resource: resource}
		}

		delay := jitteredBackoff(attempt, 200*time.Millisecond, 5*time.Second)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Release implements core.LockService.
func (l *DBLock) Release(ctx context.Context, resource, owner string) error {
	if err := l.rows.ReleaseRow(ctx, resource, owner); err != nil {
		l.logger.Warn("lock release failed", "resource", resource, "owner", owner, "error", err)
		return err
	}
	return nil
}

// WithLock acquires resource for owner, runs fn, and releases it
// unconditionally afterward — the shape modify_state uses so a panic or
// early return in fn can never leave a lock held.
func WithLock(ctx context.Context, svc core.LockService, resource, owner string, ttl time.Duration, maxRetries int, fn func(ctx context.Context) error) error {
	if err := svc.Acquire(ctx, resource, owner, ttl, maxRetries); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Release(releaseCtx, resource, owner)
	}()
	return fn(ctx)
}

// IsBusy reports whether err is (or wraps) a BusyLockError.
func IsBusy(err error) bool {
	var busy *core.BusyLockError
	return errors.As(err, &busy)
}
