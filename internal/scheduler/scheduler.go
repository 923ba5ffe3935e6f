// Package scheduler drains due schedule events under the spec's "schedule"
// singleton lock and fires each one through the same maybe_execute_scaling_policy
// path a webhook call uses. Ported from otter's SchedulerService
// (check_for_events / fetch_and_process / execute_event), with the teacher's
// ticker-plus-stop/done-channel worker lifecycle from
// internal/business/silencing's gc_worker.go.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/scalepilot/autoscale/internal/controller"
	"github.com/scalepilot/autoscale/internal/core"
	"github.com/scalepilot/autoscale/internal/lock"
	"github.com/scalepilot/autoscale/pkg/metrics"
)

// lockResource is the singleton lock name every scheduler replica contends
// for; only the holder may drain a batch.
const lockResource = "schedule"

// lockTTL bounds how long one drain pass may hold the schedule lock.
const lockTTL = 30 * time.Second

// Scheduler is the periodic schedule-event dispatcher.
type Scheduler struct {
	store     core.Store
	lock      core.LockService
	runner    *controller.Runner
	clock     core.Clock
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.SchedulerMetrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// New returns a Scheduler (not started). runner is the shared
// maybe_execute_scaling_policy entry point; it is the same *controller.Runner
// the capability-execute HTTP handler uses for webhooks.
func New(
	store core.Store,
	lockSvc core.LockService,
	runner *controller.Runner,
	clock core.Clock,
	batchSize int,
	interval time.Duration,
	logger *slog.Logger,
	m *metrics.SchedulerMetrics,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.NewSchedulerMetrics("autoscale")
	}
	return &Scheduler{
		store:     store,
		lock:      lockSvc,
		runner:    runner,
		clock:     clock,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger,
		metrics:   m,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the scheduler's tick loop in a background goroutine. Like the
// teacher's gc worker, the first tick runs immediately rather than waiting
// for the first interval to elapse.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
	s.logger.Info("scheduler started", "interval", s.interval, "batch_size", s.batchSize)
}

// Stop signals the tick loop to exit and blocks until it has. Safe to call
// once; a second call will block forever, matching gcWorker.Stop's contract.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped (context cancelled)")
			return
		case <-s.stopCh:
			s.logger.Info("scheduler stopped (explicit stop)")
			return
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

// tick is check_for_events: acquire the schedule lock once (no retry — a
// busy lock means another replica is already mid-tick, so this tick is a
// no-op) and keep draining full batches until one comes back short.
func (s *Scheduler) tick(ctx context.Context) {
	s.metrics.TicksTotal.Inc()
	runID := uuid.NewString()
	log := s.logger.With("scheduler_run_id", runID)

	for {
		n, err := s.drainOnce(ctx, log)
		if err != nil {
			if lock.IsBusy(err) {
				s.metrics.LockContentionTotal.Inc()
				log.Debug("schedule lock busy, skipping tick")
			} else {
				log.Error("drain pass failed", "error", err)
			}
			return
		}
		if n < s.batchSize {
			return
		}
	}
}

// drainOnce is fetch_and_process: acquire the lock, fetch one batch of due
// events, execute each concurrently, partition the results into
// to_delete/to_update, and write them back in a single store call. It
// returns the number of events fetched (so the caller knows whether to
// drain again).
func (s *Scheduler) drainOnce(ctx context.Context, log *slog.Logger) (int, error) {
	start := s.clock.Now()
	owner := uuid.NewString()
	var fetched int

	err := lock.WithLock(ctx, s.lock, lockResource, owner, lockTTL, 0, func(ctx context.Context) error {
		now := s.clock.Now()
		events, err := s.store.FetchDueEvents(ctx, now, s.batchSize)
		if err != nil {
			return err
		}
		fetched = len(events)
		if fetched == 0 {
			return nil
		}
		log.Info("processing due events", "count", fetched)

		deletedPolicies := s.executeAll(ctx, log, events)

		toDelete, toUpdate := partitionEvents(events, deletedPolicies, now)
		log.Info("drain pass complete", "deleting", len(toDelete), "updating", len(toUpdate))
		return s.store.UpdateDueEvents(ctx, toDelete, toUpdate)
	})

	s.metrics.BatchSizeObserved.Observe(float64(fetched))
	s.metrics.DrainDurationSeconds.Observe(s.clock.Since(start).Seconds())
	return fetched, err
}

// executeAll runs execute_event for every due event concurrently and
// returns the set of policy ids whose owning group or policy no longer
// exists — otter's deleted_policy_ids accumulator.
func (s *Scheduler) executeAll(ctx context.Context, log *slog.Logger, events []core.ScheduleEvent) map[string]bool {
	var mu sync.Mutex
	deleted := make(map[string]bool)

	var wg sync.WaitGroup
	wg.Add(len(events))
	for _, event := range events {
		event := event
		go func() {
			defer wg.Done()
			if stale := s.executeEvent(ctx, log, event); stale {
				mu.Lock()
				deleted[event.PolicyID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return deleted
}

// executeEvent runs one event through the shared Runner. It returns true if
// the event's group or policy has been deleted out from under it, the
// signal that the event itself should be deleted regardless of its cron
// field.
func (s *Scheduler) executeEvent(ctx context.Context, log *slog.Logger, event core.ScheduleEvent) bool {
	eventLog := log.With("tenant_id", event.TenantID, "scaling_group_id", event.GroupID, "policy_id", event.PolicyID)
	eventLog.Info("executing policy")

	_, err := s.runner.Run(ctx, event.TenantID, event.GroupID, event.PolicyID)
	if err == nil {
		s.metrics.EventsProcessedTotal.WithLabelValues("executed").Inc()
		return false
	}

	var cannotExecute *core.CannotExecutePolicyError
	if errors.As(err, &cannotExecute) {
		eventLog.Info("cannot execute policy", "reason", cannotExecute.Reason)
		s.metrics.EventsProcessedTotal.WithLabelValues("refused").Inc()
		return false
	}

	var noGroup *core.NoSuchScalingGroupError
	var noPolicy *core.NoSuchPolicyError
	if errors.As(err, &noGroup) || errors.As(err, &noPolicy) {
		eventLog.Info("scaling group or policy no longer exists, dropping event")
		s.metrics.EventsProcessedTotal.WithLabelValues("deleted_stale").Inc()
		return true
	}

	eventLog.Error("scheduler failed to execute policy", "error", err)
	s.metrics.EventsProcessedTotal.WithLabelValues("error").Inc()
	return false
}

// partitionEvents splits a drained batch into events to delete outright
// (one-shot events, and any event whose policy was just found stale) and
// events to reschedule (recurring cron events whose policy is still live),
// exactly as otter's update_delete_events does.
func partitionEvents(events []core.ScheduleEvent, deletedPolicies map[string]bool, now time.Time) (toDelete, toUpdate []core.ScheduleEvent) {
	for _, event := range events {
		if event.IsRecurring() && !deletedPolicies[event.PolicyID] {
			next, err := nextCronOccurrence(*event.Cron, now)
			if err != nil {
				toDelete = append(toDelete, event)
				continue
			}
			event.Trigger = next
			toUpdate = append(toUpdate, event)
			continue
		}
		toDelete = append(toDelete, event)
	}
	return toDelete, toUpdate
}

// nextCronOccurrence returns the next firing of expr strictly after from.
func nextCronOccurrence(expr string, from time.Time) (time.Time, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(from), nil
}
