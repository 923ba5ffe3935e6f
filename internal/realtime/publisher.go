package realtime

import (
	"log/slog"
)

// EventPublisher publishes scaling group events to an EventBus from the
// controller, worker, and scheduler.
type EventPublisher struct {
	eventBus *DefaultEventBus
	logger   *slog.Logger
	metrics  *RealtimeMetrics
}

// NewEventPublisher creates a new event publisher.
func NewEventPublisher(eventBus *DefaultEventBus, logger *slog.Logger, metrics *RealtimeMetrics) *EventPublisher {
	return &EventPublisher{
		eventBus: eventBus,
		logger:   logger.With("component", "event_publisher"),
		metrics:  metrics,
	}
}

func (p *EventPublisher) publish(eventType, source string, data map[string]interface{}) {
	if p == nil || p.eventBus == nil {
		return
	}
	event := NewEvent(eventType, data, source)
	if err := p.eventBus.Publish(*event); err != nil {
		p.logger.Warn("failed to publish event", "event_type", eventType, "error", err)
	}
}

// PublishPolicyExecuted reports a committed policy execution: the resulting
// decision's job counts, keyed by tenant/group/policy.
func (p *EventPublisher) PublishPolicyExecuted(tenantID, groupID, policyID string, launchCount, deleteCount int) {
	p.publish(EventTypePolicyExecuted, EventSourceController, map[string]interface{}{
		"tenant_id":    tenantID,
		"group_id":     groupID,
		"policy_id":    policyID,
		"launch_count": launchCount,
		"delete_count": deleteCount,
	})
}

// PublishPolicyRefused reports maybe_execute_scaling_policy declining to act
// (cooldown, at-capacity, or similar), with the refusal reason.
func (p *EventPublisher) PublishPolicyRefused(tenantID, groupID, policyID, reason string) {
	p.publish(EventTypePolicyRefused, EventSourceController, map[string]interface{}{
		"tenant_id": tenantID,
		"group_id":  groupID,
		"policy_id": policyID,
		"reason":    reason,
	})
}

// PublishServerLaunched reports a server that completed launch and is now active.
func (p *EventPublisher) PublishServerLaunched(tenantID, groupID, serverID, ipAddress string) {
	p.publish(EventTypeServerLaunched, EventSourceWorker, map[string]interface{}{
		"tenant_id":  tenantID,
		"group_id":   groupID,
		"server_id":  serverID,
		"ip_address": ipAddress,
	})
}

// PublishLaunchFailed reports a launch job that failed and was cleared from pending.
func (p *EventPublisher) PublishLaunchFailed(tenantID, groupID, jobID, reason string) {
	p.publish(EventTypeLaunchFailed, EventSourceWorker, map[string]interface{}{
		"tenant_id": tenantID,
		"group_id":  groupID,
		"job_id":    jobID,
		"reason":    reason,
	})
}

// PublishServerDeleted reports a server whose deletion was verified complete.
func (p *EventPublisher) PublishServerDeleted(tenantID, groupID, serverID string) {
	p.publish(EventTypeServerDeleted, EventSourceWorker, map[string]interface{}{
		"tenant_id": tenantID,
		"group_id":  groupID,
		"server_id": serverID,
	})
}

// PublishDeleteFailed reports a delete job that could not be completed or verified.
func (p *EventPublisher) PublishDeleteFailed(tenantID, groupID, serverID, reason string) {
	p.publish(EventTypeDeleteFailed, EventSourceWorker, map[string]interface{}{
		"tenant_id": tenantID,
		"group_id":  groupID,
		"server_id": serverID,
		"reason":    reason,
	})
}
