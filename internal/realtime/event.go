// Package realtime broadcasts scaling group lifecycle events to WebSocket
// subscribers: policy executions, launches, and deletes, as they are
// dispatched by the controller and worker.
package realtime

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a real-time event broadcast to subscribers.
type Event struct {
	// Type is the event type (policy_executed, server_launched, etc.)
	Type string `json:"type"`

	// ID is a unique event ID (UUID)
	ID string `json:"id"`

	// Data is the event payload (varies by event type)
	Data map[string]interface{} `json:"data"`

	// Timestamp is when the event occurred
	Timestamp time.Time `json:"timestamp"`

	// Source is the component that raised the event
	Source string `json:"source"`

	// Sequence is a sequence number for event ordering (monotonically increasing)
	Sequence int64 `json:"sequence"`
}

// EventType constants for the scaling group feed.
const (
	EventTypePolicyExecuted = "policy_executed"
	EventTypePolicyRefused  = "policy_refused"
	EventTypeServerLaunched = "server_launched"
	EventTypeLaunchFailed   = "launch_failed"
	EventTypeServerDeleted  = "server_deleted"
	EventTypeDeleteFailed   = "delete_failed"
	EventTypeGroupPaused    = "group_paused"
	EventTypeGroupResumed   = "group_resumed"
)

// EventSource constants.
const (
	EventSourceController = "controller"
	EventSourceWorker     = "worker"
	EventSourceScheduler  = "scheduler"
)

// NewEvent creates a new Event with the given type, data, and source.
func NewEvent(eventType string, data map[string]interface{}, source string) *Event {
	return &Event{
		Type:      eventType,
		ID:        generateEventID(),
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
		Sequence:  0, // Will be set by EventBus
	}
}

// generateEventID generates a unique event ID (UUID).
func generateEventID() string {
	return uuid.New().String()
}
