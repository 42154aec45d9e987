package streaming

import (
	"context"
	"time"
)

// StreamEvent is a lifecycle event pushed to live subscribers after it has
// been committed to the event log.
type StreamEvent struct {
	ExecutionID string    `json:"executionId"`
	WorkflowID  string    `json:"workflowId,omitempty"`
	StepName    string    `json:"stepName,omitempty"`
	EventType   string    `json:"eventType"`
	Sequence    int64     `json:"sequence"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventFilter selects the events a subscriber receives. Zero fields match everything.
type EventFilter struct {
	ExecutionID string   `json:"executionId,omitempty"`
	WorkflowID  string   `json:"workflowId,omitempty"`
	EventTypes  []string `json:"eventTypes,omitempty"`
}

// EventHub provides pub/sub for execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
