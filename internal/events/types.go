package events

import (
	"time"

	"github.com/planforge/planforge/internal/types"
)

// EventType identifies a lifecycle event emitted by the planning engine.
type EventType string

// Plan lifecycle events.
const (
	EventPlanCreated EventType = "plan.created"
)

// Execution lifecycle events.
const (
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"
)

// Step lifecycle events.
const (
	EventStepStarted   EventType = "step.started"
	EventStepCompleted EventType = "step.completed"
	EventStepFailed    EventType = "step.failed"
)

// Checkpoint events.
const (
	EventCheckpointCreated EventType = "checkpoint.created"
)

// Replanning events.
const (
	EventReplanningStarted EventType = "replanning.started"
	EventReplanningFailed  EventType = "replanning.failed"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// Event is one lifecycle notification. External logging or alerting systems
// subscribe to these; the engine core never depends on any subscriber.
type Event struct {
	// Type identifies the event.
	Type EventType `json:"type"`

	// PlanID is the plan this event belongs to.
	PlanID types.ID `json:"plan_id"`

	// StepID is set for step-scoped events.
	StepID string `json:"step_id,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Payload carries type-specific event data.
	Payload map[string]any `json:"payload,omitempty"`
}

// Filter selects which events a subscriber receives. Zero-valued fields
// match everything.
type Filter struct {
	// Types restricts delivery to the listed event types.
	Types []EventType

	// PlanID restricts delivery to events for a single plan.
	PlanID types.ID
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e Event) bool {
	if !f.PlanID.IsZero() && f.PlanID != e.PlanID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}
