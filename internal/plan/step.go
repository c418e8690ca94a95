package plan

import (
	"fmt"

	"github.com/planforge/planforge/internal/constraint"
	"github.com/planforge/planforge/internal/types"
)

// Step is one atomic unit of work within a plan. Step ids are caller-chosen
// strings, stable and unique within their plan; dependencies reference other
// steps in the same plan by id.
type Step struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Action names the operation the external step executor performs.
	// The planner never inspects it.
	Action string `json:"action"`

	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	// EstimatedDuration is the expected run time in milliseconds. Zero is
	// legal and schedules as an instantaneous step.
	EstimatedDuration int64 `json:"estimated_duration"`

	DependsOn   []string        `json:"depends_on,omitempty"`
	Constraints StepConstraints `json:"constraints,omitempty"`

	// Alternatives lists fallback actions tried in order when the primary
	// action turns out to be unavailable during execution.
	Alternatives []string `json:"alternatives,omitempty"`

	Status     StepStatus `json:"status"`
	RetryCount int        `json:"retry_count"`
}

// StepConstraints are the scheduling constraints declared on a step.
type StepConstraints struct {
	// NotBefore is the earliest permitted start in epoch ms. Zero means
	// unconstrained.
	NotBefore int64 `json:"not_before,omitempty"`

	// Before lists steps this step must finish before.
	Before []string `json:"before,omitempty"`

	// Resources are this step's capacity claims for its scheduled window.
	Resources []constraint.Claim `json:"resources,omitempty"`
}

// Validate checks the step's own fields. Dependency resolution is a plan
// level concern handled by the dependency graph.
func (s *Step) Validate() error {
	if s.ID == "" {
		return types.NewError(types.INVALID_GOAL, "step id cannot be empty")
	}
	if s.Action == "" {
		return types.NewError(types.INVALID_GOAL, fmt.Sprintf("step %s has no action", s.ID))
	}
	if s.EstimatedDuration < 0 {
		return types.NewError(types.INVALID_GOAL, fmt.Sprintf("step %s has negative duration %d", s.ID, s.EstimatedDuration))
	}
	return nil
}

// StepStatus represents the current status of a step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusExecuting StepStatus = "executing"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// IsTerminal returns true if the step status is a terminal state.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// String returns the string representation of the step status.
func (s StepStatus) String() string {
	return string(s)
}
