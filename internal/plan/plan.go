package plan

import (
	"sort"
	"time"

	"github.com/planforge/planforge/internal/constraint"
	"github.com/planforge/planforge/internal/graph"
	"github.com/planforge/planforge/internal/schedule"
	"github.com/planforge/planforge/internal/types"
)

// PlanStatus represents the current status of a plan.
type PlanStatus string

const (
	// PlanStatusCreated indicates the plan has been created and validated
	// but not yet executed.
	PlanStatusCreated PlanStatus = "created"

	// PlanStatusExecuting indicates the plan is currently being executed.
	PlanStatusExecuting PlanStatus = "executing"

	// PlanStatusCompleted indicates every step completed successfully.
	PlanStatusCompleted PlanStatus = "completed"

	// PlanStatusFailed indicates a step exhausted its retries or an
	// execution invariant was violated.
	PlanStatusFailed PlanStatus = "failed"
)

// String returns the string representation of the plan status.
func (s PlanStatus) String() string {
	return string(s)
}

// IsTerminal returns true if the status is completed or failed.
func (s PlanStatus) IsTerminal() bool {
	return s == PlanStatusCompleted || s == PlanStatusFailed
}

// CanTransitionTo validates a status transition:
//
//	created -> executing
//	executing -> completed, failed
//
// Terminal states cannot transition.
func (s PlanStatus) CanTransitionTo(target PlanStatus) bool {
	switch s {
	case PlanStatusCreated:
		return target == PlanStatusExecuting
	case PlanStatusExecuting:
		return target == PlanStatusCompleted || target == PlanStatusFailed
	default:
		return false
	}
}

// Constraints are the plan-level scheduling constraints.
type Constraints struct {
	// StartTime is the plan's earliest start in epoch ms. Zero means the
	// planner substitutes the current time at creation.
	StartTime int64 `json:"start_time,omitempty"`

	// Deadline is the latest permitted finish in epoch ms. Zero means no
	// deadline. A timeline ending past the deadline fails validation at
	// creation time, never mid-run.
	Deadline int64 `json:"deadline,omitempty"`

	// Resources declares the named capacities steps may claim.
	Resources []constraint.Resource `json:"resources,omitempty"`
}

// Plan is the aggregate root: the full decomposition and schedule for one
// goal. The planner creates it; only the executor mutates it afterwards; it
// is never deleted automatically, only by an explicit caller purge.
type Plan struct {
	ID types.ID `json:"id"`

	// GoalName, GoalType, and GoalDescription summarize the consumed goal.
	GoalName        string   `json:"goal_name"`
	GoalType        GoalType `json:"goal_type"`
	GoalDescription string   `json:"goal_description,omitempty"`

	Constraints Constraints        `json:"constraints"`
	Steps       []*Step            `json:"steps"`
	Schedule    *schedule.Timeline `json:"schedule,omitempty"`
	Checkpoints []*Checkpoint      `json:"checkpoints,omitempty"`
	Status      PlanStatus         `json:"status"`

	// Error holds the final failure message when Status is failed.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(id string) *Step {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Nodes projects the plan's steps into dependency-graph nodes.
func (p *Plan) Nodes() []graph.Node {
	nodes := make([]graph.Node, len(p.Steps))
	for i, s := range p.Steps {
		nodes[i] = graph.Node{ID: s.ID, DependsOn: s.DependsOn}
	}
	return nodes
}

// Tasks projects the plan's steps into scheduling tasks.
func (p *Plan) Tasks() map[string]schedule.Task {
	tasks := make(map[string]schedule.Task, len(p.Steps))
	for _, s := range p.Steps {
		tasks[s.ID] = schedule.Task{
			ID:        s.ID,
			Duration:  s.EstimatedDuration,
			NotBefore: s.Constraints.NotBefore,
		}
	}
	return tasks
}

// Demands projects the plan's steps into per-step resource claims.
func (p *Plan) Demands() constraint.Demands {
	demands := make(constraint.Demands)
	for _, s := range p.Steps {
		if len(s.Constraints.Resources) > 0 {
			demands[s.ID] = s.Constraints.Resources
		}
	}
	return demands
}

// Orderings projects the plan's declared before-constraints.
func (p *Plan) Orderings() constraint.Orderings {
	orderings := make(constraint.Orderings)
	for _, s := range p.Steps {
		if len(s.Constraints.Before) > 0 {
			orderings[s.ID] = s.Constraints.Before
		}
	}
	return orderings
}

// Checkpoint is an immutable snapshot of execution progress, appended after
// each completed step and used solely for resume-after-crash.
type Checkpoint struct {
	PlanID    types.ID  `json:"plan_id"`
	Timestamp time.Time `json:"timestamp"`

	// CompletedStepIDs is the completed-step set serialized as a sorted
	// array.
	CompletedStepIDs []string `json:"completed_step_ids"`

	CurrentStepID string     `json:"current_step_id,omitempty"`
	Status        PlanStatus `json:"status"`
}

// NewCheckpoint snapshots an execution record. The completed set is copied
// and sorted so the checkpoint is immutable and serializes deterministically.
func NewCheckpoint(exec *Execution, at time.Time) *Checkpoint {
	completed := exec.CompletedIDs()
	sort.Strings(completed)
	return &Checkpoint{
		PlanID:           exec.PlanID,
		Timestamp:        at,
		CompletedStepIDs: completed,
		CurrentStepID:    exec.CurrentStepID,
		Status:           exec.Status,
	}
}
