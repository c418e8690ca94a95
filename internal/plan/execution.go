package plan

import (
	"time"

	"github.com/planforge/planforge/internal/types"
)

// Execution is the transient in-memory record of one active plan run. It is
// not persisted itself; it is reconstructable from the latest checkpoint
// plus the plan's schedule.
type Execution struct {
	PlanID        types.ID
	Status        PlanStatus
	CurrentStepID string
	StartedAt     time.Time

	completed map[string]struct{}
	failed    map[string]string
}

// NewExecution creates a fresh execution record for a plan run.
func NewExecution(planID types.ID, startedAt time.Time) *Execution {
	return &Execution{
		PlanID:    planID,
		Status:    PlanStatusExecuting,
		StartedAt: startedAt,
		completed: make(map[string]struct{}),
		failed:    make(map[string]string),
	}
}

// NewExecutionFromCheckpoint rebuilds an execution record from a persisted
// checkpoint so a run can resume after a crash.
func NewExecutionFromCheckpoint(cp *Checkpoint, startedAt time.Time) *Execution {
	exec := NewExecution(cp.PlanID, startedAt)
	for _, id := range cp.CompletedStepIDs {
		exec.completed[id] = struct{}{}
	}
	exec.CurrentStepID = cp.CurrentStepID
	return exec
}

// MarkCompleted records a step as completed.
func (e *Execution) MarkCompleted(stepID string) {
	e.completed[stepID] = struct{}{}
	delete(e.failed, stepID)
}

// MarkFailed records a step's final error message.
func (e *Execution) MarkFailed(stepID string, err error) {
	e.failed[stepID] = err.Error()
}

// IsCompleted reports whether a step has completed in this run.
func (e *Execution) IsCompleted(stepID string) bool {
	_, ok := e.completed[stepID]
	return ok
}

// CompletedCount returns the number of completed steps.
func (e *Execution) CompletedCount() int {
	return len(e.completed)
}

// CompletedIDs returns the completed-step set as a slice. Order is
// unspecified; callers needing determinism sort it.
func (e *Execution) CompletedIDs() []string {
	ids := make([]string, 0, len(e.completed))
	for id := range e.completed {
		ids = append(ids, id)
	}
	return ids
}

// FailedSteps returns a copy of the failed-step map (id to error message).
func (e *Execution) FailedSteps() map[string]string {
	out := make(map[string]string, len(e.failed))
	for id, msg := range e.failed {
		out[id] = msg
	}
	return out
}
