package plan

import (
	"context"

	"github.com/planforge/planforge/internal/types"
)

// Store is the durable persistence contract the planner and executor depend
// on. Implementations live in internal/store; the engine only requires this
// narrow interface.
//
// Plans and checkpoints are persisted as JSON-serializable structures; sets
// and maps are serialized as arrays of entries and reconstructed on load.
type Store interface {
	// SavePlan persists the plan, replacing any previous version.
	SavePlan(ctx context.Context, p *Plan) error

	// LoadPlan returns the plan with the given id, including its
	// checkpoint history. Returns a PLAN_NOT_FOUND error when absent.
	LoadPlan(ctx context.Context, id types.ID) (*Plan, error)

	// LoadPlans returns all persisted plans.
	LoadPlans(ctx context.Context) ([]*Plan, error)

	// AppendCheckpoint appends an immutable checkpoint to the plan's
	// history. Checkpoints are never mutated once written.
	AppendCheckpoint(ctx context.Context, planID types.ID, cp *Checkpoint) error

	// LoadCheckpoints returns the plan's checkpoints in append order.
	LoadCheckpoints(ctx context.Context, planID types.ID) ([]*Checkpoint, error)

	// LoadLatestCheckpoint returns the most recent checkpoint, or a
	// CHECKPOINT_NOT_FOUND error when the plan has none.
	LoadLatestCheckpoint(ctx context.Context, planID types.ID) (*Checkpoint, error)

	// DeletePlan purges a plan and its checkpoints. Plans are only ever
	// deleted through this explicit call.
	DeletePlan(ctx context.Context, id types.ID) error
}
