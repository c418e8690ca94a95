package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/types"
)

// MemoryStore is an in-memory plan.Store for tests and ephemeral use. Plans
// and checkpoints are deep-copied through JSON on both save and load so
// callers never alias the stored state.
type MemoryStore struct {
	mu          sync.RWMutex
	plans       map[types.ID]*plan.Plan
	checkpoints map[types.ID][]*plan.Checkpoint
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		plans:       make(map[types.ID]*plan.Plan),
		checkpoints: make(map[types.ID][]*plan.Checkpoint),
	}
}

// SavePlan stores a deep copy of the plan.
func (m *MemoryStore) SavePlan(_ context.Context, p *plan.Plan) error {
	cp, err := clone(p)
	if err != nil {
		return types.WrapError(types.STORE_SAVE_FAILED, "failed to copy plan", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plans[p.ID] = cp
	return nil
}

// LoadPlan returns a deep copy of the stored plan including its checkpoint
// history.
func (m *MemoryStore) LoadPlan(_ context.Context, id types.ID) (*plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.plans[id]
	if !ok {
		return nil, types.NewError(types.PLAN_NOT_FOUND, fmt.Sprintf("plan %s not found", id))
	}
	p, err := clone(stored)
	if err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to copy plan", err)
	}
	p.Checkpoints, err = cloneCheckpoints(m.checkpoints[id])
	if err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to copy checkpoints", err)
	}
	return p, nil
}

// LoadPlans returns deep copies of all stored plans, ordered by id for
// determinism.
func (m *MemoryStore) LoadPlans(_ context.Context) ([]*plan.Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.plans))
	for id := range m.plans {
		ids = append(ids, id.String())
	}
	sort.Strings(ids)

	plans := make([]*plan.Plan, 0, len(ids))
	for _, id := range ids {
		p, err := clone(m.plans[types.ID(id)])
		if err != nil {
			return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to copy plan", err)
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// AppendCheckpoint appends a copy of the checkpoint to the plan's history.
func (m *MemoryStore) AppendCheckpoint(_ context.Context, planID types.ID, cp *plan.Checkpoint) error {
	copied, err := cloneCheckpoints([]*plan.Checkpoint{cp})
	if err != nil {
		return types.WrapError(types.STORE_SAVE_FAILED, "failed to copy checkpoint", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[planID] = append(m.checkpoints[planID], copied[0])
	return nil
}

// LoadCheckpoints returns copies of the plan's checkpoints in append order.
func (m *MemoryStore) LoadCheckpoints(_ context.Context, planID types.ID) ([]*plan.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cps, err := cloneCheckpoints(m.checkpoints[planID])
	if err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to copy checkpoints", err)
	}
	return cps, nil
}

// LoadLatestCheckpoint returns a copy of the plan's most recent checkpoint.
func (m *MemoryStore) LoadLatestCheckpoint(_ context.Context, planID types.ID) (*plan.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.checkpoints[planID]
	if len(history) == 0 {
		return nil, types.NewError(types.CHECKPOINT_NOT_FOUND, fmt.Sprintf("plan %s has no checkpoints", planID))
	}
	cps, err := cloneCheckpoints(history[len(history)-1:])
	if err != nil {
		return nil, types.WrapError(types.STORE_LOAD_FAILED, "failed to copy checkpoint", err)
	}
	return cps[0], nil
}

// DeletePlan purges a plan and its checkpoints.
func (m *MemoryStore) DeletePlan(_ context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.plans[id]; !ok {
		return types.NewError(types.PLAN_NOT_FOUND, fmt.Sprintf("plan %s not found", id))
	}
	delete(m.plans, id)
	delete(m.checkpoints, id)
	return nil
}

func clone(p *plan.Plan) (*plan.Plan, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	out := &plan.Plan{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

func cloneCheckpoints(cps []*plan.Checkpoint) ([]*plan.Checkpoint, error) {
	if len(cps) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(cps)
	if err != nil {
		return nil, err
	}
	var out []*plan.Checkpoint
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
