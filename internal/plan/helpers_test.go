package plan

import (
	"context"
	"sync"

	"github.com/planforge/planforge/internal/types"
)

// fakeStore is an in-memory Store used across the package's tests. It
// records call counts so tests can assert on persistence behavior, and can
// be told to fail saves to exercise best-effort paths.
type fakeStore struct {
	mu          sync.Mutex
	plans       map[types.ID]*Plan
	checkpoints map[types.ID][]*Checkpoint

	saveCalls       int
	checkpointCalls int
	failSaves       bool
	failCheckpoints bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		plans:       make(map[types.ID]*Plan),
		checkpoints: make(map[types.ID][]*Checkpoint),
	}
}

func (s *fakeStore) SavePlan(_ context.Context, p *Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.failSaves {
		return types.NewError(types.STORE_SAVE_FAILED, "save disabled")
	}
	s.plans[p.ID] = p
	return nil
}

func (s *fakeStore) LoadPlan(_ context.Context, id types.ID) (*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, types.NewError(types.PLAN_NOT_FOUND, "no such plan")
	}
	return p, nil
}

func (s *fakeStore) LoadPlans(_ context.Context) ([]*Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) AppendCheckpoint(_ context.Context, planID types.ID, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpointCalls++
	if s.failCheckpoints {
		return types.NewError(types.STORE_SAVE_FAILED, "checkpoint save disabled")
	}
	s.checkpoints[planID] = append(s.checkpoints[planID], cp)
	return nil
}

func (s *fakeStore) LoadCheckpoints(_ context.Context, planID types.ID) ([]*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[planID], nil
}

func (s *fakeStore) LoadLatestCheckpoint(_ context.Context, planID types.ID) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cps := s.checkpoints[planID]
	if len(cps) == 0 {
		return nil, types.NewError(types.CHECKPOINT_NOT_FOUND, "plan has no checkpoints")
	}
	return cps[len(cps)-1], nil
}

func (s *fakeStore) DeletePlan(_ context.Context, id types.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return types.NewError(types.PLAN_NOT_FOUND, "no such plan")
	}
	delete(s.plans, id)
	delete(s.checkpoints, id)
	return nil
}

func (s *fakeStore) savedCheckpoints(planID types.ID) []*Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Checkpoint(nil), s.checkpoints[planID]...)
}
