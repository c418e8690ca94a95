package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planforge/planforge/internal/constraint"
	"github.com/planforge/planforge/internal/graph"
	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/schedule"
	"github.com/planforge/planforge/internal/types"
)

const baseTime int64 = 1_700_000_000_000

func testPlan(t *testing.T) *plan.Plan {
	t.Helper()

	steps := []*plan.Step{
		{
			ID: "fetch", Name: "Fetch", Action: "fetch_data",
			EstimatedDuration: 1000, Status: plan.StepStatusPending,
			Input: map[string]any{"source": "s3://bucket/data"},
			Constraints: plan.StepConstraints{
				Resources: []constraint.Claim{{Resource: "net", Amount: 10}},
			},
		},
		{
			ID: "transform", Name: "Transform", Action: "transform_data",
			EstimatedDuration: 2000, Status: plan.StepStatusPending,
			DependsOn:    []string{"fetch"},
			Alternatives: []string{"transform_data_v2"},
		},
	}

	p := &plan.Plan{
		ID:        types.NewID(),
		GoalName:  "data pipeline",
		GoalType:  plan.GoalSequential,
		Steps:     steps,
		Status:    plan.PlanStatusCreated,
		CreatedAt: time.UnixMilli(baseTime).UTC(),
		UpdatedAt: time.UnixMilli(baseTime).UTC(),
		Constraints: plan.Constraints{
			StartTime: baseTime,
			Deadline:  baseTime + 10_000,
			Resources: []constraint.Resource{{Name: "net", Capacity: 100}},
		},
	}

	g := graph.Build(p.Nodes())
	tl, err := schedule.Generate(g, p.Tasks(), baseTime, p.Constraints.Deadline)
	require.NoError(t, err)
	p.Schedule = tl
	return p
}

func testCheckpoint(planID types.ID, completed []string, current string) *plan.Checkpoint {
	return &plan.Checkpoint{
		PlanID:           planID,
		Timestamp:        time.UnixMilli(baseTime).UTC(),
		CompletedStepIDs: completed,
		CurrentStepID:    current,
		Status:           plan.PlanStatusExecuting,
	}
}

// runStoreTests exercises the plan.Store contract against any
// implementation.
func runStoreTests(t *testing.T, newStore func(t *testing.T) plan.Store) {
	ctx := context.Background()

	t.Run("save and load round-trip", func(t *testing.T) {
		s := newStore(t)
		p := testPlan(t)
		require.NoError(t, s.SavePlan(ctx, p))

		loaded, err := s.LoadPlan(ctx, p.ID)
		require.NoError(t, err)

		assert.Equal(t, p.ID, loaded.ID)
		assert.Equal(t, "data pipeline", loaded.GoalName)
		assert.Equal(t, plan.GoalSequential, loaded.GoalType)
		assert.Equal(t, plan.PlanStatusCreated, loaded.Status)
		assert.Equal(t, baseTime+10_000, loaded.Constraints.Deadline)

		require.Len(t, loaded.Steps, 2)
		assert.Equal(t, "s3://bucket/data", loaded.Steps[0].Input["source"])
		assert.Equal(t, []string{"fetch"}, loaded.Steps[1].DependsOn)
		assert.Equal(t, []string{"transform_data_v2"}, loaded.Steps[1].Alternatives)
		assert.Equal(t, 10.0, loaded.Steps[0].Constraints.Resources[0].Amount)

		require.NotNil(t, loaded.Schedule)
		assert.Equal(t, []string{"fetch", "transform"}, loaded.Schedule.Order)
		assert.Equal(t, baseTime+3000, loaded.Schedule.EndTime)
	})

	t.Run("save replaces previous version", func(t *testing.T) {
		s := newStore(t)
		p := testPlan(t)
		require.NoError(t, s.SavePlan(ctx, p))

		p.Status = plan.PlanStatusCompleted
		require.NoError(t, s.SavePlan(ctx, p))

		loaded, err := s.LoadPlan(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, plan.PlanStatusCompleted, loaded.Status)

		all, err := s.LoadPlans(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("load missing plan", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadPlan(ctx, types.NewID())
		require.Error(t, err)
		assert.Equal(t, types.PLAN_NOT_FOUND, types.CodeOf(err))
	})

	t.Run("load all plans", func(t *testing.T) {
		s := newStore(t)
		first, second := testPlan(t), testPlan(t)
		require.NoError(t, s.SavePlan(ctx, first))
		require.NoError(t, s.SavePlan(ctx, second))

		all, err := s.LoadPlans(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("checkpoint history", func(t *testing.T) {
		s := newStore(t)
		p := testPlan(t)
		require.NoError(t, s.SavePlan(ctx, p))

		require.NoError(t, s.AppendCheckpoint(ctx, p.ID, testCheckpoint(p.ID, []string{"fetch"}, "transform")))
		require.NoError(t, s.AppendCheckpoint(ctx, p.ID, testCheckpoint(p.ID, []string{"fetch", "transform"}, "")))

		cps, err := s.LoadCheckpoints(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, cps, 2)
		assert.Equal(t, []string{"fetch"}, cps[0].CompletedStepIDs)
		assert.Equal(t, []string{"fetch", "transform"}, cps[1].CompletedStepIDs)

		latest, err := s.LoadLatestCheckpoint(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"fetch", "transform"}, latest.CompletedStepIDs)

		loaded, err := s.LoadPlan(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, loaded.Checkpoints, 2, "loading a plan includes its history")
	})

	t.Run("latest checkpoint of empty history", func(t *testing.T) {
		s := newStore(t)
		p := testPlan(t)
		require.NoError(t, s.SavePlan(ctx, p))

		_, err := s.LoadLatestCheckpoint(ctx, p.ID)
		require.Error(t, err)
		assert.Equal(t, types.CHECKPOINT_NOT_FOUND, types.CodeOf(err))
	})

	t.Run("delete plan purges checkpoints", func(t *testing.T) {
		s := newStore(t)
		p := testPlan(t)
		require.NoError(t, s.SavePlan(ctx, p))
		require.NoError(t, s.AppendCheckpoint(ctx, p.ID, testCheckpoint(p.ID, []string{"fetch"}, "transform")))

		require.NoError(t, s.DeletePlan(ctx, p.ID))

		_, err := s.LoadPlan(ctx, p.ID)
		assert.Equal(t, types.PLAN_NOT_FOUND, types.CodeOf(err))
		cps, err := s.LoadCheckpoints(ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, cps)
	})

	t.Run("delete missing plan", func(t *testing.T) {
		s := newStore(t)
		err := s.DeletePlan(ctx, types.NewID())
		assert.Equal(t, types.PLAN_NOT_FOUND, types.CodeOf(err))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) plan.Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) plan.Store {
		s, err := Open(filepath.Join(t.TempDir(), "plans.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStore_Isolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := testPlan(t)
	require.NoError(t, s.SavePlan(ctx, p))

	// Mutating the saved plan does not affect the stored copy.
	p.Status = plan.PlanStatusFailed
	p.Steps[0].Status = plan.StepStatusFailed

	loaded, err := s.LoadPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.PlanStatusCreated, loaded.Status)
	assert.Equal(t, plan.StepStatusPending, loaded.Steps[0].Status)

	// Mutating a loaded plan does not affect later loads.
	loaded.GoalName = "tampered"
	again, err := s.LoadPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "data pipeline", again.GoalName)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plans.db")

	s, err := Open(path)
	require.NoError(t, err)
	p := testPlan(t)
	require.NoError(t, s.SavePlan(ctx, p))
	require.NoError(t, s.AppendCheckpoint(ctx, p.ID, testCheckpoint(p.ID, []string{"fetch"}, "transform")))
	require.NoError(t, s.Close())

	// State survives process restarts.
	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err := reopened.LoadPlan(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, loaded.ID)
	assert.Len(t, loaded.Checkpoints, 1)

	latest, err := reopened.LoadLatestCheckpoint(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch"}, latest.CompletedStepIDs)
}
