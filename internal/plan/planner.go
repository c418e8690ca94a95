package plan

import (
	"context"
	"log/slog"
	"time"

	"github.com/planforge/planforge/internal/constraint"
	"github.com/planforge/planforge/internal/events"
	"github.com/planforge/planforge/internal/graph"
	"github.com/planforge/planforge/internal/schedule"
	"github.com/planforge/planforge/internal/temporal"
	"github.com/planforge/planforge/internal/types"
)

// Planner decomposes goals into dependency-ordered plans with feasible
// timelines. It exclusively owns plan and checkpoint lifecycles; the
// constraint solver only reads and returns schedules.
type Planner struct {
	store    Store
	registry *constraint.Registry
	bus      events.Bus
	clock    temporal.Clock
	logger   *slog.Logger
}

// PlannerOption is a functional option for configuring a Planner.
type PlannerOption func(*Planner)

// WithPlannerLogger configures the planner's logger.
func WithPlannerLogger(l *slog.Logger) PlannerOption {
	return func(p *Planner) {
		p.logger = l
	}
}

// WithPlannerClock configures the planner's time source.
func WithPlannerClock(c temporal.Clock) PlannerOption {
	return func(p *Planner) {
		p.clock = c
	}
}

// WithPlannerBus configures the lifecycle event bus.
func WithPlannerBus(b events.Bus) PlannerOption {
	return func(p *Planner) {
		p.bus = b
	}
}

// WithResourceRegistry configures the resource registry consulted during
// conflict resolution. Plan-level resource declarations are registered into
// it at creation time.
func WithResourceRegistry(r *constraint.Registry) PlannerOption {
	return func(p *Planner) {
		p.registry = r
	}
}

// NewPlanner creates a Planner persisting through the given store.
// Defaults: system clock, slog.Default(), a fresh resource registry, and no
// event bus.
func NewPlanner(store Store, opts ...PlannerOption) *Planner {
	p := &Planner{
		store:    store,
		registry: constraint.NewRegistry(),
		clock:    temporal.SystemClock{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Registry returns the planner's resource registry.
func (p *Planner) Registry() *constraint.Registry {
	return p.registry
}

// CreatePlan decomposes the goal, validates the dependency graph, generates
// the timeline, resolves resource and temporal conflicts, and persists the
// resulting plan.
//
// All validation failures (unknown dependencies, cycles, infeasible
// deadlines) surface here, before any execution attempt; a plan that fails
// validation is never stored and has no schedule entries.
func (p *Planner) CreatePlan(ctx context.Context, goal Goal, constraints Constraints) (*Plan, error) {
	now := p.clock.Now()

	steps, err := Decompose(goal, now.UnixMilli())
	if err != nil {
		return nil, err
	}

	pl := &Plan{
		ID:              types.NewID(),
		GoalName:        goal.Name,
		GoalType:        goal.Type,
		GoalDescription: goal.Description,
		Constraints:     constraints,
		Steps:           steps,
		Status:          PlanStatusCreated,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if pl.Constraints.StartTime == 0 {
		pl.Constraints.StartTime = now.UnixMilli()
	}

	g := graph.Build(pl.Nodes())
	if err := g.Validate(); err != nil {
		return nil, err
	}

	tl, err := schedule.Generate(g, pl.Tasks(), pl.Constraints.StartTime, pl.Constraints.Deadline)
	if err != nil {
		return nil, err
	}

	for _, res := range constraints.Resources {
		p.registry.Register(res)
	}

	demands := pl.Demands()
	orderings := pl.Orderings()
	if len(demands) > 0 || len(orderings) > 0 {
		solver := constraint.NewSolver(p.registry, constraint.WithLogger(p.logger))
		resolved, err := solver.Resolve(g, tl, demands, orderings, pl.Constraints.Deadline)
		if err != nil {
			return nil, err
		}
		if len(resolved) > 0 {
			p.logger.Info("resolved scheduling conflicts",
				"plan_id", pl.ID,
				"conflicts", len(resolved),
			)
		}
	}

	if err := schedule.Validate(tl, pl.Constraints.Deadline); err != nil {
		return nil, err
	}
	pl.Schedule = tl

	if p.store != nil {
		if err := p.store.SavePlan(ctx, pl); err != nil {
			return nil, types.WrapError(types.STORE_SAVE_FAILED, "failed to persist plan", err)
		}
	}

	p.emit(ctx, events.Event{
		Type:      events.EventPlanCreated,
		PlanID:    pl.ID,
		Timestamp: now,
		Payload: map[string]any{
			"goal_type": string(goal.Type),
			"steps":     len(pl.Steps),
			"end_time":  tl.EndTime,
		},
	})

	p.logger.Info("plan created",
		"plan_id", pl.ID,
		"goal", goal.Name,
		"goal_type", goal.Type,
		"steps", len(pl.Steps),
		"start_time", tl.StartTime,
		"end_time", tl.EndTime,
		"critical_path", len(tl.CriticalPath),
	)

	return pl, nil
}

// LoadPlan returns a persisted plan by id.
func (p *Planner) LoadPlan(ctx context.Context, id types.ID) (*Plan, error) {
	return p.store.LoadPlan(ctx, id)
}

// PurgePlan explicitly deletes a plan and its checkpoint history.
func (p *Planner) PurgePlan(ctx context.Context, id types.ID) error {
	return p.store.DeletePlan(ctx, id)
}

func (p *Planner) emit(ctx context.Context, event events.Event) {
	if p.bus == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := p.bus.Publish(ctx, event); err != nil {
		p.logger.Warn("failed to publish event", "type", event.Type, "error", err)
	}
}
