// Package planforge assembles the planning engine: goal decomposition,
// dependency-ordered scheduling, constraint resolution, checkpointed
// execution, and durable plan persistence behind a single lifecycle.
//
// Typical use:
//
//	cfg := config.Default()
//	engine, err := planforge.New(cfg)
//	if err != nil { ... }
//	defer engine.Close()
//
//	pl, err := engine.CreatePlan(ctx, goal, constraints)
//	result, err := engine.Execute(ctx, pl.ID, stepExec)
package planforge

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/constraint"
	"github.com/planforge/planforge/internal/events"
	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/store"
	"github.com/planforge/planforge/internal/temporal"
	"github.com/planforge/planforge/internal/types"
	"github.com/planforge/planforge/pkg/version"
)

// Engine owns the planner, executor, event bus, plan store, and background
// saver. All methods are safe for concurrent use; independent plans may
// execute concurrently while steps within one plan stay strictly sequential.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	clock    temporal.Clock
	tracer   trace.Tracer
	store    plan.Store
	ownStore bool

	bus      *events.DefaultBus
	planner  *plan.Planner
	executor *plan.Executor
	saver    *plan.Saver

	mu    sync.Mutex
	plans map[types.ID]*plan.Plan

	closeOnce sync.Once
	closeErr  error
}

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithLogger configures the engine's logger, passed down to every component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock configures the engine's time source.
func WithClock(c temporal.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithTracer configures an OpenTelemetry tracer for execution spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithStore overrides the SQLite store the engine would otherwise open from
// its configuration. The engine does not close a store it did not open.
func WithStore(s plan.Store) Option {
	return func(e *Engine) {
		e.store = s
		e.ownStore = false
	}
}

// New assembles an engine from configuration. A nil cfg uses the defaults.
// Unless WithStore overrides it, a SQLite store is opened at cfg.Store.Path
// and closed again by Close.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		clock:  temporal.SystemClock{},
		plans:  make(map[types.ID]*plan.Plan),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		s, err := store.OpenWithConfig(store.Config{
			Path:         cfg.Store.Path,
			MaxOpenConns: cfg.Store.MaxOpenConns,
			MaxIdleConns: cfg.Store.MaxIdleConns,
			BusyTimeout:  cfg.Store.BusyTimeout.Std(),
		})
		if err != nil {
			return nil, err
		}
		e.store = s
		e.ownStore = true
	}

	e.bus = events.NewBus(
		events.WithDefaultBufferSize(cfg.EventBufferSize),
		events.WithDropHandler(func(event events.Event) {
			e.logger.Warn("dropped event for slow subscriber", "type", event.Type, "plan_id", event.PlanID)
		}),
	)

	e.planner = plan.NewPlanner(e.store,
		plan.WithPlannerLogger(e.logger),
		plan.WithPlannerClock(e.clock),
		plan.WithPlannerBus(e.bus),
	)

	executorOpts := []plan.ExecutorOption{
		plan.WithExecutorLogger(e.logger),
		plan.WithExecutorClock(e.clock),
		plan.WithExecutorBus(e.bus),
		plan.WithMaxRetries(cfg.MaxRetries),
		plan.WithStepTimeout(cfg.StepTimeout.Std()),
	}
	if e.tracer != nil {
		executorOpts = append(executorOpts, plan.WithExecutorTracer(e.tracer))
	}
	e.executor = plan.NewExecutor(e.store, executorOpts...)

	e.saver = plan.NewSaver(e.store, e.snapshot,
		plan.WithSaveInterval(cfg.AutoSaveInterval.Std()),
		plan.WithSaverLogger(e.logger),
	)
	e.saver.Start()

	e.logger.Info("planning engine ready",
		"version", version.Version,
		"store_path", cfg.Store.Path,
		"max_retries", cfg.MaxRetries,
		"step_timeout", cfg.StepTimeout.Std(),
	)
	return e, nil
}

// Registry returns the resource registry consulted during constraint
// resolution. Resources declared in plan constraints are registered
// automatically; hosts may pre-register shared capacities here.
func (e *Engine) Registry() *constraint.Registry {
	return e.planner.Registry()
}

// CreatePlan decomposes a goal into a validated, scheduled, persisted plan.
func (e *Engine) CreatePlan(ctx context.Context, goal plan.Goal, constraints plan.Constraints) (*plan.Plan, error) {
	pl, err := e.planner.CreatePlan(ctx, goal, constraints)
	if err != nil {
		return nil, err
	}
	e.track(pl)
	return pl, nil
}

// Execute runs a plan by id from the beginning.
func (e *Engine) Execute(ctx context.Context, id types.ID, stepExec plan.StepExecutor) (*plan.Result, error) {
	pl, err := e.Plan(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := e.executor.Execute(ctx, pl, stepExec)
	e.saver.Enqueue(pl)
	return result, err
}

// Resume continues a plan from its latest checkpoint.
func (e *Engine) Resume(ctx context.Context, id types.ID, stepExec plan.StepExecutor) (*plan.Result, error) {
	result, err := e.executor.Resume(ctx, id, stepExec)
	if result != nil {
		if pl, loadErr := e.store.LoadPlan(ctx, id); loadErr == nil {
			e.track(pl)
		}
	}
	return result, err
}

// ExecuteAll runs several independent plans concurrently. The first failure
// cancels the remaining runs.
func (e *Engine) ExecuteAll(ctx context.Context, ids []types.ID, stepExec plan.StepExecutor) error {
	plans := make([]*plan.Plan, 0, len(ids))
	for _, id := range ids {
		pl, err := e.Plan(ctx, id)
		if err != nil {
			return err
		}
		plans = append(plans, pl)
	}
	return e.executor.ExecuteAll(ctx, plans, stepExec)
}

// Plan returns a tracked plan by id, falling back to the store.
func (e *Engine) Plan(ctx context.Context, id types.ID) (*plan.Plan, error) {
	e.mu.Lock()
	pl, ok := e.plans[id]
	e.mu.Unlock()
	if ok {
		return pl, nil
	}

	pl, err := e.store.LoadPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	e.track(pl)
	return pl, nil
}

// Plans returns all persisted plans.
func (e *Engine) Plans(ctx context.Context) ([]*plan.Plan, error) {
	return e.store.LoadPlans(ctx)
}

// PurgePlan deletes a plan and its checkpoint history.
func (e *Engine) PurgePlan(ctx context.Context, id types.ID) error {
	e.mu.Lock()
	delete(e.plans, id)
	e.mu.Unlock()
	return e.planner.PurgePlan(ctx, id)
}

// Subscribe returns a channel of lifecycle events matching the filter and a
// cleanup function that must be called to unsubscribe.
func (e *Engine) Subscribe(ctx context.Context, filter events.Filter) (<-chan events.Event, func()) {
	return e.bus.Subscribe(ctx, filter, 0)
}

// Flush synchronously persists every tracked plan. Hosts call this from
// their own shutdown or scheduling hooks in addition to the periodic saver.
func (e *Engine) Flush(ctx context.Context) {
	e.saver.Flush(ctx)
}

// Close stops the background saver (draining with a final flush), shuts the
// event bus, and closes the store when the engine opened it. Close is
// idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.saver.Stop()
		e.closeErr = e.bus.Close()
		if e.ownStore {
			if closer, ok := e.store.(interface{ Close() error }); ok {
				if err := closer.Close(); err != nil && e.closeErr == nil {
					e.closeErr = err
				}
			}
		}
	})
	return e.closeErr
}

func (e *Engine) track(pl *plan.Plan) {
	e.mu.Lock()
	e.plans[pl.ID] = pl
	e.mu.Unlock()
}

// snapshot returns the tracked plans for the periodic saver.
func (e *Engine) snapshot() []*plan.Plan {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*plan.Plan, 0, len(e.plans))
	for _, pl := range e.plans {
		out = append(out, pl)
	}
	return out
}
