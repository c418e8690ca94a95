package plan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/planforge/planforge/internal/events"
	"github.com/planforge/planforge/internal/graph"
	"github.com/planforge/planforge/internal/temporal"
	"github.com/planforge/planforge/internal/types"
)

// StepExecutor performs one step's action. The engine never inspects its
// internals; it must be safe to call multiple times per step (retries), but
// is not required to be side-effect-free.
type StepExecutor interface {
	ExecuteStep(ctx context.Context, step *Step) (map[string]any, error)
}

// StepExecutorFunc adapts a function to the StepExecutor interface.
type StepExecutorFunc func(ctx context.Context, step *Step) (map[string]any, error)

func (f StepExecutorFunc) ExecuteStep(ctx context.Context, step *Step) (map[string]any, error) {
	return f(ctx, step)
}

// StepResult records the outcome of one step's execution.
type StepResult struct {
	StepID      string         `json:"step_id"`
	Status      StepStatus     `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Attempts    int            `json:"attempts"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Duration    time.Duration  `json:"duration"`
}

// Result is the overall outcome of executing a plan.
type Result struct {
	PlanID        types.ID      `json:"plan_id"`
	Status        PlanStatus    `json:"status"`
	StepResults   []StepResult  `json:"step_results"`
	TotalDuration time.Duration `json:"total_duration"`
	Error         *PlanError    `json:"error,omitempty"`
}

// Executor walks a plan's topological order, invokes the external step
// executor with retry and replanning on failure, and checkpoints progress
// after every completed step.
//
// An Executor holds no per-plan mutable state, so one instance can run many
// distinct plans concurrently; steps within a single plan always execute
// strictly sequentially.
type Executor struct {
	store       Store
	bus         events.Bus
	clock       temporal.Clock
	logger      *slog.Logger
	tracer      trace.Tracer
	maxRetries  int
	stepTimeout time.Duration
}

// ExecutorOption is a functional option for configuring an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger configures the executor's logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// WithExecutorBus configures the lifecycle event bus.
func WithExecutorBus(b events.Bus) ExecutorOption {
	return func(e *Executor) {
		e.bus = b
	}
}

// WithExecutorClock configures the executor's time source.
func WithExecutorClock(c temporal.Clock) ExecutorOption {
	return func(e *Executor) {
		e.clock = c
	}
}

// WithExecutorTracer configures an OpenTelemetry tracer for plan and step
// spans. Without one, no spans are created.
func WithExecutorTracer(t trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = t
	}
}

// WithMaxRetries configures how many times a failed step is retried after
// its first attempt. A step therefore runs at most maxRetries+1 times.
func WithMaxRetries(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithStepTimeout configures the per-attempt timeout for step execution.
func WithStepTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.stepTimeout = d
		}
	}
}

// NewExecutor creates an Executor persisting checkpoints through the given
// store. Defaults: maxRetries 3, step timeout 5 minutes, system clock,
// slog.Default().
func NewExecutor(store Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:       store,
		clock:       temporal.SystemClock{},
		logger:      slog.Default(),
		maxRetries:  3,
		stepTimeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the plan from the beginning. The plan must be in the created
// state.
func (e *Executor) Execute(ctx context.Context, pl *Plan, stepExec StepExecutor) (*Result, error) {
	if !pl.Status.CanTransitionTo(PlanStatusExecuting) {
		return nil, NewPlanError(
			ErrPlanNotRunnable,
			fmt.Sprintf("plan cannot start execution from status %q", pl.Status),
			nil,
		)
	}
	exec := NewExecution(pl.ID, e.clock.Now())
	return e.run(ctx, pl, exec, stepExec)
}

// Resume reconstructs execution state from the plan's latest checkpoint and
// continues from the first step not yet completed. A plan with no
// checkpoints resumes from the beginning.
func (e *Executor) Resume(ctx context.Context, planID types.ID, stepExec StepExecutor) (*Result, error) {
	return e.resume(ctx, planID, -1, stepExec)
}

// ResumeAt is Resume from a specific checkpoint index in the plan's history.
func (e *Executor) ResumeAt(ctx context.Context, planID types.ID, checkpointIndex int, stepExec StepExecutor) (*Result, error) {
	if checkpointIndex < 0 {
		return nil, NewPlanError(ErrResumeFailed, "checkpoint index cannot be negative", nil)
	}
	return e.resume(ctx, planID, checkpointIndex, stepExec)
}

func (e *Executor) resume(ctx context.Context, planID types.ID, checkpointIndex int, stepExec StepExecutor) (*Result, error) {
	pl, err := e.store.LoadPlan(ctx, planID)
	if err != nil {
		return nil, NewPlanError(ErrResumeFailed, "failed to load plan", err)
	}
	if pl.Status.IsTerminal() {
		return nil, NewPlanError(
			ErrPlanAlreadyTerminal,
			fmt.Sprintf("plan %s already finished with status %q", pl.ID, pl.Status),
			nil,
		)
	}

	var cp *Checkpoint
	if checkpointIndex >= 0 {
		cps, err := e.store.LoadCheckpoints(ctx, planID)
		if err != nil {
			return nil, NewPlanError(ErrResumeFailed, "failed to load checkpoints", err)
		}
		if checkpointIndex >= len(cps) {
			return nil, NewPlanError(
				ErrCheckpointUnavailable,
				fmt.Sprintf("checkpoint %d does not exist (history has %d)", checkpointIndex, len(cps)),
				nil,
			)
		}
		cp = cps[checkpointIndex]
	} else {
		cp, err = e.store.LoadLatestCheckpoint(ctx, planID)
		if err != nil && types.CodeOf(err) != types.CHECKPOINT_NOT_FOUND {
			return nil, NewPlanError(ErrResumeFailed, "failed to load latest checkpoint", err)
		}
	}

	var exec *Execution
	if cp != nil {
		exec = NewExecutionFromCheckpoint(cp, e.clock.Now())
		for _, id := range cp.CompletedStepIDs {
			if step := pl.Step(id); step != nil {
				step.Status = StepStatusCompleted
			}
		}
		e.logger.Info("resuming plan from checkpoint",
			"plan_id", pl.ID,
			"completed_steps", exec.CompletedCount(),
			"current_step", cp.CurrentStepID,
		)
	} else {
		exec = NewExecution(pl.ID, e.clock.Now())
	}

	return e.run(ctx, pl, exec, stepExec)
}

// ExecuteAll runs several independent plans concurrently, one goroutine per
// plan. Step execution within each plan remains strictly sequential, and no
// mutable state is shared across plans. The first plan failure cancels the
// remaining runs.
func (e *Executor) ExecuteAll(ctx context.Context, plans []*Plan, stepExec StepExecutor) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, pl := range plans {
		pl := pl
		g.Go(func() error {
			_, err := e.Execute(ctx, pl, stepExec)
			return err
		})
	}
	return g.Wait()
}

// run is the shared execution loop for fresh runs and resumes.
func (e *Executor) run(ctx context.Context, pl *Plan, exec *Execution, stepExec StepExecutor) (*Result, error) {
	order, err := e.topologicalOrder(pl)
	if err != nil {
		return nil, err
	}

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "plan.execute",
			trace.WithAttributes(
				attribute.String("plan.id", pl.ID.String()),
				attribute.String("plan.goal_type", string(pl.GoalType)),
				attribute.Int("plan.steps", len(pl.Steps)),
			),
		)
		defer span.End()
	}

	pl.Status = PlanStatusExecuting
	pl.UpdatedAt = e.clock.Now()

	result := &Result{
		PlanID:      pl.ID,
		Status:      PlanStatusExecuting,
		StepResults: make([]StepResult, 0, len(pl.Steps)),
	}
	runStart := e.clock.Now()

	e.emit(ctx, events.Event{
		Type:   events.EventExecutionStarted,
		PlanID: pl.ID,
		Payload: map[string]any{
			"steps":     len(order),
			"completed": exec.CompletedCount(),
		},
	})
	e.logger.Info("starting plan execution",
		"plan_id", pl.ID,
		"steps", len(order),
		"already_completed", exec.CompletedCount(),
	)

	for _, stepID := range order {
		if exec.IsCompleted(stepID) {
			continue
		}

		// The only supported interruption point is between steps.
		if err := ctx.Err(); err != nil {
			planErr := NewPlanError(ErrExecutionCancelled, "execution cancelled between steps", err).WithStep(stepID)
			result.Error = planErr
			result.TotalDuration = e.clock.Now().Sub(runStart)
			e.logger.Warn("execution cancelled", "plan_id", pl.ID, "next_step", stepID)
			// Status stays executing so the run can be resumed later.
			e.savePlan(ctx, pl)
			return result, planErr
		}

		step := pl.Step(stepID)
		if step == nil {
			return result, e.fail(ctx, pl, exec, result, runStart, NewPlanError(
				ErrDependenciesNotSatisfied,
				fmt.Sprintf("scheduled step %s not present in plan", stepID),
				nil,
			).WithStep(stepID), span)
		}

		// Invariant: every dependency must already be completed. A miss
		// here means a scheduling or executor bug, never a retryable
		// condition.
		for _, dep := range step.DependsOn {
			if !exec.IsCompleted(dep) {
				return result, e.fail(ctx, pl, exec, result, runStart, NewPlanError(
					ErrDependenciesNotSatisfied,
					fmt.Sprintf("step %s ran before dependency %s completed", step.ID, dep),
					nil,
				).WithStep(step.ID), span)
			}
		}

		exec.CurrentStepID = step.ID
		stepResult := e.runStep(ctx, pl, step, stepExec)
		result.StepResults = append(result.StepResults, stepResult)

		if stepResult.Status != StepStatusCompleted {
			exec.MarkFailed(step.ID, fmt.Errorf("%s", stepResult.Error))
			pl.Error = stepResult.Error
			return result, e.fail(ctx, pl, exec, result, runStart, NewPlanError(
				ErrRetriesExhausted,
				fmt.Sprintf("step failed after %d attempts", stepResult.Attempts),
				fmt.Errorf("%s", stepResult.Error),
			).WithStep(step.ID), span)
		}

		exec.MarkCompleted(step.ID)
		e.checkpoint(ctx, pl, exec)
	}

	pl.Status = PlanStatusCompleted
	pl.UpdatedAt = e.clock.Now()
	exec.Status = PlanStatusCompleted
	result.Status = PlanStatusCompleted
	result.TotalDuration = e.clock.Now().Sub(runStart)
	e.savePlan(ctx, pl)

	if span != nil {
		span.SetStatus(codes.Ok, "plan execution completed")
	}
	e.emit(ctx, events.Event{
		Type:   events.EventExecutionCompleted,
		PlanID: pl.ID,
		Payload: map[string]any{
			"steps_executed": len(result.StepResults),
			"duration_ms":    result.TotalDuration.Milliseconds(),
		},
	})
	e.logger.Info("plan execution completed",
		"plan_id", pl.ID,
		"steps_executed", len(result.StepResults),
		"duration", result.TotalDuration,
	)

	return result, nil
}

// runStep attempts one step up to maxRetries+1 times, classifying each
// failure and replanning (relaxed timing or alternative action) before the
// next attempt.
func (e *Executor) runStep(ctx context.Context, pl *Plan, step *Step, stepExec StepExecutor) StepResult {
	startedAt := e.clock.Now()
	result := StepResult{
		StepID:    step.ID,
		StartedAt: startedAt,
	}

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "step.execute",
			trace.WithAttributes(
				attribute.String("step.id", step.ID),
				attribute.String("step.action", step.Action),
			),
		)
		defer span.End()
	}

	step.Status = StepStatusExecuting
	e.emit(ctx, events.Event{
		Type:   events.EventStepStarted,
		PlanID: pl.ID,
		StepID: step.ID,
		Payload: map[string]any{
			"action": step.Action,
		},
	})
	e.logger.Info("executing step",
		"plan_id", pl.ID,
		"step_id", step.ID,
		"action", step.Action,
	)

	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		result.Attempts = attempt + 1

		output, err := e.invoke(ctx, step, stepExec)
		if err == nil {
			step.Status = StepStatusCompleted
			step.Output = output
			result.Status = StepStatusCompleted
			result.Output = output
			result.CompletedAt = e.clock.Now()
			result.Duration = result.CompletedAt.Sub(startedAt)
			if span != nil {
				span.SetStatus(codes.Ok, "step completed")
				span.SetAttributes(attribute.Int("step.attempts", result.Attempts))
			}
			e.emit(ctx, events.Event{
				Type:   events.EventStepCompleted,
				PlanID: pl.ID,
				StepID: step.ID,
				Payload: map[string]any{
					"attempts": result.Attempts,
				},
			})
			e.logger.Info("step completed",
				"plan_id", pl.ID,
				"step_id", step.ID,
				"attempts", result.Attempts,
			)
			return result
		}

		lastErr = err
		step.RetryCount++
		kind := Classify(err)
		e.logger.Warn("step attempt failed",
			"plan_id", pl.ID,
			"step_id", step.ID,
			"attempt", attempt+1,
			"failure_kind", kind,
			"error", err,
		)
		if span != nil {
			span.RecordError(err)
		}

		if kind == FailureFatal {
			break
		}
		if attempt == e.maxRetries {
			break
		}

		e.emit(ctx, events.Event{
			Type:   events.EventReplanningStarted,
			PlanID: pl.ID,
			StepID: step.ID,
			Payload: map[string]any{
				"failure_kind": string(kind),
			},
		})
		adjusted, note := replan(step, kind)
		if adjusted {
			e.logger.Info("replanned step",
				"plan_id", pl.ID,
				"step_id", step.ID,
				"adjustment", note,
			)
		} else if kind == FailureUnavailable {
			// Wanted an alternative but none remain; keep retrying the
			// current action.
			e.emit(ctx, events.Event{
				Type:   events.EventReplanningFailed,
				PlanID: pl.ID,
				StepID: step.ID,
				Payload: map[string]any{
					"reason": note,
				},
			})
			e.logger.Warn("replanning found no adjustment",
				"plan_id", pl.ID,
				"step_id", step.ID,
				"reason", note,
			)
		}
	}

	step.Status = StepStatusFailed
	result.Status = StepStatusFailed
	result.Error = lastErr.Error()
	result.CompletedAt = e.clock.Now()
	result.Duration = result.CompletedAt.Sub(startedAt)
	if span != nil {
		span.SetStatus(codes.Error, "step failed")
	}
	e.emit(ctx, events.Event{
		Type:   events.EventStepFailed,
		PlanID: pl.ID,
		StepID: step.ID,
		Payload: map[string]any{
			"attempts": result.Attempts,
			"error":    result.Error,
		},
	})
	return result
}

// invoke calls the external step executor under the per-attempt timeout.
func (e *Executor) invoke(ctx context.Context, step *Step, stepExec StepExecutor) (map[string]any, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()
	return stepExec.ExecuteStep(stepCtx, step)
}

// checkpoint appends and persists a progress snapshot. Persistence is best
// effort: a failed write is logged as a warning and execution continues
// in-memory.
func (e *Executor) checkpoint(ctx context.Context, pl *Plan, exec *Execution) {
	cp := NewCheckpoint(exec, e.clock.Now())
	pl.Checkpoints = append(pl.Checkpoints, cp)

	if e.store != nil {
		if err := e.store.AppendCheckpoint(ctx, pl.ID, cp); err != nil {
			e.logger.Warn("failed to persist checkpoint",
				"plan_id", pl.ID,
				"completed_steps", len(cp.CompletedStepIDs),
				"error", err,
			)
		}
	}

	e.emit(ctx, events.Event{
		Type:   events.EventCheckpointCreated,
		PlanID: pl.ID,
		StepID: cp.CurrentStepID,
		Payload: map[string]any{
			"completed_steps": len(cp.CompletedStepIDs),
		},
	})
}

// fail transitions the plan to failed, persists best-effort, and returns the
// surfaced error. Partial progress (completed steps, checkpoint history) is
// retained for inspection.
func (e *Executor) fail(ctx context.Context, pl *Plan, exec *Execution, result *Result, runStart time.Time, planErr *PlanError, span trace.Span) error {
	pl.Status = PlanStatusFailed
	pl.UpdatedAt = e.clock.Now()
	if pl.Error == "" {
		pl.Error = planErr.Error()
	}
	exec.Status = PlanStatusFailed
	result.Status = PlanStatusFailed
	result.Error = planErr
	result.TotalDuration = e.clock.Now().Sub(runStart)
	e.savePlan(ctx, pl)

	if span != nil {
		span.SetStatus(codes.Error, string(planErr.Code))
		span.RecordError(planErr)
	}
	e.emit(ctx, events.Event{
		Type:   events.EventExecutionFailed,
		PlanID: pl.ID,
		StepID: planErr.StepID,
		Payload: map[string]any{
			"code":  string(planErr.Code),
			"error": planErr.Message,
		},
	})
	e.logger.Error("plan execution failed",
		"plan_id", pl.ID,
		"code", planErr.Code,
		"step_id", planErr.StepID,
		"error", planErr,
	)
	return planErr
}

// topologicalOrder prefers the order fixed by the schedule at creation time
// and falls back to re-sorting the dependency graph.
func (e *Executor) topologicalOrder(pl *Plan) ([]string, error) {
	if pl.Schedule != nil && len(pl.Schedule.Order) == len(pl.Steps) {
		return pl.Schedule.Order, nil
	}
	g := graph.Build(pl.Nodes())
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g.TopoSort()
}

// savePlan persists the plan state best-effort. The save is detached from
// the caller's cancellation so a cancelled run still records its progress.
func (e *Executor) savePlan(ctx context.Context, pl *Plan) {
	if e.store == nil {
		return
	}
	if err := e.store.SavePlan(context.WithoutCancel(ctx), pl); err != nil {
		e.logger.Warn("failed to persist plan state", "plan_id", pl.ID, "error", err)
	}
}

func (e *Executor) emit(ctx context.Context, event events.Event) {
	if e.bus == nil {
		return
	}
	event.Timestamp = e.clock.Now()
	if err := e.bus.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish event", "type", event.Type, "error", err)
	}
}
