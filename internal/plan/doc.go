// Package plan is the core of the long-horizon planning engine. It
// decomposes a goal into a dependency-ordered set of steps, computes a
// feasible timeline under temporal and resource constraints, executes the
// plan with checkpointing and adaptive replanning on failure, and persists
// progress through a pluggable store.
//
// # Lifecycle
//
// A Planner turns a Goal into a Plan:
//
//	planner := plan.NewPlanner(store)
//	pl, err := planner.CreatePlan(ctx, goal, plan.Constraints{Deadline: deadline})
//
// Creation validates everything that can be validated up front: dependency
// references, acyclicity, and deadline feasibility. A plan that fails
// validation is never stored and has no schedule entries.
//
// An Executor then runs the plan against an external StepExecutor:
//
//	executor := plan.NewExecutor(store, plan.WithMaxRetries(2))
//	result, err := executor.Execute(ctx, pl, stepExec)
//
// Steps run strictly sequentially in topological order. After every
// completed step the executor appends a checkpoint; after a crash,
// Executor.Resume rebuilds execution state from the latest checkpoint and
// continues from the first incomplete step.
//
// # Failure handling
//
// Step failures are classified (see Classify) and recovered by replanning:
// timeout-kind failures relax the step's estimated duration by half before
// retrying, unavailable-kind failures switch to the next alternative action.
// A step that exhausts its retries fails the plan; the plan retains its
// completed-step set and the final error for inspection.
//
// Validation errors and dependency-invariant violations are fatal and are
// never retried. Checkpoint persistence failures are logged warnings only
// and never abort execution.
package plan
