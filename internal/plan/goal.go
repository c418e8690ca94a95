package plan

import (
	"fmt"

	"github.com/planforge/planforge/internal/constraint"
	"github.com/planforge/planforge/internal/temporal"
	"github.com/planforge/planforge/internal/types"
)

// GoalType selects the decomposition strategy for a goal. The set is closed:
// Decompose switches exhaustively over it, so adding a variant is a compile
// visible change.
type GoalType string

const (
	// GoalSequential chains every emitted step onto the one before it.
	GoalSequential GoalType = "sequential"

	// GoalParallel emits steps with only their declared dependencies.
	// Execution still runs one linear topological order; the variant is a
	// modeling convenience, not a concurrency primitive.
	GoalParallel GoalType = "parallel"

	// GoalConditional chains steps and records the goal's condition
	// expression on each step's input for the executor to evaluate.
	GoalConditional GoalType = "conditional"

	// GoalIterative replicates the goal's steps a fixed number of times,
	// chaining each iteration onto the previous one.
	GoalIterative GoalType = "iterative"

	// GoalDefault emits steps verbatim with declared dependencies.
	GoalDefault GoalType = "default"
)

// Valid reports whether t is a known goal type.
func (t GoalType) Valid() bool {
	switch t {
	case GoalSequential, GoalParallel, GoalConditional, GoalIterative, GoalDefault:
		return true
	}
	return false
}

// Goal is the user-supplied intent a plan is created from. Goals are
// transient: they are consumed once at plan-creation time, and only their
// name, type, and description are retained on the resulting plan.
type Goal struct {
	Type        GoalType   `json:"type"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Steps       []StepSpec `json:"steps,omitempty"`
	SubGoals    []Goal     `json:"sub_goals,omitempty"`

	// Iterations applies to iterative goals. Values below 1 are treated
	// as 1.
	Iterations int `json:"iterations,omitempty"`

	// Condition applies to conditional goals and is passed through to the
	// executor on each step's input.
	Condition string `json:"condition,omitempty"`
}

// StepSpec describes one step of a goal before decomposition assigns plan
// level identity and scheduling metadata.
type StepSpec struct {
	// ID is the step's id within the plan. Generated ("step-N") when empty.
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Action      string `json:"action"`

	Input    map[string]any `json:"input,omitempty"`
	Duration int64          `json:"duration"`

	DependsOn []string `json:"depends_on,omitempty"`

	// NotBefore is a time expression ("in 2 hours", "tomorrow 09:00",
	// RFC 3339, epoch ms) resolved against the clock at decomposition.
	NotBefore string `json:"not_before,omitempty"`

	Before       []string           `json:"before,omitempty"`
	Resources    []constraint.Claim `json:"resources,omitempty"`
	Alternatives []string           `json:"alternatives,omitempty"`
}

// Decompose expands a goal into the plan's step list. now is the reference
// instant (epoch ms) for resolving relative time expressions.
func Decompose(goal Goal, now int64) ([]*Step, error) {
	if !goal.Type.Valid() {
		return nil, types.NewError(types.INVALID_GOAL, fmt.Sprintf("unknown goal type %q", goal.Type))
	}

	specs := flattenSpecs(goal)
	if len(specs) == 0 {
		return nil, types.NewError(types.INVALID_GOAL, "goal contains no steps")
	}

	switch goal.Type {
	case GoalSequential:
		return materialize(specs, now, chainSequential, nil)
	case GoalParallel:
		return materialize(specs, now, nil, nil)
	case GoalConditional:
		return materialize(specs, now, chainSequential, conditionInput(goal.Condition))
	case GoalIterative:
		iterations := goal.Iterations
		if iterations < 1 {
			iterations = 1
		}
		return materializeIterations(specs, now, iterations)
	case GoalDefault:
		return materialize(specs, now, nil, nil)
	}
	// Unreachable: Valid() covers the full set.
	return nil, types.NewError(types.INVALID_GOAL, fmt.Sprintf("unknown goal type %q", goal.Type))
}

// flattenSpecs collects the goal's own steps followed by its sub-goals'
// steps, depth first in declaration order.
func flattenSpecs(goal Goal) []StepSpec {
	specs := append([]StepSpec(nil), goal.Steps...)
	for _, sub := range goal.SubGoals {
		specs = append(specs, flattenSpecs(sub)...)
	}
	return specs
}

// chainSequential adds a dependency from each step to its predecessor, on
// top of whatever the spec declared.
func chainSequential(steps []*Step) {
	for i := 1; i < len(steps); i++ {
		prev := steps[i-1].ID
		if !containsID(steps[i].DependsOn, prev) {
			steps[i].DependsOn = append(steps[i].DependsOn, prev)
		}
	}
}

func conditionInput(condition string) func(*Step) {
	if condition == "" {
		return nil
	}
	return func(s *Step) {
		if s.Input == nil {
			s.Input = make(map[string]any)
		}
		s.Input["condition"] = condition
	}
}

func materialize(specs []StepSpec, now int64, chain func([]*Step), decorate func(*Step)) ([]*Step, error) {
	steps := make([]*Step, 0, len(specs))
	for i, spec := range specs {
		step, err := specToStep(spec, i, now, "")
		if err != nil {
			return nil, err
		}
		if decorate != nil {
			decorate(step)
		}
		steps = append(steps, step)
	}
	if chain != nil {
		chain(steps)
	}
	return steps, nil
}

// materializeIterations replicates the spec list once per iteration with
// "-iN" suffixed ids, rewriting intra-iteration dependency references and
// chaining each iteration's first step onto the previous iteration's last.
func materializeIterations(specs []StepSpec, now int64, iterations int) ([]*Step, error) {
	steps := make([]*Step, 0, len(specs)*iterations)
	var prevLast string
	for n := 1; n <= iterations; n++ {
		suffix := fmt.Sprintf("-i%d", n)
		base := len(steps)
		for i, spec := range specs {
			step, err := specToStep(spec, base+i, now, suffix)
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
		}
		first := steps[base]
		if prevLast != "" && !containsID(first.DependsOn, prevLast) {
			first.DependsOn = append(first.DependsOn, prevLast)
		}
		prevLast = steps[len(steps)-1].ID
	}
	return steps, nil
}

func specToStep(spec StepSpec, index int, now int64, idSuffix string) (*Step, error) {
	id := spec.ID
	if id == "" {
		id = fmt.Sprintf("step-%d", index+1)
	}
	id += idSuffix

	var notBefore int64
	if spec.NotBefore != "" {
		ts, err := temporal.ParseExpression(spec.NotBefore, now)
		if err != nil {
			return nil, types.WrapError(types.INVALID_GOAL, fmt.Sprintf("step %s: bad notBefore", id), err)
		}
		notBefore = ts
	}

	dependsOn := make([]string, len(spec.DependsOn))
	for i, dep := range spec.DependsOn {
		dependsOn[i] = dep + idSuffix
	}
	before := make([]string, len(spec.Before))
	for i, b := range spec.Before {
		before[i] = b + idSuffix
	}

	step := &Step{
		ID:                id,
		Name:              spec.Name,
		Description:       spec.Description,
		Action:            spec.Action,
		Input:             spec.Input,
		EstimatedDuration: spec.Duration,
		DependsOn:         dependsOn,
		Constraints: StepConstraints{
			NotBefore: notBefore,
			Before:    before,
			Resources: spec.Resources,
		},
		Alternatives: append([]string(nil), spec.Alternatives...),
		Status:       StepStatusPending,
	}
	if err := step.Validate(); err != nil {
		return nil, err
	}
	return step, nil
}

func containsID(ids []string, id string) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}
