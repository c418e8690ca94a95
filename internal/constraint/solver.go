// Package constraint detects and resolves resource and temporal conflicts in
// a generated timeline.
//
// Resolution only ever pushes start times forward, preserving every step's
// duration, and re-propagates shifts through the dependency graph. Running
// resolution on an already-conflict-free timeline is a no-op.
package constraint

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/planforge/planforge/internal/graph"
	"github.com/planforge/planforge/internal/schedule"
	"github.com/planforge/planforge/internal/types"
)

// ConflictKind distinguishes the two classes of conflict the solver handles.
type ConflictKind string

const (
	// ConflictResource means overlapping claims on one resource exceed its
	// registered capacity.
	ConflictResource ConflictKind = "resource"

	// ConflictTemporal means a declared before/after ordering between two
	// steps is violated by the current timeline.
	ConflictTemporal ConflictKind = "temporal"
)

// Conflict describes one detected violation and how resolution would repair
// it: LaterStep is shifted to start at ShiftTo.
type Conflict struct {
	Kind        ConflictKind `json:"kind"`
	Resource    string       `json:"resource,omitempty"`
	EarlierStep string       `json:"earlier_step"`
	LaterStep   string       `json:"later_step"`
	ShiftTo     int64        `json:"shift_to"`
}

func (c Conflict) String() string {
	if c.Kind == ConflictResource {
		return fmt.Sprintf("resource %q overcommitted by %s and %s", c.Resource, c.EarlierStep, c.LaterStep)
	}
	return fmt.Sprintf("step %s must finish before %s starts", c.EarlierStep, c.LaterStep)
}

// Demands maps each step to its resource claims. Steps with no claims may be
// absent.
type Demands map[string][]Claim

// Orderings maps a step to the steps it must finish before.
type Orderings map[string][]string

// Solver detects conflicts against a resource registry and repairs them by
// shifting steps later in time.
type Solver struct {
	registry *Registry
	logger   *slog.Logger
}

// SolverOption is a functional option for configuring a Solver.
type SolverOption func(*Solver)

// WithLogger configures the solver's logger.
func WithLogger(l *slog.Logger) SolverOption {
	return func(s *Solver) {
		s.logger = l
	}
}

// NewSolver creates a Solver reading capacities from the given registry.
func NewSolver(registry *Registry, opts ...SolverOption) *Solver {
	s := &Solver{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// claimWindow is one step's claim projected onto the timeline.
type claimWindow struct {
	stepID string
	start  int64
	end    int64
	amount float64
	pos    int // topological position, for deterministic tie-breaks
}

// Detect returns all conflicts in the timeline, resource conflicts first.
// The timeline is not modified.
func (s *Solver) Detect(tl *schedule.Timeline, demands Demands, orderings Orderings) []Conflict {
	conflicts := s.detectResource(tl, demands)
	return append(conflicts, s.detectTemporal(tl, orderings)...)
}

// detectResource scans each resource's claims, sorted by start time, for
// adjacent overlapping windows whose combined amount exceeds capacity.
// Overlapping usage below capacity is legal.
func (s *Solver) detectResource(tl *schedule.Timeline, demands Demands) []Conflict {
	position := make(map[string]int, len(tl.Order))
	for i, id := range tl.Order {
		position[id] = i
	}

	var conflicts []Conflict
	for _, name := range s.registry.Names() {
		resource, _ := s.registry.Get(name)

		var windows []claimWindow
		for _, id := range tl.Order {
			entry := tl.Entry(id)
			if entry == nil {
				continue
			}
			for _, claim := range demands[id] {
				if claim.Resource != name {
					continue
				}
				windows = append(windows, claimWindow{
					stepID: id,
					start:  entry.StartTime,
					end:    entry.EndTime,
					amount: claim.Amount,
					pos:    position[id],
				})
			}
		}

		sort.Slice(windows, func(i, j int) bool {
			if windows[i].start != windows[j].start {
				return windows[i].start < windows[j].start
			}
			return windows[i].pos < windows[j].pos
		})

		for i := 0; i+1 < len(windows); i++ {
			current, next := windows[i], windows[i+1]
			if current.end <= next.start {
				continue
			}
			if current.amount+next.amount <= resource.Capacity {
				continue
			}
			conflicts = append(conflicts, Conflict{
				Kind:        ConflictResource,
				Resource:    name,
				EarlierStep: current.stepID,
				LaterStep:   next.stepID,
				ShiftTo:     current.end,
			})
		}
	}
	return conflicts
}

// detectTemporal reports every declared before-ordering the timeline
// violates: the "before" step must end no later than the "after" step starts.
func (s *Solver) detectTemporal(tl *schedule.Timeline, orderings Orderings) []Conflict {
	var conflicts []Conflict
	for _, id := range tl.Order {
		entry := tl.Entry(id)
		if entry == nil {
			continue
		}
		for _, after := range orderings[id] {
			afterEntry := tl.Entry(after)
			if afterEntry == nil {
				continue
			}
			if entry.EndTime > afterEntry.StartTime {
				conflicts = append(conflicts, Conflict{
					Kind:        ConflictTemporal,
					EarlierStep: id,
					LaterStep:   after,
					ShiftTo:     entry.EndTime,
				})
			}
		}
	}
	return conflicts
}

// Resolve repeatedly detects conflicts and repairs them in place until the
// timeline is conflict-free, re-propagating each shift through the
// dependency graph. It returns the conflicts it resolved, in order.
//
// Resolution never shrinks a step's duration and never moves a step earlier.
func (s *Solver) Resolve(g *graph.Graph, tl *schedule.Timeline, demands Demands, orderings Orderings, deadline int64) ([]Conflict, error) {
	// Each pass strictly moves one step forward, so resolution terminates;
	// the bound is a backstop against a malformed timeline.
	maxPasses := len(tl.Order)*len(tl.Order) + 1

	var resolved []Conflict
	for pass := 0; pass < maxPasses; pass++ {
		conflicts := s.Detect(tl, demands, orderings)
		if len(conflicts) == 0 {
			schedule.Annotate(g, tl, deadline)
			return resolved, nil
		}

		c := conflicts[0]
		s.shift(tl, c.LaterStep, c.ShiftTo)
		s.propagate(g, tl)
		resolved = append(resolved, c)

		s.logger.Debug("resolved scheduling conflict",
			"kind", c.Kind,
			"resource", c.Resource,
			"earlier_step", c.EarlierStep,
			"later_step", c.LaterStep,
			"shifted_to", c.ShiftTo,
		)
	}

	return resolved, types.NewError(
		types.INVALID_SCHEDULE,
		fmt.Sprintf("conflict resolution did not converge after %d passes", maxPasses),
	)
}

// shift moves a step to a new start time, preserving its duration.
func (s *Solver) shift(tl *schedule.Timeline, id string, newStart int64) {
	entry := tl.Entry(id)
	if entry == nil || newStart <= entry.StartTime {
		return
	}
	entry.StartTime = newStart
	entry.EndTime = newStart + entry.Duration
}

// propagate walks the graph in topological order enforcing that every step
// starts no earlier than its latest-finishing dependency. Entries already
// satisfying the invariant are left untouched; propagation only pushes times
// forward.
func (s *Solver) propagate(g *graph.Graph, tl *schedule.Timeline) {
	for _, id := range tl.Order {
		entry := tl.Entry(id)
		if entry == nil {
			continue
		}
		minStart := entry.StartTime
		for _, dep := range g.Dependencies(id) {
			if depEntry := tl.Entry(dep); depEntry != nil && depEntry.EndTime > minStart {
				minStart = depEntry.EndTime
			}
		}
		if minStart > entry.StartTime {
			entry.StartTime = minStart
			entry.EndTime = minStart + entry.Duration
		}
	}
}
