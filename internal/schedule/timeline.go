// Package schedule turns a dependency graph plus per-step durations into an
// earliest-start-time timeline with slack and critical-path annotations.
//
// All times are absolute epoch milliseconds. Durations are non-negative; a
// zero duration is legal and yields startTime == endTime.
package schedule

import (
	"encoding/json"
	"fmt"

	"github.com/planforge/planforge/internal/graph"
	"github.com/planforge/planforge/internal/temporal"
	"github.com/planforge/planforge/internal/types"
)

// Task carries the scheduling metadata for one step.
type Task struct {
	ID        string
	Duration  int64 // estimated duration in ms, >= 0
	NotBefore int64 // earliest permitted start in epoch ms, 0 = unconstrained
}

// Entry is one step's slot in the timeline.
type Entry struct {
	StepID    string `json:"step_id"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Duration  int64  `json:"duration"`
	Slack     int64  `json:"slack"`
}

// Timeline is the complete schedule for a plan. Entries are keyed by step id;
// Order preserves the topological order used during generation, which also
// fixes the JSON serialization order.
type Timeline struct {
	Entries      map[string]*Entry
	Order        []string
	StartTime    int64
	EndTime      int64
	CriticalPath []string
}

// Entry returns the schedule entry for a step, or nil if absent.
func (t *Timeline) Entry(id string) *Entry {
	return t.Entries[id]
}

// Generate computes the earliest-start schedule for the graph.
//
// Steps are processed in topological order. Each step starts at the later of
// the plan start time, the end of its latest-finishing dependency, and its
// own notBefore constraint. Slack is computed against the earliest start of
// the step's dependents, or the deadline (when declared) for steps with no
// dependents; steps with zero slack form the critical path.
//
// A zero deadline means no deadline is declared. Generation fails on cycles
// and on tasks with negative or missing durations; deadline feasibility is
// checked separately by Validate.
func Generate(g *graph.Graph, tasks map[string]Task, startTime, deadline int64) (*Timeline, error) {
	order, err := g.TopoSort()
	if err != nil {
		return nil, err
	}

	tl := &Timeline{
		Entries:   make(map[string]*Entry, len(order)),
		Order:     order,
		StartTime: startTime,
		EndTime:   startTime,
	}

	for _, id := range order {
		task, ok := tasks[id]
		if !ok {
			return nil, types.NewError(types.INVALID_SCHEDULE, fmt.Sprintf("no task metadata for step %s", id))
		}
		if task.Duration < 0 {
			return nil, types.NewError(types.INVALID_SCHEDULE, fmt.Sprintf("step %s has negative duration %d", id, task.Duration))
		}

		earliest := startTime
		for _, dep := range g.Dependencies(id) {
			earliest = temporal.MaxMillis(earliest, tl.Entries[dep].EndTime)
		}
		if task.NotBefore > 0 {
			earliest = temporal.MaxMillis(earliest, task.NotBefore)
		}

		entry := &Entry{
			StepID:    id,
			StartTime: earliest,
			EndTime:   earliest + task.Duration,
			Duration:  task.Duration,
		}
		tl.Entries[id] = entry
		tl.EndTime = temporal.MaxMillis(tl.EndTime, entry.EndTime)
	}

	Annotate(g, tl, deadline)
	return tl, nil
}

// Annotate recomputes the timeline end, per-entry slack, and critical path
// after entries have been shifted (for example by conflict resolution).
// Start and end times of individual entries are left untouched.
func Annotate(g *graph.Graph, tl *Timeline, deadline int64) {
	tl.EndTime = tl.StartTime
	for _, id := range tl.Order {
		tl.EndTime = temporal.MaxMillis(tl.EndTime, tl.Entries[id].EndTime)
	}
	computeSlack(g, tl, deadline)
}

// computeSlack fills in per-entry slack and the critical path. The latest
// finish of a step is the earliest start among its dependents; steps with no
// dependents are bounded by the deadline when one is declared, otherwise by
// the timeline end.
func computeSlack(g *graph.Graph, tl *Timeline, deadline int64) {
	tl.CriticalPath = tl.CriticalPath[:0]

	for _, id := range tl.Order {
		entry := tl.Entries[id]
		dependents := g.Dependents(id)

		var latestFinish int64
		if len(dependents) == 0 {
			latestFinish = tl.EndTime
			if deadline > 0 {
				latestFinish = deadline
			}
		} else {
			latestFinish = tl.Entries[dependents[0]].StartTime
			for _, dep := range dependents[1:] {
				if s := tl.Entries[dep].StartTime; s < latestFinish {
					latestFinish = s
				}
			}
		}

		entry.Slack = temporal.Slack(latestFinish, entry.EndTime)
		if entry.Slack == 0 {
			tl.CriticalPath = append(tl.CriticalPath, id)
		}
	}
}

// Validate checks the timeline against a plan deadline. A zero deadline
// always validates. Infeasible timelines are reported here, before any
// execution begins, never discovered mid-run.
func Validate(tl *Timeline, deadline int64) error {
	if temporal.Feasible(tl.EndTime, deadline) {
		return nil
	}
	return types.NewError(
		types.DEADLINE_EXCEEDED,
		fmt.Sprintf("timeline ends at %d, %dms past deadline %d", tl.EndTime, tl.EndTime-deadline, deadline),
	)
}

// timelineJSON is the wire form of a Timeline. The entries map is flattened
// to an array in topological order so the serialization is stable and the
// plan store never persists Go maps directly.
type timelineJSON struct {
	StartTime    int64    `json:"start_time"`
	EndTime      int64    `json:"end_time"`
	Entries      []*Entry `json:"entries"`
	CriticalPath []string `json:"critical_path,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (t *Timeline) MarshalJSON() ([]byte, error) {
	out := timelineJSON{
		StartTime:    t.StartTime,
		EndTime:      t.EndTime,
		Entries:      make([]*Entry, 0, len(t.Order)),
		CriticalPath: t.CriticalPath,
	}
	for _, id := range t.Order {
		if entry, ok := t.Entries[id]; ok {
			out.Entries = append(out.Entries, entry)
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler, rebuilding the entries map and
// order from the serialized array.
func (t *Timeline) UnmarshalJSON(data []byte) error {
	var in timelineJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	t.StartTime = in.StartTime
	t.EndTime = in.EndTime
	t.CriticalPath = in.CriticalPath
	t.Order = make([]string, 0, len(in.Entries))
	t.Entries = make(map[string]*Entry, len(in.Entries))
	for _, entry := range in.Entries {
		t.Order = append(t.Order, entry.StepID)
		t.Entries[entry.StepID] = entry
	}
	return nil
}
