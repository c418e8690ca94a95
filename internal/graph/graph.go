// Package graph builds and validates the dependency DAG of plan steps.
//
// Steps are held in an arena indexed by dense integers in original step-list
// order, with dependency edges stored as adjacency lists of indices. The
// topological sort is Kahn's algorithm with a FIFO queue, so output order is
// deterministic for identical inputs: ties between ready nodes resolve to
// original step-list order.
package graph

import (
	"fmt"
	"strings"

	"github.com/planforge/planforge/internal/types"
)

// Node is one step's identity and declared dependencies. The graph never
// inspects anything else about a step.
type Node struct {
	ID        string
	DependsOn []string
}

// Graph is the immutable dependency DAG over a plan's steps.
type Graph struct {
	ids        []string
	index      map[string]int
	dependsOn  [][]int
	dependents [][]int

	// missing maps a step id to dependency ids that resolve to no step in
	// the arena. Build records them; Validate reports them.
	missing map[string][]string
}

// Build constructs a graph from the given nodes. Building never fails on its
// own: unknown dependencies and cycles are detected by Validate and TopoSort
// respectively.
func Build(nodes []Node) *Graph {
	g := &Graph{
		ids:        make([]string, len(nodes)),
		index:      make(map[string]int, len(nodes)),
		dependsOn:  make([][]int, len(nodes)),
		dependents: make([][]int, len(nodes)),
		missing:    make(map[string][]string),
	}

	for i, n := range nodes {
		g.ids[i] = n.ID
		g.index[n.ID] = i
	}

	for i, n := range nodes {
		for _, dep := range n.DependsOn {
			j, ok := g.index[dep]
			if !ok {
				g.missing[n.ID] = append(g.missing[n.ID], dep)
				continue
			}
			g.dependsOn[i] = append(g.dependsOn[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}

	return g
}

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int {
	return len(g.ids)
}

// Contains reports whether id is a node in the graph.
func (g *Graph) Contains(id string) bool {
	_, ok := g.index[id]
	return ok
}

// IDs returns the node ids in original step-list order.
func (g *Graph) IDs() []string {
	out := make([]string, len(g.ids))
	copy(out, g.ids)
	return out
}

// Dependencies returns the ids a step directly depends on, in declaration
// order.
func (g *Graph) Dependencies(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.dependsOn[i]))
	for _, j := range g.dependsOn[i] {
		out = append(out, g.ids[j])
	}
	return out
}

// Dependents returns the ids that directly depend on the given step.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(g.dependents[i]))
	for _, j := range g.dependents[i] {
		out = append(out, g.ids[j])
	}
	return out
}

// Validate checks that every declared dependency resolves to a node in the
// graph. Unknown dependencies are a validation error, not a runtime panic.
func (g *Graph) Validate() error {
	if len(g.missing) == 0 {
		return nil
	}
	// Report in original step order so the message is stable.
	for _, id := range g.ids {
		if deps, ok := g.missing[id]; ok {
			return types.NewError(
				types.UNKNOWN_DEPENDENCY,
				fmt.Sprintf("step %s depends on unknown step(s): %s", id, joinIDs(deps)),
			)
		}
	}
	return nil
}

// TopoSort returns the node ids in topological order using Kahn's algorithm.
// If the dependency relation contains a cycle, it returns a
// CIRCULAR_DEPENDENCY error naming the cycle; the plan cannot be scheduled.
func (g *Graph) TopoSort() ([]string, error) {
	n := len(g.ids)
	inDegree := make([]int, n)
	for i := range g.dependsOn {
		inDegree[i] = len(g.dependsOn[i])
	}

	// Seed in original order so equal-in-degree nodes come out FIFO.
	queue := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	order := make([]string, 0, n)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, g.ids[current])

		for _, dep := range g.dependents[current] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(order) != n {
		cycle := g.findCycle()
		return nil, types.NewError(
			types.CIRCULAR_DEPENDENCY,
			fmt.Sprintf("plan cannot be scheduled: circular dependency %s", joinIDs(cycle)),
		)
	}

	return order, nil
}

// findCycle locates one cycle with a depth-first search using color marking.
// Returns the ids along the cycle, or nil if the graph is acyclic.
func (g *Graph) findCycle() []string {
	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // fully explored
	)
	colors := make([]int, len(g.ids))
	parent := make([]int, len(g.ids))
	for i := range parent {
		parent[i] = -1
	}

	var dfs func(i int) []string
	dfs = func(i int) []string {
		colors[i] = gray
		for _, j := range g.dependents[i] {
			switch colors[j] {
			case white:
				parent[j] = i
				if cycle := dfs(j); cycle != nil {
					return cycle
				}
			case gray:
				// Back edge: walk parents from i back to j.
				cycle := []string{g.ids[j]}
				for cur := i; cur != -1 && cur != j; cur = parent[cur] {
					cycle = append([]string{g.ids[cur]}, cycle...)
				}
				cycle = append([]string{g.ids[j]}, cycle...)
				return cycle
			}
		}
		colors[i] = black
		return nil
	}

	for i := range g.ids {
		if colors[i] == white {
			if cycle := dfs(i); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func joinIDs(ids []string) string {
	return strings.Join(ids, " -> ")
}
