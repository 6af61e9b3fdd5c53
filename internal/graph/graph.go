// Package graph builds the task dependency DAG and computes parallel-safe
// execution plans: stages ordered by dependency depth, partitioned into
// same-team groups sized by strategy.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jcushman97/MAOFinal/pkg/models"
)

// ErrCycleDetected indicates a circular dependency in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrUnknownDependency indicates a depends_on reference to a task that
// does not exist.
var ErrUnknownDependency = errors.New("unknown dependency")

// DependencyGraph is a directed acyclic graph of task dependencies.
// Edges point from a task to the tasks it depends on.
type DependencyGraph struct {
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to the IDs it is blocked by.
	edges map[string][]string
}

// Build constructs the graph from a task slice. It fails with
// ErrUnknownDependency for dangling references and ErrCycleDetected for
// circular dependencies.
func Build(tasks []*models.Task) (*DependencyGraph, error) {
	g := &DependencyGraph{
		nodes: make(map[string]*models.Task, len(tasks)),
		edges: make(map[string][]string, len(tasks)),
	}

	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}
	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return nil, fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if g.HasCycle() {
		return nil, ErrCycleDetected
	}
	return g, nil
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	return len(g.nodes)
}

// Task returns the task for a given ID, or nil.
func (g *DependencyGraph) Task(id string) *models.Task {
	return g.nodes[id]
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	var out []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// HasCycle returns true if the graph contains a circular dependency.
// Depth-first search with three-color marking to detect back edges.
func (g *DependencyGraph) HasCycle() bool {
	// 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// Depths computes each task's longest-path depth via Kahn's algorithm:
// depth 0 for tasks with no dependencies, otherwise 1 + max dependency
// depth. Call only on an acyclic graph.
func (g *DependencyGraph) Depths() map[string]int {
	indegree := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for id, deps := range g.edges {
		indegree[id] = len(deps)
		for _, depID := range deps {
			dependents[depID] = append(dependents[depID], id)
		}
	}

	var frontier []string
	for id, n := range indegree {
		if n == 0 {
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	depths := make(map[string]int, len(g.nodes))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if _, ok := depths[id]; !ok {
			depths[id] = 0
		}
		for _, dep := range dependents[id] {
			if d := depths[id] + 1; d > depths[dep] {
				depths[dep] = d
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				frontier = append(frontier, dep)
			}
		}
	}
	return depths
}
