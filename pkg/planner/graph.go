package planner

import (
	"errors"
	"fmt"

	"github.com/jllopis/orchestra/pkg/core"
)

// ErrCycleDetected indicates a circular dependency in a task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// Validate ensures a task list is a well-formed dependency graph: ids are
// unique, every dependency names a task in the list, and there are no cycles.
func Validate(tasks []*core.AgentTask) error {
	if len(tasks) == 0 {
		return fmt.Errorf("task graph is empty")
	}
	nodes := make(map[string]*core.AgentTask, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("task id is required")
		}
		if _, dup := nodes[t.ID]; dup {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		nodes[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := nodes[dep]; !ok {
				return fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
			}
		}
	}

	// 0 unvisited, 1 on the current path, 2 done.
	colors := make(map[string]int, len(tasks))
	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, dep := range nodes[id].Dependencies {
			switch colors[dep] {
			case 1:
				return true
			case 0:
				if visit(dep) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}
	for _, t := range tasks {
		if colors[t.ID] == 0 && visit(t.ID) {
			return fmt.Errorf("task %s: %w", t.ID, ErrCycleDetected)
		}
	}
	return nil
}

// Depths returns each task's phase depth, its dependency count plus one.
func Depths(tasks []*core.AgentTask) map[string]int {
	out := make(map[string]int, len(tasks))
	for _, t := range tasks {
		out[t.ID] = len(t.Dependencies) + 1
	}
	return out
}
