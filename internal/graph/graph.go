// Package graph provides the dependency-ordered task graph the
// orchestrator schedules from.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ShayCichocki/fleet/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// CycleError reports the dependency cycle found during construction.
// It wraps ErrCycleDetected so callers can match with errors.Is.
type CycleError struct {
	// Path lists the task IDs along the cycle, starting and ending at
	// the same task.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency detected: %s", strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

// OwnershipConflict reports a file path claimed for writing by two tasks.
type OwnershipConflict struct {
	Path    string
	TaskIDs [2]string
}

func (c OwnershipConflict) String() string {
	return fmt.Sprintf("%s claimed by tasks %s and %s", c.Path, c.TaskIDs[0], c.TaskIDs[1])
}

// TaskGraph is a directed acyclic graph of tasks with author-assigned
// execution levels. Acyclicity is enforced at construction; file-ownership
// safety is a separate explicit check (ValidateFileOwnership).
type TaskGraph struct {
	mu sync.RWMutex
	// tasks maps task ID to the task itself.
	tasks map[string]*models.Task
	// order holds task IDs in deterministic (sorted) order.
	order []string
	// dependents maps a task ID to the IDs of tasks that depend on it.
	dependents map[string][]string
	// levelCount is max(level)+1 across all tasks.
	levelCount int
}

// New builds a TaskGraph from the given tasks. It fails if a dependency
// references an unknown task, if a dependency's level is not strictly
// lower than the dependent's (such an edge can never be satisfied under
// level-barrier execution), or if the dependency graph contains a cycle.
// Construction is atomic: on any error no graph is returned.
func New(tasks []*models.Task) (*TaskGraph, error) {
	g := &TaskGraph{
		tasks:      make(map[string]*models.Task, len(tasks)),
		dependents: make(map[string][]string),
	}

	for _, task := range tasks {
		if _, dup := g.tasks[task.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %s", task.ID)
		}
		g.tasks[task.ID] = task
		g.order = append(g.order, task.ID)
		if task.Level+1 > g.levelCount {
			g.levelCount = task.Level + 1
		}
	}
	sort.Strings(g.order)

	for _, task := range tasks {
		for _, depID := range task.DependsOn {
			dep, exists := g.tasks[depID]
			if !exists {
				return nil, fmt.Errorf("task %s depends on unknown task %s", task.ID, depID)
			}
			if dep.Level >= task.Level {
				return nil, fmt.Errorf("task %s (level %d) depends on task %s (level %d): dependencies must be strictly lower-leveled",
					task.ID, task.Level, depID, dep.Level)
			}
			g.dependents[depID] = append(g.dependents[depID], task.ID)
		}
	}

	if path := g.findCycle(); path != nil {
		return nil, &CycleError{Path: path}
	}

	return g, nil
}

// findCycle runs an iterative three-color depth-first search over the
// dependency edges. It returns the cycle path if one exists, nil otherwise.
// An explicit stack is used instead of recursion so arbitrarily deep
// dependency chains cannot overflow the goroutine stack.
func (g *TaskGraph) findCycle() []string {
	const (
		white = iota // unvisited
		gray         // on the current DFS path
		black        // fully processed
	)

	ordinal := make(map[string]int, len(g.order))
	for i, id := range g.order {
		ordinal[id] = i
	}
	colors := make([]int, len(g.order))

	type frame struct {
		id      string
		nextDep int
	}

	for _, root := range g.order {
		if colors[ordinal[root]] != white {
			continue
		}

		stack := []frame{{id: root}}
		colors[ordinal[root]] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.tasks[top.id].DependsOn

			if top.nextDep >= len(deps) {
				colors[ordinal[top.id]] = black
				stack = stack[:len(stack)-1]
				continue
			}

			depID := deps[top.nextDep]
			top.nextDep++

			switch colors[ordinal[depID]] {
			case gray:
				// Back edge: the cycle is the stack segment from depID
				// to the top, closed back on depID.
				var path []string
				start := 0
				for i, fr := range stack {
					if fr.id == depID {
						start = i
						break
					}
				}
				for _, fr := range stack[start:] {
					path = append(path, fr.id)
				}
				return append(path, depID)
			case white:
				colors[ordinal[depID]] = gray
				stack = append(stack, frame{id: depID})
			}
		}
	}

	return nil
}

// GetReadyTasks returns tasks not yet completed whose dependencies are all
// in completed. This is the per-tick scheduling query.
func (g *TaskGraph) GetReadyTasks(completed map[string]bool) []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.Task
	for _, id := range g.order {
		if completed[id] {
			continue
		}
		task := g.tasks[id]
		satisfied := true
		for _, depID := range task.DependsOn {
			if !completed[depID] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, task)
		}
	}
	return ready
}

// GetLevelTasks returns the tasks whose author-assigned level matches.
func (g *TaskGraph) GetLevelTasks(level int) []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*models.Task
	for _, id := range g.order {
		if g.tasks[id].Level == level {
			out = append(out, g.tasks[id])
		}
	}
	return out
}

// ValidateFileOwnership scans every task's create+modify claims and reports
// each path claimed by more than one task. A graph can be acyclic yet unsafe
// for parallel execution if two tasks would race on the same file across
// independent worktrees.
func (g *TaskGraph) ValidateFileOwnership() []OwnershipConflict {
	g.mu.RLock()
	defer g.mu.RUnlock()

	owners := make(map[string]string)
	var conflicts []OwnershipConflict
	for _, id := range g.order {
		for _, path := range g.tasks[id].Files.WriteSet() {
			if prev, claimed := owners[path]; claimed && prev != id {
				conflicts = append(conflicts, OwnershipConflict{
					Path:    path,
					TaskIDs: [2]string{prev, id},
				})
				continue
			}
			owners[path] = id
		}
	}
	return conflicts
}

// Task returns the task for a given ID, or nil if not found.
func (g *TaskGraph) Task(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tasks[taskID]
}

// Tasks returns all tasks in deterministic order.
func (g *TaskGraph) Tasks() []*models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *TaskGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.dependents[taskID]
}

// LevelCount returns max(level)+1 across all tasks.
func (g *TaskGraph) LevelCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.levelCount
}

// Size returns the number of tasks in the graph.
func (g *TaskGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.tasks)
}
