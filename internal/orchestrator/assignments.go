package orchestrator

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Assignments pins tasks to specific worker slots, overriding round-robin
// scheduling. Unpinned tasks schedule normally.
type Assignments map[string]int

// LoadAssignments reads a YAML file mapping task IDs to worker slots.
// An empty path yields an empty map.
func LoadAssignments(path string) (Assignments, error) {
	if path == "" {
		return Assignments{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read assignments %s: %w", path, err)
	}

	var file struct {
		Assignments map[string]int `yaml:"assignments"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse assignments %s: %w", path, err)
	}

	for taskID, workerID := range file.Assignments {
		if workerID < 0 {
			return nil, fmt.Errorf("assignments %s: task %s pinned to negative worker %d", path, taskID, workerID)
		}
	}

	if file.Assignments == nil {
		return Assignments{}, nil
	}
	return file.Assignments, nil
}

// Validate checks that every pinned worker slot is below the pool size and
// every pinned task exists in the given task set.
func (a Assignments) Validate(poolSize int, taskExists func(id string) bool) error {
	for taskID, workerID := range a {
		if workerID >= poolSize {
			return fmt.Errorf("task %s pinned to worker %d but pool has %d workers", taskID, workerID, poolSize)
		}
		if taskExists != nil && !taskExists(taskID) {
			return fmt.Errorf("assignment references unknown task %s", taskID)
		}
	}
	return nil
}
