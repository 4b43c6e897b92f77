package graph

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ShayCichocki/fleet/pkg/models"
)

// graphFile is the on-disk schema of a task graph file.
type graphFile struct {
	Tasks  []taskDescriptor           `json:"tasks"`
	Levels map[string]json.RawMessage `json:"levels,omitempty"`
}

// taskDescriptor mirrors models.Task but keeps load-time concerns
// (validation, defaulting) out of the runtime type.
type taskDescriptor struct {
	ID                 string              `json:"id"`
	Title              string              `json:"title"`
	Description        string              `json:"description,omitempty"`
	Level              *int                `json:"level"`
	Dependencies       []string            `json:"dependencies,omitempty"`
	Files              models.FileSet      `json:"files"`
	AcceptanceCriteria []string            `json:"acceptance_criteria,omitempty"`
	Verification       models.Verification `json:"verification"`
	AgentsRequired     []string            `json:"agents_required,omitempty"`
}

// Load reads and validates a task graph file, then constructs the graph.
// Malformed or schema-invalid input is a fatal load-time error; nothing
// executes after a failed load.
func Load(path string) (*TaskGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task graph %s: %w", path, err)
	}

	var file graphFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse task graph %s: %w", path, err)
	}

	tasks, err := file.validate()
	if err != nil {
		return nil, fmt.Errorf("invalid task graph %s: %w", path, err)
	}

	return New(tasks)
}

// validate checks the descriptors against the schema and converts them to
// runtime tasks with status pending.
func (f *graphFile) validate() ([]*models.Task, error) {
	if len(f.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks defined")
	}

	tasks := make([]*models.Task, 0, len(f.Tasks))
	for i, d := range f.Tasks {
		if d.ID == "" {
			return nil, fmt.Errorf("task at index %d has no id", i)
		}
		if d.Title == "" {
			return nil, fmt.Errorf("task %s has no title", d.ID)
		}
		if d.Level == nil {
			return nil, fmt.Errorf("task %s has no level", d.ID)
		}
		if *d.Level < 0 {
			return nil, fmt.Errorf("task %s has negative level %d", d.ID, *d.Level)
		}
		if d.Verification.TimeoutSeconds < 0 {
			return nil, fmt.Errorf("task %s has negative verification timeout", d.ID)
		}

		tasks = append(tasks, &models.Task{
			ID:                 d.ID,
			Title:              d.Title,
			Description:        d.Description,
			Level:              *d.Level,
			DependsOn:          d.Dependencies,
			Files:              d.Files,
			AcceptanceCriteria: d.AcceptanceCriteria,
			Verification:       d.Verification,
			AgentsRequired:     d.AgentsRequired,
			Status:             models.TaskStatusPending,
		})
	}

	return tasks, nil
}
