package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/ShayCichocki/fleet/internal/worker"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// ExecutionState is the on-disk checkpoint written after every level. It
// carries everything needed to resume a run without repeating completed
// work.
type ExecutionState struct {
	RunID        string                     `json:"run_id"`
	Feature      string                     `json:"feature"`
	StartedAt    time.Time                  `json:"started_at"`
	CurrentLevel int                        `json:"current_level"`
	Tasks        map[string]TaskState       `json:"tasks"`
	Workers      map[string]WorkerState     `json:"workers"`
	Checkpoints  []*worker.CheckpointSignal `json:"checkpoints,omitempty"`
}

// TaskState is the persisted state of one task.
type TaskState struct {
	Status      models.TaskStatus `json:"status"`
	WorkerID    int               `json:"worker_id"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// WorkerState is the persisted state of one worker.
type WorkerState struct {
	Status models.WorkerStatus `json:"status"`
	TaskID string              `json:"task_id,omitempty"`
	Branch string              `json:"branch,omitempty"`
}

// validate rejects checkpoints that would corrupt a resumed run.
func (s *ExecutionState) validate() error {
	if s.Feature == "" {
		return fmt.Errorf("checkpoint has no feature")
	}
	if s.CurrentLevel < 0 {
		return fmt.Errorf("checkpoint has negative current_level %d", s.CurrentLevel)
	}
	if s.Tasks == nil {
		return fmt.Errorf("checkpoint has no tasks section")
	}
	for id, ts := range s.Tasks {
		if !ts.Status.Valid() {
			return fmt.Errorf("checkpoint task %s has invalid status %q", id, ts.Status)
		}
	}
	return nil
}

// CheckpointPath returns the checkpoint file location under stateDir for
// the given feature.
func CheckpointPath(stateDir, feature string) string {
	return filepath.Join(stateDir, fmt.Sprintf("checkpoint-%s.json", feature))
}

// SaveCheckpoint atomically writes the execution state. The data is
// written to a temp file in the same directory, fsynced, then renamed over
// the destination, so a crash mid-write never leaves a truncated
// checkpoint. A file lock guards against two fleet processes writing the
// same checkpoint.
func SaveCheckpoint(path string, state *ExecutionState) error {
	if err := state.validate(); err != nil {
		return fmt.Errorf("refusing to save invalid checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock checkpoint: %w", err)
	}
	if !locked {
		return fmt.Errorf("checkpoint %s is locked by another process", path)
	}
	defer lock.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// LoadCheckpoint reads and validates a checkpoint file.
func LoadCheckpoint(path string) (*ExecutionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	state := &ExecutionState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if err := state.validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint %s: %w", path, err)
	}
	return state, nil
}
