package orchestrator

import (
	"fmt"
	"time"

	"github.com/ShayCichocki/fleet/internal/worker"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// Status is a read-only snapshot of run progress.
type Status struct {
	RunID        string
	Feature      string
	State        State
	CurrentLevel int
	TotalLevels  int
	Completed    int
	Failed       int
	Running      int
	Pending      int
	StartedAt    time.Time
}

// GetStatus returns a snapshot of the run. It never mutates state and is
// safe to call from any goroutine.
func (o *Orchestrator) GetStatus() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		RunID:        o.runID,
		Feature:      o.cfg.Feature,
		State:        o.state,
		CurrentLevel: o.currentLevel,
		TotalLevels:  o.cfg.Graph.LevelCount(),
		StartedAt:    o.startedAt,
	}
	for _, ts := range o.taskStates {
		switch ts.Status {
		case models.TaskStatusComplete:
			s.Completed++
		case models.TaskStatusFailed:
			s.Failed++
		case models.TaskStatusRunning:
			s.Running++
		default:
			s.Pending++
		}
	}
	return s
}

// TaskStates returns a copy of the per-task state map.
func (o *Orchestrator) TaskStates() map[string]TaskState {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]TaskState, len(o.taskStates))
	for id, ts := range o.taskStates {
		out[id] = ts
	}
	return out
}

// saveCheckpoint persists the current execution state with the given
// resume level.
func (o *Orchestrator) saveCheckpoint(resumeLevel int) error {
	o.mu.Lock()
	st := &ExecutionState{
		RunID:        o.runID,
		Feature:      o.cfg.Feature,
		StartedAt:    o.startedAt,
		CurrentLevel: resumeLevel,
		Tasks:        make(map[string]TaskState, len(o.taskStates)),
		Workers:      make(map[string]WorkerState, len(o.workers)),
		Checkpoints:  append([]*worker.CheckpointSignal(nil), o.checkpoints...),
	}
	for id, ts := range o.taskStates {
		st.Tasks[id] = ts
	}
	for _, p := range o.workers {
		ws := WorkerState{Status: models.WorkerIdle, TaskID: p.TaskID()}
		if ws.TaskID != "" {
			ws.Status = models.WorkerBusy
		}
		st.Workers[workerKey(p.WorkerID())] = ws
	}
	o.mu.Unlock()

	return SaveCheckpoint(CheckpointPath(o.cfg.StateDir, o.cfg.Feature), st)
}

// restoreCheckpoint loads the feature's checkpoint and restores run
// progress, returning the level to resume at.
func (o *Orchestrator) restoreCheckpoint() (int, error) {
	st, err := LoadCheckpoint(CheckpointPath(o.cfg.StateDir, o.cfg.Feature))
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.runID = st.RunID
	if o.runID == "" {
		o.runID = newRunID()
	}
	o.startedAt = st.StartedAt
	o.currentLevel = st.CurrentLevel
	o.checkpoints = st.Checkpoints

	for _, t := range o.cfg.Graph.Tasks() {
		if ts, ok := st.Tasks[t.ID]; ok {
			// Interrupted tasks rerun from scratch.
			if ts.Status == models.TaskStatusRunning {
				ts.Status = models.TaskStatusPending
			}
			o.taskStates[t.ID] = ts
		} else {
			o.taskStates[t.ID] = TaskState{Status: models.TaskStatusPending}
		}
	}

	return st.CurrentLevel, nil
}

// workerKey is the map key used for workers in the checkpoint schema.
func workerKey(id int) string {
	return fmt.Sprintf("worker-%d", id)
}
