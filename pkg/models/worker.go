package models

import "time"

// WorkerStatus represents the coarse lifecycle state of a worker slot
// as seen by external observers. The fine-grained task-lifecycle state
// machine lives with the worker protocol.
type WorkerStatus string

const (
	// WorkerIdle indicates the worker has no task assigned.
	WorkerIdle WorkerStatus = "idle"
	// WorkerBusy indicates the worker is executing a task.
	WorkerBusy WorkerStatus = "busy"
	// WorkerUnavailable indicates the worker's circuit breaker is open.
	WorkerUnavailable WorkerStatus = "unavailable"
	// WorkerStopped indicates the worker has been shut down.
	WorkerStopped WorkerStatus = "stopped"
)

// Worker describes one worker slot in the fleet.
type Worker struct {
	// ID is the slot index, stable for the lifetime of the run.
	ID int `json:"id"`
	// Status is the externally visible state of the slot.
	Status WorkerStatus `json:"status"`
	// TaskID is the task currently assigned, if any.
	TaskID string `json:"task_id,omitempty"`
	// Branch is the worker's isolation branch, if a worktree exists.
	Branch string `json:"branch,omitempty"`
	// StartedAt is when the current task started, if any.
	StartedAt time.Time `json:"started_at,omitempty"`
}
