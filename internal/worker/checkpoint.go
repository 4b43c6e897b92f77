package worker

import "time"

// CheckpointSignal is emitted by a worker when its context usage crosses
// the checkpoint threshold. It carries enough progress detail for a
// replacement worker to resume the task without repeating finished work.
type CheckpointSignal struct {
	TaskID        string            `json:"task_id"`
	WorkerID      int               `json:"worker_id"`
	Timestamp     time.Time         `json:"timestamp"`
	FilesCreated  []string          `json:"files_created,omitempty"`
	FilesModified []string          `json:"files_modified,omitempty"`
	CurrentStep   int               `json:"current_step"`
	StateData     map[string]string `json:"state_data,omitempty"`
}

// NewCheckpointSignal creates a checkpoint signal stamped with the current
// time.
func NewCheckpointSignal(taskID string, workerID int) *CheckpointSignal {
	return &CheckpointSignal{
		TaskID:    taskID,
		WorkerID:  workerID,
		Timestamp: time.Now(),
		StateData: make(map[string]string),
	}
}
