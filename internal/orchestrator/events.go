package orchestrator

import "time"

// EventType identifies what happened during a run.
type EventType string

const (
	// EventRunStarted fires when the run loop begins executing levels.
	EventRunStarted EventType = "run_started"
	// EventTaskStarted fires when a task is handed to a worker.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted fires when a task finishes successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed fires when a task fails.
	EventTaskFailed EventType = "task_failed"
	// EventLevelMerged fires after a level's branches merge into base.
	EventLevelMerged EventType = "level_merged"
	// EventCheckpointSaved fires after the execution state is persisted.
	EventCheckpointSaved EventType = "checkpoint_saved"
	// EventCircuitOpened fires when a worker's circuit opens.
	EventCircuitOpened EventType = "circuit_opened"
	// EventWorkerCheckpoint fires when a worker signals a context
	// checkpoint.
	EventWorkerCheckpoint EventType = "worker_checkpoint"
	// EventRunDone fires when the run reaches a terminal state.
	EventRunDone EventType = "run_done"
)

// Event is a progress notification emitted by the orchestrator.
type Event struct {
	Type      EventType
	Timestamp time.Time
	TaskID    string
	WorkerID  int
	Level     int
	Message   string
}

// emitEvent sends an event to the listener channel without blocking the
// run loop. Events are dropped when the listener falls behind.
func (o *Orchestrator) emitEvent(e Event) {
	if o.events == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case o.events <- e:
	default:
	}
}
