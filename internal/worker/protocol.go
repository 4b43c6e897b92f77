// Package worker defines the worker lifecycle state machine, the
// checkpoint signal emitted when an agent nears its context limit, and the
// executor that runs agent subprocesses inside worktrees.
package worker

import (
	"fmt"
	"sync"
)

// State is a worker lifecycle state.
type State string

const (
	// StateIdle means the worker is available for assignment.
	StateIdle State = "IDLE"
	// StateAssigned means a task has been handed to the worker but
	// execution has not started.
	StateAssigned State = "ASSIGNED"
	// StateExecuting means the agent subprocess is running.
	StateExecuting State = "EXECUTING"
	// StateVerifying means the task's verification command is running.
	StateVerifying State = "VERIFYING"
	// StateSelfReview means the worker is reviewing its own output
	// against the acceptance criteria.
	StateSelfReview State = "SELF_REVIEW"
	// StateComplete means the task finished successfully.
	StateComplete State = "COMPLETE"
	// StateFailed means the task failed.
	StateFailed State = "FAILED"
	// StateBlocked means the worker is waiting on an external condition.
	StateBlocked State = "BLOCKED"
	// StateWaiting means the worker paused after emitting a checkpoint.
	StateWaiting State = "WAITING"
)

// ContextCheckpointThreshold is the fraction of context budget at which a
// worker must emit a checkpoint signal.
const ContextCheckpointThreshold = 0.70

// CheckContextThreshold reports whether the given context usage fraction
// requires a checkpoint. The boundary is inclusive.
func CheckContextThreshold(usage float64) bool {
	return usage >= ContextCheckpointThreshold
}

// transitions is the set of legal state transitions. Anything not listed
// is rejected.
var transitions = map[State][]State{
	StateIdle:       {StateAssigned},
	StateAssigned:   {StateExecuting, StateFailed},
	StateExecuting:  {StateVerifying, StateBlocked, StateWaiting, StateFailed},
	StateVerifying:  {StateSelfReview, StateFailed},
	StateSelfReview: {StateComplete, StateExecuting, StateFailed},
	StateBlocked:    {StateExecuting, StateFailed},
	StateWaiting:    {StateExecuting, StateFailed},
	StateComplete:   {StateIdle},
	StateFailed:     {StateIdle},
}

// TransitionError reports an illegal state transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal worker transition %s -> %s", e.From, e.To)
}

// Protocol tracks one worker's position in the lifecycle and enforces the
// transition table.
type Protocol struct {
	mu       sync.Mutex
	workerID int
	state    State
	taskID   string
}

// NewProtocol creates a Protocol for the worker, starting idle.
func NewProtocol(workerID int) *Protocol {
	return &Protocol{workerID: workerID, state: StateIdle}
}

// WorkerID returns the worker this protocol tracks.
func (p *Protocol) WorkerID() int {
	return p.workerID
}

// State returns the current state.
func (p *Protocol) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// TaskID returns the task currently assigned, empty if none.
func (p *Protocol) TaskID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.taskID
}

// CanAcceptTask reports whether the worker can take a new assignment.
// Only idle workers accept tasks.
func (p *Protocol) CanAcceptTask() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateIdle
}

// Assign moves the worker from idle to assigned with the given task.
func (p *Protocol) Assign(taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.transitionLocked(StateAssigned); err != nil {
		return err
	}
	p.taskID = taskID
	return nil
}

// Transition moves the worker to the target state if the transition table
// allows it. The state is unchanged on error. Returning to idle clears the
// assigned task.
func (p *Protocol) Transition(to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transitionLocked(to)
}

func (p *Protocol) transitionLocked(to State) error {
	for _, allowed := range transitions[p.state] {
		if allowed == to {
			p.state = to
			if to == StateIdle {
				p.taskID = ""
			}
			return nil
		}
	}
	return &TransitionError{From: p.state, To: to}
}
