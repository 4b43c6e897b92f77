package models

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is being worked on.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusComplete indicates the task completed successfully.
	TaskStatusComplete TaskStatus = "complete"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBlocked indicates the task cannot proceed.
	TaskStatusBlocked TaskStatus = "blocked"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusComplete, TaskStatusFailed, TaskStatusBlocked:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a terminal state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusComplete || s == TaskStatusFailed || s == TaskStatusBlocked
}

// FileSet declares the file paths a task intends to touch.
// Create and Modify paths are write claims; Read paths are informational.
type FileSet struct {
	Create []string `json:"create,omitempty"`
	Modify []string `json:"modify,omitempty"`
	Read   []string `json:"read,omitempty"`
}

// WriteSet returns the union of Create and Modify paths.
func (f FileSet) WriteSet() []string {
	out := make([]string, 0, len(f.Create)+len(f.Modify))
	out = append(out, f.Create...)
	out = append(out, f.Modify...)
	return out
}

// Verification describes how a task's output is checked after execution.
type Verification struct {
	// Command is a shell command run in the worker's worktree.
	Command string `json:"command,omitempty"`
	// TimeoutSeconds bounds the verification command's runtime.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// Task represents a unit of work in the system.
// Tasks are created once from the loaded graph; only Status is mutated after.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Title is the short description of the task.
	Title string `json:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty"`
	// Level is the author-assigned execution level. All tasks in level N
	// must terminate before any task in level N+1 is assigned.
	Level int `json:"level"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"dependencies,omitempty"`
	// Files declares the paths this task will create, modify, or read.
	Files FileSet `json:"files"`
	// AcceptanceCriteria defines the criteria for task completion.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	// Verification describes how completed work is checked.
	Verification Verification `json:"verification"`
	// AgentsRequired lists capabilities the executing worker must have.
	AgentsRequired []string `json:"agents_required,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
}
