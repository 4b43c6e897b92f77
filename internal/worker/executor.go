package worker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ShayCichocki/fleet/internal/exec"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// Result is the outcome of executing one task.
type Result struct {
	// Success indicates the agent and verification both succeeded.
	Success bool
	// Error holds the failure detail when Success is false.
	Error string
	// FilesCreated lists files the agent reported creating.
	FilesCreated []string
	// FilesModified lists files the agent reported modifying.
	FilesModified []string
	// ContextUsage is the agent's reported context fraction, 0 if unknown.
	ContextUsage float64
}

// Executor runs a task inside a worktree and reports the outcome.
type Executor interface {
	Execute(ctx context.Context, task *models.Task, workDir string) (*Result, error)
}

// SubprocessExecutor runs the configured agent command as a subprocess in
// the worker's worktree, then runs the task's verification command. The
// agent command is opaque; task identity is passed through the
// environment.
type SubprocessExecutor struct {
	runner  exec.CommandRunner
	command string
}

// NewSubprocessExecutor creates an executor that runs command via the
// shell for each task.
func NewSubprocessExecutor(runner exec.CommandRunner, command string) *SubprocessExecutor {
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &SubprocessExecutor{runner: runner, command: command}
}

// Execute runs the agent command and then the task's verification command.
// A non-zero exit from either produces a failed Result rather than an
// error; errors are reserved for the executor itself malfunctioning.
func (e *SubprocessExecutor) Execute(ctx context.Context, task *models.Task, workDir string) (*Result, error) {
	if e.command == "" {
		return nil, fmt.Errorf("no agent command configured")
	}

	cmd := fmt.Sprintf("FLEET_TASK_ID=%q FLEET_TASK_TITLE=%q %s", task.ID, task.Title, e.command)
	output, err := e.runner.RunShell(ctx, workDir, cmd)
	if err != nil {
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("agent command failed: %v: %s", err, truncate(output)),
		}, nil
	}

	if task.Verification.Command != "" {
		if vr := e.verify(ctx, task, workDir); vr != nil {
			return vr, nil
		}
	}

	return &Result{Success: true}, nil
}

// verify runs the verification command with the task's timeout. Returns a
// failed Result on verification failure, nil on success.
func (e *SubprocessExecutor) verify(ctx context.Context, task *models.Task, workDir string) *Result {
	vctx := ctx
	if task.Verification.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		vctx, cancel = context.WithTimeout(ctx, time.Duration(task.Verification.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	output, err := e.runner.RunShell(vctx, workDir, task.Verification.Command)
	if err == nil {
		return nil
	}

	if vctx.Err() == context.DeadlineExceeded {
		log.Printf("[worker] task %s verification timed out after %ds", task.ID, task.Verification.TimeoutSeconds)
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("verification timed out after %ds", task.Verification.TimeoutSeconds),
		}
	}

	return &Result{
		Success: false,
		Error:   fmt.Sprintf("verification failed: %v: %s", err, truncate(output)),
	}
}

// truncate caps command output embedded in error strings.
func truncate(output []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(output))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// Verify SubprocessExecutor implements Executor at compile time.
var _ Executor = (*SubprocessExecutor)(nil)
