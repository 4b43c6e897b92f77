package worker

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/ShayCichocki/fleet/pkg/models"
)

// fakeRunner records shell commands and returns configured outcomes.
type fakeRunner struct {
	commands []string
	fail     map[string]error
}

func (f *fakeRunner) Run(ctx context.Context, workDir, name string, args ...string) ([]byte, error) {
	return f.RunShell(ctx, workDir, name+" "+strings.Join(args, " "))
}

func (f *fakeRunner) RunShell(ctx context.Context, workDir, command string) ([]byte, error) {
	f.commands = append(f.commands, command)
	for substr, err := range f.fail {
		if strings.Contains(command, substr) {
			return []byte("boom"), err
		}
	}
	return []byte("ok"), nil
}

func TestExecuteRunsAgentAndVerification(t *testing.T) {
	runner := &fakeRunner{}
	e := NewSubprocessExecutor(runner, "my-agent")

	task := &models.Task{
		ID:    "task-a",
		Title: "Create auth",
		Verification: models.Verification{
			Command:        "go test ./...",
			TimeoutSeconds: 30,
		},
	}

	result, err := e.Execute(context.Background(), task, "/work")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("result not successful: %s", result.Error)
	}
	if len(runner.commands) != 2 {
		t.Fatalf("ran %d commands, want agent + verification: %v", len(runner.commands), runner.commands)
	}
	if !strings.Contains(runner.commands[0], "my-agent") {
		t.Fatalf("first command = %q, want agent invocation", runner.commands[0])
	}
	if !strings.Contains(runner.commands[0], `FLEET_TASK_ID="task-a"`) {
		t.Fatalf("agent command missing task id: %q", runner.commands[0])
	}
	if runner.commands[1] != "go test ./..." {
		t.Fatalf("second command = %q, want verification", runner.commands[1])
	}
}

func TestExecuteAgentFailureIsResultNotError(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{"my-agent": fmt.Errorf("exit status 1")}}
	e := NewSubprocessExecutor(runner, "my-agent")

	result, err := e.Execute(context.Background(), &models.Task{ID: "a", Title: "A"}, "/work")
	if err != nil {
		t.Fatalf("Execute() error = %v, want failed result instead", err)
	}
	if result.Success {
		t.Fatal("result should not be successful")
	}
	if result.Error == "" {
		t.Fatal("failed result should carry a reason")
	}
}

func TestExecuteVerificationFailure(t *testing.T) {
	runner := &fakeRunner{fail: map[string]error{"go test": fmt.Errorf("exit status 2")}}
	e := NewSubprocessExecutor(runner, "my-agent")

	task := &models.Task{
		ID:           "a",
		Title:        "A",
		Verification: models.Verification{Command: "go test ./..."},
	}

	result, err := e.Execute(context.Background(), task, "/work")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Success {
		t.Fatal("verification failure should fail the result")
	}
	if !strings.Contains(result.Error, "verification failed") {
		t.Fatalf("Error = %q, want verification failure reason", result.Error)
	}
}

func TestExecuteSkipsVerificationWhenUnset(t *testing.T) {
	runner := &fakeRunner{}
	e := NewSubprocessExecutor(runner, "my-agent")

	result, err := e.Execute(context.Background(), &models.Task{ID: "a", Title: "A"}, "/work")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("result not successful: %s", result.Error)
	}
	if len(runner.commands) != 1 {
		t.Fatalf("ran %d commands, want agent only: %v", len(runner.commands), runner.commands)
	}
}

func TestExecuteRequiresCommand(t *testing.T) {
	e := NewSubprocessExecutor(&fakeRunner{}, "")
	if _, err := e.Execute(context.Background(), &models.Task{ID: "a"}, "/work"); err == nil {
		t.Fatal("expected error with no agent command configured")
	}
}
