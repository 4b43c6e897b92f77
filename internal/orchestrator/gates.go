package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ShayCichocki/fleet/internal/exec"
)

// GateRunner runs quality gates after a level's tasks complete and before
// its branches merge. A gate failure fails the level.
type GateRunner interface {
	RunGates(ctx context.Context, level int) error
}

// CommandGateRunner runs configured shell commands in the repository root.
type CommandGateRunner struct {
	runner   exec.CommandRunner
	repoPath string
	commands []string
}

// NewCommandGateRunner creates a gate runner for the given commands.
func NewCommandGateRunner(runner exec.CommandRunner, repoPath string, commands []string) *CommandGateRunner {
	if runner == nil {
		runner = exec.NewRunner()
	}
	return &CommandGateRunner{runner: runner, repoPath: repoPath, commands: commands}
}

// RunGates runs each command in order, stopping at the first failure.
func (g *CommandGateRunner) RunGates(ctx context.Context, level int) error {
	for _, cmd := range g.commands {
		log.Printf("[gates] level %d: running %q", level, cmd)
		output, err := g.runner.RunShell(ctx, g.repoPath, cmd)
		if err != nil {
			return fmt.Errorf("gate %q failed: %w: %s", cmd, err, strings.TrimSpace(string(output)))
		}
	}
	return nil
}

// NoopGateRunner passes every level without running anything.
type NoopGateRunner struct{}

// RunGates always succeeds.
func (NoopGateRunner) RunGates(ctx context.Context, level int) error { return nil }

// Verify implementations satisfy GateRunner at compile time.
var (
	_ GateRunner = (*CommandGateRunner)(nil)
	_ GateRunner = NoopGateRunner{}
)
