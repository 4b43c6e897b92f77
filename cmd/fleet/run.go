package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/breaker"
	"github.com/ShayCichocki/fleet/internal/config"
	"github.com/ShayCichocki/fleet/internal/exec"
	"github.com/ShayCichocki/fleet/internal/git"
	"github.com/ShayCichocki/fleet/internal/graph"
	"github.com/ShayCichocki/fleet/internal/orchestrator"
	"github.com/ShayCichocki/fleet/internal/state"
	"github.com/ShayCichocki/fleet/internal/worker"
	"github.com/ShayCichocki/fleet/internal/worktree"
)

var (
	runFeature     string
	runWorkers     int
	runConfigPath  string
	runGraphPath   string
	runAssignments string
	runResume      bool
	runDryRun      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a task graph with a fleet of workers",
	Long: `Run executes the given task graph level by level.

Every task in a level runs in parallel, each worker isolated in its own
git worktree. After the level's tasks complete and quality gates pass,
worker branches merge sequentially into the base branch. A checkpoint is
written after every level; rerun with --resume to continue an interrupted
run.

Examples:
  fleet run --feature auth --task-graph tasks.json
  fleet run --feature auth --task-graph tasks.json --workers 4 --dry-run
  fleet run --feature auth --task-graph tasks.json --resume`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFeature, "feature", "", "Feature name for branches, checkpoints, and history")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Worker pool ceiling (default from config)")
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to a config file (overrides discovery)")
	runCmd.Flags().StringVar(&runGraphPath, "task-graph", "", "Path to the task graph JSON file")
	runCmd.Flags().StringVar(&runAssignments, "assignments", "", "Path to a YAML file pinning tasks to worker slots")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume from the feature's checkpoint")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Print the execution plan without running anything")
	runCmd.MarkFlagRequired("feature")
	runCmd.MarkFlagRequired("task-graph")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	workers := clampWorkers(runWorkers, cfg.Workers.Max)
	if runWorkers > workers {
		fmt.Fprintf(os.Stderr, "Warning: --workers %d exceeds the configured ceiling; using %d\n", runWorkers, workers)
	}

	g, err := graph.Load(runGraphPath)
	if err != nil {
		return err
	}

	assignments, err := orchestrator.LoadAssignments(runAssignments)
	if err != nil {
		return err
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	repoPath, err := findGitRoot(cwd)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	wtManager, err := worktree.NewManager(cfg.WorktreeBaseDir(), repoPath, cfg.Branch.Prefix, git.NewRunner(repoPath))
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}

	// Run history is best-effort; a broken database never blocks a run.
	store, err := state.Open(state.DefaultPath(cfg.StateDir()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: run history unavailable: %v\n", err)
		store = nil
	}
	defer store.Close()

	runner := exec.NewRunner()
	var gates orchestrator.GateRunner = orchestrator.NoopGateRunner{}
	if len(cfg.Gates.Commands) > 0 {
		gates = orchestrator.NewCommandGateRunner(runner, repoPath, cfg.Gates.Commands)
	}

	events := make(chan orchestrator.Event, 256)

	orch, err := orchestrator.New(orchestrator.Config{
		Feature:         runFeature,
		RepoPath:        repoPath,
		BaseBranch:      cfg.Branch.Base,
		Workers:         workers,
		PollInterval:    cfg.Loop.PollInterval,
		ShutdownTimeout: cfg.Shutdown.Timeout,
		StateDir:        cfg.StateDir(),
		Graph:           g,
		Worktrees:       wtManager,
		Breaker: breaker.New(breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
			Enabled:          cfg.Breaker.Enabled,
		}),
		Executor:    worker.NewSubprocessExecutor(runner, cfg.Workers.Command),
		Gates:       gates,
		Limiter:     orchestrator.NewSlotLimiter(cfg.Limiter.Slots, cfg.Limiter.AcquireTimeout),
		Store:       store,
		Assignments: assignments,
		Events:      events,
	})
	if err != nil {
		return err
	}

	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		printEvents(events)
	}()

	// First interrupt drains in-flight tasks; a second one force-stops.
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		<-sigs
		fmt.Fprintln(os.Stderr, "Stopping after in-flight tasks finish (interrupt again to force)...")
		go orch.Stop(false)
		<-sigs
		orch.Stop(true)
	}()

	runErr := orch.Start(context.Background(), orchestrator.Options{
		Resume: runResume,
		DryRun: runDryRun,
	})

	close(events)
	<-printerDone

	if errors.Is(runErr, orchestrator.ErrStopped) {
		color.Yellow("Run stopped; continue later with --resume")
		return nil
	}
	if runErr != nil {
		return runErr
	}

	status := orch.GetStatus()
	color.Green("Run complete: %d task(s) across %d level(s)", status.Completed, status.TotalLevels)
	return nil
}

// clampWorkers resolves the effective pool size: the configured ceiling by
// default, narrowed by --workers but never widened past the ceiling.
func clampWorkers(requested, ceiling int) int {
	if requested <= 0 || requested > ceiling {
		return ceiling
	}
	return requested
}

// loadConfig resolves configuration from --config or the discovery chain.
func loadConfig() (*config.Config, error) {
	if runConfigPath != "" {
		return config.LoadFromPath(runConfigPath)
	}
	return config.Load()
}

// printEvents renders orchestrator events until the channel closes.
func printEvents(events <-chan orchestrator.Event) {
	for e := range events {
		switch e.Type {
		case orchestrator.EventRunStarted:
			color.Cyan("Run started: %s", e.Message)
		case orchestrator.EventTaskStarted:
			fmt.Printf("[worker %d] started %s: %s\n", e.WorkerID, e.TaskID, e.Message)
		case orchestrator.EventTaskCompleted:
			color.Green("[worker %d] completed %s", e.WorkerID, e.TaskID)
		case orchestrator.EventTaskFailed:
			color.Red("[worker %d] failed %s: %s", e.WorkerID, e.TaskID, e.Message)
		case orchestrator.EventLevelMerged:
			color.Cyan("Level %d merged: %s", e.Level, e.Message)
		case orchestrator.EventCheckpointSaved:
			fmt.Printf("Checkpoint saved after level %d\n", e.Level)
		case orchestrator.EventCircuitOpened:
			color.Yellow("Worker %d circuit opened; no further tasks until cooldown", e.WorkerID)
		case orchestrator.EventWorkerCheckpoint:
			color.Yellow("[worker %d] checkpoint on %s (%s)", e.WorkerID, e.TaskID, e.Message)
		case orchestrator.EventRunDone:
			fmt.Printf("Run done: %s\n", e.Message)
		}
	}
}
