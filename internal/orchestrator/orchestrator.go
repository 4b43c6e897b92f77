// Package orchestrator coordinates the fleet run: it walks the task graph
// level by level, assigns tasks to workers, enforces the level barrier,
// merges worker branches, and checkpoints progress between levels.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/fleet/internal/breaker"
	"github.com/ShayCichocki/fleet/internal/graph"
	"github.com/ShayCichocki/fleet/internal/state"
	"github.com/ShayCichocki/fleet/internal/worker"
	"github.com/ShayCichocki/fleet/internal/worktree"
)

// ErrStopped is returned by Start when the run ended because Stop was
// requested rather than because anything failed.
var ErrStopped = errors.New("run stopped")

// State is the orchestrator's run state.
type State string

const (
	// StateIdle means no run has started.
	StateIdle State = "IDLE"
	// StateStarting means the run is loading and validating inputs.
	StateStarting State = "STARTING"
	// StateRunning means levels are executing.
	StateRunning State = "RUNNING"
	// StateComplete means every level finished and merged.
	StateComplete State = "COMPLETE"
	// StateFailed means the run aborted on a task, gate, or merge failure.
	StateFailed State = "FAILED"
	// StateStopping means a graceful stop is draining in-flight tasks.
	StateStopping State = "STOPPING"
	// StateStopped means the run was stopped before completion.
	StateStopped State = "STOPPED"
)

// Config holds the orchestrator's dependencies and tuning. The graph,
// worktree manager, breaker, and executor are injected so tests can
// substitute fakes.
type Config struct {
	Feature    string
	RepoPath   string
	BaseBranch string
	// Workers is the worker pool ceiling. The effective pool size is
	// clamped to the widest level of the graph.
	Workers         int
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	// StateDir is where checkpoints are written.
	StateDir string

	Graph       *graph.TaskGraph
	Worktrees   *worktree.Manager
	Breaker     *breaker.CircuitBreaker
	Executor    worker.Executor
	Gates       GateRunner
	Limiter     *SlotLimiter
	Store       *state.Store
	Assignments Assignments
	// Events receives progress notifications. Nil disables emission;
	// a slow listener drops events rather than stalling the run.
	Events chan Event
}

// Orchestrator runs one feature's task graph to completion.
type Orchestrator struct {
	cfg    Config
	events chan Event

	mu           sync.Mutex
	state        State
	runID        string
	startedAt    time.Time
	currentLevel int
	taskStates   map[string]TaskState
	checkpoints  []*worker.CheckpointSignal
	workers      []*worker.Protocol

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Orchestrator. The graph and executor are required; gates,
// limiter, breaker, and store fall back to no-op defaults.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("orchestrator requires a task graph")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("orchestrator requires an executor")
	}
	if cfg.Worktrees == nil {
		return nil, fmt.Errorf("orchestrator requires a worktree manager")
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.Workers)
	}
	if cfg.BaseBranch == "" {
		cfg.BaseBranch = "main"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Breaker == nil {
		cfg.Breaker = breaker.New(breaker.DefaultConfig())
	}
	if cfg.Gates == nil {
		cfg.Gates = NoopGateRunner{}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewSlotLimiter(0, 0)
	}
	if cfg.Assignments == nil {
		cfg.Assignments = Assignments{}
	}

	return &Orchestrator{
		cfg:        cfg,
		events:     cfg.Events,
		state:      StateIdle,
		taskStates: make(map[string]TaskState),
		done:       make(chan struct{}),
	}, nil
}

// State returns the current run state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Events returns the event channel passed at construction, nil if none.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// RunID returns the run's identifier, empty before Start.
func (o *Orchestrator) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	_ = o.cfg.Store.UpdateRunState(o.runID, string(s), o.levelSnapshot())
}

func (o *Orchestrator) levelSnapshot() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.currentLevel
}

// stopRequested reports whether a graceful stop is in progress. The run
// loop consults it before every assignment and between levels.
func (o *Orchestrator) stopRequested() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state == StateStopping
}

// Stop halts the run. A graceful stop signals the run loop to hand out no
// further tasks, lets in-flight tasks drain up to the shutdown timeout,
// then cancels; force cancels immediately, accepting loss of in-flight
// work.
func (o *Orchestrator) Stop(force bool) {
	o.mu.Lock()
	cancel := o.cancel
	running := o.state == StateRunning || o.state == StateStarting
	if running {
		o.state = StateStopping
	}
	o.mu.Unlock()

	if cancel == nil || !running {
		return
	}

	if force {
		cancel()
		return
	}

	timeout := o.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-o.done:
	case <-time.After(timeout):
		cancel()
	}
}

// newRunID generates the identifier recorded in run history and
// checkpoints.
func newRunID() string {
	return uuid.NewString()
}
