package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/fleet/internal/breaker"
	"github.com/ShayCichocki/fleet/internal/state"
	"github.com/ShayCichocki/fleet/internal/worker"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// Options controls how a run starts.
type Options struct {
	// Resume restores progress from the feature's checkpoint instead of
	// starting fresh.
	Resume bool
	// DryRun prints the execution plan without running anything.
	DryRun bool
}

// Start executes the task graph to completion, one level at a time. Every
// task in a level must complete and every worker branch must merge before
// the next level begins. Start blocks until the run reaches a terminal
// state.
func (o *Orchestrator) Start(ctx context.Context, opts Options) error {
	o.mu.Lock()
	if o.state != StateIdle {
		s := o.state
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already started, state %s", s)
	}
	o.state = StateStarting
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	defer close(o.done)
	defer cancel()

	g := o.cfg.Graph

	if conflicts := g.ValidateFileOwnership(); len(conflicts) > 0 {
		o.setState(StateFailed)
		return fmt.Errorf("file ownership conflict: %s claimed by both %s and %s",
			conflicts[0].Path, conflicts[0].TaskIDs[0], conflicts[0].TaskIDs[1])
	}

	pool := o.poolSize()
	if err := o.cfg.Assignments.Validate(pool, func(id string) bool {
		return g.Task(id) != nil
	}); err != nil {
		o.setState(StateFailed)
		return fmt.Errorf("invalid assignments: %w", err)
	}

	startLevel := 0
	if opts.Resume {
		level, err := o.restoreCheckpoint()
		if err != nil {
			o.setState(StateFailed)
			return err
		}
		startLevel = level
		log.Printf("[orchestrator] resuming feature %s at level %d", o.cfg.Feature, startLevel)
	} else {
		o.mu.Lock()
		o.runID = newRunID()
		o.startedAt = time.Now()
		for _, t := range g.Tasks() {
			o.taskStates[t.ID] = TaskState{Status: models.TaskStatusPending}
		}
		o.mu.Unlock()
	}

	if opts.DryRun {
		o.printPlan(startLevel)
		o.mu.Lock()
		o.state = StateComplete
		o.mu.Unlock()
		return nil
	}

	o.mu.Lock()
	o.workers = make([]*worker.Protocol, pool)
	for i := range o.workers {
		o.workers[i] = worker.NewProtocol(i)
	}
	o.mu.Unlock()

	if err := o.cfg.Store.RecordRunStart(o.runID, o.cfg.Feature, o.startedAt); err != nil {
		log.Printf("[orchestrator] run history unavailable: %v", err)
	}

	o.setState(StateRunning)
	o.emitEvent(Event{Type: EventRunStarted, Message: fmt.Sprintf("feature %s, %d workers, %d levels", o.cfg.Feature, pool, g.LevelCount())})

	for level := startLevel; level < g.LevelCount(); level++ {
		if o.stopRequested() {
			if err := o.saveCheckpoint(level); err != nil {
				log.Printf("[orchestrator] checkpoint save failed: %v", err)
			}
			o.setState(StateStopped)
			o.emitEvent(Event{Type: EventRunDone, Level: level, Message: "stopped before level"})
			return ErrStopped
		}

		o.mu.Lock()
		o.currentLevel = level
		o.mu.Unlock()

		if err := o.runLevel(ctx, level); err != nil {
			if saveErr := o.saveCheckpoint(level); saveErr != nil {
				log.Printf("[orchestrator] checkpoint save failed: %v", saveErr)
			}
			final := StateFailed
			if ctx.Err() != nil || errors.Is(err, ErrStopped) {
				final = StateStopped
			}
			o.setState(final)
			o.emitEvent(Event{Type: EventRunDone, Level: level, Message: err.Error()})
			return err
		}

		if err := o.saveCheckpoint(level + 1); err != nil {
			log.Printf("[orchestrator] checkpoint save failed: %v", err)
		} else {
			o.emitEvent(Event{Type: EventCheckpointSaved, Level: level})
		}
	}

	o.setState(StateComplete)
	o.emitEvent(Event{Type: EventRunDone, Message: "all levels complete"})
	return nil
}

// poolSize clamps the configured worker count to the widest level; extra
// workers would never receive a task.
func (o *Orchestrator) poolSize() int {
	widest := 0
	for level := 0; level < o.cfg.Graph.LevelCount(); level++ {
		if n := len(o.cfg.Graph.GetLevelTasks(level)); n > widest {
			widest = n
		}
	}
	pool := o.cfg.Workers
	if widest > 0 && widest < pool {
		pool = widest
	}
	return pool
}

// runLevel runs every incomplete task in the level, waits for the barrier,
// runs quality gates, and merges worker branches sequentially.
func (o *Orchestrator) runLevel(ctx context.Context, level int) error {
	queue := o.pendingTasks(level)
	if len(queue) == 0 {
		return nil
	}

	log.Printf("[orchestrator] level %d: %d task(s)", level, len(queue))

	type outcome struct {
		taskID string
		err    error
	}
	results := make(chan outcome, len(queue))
	inFlight := 0
	var levelWorkers []int
	usedWorker := make(map[int]bool)
	failures := 0

	for len(queue) > 0 || inFlight > 0 {
		if ctx.Err() != nil || o.stopRequested() {
			// Stop dispatching and drain in-flight tasks before
			// reporting why the level ended early.
			for inFlight > 0 {
				<-results
				inFlight--
			}
			o.cleanupLevelWorktrees(levelWorkers)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("level %d: %w", level, ErrStopped)
		}

		dispatched := false
		for _, p := range o.workers {
			if len(queue) == 0 {
				break
			}
			if !p.CanAcceptTask() || !o.cfg.Breaker.CanAcceptTask(p.WorkerID()) {
				continue
			}

			task, rest := o.nextTask(queue, p.WorkerID())
			if task == nil {
				continue
			}
			queue = rest

			if o.cfg.Breaker.StateOf(p.WorkerID()) == breaker.StateHalfOpen {
				o.cfg.Breaker.MarkHalfOpenTask(p.WorkerID(), task.ID)
			}
			if err := p.Assign(task.ID); err != nil {
				return fmt.Errorf("assign task %s to worker %d: %w", task.ID, p.WorkerID(), err)
			}
			if !usedWorker[p.WorkerID()] {
				usedWorker[p.WorkerID()] = true
				levelWorkers = append(levelWorkers, p.WorkerID())
			}

			inFlight++
			dispatched = true
			go func(p *worker.Protocol, task *models.Task) {
				results <- outcome{taskID: task.ID, err: o.runTask(ctx, p, task, level)}
			}(p, task)
		}

		if dispatched {
			continue
		}

		if inFlight == 0 && len(queue) > 0 && !o.anyCircuitCoolingDown() {
			return fmt.Errorf("level %d: no eligible worker for %d remaining task(s)", level, len(queue))
		}

		select {
		case r := <-results:
			inFlight--
			if r.err != nil {
				failures++
			}
		case <-time.After(o.cfg.PollInterval):
		case <-ctx.Done():
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if failures > 0 {
		o.cleanupLevelWorktrees(levelWorkers)
		return fmt.Errorf("level %d: %d task(s) failed", level, failures)
	}

	if err := o.cfg.Gates.RunGates(ctx, level); err != nil {
		o.cleanupLevelWorktrees(levelWorkers)
		return fmt.Errorf("level %d quality gates: %w", level, err)
	}

	merge, err := o.cfg.Worktrees.MergeLevelBranches(level, levelWorkers, o.cfg.BaseBranch)
	if err != nil {
		return fmt.Errorf("level %d merge: %w", level, err)
	}
	if !merge.Success {
		o.cleanupLevelWorktrees(levelWorkers)
		return fmt.Errorf("level %d merge conflict: worker %d conflicts in %v after %d clean merge(s)",
			level, merge.FailedWorker, merge.ConflictFiles, merge.MergedCount)
	}

	o.emitEvent(Event{Type: EventLevelMerged, Level: level, Message: fmt.Sprintf("%d branch(es) merged, %d file(s) changed", merge.MergedCount, merge.ChangedFiles)})
	o.cleanupLevelWorktrees(levelWorkers)
	return nil
}

// anyCircuitCoolingDown reports whether some worker's circuit is open and
// will offer a half-open probe once its cooldown elapses. While that is
// true the level waits out the cooldown instead of failing for lack of an
// eligible worker.
func (o *Orchestrator) anyCircuitCoolingDown() bool {
	for _, p := range o.workers {
		if o.cfg.Breaker.StateOf(p.WorkerID()) == breaker.StateOpen {
			return true
		}
	}
	return false
}

// pendingTasks returns the level's tasks that have not already completed,
// which matters when resuming mid-run.
func (o *Orchestrator) pendingTasks(level int) []*models.Task {
	var queue []*models.Task
	for _, t := range o.cfg.Graph.GetLevelTasks(level) {
		o.mu.Lock()
		ts := o.taskStates[t.ID]
		o.mu.Unlock()
		if ts.Status == models.TaskStatusComplete {
			continue
		}
		queue = append(queue, t)
	}
	return queue
}

// nextTask picks a task for the worker, preferring tasks pinned to it.
// Tasks pinned to other workers are skipped. Returns nil when nothing in
// the queue is eligible for this worker.
func (o *Orchestrator) nextTask(queue []*models.Task, workerID int) (*models.Task, []*models.Task) {
	for i, t := range queue {
		if pin, ok := o.cfg.Assignments[t.ID]; ok && pin == workerID {
			return t, append(queue[:i:i], queue[i+1:]...)
		}
	}
	for i, t := range queue {
		if _, ok := o.cfg.Assignments[t.ID]; !ok {
			return t, append(queue[:i:i], queue[i+1:]...)
		}
	}
	return nil, queue
}

// runTask drives one task through the worker lifecycle in the worker's
// worktree.
func (o *Orchestrator) runTask(ctx context.Context, p *worker.Protocol, task *models.Task, level int) error {
	workerID := p.WorkerID()
	started := time.Now()
	o.setTaskState(task.ID, TaskState{Status: models.TaskStatusRunning, WorkerID: workerID, StartedAt: &started})
	o.emitEvent(Event{Type: EventTaskStarted, TaskID: task.ID, WorkerID: workerID, Level: level, Message: task.Title})

	fail := func(reason string) error {
		o.failTask(p, task, level, started, reason)
		return fmt.Errorf("task %s: %s", task.ID, reason)
	}

	if err := o.cfg.Limiter.Acquire(ctx); err != nil {
		return fail(err.Error())
	}
	defer o.cfg.Limiter.Release()

	wt := o.cfg.Worktrees.Get(workerID)
	if wt == nil {
		var err error
		wt, err = o.cfg.Worktrees.Create(workerID, o.cfg.BaseBranch)
		if err != nil {
			return fail(fmt.Sprintf("create worktree: %v", err))
		}
	}

	if err := p.Transition(worker.StateExecuting); err != nil {
		return fail(err.Error())
	}

	result, err := o.cfg.Executor.Execute(ctx, task, wt.Path)
	if err != nil {
		return fail(err.Error())
	}

	if result.Success && worker.CheckContextThreshold(result.ContextUsage) {
		o.recordWorkerCheckpoint(p, task, result)
	}

	if !result.Success {
		return fail(result.Error)
	}

	for _, s := range []worker.State{worker.StateVerifying, worker.StateSelfReview, worker.StateComplete, worker.StateIdle} {
		if err := p.Transition(s); err != nil {
			return fail(err.Error())
		}
	}

	completed := time.Now()
	o.setTaskState(task.ID, TaskState{Status: models.TaskStatusComplete, WorkerID: workerID, StartedAt: &started, CompletedAt: &completed})
	o.cfg.Breaker.RecordSuccess(workerID)
	o.recordTaskOutcome(task.ID, workerID, level, string(models.TaskStatusComplete), "", started, &completed)
	o.emitEvent(Event{Type: EventTaskCompleted, TaskID: task.ID, WorkerID: workerID, Level: level})
	return nil
}

// failTask records a task failure, returns the worker to idle, and feeds
// the circuit breaker.
func (o *Orchestrator) failTask(p *worker.Protocol, task *models.Task, level int, started time.Time, reason string) {
	workerID := p.WorkerID()

	if p.State() != worker.StateFailed {
		_ = p.Transition(worker.StateFailed)
	}
	_ = p.Transition(worker.StateIdle)

	completed := time.Now()
	o.setTaskState(task.ID, TaskState{Status: models.TaskStatusFailed, WorkerID: workerID, StartedAt: &started, CompletedAt: &completed, Error: reason})

	o.cfg.Breaker.RecordFailure(workerID)
	if o.cfg.Breaker.StateOf(workerID) == breaker.StateOpen {
		o.emitEvent(Event{Type: EventCircuitOpened, WorkerID: workerID, Level: level})
	}

	o.recordTaskOutcome(task.ID, workerID, level, string(models.TaskStatusFailed), reason, started, &completed)
	o.emitEvent(Event{Type: EventTaskFailed, TaskID: task.ID, WorkerID: workerID, Level: level, Message: reason})
}

// recordWorkerCheckpoint captures a context-threshold checkpoint signal
// from a worker mid-task.
func (o *Orchestrator) recordWorkerCheckpoint(p *worker.Protocol, task *models.Task, result *worker.Result) {
	sig := worker.NewCheckpointSignal(task.ID, p.WorkerID())
	sig.FilesCreated = result.FilesCreated
	sig.FilesModified = result.FilesModified

	o.mu.Lock()
	o.checkpoints = append(o.checkpoints, sig)
	o.mu.Unlock()

	// The worker pauses at the signal and resumes once it is recorded.
	if err := p.Transition(worker.StateWaiting); err == nil {
		_ = p.Transition(worker.StateExecuting)
	}

	o.emitEvent(Event{Type: EventWorkerCheckpoint, TaskID: task.ID, WorkerID: p.WorkerID(),
		Message: fmt.Sprintf("context usage %.2f", result.ContextUsage)})
}

func (o *Orchestrator) setTaskState(taskID string, ts TaskState) {
	o.mu.Lock()
	o.taskStates[taskID] = ts
	o.mu.Unlock()
}

func (o *Orchestrator) recordTaskOutcome(taskID string, workerID, level int, status, reason string, started time.Time, completed *time.Time) {
	rec := state.TaskRecord{
		RunID:       o.runID,
		TaskID:      taskID,
		WorkerID:    workerID,
		Level:       level,
		Status:      status,
		Error:       reason,
		StartedAt:   started,
		CompletedAt: completed,
	}
	if err := o.cfg.Store.RecordTaskOutcome(rec); err != nil {
		log.Printf("[orchestrator] run history unavailable: %v", err)
	}
}

// cleanupLevelWorktrees removes the level's worktrees and branches so the
// next level forks fresh from the updated base branch.
func (o *Orchestrator) cleanupLevelWorktrees(workerIDs []int) {
	for _, id := range workerIDs {
		if err := o.cfg.Worktrees.Cleanup(id); err != nil {
			log.Printf("[orchestrator] cleanup worker %d worktree: %v", id, err)
		}
	}
}

// printPlan logs the per-level execution plan without running anything.
func (o *Orchestrator) printPlan(startLevel int) {
	g := o.cfg.Graph
	log.Printf("[orchestrator] dry run: feature %s, %d task(s) across %d level(s)", o.cfg.Feature, g.Size(), g.LevelCount())
	for level := startLevel; level < g.LevelCount(); level++ {
		for _, t := range g.GetLevelTasks(level) {
			pin := ""
			if workerID, ok := o.cfg.Assignments[t.ID]; ok {
				pin = fmt.Sprintf(" (pinned to worker %d)", workerID)
			}
			log.Printf("[orchestrator]   level %d: %s - %s%s", level, t.ID, t.Title, pin)
		}
	}
}
