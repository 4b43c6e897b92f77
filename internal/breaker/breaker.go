// Package breaker implements a per-worker circuit breaker. Workers that
// fail repeatedly stop receiving assignments until a cooldown elapses, then
// get a single probe task to prove they recovered.
package breaker

import (
	"sync"
	"time"
)

// State is the circuit state for one worker.
type State string

const (
	// StateClosed means the worker operates normally and accepts tasks.
	StateClosed State = "CLOSED"
	// StateOpen means the worker receives no tasks until cooldown elapses.
	StateOpen State = "OPEN"
	// StateHalfOpen means the worker may receive exactly one probe task.
	StateHalfOpen State = "HALF_OPEN"
)

// Config holds circuit breaker tuning.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int
	// Cooldown is how long an open circuit waits before allowing a probe.
	Cooldown time.Duration
	// Enabled turns the breaker off entirely when false; every worker
	// accepts every task and no state is tracked.
	Enabled bool
}

// DefaultConfig returns the standard breaker configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         30 * time.Second,
		Enabled:          true,
	}
}

// WorkerCircuit tracks breaker state for a single worker.
type WorkerCircuit struct {
	WorkerID        int
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time
	LastStateChange time.Time
	// HalfOpenTaskID is the probe task in flight, empty if none.
	HalfOpenTaskID string
}

// CircuitBreaker tracks circuits for all workers. Circuits are created
// lazily in the closed state the first time a worker is seen.
type CircuitBreaker struct {
	cfg      Config
	mu       sync.Mutex
	circuits map[int]*WorkerCircuit
}

// New creates a CircuitBreaker with the given configuration.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &CircuitBreaker{
		cfg:      cfg,
		circuits: make(map[int]*WorkerCircuit),
	}
}

// circuit returns the worker's circuit, creating it closed if absent.
// Caller holds the mutex.
func (b *CircuitBreaker) circuit(workerID int) *WorkerCircuit {
	c, ok := b.circuits[workerID]
	if !ok {
		c = &WorkerCircuit{
			WorkerID:        workerID,
			State:           StateClosed,
			LastStateChange: time.Now(),
		}
		b.circuits[workerID] = c
	}
	return c
}

// CanAcceptTask reports whether the worker may be assigned a task. An open
// circuit whose cooldown has elapsed transitions to half-open here; there
// is no background timer. A half-open circuit accepts only while no probe
// task is outstanding.
func (b *CircuitBreaker) CanAcceptTask(workerID int) bool {
	if !b.cfg.Enabled {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(workerID)
	switch c.State {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(c.LastFailureTime) >= b.cfg.Cooldown {
			c.State = StateHalfOpen
			c.HalfOpenTaskID = ""
			c.LastStateChange = time.Now()
			return true
		}
		return false
	case StateHalfOpen:
		return c.HalfOpenTaskID == ""
	}
	return false
}

// MarkHalfOpenTask records the probe task assigned to a half-open worker.
func (b *CircuitBreaker) MarkHalfOpenTask(workerID int, taskID string) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(workerID)
	if c.State == StateHalfOpen {
		c.HalfOpenTaskID = taskID
	}
}

// RecordSuccess records a completed task. A closed circuit resets its
// failure count; a half-open circuit closes.
func (b *CircuitBreaker) RecordSuccess(workerID int) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(workerID)
	c.SuccessCount++
	switch c.State {
	case StateClosed:
		c.FailureCount = 0
	case StateHalfOpen:
		c.State = StateClosed
		c.FailureCount = 0
		c.HalfOpenTaskID = ""
		c.LastStateChange = time.Now()
	}
}

// RecordFailure records a failed task. A closed circuit opens when
// consecutive failures reach the threshold; a half-open circuit reopens
// immediately, restarting the cooldown.
func (b *CircuitBreaker) RecordFailure(workerID int) {
	if !b.cfg.Enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.circuit(workerID)
	c.FailureCount++
	c.LastFailureTime = time.Now()

	switch c.State {
	case StateClosed:
		if c.FailureCount >= b.cfg.FailureThreshold {
			c.State = StateOpen
			c.LastStateChange = time.Now()
		}
	case StateHalfOpen:
		c.State = StateOpen
		c.HalfOpenTaskID = ""
		c.LastStateChange = time.Now()
	}
}

// StateOf returns the worker's current circuit state. Unseen workers
// report closed.
func (b *CircuitBreaker) StateOf(workerID int) State {
	if !b.cfg.Enabled {
		return StateClosed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[workerID]; ok {
		return c.State
	}
	return StateClosed
}

// Snapshot returns a copy of the worker's circuit, or nil if unseen.
func (b *CircuitBreaker) Snapshot(workerID int) *WorkerCircuit {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[workerID]
	if !ok {
		return nil
	}
	cp := *c
	return &cp
}

// Reset discards the worker's circuit, used when a worker is respawned.
func (b *CircuitBreaker) Reset(workerID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, workerID)
}
