// Package state provides SQLite-backed run history for fleet. Recording is
// best-effort: a nil *Store is a valid no-op receiver so the orchestrator
// never fails a run because history could not be written.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps an SQLite database holding run history.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// RunRecord summarizes one orchestration run.
type RunRecord struct {
	ID           string
	Feature      string
	State        string
	CurrentLevel int
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// TaskRecord summarizes one task execution within a run.
type TaskRecord struct {
	RunID       string
	TaskID      string
	WorkerID    int
	Level       int
	Status      string
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// DefaultPath returns the run-history database path under stateDir.
func DefaultPath(stateDir string) string {
	return filepath.Join(stateDir, "fleet.db")
}

// Open opens the run-history database at path, creating parent directories
// and applying migrations. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection. Safe on a nil receiver.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	feature TEXT NOT NULL,
	state TEXT NOT NULL DEFAULT 'RUNNING',
	current_level INTEGER NOT NULL DEFAULT 0,
	started_at DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

CREATE TABLE IF NOT EXISTS task_runs (
	run_id TEXT NOT NULL REFERENCES runs(id),
	task_id TEXT NOT NULL,
	worker_id INTEGER NOT NULL,
	level INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	PRIMARY KEY (run_id, task_id)
);

CREATE INDEX IF NOT EXISTS idx_task_runs_status ON task_runs(status);
`

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.conn.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// RecordRunStart inserts a new run row. Safe on a nil receiver.
func (s *Store) RecordRunStart(runID, feature string, startedAt time.Time) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT INTO runs (id, feature, state, started_at) VALUES (?, ?, 'RUNNING', ?)
	`, runID, feature, formatTime(startedAt))
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// UpdateRunState updates a run's state and current level; terminal states
// stamp finished_at. Safe on a nil receiver.
func (s *Store) UpdateRunState(runID, state string, currentLevel int) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	terminal := state == "COMPLETE" || state == "FAILED" || state == "STOPPED"
	var err error
	if terminal {
		_, err = s.conn.Exec(`
			UPDATE runs SET state = ?, current_level = ?, finished_at = ? WHERE id = ?
		`, state, currentLevel, formatTime(time.Now()), runID)
	} else {
		_, err = s.conn.Exec(`
			UPDATE runs SET state = ?, current_level = ? WHERE id = ?
		`, state, currentLevel, runID)
	}
	if err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	return nil
}

// RecordTaskOutcome upserts the outcome of one task execution. Safe on a
// nil receiver.
func (s *Store) RecordTaskOutcome(rec TaskRecord) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var completedAt any
	if rec.CompletedAt != nil {
		completedAt = formatTime(*rec.CompletedAt)
	}

	_, err := s.conn.Exec(`
		INSERT INTO task_runs (run_id, task_id, worker_id, level, status, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, task_id) DO UPDATE SET
			worker_id = excluded.worker_id,
			status = excluded.status,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, rec.RunID, rec.TaskID, rec.WorkerID, rec.Level, rec.Status, rec.Error, formatTime(rec.StartedAt), completedAt)
	if err != nil {
		return fmt.Errorf("record task outcome: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run, or nil if none exist.
func (s *Store) LatestRun() (*RunRecord, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT id, feature, state, current_level, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT 1
	`)

	var rec RunRecord
	var startedAt string
	var finishedAt sql.NullString
	err := row.Scan(&rec.ID, &rec.Feature, &rec.State, &rec.CurrentLevel, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest run: %w", err)
	}

	rec.StartedAt, _ = parseTime(startedAt)
	rec.FinishedAt = parseNullableTime(finishedAt)
	return &rec, nil
}

// TasksForRun returns all task records for a run ordered by level then id.
func (s *Store) TasksForRun(runID string) ([]TaskRecord, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT run_id, task_id, worker_id, level, status, COALESCE(error, ''), started_at, completed_at
		FROM task_runs WHERE run_id = ? ORDER BY level, task_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query task runs: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var startedAt string
		var completedAt sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.TaskID, &rec.WorkerID, &rec.Level, &rec.Status, &rec.Error, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan task run: %w", err)
		}
		rec.StartedAt, _ = parseTime(startedAt)
		rec.CompletedAt = parseNullableTime(completedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PurgeOldRuns deletes runs started before the cutoff and their task
// records. Returns the number of runs deleted.
func (s *Store) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := formatTime(time.Now().Add(-olderThan))

	if _, err := s.conn.Exec(`
		DELETE FROM task_runs WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("purge old task runs: %w", err)
	}

	result, err := s.conn.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old runs: %w", err)
	}
	return result.RowsAffected()
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// parseNullableTime parses a nullable time string from SQLite.
func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
