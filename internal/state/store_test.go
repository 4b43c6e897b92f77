package state

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fleet.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryRun(t *testing.T) {
	s := openTestStore(t)

	started := time.Now()
	if err := s.RecordRunStart("run-1", "auth", started); err != nil {
		t.Fatalf("RecordRunStart() error = %v", err)
	}
	if err := s.UpdateRunState("run-1", "COMPLETE", 3); err != nil {
		t.Fatalf("UpdateRunState() error = %v", err)
	}

	rec, err := s.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}
	if rec == nil {
		t.Fatal("LatestRun() = nil, want record")
	}
	if rec.Feature != "auth" {
		t.Fatalf("Feature = %q, want auth", rec.Feature)
	}
	if rec.State != "COMPLETE" {
		t.Fatalf("State = %q, want COMPLETE", rec.State)
	}
	if rec.CurrentLevel != 3 {
		t.Fatalf("CurrentLevel = %d, want 3", rec.CurrentLevel)
	}
	if rec.FinishedAt == nil {
		t.Fatal("terminal state should stamp finished_at")
	}
}

func TestRecordTaskOutcomeUpsert(t *testing.T) {
	s := openTestStore(t)

	started := time.Now()
	if err := s.RecordRunStart("run-1", "auth", started); err != nil {
		t.Fatalf("RecordRunStart() error = %v", err)
	}

	rec := TaskRecord{
		RunID: "run-1", TaskID: "task-a", WorkerID: 0, Level: 0,
		Status: "running", StartedAt: started,
	}
	if err := s.RecordTaskOutcome(rec); err != nil {
		t.Fatalf("RecordTaskOutcome() error = %v", err)
	}

	completed := time.Now()
	rec.Status = "complete"
	rec.CompletedAt = &completed
	if err := s.RecordTaskOutcome(rec); err != nil {
		t.Fatalf("RecordTaskOutcome() upsert error = %v", err)
	}

	tasks, err := s.TasksForRun("run-1")
	if err != nil {
		t.Fatalf("TasksForRun() error = %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d task records, want 1", len(tasks))
	}
	if tasks[0].Status != "complete" {
		t.Fatalf("Status = %q, want complete", tasks[0].Status)
	}
	if tasks[0].CompletedAt == nil {
		t.Fatal("CompletedAt should be set after upsert")
	}
}

func TestLatestRunEmpty(t *testing.T) {
	s := openTestStore(t)

	rec, err := s.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}
	if rec != nil {
		t.Fatalf("LatestRun() = %+v, want nil", rec)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store

	if err := s.RecordRunStart("run-1", "auth", time.Now()); err != nil {
		t.Fatalf("nil RecordRunStart() error = %v", err)
	}
	if err := s.UpdateRunState("run-1", "FAILED", 0); err != nil {
		t.Fatalf("nil UpdateRunState() error = %v", err)
	}
	if err := s.RecordTaskOutcome(TaskRecord{}); err != nil {
		t.Fatalf("nil RecordTaskOutcome() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("nil Close() error = %v", err)
	}
	if rec, err := s.LatestRun(); err != nil || rec != nil {
		t.Fatalf("nil LatestRun() = %v, %v", rec, err)
	}
}

func TestPurgeOldRuns(t *testing.T) {
	s := openTestStore(t)

	old := time.Now().Add(-48 * time.Hour)
	if err := s.RecordRunStart("run-old", "auth", old); err != nil {
		t.Fatalf("RecordRunStart() error = %v", err)
	}
	if err := s.RecordRunStart("run-new", "auth", time.Now()); err != nil {
		t.Fatalf("RecordRunStart() error = %v", err)
	}

	n, err := s.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d runs, want 1", n)
	}

	rec, err := s.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun() error = %v", err)
	}
	if rec == nil || rec.ID != "run-new" {
		t.Fatalf("LatestRun() = %+v, want run-new", rec)
	}
}
