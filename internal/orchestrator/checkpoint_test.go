package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/fleet/pkg/models"
)

func sampleState() *ExecutionState {
	started := time.Now().Add(-time.Minute)
	completed := time.Now()
	return &ExecutionState{
		RunID:        "run-1",
		Feature:      "auth",
		StartedAt:    started,
		CurrentLevel: 2,
		Tasks: map[string]TaskState{
			"task-a": {Status: models.TaskStatusComplete, WorkerID: 0, StartedAt: &started, CompletedAt: &completed},
			"task-b": {Status: models.TaskStatusFailed, WorkerID: 1, Error: "verification failed"},
			"task-c": {Status: models.TaskStatusPending},
		},
		Workers: map[string]WorkerState{
			"worker-0": {Status: models.WorkerIdle},
		},
	}
}

func TestSaveAndLoadCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := CheckpointPath(dir, "auth")

	if err := SaveCheckpoint(path, sampleState()); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	loaded, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint() error = %v", err)
	}

	if loaded.Feature != "auth" {
		t.Fatalf("Feature = %q, want auth", loaded.Feature)
	}
	if loaded.CurrentLevel != 2 {
		t.Fatalf("CurrentLevel = %d, want 2", loaded.CurrentLevel)
	}
	if got := loaded.Tasks["task-a"].Status; got != models.TaskStatusComplete {
		t.Fatalf("task-a status = %s, want complete", got)
	}
	if got := loaded.Tasks["task-b"].Error; got != "verification failed" {
		t.Fatalf("task-b error = %q", got)
	}
}

func TestSaveCheckpointRefusesInvalidState(t *testing.T) {
	dir := t.TempDir()
	path := CheckpointPath(dir, "auth")

	st := sampleState()
	st.Feature = ""
	if err := SaveCheckpoint(path, st); err == nil {
		t.Fatal("expected error saving checkpoint without feature")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("invalid checkpoint should not be written")
	}
}

func TestLoadCheckpointRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint-auth.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := LoadCheckpoint(path); err == nil {
		t.Fatal("expected error loading corrupt checkpoint")
	}
}

func TestLoadCheckpointRejectsInvalidTaskStatus(t *testing.T) {
	dir := t.TempDir()
	path := CheckpointPath(dir, "auth")

	st := sampleState()
	if err := SaveCheckpoint(path, st); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	// Corrupt a status in place.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	corrupted := strings.Replace(string(data), `"complete"`, `"bogus"`, 1)
	if err := os.WriteFile(path, []byte(corrupted), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := LoadCheckpoint(path); err == nil {
		t.Fatal("expected error loading checkpoint with invalid task status")
	}
}

func TestSaveCheckpointLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := CheckpointPath(dir, "auth")

	if err := SaveCheckpoint(path, sampleState()); err != nil {
		t.Fatalf("SaveCheckpoint() error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temp file %s left behind", e.Name())
		}
	}
}
