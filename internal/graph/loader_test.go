package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/fleet/pkg/models"
)

func writeGraph(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write graph file: %v", err)
	}
	return path
}

func TestLoadValidGraph(t *testing.T) {
	path := writeGraph(t, `{
		"tasks": [
			{
				"id": "task-a",
				"title": "Create auth package",
				"level": 0,
				"files": {"create": ["pkg/auth/auth.go"]},
				"verification": {"command": "go test ./pkg/auth", "timeout_seconds": 120}
			},
			{
				"id": "task-b",
				"title": "Wire auth into server",
				"level": 1,
				"dependencies": ["task-a"],
				"files": {"modify": ["cmd/server/main.go"]}
			}
		]
	}`)

	g, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if g.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", g.Size())
	}

	a := g.Task("task-a")
	if a == nil {
		t.Fatal("task-a missing")
	}
	if a.Status != models.TaskStatusPending {
		t.Fatalf("status = %s, want pending", a.Status)
	}
	if a.Verification.Command != "go test ./pkg/auth" {
		t.Fatalf("verification command = %q", a.Verification.Command)
	}
	if a.Verification.TimeoutSeconds != 120 {
		t.Fatalf("verification timeout = %d", a.Verification.TimeoutSeconds)
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeGraph(t, `{"tasks": [`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestLoadRejectsMissingLevel(t *testing.T) {
	path := writeGraph(t, `{"tasks": [{"id": "a", "title": "A"}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for task without level")
	}
}

func TestLoadRejectsMissingID(t *testing.T) {
	path := writeGraph(t, `{"tasks": [{"title": "A", "level": 0}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for task without id")
	}
}

func TestLoadRejectsEmptyGraph(t *testing.T) {
	path := writeGraph(t, `{"tasks": []}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty task list")
	}
}

func TestLoadRejectsNegativeLevel(t *testing.T) {
	path := writeGraph(t, `{"tasks": [{"id": "a", "title": "A", "level": -1}]}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative level")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
