package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.validate(); err != nil {
		t.Fatalf("Default() is invalid: %v", err)
	}
	if cfg.Workers.Max != 8 {
		t.Fatalf("Workers.Max = %d, want 8", cfg.Workers.Max)
	}
	if cfg.Breaker.Cooldown != 30*time.Second {
		t.Fatalf("Breaker.Cooldown = %s, want 30s", cfg.Breaker.Cooldown)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
workers:
  max: 4
  command: "my-agent --run"
branch:
  prefix: squad
breaker:
  failure_threshold: 5
  cooldown: 10s
  enabled: false
gates:
  commands:
    - go test ./...
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.Workers.Max != 4 {
		t.Fatalf("Workers.Max = %d, want 4", cfg.Workers.Max)
	}
	if cfg.Workers.Command != "my-agent --run" {
		t.Fatalf("Workers.Command = %q", cfg.Workers.Command)
	}
	if cfg.Branch.Prefix != "squad" {
		t.Fatalf("Branch.Prefix = %q, want squad", cfg.Branch.Prefix)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Fatalf("Breaker.FailureThreshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.Cooldown != 10*time.Second {
		t.Fatalf("Breaker.Cooldown = %s, want 10s", cfg.Breaker.Cooldown)
	}
	if cfg.Breaker.Enabled {
		t.Fatal("Breaker.Enabled = true, want false")
	}
	if len(cfg.Gates.Commands) != 1 || cfg.Gates.Commands[0] != "go test ./..." {
		t.Fatalf("Gates.Commands = %v", cfg.Gates.Commands)
	}
	// Untouched keys keep defaults.
	if cfg.Branch.Base != "main" {
		t.Fatalf("Branch.Base = %q, want main", cfg.Branch.Base)
	}
}

func TestLoadFromPathRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("workers:\n  max: 0\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("expected error for workers.max = 0")
	}
}
