package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "fleet",
	Short: "Coding agent fleet orchestrator",
	Long: `Fleet executes a task graph with a pool of coding agent workers.

Tasks are grouped into levels; every task in a level runs in parallel in
its own git worktree, and the level's branches merge back into the base
branch before the next level begins. Progress is checkpointed between
levels so interrupted runs can resume without repeating completed work.

Core capabilities:
- Validates the task graph (cycles, file ownership) before anything runs
- Isolates each worker in a git worktree on its own branch
- Merges level branches sequentially, stopping at the first conflict
- Sidelines repeatedly failing workers via per-worker circuit breakers
- Resumes from the last completed level with --resume`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// findGitRoot finds the root of the git repository starting from the given directory.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitDir := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not in a git repository")
		}
		dir = parent
	}
}
