package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/fleet/internal/config"
	"github.com/ShayCichocki/fleet/internal/git"
	"github.com/ShayCichocki/fleet/internal/state"
	"github.com/ShayCichocki/fleet/internal/worktree"
)

var (
	cleanupForce bool
	cleanupRuns  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees and old run history",
	Long: `Clean up fleet-managed worktrees left behind by crashed or
interrupted runs, delete their branches, and prune stale worktree
metadata.

With --runs, also purges run history older than 30 days.

Examples:
  fleet cleanup            # Interactive cleanup with confirmation
  fleet cleanup --force    # Skip confirmation prompt
  fleet cleanup --runs     # Also purge runs older than 30 days`,
	RunE: runCleanupCmd,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVar(&cleanupRuns, "runs", false, "Purge run history older than 30 days")
}

func runCleanupCmd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
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

	if !cleanupForce {
		fmt.Print("Remove all orphaned fleet worktrees? [y/N] ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read confirmation: %w", err)
		}
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Println("Cleanup cancelled.")
			return nil
		}
	}

	removed, err := wtManager.CleanupOrphans()
	if err != nil {
		return fmt.Errorf("cleanup orphaned worktrees: %w", err)
	}
	if len(removed) == 0 {
		fmt.Println("No orphaned worktrees found.")
	} else {
		for _, path := range removed {
			fmt.Printf("Removed: %s\n", path)
		}
		fmt.Printf("Removed %d orphaned worktree(s).\n", len(removed))
	}

	if cleanupRuns {
		if err := purgeOldRuns(cfg); err != nil {
			return err
		}
	}
	return nil
}

// purgeOldRuns deletes run history older than 30 days.
func purgeOldRuns(cfg *config.Config) error {
	const runMaxAge = 30 * 24 * time.Hour

	dbPath := state.DefaultPath(cfg.StateDir())
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("No run history found - nothing to purge.")
		return nil
	}

	store, err := state.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open run history: %w", err)
	}
	defer store.Close()

	purged, err := store.PurgeOldRuns(runMaxAge)
	if err != nil {
		return fmt.Errorf("purge old runs: %w", err)
	}
	if purged > 0 {
		fmt.Printf("Purged %d run(s) older than 30 days.\n", purged)
	} else {
		fmt.Println("No runs older than 30 days found.")
	}
	return nil
}
