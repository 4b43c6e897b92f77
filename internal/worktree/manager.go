// Package worktree manages per-worker git worktrees and the sequential
// merge of worker branches back into the base branch.
package worktree

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/fleet/internal/git"
)

// Worktree represents a git worktree owned by exactly one worker for its
// lifetime.
type Worktree struct {
	Path       string    // Absolute path to the worktree directory
	BranchName string    // Branch associated with this worktree
	WorkerID   int       // Worker that owns this worktree
	CreatedAt  time.Time // When the worktree was created
}

// MergeResult represents the outcome of merging one worker branch.
type MergeResult struct {
	// Success indicates whether the merge completed without conflicts.
	Success bool
	// WorkerID is the worker whose branch was merged.
	WorkerID int
	// ChangedFiles lists the files the merge brought into the base branch.
	ChangedFiles []string
	// ConflictFiles lists the files that had conflicts, if any.
	ConflictFiles []string
}

// LevelMergeResult represents the outcome of merging all worker branches
// that participated in one level.
type LevelMergeResult struct {
	// Level is the level whose branches were merged.
	Level int
	// Success indicates all branches merged cleanly.
	Success bool
	// MergedCount is the number of branches merged before any conflict.
	MergedCount int
	// ChangedFiles is the total number of files the clean merges changed.
	ChangedFiles int
	// FailedWorker is the first worker whose merge conflicted, -1 if none.
	FailedWorker int
	// ConflictFiles lists the conflicting paths of the failed merge.
	ConflictFiles []string
}

// Manager handles git worktree lifecycle for worker isolation. Each worker
// gets its own branch and checkout so concurrent workers never share a
// mutable working directory.
type Manager struct {
	baseDir  string // Base directory for worktree checkouts
	repoPath string // Path to the shared git repository
	prefix   string // Branch namespace, e.g. "fleet"
	git      git.Runner
	mu       sync.Mutex
	tracked  map[int]*Worktree
}

// NewManager creates a Manager. baseDir defaults to
// ~/.cache/fleet/worktrees when empty.
func NewManager(baseDir, repoPath, prefix string, runner git.Runner) (*Manager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "fleet", "worktrees")
	}
	if prefix == "" {
		prefix = "fleet"
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	if runner == nil {
		runner = git.NewRunner(repoPath)
	}

	return &Manager{
		baseDir:  baseDir,
		repoPath: repoPath,
		prefix:   prefix,
		git:      runner,
		tracked:  make(map[int]*Worktree),
	}, nil
}

// BranchName returns the branch name for a worker.
func (m *Manager) BranchName(workerID int) string {
	return fmt.Sprintf("%s/worker-%d", m.prefix, workerID)
}

// Create creates a branch and worktree checkout for the worker from
// baseBranch and returns the handle. The worker owns the worktree
// exclusively until Cleanup.
func (m *Manager) Create(workerID int, baseBranch string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.tracked[workerID]; ok {
		return nil, fmt.Errorf("worker %d already has worktree at %s", workerID, existing.Path)
	}

	branch := m.BranchName(workerID)
	path := filepath.Join(m.baseDir, fmt.Sprintf("worker-%d", workerID))

	if exists, err := m.git.BranchExists(branch); err != nil {
		return nil, fmt.Errorf("check branch %s: %w", branch, err)
	} else if exists {
		return nil, fmt.Errorf("branch %s already exists, likely from an interrupted run; run 'fleet cleanup' first", branch)
	}

	if err := m.git.WorktreeAddFrom(path, branch, baseBranch); err != nil {
		return nil, fmt.Errorf("create worktree for worker %d: %w", workerID, err)
	}

	wt := &Worktree{
		Path:       path,
		BranchName: branch,
		WorkerID:   workerID,
		CreatedAt:  time.Now(),
	}
	m.tracked[workerID] = wt
	return wt, nil
}

// Get returns the worker's worktree handle, or nil if none exists.
func (m *Manager) Get(workerID int) *Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracked[workerID]
}

// Cleanup force-removes the worker's worktree, deletes its branch, and
// prunes stale metadata. Unknown worker IDs are a no-op.
func (m *Manager) Cleanup(workerID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, ok := m.tracked[workerID]
	if !ok {
		return nil
	}

	if err := m.git.WorktreeRemoveForce(wt.Path); err != nil {
		// Git may have lost track of the checkout; fall back to direct removal.
		if rmErr := os.RemoveAll(wt.Path); rmErr != nil {
			return fmt.Errorf("remove worktree for worker %d: %w", workerID, err)
		}
	}
	_ = m.git.DeleteBranch(wt.BranchName)
	_ = m.git.WorktreePruneExpireNow()

	delete(m.tracked, workerID)
	return nil
}

// MergeToBase checks out baseBranch in the shared repository and performs a
// non-fast-forward merge of the worker's branch. On conflict it aborts the
// merge, leaving the repository clean, and returns the conflicting paths.
// Conflict resolution is the caller's responsibility.
func (m *Manager) MergeToBase(workerID int, baseBranch string) (*MergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mergeToBaseLocked(workerID, baseBranch)
}

func (m *Manager) mergeToBaseLocked(workerID int, baseBranch string) (*MergeResult, error) {
	branch := m.BranchName(workerID)

	if current, err := m.git.CurrentBranch(); err != nil || current != baseBranch {
		if err := m.git.CheckoutBranch(baseBranch); err != nil {
			return nil, fmt.Errorf("checkout base branch %s: %w", baseBranch, err)
		}
	}

	message := fmt.Sprintf("Merge worker %d into %s", workerID, baseBranch)
	if err := m.git.MergeNoFF(branch, message); err == nil {
		// The merge commit's first parent is the previous base tip, so
		// this diff is exactly what the worker branch brought in.
		changed, _ := m.git.ChangedFilesBetween("HEAD~1", "HEAD")
		return &MergeResult{Success: true, WorkerID: workerID, ChangedFiles: changed}, nil
	}

	conflictFiles, _ := m.git.ConflictedFiles()
	if err := m.git.MergeAbort(); err != nil {
		return nil, fmt.Errorf("abort conflicted merge of worker %d: %w", workerID, err)
	}

	return &MergeResult{
		Success:       false,
		WorkerID:      workerID,
		ConflictFiles: conflictFiles,
	}, nil
}

// MergeLevelBranches merges each worker's branch sequentially in list
// order, stopping at the first conflict. Sequential ordering is safe only
// because file-ownership validation guarantees disjoint write sets across
// tasks in a level; merges never run concurrently so conflict attribution
// is unambiguous.
func (m *Manager) MergeLevelBranches(level int, workerIDs []int, baseBranch string) (*LevelMergeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := &LevelMergeResult{Level: level, Success: true, FailedWorker: -1}

	for _, workerID := range workerIDs {
		mr, err := m.mergeToBaseLocked(workerID, baseBranch)
		if err != nil {
			return nil, fmt.Errorf("merge level %d worker %d: %w", level, workerID, err)
		}
		if !mr.Success {
			result.Success = false
			result.FailedWorker = workerID
			result.ConflictFiles = mr.ConflictFiles
			return result, nil
		}
		result.MergedCount++
		result.ChangedFiles += len(mr.ChangedFiles)
	}

	return result, nil
}

// TrackedIDs returns the worker IDs that currently own worktrees.
func (m *Manager) TrackedIDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int, 0, len(m.tracked))
	for id := range m.tracked {
		ids = append(ids, id)
	}
	return ids
}

// CleanupOrphans removes fleet-managed worktrees that are not in the
// tracked set, recovering from crashed runs. It returns the removed paths.
func (m *Manager) CleanupOrphans() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.git.WorktreePruneExpireNow(); err != nil {
		return nil, fmt.Errorf("prune worktrees: %w", err)
	}

	output, err := m.git.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}

	trackedPaths := make(map[string]bool, len(m.tracked))
	for _, wt := range m.tracked {
		trackedPaths[wt.Path] = true
	}

	var removed []string
	for _, wt := range parseWorktreeList(output) {
		if wt.Path == m.repoPath || trackedPaths[wt.Path] {
			continue
		}
		if !strings.HasPrefix(wt.BranchName, m.prefix+"/worker-") {
			continue
		}
		if err := m.git.WorktreeRemoveForce(wt.Path); err != nil {
			if rmErr := os.RemoveAll(wt.Path); rmErr != nil {
				continue
			}
		}
		_ = m.git.DeleteBranch(wt.BranchName)
		removed = append(removed, wt.Path)
	}

	_ = m.git.WorktreePruneExpireNow()
	return removed, nil
}

// parseWorktreeList parses the output of 'git worktree list --porcelain'.
func parseWorktreeList(output string) []*Worktree {
	var worktrees []*Worktree
	var current *Worktree

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				worktrees = append(worktrees, current)
				current = nil
			}
			continue
		}

		if strings.HasPrefix(line, "worktree ") {
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		} else if strings.HasPrefix(line, "branch ") && current != nil {
			// Format: branch refs/heads/<name>
			ref := strings.TrimPrefix(line, "branch ")
			current.BranchName = strings.TrimPrefix(ref, "refs/heads/")
		}
	}

	if current != nil {
		worktrees = append(worktrees, current)
	}

	return worktrees
}
