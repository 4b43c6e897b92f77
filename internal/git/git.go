// Package git provides an interface for the git operations the worktree
// manager needs. Keeping it narrow lets tests substitute an in-memory fake
// and keeps scheduler logic decoupled from the process boundary.
package git

// Runner defines the git operations used by fleet.
type Runner interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch force-deletes the specified branch.
	DeleteBranch(name string) error

	// MergeNoFF merges the branch into the current branch with --no-ff
	// and the given commit message.
	MergeNoFF(branch, message string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// ConflictedFiles returns files with unmerged changes.
	ConflictedFiles() ([]string, error)
	// ChangedFilesBetween returns files changed between two refs.
	ChangedFilesBetween(ref1, ref2 string) ([]string, error)

	// WorktreeAddFrom creates a worktree at path on a new branch created
	// from the given start point (git worktree add path -b branch start).
	WorktreeAddFrom(path, branch, start string) error
	// WorktreeRemoveForce removes the worktree at path, discarding
	// uncommitted changes.
	WorktreeRemoveForce(path string) error
	// WorktreeListPorcelain returns raw porcelain output for parsing.
	WorktreeListPorcelain() (string, error)
	// WorktreePruneExpireNow prunes stale worktree metadata immediately.
	WorktreePruneExpireNow() error

	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}
