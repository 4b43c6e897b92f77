package worktree

import (
	"testing"
)

// fakeGit is an in-memory git.Runner for manager tests. Conflicts are
// declared per branch name.
type fakeGit struct {
	branches   map[string]bool
	worktrees  map[string]string // path -> branch
	current    string
	conflicts  map[string][]string // branch -> conflicted files
	changed    map[string][]string // branch -> files its merge changed
	mergeOrder []string
	checkouts  int
}

func newFakeGit() *fakeGit {
	return &fakeGit{
		branches:  map[string]bool{"main": true},
		worktrees: make(map[string]string),
		current:   "main",
		conflicts: make(map[string][]string),
		changed:   make(map[string][]string),
	}
}

func (f *fakeGit) CurrentBranch() (string, error) { return f.current, nil }

func (f *fakeGit) CheckoutBranch(name string) error {
	f.current = name
	f.checkouts++
	return nil
}

func (f *fakeGit) BranchExists(name string) (bool, error) { return f.branches[name], nil }

func (f *fakeGit) DeleteBranch(name string) error {
	delete(f.branches, name)
	return nil
}

func (f *fakeGit) MergeNoFF(branch, message string) error {
	f.mergeOrder = append(f.mergeOrder, branch)
	if files, ok := f.conflicts[branch]; ok {
		return &mergeConflictErr{files: files}
	}
	return nil
}

type mergeConflictErr struct{ files []string }

func (e *mergeConflictErr) Error() string { return "merge conflict" }

func (f *fakeGit) MergeAbort() error { return nil }

func (f *fakeGit) ConflictedFiles() ([]string, error) {
	if len(f.mergeOrder) == 0 {
		return nil, nil
	}
	last := f.mergeOrder[len(f.mergeOrder)-1]
	return f.conflicts[last], nil
}

func (f *fakeGit) ChangedFilesBetween(ref1, ref2 string) ([]string, error) {
	if len(f.mergeOrder) == 0 {
		return nil, nil
	}
	last := f.mergeOrder[len(f.mergeOrder)-1]
	return f.changed[last], nil
}

func (f *fakeGit) WorktreeAddFrom(path, branch, start string) error {
	f.branches[branch] = true
	f.worktrees[path] = branch
	return nil
}

func (f *fakeGit) WorktreeRemoveForce(path string) error {
	delete(f.worktrees, path)
	return nil
}

func (f *fakeGit) WorktreeListPorcelain() (string, error) {
	out := ""
	for path, branch := range f.worktrees {
		out += "worktree " + path + "\nbranch refs/heads/" + branch + "\n\n"
	}
	return out, nil
}

func (f *fakeGit) WorktreePruneExpireNow() error { return nil }

func (f *fakeGit) Run(args ...string) (string, error) { return "", nil }

func newTestManager(t *testing.T, fake *fakeGit) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "/repo", "fleet", fake)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func TestCreateAndCleanup(t *testing.T) {
	fake := newFakeGit()
	m := newTestManager(t, fake)

	wt, err := m.Create(1, "main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if wt.BranchName != "fleet/worker-1" {
		t.Fatalf("branch = %q, want fleet/worker-1", wt.BranchName)
	}
	if got := m.Get(1); got == nil {
		t.Fatal("Get(1) = nil after Create")
	}

	if err := m.Cleanup(1); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if got := m.Get(1); got != nil {
		t.Fatalf("Get(1) = %+v after Cleanup, want nil", got)
	}
	if fake.branches["fleet/worker-1"] {
		t.Fatal("worker branch should be deleted after Cleanup")
	}
}

func TestCreateRejectsDuplicateWorker(t *testing.T) {
	fake := newFakeGit()
	m := newTestManager(t, fake)

	if _, err := m.Create(1, "main"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := m.Create(1, "main"); err == nil {
		t.Fatal("expected error creating a second worktree for the same worker")
	}
}

func TestCreateRejectsLeftoverBranch(t *testing.T) {
	fake := newFakeGit()
	fake.branches["fleet/worker-1"] = true
	m := newTestManager(t, fake)

	if _, err := m.Create(1, "main"); err == nil {
		t.Fatal("expected error when the worker branch survives from an earlier run")
	}
}

func TestCleanupUnknownWorkerIsNoop(t *testing.T) {
	m := newTestManager(t, newFakeGit())

	if err := m.Cleanup(99); err != nil {
		t.Fatalf("Cleanup(99) error = %v, want nil", err)
	}
}

func TestMergeLevelBranchesAllClean(t *testing.T) {
	fake := newFakeGit()
	fake.changed["fleet/worker-1"] = []string{"auth/login.go"}
	fake.changed["fleet/worker-2"] = []string{"auth/token.go", "auth/token_test.go"}
	m := newTestManager(t, fake)

	for _, id := range []int{1, 2} {
		if _, err := m.Create(id, "main"); err != nil {
			t.Fatalf("Create(%d) error = %v", id, err)
		}
	}

	result, err := m.MergeLevelBranches(0, []int{1, 2}, "main")
	if err != nil {
		t.Fatalf("MergeLevelBranches() error = %v", err)
	}
	if !result.Success {
		t.Fatal("expected clean level merge")
	}
	if result.MergedCount != 2 {
		t.Fatalf("MergedCount = %d, want 2", result.MergedCount)
	}
	if result.FailedWorker != -1 {
		t.Fatalf("FailedWorker = %d, want -1", result.FailedWorker)
	}
	if result.ChangedFiles != 3 {
		t.Fatalf("ChangedFiles = %d, want 3", result.ChangedFiles)
	}
	want := []string{"fleet/worker-1", "fleet/worker-2"}
	for i, branch := range want {
		if fake.mergeOrder[i] != branch {
			t.Fatalf("merge order[%d] = %s, want %s", i, fake.mergeOrder[i], branch)
		}
	}
}

func TestMergeSkipsCheckoutAlreadyOnBase(t *testing.T) {
	fake := newFakeGit()
	m := newTestManager(t, fake)

	if _, err := m.Create(1, "main"); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	result, err := m.MergeToBase(1, "main")
	if err != nil {
		t.Fatalf("MergeToBase() error = %v", err)
	}
	if !result.Success {
		t.Fatal("expected clean merge")
	}
	if fake.checkouts != 0 {
		t.Fatalf("checkouts = %d, want 0 when already on the base branch", fake.checkouts)
	}
}

func TestMergeLevelBranchesStopsAtConflict(t *testing.T) {
	fake := newFakeGit()
	fake.conflicts["fleet/worker-2"] = []string{"pkg/shared.go"}
	m := newTestManager(t, fake)

	for _, id := range []int{1, 2, 3} {
		if _, err := m.Create(id, "main"); err != nil {
			t.Fatalf("Create(%d) error = %v", id, err)
		}
	}

	result, err := m.MergeLevelBranches(0, []int{1, 2, 3}, "main")
	if err != nil {
		t.Fatalf("MergeLevelBranches() error = %v", err)
	}
	if result.Success {
		t.Fatal("expected merge failure")
	}
	if result.MergedCount != 1 {
		t.Fatalf("MergedCount = %d, want 1", result.MergedCount)
	}
	if result.FailedWorker != 2 {
		t.Fatalf("FailedWorker = %d, want 2", result.FailedWorker)
	}
	if len(result.ConflictFiles) != 1 || result.ConflictFiles[0] != "pkg/shared.go" {
		t.Fatalf("ConflictFiles = %v, want [pkg/shared.go]", result.ConflictFiles)
	}
	// Worker 3's branch must not be attempted after the conflict.
	for _, branch := range fake.mergeOrder {
		if branch == "fleet/worker-3" {
			t.Fatal("merge should stop at the first conflict")
		}
	}
}

func TestParseWorktreeList(t *testing.T) {
	output := "worktree /repo\nbranch refs/heads/main\n\nworktree /tmp/wt/worker-1\nbranch refs/heads/fleet/worker-1\n\n"

	worktrees := parseWorktreeList(output)
	if len(worktrees) != 2 {
		t.Fatalf("parsed %d worktrees, want 2", len(worktrees))
	}
	if worktrees[1].Path != "/tmp/wt/worker-1" {
		t.Fatalf("path = %q", worktrees[1].Path)
	}
	if worktrees[1].BranchName != "fleet/worker-1" {
		t.Fatalf("branch = %q", worktrees[1].BranchName)
	}
}
