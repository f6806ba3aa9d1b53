package worktree

import (
	"context"
	"errors"
	"testing"

	"github.com/ShayCichocki/alphie/internal/git"
)

// fakeRunner implements git.Runner with function fields so tests only need
// to stub the methods they exercise.
type fakeRunner struct {
	worktreeAdd           func(path, branch string) error
	run                   func(args ...string) (string, error)
	worktreeUnlock        func(path string) error
	worktreeRemove        func(path string) error
	worktreeRemoveOptForce func(path string, force bool) error
	worktreePruneExpireNow func() error
}

func (f *fakeRunner) CurrentBranch() (string, error)            { return "main", nil }
func (f *fakeRunner) CreateBranch(string) error                 { return nil }
func (f *fakeRunner) CreateAndCheckoutBranch(string) error       { return nil }
func (f *fakeRunner) CheckoutBranch(string) error                { return nil }
func (f *fakeRunner) BranchExists(string) (bool, error)          { return false, nil }
func (f *fakeRunner) DeleteBranch(string) error                  { return nil }
func (f *fakeRunner) Status() (string, error)                    { return "", nil }
func (f *fakeRunner) HasChanges() (bool, error)                  { return false, nil }
func (f *fakeRunner) Diff(string) (string, error)                { return "", nil }
func (f *fakeRunner) DiffBetween(string, string) (string, error) { return "", nil }
func (f *fakeRunner) ChangedFiles(string) ([]string, error)      { return nil, nil }
func (f *fakeRunner) ChangedFilesBetween(string, string) ([]string, error) { return nil, nil }
func (f *fakeRunner) ChangedFilesRelative(string, string) ([]string, error) { return nil, nil }
func (f *fakeRunner) ConflictedFiles() ([]string, error)         { return nil, nil }
func (f *fakeRunner) Add(...string) error                        { return nil }
func (f *fakeRunner) Commit(string) error                         { return nil }
func (f *fakeRunner) Reset(string) error                          { return nil }
func (f *fakeRunner) CheckoutPath(string) error                   { return nil }
func (f *fakeRunner) Merge(string) error                          { return nil }
func (f *fakeRunner) MergeFFOnly(string) error                     { return nil }
func (f *fakeRunner) MergeNoFF(string) error                      { return nil }
func (f *fakeRunner) MergeNoFFMessage(string, string) error       { return nil }
func (f *fakeRunner) MergeAbort() error                           { return nil }
func (f *fakeRunner) MergeBase(string, string) (string, error)    { return "", nil }
func (f *fakeRunner) HasConflicts() (bool, error)                 { return false, nil }
func (f *fakeRunner) Rebase(string) error                         { return nil }
func (f *fakeRunner) RebaseAbort() error                          { return nil }
func (f *fakeRunner) WorktreeAdd(path, branch string) error {
	if f.worktreeAdd != nil {
		return f.worktreeAdd(path, branch)
	}
	return nil
}
func (f *fakeRunner) WorktreeAddNewBranch(path, branch string) error { return nil }
func (f *fakeRunner) WorktreeRemove(path string) error {
	if f.worktreeRemove != nil {
		return f.worktreeRemove(path)
	}
	return nil
}
func (f *fakeRunner) WorktreeRemoveOptionalForce(path string, force bool) error {
	if f.worktreeRemoveOptForce != nil {
		return f.worktreeRemoveOptForce(path, force)
	}
	return nil
}
func (f *fakeRunner) WorktreeUnlock(path string) error {
	if f.worktreeUnlock != nil {
		return f.worktreeUnlock(path)
	}
	return nil
}
func (f *fakeRunner) WorktreeList() ([]string, error)          { return nil, nil }
func (f *fakeRunner) WorktreeListPorcelain() (string, error)   { return "", nil }
func (f *fakeRunner) WorktreePrune() error                      { return nil }
func (f *fakeRunner) WorktreePruneExpireNow() error {
	if f.worktreePruneExpireNow != nil {
		return f.worktreePruneExpireNow()
	}
	return nil
}
func (f *fakeRunner) PullFFOnly() error                              { return nil }
func (f *fakeRunner) ShowFile(string, string) (string, error)        { return "", nil }
func (f *fakeRunner) CheckoutOurs(string) error                      { return nil }
func (f *fakeRunner) CheckoutTheirs(string) error                    { return nil }
func (f *fakeRunner) Run(args ...string) (string, error) {
	if f.run != nil {
		return f.run(args...)
	}
	return "", nil
}

var _ git.Runner = (*fakeRunner)(nil)

type fakeResourceChecker struct {
	freeMB  int
	cpuPct  float64
	err     error
}

func (f fakeResourceChecker) FreeMemoryMB() (int, error) { return f.freeMB, f.err }
func (f fakeResourceChecker) CPUUtilizationPercent() (float64, error) { return f.cpuPct, f.err }

func newTestManager(t *testing.T, cfg Config, runner *fakeRunner, checker ResourceChecker) *Manager {
	t.Helper()
	dir := t.TempDir()
	cfg.WorktreeDir = dir
	if runner == nil {
		runner = &fakeRunner{}
	}
	m, err := New(dir, runner, checker, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestSanitizeBranchComponent(t *testing.T) {
	cases := map[string]string{
		"simple-task":      "simple-task",
		"Task With Spaces": "Task-With-Spaces",
		"../evil..name":    "evil..name",
		"###":              "task",
		"a///b":            "a/b",
	}
	for input, want := range cases {
		if got := sanitizeBranchComponent(input); got != want {
			t.Errorf("sanitizeBranchComponent(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestAcquire_CreatesBranchedWorktree(t *testing.T) {
	m := newTestManager(t, Config{MaxWorkers: 2, SkipResourceChecks: true}, &fakeRunner{}, nil)

	wt, err := m.Acquire(context.Background(), "w1", "task-42", "HEAD")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if wt.Branch != "worktree/task-42" {
		t.Errorf("Branch = %q, want %q", wt.Branch, "worktree/task-42")
	}
	if wt.Status != "ready" {
		t.Errorf("Status = %q, want ready", wt.Status)
	}
}

func TestAcquire_PoolExhausted(t *testing.T) {
	m := newTestManager(t, Config{MaxWorkers: 1, SkipResourceChecks: true}, &fakeRunner{}, nil)

	if _, err := m.Acquire(context.Background(), "w1", "t1", "HEAD"); err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	if _, err := m.Acquire(context.Background(), "w2", "t2", "HEAD"); err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}

	_, err := m.Acquire(context.Background(), "w3", "t3", "HEAD")
	var acqErr *AcquireError
	if !errors.As(err, &acqErr) || acqErr.Reason != FailurePoolExhausted {
		t.Fatalf("expected FailurePoolExhausted, got %v", err)
	}
}

func TestAcquire_LowMemoryRefuses(t *testing.T) {
	checker := fakeResourceChecker{freeMB: 100}
	m := newTestManager(t, Config{MaxWorkers: 2, MinFreeMemoryMB: 512}, &fakeRunner{}, checker)

	_, err := m.Acquire(context.Background(), "w1", "t1", "HEAD")
	var acqErr *AcquireError
	if !errors.As(err, &acqErr) || acqErr.Reason != FailureLowMemory {
		t.Fatalf("expected FailureLowMemory, got %v", err)
	}
}

func TestAcquire_HighCPURefuses(t *testing.T) {
	checker := fakeResourceChecker{cpuPct: 95}
	m := newTestManager(t, Config{MaxWorkers: 2, MaxCPUUtilization: 80}, &fakeRunner{}, checker)

	_, err := m.Acquire(context.Background(), "w1", "t1", "HEAD")
	var acqErr *AcquireError
	if !errors.As(err, &acqErr) || acqErr.Reason != FailureHighCPU {
		t.Fatalf("expected FailureHighCPU, got %v", err)
	}
}

func TestAcquire_BranchCollisionGetsSuffix(t *testing.T) {
	m := newTestManager(t, Config{MaxWorkers: 4, SkipResourceChecks: true}, &fakeRunner{}, nil)

	wt1, err := m.Acquire(context.Background(), "w1", "shared-task", "HEAD")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	wt2, err := m.Acquire(context.Background(), "w2", "shared-task", "HEAD")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if wt1.Branch == wt2.Branch {
		t.Fatalf("expected distinct branch names, both got %q", wt1.Branch)
	}
}

func TestRelease_ResetsBindings(t *testing.T) {
	m := newTestManager(t, Config{MaxWorkers: 2, SkipResourceChecks: true}, &fakeRunner{}, nil)

	wt, err := m.Acquire(context.Background(), "w1", "t1", "HEAD")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := m.Release(wt.ID); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	list := m.List()
	if len(list) != 1 || list[0].WorkerID != "" || list[0].TaskID != "" {
		t.Fatalf("expected released worktree to clear bindings, got %+v", list)
	}
}

func TestCleanupAll_RemovesEveryTrackedWorktree(t *testing.T) {
	removed := make(map[string]bool)
	runner := &fakeRunner{
		worktreeRemoveOptForce: func(path string, force bool) error {
			removed[path] = true
			return nil
		},
	}
	m := newTestManager(t, Config{MaxWorkers: 2, SkipResourceChecks: true}, runner, nil)

	wt, err := m.Acquire(context.Background(), "w1", "t1", "HEAD")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := m.CleanupAll(); err != nil {
		t.Fatalf("CleanupAll() error = %v", err)
	}
	if !removed[wt.Path] {
		t.Fatalf("expected %q to be removed", wt.Path)
	}
	if len(m.List()) != 0 {
		t.Fatalf("expected empty pool after cleanup, got %v", m.List())
	}
}
