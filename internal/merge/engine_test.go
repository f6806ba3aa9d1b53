package merge

import (
	"context"
	"testing"

	"github.com/ShayCichocki/alphie/internal/git"
	"github.com/ShayCichocki/alphie/pkg/models"
)

type stubRunner struct {
	git.Runner
	currentBranch    string
	ffOnlyErr        error
	noFFErr          error
	conflictedFiles  []string
	checkoutCalls    []string
	committedMsgs    []string
	createdBranches  []string
	tagsCreated      []string
}

func (s *stubRunner) CurrentBranch() (string, error) { return s.currentBranch, nil }
func (s *stubRunner) CreateAndCheckoutBranch(name string) error {
	s.createdBranches = append(s.createdBranches, name)
	s.currentBranch = name
	return nil
}
func (s *stubRunner) CheckoutBranch(name string) error {
	s.checkoutCalls = append(s.checkoutCalls, name)
	s.currentBranch = name
	return nil
}
func (s *stubRunner) MergeFFOnly(string) error { return s.ffOnlyErr }
func (s *stubRunner) MergeNoFFMessage(branch, msg string) error {
	if s.noFFErr == nil {
		s.committedMsgs = append(s.committedMsgs, msg)
	}
	return s.noFFErr
}
func (s *stubRunner) ConflictedFiles() ([]string, error) { return s.conflictedFiles, nil }
func (s *stubRunner) Commit(msg string) error {
	s.committedMsgs = append(s.committedMsgs, msg)
	return nil
}
func (s *stubRunner) Add(...string) error { return nil }
func (s *stubRunner) Run(args ...string) (string, error) {
	s.tagsCreated = append(s.tagsCreated, args[len(args)-1])
	return "deadbeef", nil
}

func newEngineForTest(t *testing.T, runner *stubRunner, cfg EngineConfig) *Engine {
	t.Helper()
	if runner.currentBranch == "" {
		runner.currentBranch = "main"
	}
	e, err := NewEngine(t.TempDir(), runner, nil, cfg)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestNewEngine_CreatesSessionBranch(t *testing.T) {
	runner := &stubRunner{currentBranch: "main"}
	e := newEngineForTest(t, runner, EngineConfig{SessionID: "abcd1234"})

	if e.SessionBranch() != "ralph-session/abcd1234" {
		t.Fatalf("expected session branch ralph-session/abcd1234, got %s", e.SessionBranch())
	}
	if len(runner.createdBranches) != 1 {
		t.Fatalf("expected session branch created, got %v", runner.createdBranches)
	}
}

func TestNewEngine_DirectMergeSkipsSessionBranch(t *testing.T) {
	runner := &stubRunner{currentBranch: "main"}
	e := newEngineForTest(t, runner, EngineConfig{DirectMerge: true})

	if e.SessionBranch() != "main" {
		t.Fatalf("expected direct merge to target main, got %s", e.SessionBranch())
	}
	if len(runner.createdBranches) != 0 {
		t.Fatalf("expected no session branch created in direct-merge mode")
	}
}

func TestProcessNext_EmptyQueueReturnsNil(t *testing.T) {
	runner := &stubRunner{}
	e := newEngineForTest(t, runner, EngineConfig{})

	result, err := e.ProcessNext(context.Background())
	if err != nil || result != nil {
		t.Fatalf("expected nil,nil for empty queue, got %v, %v", result, err)
	}
}

func TestProcessNext_ZeroCommitsIsNoopSuccess(t *testing.T) {
	runner := &stubRunner{}
	e := newEngineForTest(t, runner, EngineConfig{})

	e.Enqueue(models.WorkerResult{WorkerID: "w1", Task: models.Task{ID: "t1"}, CommitCount: 0})

	result, err := e.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext() error = %v", err)
	}
	if !result.Success {
		t.Fatalf("expected zero-commit result to be a no-op success, got %+v", result)
	}
}

func TestProcessNext_FastForwardSucceeds(t *testing.T) {
	runner := &stubRunner{}
	e := newEngineForTest(t, runner, EngineConfig{})

	e.Enqueue(models.WorkerResult{WorkerID: "w1", Task: models.Task{ID: "t1"}, BranchName: "worktree/t1", CommitCount: 2})

	result, err := e.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext() error = %v", err)
	}
	if !result.Success || result.HadConflicts {
		t.Fatalf("expected fast-forward success, got %+v", result)
	}
}

func TestProcessNext_ConflictLeavesStateForResolver(t *testing.T) {
	runner := &stubRunner{ffOnlyErr: errFFNotPossible, noFFErr: errMergeConflict, conflictedFiles: []string{"a.go"}}
	e := newEngineForTest(t, runner, EngineConfig{})

	e.Enqueue(models.WorkerResult{WorkerID: "w1", Task: models.Task{ID: "t1"}, BranchName: "worktree/t1", CommitCount: 2})

	result, err := e.ProcessNext(context.Background())
	if err != nil {
		t.Fatalf("ProcessNext() error = %v", err)
	}
	if result.Success || !result.HadConflicts {
		t.Fatalf("expected conflicted result, got %+v", result)
	}

	op, ok := e.Operation(result.OperationID)
	if !ok {
		t.Fatalf("expected operation to be retrievable")
	}
	if op.State != models.MergeStateConflicted {
		t.Fatalf("expected operation state conflicted, got %s", op.State)
	}
}

func TestQueueLength_ReflectsPendingEntries(t *testing.T) {
	runner := &stubRunner{}
	e := newEngineForTest(t, runner, EngineConfig{})

	e.Enqueue(models.WorkerResult{WorkerID: "w1", Task: models.Task{ID: "t1"}})
	e.Enqueue(models.WorkerResult{WorkerID: "w2", Task: models.Task{ID: "t2"}})

	if e.QueueLength() != 2 {
		t.Fatalf("expected queue length 2, got %d", e.QueueLength())
	}
	if _, err := e.ProcessNext(context.Background()); err != nil {
		t.Fatalf("ProcessNext() error = %v", err)
	}
	if e.QueueLength() != 1 {
		t.Fatalf("expected queue length 1 after one ProcessNext, got %d", e.QueueLength())
	}
}

var (
	errFFNotPossible = fmtErrorf("fast-forward not possible")
	errMergeConflict = fmtErrorf("merge conflict")
)

func fmtErrorf(msg string) error {
	return &testError{msg}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
