package worker

import (
	"context"
	"testing"
	"time"

	"github.com/ShayCichocki/alphie/internal/git"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// fakeEngine runs a scripted sequence of outcomes, one per call.
type fakeEngine struct {
	outcomes []IterationOutcome
	errs     []error
	calls    int
	onCall   func(call int)
}

func (f *fakeEngine) RunIteration(ctx context.Context, req IterationRequest) (IterationOutcome, error) {
	i := f.calls
	f.calls++
	if f.onCall != nil {
		f.onCall(i)
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	if i < len(f.outcomes) {
		return f.outcomes[i], err
	}
	return IterationOutcome{}, err
}

// fakeGitRunner reports a fixed commit count for rev-list --count.
type fakeGitRunner struct {
	git.Runner
	count string
	err   error
}

func (f *fakeGitRunner) Run(args ...string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.count, nil
}

func testWorktree() *models.Worktree {
	return &models.Worktree{ID: "wt-1", Path: "/tmp/wt-1", Branch: "worktree/t1"}
}

func drainEvents(w *Worker) []Event {
	var events []Event
	for e := range w.Events() {
		events = append(events, e)
	}
	return events
}

func TestStart_CompletesOnFirstIteration(t *testing.T) {
	engine := &fakeEngine{outcomes: []IterationOutcome{{Completed: true}}}
	task := models.Task{ID: "t1"}
	w := New("w1", task, testWorktree(), engine, Config{MaxIterations: 5, BaseRevision: "main"},
		func(path string) git.Runner { return &fakeGitRunner{count: "3"} })

	done := make(chan models.WorkerResult, 1)
	go func() { done <- w.Start(context.Background()) }()
	events := drainEvents(w)
	result := <-done

	if !result.Success || !result.TaskCompleted {
		t.Fatalf("expected success+completed, got %+v", result)
	}
	if result.IterationsRun != 1 {
		t.Fatalf("expected 1 iteration run, got %d", result.IterationsRun)
	}
	if result.CommitCount != 3 {
		t.Fatalf("expected commit count 3, got %d", result.CommitCount)
	}
	if events[0].Type != EventStarted || events[len(events)-1].Type != EventCompleted {
		t.Fatalf("expected started...completed envelope, got %+v", events)
	}
}

func TestStart_ExhaustsIterationsWithoutCompletion(t *testing.T) {
	engine := &fakeEngine{outcomes: []IterationOutcome{{}, {}, {}}}
	task := models.Task{ID: "t1"}
	w := New("w1", task, testWorktree(), engine, Config{MaxIterations: 3}, nil)

	go drainEvents(w)
	result := w.Start(context.Background())

	if !result.Success || result.TaskCompleted {
		t.Fatalf("expected success without completion, got %+v", result)
	}
	if result.IterationsRun != 3 {
		t.Fatalf("expected 3 iterations run, got %d", result.IterationsRun)
	}
}

func TestStart_IterationErrorFailsWorker(t *testing.T) {
	boom := &testError{"agent crashed"}
	engine := &fakeEngine{outcomes: []IterationOutcome{{}}, errs: []error{boom}}
	task := models.Task{ID: "t1"}
	w := New("w1", task, testWorktree(), engine, Config{MaxIterations: 3}, nil)

	go drainEvents(w)
	result := w.Start(context.Background())

	if result.Success {
		t.Fatalf("expected failure, got %+v", result)
	}
	if result.Error == nil || result.Error.Error() != boom.Error() {
		t.Fatalf("expected error message propagated, got %v", result.Error)
	}
}

func TestStop_PreventsNextIteration(t *testing.T) {
	// Stop is requested while iteration 1 is running, so the worker must
	// finish that iteration and not start iteration 2.
	var w *Worker
	engine := &fakeEngine{outcomes: []IterationOutcome{{}, {}, {}}, onCall: func(call int) {
		if call == 0 {
			w.Stop()
		}
	}}
	task := models.Task{ID: "t1"}
	w = New("w1", task, testWorktree(), engine, Config{MaxIterations: 5}, nil)

	var events []Event
	eventsDone := make(chan struct{})
	go func() {
		for e := range w.Events() {
			events = append(events, e)
		}
		close(eventsDone)
	}()

	result := w.Start(context.Background())
	<-eventsDone

	if result.IterationsRun != 1 {
		t.Fatalf("expected exactly 1 iteration before stop, got %d", result.IterationsRun)
	}
	found := false
	for _, e := range events {
		if e.Type == EventStopped {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a stopped event, got %+v", events)
	}
}

func TestPauseResume_BlocksUntilResumed(t *testing.T) {
	engine := &fakeEngine{outcomes: []IterationOutcome{{}, {Completed: true}}}
	task := models.Task{ID: "t1"}
	w := New("w1", task, testWorktree(), engine, Config{MaxIterations: 5}, nil)
	w.Pause()

	go drainEvents(w)
	resultCh := make(chan models.WorkerResult, 1)
	go func() { resultCh <- w.Start(context.Background()) }()

	select {
	case <-resultCh:
		t.Fatalf("expected worker to block while paused")
	case <-time.After(30 * time.Millisecond):
	}

	w.Resume()
	result := <-resultCh
	if !result.TaskCompleted {
		t.Fatalf("expected task to complete after resume, got %+v", result)
	}
}

func TestCountCommits_FailureYieldsZero(t *testing.T) {
	engine := &fakeEngine{outcomes: []IterationOutcome{{Completed: true}}}
	task := models.Task{ID: "t1"}
	w := New("w1", task, testWorktree(), engine, Config{BaseRevision: "main"},
		func(path string) git.Runner { return &fakeGitRunner{err: &testError{"not a repo"}} })

	go drainEvents(w)
	result := w.Start(context.Background())
	if result.CommitCount != 0 {
		t.Fatalf("expected 0 commits on counting failure, got %d", result.CommitCount)
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
