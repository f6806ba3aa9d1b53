// Package worker wraps one invocation of the single-task iteration engine
// against one worktree, translating its black-box iteration loop into a
// WorkerResult and a stream of lifecycle events the executor can fan out.
package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/alphie/internal/git"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// IterationEngine is the single-task iteration engine, treated as a
// black-box callable: one RunIteration call is one agent iteration against
// the worker's worktree. The engine itself decides what "an iteration"
// means (one subprocess turn, one API round-trip); the worker only cares
// whether it signaled completion.
type IterationEngine interface {
	RunIteration(ctx context.Context, req IterationRequest) (IterationOutcome, error)
}

// IterationRequest describes one iteration for the engine to run.
type IterationRequest struct {
	Task         models.Task
	WorktreePath string
	IterationNum int
}

// IterationOutcome is what the engine reports after one iteration.
type IterationOutcome struct {
	// Completed is true when the agent signaled the task is done.
	Completed bool
	// Summary is a short human-readable note about what the iteration did.
	Summary string
}

// EventType names a point in a worker's lifecycle.
type EventType string

const (
	EventStarted        EventType = "started"
	EventIterationStart EventType = "iteration-start"
	EventIterationEnd   EventType = "iteration-end"
	EventCompleted      EventType = "completed"
	EventFailed         EventType = "failed"
	EventStopped        EventType = "stopped"
)

// Event is one lifecycle notification forwarded to the executor. Delivery
// is non-blocking: a slow or absent listener never stalls the worker.
type Event struct {
	Type         EventType
	WorkerID     string
	TaskID       string
	IterationNum int
	Err          error
	At           time.Time
}

// Config controls a worker's iteration loop.
type Config struct {
	// MaxIterations caps how many times RunIteration is called before the
	// worker gives up without a completion signal.
	MaxIterations int
	// IterationDelay is slept between iterations that didn't complete.
	IterationDelay time.Duration
	// BaseRevision is the ref the worktree's branch was created from, used
	// to count commits made during this run.
	BaseRevision string
}

// Worker runs one task's iteration loop inside one worktree.
type Worker struct {
	id       string
	task     models.Task
	worktree *models.Worktree
	engine   IterationEngine
	cfg      Config
	newGit   func(path string) git.Runner

	events chan Event

	stopFlag int32

	mu     sync.Mutex
	paused bool
	gate   chan struct{}

	debugLog func(format string, args ...interface{})
}

// New creates a Worker for one task running in the given worktree.
// newGit builds a git.Runner rooted at an arbitrary path (the worktree's
// own checkout), used only to count commits after the loop finishes.
func New(id string, task models.Task, wt *models.Worktree, engine IterationEngine, cfg Config, newGit func(path string) git.Runner) *Worker {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 1
	}
	return &Worker{
		id:       id,
		task:     task,
		worktree: wt,
		engine:   engine,
		cfg:      cfg,
		newGit:   newGit,
		events:   make(chan Event, 16),
		debugLog: func(string, ...interface{}) {},
	}
}

// SetDebugLog installs a logging callback; pass nil to silence again.
func (w *Worker) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn == nil {
		fn = func(string, ...interface{}) {}
	}
	w.mu.Lock()
	w.debugLog = fn
	w.mu.Unlock()
}

// Events returns the worker's lifecycle event stream. Closed once Start
// returns.
func (w *Worker) Events() <-chan Event { return w.events }

// Stop requests cooperative cancellation: the worker finishes its current
// iteration and does not start another.
func (w *Worker) Stop() { atomic.StoreInt32(&w.stopFlag, 1) }

// Pause blocks the loop before its next iteration until Resume is called.
func (w *Worker) Pause() {
	w.mu.Lock()
	if !w.paused {
		w.paused = true
		w.gate = make(chan struct{})
	}
	w.mu.Unlock()
}

// Resume releases a paused worker.
func (w *Worker) Resume() {
	w.mu.Lock()
	if w.paused {
		w.paused = false
		close(w.gate)
	}
	w.mu.Unlock()
}

func (w *Worker) waitIfPaused(ctx context.Context) error {
	w.mu.Lock()
	paused, gate := w.paused, w.gate
	w.mu.Unlock()
	if !paused {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) emit(evtType EventType, iter int, err error) {
	select {
	case w.events <- Event{Type: evtType, WorkerID: w.id, TaskID: w.task.ID, IterationNum: iter, Err: err, At: time.Now()}:
	default:
		w.debugLog("[worker %s] dropped event %s (listener not keeping up)", w.id, evtType)
	}
}

// Start runs the iteration loop to completion (or stop/cancel/failure) and
// returns the resulting WorkerResult. It never returns an error itself:
// iteration-engine failures are captured in the result's Error field so a
// rejected worker never takes down a batch.
func (w *Worker) Start(ctx context.Context) models.WorkerResult {
	start := time.Now()
	defer close(w.events)
	w.emit(EventStarted, 0, nil)

	result := models.WorkerResult{
		WorkerID:     w.id,
		Task:         w.task,
		BranchName:   w.worktree.Branch,
		WorktreePath: w.worktree.Path,
	}

	iterationsRun := 0
	taskCompleted := false
	var runErr error

loop:
	for iter := 1; iter <= w.cfg.MaxIterations; iter++ {
		if atomic.LoadInt32(&w.stopFlag) == 1 {
			w.emit(EventStopped, iter-1, nil)
			break loop
		}
		if err := w.waitIfPaused(ctx); err != nil {
			runErr = err
			break loop
		}
		if err := ctx.Err(); err != nil {
			runErr = err
			break loop
		}

		w.emit(EventIterationStart, iter, nil)
		outcome, err := w.engine.RunIteration(ctx, IterationRequest{
			Task:         w.task,
			WorktreePath: w.worktree.Path,
			IterationNum: iter,
		})
		iterationsRun = iter
		w.emit(EventIterationEnd, iter, err)
		if err != nil {
			runErr = err
			break loop
		}
		if outcome.Completed {
			taskCompleted = true
			break loop
		}

		if w.cfg.IterationDelay > 0 && iter < w.cfg.MaxIterations {
			select {
			case <-time.After(w.cfg.IterationDelay):
			case <-ctx.Done():
				runErr = ctx.Err()
				break loop
			}
		}
	}

	result.IterationsRun = iterationsRun
	result.TaskCompleted = taskCompleted
	result.DurationMs = time.Since(start).Milliseconds()

	if runErr != nil {
		result.Success = false
		result.Error = runErr
		w.emit(EventFailed, iterationsRun, runErr)
	} else {
		result.Success = true
		w.emit(EventCompleted, iterationsRun, nil)
	}

	result.CommitCount = w.countCommits()
	return result
}

// countCommits counts commits on the worktree's branch since it forked
// from BaseRevision. A counting failure is treated as zero commits rather
// than failing the whole worker: the merge engine treats zero as "nothing
// to merge", which is the safe default when the count is unknown.
func (w *Worker) countCommits() int {
	if w.newGit == nil || w.cfg.BaseRevision == "" {
		return 0
	}
	runner := w.newGit(w.worktree.Path)
	out, err := runner.Run("rev-list", "--count", w.cfg.BaseRevision+"..HEAD")
	if err != nil {
		w.debugLog("[worker %s] count commits: %v", w.id, err)
		return 0
	}
	n := 0
	for _, c := range out {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
