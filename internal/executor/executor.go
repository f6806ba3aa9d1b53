// Package executor coordinates the whole parallel run: it pulls tasks
// from a tracker, asks the analyzer whether the backlog is worth
// parallelizing, then walks the dependency groups batch by batch,
// spawning workers into pooled worktrees and draining their results
// through the merge engine and conflict resolver.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/alphie/internal/git"
	"github.com/ShayCichocki/alphie/internal/graph"
	"github.com/ShayCichocki/alphie/internal/merge"
	"github.com/ShayCichocki/alphie/internal/worker"
	"github.com/ShayCichocki/alphie/internal/worktree"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// State is the executor's top-level status, observable via GetState.
type State string

const (
	StateIdle        State = "idle"
	StateAnalyzing   State = "analyzing"
	StateExecuting   State = "executing"
	StateMerging     State = "merging"
	StateInterrupted State = "interrupted"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

// TaskFilter narrows which tasks GetTasks returns.
type TaskFilter struct {
	StatusIn    []models.TaskStatus
	IncludeIDs  []string // when non-empty, only these ids are eligible
	ExcludeIDs  []string
}

// CompletionResult is returned by a successful CompleteTask call.
type CompletionResult struct {
	Completed bool
}

// Tracker is the external issue-tracking collaborator. GetStateFiles and
// ClearCache are optional: implement CacheClearer/StateFileProvider below
// to opt in.
type Tracker interface {
	GetTasks(filter TaskFilter) ([]models.Task, error)
	UpdateTaskStatus(id string, status models.TaskStatus) error
	CompleteTask(id string, reason string) (CompletionResult, error)
}

// StateFileProvider is an optional Tracker capability: paths to on-disk
// state files that must be snapshotted/restored around each merge.
type StateFileProvider interface {
	GetStateFiles() ([]string, error)
}

// CacheClearer is an optional Tracker capability, invoked after a state
// file restore so an in-memory cache doesn't serve stale data.
type CacheClearer interface {
	ClearCache() error
}

// EngineFactory builds the black-box iteration engine for one task. The
// returned engine is used for the lifetime of a single Worker.
type EngineFactory func(task models.Task) worker.IterationEngine

// Config is the executor's full config surface (spec.md §6).
type Config struct {
	MaxWorkers             int
	WorktreeDir            string
	MaxIterationsPerWorker int
	IterationDelay         time.Duration
	AIConflictResolution   bool
	MaxRequeueCount        int
	DirectMerge            bool
	ConfidenceThreshold    float64
	MinFreeMemoryMB        int
	MaxCPUUtilization      float64
	FilteredTaskIDs        []string
	// Namespace names the dotfile directory workers and the progress
	// fan-out use, e.g. ".alphie" -> ".alphie/progress.md".
	Namespace string
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 3
	}
	if c.MaxIterationsPerWorker <= 0 {
		c.MaxIterationsPerWorker = 1
	}
	if c.MaxRequeueCount <= 0 {
		c.MaxRequeueCount = 1
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.8
	}
	if c.Namespace == "" {
		c.Namespace = ".parallel-engine"
	}
	return c
}

// Result is Execute's return value.
type Result struct {
	State             State
	RanParallel       bool
	TasksCompleted    int
	TasksFailed       int
	PendingConflicts  int
}

type pendingConflict struct {
	operationID   string
	workerID      string
	taskID        string
	conflictFiles []string
}

// Executor is the top-level coordinator described by spec.md §4.6.
type Executor struct {
	repoPath string
	git      git.Runner
	newGit   func(path string) git.Runner
	tracker  Tracker
	worktrees *worktree.Manager
	mergeEngine *merge.Engine
	resolver *merge.Resolver
	engineFactory EngineFactory
	cfg      Config

	emitter *emitter

	mu               sync.RWMutex
	state            State
	requeueCounts    map[string]int
	pendingConflicts map[string]pendingConflict

	stopFlag int32

	debugLog func(format string, args ...interface{})
}

// New builds an Executor. It also constructs the merge engine (which, per
// merge.NewEngine, creates the session branch immediately unless
// cfg.DirectMerge is set).
func New(repoPath string, runner git.Runner, tracker Tracker, worktrees *worktree.Manager, engineFactory EngineFactory, newGit func(path string) git.Runner, cfg Config) (*Executor, error) {
	cfg = cfg.withDefaults()

	var stateFiles []string
	if sfp, ok := tracker.(StateFileProvider); ok {
		if paths, err := sfp.GetStateFiles(); err == nil {
			stateFiles = paths
		}
	}

	mergeEngine, err := merge.NewEngine(repoPath, runner, &trackerStateProtector{tracker: tracker}, merge.EngineConfig{
		DirectMerge:    cfg.DirectMerge,
		StateFilePaths: stateFiles,
	})
	if err != nil {
		return nil, fmt.Errorf("create merge engine: %w", err)
	}

	resolver := merge.NewResolver(repoPath, runner, merge.ResolverConfig{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		AutoResolve:         cfg.AIConflictResolution,
	}, nil)

	return &Executor{
		repoPath:         repoPath,
		git:              runner,
		newGit:           newGit,
		tracker:          tracker,
		worktrees:        worktrees,
		mergeEngine:      mergeEngine,
		resolver:         resolver,
		engineFactory:    engineFactory,
		cfg:              cfg,
		emitter:          newEmitter(),
		state:            StateIdle,
		requeueCounts:    make(map[string]int),
		pendingConflicts: make(map[string]pendingConflict),
		debugLog:         func(string, ...interface{}) {},
	}, nil
}

// SetDebugLog installs a logging callback; pass nil to silence again.
func (ex *Executor) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn == nil {
		fn = func(string, ...interface{}) {}
	}
	ex.mu.Lock()
	ex.debugLog = fn
	ex.mu.Unlock()
}

// Subscribe registers an event listener, idempotent on id.
func (ex *Executor) Subscribe(id string, fn Listener) { ex.emitter.Subscribe(id, fn) }

// Unsubscribe removes a previously registered listener.
func (ex *Executor) Unsubscribe(id string) { ex.emitter.Unsubscribe(id) }

// GetState returns the executor's current top-level status.
func (ex *Executor) GetState() State {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	return ex.state
}

func (ex *Executor) setState(s State) {
	ex.mu.Lock()
	ex.state = s
	ex.mu.Unlock()
}

// Stop requests cooperative cancellation of the in-flight Execute call.
func (ex *Executor) Stop() { atomic.StoreInt32(&ex.stopFlag, 1) }

func (ex *Executor) stopRequested() bool { return atomic.LoadInt32(&ex.stopFlag) == 1 }

func (ex *Executor) emit(evt Event) {
	evt.Timestamp = time.Now()
	ex.emitter.emit(evt)
}

// Execute runs the full parallel flow once. Per spec.md §4.6, if the
// analyzer's RecommendParallel is false, Execute returns immediately with
// RanParallel=false and the caller is expected to fall back to sequential
// execution of the same task set.
func (ex *Executor) Execute(ctx context.Context) (Result, error) {
	atomic.StoreInt32(&ex.stopFlag, 0)
	ex.setState(StateAnalyzing)
	ex.emit(Event{Type: EventParallelStarted})

	tasks, err := ex.fetchTasks()
	if err != nil {
		ex.setState(StateFailed)
		return Result{State: StateFailed}, fmt.Errorf("fetch tasks: %w", err)
	}

	analysis := graph.Analyze(tasks)
	if !analysis.RecommendParallel {
		ex.setState(StateIdle)
		return Result{State: StateIdle, RanParallel: false}, nil
	}

	advice := graph.RecommendParallelism(tasks, analysis, ex.cfg.MaxWorkers)
	batchSize := advice.RecommendedWorkers
	if batchSize <= 0 {
		batchSize = ex.cfg.MaxWorkers
	}
	ex.debugLog("[executor] parallelism advice: %d workers (%s, %s)", batchSize, advice.Confidence, advice.Reason)

	if !ex.cfg.DirectMerge {
		ex.emit(Event{Type: EventParallelSessionBranchCreated, Message: ex.mergeEngine.SessionBranch()})
	}

	byID := make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	ex.setState(StateExecuting)

	summary := Result{State: StateExecuting, RanParallel: true}
	interrupted := false

groups:
	for _, group := range analysis.Groups {
		if ex.stopRequested() || ctx.Err() != nil {
			interrupted = true
			ex.reopenInProgress(group.TaskIDs, byID)
			break groups
		}
		ex.emit(Event{Type: EventParallelGroupStarted, GroupDepth: group.Depth})

		groupTasks := make([]models.Task, 0, len(group.TaskIDs))
		for _, id := range group.TaskIDs {
			if t, ok := byID[id]; ok {
				groupTasks = append(groupTasks, t)
			}
		}

		for len(groupTasks) > 0 {
			if ex.stopRequested() || ctx.Err() != nil {
				interrupted = true
				ids := make([]string, 0, len(groupTasks))
				for _, t := range groupTasks {
					ids = append(ids, t.ID)
				}
				ex.reopenInProgress(ids, byID)
				break groups
			}

			n := batchSize
			if n > len(groupTasks) {
				n = len(groupTasks)
			}
			batch := groupTasks[:n]
			groupTasks = groupTasks[n:]

			results := ex.runBatch(ctx, batch)
			ex.processBatchResults(ctx, results, &summary)
		}

		ex.emit(Event{Type: EventParallelGroupCompleted, GroupDepth: group.Depth})
	}

	if !interrupted {
		ex.runRequeuedRetries(ctx, byID, &summary)
	}

	ex.cleanup()

	final := StateCompleted
	switch {
	case interrupted:
		final = StateInterrupted
	case summary.TasksCompleted < analysis.ActionableTaskCount || summary.TasksFailed > 0:
		final = StateInterrupted
	}
	ex.setState(final)
	summary.State = final
	summary.PendingConflicts = len(ex.pendingConflictIDs())

	if final == StateFailed {
		ex.emit(Event{Type: EventParallelFailed})
	} else if final == StateInterrupted {
		ex.emit(Event{Type: EventParallelInterrupted})
	} else {
		ex.emit(Event{Type: EventParallelCompleted})
	}

	return summary, nil
}

func (ex *Executor) fetchTasks() ([]models.Task, error) {
	filter := TaskFilter{
		StatusIn:   []models.TaskStatus{models.TaskStatusOpen, models.TaskStatusInProgress},
		IncludeIDs: ex.cfg.FilteredTaskIDs,
	}
	return ex.tracker.GetTasks(filter)
}

func (ex *Executor) reopenInProgress(taskIDs []string, byID map[string]models.Task) {
	for _, id := range taskIDs {
		t, ok := byID[id]
		if !ok || t.Status != models.TaskStatusInProgress {
			continue
		}
		_ = ex.tracker.UpdateTaskStatus(id, models.TaskStatusOpen)
	}
}

// runBatch acquires worktrees and runs workers concurrently for one batch,
// collecting every result (including acquisition/iteration failures) via
// an AllSettled-style errgroup: a failing worker never aborts its peers.
func (ex *Executor) runBatch(ctx context.Context, batch []models.Task) []models.WorkerResult {
	results := make([]models.WorkerResult, len(batch))

	baseRevision, err := ex.git.CurrentBranch()
	if err != nil {
		baseRevision = ex.mergeEngine.SessionBranch()
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range batch {
		i, task := i, task
		_ = ex.tracker.UpdateTaskStatus(task.ID, models.TaskStatusInProgress)

		g.Go(func() error {
			workerID := fmt.Sprintf("worker-%s", task.ID)
			wt, err := ex.worktrees.Acquire(gctx, workerID, task.ID, baseRevision)
			if err != nil {
				ex.emit(Event{Type: EventWorkerFailed, TaskID: task.ID, WorkerID: workerID, Err: err})
				results[i] = models.WorkerResult{WorkerID: workerID, Task: task, Success: false, Error: err}
				return nil
			}
			defer func() { _ = ex.worktrees.Release(wt.ID) }()

			engine := ex.engineFactory(task)
			wcfg := worker.Config{
				MaxIterations:  ex.cfg.MaxIterationsPerWorker,
				IterationDelay: ex.cfg.IterationDelay,
				BaseRevision:   baseRevision,
			}
			w := worker.New(workerID, task, wt, engine, wcfg, ex.newGit)

			done := make(chan struct{})
			go func() {
				defer close(done)
				for range w.Events() {
					// Iteration-level events are internal to the worker;
					// the executor's event stream only surfaces the
					// started/completed/failed envelope (spec.md §6).
				}
			}()

			ex.emit(Event{Type: EventWorkerStarted, TaskID: task.ID, WorkerID: workerID})
			result := w.Start(gctx)
			<-done

			if result.Success {
				ex.emit(Event{Type: EventWorkerCompleted, TaskID: task.ID, WorkerID: workerID})
			} else {
				ex.emit(Event{Type: EventWorkerFailed, TaskID: task.ID, WorkerID: workerID, Err: result.Error})
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// processBatchResults implements the two-phase merge rule: every
// successful-with-commits result is merged first, then every conflict it
// produced is resolved, in that order, so conflict resolution always sees
// an up-to-date session branch.
func (ex *Executor) processBatchResults(ctx context.Context, results []models.WorkerResult, summary *Result) {
	var toResolve []pendingConflict

	for _, result := range results {
		if !result.Success || !result.TaskCompleted {
			_ = ex.tracker.UpdateTaskStatus(result.Task.ID, models.TaskStatusOpen)
			summary.TasksFailed++
			continue
		}

		opID := ex.mergeEngine.Enqueue(result)
		ex.emit(Event{Type: EventMergeEnqueued, TaskID: result.Task.ID, WorkerID: result.WorkerID, OperationID: opID})

		ex.setState(StateMerging)
		pr, err := ex.mergeEngine.ProcessNext(ctx)
		ex.setState(StateExecuting)
		if err != nil || pr == nil {
			ex.emit(Event{Type: EventMergeFailed, TaskID: result.Task.ID, OperationID: opID, Err: err})
			ex.handleMergeFailure(result)
			summary.TasksFailed++
			continue
		}

		if pr.Success {
			ex.emit(Event{Type: EventMergeSucceeded, TaskID: result.Task.ID, OperationID: opID})
			ex.completeTask(result.Task.ID, summary)
			ex.appendProgressNote(result)
			continue
		}

		if pr.HadConflicts {
			op, _ := ex.mergeEngine.Operation(opID)
			var files []string
			if op != nil {
				files = op.ConflictFiles
			}
			ex.emit(Event{Type: EventMergeConflicted, TaskID: result.Task.ID, OperationID: opID})
			toResolve = append(toResolve, pendingConflict{
				operationID:   opID,
				workerID:      result.WorkerID,
				taskID:        result.Task.ID,
				conflictFiles: files,
			})
			continue
		}

		ex.emit(Event{Type: EventMergeFailed, TaskID: result.Task.ID, OperationID: opID})
		ex.handleMergeFailure(result)
		summary.TasksFailed++
	}

	for _, pc := range toResolve {
		ex.resolveConflict(pc, summary)
	}
}

func (ex *Executor) resolveConflict(pc pendingConflict, summary *Result) {
	fileResults := ex.resolver.ResolveConflicts(pc.conflictFiles)
	if merge.AllResolved(fileResults) {
		if err := ex.mergeEngine.CompleteConflictedMerge(pc.operationID, pc.workerID, true); err == nil {
			ex.emit(Event{Type: EventConflictResolved, TaskID: pc.taskID, OperationID: pc.operationID})
			ex.completeTask(pc.taskID, summary)
			return
		}
	}

	ex.emit(Event{Type: EventConflictUnresolved, TaskID: pc.taskID, OperationID: pc.operationID})
	ex.mu.Lock()
	ex.pendingConflicts[pc.operationID] = pc
	ex.mu.Unlock()

	ex.requeueOrLeaveOpen(pc.taskID)
	summary.TasksFailed++
}

func (ex *Executor) handleMergeFailure(result models.WorkerResult) {
	ex.requeueOrLeaveOpen(result.Task.ID)
}

// requeueOrLeaveOpen implements the re-queue counter invariant: the task
// goes back to open either way, but once its counter exceeds
// MaxRequeueCount it is not included in this run's catch-up retry pass.
func (ex *Executor) requeueOrLeaveOpen(taskID string) {
	ex.mu.Lock()
	ex.requeueCounts[taskID]++
	ex.mu.Unlock()
	_ = ex.tracker.UpdateTaskStatus(taskID, models.TaskStatusOpen)
}

func (ex *Executor) completeTask(taskID string, summary *Result) {
	if _, err := ex.tracker.CompleteTask(taskID, ""); err == nil {
		summary.TasksCompleted++
	}
}

// runRequeuedRetries re-attempts, once, every task that was reopened this
// run due to a merge failure or unresolved conflict and is still under
// its requeue cap. Dependencies are already merged by this point, so
// retries run as a single flat batch rather than walking groups again.
func (ex *Executor) runRequeuedRetries(ctx context.Context, byID map[string]models.Task, summary *Result) {
	// attempted[id] is the requeue count a task was last retried at; it is
	// retried again only after a further failure raises its count.
	attempted := make(map[string]int)
	for {
		if ex.stopRequested() || ctx.Err() != nil {
			return
		}
		var retryable []models.Task
		ex.mu.RLock()
		for taskID, count := range ex.requeueCounts {
			if count > ex.cfg.MaxRequeueCount || attempted[taskID] == count {
				continue
			}
			if t, ok := byID[taskID]; ok && t.Status != models.TaskStatusCompleted {
				retryable = append(retryable, t)
			}
		}
		ex.mu.RUnlock()
		if len(retryable) == 0 {
			return
		}
		sort.Slice(retryable, func(i, j int) bool { return retryable[i].Priority < retryable[j].Priority })

		ex.mu.RLock()
		for _, t := range retryable {
			attempted[t.ID] = ex.requeueCounts[t.ID]
		}
		ex.mu.RUnlock()

		batchSize := ex.cfg.MaxWorkers
		for len(retryable) > 0 {
			n := batchSize
			if n > len(retryable) {
				n = len(retryable)
			}
			batch := retryable[:n]
			retryable = retryable[n:]
			results := ex.runBatch(ctx, batch)
			ex.processBatchResults(ctx, results, summary)
		}
	}
}

// RetryConflictResolution re-runs the resolver for a stored, still-pending
// conflict. Returns true if it is now resolved and the task was marked
// complete.
func (ex *Executor) RetryConflictResolution(operationID string) (bool, error) {
	ex.mu.RLock()
	pc, ok := ex.pendingConflicts[operationID]
	ex.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("no pending conflict with operation id %q", operationID)
	}

	results := ex.resolver.ResolveConflicts(pc.conflictFiles)
	if !merge.AllResolved(results) {
		return false, nil
	}
	if err := ex.mergeEngine.CompleteConflictedMerge(pc.operationID, pc.workerID, true); err != nil {
		return false, err
	}

	var summary Result
	ex.completeTask(pc.taskID, &summary)
	ex.mu.Lock()
	delete(ex.pendingConflicts, operationID)
	ex.mu.Unlock()
	ex.emit(Event{Type: EventConflictResolved, TaskID: pc.taskID, OperationID: operationID})
	return true, nil
}

// SkipFailedConflict abandons a pending conflict: the merge is rolled back
// and the task remains incomplete.
func (ex *Executor) SkipFailedConflict(operationID string) error {
	ex.mu.RLock()
	pc, ok := ex.pendingConflicts[operationID]
	ex.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no pending conflict with operation id %q", operationID)
	}
	if err := ex.mergeEngine.CompleteConflictedMerge(pc.operationID, pc.workerID, false); err != nil {
		return err
	}
	ex.mu.Lock()
	delete(ex.pendingConflicts, operationID)
	ex.mu.Unlock()
	return nil
}

// HasPendingConflict reports whether an operation is still awaiting
// resolution.
func (ex *Executor) HasPendingConflict(operationID string) bool {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	_, ok := ex.pendingConflicts[operationID]
	return ok
}

func (ex *Executor) pendingConflictIDs() []string {
	ex.mu.RLock()
	defer ex.mu.RUnlock()
	ids := make([]string, 0, len(ex.pendingConflicts))
	for id := range ex.pendingConflicts {
		ids = append(ids, id)
	}
	return ids
}

// PendingConflictIDs exposes pendingConflictIDs for callers (the CLI's
// status command) that need to list operations awaiting resolution.
func (ex *Executor) PendingConflictIDs() []string {
	return ex.pendingConflictIDs()
}

// appendProgressNote fans a worker's per-task progress notes out to the
// repo-level progress file. Missing source files are silently ignored.
func (ex *Executor) appendProgressNote(result models.WorkerResult) {
	src := filepath.Join(result.WorktreePath, ex.cfg.Namespace, "progress.md")
	data, err := os.ReadFile(src)
	if err != nil {
		return
	}

	dstPath := filepath.Join(ex.repoPath, ex.cfg.Namespace, "progress.md")
	_ = os.MkdirAll(filepath.Dir(dstPath), 0755)

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\n## Parallel Task: %s (%s)\n\n", result.Task.Title, result.Task.ID))
	sb.Write(data)
	sb.WriteString("\n")

	f, err := os.OpenFile(dstPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(sb.String())
}

// cleanup removes every worktree, deletes merge tags, and returns to the
// original branch, best-effort per spec.md §4.6 step 7.
func (ex *Executor) cleanup() {
	_ = ex.worktrees.CleanupAll()
	_ = ex.mergeEngine.Shutdown()
}

// trackerStateProtector bridges merge.StateProtector to a Tracker's
// optional on-disk state files and cache-clear hook.
type trackerStateProtector struct {
	tracker Tracker
}

func (p *trackerStateProtector) Snapshot(paths []string) (map[string][]byte, error) {
	snap := make(map[string][]byte, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		snap[path] = data
	}
	return snap, nil
}

func (p *trackerStateProtector) Restore(snapshot map[string][]byte) error {
	for path, data := range snapshot {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return err
		}
	}
	return nil
}

func (p *trackerStateProtector) ClearCache() {
	if cc, ok := p.tracker.(CacheClearer); ok {
		_ = cc.ClearCache()
	}
}
