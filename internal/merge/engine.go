package merge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/ShayCichocki/alphie/internal/git"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// StateProtector snapshots and restores a tracker's on-disk state files so
// a worker's stale worktree copy cannot clobber authoritative status while
// a merge is in flight.
type StateProtector interface {
	Snapshot(paths []string) (map[string][]byte, error)
	Restore(snapshot map[string][]byte) error
	// ClearCache is invoked after Restore if the tracker exposes a
	// cache-invalidation hook; implementations without one are a no-op.
	ClearCache()
}

// NoOpStateProtector is used when no tracker state files need protecting.
type NoOpStateProtector struct{}

func (NoOpStateProtector) Snapshot([]string) (map[string][]byte, error) { return nil, nil }
func (NoOpStateProtector) Restore(map[string][]byte) error              { return nil }
func (NoOpStateProtector) ClearCache()                                  {}

// ProcessResult is ProcessNext's return value.
type ProcessResult struct {
	Success      bool
	HadConflicts bool
	OperationID  string
}

// EngineConfig controls session-branch lifecycle and merge behavior.
type EngineConfig struct {
	// DirectMerge skips the session branch: merges land directly on the
	// branch that was checked out when the engine was created.
	DirectMerge bool
	// SessionID names the session branch: ralph-session/<SessionID>.
	SessionID string
	// StateFilePaths are the tracker's on-disk state files to protect
	// around each merge attempt.
	StateFilePaths []string
}

// Engine serializes merges of worker branches into the session branch (or
// directly into the original branch when DirectMerge is set). It is a pure
// FIFO: Enqueue never blocks, ProcessNext performs exactly one merge.
type Engine struct {
	mu sync.Mutex

	git            git.Runner
	repoPath       string
	checkpoints    *CheckpointManager
	rollback       *RollbackManager
	stateProtector StateProtector

	cfg            EngineConfig
	originalBranch string
	sessionBranch  string
	sessionTag     string

	queue      []models.WorkerResult
	operations map[string]*models.MergeOperation

	debugLog func(format string, args ...interface{})
}

// NewEngine starts an Engine rooted at repoPath. Unless cfg.DirectMerge is
// set, it captures the current branch and creates a new session branch
// from the current HEAD.
func NewEngine(repoPath string, runner git.Runner, stateProtector StateProtector, cfg EngineConfig) (*Engine, error) {
	if stateProtector == nil {
		stateProtector = NoOpStateProtector{}
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.New().String()[:8]
	}

	originalBranch, err := runner.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("capture original branch: %w", err)
	}

	sessionBranch := originalBranch
	var sessionTag string
	if !cfg.DirectMerge {
		sessionBranch = "ralph-session/" + cfg.SessionID
		if err := runner.CreateAndCheckoutBranch(sessionBranch); err != nil {
			return nil, fmt.Errorf("create session branch: %w", err)
		}
		sessionTag = "alphie-session-backup-" + cfg.SessionID
		if _, err := runner.Run("tag", sessionTag); err != nil {
			return nil, fmt.Errorf("create session backup tag: %w", err)
		}
	}

	checkpoints := NewCheckpointManager(cfg.SessionID, runner)
	rollbackMgr := NewRollbackManager(runner, checkpoints)

	return &Engine{
		git:            runner,
		repoPath:       repoPath,
		checkpoints:    checkpoints,
		rollback:       rollbackMgr,
		stateProtector: stateProtector,
		cfg:            cfg,
		originalBranch: originalBranch,
		sessionBranch:  sessionBranch,
		sessionTag:     sessionTag,
		operations:     make(map[string]*models.MergeOperation),
		debugLog:       func(string, ...interface{}) {},
	}, nil
}

// SetDebugLog installs a logging callback; pass nil to silence again.
func (e *Engine) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn == nil {
		fn = func(string, ...interface{}) {}
	}
	e.mu.Lock()
	e.debugLog = fn
	e.mu.Unlock()
}

// SessionBranch returns the branch merges currently target.
func (e *Engine) SessionBranch() string { return e.sessionBranch }

// Enqueue adds a worker result to the FIFO queue. It never blocks.
func (e *Engine) Enqueue(result models.WorkerResult) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	opID := uuid.New().String()
	e.queue = append(e.queue, result)
	e.operations[opID] = &models.MergeOperation{
		ID:           opID,
		WorkerResult: result,
		State:        models.MergeStateQueued,
	}
	e.debugLog("[merge-engine] enqueued %s (queue depth %d)", result.BranchName, len(e.queue))
	return opID
}

// QueueLength reports how many worker results are waiting.
func (e *Engine) QueueLength() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Operation returns the current state of a merge attempt by ID.
func (e *Engine) Operation(operationID string) (*models.MergeOperation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	op, ok := e.operations[operationID]
	return op, ok
}

// ProcessNext performs exactly one merge attempt from the front of the
// queue. Returns nil if the queue is empty.
func (e *Engine) ProcessNext(ctx context.Context) (*ProcessResult, error) {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return nil, nil
	}
	result := e.queue[0]
	e.queue = e.queue[1:]
	var opID string
	var op *models.MergeOperation
	for id, candidate := range e.operations {
		if candidate.State == models.MergeStateQueued && candidate.WorkerResult.BranchName == result.BranchName &&
			candidate.WorkerResult.Task.ID == result.Task.ID {
			opID, op = id, candidate
			break
		}
	}
	e.mu.Unlock()

	if op == nil {
		opID = uuid.New().String()
		op = &models.MergeOperation{ID: opID, WorkerResult: result, State: models.MergeStateQueued}
	}

	if !result.HasCommits() {
		e.markState(op, models.MergeStateMerged)
		return &ProcessResult{Success: true, OperationID: opID}, nil
	}

	e.setState(op, models.MergeStateMerging)

	snapshot, _ := e.stateProtector.Snapshot(e.cfg.StateFilePaths)
	defer func() {
		_ = e.stateProtector.Restore(snapshot)
		e.stateProtector.ClearCache()
	}()

	if err := e.checkpoints.CreateCheckpoint(result.WorkerID, result.Task.ID); err != nil {
		e.debugLog("[merge-engine] checkpoint creation failed: %v", err)
	}

	if err := e.git.CheckoutBranch(e.sessionBranch); err != nil {
		e.setState(op, models.MergeStateFailed)
		return nil, fmt.Errorf("checkout session branch: %w", err)
	}

	if err := e.git.MergeFFOnly(result.BranchName); err == nil {
		_ = e.checkpoints.MarkGood(result.WorkerID)
		e.setState(op, models.MergeStateMerged)
		return &ProcessResult{Success: true, OperationID: opID}, nil
	}

	message := fmt.Sprintf("Merge task %s", result.Task.ID)
	if err := e.git.MergeNoFFMessage(result.BranchName, message); err != nil {
		conflictFiles, _ := e.git.ConflictedFiles()
		if len(conflictFiles) > 0 {
			if remaining := e.trySmartMergeCriticalFiles(result.BranchName, conflictFiles); len(remaining) == 0 {
				if err := e.git.Commit(fmt.Sprintf("Merge task %s (smart-merged critical files)", result.Task.ID)); err == nil {
					_ = e.checkpoints.MarkGood(result.WorkerID)
					e.setState(op, models.MergeStateMerged)
					return &ProcessResult{Success: true, OperationID: opID}, nil
				}
			} else {
				conflictFiles = remaining
			}
			op.ConflictFiles = conflictFiles
			e.setState(op, models.MergeStateConflicted)
			e.debugLog("[merge-engine] merge conflict for task %s: %v", result.Task.ID, conflictFiles)
			return &ProcessResult{Success: false, HadConflicts: true, OperationID: opID}, nil
		}

		_ = e.checkpoints.MarkBad(result.WorkerID)
		if _, rbErr := e.rollback.RollbackToCheckpoint(result.WorkerID, true); rbErr != nil {
			e.debugLog("[merge-engine] rollback failed: %v", rbErr)
		}
		e.setState(op, models.MergeStateFailed)
		return &ProcessResult{Success: false, HadConflicts: false, OperationID: opID}, nil
	}

	_ = e.checkpoints.MarkGood(result.WorkerID)
	e.setState(op, models.MergeStateMerged)
	return &ProcessResult{Success: true, OperationID: opID}, nil
}

// CompleteConflictedMerge is called by the ConflictResolver after it has
// resolved (or given up on) a conflicted merge's files.
func (e *Engine) CompleteConflictedMerge(operationID string, workerID string, resolved bool) error {
	e.mu.Lock()
	op, ok := e.operations[operationID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("complete conflicted merge: unknown operation %q", operationID)
	}

	if !resolved {
		_ = e.checkpoints.MarkBad(workerID)
		if _, err := e.rollback.RollbackToCheckpoint(workerID, true); err != nil {
			e.debugLog("[merge-engine] rollback after unresolved conflict failed: %v", err)
		}
		e.setState(op, models.MergeStateFailed)
		return nil
	}

	if err := e.git.Commit(fmt.Sprintf("Merge task %s (conflict resolved)", op.WorkerResult.Task.ID)); err != nil {
		return fmt.Errorf("commit resolved merge: %w", err)
	}
	_ = e.checkpoints.MarkGood(workerID)
	e.setState(op, models.MergeStateMerged)
	return nil
}

// trySmartMergeCriticalFiles runs the format-aware merge logic over any
// conflicted package-manager/config files (package.json, go.mod, etc.)
// before the conflict resolver's line-based heuristic ever sees them.
// Returns the conflict files still unresolved.
func (e *Engine) trySmartMergeCriticalFiles(workerBranch string, conflictFiles []string) []string {
	critical := GetCriticalFilesFromList(conflictFiles)
	if len(critical) == 0 {
		return conflictFiles
	}

	smartResult, err := SmartMerge(e.repoPath, critical, e.sessionBranch, workerBranch)
	if err != nil || !smartResult.Success {
		e.debugLog("[merge-engine] smart merge of critical files did not fully resolve: %v", err)
		return conflictFiles
	}
	if err := ApplySmartMerge(e.repoPath, smartResult); err != nil {
		e.debugLog("[merge-engine] applying smart merge failed: %v", err)
		return conflictFiles
	}
	for file := range smartResult.MergedFiles {
		_ = e.git.Add(file)
	}

	var remaining []string
	for _, f := range conflictFiles {
		if _, merged := smartResult.MergedFiles[f]; !merged {
			remaining = append(remaining, f)
		}
	}
	return remaining
}

func (e *Engine) setState(op *models.MergeOperation, state models.MergeState) {
	e.mu.Lock()
	op.State = state
	e.mu.Unlock()
}

func (e *Engine) markState(op *models.MergeOperation, state models.MergeState) {
	e.setState(op, state)
}

// Shutdown checks out the original branch (best-effort) and removes every
// checkpoint tag created this session.
func (e *Engine) Shutdown() error {
	_ = e.git.CheckoutBranch(e.originalBranch)
	_ = e.checkpoints.Cleanup()
	if e.sessionTag != "" {
		_, _ = e.git.Run("tag", "-d", e.sessionTag)
	}
	return nil
}
