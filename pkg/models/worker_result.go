package models

import "time"

// WorkerResult is produced once per worker run and is immutable thereafter.
type WorkerResult struct {
	// WorkerID identifies the worker that produced this result.
	WorkerID string
	// Task is the task the worker was attempting.
	Task Task
	// Success is true if the worker ran without a fatal error. It says
	// nothing about whether the agent finished the task.
	Success bool
	// TaskCompleted is true only if the agent signaled completion within
	// the per-worker iteration cap.
	TaskCompleted bool
	// IterationsRun is how many agent iterations the worker executed.
	IterationsRun int
	// DurationMs is the wall-clock duration of the worker run.
	DurationMs int64
	// BranchName is the worker's worktree branch, for the merge engine.
	BranchName string
	// CommitCount is the number of commits on BranchName beyond the base
	// revision. Zero means nothing to merge.
	CommitCount int
	// WorktreePath is the worker's worktree filesystem path.
	WorktreePath string
	// Error holds the failure detail when Success is false.
	Error error
}

// HasCommits reports whether this result produced anything to merge.
func (r WorkerResult) HasCommits() bool {
	return r.CommitCount > 0
}

// MergeState is the lifecycle state of a MergeOperation.
type MergeState string

const (
	MergeStateQueued     MergeState = "queued"
	MergeStateMerging    MergeState = "merging"
	MergeStateMerged     MergeState = "merged"
	MergeStateConflicted MergeState = "conflicted"
	MergeStateFailed     MergeState = "failed"
	MergeStateRolledBack MergeState = "rolled-back"
)

// Valid returns true if the state is a known value.
func (s MergeState) Valid() bool {
	switch s {
	case MergeStateQueued, MergeStateMerging, MergeStateMerged,
		MergeStateConflicted, MergeStateFailed, MergeStateRolledBack:
		return true
	default:
		return false
	}
}

// MergeOperation tracks one attempt to land a WorkerResult's branch.
type MergeOperation struct {
	// ID uniquely identifies this merge attempt.
	ID string
	// WorkerResult is the result being merged.
	WorkerResult WorkerResult
	// State is the current lifecycle state. Terminal once State is
	// Merged, Failed, or RolledBack.
	State MergeState
	// ConflictFiles lists paths left conflicted by the VCS, when State is
	// Conflicted.
	ConflictFiles []string
	// CheckpointTag is the pre-merge tag created for rollback.
	CheckpointTag string
	// EnqueuedAt is when the operation entered the queue.
	EnqueuedAt time.Time
	// ResolvedAt is when the operation reached a terminal state.
	ResolvedAt time.Time
}
