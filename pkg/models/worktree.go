package models

import "time"

// WorktreeStatus is the lifecycle state of a pooled worktree.
type WorktreeStatus string

const (
	WorktreeStatusCreating WorktreeStatus = "creating"
	WorktreeStatusReady    WorktreeStatus = "ready"
	WorktreeStatusInUse    WorktreeStatus = "in_use"
	WorktreeStatusMerging  WorktreeStatus = "merging"
	WorktreeStatusCleaning WorktreeStatus = "cleaning"
	WorktreeStatusError    WorktreeStatus = "error"
)

// Valid returns true if the status is a known value.
func (s WorktreeStatus) Valid() bool {
	switch s {
	case WorktreeStatusCreating, WorktreeStatusReady, WorktreeStatusInUse,
		WorktreeStatusMerging, WorktreeStatusCleaning, WorktreeStatusError:
		return true
	default:
		return false
	}
}

// Worktree is an opaque handle to one checked-out working copy managed by
// the WorktreeManager. Only the manager may release its backing storage.
type Worktree struct {
	// ID is a stable handle, independent of on-disk path or branch name.
	ID string
	// Path is the absolute filesystem path of the checkout.
	Path string
	// Branch is the sanitized, possibly suffixed branch name.
	Branch string
	// WorkerID is the worker this worktree is currently bound to, if any.
	WorkerID string
	// TaskID is the task this worktree is currently bound to, if any.
	TaskID string
	// Status is the current lifecycle state.
	Status WorktreeStatus
	// CreatedAt is when the worktree was checked out.
	CreatedAt time.Time
}
