package models

import (
	"strings"
	"time"
)

// TaskStatus represents the current state of a task as tracked by the
// external tracker collaborator.
type TaskStatus string

const (
	// TaskStatusOpen indicates the task is ready to be picked up.
	TaskStatusOpen TaskStatus = "open"
	// TaskStatusInProgress indicates the task is being worked on.
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusBlocked indicates the task cannot proceed (e.g. a cyclic
	// dependency or an unresolved conflict from a prior attempt).
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCompleted indicates the task's branch has been merged.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusCancelled indicates the task was withdrawn by the tracker.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusOpen, TaskStatusInProgress, TaskStatusBlocked, TaskStatusCompleted, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status represents a task that will not be
// scheduled again this run.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled
}

// Task is a unit of backlog work as exposed by the tracker collaborator
// (§6). The engine never mutates a Task directly; all transitions go
// through the tracker's UpdateTaskStatus/CompleteTask.
type Task struct {
	// ID is the opaque, tracker-assigned identifier.
	ID string `json:"id"`
	// Title is the short human-readable summary, also used by the
	// parallelism advisor's keyword heuristics.
	Title string `json:"title"`
	// Description provides detail; also scanned by the advisor.
	Description string `json:"description,omitempty"`
	// Status is the task's current tracker-reported state.
	Status TaskStatus `json:"status"`
	// Priority ranks urgency, 0 highest, 4 lowest.
	Priority int `json:"priority"`
	// DependsOn lists task IDs that must complete before this task may run.
	DependsOn []string `json:"depends_on,omitempty"`
	// Blocks lists task IDs that this task gates. Edges declared here are
	// the mirror image of DependsOn and are de-duplicated against it by
	// the analyzer.
	Blocks []string `json:"blocks,omitempty"`
	// Labels are free-form tags; the advisor matches keyword families
	// against both Labels and Title/Description.
	Labels []string `json:"labels,omitempty"`
	// Metadata is opaque to every component except the parallelism
	// advisor, which reads Metadata["affects"] as a []string of file
	// paths when present.
	Metadata map[string]any `json:"metadata,omitempty"`
	// CreatedAt is when the tracker created the task.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task transitioned to completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AffectedFiles reads Metadata["affects"] as a []string, tolerating both
// []string and []interface{} (the shape JSON decoding produces).
func (t Task) AffectedFiles() []string {
	raw, ok := t.Metadata["affects"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// HasLabel reports whether label is present, case-insensitively.
func (t Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
