// Package tracker provides ready-to-use implementations of the external
// issue-tracking collaborator the executor depends on
// (internal/executor.Tracker): an in-memory tracker for tests and small
// one-shot runs, a JSON/YAML file-backed tracker for single-machine use
// between runs, and a SQLite-backed tracker for larger backlogs.
package tracker

import (
	"errors"
	"sort"

	"github.com/ShayCichocki/alphie/internal/executor"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// ErrTaskNotFound is returned by UpdateTaskStatus/CompleteTask when the
// given id has no matching task.
var ErrTaskNotFound = errors.New("tracker: task not found")

// matchesFilter applies an executor.TaskFilter to a single task. Shared by
// every backend so filter semantics stay identical regardless of storage.
func matchesFilter(t models.Task, filter executor.TaskFilter) bool {
	if len(filter.StatusIn) > 0 {
		ok := false
		for _, s := range filter.StatusIn {
			if t.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(filter.IncludeIDs) > 0 && !containsID(filter.IncludeIDs, t.ID) {
		return false
	}
	if containsID(filter.ExcludeIDs, t.ID) {
		return false
	}
	return true
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// sortedByID returns a copy of tasks sorted by ID, giving every backend the
// same deterministic GetTasks ordering regardless of map iteration or
// storage order.
func sortedByID(tasks []models.Task) []models.Task {
	out := make([]models.Task, len(tasks))
	copy(out, tasks)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
