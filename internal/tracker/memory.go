package tracker

import (
	"sync"
	"time"

	"github.com/ShayCichocki/alphie/internal/executor"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// Memory is an in-process Tracker backed by a map. It implements no
// persistence and is meant for tests and one-shot runs started from an
// already-loaded task slice.
type Memory struct {
	mu    sync.RWMutex
	tasks map[string]models.Task
}

// NewMemory builds a Memory tracker seeded with tasks.
func NewMemory(tasks []models.Task) *Memory {
	m := &Memory{tasks: make(map[string]models.Task, len(tasks))}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *Memory) GetTasks(filter executor.TaskFilter) ([]models.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Task
	for _, t := range m.tasks {
		if matchesFilter(t, filter) {
			out = append(out, t)
		}
	}
	return sortedByID(out), nil
}

func (m *Memory) UpdateTaskStatus(id string, status models.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = status
	m.tasks[id] = t
	return nil
}

func (m *Memory) CompleteTask(id string, reason string) (executor.CompletionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return executor.CompletionResult{}, ErrTaskNotFound
	}
	now := time.Now()
	t.Status = models.TaskStatusCompleted
	t.CompletedAt = &now
	if reason != "" {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		t.Metadata["completion_reason"] = reason
	}
	m.tasks[id] = t
	return executor.CompletionResult{Completed: true}, nil
}

var _ executor.Tracker = (*Memory)(nil)
