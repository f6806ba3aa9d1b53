package tracker

import (
	"testing"

	"github.com/ShayCichocki/alphie/internal/executor"
	"github.com/ShayCichocki/alphie/pkg/models"
)

func sampleTasks() []models.Task {
	return []models.Task{
		{ID: "a", Title: "task a", Status: models.TaskStatusOpen, Priority: 1},
		{ID: "b", Title: "task b", Status: models.TaskStatusInProgress, Priority: 2},
		{ID: "c", Title: "task c", Status: models.TaskStatusOpen, Priority: 0},
	}
}

func TestMemory_GetTasksFilters(t *testing.T) {
	m := NewMemory(sampleTasks())

	open, err := m.GetTasks(executor.TaskFilter{StatusIn: []models.TaskStatus{models.TaskStatusOpen}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(open) != 2 || open[0].ID != "a" || open[1].ID != "c" {
		t.Fatalf("expected [a c] open tasks in id order, got %+v", open)
	}

	included, err := m.GetTasks(executor.TaskFilter{IncludeIDs: []string{"b"}})
	if err != nil || len(included) != 1 || included[0].ID != "b" {
		t.Fatalf("expected only task b, got %+v (err=%v)", included, err)
	}

	excluded, err := m.GetTasks(executor.TaskFilter{ExcludeIDs: []string{"a", "b"}})
	if err != nil || len(excluded) != 1 || excluded[0].ID != "c" {
		t.Fatalf("expected only task c, got %+v (err=%v)", excluded, err)
	}
}

func TestMemory_UpdateTaskStatus(t *testing.T) {
	m := NewMemory(sampleTasks())

	if err := m.UpdateTaskStatus("a", models.TaskStatusBlocked); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tasks, _ := m.GetTasks(executor.TaskFilter{IncludeIDs: []string{"a"}})
	if tasks[0].Status != models.TaskStatusBlocked {
		t.Fatalf("expected task a blocked, got %s", tasks[0].Status)
	}

	if err := m.UpdateTaskStatus("missing", models.TaskStatusOpen); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestMemory_CompleteTask(t *testing.T) {
	m := NewMemory(sampleTasks())

	result, err := m.CompleteTask("a", "merged cleanly")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Completed {
		t.Fatalf("expected Completed=true")
	}

	tasks, _ := m.GetTasks(executor.TaskFilter{IncludeIDs: []string{"a"}})
	got := tasks[0]
	if got.Status != models.TaskStatusCompleted {
		t.Fatalf("expected status completed, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Fatalf("expected CompletedAt to be set")
	}
	if got.Metadata["completion_reason"] != "merged cleanly" {
		t.Fatalf("expected completion reason recorded, got %+v", got.Metadata)
	}

	if _, err := m.CompleteTask("missing", ""); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
