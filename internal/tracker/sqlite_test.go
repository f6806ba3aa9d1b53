package tracker

import (
	"path/filepath"
	"testing"

	"github.com/ShayCichocki/alphie/internal/executor"
	"github.com/ShayCichocki/alphie/pkg/models"
)

func TestSQLite_SeedIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()

	if err := s.Seed(sampleTasks()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	// Re-seeding with one status already advanced shouldn't clobber it.
	if err := s.UpdateTaskStatus("a", models.TaskStatusBlocked); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.Seed(sampleTasks()); err != nil {
		t.Fatalf("re-seed: %v", err)
	}

	tasks, err := s.GetTasks(executor.TaskFilter{})
	if err != nil || len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %+v (err=%v)", tasks, err)
	}
	byID := make(map[string]models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}
	if byID["a"].Status != models.TaskStatusBlocked {
		t.Fatalf("expected re-seed to preserve advanced status, got %s", byID["a"].Status)
	}
}

func TestSQLite_GetTasksFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()
	if err := s.Seed(sampleTasks()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	open, err := s.GetTasks(executor.TaskFilter{StatusIn: []models.TaskStatus{models.TaskStatusOpen}})
	if err != nil || len(open) != 2 {
		t.Fatalf("expected 2 open tasks, got %+v (err=%v)", open, err)
	}

	excluded, err := s.GetTasks(executor.TaskFilter{ExcludeIDs: []string{"a", "b"}})
	if err != nil || len(excluded) != 1 || excluded[0].ID != "c" {
		t.Fatalf("expected only task c, got %+v (err=%v)", excluded, err)
	}
}

func TestSQLite_CompleteTaskRecordsReasonAndNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer s.Close()
	if err := s.Seed(sampleTasks()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := s.CompleteTask("a", "auto-merged")
	if err != nil || !result.Completed {
		t.Fatalf("complete task: result=%+v err=%v", result, err)
	}

	tasks, _ := s.GetTasks(executor.TaskFilter{IncludeIDs: []string{"a"}})
	if len(tasks) != 1 || tasks[0].Status != models.TaskStatusCompleted {
		t.Fatalf("expected task a completed, got %+v", tasks)
	}
	if tasks[0].CompletedAt == nil {
		t.Fatalf("expected CompletedAt to be set")
	}
	if tasks[0].Metadata["completion_reason"] != "auto-merged" {
		t.Fatalf("expected completion reason recorded, got %+v", tasks[0].Metadata)
	}

	if _, err := s.CompleteTask("missing", ""); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if err := s.UpdateTaskStatus("missing", models.TaskStatusOpen); err != ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}
