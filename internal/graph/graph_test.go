package graph

import (
	"testing"

	"github.com/ShayCichocki/alphie/pkg/models"
)

func task(id string, dependsOn ...string) models.Task {
	return models.Task{ID: id, DependsOn: dependsOn, Status: models.TaskStatusOpen}
}

func TestAnalyze_Diamond(t *testing.T) {
	// A has no deps; B and C depend on A; D depends on both B and C.
	tasks := []models.Task{
		task("A"),
		task("B", "A"),
		task("C", "A"),
		task("D", "B", "C"),
	}

	analysis := Analyze(tasks)

	if len(analysis.CyclicTaskIDs) != 0 {
		t.Fatalf("expected no cycles, got %v", analysis.CyclicTaskIDs)
	}
	if analysis.ActionableTaskCount != 4 {
		t.Fatalf("expected 4 actionable tasks, got %d", analysis.ActionableTaskCount)
	}
	if len(analysis.Groups) != 3 {
		t.Fatalf("expected 3 depth groups, got %d: %+v", len(analysis.Groups), analysis.Groups)
	}
	if got := analysis.Groups[0].TaskIDs; len(got) != 1 || got[0] != "A" {
		t.Fatalf("group 0 should be [A], got %v", got)
	}
	if got := analysis.Groups[1].TaskIDs; len(got) != 2 || got[0] != "B" || got[1] != "C" {
		t.Fatalf("group 1 should be [B C], got %v", got)
	}
	if got := analysis.Groups[2].TaskIDs; len(got) != 1 || got[0] != "D" {
		t.Fatalf("group 2 should be [D], got %v", got)
	}
	if analysis.MaxParallelism != 2 {
		t.Fatalf("expected max parallelism 2, got %d", analysis.MaxParallelism)
	}
	if !analysis.RecommendParallel {
		t.Fatalf("expected RecommendParallel true for a 4-task diamond with a group of 2")
	}
}

func TestAnalyze_BlocksMirrorsDependsOn(t *testing.T) {
	// X blocks Y is equivalent to Y depends on X.
	tasks := []models.Task{
		{ID: "X", Blocks: []string{"Y"}},
		{ID: "Y", DependsOn: []string{"X"}},
	}

	analysis := Analyze(tasks)

	yNode := analysis.Nodes["Y"]
	if len(yNode.Dependencies) != 1 || yNode.Dependencies[0] != "X" {
		t.Fatalf("expected Y to depend on X exactly once (de-duplicated), got %v", yNode.Dependencies)
	}
}

func TestAnalyze_IgnoresEdgesOutsideInputSet(t *testing.T) {
	tasks := []models.Task{
		task("A", "missing-dep"),
	}

	analysis := Analyze(tasks)

	node := analysis.Nodes["A"]
	if len(node.Dependencies) != 0 {
		t.Fatalf("expected dangling dependency to be ignored, got %v", node.Dependencies)
	}
	if node.Depth != 0 {
		t.Fatalf("expected A at depth 0, got %d", node.Depth)
	}
}

func TestAnalyze_CycleIsolation(t *testing.T) {
	// B <-> C form a cycle; A is independent and still actionable.
	tasks := []models.Task{
		task("A"),
		task("B", "C"),
		task("C", "B"),
	}

	analysis := Analyze(tasks)

	if analysis.ActionableTaskCount != 1 {
		t.Fatalf("expected 1 actionable task, got %d", analysis.ActionableTaskCount)
	}
	if len(analysis.CyclicTaskIDs) != 2 {
		t.Fatalf("expected 2 cyclic tasks, got %v", analysis.CyclicTaskIDs)
	}
	if analysis.CyclicTaskIDs[0] != "B" || analysis.CyclicTaskIDs[1] != "C" {
		t.Fatalf("expected cyclic tasks [B C], got %v", analysis.CyclicTaskIDs)
	}
	if len(analysis.Groups) != 1 || len(analysis.Groups[0].TaskIDs) != 1 || analysis.Groups[0].TaskIDs[0] != "A" {
		t.Fatalf("expected a single group containing only A, got %+v", analysis.Groups)
	}
}

func TestAnalyze_PriorityOrderingWithinGroup(t *testing.T) {
	tasks := []models.Task{
		{ID: "low", Priority: 5},
		{ID: "high", Priority: 1},
		{ID: "mid", Priority: 3},
	}

	analysis := Analyze(tasks)

	group := analysis.Groups[0]
	want := []string{"high", "mid", "low"}
	for i, id := range want {
		if group.TaskIDs[i] != id {
			t.Fatalf("expected priority order %v, got %v", want, group.TaskIDs)
		}
	}
	if group.MaxPriority != 1 {
		t.Fatalf("expected group MaxPriority 1 (most urgent), got %d", group.MaxPriority)
	}
}

func TestAnalyze_RecommendParallelFalseBelowThreshold(t *testing.T) {
	tasks := []models.Task{task("A"), task("B")}

	analysis := Analyze(tasks)

	if analysis.RecommendParallel {
		t.Fatalf("expected RecommendParallel false for only 2 actionable tasks")
	}
}

func TestRecommendParallelism_FanOutRefactorReducesWorkers(t *testing.T) {
	tasks := []models.Task{
		{ID: "1", Title: "Refactor auth module"},
		{ID: "2", Title: "Restructure billing package"},
		{ID: "3", Title: "Cleanup logging calls"},
	}
	analysis := Analyze(tasks)

	advice := RecommendParallelism(tasks, analysis, 8)

	if advice.RecommendedWorkers >= 8 {
		t.Fatalf("expected refactor-heavy set to reduce worker count below ceiling, got %d", advice.RecommendedWorkers)
	}
	if advice.Confidence != models.ConfidenceHigh {
		t.Fatalf("expected high confidence for unanimous refactor match, got %s", advice.Confidence)
	}
}

func TestRecommendParallelism_TestFamilyKeepsCeiling(t *testing.T) {
	tasks := []models.Task{
		{ID: "1", Title: "Add unit tests for parser"},
		{ID: "2", Title: "Write e2e test for checkout"},
	}
	analysis := Analyze(tasks)

	advice := RecommendParallelism(tasks, analysis, 6)

	if advice.RecommendedWorkers != 6 {
		t.Fatalf("expected test-family tasks to keep the full ceiling, got %d", advice.RecommendedWorkers)
	}
}

func TestRecommendParallelism_OverlappingAffectedFilesReducesWorkers(t *testing.T) {
	tasks := []models.Task{
		{ID: "1", Title: "Task one", Metadata: map[string]any{"affects": []string{"pkg/a.go"}}},
		{ID: "2", Title: "Task two", Metadata: map[string]any{"affects": []string{"pkg/a.go"}}},
		{ID: "3", Title: "Task three", Metadata: map[string]any{"affects": []string{"pkg/a.go"}}},
	}
	analysis := Analyze(tasks)

	advice := RecommendParallelism(tasks, analysis, 6)

	if advice.RecommendedWorkers >= 6 {
		t.Fatalf("expected overlapping affected files to reduce worker count, got %d", advice.RecommendedWorkers)
	}
}

func TestRecommendParallelism_ZeroMaxWorkersClampsToOne(t *testing.T) {
	tasks := []models.Task{task("A")}
	analysis := Analyze(tasks)

	advice := RecommendParallelism(tasks, analysis, 0)

	if advice.RecommendedWorkers != 1 {
		t.Fatalf("expected zero ceiling to clamp to 1, got %d", advice.RecommendedWorkers)
	}
}
