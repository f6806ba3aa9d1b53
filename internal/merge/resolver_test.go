package merge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/alphie/internal/git"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// fakeGitRunner records staged files via Add; every other operation no-ops.
type fakeGitRunner struct {
	git.Runner
	staged []string
}

func (f *fakeGitRunner) Add(paths ...string) error {
	f.staged = append(f.staged, paths...)
	return nil
}

func writeConflicted(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write conflicted file: %v", err)
	}
	return name
}

func TestResolveConflicts_DisjointHunksMergeAutoResolve(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		"package widget",
		"<<<<<<< HEAD",
		"func A() {}",
		"=======",
		"func B() {}",
		">>>>>>> worker-branch",
		"func shared() {}",
	}, "\n")
	name := writeConflicted(t, dir, "file.go", content)

	runner := &fakeGitRunner{}
	resolver := NewResolver(dir, runner, ResolverConfig{ConfidenceThreshold: 0.6, AutoResolve: true}, nil)

	results := resolver.ResolveConflicts([]string{name})
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	res := results[0]
	if res.Error != nil {
		t.Fatalf("unexpected error: %v", res.Error)
	}
	if !res.Applied {
		t.Fatalf("expected disjoint-hunk conflict to auto-apply, got %+v", res)
	}
	if res.Candidate.Strategy != models.StrategyMerged {
		t.Fatalf("expected merged strategy, got %s", res.Candidate.Strategy)
	}
	if len(runner.staged) != 1 || runner.staged[0] != name {
		t.Fatalf("expected file staged, got %v", runner.staged)
	}

	resolvedContent, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read resolved file: %v", err)
	}
	if !strings.Contains(string(resolvedContent), "func A() {}") || !strings.Contains(string(resolvedContent), "func B() {}") {
		t.Fatalf("expected merged content to contain both sides, got: %s", resolvedContent)
	}
}

func TestResolveConflicts_BelowThresholdRequiresUserInput(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		"<<<<<<< HEAD",
		"return computeA(x, y, z)",
		"=======",
		"return computeB(a, b)",
		">>>>>>> worker-branch",
	}, "\n")
	name := writeConflicted(t, dir, "logic.go", content)

	runner := &fakeGitRunner{}
	resolver := NewResolver(dir, runner, ResolverConfig{ConfidenceThreshold: 0.9, AutoResolve: true}, nil)

	results := resolver.ResolveConflicts([]string{name})
	res := results[0]
	if res.Applied {
		t.Fatalf("expected low-confidence conflict to not auto-apply, got %+v", res)
	}
	if !res.RequiresUserInput {
		t.Fatalf("expected RequiresUserInput, got %+v", res)
	}
	if res.Candidate.Strategy != models.StrategyMerged {
		t.Fatalf("expected merged strategy for hunk sides sharing no line, got %s", res.Candidate.Strategy)
	}
	if len(runner.staged) != 0 {
		t.Fatalf("expected no staged files, got %v", runner.staged)
	}
}

func TestResolveConflicts_UserPromptAcceptsCandidate(t *testing.T) {
	dir := t.TempDir()
	content := strings.Join([]string{
		"<<<<<<< HEAD",
		"x := 1",
		"=======",
		"x := 2",
		">>>>>>> worker-branch",
	}, "\n")
	name := writeConflicted(t, dir, "logic.go", content)

	runner := &fakeGitRunner{}
	prompt := func(path string, candidate *models.ResolutionCandidate) models.UserResolutionResponse {
		return models.UserResolutionResponse{Decision: models.DecisionAcceptCandidate}
	}
	resolver := NewResolver(dir, runner, ResolverConfig{ConfidenceThreshold: 0.99, AutoResolve: true}, prompt)

	results := resolver.ResolveConflicts([]string{name})
	res := results[0]
	if !res.Applied || res.RequiresUserInput {
		t.Fatalf("expected prompt acceptance to apply and clear RequiresUserInput, got %+v", res)
	}
}

func TestClassifyHunk_IdenticalSides(t *testing.T) {
	h := &models.ConflictHunk{OursContent: "same line", TheirsContent: "same line"}
	preferOurs, preferTheirs, confidence := classifyHunk(h)
	if !preferOurs || !preferTheirs || confidence != 1.0 {
		t.Fatalf("expected identical sides to yield confidence 1.0, got ours=%v theirs=%v conf=%v", preferOurs, preferTheirs, confidence)
	}
}

func TestClassifyHunk_OneSideEmpty(t *testing.T) {
	h := &models.ConflictHunk{OursContent: "", TheirsContent: "new content"}
	preferOurs, preferTheirs, confidence := classifyHunk(h)
	if preferOurs || !preferTheirs || confidence != 0.95 {
		t.Fatalf("expected empty-ours to prefer theirs at 0.95, got ours=%v theirs=%v conf=%v", preferOurs, preferTheirs, confidence)
	}
}

func TestClassifyHunk_AncestorDivergence(t *testing.T) {
	h := &models.ConflictHunk{
		OursContent:     "alpha beta gamma",
		TheirsContent:   "totally different words here",
		AncestorContent: "alpha beta gamma",
		HasAncestor:     true,
	}
	preferOurs, preferTheirs, confidence := classifyHunk(h)
	if preferOurs || !preferTheirs || confidence != 0.75 {
		t.Fatalf("expected the more-diverged side (theirs) preferred at 0.75, got ours=%v theirs=%v conf=%v", preferOurs, preferTheirs, confidence)
	}
}

func TestHunksDisjoint(t *testing.T) {
	disjoint := []*models.ConflictHunk{
		{OursContent: "line A", TheirsContent: "line B"},
	}
	if !hunksDisjoint(disjoint) {
		t.Fatalf("expected disjoint hunk to be reported disjoint")
	}

	overlapping := []*models.ConflictHunk{
		{OursContent: "shared line", TheirsContent: "shared line"},
	}
	if hunksDisjoint(overlapping) {
		t.Fatalf("expected overlapping hunk to be reported non-disjoint")
	}
}

func TestParseConflictHunks_WithAncestor(t *testing.T) {
	content := strings.Join([]string{
		"before",
		"<<<<<<< HEAD",
		"ours",
		"||||||| base",
		"base content",
		"=======",
		"theirs",
		">>>>>>> branch",
		"after",
	}, "\n")

	hunks, _ := parseConflictHunks(content)
	if len(hunks) != 1 {
		t.Fatalf("expected 1 hunk, got %d", len(hunks))
	}
	h := hunks[0]
	if !h.HasAncestor || h.AncestorContent != "base content" {
		t.Fatalf("expected ancestor content captured, got %+v", h)
	}
	if h.OursContent != "ours" || h.TheirsContent != "theirs" {
		t.Fatalf("expected ours/theirs captured, got ours=%q theirs=%q", h.OursContent, h.TheirsContent)
	}
}
