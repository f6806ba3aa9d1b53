// Package graph implements the TaskGraphAnalyzer: a pure function from a
// list of tasks to a layered dependency DAG, plus the parallelism advisor
// that recommends a worker count for a task set.
package graph

import (
	"sort"
	"strings"

	"github.com/ShayCichocki/alphie/pkg/models"
)

// Analyze builds the dependency graph for tasks and layers it by Kahn-style
// peeling. It performs no I/O and has no side effects.
//
// Edges are derived from both DependsOn (target -> source, i.e. source
// depends on target) and Blocks (source -> target, i.e. every entry in
// Blocks is mirrored as that entry depending on source). The two fields
// describe the same relationship from opposite ends, so edges are
// de-duplicated before layering. Edges whose endpoints fall outside the
// input set are ignored.
func Analyze(tasks []models.Task) models.Analysis {
	nodes := make(map[string]*models.TaskNode, len(tasks))
	known := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		known[task.ID] = true
	}

	// dependencies[id] is the de-duplicated set of tasks id must wait on.
	dependencies := make(map[string]map[string]bool, len(tasks))
	for _, task := range tasks {
		dependencies[task.ID] = make(map[string]bool)
	}

	addEdge := func(dependent, dependsOn string) {
		if dependent == dependsOn {
			return
		}
		if !known[dependent] || !known[dependsOn] {
			return
		}
		dependencies[dependent][dependsOn] = true
	}

	for _, task := range tasks {
		for _, dep := range task.DependsOn {
			addEdge(task.ID, dep)
		}
		for _, blocked := range task.Blocks {
			addEdge(blocked, task.ID)
		}
	}

	for id, task := range indexByID(tasks) {
		deps := make([]string, 0, len(dependencies[id]))
		for dep := range dependencies[id] {
			deps = append(deps, dep)
		}
		sort.Strings(deps)
		nodes[id] = &models.TaskNode{
			ID:           id,
			Dependencies: deps,
			Depth:        -1,
		}
		_ = task
	}

	for id, node := range nodes {
		for _, dep := range node.Dependencies {
			if depNode, ok := nodes[dep]; ok {
				depNode.Dependents = append(depNode.Dependents, id)
			}
		}
	}
	for _, node := range nodes {
		sort.Strings(node.Dependents)
	}

	layerByPeeling(nodes)

	groups := buildGroups(nodes, indexByID(tasks))
	cyclic := make([]string, 0)
	actionable := 0
	for id, node := range nodes {
		if node.InCycle {
			cyclic = append(cyclic, id)
		} else {
			actionable++
		}
	}
	sort.Strings(cyclic)

	maxParallelism := 0
	for _, g := range groups {
		if len(g.TaskIDs) > maxParallelism {
			maxParallelism = len(g.TaskIDs)
		}
	}

	total := len(tasks)
	cyclicFraction := 0.0
	if total > 0 {
		cyclicFraction = float64(len(cyclic)) / float64(total)
	}
	hasParallelGroup := false
	for _, g := range groups {
		if len(g.TaskIDs) >= 2 {
			hasParallelGroup = true
			break
		}
	}
	recommendParallel := actionable >= 3 && hasParallelGroup && cyclicFraction < 0.5

	return models.Analysis{
		Nodes:               nodes,
		Groups:              groups,
		CyclicTaskIDs:       cyclic,
		ActionableTaskCount: actionable,
		MaxParallelism:      maxParallelism,
		RecommendParallel:   recommendParallel,
	}
}

func indexByID(tasks []models.Task) map[string]models.Task {
	out := make(map[string]models.Task, len(tasks))
	for _, t := range tasks {
		out[t.ID] = t
	}
	return out
}

// layerByPeeling assigns Depth by repeatedly removing nodes whose
// dependencies are all already assigned a depth. Nodes that are never
// peeled sit in a dependency cycle and are marked InCycle.
func layerByPeeling(nodes map[string]*models.TaskNode) {
	remaining := make(map[string]bool, len(nodes))
	for id := range nodes {
		remaining[id] = true
	}

	depth := 0
	for len(remaining) > 0 {
		var frontier []string
		for id := range remaining {
			node := nodes[id]
			ready := true
			for _, dep := range node.Dependencies {
				if remaining[dep] {
					ready = false
					break
				}
			}
			if ready {
				frontier = append(frontier, id)
			}
		}

		if len(frontier) == 0 {
			// Everything left is part of a cycle (or depends on one).
			for id := range remaining {
				nodes[id].InCycle = true
				nodes[id].Depth = -1
			}
			break
		}

		for _, id := range frontier {
			nodes[id].Depth = depth
			delete(remaining, id)
		}
		depth++
	}
}

func buildGroups(nodes map[string]*models.TaskNode, tasks map[string]models.Task) []models.ParallelGroup {
	byDepth := make(map[int][]string)
	maxDepth := -1
	for id, node := range nodes {
		if node.InCycle {
			continue
		}
		byDepth[node.Depth] = append(byDepth[node.Depth], id)
		if node.Depth > maxDepth {
			maxDepth = node.Depth
		}
	}

	groups := make([]models.ParallelGroup, 0, maxDepth+1)
	for d := 0; d <= maxDepth; d++ {
		ids, ok := byDepth[d]
		if !ok {
			continue
		}
		sort.Slice(ids, func(i, j int) bool {
			pi, pj := tasks[ids[i]].Priority, tasks[ids[j]].Priority
			if pi != pj {
				return pi < pj
			}
			return ids[i] < ids[j]
		})
		maxPriority := tasks[ids[0]].Priority
		for _, id := range ids {
			if tasks[id].Priority < maxPriority {
				maxPriority = tasks[id].Priority
			}
		}
		groups = append(groups, models.ParallelGroup{
			Depth:       d,
			TaskIDs:     ids,
			MaxPriority: maxPriority,
		})
	}
	return groups
}

// keyword families used by RecommendParallelism. Matching is
// case-insensitive against a task's Title, Description, and Labels.
var (
	testKeywords     = []string{"test", "tests", "testing", "spec", "e2e"}
	refactorKeywords = []string{"refactor", "refactoring", "restructure", "reorganize", "cleanup", "clean up"}
)

// RecommendParallelism classifies tasks by keyword family and optional
// file-overlap metadata to recommend a worker count no larger than
// maxWorkers. Refactor detection dominates test detection when a task set
// matches both families.
func RecommendParallelism(tasks []models.Task, analysis models.Analysis, maxWorkers int) models.ParallelismAdvice {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if len(tasks) == 0 {
		return models.ParallelismAdvice{RecommendedWorkers: maxWorkers, Confidence: models.ConfidenceLow, Reason: "no tasks"}
	}

	refactorCount := 0
	testCount := 0
	for _, t := range tasks {
		if matchesFamily(t, refactorKeywords) {
			refactorCount++
		} else if matchesFamily(t, testKeywords) {
			testCount++
		}
	}

	refactorFraction := float64(refactorCount) / float64(len(tasks))
	testFraction := float64(testCount) / float64(len(tasks))

	if refactorFraction > 0.25 {
		workers := maxWorkers / 2
		if workers < 1 {
			workers = 1
		}
		confidence := models.ConfidenceMedium
		if refactorFraction > 0.5 {
			confidence = models.ConfidenceHigh
		}
		return models.ParallelismAdvice{
			RecommendedWorkers: workers,
			Confidence:         confidence,
			Reason:             "refactor-heavy task set reduces safe parallelism",
		}
	}

	if overlapsFiles(tasks) {
		workers := maxWorkers / 2
		if workers < 1 {
			workers = 1
		}
		return models.ParallelismAdvice{
			RecommendedWorkers: workers,
			Confidence:         models.ConfidenceMedium,
			Reason:             "task metadata reports overlapping affected files",
		}
	}

	if testFraction > 0 {
		return models.ParallelismAdvice{
			RecommendedWorkers: maxWorkers,
			Confidence:         models.ConfidenceHigh,
			Reason:             "test-family tasks are parallel-friendly",
		}
	}

	return models.ParallelismAdvice{
		RecommendedWorkers: maxWorkers,
		Confidence:         models.ConfidenceLow,
		Reason:             "no strong signal; keeping configured ceiling",
	}
}

func matchesFamily(t models.Task, family []string) bool {
	haystack := strings.ToLower(t.Title + " " + t.Description)
	for _, kw := range family {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	for _, label := range t.Labels {
		lower := strings.ToLower(label)
		for _, kw := range family {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// overlapsFiles reports whether at least two-thirds of all tasks carry
// affects metadata sharing at least one file with another such task.
func overlapsFiles(tasks []models.Task) bool {
	type fileSet struct {
		id    string
		files map[string]bool
	}
	var sets []fileSet
	for _, t := range tasks {
		files := t.AffectedFiles()
		if len(files) == 0 {
			continue
		}
		set := make(map[string]bool, len(files))
		for _, f := range files {
			set[f] = true
		}
		sets = append(sets, fileSet{id: t.ID, files: set})
	}
	if len(sets) == 0 {
		return false
	}

	overlapping := 0
	for i, a := range sets {
		touched := false
		for j, b := range sets {
			if i == j {
				continue
			}
			for f := range a.files {
				if b.files[f] {
					touched = true
					break
				}
			}
			if touched {
				break
			}
		}
		if touched {
			overlapping++
		}
	}

	return float64(overlapping)/float64(len(tasks)) >= (2.0 / 3.0)
}
