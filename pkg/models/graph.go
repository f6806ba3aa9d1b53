package models

// TaskNode is the analyzer's per-task bookkeeping, derived from a Task's
// DependsOn/Blocks edges.
type TaskNode struct {
	// ID mirrors the source Task's ID.
	ID string
	// Dependencies are task IDs this node must wait on.
	Dependencies []string
	// Dependents are task IDs waiting on this node.
	Dependents []string
	// Depth is 0 for a node with no unresolved dependencies, otherwise
	// one more than the deepest dependency. Meaningless if InCycle.
	Depth int
	// InCycle is true if the node could not be peeled by the analyzer.
	InCycle bool
}

// ParallelGroup is an ordered set of tasks at the same topological depth,
// safe to execute concurrently.
type ParallelGroup struct {
	// Depth is the topological depth shared by every task in the group.
	Depth int
	// TaskIDs are ordered by ascending Task.Priority.
	TaskIDs []string
	// MaxPriority is the minimum (highest-urgency) priority among members.
	MaxPriority int
}

// Analysis is the TaskGraphAnalyzer's pure output.
type Analysis struct {
	// Nodes maps task ID to its derived TaskNode.
	Nodes map[string]*TaskNode
	// Groups are ordered by ascending Depth.
	Groups []ParallelGroup
	// CyclicTaskIDs holds every task that could not be peeled into a group.
	CyclicTaskIDs []string
	// ActionableTaskCount is the number of tasks reachable by topological
	// peeling (i.e. not cyclic).
	ActionableTaskCount int
	// MaxParallelism is the size of the largest group.
	MaxParallelism int
	// RecommendParallel is the auto-recommend heuristic's verdict.
	RecommendParallel bool
}

// ParallelismConfidence expresses how confident the advisor is in a
// worker-count recommendation.
type ParallelismConfidence string

const (
	ConfidenceHigh   ParallelismConfidence = "high"
	ConfidenceMedium ParallelismConfidence = "medium"
	ConfidenceLow    ParallelismConfidence = "low"
)

// ParallelismAdvice is the parallelism advisor's recommendation.
type ParallelismAdvice struct {
	// RecommendedWorkers is clamped to the caller's configured ceiling.
	RecommendedWorkers int
	// Confidence reflects how strongly the signal that drove the
	// recommendation was present in the task set.
	Confidence ParallelismConfidence
	// Reason is a short human-readable explanation.
	Reason string
}
