package models

// ConflictHunk is one contiguous <<<<<<< / ======= / >>>>>>> region parsed
// from a conflicted working-tree file.
type ConflictHunk struct {
	// StartLine and EndLine are 1-indexed, inclusive line numbers of the
	// hunk in the conflicted working-tree file.
	StartLine int
	EndLine   int
	// OursContent is the content between "<<<<<<<" and the next marker
	// ("|||||||" or "=======").
	OursContent string
	// TheirsContent is the content between "=======" and ">>>>>>>".
	TheirsContent string
	// AncestorContent is the content between "|||||||" and "=======",
	// present only when the merge driver emitted diff3-style markers.
	AncestorContent string
	HasAncestor     bool
}

// ResolutionStrategy names the approach a ResolutionCandidate used.
type ResolutionStrategy string

const (
	StrategyOurs     ResolutionStrategy = "ours"
	StrategyTheirs   ResolutionStrategy = "theirs"
	StrategyMerged   ResolutionStrategy = "merged"
	StrategySemantic ResolutionStrategy = "semantic"
)

// ResolutionCandidate is a proposed fix for one conflicted file.
type ResolutionCandidate struct {
	// ResolvedContent is the full file content after resolution.
	ResolvedContent string
	// Confidence is in [0,1]; higher means safer to auto-apply.
	Confidence float64
	// Strategy names which approach produced ResolvedContent.
	Strategy ResolutionStrategy
	// Reasoning is a short human-readable explanation.
	Reasoning string
}

// FileResolutionResult is the per-file outcome of conflict resolution.
type FileResolutionResult struct {
	// Path is the conflicted file's repo-relative path.
	Path string
	// Candidate is the best resolution found, if any.
	Candidate *ResolutionCandidate
	// Applied is true if Candidate was written and staged.
	Applied bool
	// RequiresUserInput is true if confidence fell below threshold (or
	// auto-resolve was disabled) and a user callback must decide.
	RequiresUserInput bool
	// Error holds a hard failure (e.g. file unreadable), distinct from
	// RequiresUserInput.
	Error error
}

// UserResolutionDecision is the set of actions a configured user-prompt
// callback may return for a conflict requiring input.
type UserResolutionDecision string

const (
	DecisionAcceptCandidate UserResolutionDecision = "accept-candidate"
	DecisionUseOurs         UserResolutionDecision = "use_ours"
	DecisionUseTheirs       UserResolutionDecision = "use_theirs"
	DecisionManual          UserResolutionDecision = "manual"
	DecisionReject          UserResolutionDecision = "reject"
	DecisionAbortAll        UserResolutionDecision = "abort_all"
)

// UserResolutionResponse is what a user-prompt callback returns.
type UserResolutionResponse struct {
	Decision     UserResolutionDecision
	ManualContent string
}
