package merge

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/alphie/internal/git"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// UserPrompt is invoked for a file whose resolution confidence fell below
// threshold (or auto-resolve is disabled). A nil UserPrompt leaves such
// files marked RequiresUserInput with no further action.
type UserPrompt func(path string, candidate *models.ResolutionCandidate) models.UserResolutionResponse

// ResolverConfig controls the auto-apply threshold and behavior.
type ResolverConfig struct {
	ConfidenceThreshold float64
	AutoResolve         bool
}

// Resolver implements the hunk-classification conflict resolution
// heuristic: parse each conflicted file's hunks, classify them, and
// either auto-apply a resolution or defer to a user-prompt callback.
type Resolver struct {
	repoPath string
	git      git.Runner
	cfg      ResolverConfig
	prompt   UserPrompt

	debugLog func(format string, args ...interface{})
}

// NewResolver builds a Resolver rooted at repoPath.
func NewResolver(repoPath string, runner git.Runner, cfg ResolverConfig, prompt UserPrompt) *Resolver {
	return &Resolver{
		repoPath: repoPath,
		git:      runner,
		cfg:      cfg,
		prompt:   prompt,
		debugLog: func(string, ...interface{}) {},
	}
}

// SetDebugLog installs a logging callback; pass nil to silence again.
func (r *Resolver) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn == nil {
		fn = func(string, ...interface{}) {}
	}
	r.debugLog = fn
}

// ResolveConflicts resolves every file in conflictFiles. All files must
// resolve for the returned slice to represent a fully-resolved operation;
// the caller checks AllResolved.
func (r *Resolver) ResolveConflicts(conflictFiles []string) []models.FileResolutionResult {
	results := make([]models.FileResolutionResult, 0, len(conflictFiles))
	for _, path := range conflictFiles {
		results = append(results, r.resolveFile(path))
	}
	return results
}

// AllResolved reports whether every result was applied (or required no
// action because it wasn't actually conflicted).
func AllResolved(results []models.FileResolutionResult) bool {
	for _, res := range results {
		if res.Error != nil || (!res.Applied && res.RequiresUserInput) {
			return false
		}
	}
	return true
}

func (r *Resolver) resolveFile(path string) models.FileResolutionResult {
	fullPath := filepath.Join(r.repoPath, path)
	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return models.FileResolutionResult{Path: path, Error: fmt.Errorf("read conflicted file: %w", err)}
	}

	hunks, rest := parseConflictHunks(string(raw))
	if len(hunks) == 0 {
		return models.FileResolutionResult{Path: path, Error: fmt.Errorf("no conflict markers found in %s", path)}
	}

	candidate := classifyFile(hunks, rest)

	result := models.FileResolutionResult{Path: path, Candidate: &candidate}

	if candidate.Confidence >= r.cfg.ConfidenceThreshold && r.cfg.AutoResolve {
		if err := r.apply(path, fullPath, candidate.ResolvedContent); err != nil {
			result.Error = err
			return result
		}
		result.Applied = true
		r.debugLog("[resolver] auto-resolved %s via %s (confidence %.2f)", path, candidate.Strategy, candidate.Confidence)
		return result
	}

	result.RequiresUserInput = true
	if r.prompt == nil {
		return result
	}

	response := r.prompt(path, &candidate)
	switch response.Decision {
	case models.DecisionAcceptCandidate:
		if err := r.apply(path, fullPath, candidate.ResolvedContent); err != nil {
			result.Error = err
			return result
		}
		result.Applied = true
		result.RequiresUserInput = false
	case models.DecisionUseOurs:
		content := renderWithStrategy(hunks, rest, models.StrategyOurs)
		if err := r.apply(path, fullPath, content); err != nil {
			result.Error = err
			return result
		}
		result.Applied = true
		result.RequiresUserInput = false
	case models.DecisionUseTheirs:
		content := renderWithStrategy(hunks, rest, models.StrategyTheirs)
		if err := r.apply(path, fullPath, content); err != nil {
			result.Error = err
			return result
		}
		result.Applied = true
		result.RequiresUserInput = false
	case models.DecisionManual:
		if err := r.apply(path, fullPath, response.ManualContent); err != nil {
			result.Error = err
			return result
		}
		result.Applied = true
		result.RequiresUserInput = false
	case models.DecisionReject, models.DecisionAbortAll:
		// Leave RequiresUserInput true; caller decides what abort_all means
		// for the rest of the batch.
	}

	return result
}

func (r *Resolver) apply(relPath, fullPath, content string) error {
	if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("write resolved content: %w", err)
	}
	if err := r.git.Add(relPath); err != nil {
		return fmt.Errorf("stage resolved file: %w", err)
	}
	return nil
}

// conflictLine is either a verbatim non-conflict line or a parsed hunk,
// recorded in file order so the resolved content can be reassembled.
type conflictLine struct {
	hunk *models.ConflictHunk
	text string
}

// parseConflictHunks scans content for <<<<<<< / ||||||| / ======= / >>>>>>>
// blocks. Returns the hunks in order and the full ordered line sequence
// (hunks interleaved with verbatim context) needed to reassemble a file.
func parseConflictHunks(content string) ([]*models.ConflictHunk, []conflictLine) {
	var hunks []*models.ConflictHunk
	var sequence []conflictLine

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	lineNum := 0
	var current *models.ConflictHunk
	var ours, theirs, ancestor []string
	section := "none" // none | ours | ancestor | theirs

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "<<<<<<<"):
			current = &models.ConflictHunk{StartLine: lineNum}
			ours, theirs, ancestor = nil, nil, nil
			section = "ours"
			continue
		case strings.HasPrefix(line, "|||||||") && current != nil:
			section = "ancestor"
			current.HasAncestor = true
			continue
		case strings.HasPrefix(line, "=======") && current != nil:
			section = "theirs"
			continue
		case strings.HasPrefix(line, ">>>>>>>") && current != nil:
			current.EndLine = lineNum
			current.OursContent = strings.Join(ours, "\n")
			current.TheirsContent = strings.Join(theirs, "\n")
			if current.HasAncestor {
				current.AncestorContent = strings.Join(ancestor, "\n")
			}
			hunks = append(hunks, current)
			sequence = append(sequence, conflictLine{hunk: current})
			current = nil
			section = "none"
			continue
		}

		if current == nil {
			sequence = append(sequence, conflictLine{text: line})
			continue
		}

		switch section {
		case "ours":
			ours = append(ours, line)
		case "ancestor":
			ancestor = append(ancestor, line)
		case "theirs":
			theirs = append(theirs, line)
		}
	}

	return hunks, sequence
}

// jaccardSimilarity computes word-level Jaccard similarity between two
// line blocks.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// classifyHunk implements the per-hunk heuristic from the thresholding
// table: one-side-empty, identical, Jaccard-similar, ancestor-divergence,
// or the 0.5 fallback.
func classifyHunk(h *models.ConflictHunk) (preferOurs, preferTheirs bool, confidence float64) {
	ours := strings.TrimSpace(h.OursContent)
	theirs := strings.TrimSpace(h.TheirsContent)

	if ours == "" && theirs != "" {
		return false, true, 0.95
	}
	if theirs == "" && ours != "" {
		return true, false, 0.95
	}
	if ours == theirs {
		return true, true, 1.0
	}

	oursLines := len(strings.Split(h.OursContent, "\n"))
	theirsLines := len(strings.Split(h.TheirsContent, "\n"))
	if oursLines == theirsLines {
		sim := jaccardSimilarity(h.OursContent, h.TheirsContent)
		if sim > 0.8 {
			confidence := 0.7 + sim*0.2
			if len(ours) >= len(theirs) {
				return true, false, confidence
			}
			return false, true, confidence
		}
	}

	if h.HasAncestor {
		simOurs := jaccardSimilarity(h.OursContent, h.AncestorContent)
		simTheirs := jaccardSimilarity(h.TheirsContent, h.AncestorContent)
		if simOurs-simTheirs > 0.2 {
			// theirs diverged more from the ancestor: it carries the change.
			return false, true, 0.75
		}
		if simTheirs-simOurs > 0.2 {
			return true, false, 0.75
		}
	}

	return false, false, 0.5
}

// hunksDisjoint reports whether ours and theirs share no non-empty trimmed
// line across every hunk in the file.
func hunksDisjoint(hunks []*models.ConflictHunk) bool {
	for _, h := range hunks {
		oursLines := nonEmptyTrimmedLines(h.OursContent)
		theirsSet := make(map[string]bool)
		for _, l := range nonEmptyTrimmedLines(h.TheirsContent) {
			theirsSet[l] = true
		}
		for _, l := range oursLines {
			if theirsSet[l] {
				return false
			}
		}
	}
	return true
}

func nonEmptyTrimmedLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// classifyFile applies the file-level decision rule over every hunk's
// classification and renders the winning resolution.
func classifyFile(hunks []*models.ConflictHunk, sequence []conflictLine) models.ResolutionCandidate {
	type hunkVerdict struct {
		preferOurs, preferTheirs bool
		confidence               float64
	}
	verdicts := make(map[*models.ConflictHunk]hunkVerdict, len(hunks))

	sum := 0.0
	allOurs, allTheirs := true, true
	for _, h := range hunks {
		preferOurs, preferTheirs, confidence := classifyHunk(h)
		verdicts[h] = hunkVerdict{preferOurs, preferTheirs, confidence}
		sum += confidence
		if !preferOurs {
			allOurs = false
		}
		if !preferTheirs {
			allTheirs = false
		}
	}
	mean := sum / float64(len(hunks))

	if hunksDisjoint(hunks) {
		content := renderMerged(sequence)
		confidence := mean + 0.1
		if confidence > 1.0 {
			confidence = 1.0
		}
		return models.ResolutionCandidate{
			ResolvedContent: content,
			Confidence:      confidence,
			Strategy:        models.StrategyMerged,
			Reasoning:       "conflicting hunks touch disjoint content; concatenated both sides",
		}
	}

	if allOurs {
		return models.ResolutionCandidate{
			ResolvedContent: renderWithStrategy(hunks, sequence, models.StrategyOurs),
			Confidence:      mean,
			Strategy:        models.StrategyOurs,
			Reasoning:       "every hunk favored the local side",
		}
	}
	if allTheirs {
		return models.ResolutionCandidate{
			ResolvedContent: renderWithStrategy(hunks, sequence, models.StrategyTheirs),
			Confidence:      mean,
			Strategy:        models.StrategyTheirs,
			Reasoning:       "every hunk favored the incoming side",
		}
	}

	return models.ResolutionCandidate{
		ResolvedContent: renderSemanticUnion(sequence),
		Confidence:      mean * 0.7,
		Strategy:        models.StrategySemantic,
		Reasoning:       "hunks disagreed; unioned ours with any novel lines from theirs",
	}
}

func renderMerged(sequence []conflictLine) string {
	var sb strings.Builder
	for _, item := range sequence {
		if item.hunk == nil {
			sb.WriteString(item.text)
			sb.WriteString("\n")
			continue
		}
		if item.hunk.OursContent != "" {
			sb.WriteString(item.hunk.OursContent)
			sb.WriteString("\n")
		}
		if item.hunk.TheirsContent != "" {
			sb.WriteString(item.hunk.TheirsContent)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func renderWithStrategy(hunks []*models.ConflictHunk, sequence []conflictLine, strategy models.ResolutionStrategy) string {
	var sb strings.Builder
	for _, item := range sequence {
		if item.hunk == nil {
			sb.WriteString(item.text)
			sb.WriteString("\n")
			continue
		}
		content := item.hunk.OursContent
		if strategy == models.StrategyTheirs {
			content = item.hunk.TheirsContent
		}
		if content != "" {
			sb.WriteString(content)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func renderSemanticUnion(sequence []conflictLine) string {
	var sb strings.Builder
	for _, item := range sequence {
		if item.hunk == nil {
			sb.WriteString(item.text)
			sb.WriteString("\n")
			continue
		}
		seen := make(map[string]bool)
		if item.hunk.OursContent != "" {
			for _, l := range strings.Split(item.hunk.OursContent, "\n") {
				sb.WriteString(l)
				sb.WriteString("\n")
				seen[strings.TrimSpace(l)] = true
			}
		}
		if item.hunk.TheirsContent != "" {
			for _, l := range strings.Split(item.hunk.TheirsContent, "\n") {
				if seen[strings.TrimSpace(l)] {
					continue
				}
				sb.WriteString(l)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}
