// Package worktree manages a bounded pool of git worktrees, one per active
// worker, each pinned to a freshly created branch forked from the
// executor's base revision.
package worktree

import (
	"bufio"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/alphie/internal/git"
	"github.com/ShayCichocki/alphie/pkg/models"
)

// FailureReason names why Acquire declined to create a worktree.
type FailureReason string

const (
	// FailureNone means acquisition succeeded.
	FailureNone FailureReason = ""
	// FailurePoolExhausted means maxWorktrees is already checked out.
	FailurePoolExhausted FailureReason = "pool_exhausted"
	// FailureLowMemory means free memory fell below minFreeMemoryMB.
	FailureLowMemory FailureReason = "low_memory"
	// FailureHighCPU means host CPU utilization exceeded maxCpuUtilization.
	FailureHighCPU FailureReason = "high_cpu"
	// FailureGit means the underlying git worktree command failed.
	FailureGit FailureReason = "git_error"
)

// AcquireError reports a structured acquisition failure so the caller can
// decide how to react (retry later, shrink the batch, surface to the user).
type AcquireError struct {
	Reason FailureReason
	Err    error
}

func (e *AcquireError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("acquire worktree: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("acquire worktree: %s", e.Reason)
}

func (e *AcquireError) Unwrap() error { return e.Err }

// ResourceChecker reports host resource pressure. Production code backs
// this with /proc readings; tests substitute a fake.
type ResourceChecker interface {
	FreeMemoryMB() (int, error)
	CPUUtilizationPercent() (float64, error)
}

// Config controls pool capacity and resource gating.
type Config struct {
	// MaxWorkers sizes the pool: MaxWorktrees = MaxWorkers * 2.
	MaxWorkers int
	// WorktreeDir is the directory worktrees are checked out under,
	// relative to the repo root if not absolute.
	WorktreeDir string
	// MinFreeMemoryMB is the floor below which Acquire refuses to run.
	MinFreeMemoryMB int
	// MaxCPUUtilization is the ceiling (0-100) above which Acquire refuses
	// to run.
	MaxCPUUtilization float64
	// SkipResourceChecks disables the gate entirely, for environments
	// without a readable /proc.
	SkipResourceChecks bool
}

func (c Config) maxWorktrees() int {
	if c.MaxWorkers <= 0 {
		return 2
	}
	return c.MaxWorkers * 2
}

// Manager is a bounded pool of git worktrees, each tracked by a
// models.Worktree handle. It does not embed any merge or conflict logic;
// those are the MergeEngine's job.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	repoPath string
	git      git.Runner
	checker  ResourceChecker

	byID map[string]*models.Worktree

	debugLog func(format string, args ...interface{})
}

// New builds a Manager rooted at repoPath using runner for git operations
// and checker for resource gating. Pass a nil checker to use /proc-backed
// defaults.
func New(repoPath string, runner git.Runner, checker ResourceChecker, cfg Config) (*Manager, error) {
	if cfg.WorktreeDir == "" {
		cfg.WorktreeDir = filepath.Join(repoPath, ".alphie-worktrees")
	}
	if !filepath.IsAbs(cfg.WorktreeDir) {
		cfg.WorktreeDir = filepath.Join(repoPath, cfg.WorktreeDir)
	}
	if err := os.MkdirAll(cfg.WorktreeDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree directory: %w", err)
	}
	if checker == nil {
		checker = procResourceChecker{}
	}
	return &Manager{
		cfg:      cfg,
		repoPath: repoPath,
		git:      runner,
		checker:  checker,
		byID:     make(map[string]*models.Worktree),
		debugLog: func(string, ...interface{}) {},
	}, nil
}

// SetDebugLog installs a logging callback; pass nil to silence again.
func (m *Manager) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn == nil {
		fn = func(string, ...interface{}) {}
	}
	m.mu.Lock()
	m.debugLog = fn
	m.mu.Unlock()
}

var branchSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)

// sanitizeBranchComponent replaces characters invalid for a git ref with
// "-", collapses runs, and strips leading/trailing separators.
func sanitizeBranchComponent(raw string) string {
	s := branchSanitizer.ReplaceAllString(raw, "-")
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	s = strings.Trim(s, "-/.")
	if s == "" {
		s = "task"
	}
	return s
}

// Acquire creates a worktree and branch for workerID/taskID, forked from
// baseRevision. Returns a structured AcquireError if the pool is full or
// resource checks fail.
func (m *Manager) Acquire(ctx context.Context, workerID, taskID, baseRevision string) (*models.Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.byID) >= m.cfg.maxWorktrees() {
		return nil, &AcquireError{Reason: FailurePoolExhausted}
	}

	if !m.cfg.SkipResourceChecks {
		if m.cfg.MinFreeMemoryMB > 0 {
			freeMB, err := m.checker.FreeMemoryMB()
			if err == nil && freeMB < m.cfg.MinFreeMemoryMB {
				return nil, &AcquireError{Reason: FailureLowMemory}
			}
		}
		if m.cfg.MaxCPUUtilization > 0 {
			util, err := m.checker.CPUUtilizationPercent()
			if err == nil && util > m.cfg.MaxCPUUtilization {
				return nil, &AcquireError{Reason: FailureHighCPU}
			}
		}
	}

	branch := "worktree/" + sanitizeBranchComponent(taskID)
	branch = m.resolveCollisionLocked(branch)

	path := filepath.Join(m.cfg.WorktreeDir, "worker-"+sanitizeBranchComponent(workerID))
	if baseRevision == "" {
		baseRevision = "HEAD"
	}

	if err := m.git.WorktreeAdd(path, branch); err != nil {
		// branch doesn't exist yet; create worktree with a fresh branch
		// off baseRevision instead.
		if err2 := m.createWithNewBranch(path, branch, baseRevision); err2 != nil {
			return nil, &AcquireError{Reason: FailureGit, Err: err2}
		}
	}

	wt := &models.Worktree{
		ID:        uuid.New().String(),
		Path:      path,
		Branch:    branch,
		WorkerID:  workerID,
		TaskID:    taskID,
		Status:    models.WorktreeStatusReady,
		CreatedAt: time.Now(),
	}
	m.byID[wt.ID] = wt
	m.debugLog("worktree acquired: id=%s branch=%s worker=%s task=%s", wt.ID, wt.Branch, workerID, taskID)
	return wt, nil
}

func (m *Manager) createWithNewBranch(path, branch, baseRevision string) error {
	if _, err := m.git.Run("worktree", "add", "-b", branch, path, baseRevision); err != nil {
		return err
	}
	return nil
}

func (m *Manager) resolveCollisionLocked(branch string) string {
	candidate := branch
	for _, wt := range m.byID {
		if wt.Branch == candidate {
			candidate = fmt.Sprintf("%s-%s", branch, randSuffix())
			break
		}
	}
	return candidate
}

func randSuffix() string {
	const alphabet = "0123456789abcdef"
	b := make([]byte, 6)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// Release marks a worktree ready for reuse bookkeeping. It does not touch
// the filesystem; on-disk removal happens in CleanupAll.
func (m *Manager) Release(worktreeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, ok := m.byID[worktreeID]
	if !ok {
		return fmt.Errorf("release worktree: unknown id %q", worktreeID)
	}
	wt.Status = models.WorktreeStatusReady
	wt.WorkerID = ""
	wt.TaskID = ""
	return nil
}

// CleanupAll removes every worktree this manager checked out. Best-effort:
// missing directories and already-removed worktrees are tolerated.
func (m *Manager) CleanupAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id, wt := range m.byID {
		_ = m.git.WorktreeUnlock(wt.Path)
		if err := m.git.WorktreeRemoveOptionalForce(wt.Path, true); err != nil {
			if rmErr := os.RemoveAll(wt.Path); rmErr != nil && firstErr == nil {
				firstErr = rmErr
			}
		}
		delete(m.byID, id)
	}
	_ = m.git.WorktreePruneExpireNow()
	return firstErr
}

// PruneOrphaned removes on-disk worktree directories under WorktreeDir that
// this manager is not currently tracking (e.g. left behind by a crash).
func (m *Manager) PruneOrphaned() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_ = m.git.WorktreePruneExpireNow()

	tracked := make(map[string]bool, len(m.byID))
	for _, wt := range m.byID {
		tracked[wt.Path] = true
	}

	entries, err := os.ReadDir(m.cfg.WorktreeDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read worktree directory: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(m.cfg.WorktreeDir, entry.Name())
		if tracked[path] {
			continue
		}
		_ = m.git.WorktreeUnlock(path)
		if err := m.git.WorktreeRemove(path); err != nil {
			if err := os.RemoveAll(path); err != nil {
				continue
			}
		}
		removed = append(removed, path)
	}
	return removed, nil
}

// List returns a snapshot of every worktree currently tracked.
func (m *Manager) List() []*models.Worktree {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.Worktree, 0, len(m.byID))
	for _, wt := range m.byID {
		copyWt := *wt
		out = append(out, &copyWt)
	}
	return out
}

// procResourceChecker reads /proc/meminfo and /proc/stat. There is no
// third-party host-metrics library anywhere in the dependency corpus this
// engine draws from, so this concern stays on the standard library.
type procResourceChecker struct{}

func (procResourceChecker) FreeMemoryMB() (int, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var availableKB, freeKB int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		var key string
		var value int
		if _, err := fmt.Sscanf(line, "%s %d", &key, &value); err != nil {
			continue
		}
		switch key {
		case "MemAvailable:":
			availableKB = value
		case "MemFree:":
			freeKB = value
		}
	}
	if availableKB > 0 {
		return availableKB / 1024, nil
	}
	return freeKB / 1024, nil
}

func (procResourceChecker) CPUUtilizationPercent() (float64, error) {
	sample := func() (idle, total uint64, err error) {
		f, err := os.Open("/proc/stat")
		if err != nil {
			return 0, 0, err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		if !scanner.Scan() {
			return 0, 0, fmt.Errorf("read /proc/stat: empty")
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			return 0, 0, fmt.Errorf("unexpected /proc/stat format")
		}
		var sum uint64
		for _, f := range fields[1:] {
			var v uint64
			fmt.Sscanf(f, "%d", &v)
			sum += v
		}
		var idleVal uint64
		fmt.Sscanf(fields[4], "%d", &idleVal)
		return idleVal, sum, nil
	}

	idle1, total1, err := sample()
	if err != nil {
		return 0, err
	}
	time.Sleep(100 * time.Millisecond)
	idle2, total2, err := sample()
	if err != nil {
		return 0, err
	}

	deltaTotal := total2 - total1
	deltaIdle := idle2 - idle1
	if deltaTotal == 0 {
		return 0, nil
	}
	busy := float64(deltaTotal-deltaIdle) / float64(deltaTotal) * 100
	return busy, nil
}
