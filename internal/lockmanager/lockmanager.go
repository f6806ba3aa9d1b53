// Package lockmanager provides an optional per-resource locking
// collaborator for the executor: shared-read or exclusive-write locks,
// a per-agent quota on concurrently held locks, a bounded wait queue
// per resource, and deadlock detection on acquire. Nothing in
// internal/executor requires this collaborator for correctness; it
// exists for callers that want to serialize access to build caches,
// lockfiles, or other resources workers don't own exclusively.
//
// The design generalizes the teacher's path-prefix/hotspot heuristics
// in orchestrator.CollisionChecker into a resource-keyed lock table.
package lockmanager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ShayCichocki/alphie/internal/policy"
)

// Mode is the kind of access a lock request wants.
type Mode int

const (
	// SharedRead allows any number of concurrent holders, so long as
	// none of them hold ExclusiveWrite.
	SharedRead Mode = iota
	// ExclusiveWrite requires sole ownership of the resource.
	ExclusiveWrite
)

var (
	// ErrQuotaExceeded is returned when an agent already holds its
	// configured maximum number of concurrent locks.
	ErrQuotaExceeded = errors.New("lockmanager: agent lock quota exceeded")
	// ErrWaitQueueFull is returned when a resource's wait queue has
	// reached its configured bound.
	ErrWaitQueueFull = errors.New("lockmanager: wait queue full")
	// ErrDeadlock is returned when granting a wait would complete a
	// cycle in the wait-for graph.
	ErrDeadlock = errors.New("lockmanager: acquiring would deadlock")
	// ErrWaitTimeout is returned when a waiter sits in queue longer
	// than the configured wait timeout.
	ErrWaitTimeout = errors.New("lockmanager: timed out waiting for lock")
)

type waiter struct {
	agentID string
	mode    Mode
	wake    chan struct{}
}

type resourceLock struct {
	holders map[string]Mode
	waiters []*waiter
}

// Manager tracks lock state across resources and agents.
type Manager struct {
	mu        sync.Mutex
	cfg       policy.CollisionPolicy
	resources map[string]*resourceLock
	heldCount map[string]int
	waitFor   map[string]string // agentID -> resource it is currently queued on
}

// New creates a Manager governed by cfg. A zero-value cfg is replaced
// with policy defaults.
func New(cfg policy.CollisionPolicy) *Manager {
	if cfg.MaxLocksPerAgent <= 0 || cfg.MaxWaitQueueLength <= 0 {
		cfg = policy.Default().Collision
	}
	return &Manager{
		cfg:       cfg,
		resources: make(map[string]*resourceLock),
		heldCount: make(map[string]int),
		waitFor:   make(map[string]string),
	}
}

// Release unlocks a previously acquired resource for agentID.
type Release func()

// Acquire blocks until agentID is granted mode access to resource, ctx
// is cancelled, the agent's wait times out, or the request is refused
// outright (quota exceeded, wait queue full, deadlock detected).
func (m *Manager) Acquire(ctx context.Context, agentID, resource string, mode Mode) (Release, error) {
	m.mu.Lock()
	if m.heldCount[agentID] >= m.cfg.MaxLocksPerAgent {
		m.mu.Unlock()
		return nil, ErrQuotaExceeded
	}

	rl := m.resourceFor(resource)

	for {
		if canGrant(rl, mode) {
			rl.holders[agentID] = mode
			m.heldCount[agentID]++
			delete(m.waitFor, agentID)
			m.mu.Unlock()
			return m.releaseFunc(agentID, resource), nil
		}

		if len(rl.waiters) >= m.cfg.MaxWaitQueueLength {
			m.mu.Unlock()
			return nil, ErrWaitQueueFull
		}
		if m.wouldDeadlock(agentID, rl) {
			m.mu.Unlock()
			return nil, ErrDeadlock
		}

		w := &waiter{agentID: agentID, mode: mode, wake: make(chan struct{})}
		rl.waiters = append(rl.waiters, w)
		m.waitFor[agentID] = resource
		m.mu.Unlock()

		select {
		case <-w.wake:
			// wakeWaiters has already recorded this waiter as a holder.
			return m.releaseFunc(agentID, resource), nil
		case <-ctx.Done():
			m.mu.Lock()
			m.dropWaiter(rl, w)
			delete(m.waitFor, agentID)
			m.mu.Unlock()
			return nil, ctx.Err()
		case <-time.After(m.cfg.WaitQueueTimeout):
			m.mu.Lock()
			m.dropWaiter(rl, w)
			delete(m.waitFor, agentID)
			m.mu.Unlock()
			return nil, ErrWaitTimeout
		}
	}
}

func (m *Manager) releaseFunc(agentID, resource string) Release {
	var once sync.Once
	return func() {
		once.Do(func() { m.release(agentID, resource) })
	}
}

func (m *Manager) release(agentID, resource string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rl := m.resources[resource]
	if rl == nil {
		return
	}
	if _, held := rl.holders[agentID]; !held {
		return
	}
	delete(rl.holders, agentID)
	if m.heldCount[agentID] > 0 {
		m.heldCount[agentID]--
	}
	m.wakeWaiters(rl)
}

// wakeWaiters grants the resource to as many queued waiters, in order,
// as the current holder set allows (multiple SharedRead waiters can be
// woken together; an ExclusiveWrite waiter only when the resource is
// fully free).
func (m *Manager) wakeWaiters(rl *resourceLock) {
	for len(rl.waiters) > 0 {
		w := rl.waiters[0]
		if !canGrant(rl, w.mode) {
			break
		}
		rl.waiters = rl.waiters[1:]
		rl.holders[w.agentID] = w.mode
		m.heldCount[w.agentID]++
		delete(m.waitFor, w.agentID)
		close(w.wake)
	}
}

func (m *Manager) dropWaiter(rl *resourceLock, target *waiter) {
	for i, w := range rl.waiters {
		if w == target {
			rl.waiters = append(rl.waiters[:i], rl.waiters[i+1:]...)
			return
		}
	}
}

func (m *Manager) resourceFor(resource string) *resourceLock {
	rl, ok := m.resources[resource]
	if !ok {
		rl = &resourceLock{holders: make(map[string]Mode)}
		m.resources[resource] = rl
	}
	return rl
}

func canGrant(rl *resourceLock, mode Mode) bool {
	if len(rl.holders) == 0 {
		return true
	}
	if mode == ExclusiveWrite {
		return false
	}
	for _, held := range rl.holders {
		if held == ExclusiveWrite {
			return false
		}
	}
	return true
}

// wouldDeadlock reports whether agentID waiting on rl would complete a
// cycle: some holder of rl is, transitively through the wait-for
// chain, waiting on a resource agentID itself holds.
func (m *Manager) wouldDeadlock(agentID string, rl *resourceLock) bool {
	visited := make(map[string]bool)

	var reaches func(holder string) bool
	reaches = func(holder string) bool {
		if visited[holder] {
			return false
		}
		visited[holder] = true

		waitingOn, ok := m.waitFor[holder]
		if !ok || waitingOn == "" {
			return false
		}
		waitRL := m.resources[waitingOn]
		if waitRL == nil {
			return false
		}
		for h := range waitRL.holders {
			if h == agentID {
				return true
			}
			if reaches(h) {
				return true
			}
		}
		return false
	}

	for h := range rl.holders {
		if reaches(h) {
			return true
		}
	}
	return false
}

// HeldCount returns how many locks agentID currently holds, for tests
// and diagnostics.
func (m *Manager) HeldCount(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heldCount[agentID]
}
