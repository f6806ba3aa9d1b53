package lockmanager

import (
	"context"
	"testing"
	"time"

	"github.com/ShayCichocki/alphie/internal/policy"
)

func testPolicy() policy.CollisionPolicy {
	cfg := policy.Default().Collision
	cfg.WaitQueueTimeout = 200 * time.Millisecond
	cfg.MaxLocksPerAgent = 2
	cfg.MaxWaitQueueLength = 1
	return cfg
}

func TestAcquire_SharedReadersConcurrent(t *testing.T) {
	m := New(testPolicy())
	ctx := context.Background()

	rel1, err := m.Acquire(ctx, "a1", "res", SharedRead)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rel2, err := m.Acquire(ctx, "a2", "res", SharedRead)
	if err != nil {
		t.Fatalf("expected second shared reader to be granted, got %v", err)
	}
	rel1()
	rel2()
}

func TestAcquire_ExclusiveBlocksSharedReaders(t *testing.T) {
	m := New(testPolicy())
	ctx := context.Background()

	rel, err := m.Acquire(ctx, "writer", "res", ExclusiveWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		r, err := m.Acquire(context.Background(), "reader", "res", SharedRead)
		if err == nil {
			r()
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	rel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected reader to acquire after release, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("reader never acquired after exclusive release")
	}
}

func TestAcquire_WaitQueueFull(t *testing.T) {
	m := New(testPolicy()) // MaxWaitQueueLength = 1
	ctx := context.Background()

	rel, err := m.Acquire(ctx, "writer", "res", ExclusiveWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rel()

	go func() {
		_, _ = m.Acquire(context.Background(), "waiter1", "res", SharedRead)
	}()
	time.Sleep(20 * time.Millisecond)

	if _, err := m.Acquire(ctx, "waiter2", "res", SharedRead); err != ErrWaitQueueFull {
		t.Fatalf("expected ErrWaitQueueFull, got %v", err)
	}
}

func TestAcquire_QuotaExceeded(t *testing.T) {
	m := New(testPolicy()) // MaxLocksPerAgent = 2
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "a1", "r1", SharedRead); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Acquire(ctx, "a1", "r2", SharedRead); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.Acquire(ctx, "a1", "r3", SharedRead); err != ErrQuotaExceeded {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestAcquire_WaitTimeout(t *testing.T) {
	m := New(testPolicy()) // WaitQueueTimeout = 200ms
	ctx := context.Background()

	rel, err := m.Acquire(ctx, "writer", "res", ExclusiveWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rel()

	start := time.Now()
	_, err = m.Acquire(ctx, "waiter", "res", SharedRead)
	if err != ErrWaitTimeout {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
	if time.Since(start) < 150*time.Millisecond {
		t.Fatalf("expected acquire to wait close to the configured timeout")
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	m := New(testPolicy())
	rel, err := m.Acquire(context.Background(), "writer", "res", ExclusiveWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	if _, err := m.Acquire(ctx, "waiter", "res", SharedRead); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAcquire_DeadlockDetected(t *testing.T) {
	cfg := testPolicy()
	cfg.MaxLocksPerAgent = 4
	cfg.MaxWaitQueueLength = 4
	m := New(cfg)

	relA, err := m.Acquire(context.Background(), "a", "r1", ExclusiveWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer relA()
	relB, err := m.Acquire(context.Background(), "b", "r2", ExclusiveWrite)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer relB()

	// b queues for r1 (held by a), making b wait-for r1.
	go func() {
		_, _ = m.Acquire(context.Background(), "b", "r1", ExclusiveWrite)
	}()
	time.Sleep(20 * time.Millisecond)

	// a requesting r2 (held by b, which waits on r1 held by a) would close the cycle.
	if _, err := m.Acquire(context.Background(), "a", "r2", ExclusiveWrite); err != ErrDeadlock {
		t.Fatalf("expected ErrDeadlock, got %v", err)
	}
}

func TestRelease_IsIdempotent(t *testing.T) {
	m := New(testPolicy())
	rel, err := m.Acquire(context.Background(), "a1", "res", SharedRead)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rel()
	rel()
	if got := m.HeldCount("a1"); got != 0 {
		t.Fatalf("expected held count 0 after release, got %d", got)
	}
}
