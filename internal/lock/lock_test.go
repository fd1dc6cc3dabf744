package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"bilancio/internal/core"
)

func TestLockTimesOutWithConflict(t *testing.T) {
	m := NewManager(30 * time.Millisecond)

	holder := m.NewSet()
	if err := holder.Lock(context.Background(), AccountKey("a")); err != nil {
		t.Fatal(err)
	}
	defer holder.Release()

	waiter := m.NewSet()
	defer waiter.Release()
	start := time.Now()
	err := waiter.Lock(context.Background(), AccountKey("a"))

	var conflict *core.ConflictError
	if !errors.As(err, &conflict) || !core.IsRetryable(err) {
		t.Fatalf("Lock() error = %v, want ConflictError", err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("returned before the timeout elapsed")
	}
}

func TestDisjointKeysDoNotBlock(t *testing.T) {
	m := NewManager(time.Second)
	a := m.NewSet()
	defer a.Release()
	if err := a.Lock(context.Background(), AccountKey("a")); err != nil {
		t.Fatal(err)
	}

	b := m.NewSet()
	defer b.Release()
	done := make(chan error, 1)
	go func() { done <- b.Lock(context.Background(), AccountKey("b")) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("lock on a disjoint key blocked")
	}
}

func TestLockIsReentrantWithinASet(t *testing.T) {
	m := NewManager(50 * time.Millisecond)
	s := m.NewSet()
	defer s.Release()

	if err := s.Lock(context.Background(), ScheduleKey("s"), AccountKey("a")); err != nil {
		t.Fatal(err)
	}
	if err := s.Lock(context.Background(), AccountKey("a"), AccountKey("b"), AccountKey("a")); err != nil {
		t.Fatalf("relocking a held key: %v", err)
	}
	for _, k := range []string{ScheduleKey("s"), AccountKey("a"), AccountKey("b")} {
		if !s.Holds(k) {
			t.Errorf("expected %s to be held", k)
		}
	}
}

func TestLockHonorsCancellation(t *testing.T) {
	m := NewManager(time.Second)
	holder := m.NewSet()
	defer holder.Release()
	if err := holder.Lock(context.Background(), AccountKey("a")); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := m.NewSet().Lock(ctx, AccountKey("a"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Lock() error = %v, want context.Canceled", err)
	}
	if core.IsRetryable(err) {
		t.Fatal("cancellation must not look like a conflict")
	}
}

func TestReleaseCleansTable(t *testing.T) {
	m := NewManager(time.Second)
	s := m.NewSet()
	if err := s.Lock(context.Background(), AccountKey("a"), AccountKey("b")); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
	s.Release()
	s.Release()
	if m.Len() != 0 {
		t.Fatalf("Len() after release = %d, want 0", m.Len())
	}
}

// Opposite acquisition orders in one call never deadlock because keys are
// sorted before acquisition.
func TestSortedAcquisitionAvoidsDeadlock(t *testing.T) {
	m := NewManager(2 * time.Second)
	var wg sync.WaitGroup
	var counter, failures atomic.Int64

	for i := 0; i < 50; i++ {
		wg.Add(2)
		for _, keys := range [][]string{{AccountKey("x"), AccountKey("y")}, {AccountKey("y"), AccountKey("x")}} {
			go func(keys []string) {
				defer wg.Done()
				s := m.NewSet()
				defer s.Release()
				if err := s.Lock(context.Background(), keys...); err != nil {
					failures.Add(1)
					return
				}
				counter.Add(1)
			}(keys)
		}
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("%d acquisitions failed", failures.Load())
	}
	if counter.Load() != 100 {
		t.Fatalf("counter = %d, want 100", counter.Load())
	}
}
