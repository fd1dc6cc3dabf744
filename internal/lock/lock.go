// Package lock provides keyed mutual exclusion with bounded waits.
//
// Each key maps to a weighted semaphore of size one, so waiters are served in
// FIFO order. A Set groups the keys held by one unit of work; keys passed to a
// single Lock call are acquired in sorted order.
package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"bilancio/internal/core"
)

// DefaultTimeout bounds how long a unit of work waits for its locks.
const DefaultTimeout = 5 * time.Second

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Manager owns the lock table. The zero value is not usable; call NewManager.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		entries: make(map[string]*entry),
		timeout: timeout,
	}
}

// Timeout returns the bounded wait applied to each Lock call.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Len reports how many keys are currently held or awaited.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Manager) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		m.entries[key] = e
	}
	e.refs++
	return e
}

func (m *Manager) unref(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(m.entries, key)
	}
}

// NewSet starts an empty set of held locks.
func (m *Manager) NewSet() *Set {
	return &Set{m: m, held: make(map[string]*entry)}
}

// Set is the collection of locks held by one unit of work. It is not safe for
// concurrent use.
type Set struct {
	m    *Manager
	held map[string]*entry
}

// Lock acquires every key not already held by s. Keys are deduplicated and
// taken in sorted order. If the manager's timeout expires first the error is
// a *core.ConflictError; if ctx ends first, ctx's error is returned. Keys
// acquired before a failure stay in s until Release.
func (s *Set) Lock(ctx context.Context, keys ...string) error {
	want := slices.Clone(keys)
	slices.Sort(want)
	want = slices.Compact(want)

	waitCtx, cancel := context.WithTimeout(ctx, s.m.timeout)
	defer cancel()

	for _, key := range want {
		if key == "" {
			continue
		}
		if _, ok := s.held[key]; ok {
			continue
		}
		e := s.m.ref(key)
		if err := e.sem.Acquire(waitCtx, 1); err != nil {
			s.m.unref(key, e)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return core.Conflict("lock", fmt.Errorf("waited %s for %s", s.m.timeout, key))
			}
			return err
		}
		s.held[key] = e
	}
	return nil
}

// Holds reports whether key is held by s.
func (s *Set) Holds(key string) bool {
	_, ok := s.held[key]
	return ok
}

// Release frees every held key. Safe to call more than once.
func (s *Set) Release() {
	for key, e := range s.held {
		e.sem.Release(1)
		s.m.unref(key, e)
		delete(s.held, key)
	}
}

// Keys for the lockable entities.
func AccountKey(id string) string     { return "account:" + id }
func TransactionKey(id string) string { return "transaction:" + id }
func ScheduleKey(id string) string    { return "schedule:" + id }
