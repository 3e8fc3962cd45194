// Package waiters keeps the callers blocked until a connection opens.
//
// A waiter is either resolved by ResolveAll or withdrawn by its own timeout,
// never both: whichever side removes it from the set first wins.
package waiters

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimeout is returned by Wait when the deadline passes before resolution.
var ErrTimeout = errors.New("timed out waiting for connection")

// Waiter is one pending caller.
type Waiter struct {
	done chan struct{}
}

// Done is closed when the waiter is resolved.
func (w *Waiter) Done() <-chan struct{} { return w.done }

// Set is the registry of pending waiters.
type Set struct {
	mu      sync.Mutex
	pending map[*Waiter]struct{}
}

// NewSet creates an empty waiter set.
func NewSet() *Set {
	return &Set{pending: make(map[*Waiter]struct{})}
}

// Add registers a new waiter.
func (s *Set) Add() *Waiter {
	w := &Waiter{done: make(chan struct{})}
	s.mu.Lock()
	s.pending[w] = struct{}{}
	s.mu.Unlock()
	return w
}

// Remove withdraws a waiter. It reports false when the waiter was already
// resolved (or never registered).
func (s *Set) Remove(w *Waiter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[w]; !ok {
		return false
	}
	delete(s.pending, w)
	return true
}

// ResolveAll resolves every pending waiter and empties the set.
// It returns the number resolved.
func (s *Set) ResolveAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	for w := range s.pending {
		close(w.done)
		delete(s.pending, w)
	}
	return n
}

// Len reports the number of pending waiters.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Wait blocks until w is resolved, timeout elapses or ctx is done.
// On timeout or cancellation the waiter is withdrawn; if resolution won the
// race in the meantime Wait still reports success.
func (s *Set) Wait(ctx context.Context, w *Waiter, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return nil
	case <-timer.C:
		if s.Remove(w) {
			return ErrTimeout
		}
		return nil
	case <-ctx.Done():
		if s.Remove(w) {
			return ctx.Err()
		}
		return nil
	}
}
