// Package buffer provides the bounded, newest-first sequence used for the
// event buffer, the alert history, and timeline retention. One capacity
// invariant lives here instead of ad hoc truncation at every call site.
package buffer

import (
	"sync"
)

// Ring is a thread-safe bounded sequence holding the most recently pushed
// values in reverse-chronological order. Once capacity is reached the oldest
// value is evicted on every push. Eviction is strictly by age, never by
// priority, and duplicates are accepted as-is.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int
	count int
	cap   int
}

// NewRing creates a ring with the given capacity. Capacity must be positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		items: make([]T, capacity),
		cap:   capacity,
	}
}

// Push inserts v as the newest element, evicting the oldest when full. O(1).
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.head] = v
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
}

// Len returns the number of retained elements, always <= capacity.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return r.cap
}

// Snapshot returns a copy of the retained elements, newest first. Safe to
// call concurrently with Push; the copy never observes a torn state.
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.count, nil)
}

// Recent returns a copy of up to n newest elements, newest first.
func (r *Ring[T]) Recent(n int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n < 0 || n > r.count {
		n = r.count
	}
	return r.collect(n, nil)
}

// Filter returns a newest-first copy of the elements matching pred. The ring
// itself is not mutated.
func (r *Ring[T]) Filter(pred func(T) bool) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collect(r.count, pred)
}

// Clear drops all retained elements. Capacity is unchanged.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.count = 0
}

// collect walks backwards from the newest slot. Callers hold the lock.
func (r *Ring[T]) collect(n int, pred func(T) bool) []T {
	out := make([]T, 0, n)
	for i := 0; i < r.count && len(out) < n; i++ {
		idx := (r.head - 1 - i + r.cap*2) % r.cap
		v := r.items[idx]
		if pred == nil || pred(v) {
			out = append(out, v)
		}
	}
	return out
}
