// Package buffer provides a generic bounded ring buffer with drop-oldest
// overflow semantics, used for per-connection outbound queues where a slow
// consumer must never block the producer.
package buffer

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrInvalidCapacity is returned when a ring is created with capacity < 1.
var ErrInvalidCapacity = errors.New("buffer: capacity must be at least 1")

// Ring is a thread-safe fixed-capacity ring buffer. When full, writes
// evict the oldest element rather than blocking or failing.
type Ring[T any] struct {
	mu    sync.Mutex
	items []T
	head  int // index of oldest element
	size  int
	drops atomic.Int64
}

// NewRing creates a ring buffer with the given capacity.
func NewRing[T any](capacity int) (*Ring[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &Ring[T]{items: make([]T, capacity)}, nil
}

// Write appends v, evicting the oldest element if the ring is full.
// Returns true if an element was dropped to make room.
func (r *Ring[T]) Write(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == len(r.items) {
		// Overwrite the oldest slot
		r.items[r.head] = v
		r.head = (r.head + 1) % len(r.items)
		r.drops.Add(1)
		return true
	}

	r.items[(r.head+r.size)%len(r.items)] = v
	r.size++
	return false
}

// TryRead removes and returns the oldest element. The second return
// value is false when the ring is empty.
func (r *Ring[T]) TryRead() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	v := r.items[r.head]
	r.items[r.head] = zero // release reference
	r.head = (r.head + 1) % len(r.items)
	r.size--
	return v, true
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Drops returns the total number of elements evicted by overflow.
func (r *Ring[T]) Drops() int64 {
	return r.drops.Load()
}

// Clear removes all buffered elements.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}
