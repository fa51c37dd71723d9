// Package memory provides the in-process work queues shared by worker pools.
package memory

import (
	"sync"
)

// Queue is an unbounded multi-producer/multi-consumer FIFO. No operation
// blocks: an empty queue is reported through the ok result of TryPop.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	head  int
}

// NewQueue constructs an empty queue, optionally seeded with items.
func NewQueue[T any](seed ...T) *Queue[T] {
	q := &Queue[T]{}
	q.items = append(q.items, seed...)
	return q
}

// Push appends an item.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
}

// PushAll appends items in order.
func (q *Queue[T]) PushAll(items ...T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
}

// TryPop removes the oldest item. ok is false when the queue is empty.
func (q *Queue[T]) TryPop() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.items) {
		return item, false
	}
	item = q.popLocked()
	return item, true
}

// DrainUpTo removes at most n items and returns them oldest first.
func (q *Queue[T]) DrainUpTo(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	available := len(q.items) - q.head
	if n > available {
		n = available
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, q.popLocked())
	}
	return out
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

func (q *Queue[T]) popLocked() T {
	var zero T
	item := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	// Compact once the consumed prefix dominates the backing array.
	if q.head > 64 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.head = 0
	}
	return item
}
