// Package buffer provides the unbounded FIFO queue used between pipeline
// stages (router → writer) and as the per-subscriber mailbox of the store's
// change stream. Producers never block and nothing is dropped.
package buffer

import (
	"errors"
	"sync"
)

// ErrClosed is returned by producers that find the queue closed.
var ErrClosed = errors.New("queue closed")

// growThreshold is the fill percentage at which the ring doubles.
const growThreshold = 70

// Queue is a thread-safe ring buffer that doubles its capacity when it
// reaches 70% full.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int // read position
	tail   int // write position
	count  int
	closed bool

	// Stats
	enqueued int64
	dequeued int64
	resizes  int
}

// Stats contains queue statistics.
type Stats struct {
	Count    int
	Capacity int
	Enqueued int64
	Dequeued int64
	Resizes  int
}

// New creates a queue with the given initial capacity (minimum 1).
func New[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue[T]{ring: make([]T, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := len(q.ring) * growThreshold / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.ring[q.tail] = item
	q.tail = (q.tail + 1) % len(q.ring)
	q.count++
	q.enqueued++

	q.cond.Signal()
	return true
}

// Receive removes the oldest item, blocking until one is available.
// Returns false once the queue is closed and drained.
func (q *Queue[T]) Receive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// TryReceive removes the oldest item without blocking.
func (q *Queue[T]) TryReceive() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		var zero T
		return zero, false
	}
	return q.popLocked(), true
}

// DrainTo removes up to max items (all items when max <= 0) in FIFO order.
// Returns nil when the queue is empty.
func (q *Queue[T]) DrainTo(max int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.count == 0 {
		return nil
	}

	n := q.count
	if max > 0 && max < n {
		n = max
	}

	items := make([]T, n)
	for i := range items {
		items[i] = q.popLocked()
	}
	return items
}

// Close stops accepting items and wakes blocked receivers. Items already
// queued can still be received.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Cap returns the current ring capacity.
func (q *Queue[T]) Cap() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ring)
}

// Stats returns queue statistics.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Count:    q.count,
		Capacity: len(q.ring),
		Enqueued: q.enqueued,
		Dequeued: q.dequeued,
		Resizes:  q.resizes,
	}
}

// popLocked removes the head item. Caller holds mu and count > 0.
func (q *Queue[T]) popLocked() T {
	item := q.ring[q.head]
	var zero T
	q.ring[q.head] = zero // release reference for GC
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	q.dequeued++
	return item
}

// grow doubles the ring and unwraps it so head is 0. Caller holds mu.
func (q *Queue[T]) grow() {
	ring := make([]T, len(q.ring)*2)

	if q.count > 0 {
		if q.head < q.tail {
			copy(ring, q.ring[q.head:q.tail])
		} else {
			n := copy(ring, q.ring[q.head:])
			copy(ring[n:], q.ring[:q.tail])
		}
	}

	q.ring = ring
	q.head = 0
	q.tail = q.count
	q.resizes++
}
