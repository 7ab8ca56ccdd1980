package cqueue

import (
	"errors"
	"sync"
)

// ErrFull is returned by Push on a bounded queue at capacity.
var ErrFull = errors.New("cqueue: queue is full")

// Queue is a mutex guarded FIFO.
type Queue[T any] struct {
	mu          sync.Mutex
	queue       []T
	maxCapacity int
}

// NewQueue returns an empty queue. maxcap <= 0 means unbounded.
func NewQueue[T any](maxcap int) *Queue[T] {
	return &Queue[T]{maxCapacity: maxcap}
}

// Push appends data, failing with ErrFull when the queue is at capacity.
func (q *Queue[T]) Push(data ...T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxCapacity > 0 && len(q.queue)+len(data) > q.maxCapacity {
		return ErrFull
	}
	q.queue = append(q.queue, data...)
	return nil
}

func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.queue) == 0 {
		return zero, false
	}
	data := q.queue[0]
	q.queue[0] = zero
	q.queue = q.queue[1:]
	return data, true
}

func (q *Queue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.queue) == 0 {
		var zero T
		return zero, false
	}
	return q.queue[0], true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.queue)
}

func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// PopAll removes and returns every element.
func (q *Queue[T]) PopAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	data := q.queue
	q.queue = nil
	return data
}

func (q *Queue[T]) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue = nil
}
