package cqueue

import (
	"container/heap"
	"slices"
	"sync"

	"github.com/czx-lab/netpipe/container/recycler"
)

type (
	// Item is a handle to an element stored in a PriorityQueue. It can be
	// passed back to Remove.
	Item[T any] struct {
		Value T
		index int
	}
	qitems[T any] struct {
		items []*Item[T]
		less  func(a, b T) bool
	}
	// PriorityQueue is a thread-safe min-heap ordered by a caller supplied
	// less function.
	PriorityQueue[T any] struct {
		mu       sync.Mutex
		h        qitems[T]
		maxCap   int
		recycler recycler.Recycler
	}
)

func (q qitems[T]) Len() int { return len(q.items) }

func (q qitems[T]) Less(i, j int) bool {
	return q.less(q.items[i].Value, q.items[j].Value)
}

func (q qitems[T]) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *qitems[T]) Push(x any) {
	it := x.(*Item[T])
	it.index = len(q.items)
	q.items = append(q.items, it)
}

func (q *qitems[T]) Pop() any {
	n := len(q.items)
	it := q.items[n-1]
	q.items[n-1] = nil
	it.index = -1
	q.items = q.items[:n-1]
	return it
}

// NewPriorityQueue returns an empty queue. maxCap <= 0 means unbounded.
func NewPriorityQueue[T any](maxCap int, less func(a, b T) bool) *PriorityQueue[T] {
	return &PriorityQueue[T]{
		h:      qitems[T]{less: less},
		maxCap: maxCap,
	}
}

func (pq *PriorityQueue[T]) WithRecycler(r recycler.Recycler) *PriorityQueue[T] {
	pq.recycler = r
	return pq
}

func (pq *PriorityQueue[T]) shrink() {
	if pq.recycler == nil || !pq.recycler.Shrink(len(pq.h.items), cap(pq.h.items)) {
		return
	}
	pq.h.items = slices.Clip(pq.h.items)
}

func (pq *PriorityQueue[T]) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	return len(pq.h.items)
}

// Push inserts value and returns its handle, or nil when the queue is full.
func (pq *PriorityQueue[T]) Push(value T) *Item[T] {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.maxCap > 0 && len(pq.h.items) >= pq.maxCap {
		return nil
	}
	it := &Item[T]{Value: value}
	heap.Push(&pq.h, it)
	return it
}

// Pop removes and returns the smallest element.
func (pq *PriorityQueue[T]) Pop() (T, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if len(pq.h.items) == 0 {
		var zero T
		return zero, false
	}
	it := heap.Pop(&pq.h).(*Item[T])
	pq.shrink()
	return it.Value, true
}

// PopIf pops the smallest element only when ok returns true for it.
func (pq *PriorityQueue[T]) PopIf(ok func(T) bool) (T, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	var zero T
	if len(pq.h.items) == 0 || !ok(pq.h.items[0].Value) {
		return zero, false
	}
	it := heap.Pop(&pq.h).(*Item[T])
	pq.shrink()
	return it.Value, true
}

// Peek returns the smallest element without removing it.
func (pq *PriorityQueue[T]) Peek() (T, bool) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if len(pq.h.items) == 0 {
		var zero T
		return zero, false
	}
	return pq.h.items[0].Value, true
}

// Remove deletes the element behind the handle. It reports false when the
// element was already popped or removed.
func (pq *PriorityQueue[T]) Remove(it *Item[T]) bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if it == nil || it.index < 0 || it.index >= len(pq.h.items) || pq.h.items[it.index] != it {
		return false
	}
	heap.Remove(&pq.h, it.index)
	pq.shrink()
	return true
}

// Drain removes every element and returns them in heap order.
func (pq *PriorityQueue[T]) Drain() []T {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	out := make([]T, 0, len(pq.h.items))
	for len(pq.h.items) > 0 {
		out = append(out, heap.Pop(&pq.h).(*Item[T]).Value)
	}
	pq.h.items = nil
	return out
}
