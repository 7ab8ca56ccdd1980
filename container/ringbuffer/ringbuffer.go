// Package ringbuffer implements a growable FIFO ring. It is not safe for
// concurrent use; callers guard it themselves.
package ringbuffer

const defaultCapacity = 1024

type RingBuffer[T any] struct {
	buf        []T
	init, size int
	r, w       int
}

func NewRingBuffer[T any](cap int) *RingBuffer[T] {
	if cap <= 1 {
		cap = defaultCapacity
	}
	return &RingBuffer[T]{
		buf:  make([]T, cap),
		init: cap,
		size: cap,
	}
}

// Pop removes and returns the oldest element. The vacated slot is zeroed so
// the ring does not pin popped values.
func (rb *RingBuffer[T]) Pop() (T, bool) {
	var zero T
	if rb.r == rb.w {
		return zero, false
	}
	item := rb.buf[rb.r]
	rb.buf[rb.r] = zero
	rb.r = (rb.r + 1) % rb.size
	return item, true
}

// Peek returns the oldest element without removing it.
func (rb *RingBuffer[T]) Peek() (T, bool) {
	if rb.r == rb.w {
		var zero T
		return zero, false
	}
	return rb.buf[rb.r], true
}

// Write appends an element, growing the ring when full.
func (rb *RingBuffer[T]) Write(data T) {
	nextW := (rb.w + 1) % rb.size
	if nextW == rb.r {
		rb.grow()
		nextW = (rb.w + 1) % rb.size
	}
	rb.buf[rb.w] = data
	rb.w = nextW
}

// Drain pops up to max elements (all when max <= 0) into fn and returns how
// many were popped.
func (rb *RingBuffer[T]) Drain(max int, fn func(T)) int {
	n := 0
	for max <= 0 || n < max {
		v, ok := rb.Pop()
		if !ok {
			break
		}
		fn(v)
		n++
	}
	return n
}

// grows by doubling below 1024 slots, then by a quarter.
func (rb *RingBuffer[T]) grow() {
	size := rb.size * 2
	if rb.size >= 1024 {
		size = rb.size + rb.size/4
	}
	buf := make([]T, size)
	n := rb.Len()
	for i := range n {
		buf[i] = rb.buf[(rb.r+i)%rb.size]
	}
	rb.r, rb.w = 0, n
	rb.size = size
	rb.buf = buf
}

func (rb *RingBuffer[T]) IsEmpty() bool {
	return rb.r == rb.w
}

func (rb *RingBuffer[T]) Cap() int {
	return rb.size
}

func (rb *RingBuffer[T]) Len() int {
	if rb.w >= rb.r {
		return rb.w - rb.r
	}
	return rb.size - rb.r + rb.w
}

// Reset drops every element and shrinks back to the initial capacity.
func (rb *RingBuffer[T]) Reset() {
	rb.r, rb.w = 0, 0
	rb.size = rb.init
	rb.buf = make([]T, rb.init)
}
