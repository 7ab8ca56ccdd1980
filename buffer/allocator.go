package buffer

import (
	"sync"
	"sync/atomic"
)

// Allocator hands out buffers. Implementations must be safe for concurrent
// use.
type Allocator interface {
	Buffer(initialCapacity, maxCapacity int) *Buffer
}

// Heap allocates unpooled buffers.
type Heap struct{}

// Buffer implements Allocator.
func (Heap) Buffer(initialCapacity, maxCapacity int) *Buffer {
	return New(initialCapacity, maxCapacity)
}

// Default is the allocator used when a component is not given one.
var Default Allocator = NewPooledAllocator()

var sizeClasses = [...]int{256, 1 << 10, 4 << 10, 16 << 10, 64 << 10, 256 << 10, 1 << 20}

// Stats is a snapshot of pooled allocator counters.
type Stats struct {
	Allocated uint64
	Reused    uint64
	Returned  uint64
	InUse     int64
}

type slab struct {
	size int
	pool sync.Pool
}

// PooledAllocator recycles backing arrays in fixed size classes. Requests
// larger than the biggest class fall through to the heap.
type PooledAllocator struct {
	slabs [len(sizeClasses)]*slab

	allocated atomic.Uint64
	reused    atomic.Uint64
	returned  atomic.Uint64
	inUse     atomic.Int64
}

// NewPooledAllocator returns an allocator with empty size-class pools.
func NewPooledAllocator() *PooledAllocator {
	a := &PooledAllocator{}
	for i, size := range sizeClasses {
		a.slabs[i] = &slab{size: size}
	}
	return a
}

// Buffer implements Allocator.
func (a *PooledAllocator) Buffer(initialCapacity, maxCapacity int) *Buffer {
	if initialCapacity <= 0 {
		initialCapacity = DefaultInitialCapacity
	}
	if maxCapacity <= 0 {
		maxCapacity = DefaultMaxCapacity
	}
	if maxCapacity < initialCapacity {
		maxCapacity = initialCapacity
	}
	p := a.get(initialCapacity)
	// a class larger than the limit would let the buffer exceed maxCapacity.
	if len(p) > maxCapacity {
		a.put(p)
		return New(initialCapacity, maxCapacity)
	}
	return newBuffer(p, maxCapacity, a)
}

// Stats returns the current counters.
func (a *PooledAllocator) Stats() Stats {
	return Stats{
		Allocated: a.allocated.Load(),
		Reused:    a.reused.Load(),
		Returned:  a.returned.Load(),
		InUse:     a.inUse.Load(),
	}
}

func (a *PooledAllocator) classFor(size int) *slab {
	for _, s := range a.slabs {
		if size <= s.size {
			return s
		}
	}
	return nil
}

func (a *PooledAllocator) get(size int) []byte {
	a.inUse.Add(1)
	s := a.classFor(size)
	if s == nil {
		a.allocated.Add(1)
		return make([]byte, size)
	}
	if v := s.pool.Get(); v != nil {
		a.reused.Add(1)
		p := v.(*[]byte)
		clear(*p)
		return *p
	}
	a.allocated.Add(1)
	return make([]byte, s.size)
}

func (a *PooledAllocator) put(p []byte) {
	a.inUse.Add(-1)
	s := a.classFor(cap(p))
	if s == nil || cap(p) != s.size {
		return
	}
	p = p[:s.size]
	a.returned.Add(1)
	s.pool.Put(&p)
}
