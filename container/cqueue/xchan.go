package cqueue

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/czx-lab/netpipe/container/ringbuffer"
)

type (
	XchanConf struct {
		Bufsize int // initial ring size between in and out
		Insize  int // capacity of the input channel
		Outsize int // capacity of the output channel
	}
	// Xchan is an unbounded channel: sends on In never block for long
	// because the worker parks overflow in a ring until Out drains.
	Xchan[T any] struct {
		conf   XchanConf
		size   atomic.Int64
		in     chan T
		out    chan T
		buffer *ringbuffer.RingBuffer[T]
		once   sync.Once
	}
)

func NewXchan[T any](ctx context.Context, conf XchanConf) *Xchan[T] {
	xch := &Xchan[T]{
		conf:   conf,
		in:     make(chan T, conf.Insize),
		out:    make(chan T, conf.Outsize),
		buffer: ringbuffer.NewRingBuffer[T](conf.Bufsize),
	}
	go xch.worker(ctx)
	return xch
}

func (x *Xchan[T]) In() chan<- T {
	return x.in
}

func (x *Xchan[T]) Out() <-chan T {
	return x.out
}

// Close stops accepting input. Buffered elements are still delivered on Out,
// which is closed afterwards.
func (x *Xchan[T]) Close() {
	x.once.Do(func() { close(x.in) })
}

// Len counts elements in the input channel, ring and output channel.
func (x *Xchan[T]) Len() int {
	return len(x.in) + x.BufferLen() + len(x.out)
}

func (x *Xchan[T]) BufferLen() int {
	return int(x.size.Load())
}

func (x *Xchan[T]) worker(ctx context.Context) {
	defer close(x.out)

	for {
		if x.buffer.IsEmpty() {
			select {
			case <-ctx.Done():
				return
			case val, ok := <-x.in:
				if !ok {
					return
				}
				select {
				case x.out <- val:
					continue
				default:
				}
				x.buffer.Write(val)
				x.size.Add(1)
			}
			continue
		}

		head, _ := x.buffer.Peek()
		select {
		case <-ctx.Done():
			return
		case val, ok := <-x.in:
			if !ok {
				x.drain(ctx)
				return
			}
			x.buffer.Write(val)
			x.size.Add(1)
		case x.out <- head:
			x.buffer.Pop()
			x.size.Add(-1)
			// give back burst capacity
			if x.buffer.IsEmpty() && x.buffer.Cap() > x.conf.Bufsize {
				x.buffer.Reset()
			}
		}
	}
}

func (x *Xchan[T]) drain(ctx context.Context) {
	for !x.buffer.IsEmpty() {
		val, _ := x.buffer.Pop()
		select {
		case x.out <- val:
			x.size.Add(-1)
		case <-ctx.Done():
			return
		}
	}
}
