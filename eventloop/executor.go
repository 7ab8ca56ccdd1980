// Package eventloop runs tasks, timers and I/O callbacks for a set of
// connections on a single goroutine per loop.
package eventloop

import (
	"errors"
	"time"
)

var (
	// ErrShutdown is returned when submitting to a loop that is stopping.
	ErrShutdown = errors.New("eventloop: loop is shut down")
	// ErrCancelled completes a future that was cancelled before it ran.
	ErrCancelled = errors.New("eventloop: task cancelled")
	// ErrQueueFull is returned when a bounded task queue is at capacity.
	ErrQueueFull = errors.New("eventloop: task queue is full")
)

// Executor serializes work for the connections pinned to it.
type Executor interface {
	// InLoop reports whether the caller runs on the executor goroutine.
	InLoop() bool
	// Execute runs task inline when called on the executor, otherwise it
	// enqueues task and wakes the executor.
	Execute(task func()) error
	// Schedule runs task once after delay.
	Schedule(delay time.Duration, task func()) *Future
	// Now is the executor clock used by timers.
	Now() time.Time
}
