package embedded

import (
	"sync"
	"time"

	"github.com/czx-lab/netpipe/container/cqueue"
	"github.com/czx-lab/netpipe/eventloop"
)

type timer struct {
	deadline time.Time
	seq      uint64
	fn       func()
	future   *eventloop.Future
}

// Executor is a manually driven executor with a fake clock. Every caller is
// treated as being on the loop, so tasks run inline; timers run only from
// AdvanceTime or RunPending.
type Executor struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers *cqueue.PriorityQueue[*timer]
}

// NewExecutor returns an executor whose clock starts at start.
func NewExecutor(start time.Time) *Executor {
	return &Executor{
		now: start,
		timers: cqueue.NewPriorityQueue(0, func(a, b *timer) bool {
			if a.deadline.Equal(b.deadline) {
				return a.seq < b.seq
			}
			return a.deadline.Before(b.deadline)
		}),
	}
}

// InLoop implements eventloop.Executor.
func (e *Executor) InLoop() bool { return true }

// Execute implements eventloop.Executor.
func (e *Executor) Execute(task func()) error {
	task()
	return nil
}

// Now implements eventloop.Executor.
func (e *Executor) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.now
}

// Schedule implements eventloop.Executor.
func (e *Executor) Schedule(delay time.Duration, task func()) *eventloop.Future {
	e.mu.Lock()
	e.seq++
	t := &timer{
		deadline: e.now.Add(max(delay, 0)),
		seq:      e.seq,
		fn:       task,
		future:   eventloop.NewFuture(e),
	}
	e.mu.Unlock()

	item := e.timers.Push(t)
	t.future.AddListener(func(f *eventloop.Future) {
		if f.IsCancelled() {
			e.timers.Remove(item)
		}
	})
	return t.future
}

// Pending returns the number of timers not yet run or cancelled.
func (e *Executor) Pending() int {
	return e.timers.Len()
}

// NextDeadline returns the deadline of the earliest timer.
func (e *Executor) NextDeadline() (time.Time, bool) {
	t, ok := e.timers.Peek()
	if !ok {
		return time.Time{}, false
	}
	return t.deadline, true
}

// AdvanceTime moves the clock forward by d, running every timer that falls
// due on the way at its own deadline.
func (e *Executor) AdvanceTime(d time.Duration) {
	e.mu.Lock()
	target := e.now.Add(d)
	e.mu.Unlock()

	for {
		t, ok := e.timers.PopIf(func(t *timer) bool { return !t.deadline.After(target) })
		if !ok {
			break
		}
		e.mu.Lock()
		if t.deadline.After(e.now) {
			e.now = t.deadline
		}
		e.mu.Unlock()
		e.run(t)
	}

	e.mu.Lock()
	e.now = target
	e.mu.Unlock()
}

// RunPending runs timers due at the current time.
func (e *Executor) RunPending() {
	e.AdvanceTime(0)
}

func (e *Executor) run(t *timer) {
	if !t.future.SetUncancellable() {
		return
	}
	t.fn()
	t.future.Complete(nil)
}

var _ eventloop.Executor = (*Executor)(nil)
