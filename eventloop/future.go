package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
)

const (
	futurePending int32 = iota
	futureRunning
	futureDone
)

// Future is the handle of a submitted task or write. It can be cancelled
// until the owner marks it uncancellable, and completes exactly once.
type Future struct {
	state     atomic.Int32
	exec      Executor
	mu        sync.Mutex
	done      chan struct{}
	err       error
	listeners []func(*Future)
	onCancel  func()
	// periodic futures accept Cancel while a run is in progress; the run
	// finishes and the task is not rearmed.
	periodic bool
	stop     atomic.Bool
}

// NewFuture returns a pending future. Listeners are dispatched through exec
// when it is non-nil, inline otherwise.
func NewFuture(exec Executor) *Future {
	return &Future{exec: exec, done: make(chan struct{})}
}

// Succeeded returns an already completed future.
func Succeeded(exec Executor) *Future {
	f := NewFuture(exec)
	f.Complete(nil)
	return f
}

// Failed returns a future already completed with err.
func Failed(exec Executor, err error) *Future {
	f := NewFuture(exec)
	f.Complete(err)
	return f
}

// Cancel completes a pending future with ErrCancelled. It is a no-op and
// returns false once the task started running or completed, except for a
// periodic task: cancelled during a run, it completes with ErrCancelled
// when that run returns.
func (f *Future) Cancel() bool {
	if !f.state.CompareAndSwap(futurePending, futureDone) {
		if f.periodic && f.state.Load() == futureRunning {
			f.stop.Store(true)
			return true
		}
		return false
	}
	f.mu.Lock()
	fn := f.onCancel
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
	f.finish(ErrCancelled)
	return true
}

// SetUncancellable marks the task as started. It returns false when the
// future was already cancelled or completed.
func (f *Future) SetUncancellable() bool {
	return f.state.CompareAndSwap(futurePending, futureRunning) || f.state.Load() == futureRunning
}

// rearm returns a periodic future to the cancellable state between runs.
// It reports false, completing the future with ErrCancelled, when Cancel
// was called during the run.
func (f *Future) rearm() bool {
	if f.stop.Load() {
		f.Complete(ErrCancelled)
		return false
	}
	if !f.state.CompareAndSwap(futureRunning, futurePending) {
		return false
	}
	// Cancel may have seen the running state just before the swap.
	if f.stop.Load() && f.state.CompareAndSwap(futurePending, futureDone) {
		f.finish(ErrCancelled)
		return false
	}
	return f.state.Load() == futurePending
}

func (f *Future) setOnCancel(fn func()) {
	f.mu.Lock()
	f.onCancel = fn
	f.mu.Unlock()
}

// Complete finishes the future with err (nil for success). It returns false
// when the future was already done.
func (f *Future) Complete(err error) bool {
	for {
		s := f.state.Load()
		if s == futureDone {
			return false
		}
		if f.state.CompareAndSwap(s, futureDone) {
			break
		}
	}
	f.finish(err)
	return true
}

func (f *Future) finish(err error) {
	f.mu.Lock()
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range listeners {
		f.notify(fn)
	}
}

func (f *Future) notify(fn func(*Future)) {
	if f.exec == nil || f.exec.InLoop() {
		fn(f)
		return
	}
	if err := f.exec.Execute(func() { fn(f) }); err != nil {
		fn(f)
	}
}

// AddListener registers fn to run once the future completes. fn runs
// immediately when the future is already done.
func (f *Future) AddListener(fn func(*Future)) *Future {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		f.notify(fn)
		return f
	default:
	}
	f.listeners = append(f.listeners, fn)
	f.mu.Unlock()
	return f
}

func (f *Future) Done() <-chan struct{} {
	return f.done
}

func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future) IsCancelled() bool {
	return f.IsDone() && f.Err() == ErrCancelled
}

func (f *Future) IsSuccess() bool {
	return f.IsDone() && f.Err() == nil
}

// Err returns the completion error, nil while pending.
func (f *Future) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.err
}

// Wait blocks until the future completes or ctx is done. It must not be
// called on the executor that completes the future.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
