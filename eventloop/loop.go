package eventloop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/czx-lab/netpipe/container/cqueue"
	"github.com/czx-lab/netpipe/container/recycler"
	"github.com/czx-lab/netpipe/container/ringbuffer"
	"github.com/czx-lab/netpipe/xlog"
	"go.uber.org/zap"
)

const (
	defaultQueueSize = 1024
	defaultBatchSize = 256
)

const (
	stateRunning int32 = iota
	stateShuttingDown
	stateTerminated
)

type (
	LoopConf struct {
		Name string
		// initial size of the task ring
		QueueSize int
		// tasks run per wakeup before timers are checked again
		BatchSize int
		// 0 means unbounded
		MaxPending int
	}
	// Loop owns one goroutine. Every task, timer and I/O callback submitted
	// to it runs on that goroutine in submission order.
	Loop struct {
		conf      LoopConf
		mu        sync.Mutex
		tasks     *ringbuffer.RingBuffer[func()]
		pending   atomic.Int64
		scheduled *cqueue.PriorityQueue[*scheduledTask]
		seq       atomic.Uint64
		wakeup    chan struct{}
		gid       atomic.Int64
		parked    atomic.Bool
		state     atomic.Int32
		done      chan struct{}
		logger    *zap.Logger
	}
	scheduledTask struct {
		deadline time.Time
		period   time.Duration
		seq      uint64
		fn       func()
		future   *Future
	}
)

func defaultLoopConf(conf *LoopConf) {
	if conf.QueueSize <= 0 {
		conf.QueueSize = defaultQueueSize
	}
	if conf.BatchSize <= 0 {
		conf.BatchSize = defaultBatchSize
	}
	if conf.Name == "" {
		conf.Name = "loop"
	}
}

func scheduledBefore(a, b *scheduledTask) bool {
	if a.deadline.Equal(b.deadline) {
		return a.seq < b.seq
	}
	return a.deadline.Before(b.deadline)
}

// NewLoop starts a loop goroutine.
func NewLoop(conf LoopConf) *Loop {
	defaultLoopConf(&conf)
	l := &Loop{
		conf:      conf,
		tasks:     ringbuffer.NewRingBuffer[func()](conf.QueueSize),
		scheduled: cqueue.NewPriorityQueue(0, scheduledBefore).WithRecycler(recycler.Slack(conf.QueueSize)),
		wakeup:    make(chan struct{}, 1),
		done:      make(chan struct{}),
		logger:    xlog.Named("eventloop").With(zap.String("loop", conf.Name)),
	}
	l.gid.Store(-1)
	started := make(chan struct{})
	go l.run(started)
	<-started
	return l
}

func (l *Loop) Name() string {
	return l.conf.Name
}

// InLoop implements Executor. A parked loop runs no code, so callers are
// answered without reading their goroutine id.
func (l *Loop) InLoop() bool {
	if l.parked.Load() || l.gid.Load() == 0 {
		return false
	}
	return goid() == l.gid.Load()
}

// Now implements Executor.
func (l *Loop) Now() time.Time {
	return time.Now()
}

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	return int(l.pending.Load())
}

// Scheduled returns the number of pending timers.
func (l *Loop) Scheduled() int {
	return l.scheduled.Len()
}

// Execute implements Executor.
func (l *Loop) Execute(task func()) error {
	if l.InLoop() {
		l.safeRun(task)
		return nil
	}
	return l.enqueue(task)
}

// Submit always enqueues, even when called from the loop goroutine. The task
// then runs after the current one returns.
func (l *Loop) Submit(task func()) error {
	return l.enqueue(task)
}

func (l *Loop) enqueue(task func()) error {
	l.mu.Lock()
	if l.state.Load() != stateRunning {
		l.mu.Unlock()
		return ErrShutdown
	}
	if l.conf.MaxPending > 0 && l.tasks.Len() >= l.conf.MaxPending {
		l.mu.Unlock()
		return ErrQueueFull
	}
	l.tasks.Write(task)
	l.pending.Add(1)
	l.mu.Unlock()

	l.wake()
	return nil
}

func (l *Loop) wake() {
	select {
	case l.wakeup <- struct{}{}:
	default:
	}
}

// Schedule implements Executor.
func (l *Loop) Schedule(delay time.Duration, task func()) *Future {
	return l.schedule(delay, 0, task)
}

// ScheduleAtFixedRate runs task after initial and then every period until
// the returned future is cancelled.
func (l *Loop) ScheduleAtFixedRate(initial, period time.Duration, task func()) *Future {
	if period <= 0 {
		return Failed(l, fmt.Errorf("eventloop: invalid period %v", period))
	}
	return l.schedule(initial, period, task)
}

func (l *Loop) schedule(delay, period time.Duration, task func()) *Future {
	if l.state.Load() != stateRunning {
		return Failed(l, ErrShutdown)
	}
	if delay < 0 {
		delay = 0
	}
	st := &scheduledTask{
		deadline: l.Now().Add(delay),
		period:   period,
		seq:      l.seq.Add(1),
		fn:       task,
		future:   NewFuture(l),
	}
	st.future.periodic = period > 0
	l.push(st)
	return st.future
}

func (l *Loop) push(st *scheduledTask) {
	item := l.scheduled.Push(st)
	st.future.setOnCancel(func() {
		l.scheduled.Remove(item)
	})
	l.wake()
}

func (l *Loop) run(started chan<- struct{}) {
	l.gid.Store(goid())
	close(started)
	defer func() {
		l.parked.Store(true)
		close(l.done)
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	batch := make([]func(), 0, l.conf.BatchSize)

	for {
		l.runScheduled()

		batch = l.takeBatch(batch[:0])
		for i, task := range batch {
			l.safeRun(task)
			batch[i] = nil
		}
		if len(batch) > 0 {
			continue
		}

		if l.state.Load() == stateShuttingDown {
			l.terminate()
			return
		}

		if next, ok := l.scheduled.Peek(); ok {
			timer.Reset(max(next.deadline.Sub(l.Now()), 0))
		}
		l.parked.Store(true)
		select {
		case <-l.wakeup:
		case <-timer.C:
		}
		l.parked.Store(false)
		timer.Stop()
	}
}

func (l *Loop) takeBatch(batch []func()) []func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.tasks.Drain(l.conf.BatchSize, func(fn func()) {
		batch = append(batch, fn)
	})
	l.pending.Add(-int64(n))
	return batch
}

func (l *Loop) runScheduled() {
	now := l.Now()
	for {
		st, ok := l.scheduled.PopIf(func(st *scheduledTask) bool {
			return !st.deadline.After(now)
		})
		if !ok {
			return
		}
		if !st.future.SetUncancellable() {
			continue
		}
		if st.period == 0 {
			l.safeRun(st.fn)
			st.future.Complete(nil)
			continue
		}
		l.safeRun(st.fn)
		if l.state.Load() != stateRunning {
			st.future.Complete(ErrCancelled)
			continue
		}
		if !st.future.rearm() {
			continue
		}
		st.deadline = st.deadline.Add(st.period)
		st.seq = l.seq.Add(1)
		l.push(st)
	}
}

func (l *Loop) safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("task panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	task()
}

func (l *Loop) terminate() {
	l.mu.Lock()
	l.state.Store(stateTerminated)
	l.mu.Unlock()

	for _, st := range l.scheduled.Drain() {
		st.future.Cancel()
	}
	l.logger.Debug("loop terminated")
}

// Shutdown stops accepting tasks, runs the ones already queued, cancels
// pending timers and waits for the goroutine to exit. Called from the loop
// itself it returns without waiting.
func (l *Loop) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	l.state.CompareAndSwap(stateRunning, stateShuttingDown)
	l.mu.Unlock()
	l.wake()

	if l.InLoop() {
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminated is closed once the loop goroutine exits.
func (l *Loop) Terminated() <-chan struct{} {
	return l.done
}

var _ Executor = (*Loop)(nil)
