package eventloop

import (
	"context"
	"runtime/debug"
	"sync"

	"github.com/czx-lab/netpipe/container/cqueue"
	"github.com/czx-lab/netpipe/xlog"
	"go.uber.org/zap"
)

// WorkerPool runs blocking work away from the loops. Results travel back to
// the submitting connection through its executor so ordering is kept.
type WorkerPool struct {
	mu     sync.RWMutex
	closed bool
	jobs   *cqueue.Xchan[func()]
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewWorkerPool starts size workers. Pending jobs are dropped when ctx is
// cancelled.
func NewWorkerPool(ctx context.Context, size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	p := &WorkerPool{
		jobs:   cqueue.NewXchan[func()](ctx, cqueue.XchanConf{Bufsize: 64, Outsize: size}),
		cancel: cancel,
		logger: xlog.Named("worker"),
	}
	p.wg.Add(size)
	for range size {
		go p.work()
	}
	return p
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for job := range p.jobs.Out() {
		p.run(job)
	}
}

func (p *WorkerPool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
	}()
	job()
}

// Submit queues job. It never blocks on busy workers.
func (p *WorkerPool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrShutdown
	}
	p.jobs.In() <- job
	return nil
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.jobs.Close()
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}

// Offload runs fn on the pool and hands its result to done on exec.
func Offload[T any](p *WorkerPool, exec Executor, fn func() (T, error), done func(T, error)) error {
	return p.Submit(func() {
		v, err := fn()
		if execErr := exec.Execute(func() { done(v, err) }); execErr != nil {
			p.logger.Warn("offload result dropped", zap.Error(execErr))
		}
	})
}
