package channel

import (
	"context"
	"net"
	"sync"

	"github.com/czx-lab/netpipe/container/cqueue"
)

type (
	writeRequest struct {
		bufs [][]byte
		done func(int, error)
	}
	// asyncWriter runs blocking writes on its own goroutine so the loop
	// never waits on the socket.
	asyncWriter struct {
		mu     sync.Mutex
		closed bool
		reqs   *cqueue.Xchan[writeRequest]
		write  func(bufs [][]byte) (int, error)
	}
)

func newAsyncWriter(write func([][]byte) (int, error)) *asyncWriter {
	return &asyncWriter{
		reqs:  cqueue.NewXchan[writeRequest](context.Background(), cqueue.XchanConf{Bufsize: 16, Insize: 16, Outsize: 1}),
		write: write,
	}
}

func (w *asyncWriter) submit(bufs [][]byte, done func(int, error)) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		done(0, net.ErrClosed)
		return
	}
	w.reqs.In() <- writeRequest{bufs: bufs, done: done}
	w.mu.Unlock()
}

// run writes requests in order until close. After the first failure the
// remaining requests fail with the same error.
func (w *asyncWriter) run() error {
	var failed error
	for req := range w.reqs.Out() {
		if failed != nil {
			req.done(0, failed)
			continue
		}
		n, err := w.write(req.bufs)
		if err != nil {
			failed = err
		}
		req.done(n, err)
	}
	return nil
}

// close stops accepting requests. Queued ones are still drained by run.
func (w *asyncWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.reqs.Close()
}
