package channel

import (
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/czx-lab/netpipe/buffer"
)

// StreamTransport serves a net.Conn (tcp, unix, kcp) with one reader and
// one writer goroutine.
type StreamTransport struct {
	conn     net.Conn
	readSize int
	alloc    buffer.Allocator
	writer   *asyncWriter
	g        errgroup.Group
	start    sync.Once
	closed   sync.Once
}

var _ Transport = (*StreamTransport)(nil)

// NewStreamTransport wraps conn. readSize is the buffer size of a single
// read; alloc supplies read buffers and defaults to buffer.Default.
func NewStreamTransport(conn net.Conn, readSize int, alloc buffer.Allocator) *StreamTransport {
	if readSize <= 0 {
		readSize = defaultReadBufferSize
	}
	if alloc == nil {
		alloc = buffer.Default
	}
	t := &StreamTransport{conn: conn, readSize: readSize, alloc: alloc}
	t.writer = newAsyncWriter(func(bufs [][]byte) (int, error) {
		nb := net.Buffers(bufs)
		n, err := nb.WriteTo(conn)
		return int(n), err
	})
	t.g.Go(t.writer.run)
	return t
}

func (t *StreamTransport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *StreamTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

// Start implements Transport.
func (t *StreamTransport) Start(s Sink) {
	t.start.Do(func() {
		t.g.Go(func() error { return t.readLoop(s) })
	})
}

func (t *StreamTransport) readLoop(s Sink) error {
	for {
		buf := t.alloc.Buffer(t.readSize, buffer.DefaultMaxCapacity)
		n, err := buf.ReadFromOnce(t.conn, t.readSize)
		if n > 0 {
			s.Received(buf)
		} else {
			buf.Release()
		}
		if err != nil {
			s.Failed(err)
			if isEOF(err) {
				return nil
			}
			return err
		}
	}
}

// Write implements Transport.
func (t *StreamTransport) Write(bufs [][]byte, done func(int, error)) {
	t.writer.submit(bufs, done)
}

// Close implements Transport.
func (t *StreamTransport) Close() error {
	var err error
	t.closed.Do(func() {
		t.writer.close()
		err = t.conn.Close()
	})
	return err
}

// Wait blocks until both goroutines exit and returns the first read error
// that was not an orderly close.
func (t *StreamTransport) Wait() error {
	return t.g.Wait()
}
