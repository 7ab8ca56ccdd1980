package channel

import (
	"io"
	"net"
	"sync"

	"github.com/panjf2000/gnet/v2"

	"github.com/czx-lab/netpipe/buffer"
)

// GnetTransport adapts a gnet connection. gnet owns the socket and its
// event loop; the engine handler feeds it through Traffic and Closed.
type GnetTransport struct {
	c     gnet.Conn
	alloc buffer.Allocator
	local net.Addr
	peer  net.Addr

	mu      sync.Mutex
	sink    Sink
	pending []*buffer.Buffer
	failed  error
}

var _ Transport = (*GnetTransport)(nil)

// NewGnetTransport wraps c. Call it from OnOpen.
func NewGnetTransport(c gnet.Conn, alloc buffer.Allocator) *GnetTransport {
	if alloc == nil {
		alloc = buffer.Default
	}
	return &GnetTransport{c: c, alloc: alloc, local: c.LocalAddr(), peer: c.RemoteAddr()}
}

func (t *GnetTransport) LocalAddr() net.Addr  { return t.local }
func (t *GnetTransport) RemoteAddr() net.Addr { return t.peer }

// Start implements Transport. Bytes that arrived before Start are delivered
// first.
func (t *GnetTransport) Start(s Sink) {
	for {
		t.mu.Lock()
		pending := t.pending
		t.pending = nil
		if len(pending) == 0 {
			// sink is published only once nothing older is queued
			t.sink = s
			failed := t.failed
			t.mu.Unlock()
			if failed != nil {
				s.Failed(failed)
			}
			return
		}
		t.mu.Unlock()
		for _, buf := range pending {
			s.Received(buf)
		}
	}
}

// Traffic drains the inbound bytes of c. Call it from OnTraffic.
func (t *GnetTransport) Traffic(c gnet.Conn) error {
	data, err := c.Next(-1)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	buf := t.alloc.Buffer(len(data), buffer.DefaultMaxCapacity)
	if _, err := buf.Write(data); err != nil {
		buf.Release()
		return err
	}
	t.mu.Lock()
	s := t.sink
	if s == nil {
		t.pending = append(t.pending, buf)
	}
	t.mu.Unlock()
	if s != nil {
		s.Received(buf)
	}
	return nil
}

// Closed reports the end of the connection. Call it from OnClose.
func (t *GnetTransport) Closed(err error) {
	if err == nil {
		err = io.EOF
	}
	t.mu.Lock()
	s := t.sink
	if s == nil {
		t.failed = err
	}
	t.mu.Unlock()
	if s != nil {
		s.Failed(err)
	}
}

// Write implements Transport.
func (t *GnetTransport) Write(bufs [][]byte, done func(int, error)) {
	var n int
	for _, b := range bufs {
		n += len(b)
	}
	err := t.c.AsyncWritev(bufs, func(_ gnet.Conn, err error) error {
		if err != nil {
			done(0, err)
			return nil
		}
		done(n, nil)
		return nil
	})
	if err != nil {
		done(0, err)
	}
}

// Close implements Transport.
func (t *GnetTransport) Close() error {
	return t.c.Close()
}
