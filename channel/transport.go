// Package channel binds a pipeline to a real transport. A Conn owns the
// outbound buffer, applies the write watermarks and turns transport
// callbacks into pipeline events on its pinned loop.
package channel

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/pipeline"
)

type (
	// Transport moves bytes for one connection. Write and Close are called
	// from the channel loop and must not block.
	Transport interface {
		LocalAddr() net.Addr
		RemoteAddr() net.Addr
		// Start begins delivering inbound bytes to s.
		Start(s Sink)
		// Write sends bufs in order and calls done exactly once, from any
		// goroutine. The slices stay valid until done runs.
		Write(bufs [][]byte, done func(n int, err error))
		Close() error
	}
	// Sink receives transport callbacks. Received may block to apply read
	// backpressure.
	Sink interface {
		Received(buf *buffer.Buffer)
		Failed(err error)
	}
	// TransportError is a read or write failure. It always closes the
	// channel.
	TransportError struct {
		Op  string
		Err error
	}
)

func (e *TransportError) Error() string {
	return fmt.Sprintf("channel: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) CloseReason() pipeline.CloseReason { return pipeline.ReasonTransport }

// isEOF reports errors that mean the peer or the local side closed the
// stream in an orderly way.
func isEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
