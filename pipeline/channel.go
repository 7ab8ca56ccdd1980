package pipeline

import (
	"net"

	"github.com/czx-lab/netpipe/attr"
	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/eventloop"
)

type (
	// Channel is the connection a pipeline belongs to.
	Channel interface {
		ID() string
		Pipeline() *Pipeline
		// Executor is the loop the channel is pinned to for its whole life.
		Executor() eventloop.Executor
		Alloc() buffer.Allocator
		Attrs() *attr.Map
		IsActive() bool
		IsWritable() bool
		LocalAddr() net.Addr
		RemoteAddr() net.Addr
		// CloseFuture completes with the close cause once the channel is
		// closed.
		CloseFuture() *eventloop.Future
		Unsafe() Unsafe
	}
	// Unsafe is the transport side the head of the pipeline writes to. Its
	// methods are only called on the channel executor.
	Unsafe interface {
		Write(msg *buffer.Buffer, f *eventloop.Future)
		Flush()
		Close(cause error, f *eventloop.Future)
	}
	// Initializer populates the pipeline of a new channel before it is
	// registered.
	Initializer interface {
		InitChannel(ch Channel) error
	}
	InitializerFunc func(ch Channel) error
)

// InitChannel implements Initializer.
func (f InitializerFunc) InitChannel(ch Channel) error {
	return f(ch)
}
