package pipeline

import (
	"reflect"
	"sync"

	"github.com/czx-lab/netpipe/eventloop"
)

type (
	// Handler is any value added to a pipeline. It takes part in inbound
	// propagation when it implements InboundHandler and in outbound
	// propagation when it implements OutboundHandler; otherwise events pass
	// it by.
	Handler any
	// InboundHandler observes events travelling from the head to the tail.
	InboundHandler interface {
		ChannelRegistered(ctx *Context)
		ChannelUnregistered(ctx *Context)
		ChannelActive(ctx *Context)
		ChannelInactive(ctx *Context)
		ChannelRead(ctx *Context, msg any)
		ChannelReadComplete(ctx *Context)
		UserEventTriggered(ctx *Context, evt any)
		ChannelWritabilityChanged(ctx *Context)
		ErrorCaught(ctx *Context, err error)
	}
	// OutboundHandler observes operations travelling from the tail to the
	// head.
	OutboundHandler interface {
		Write(ctx *Context, msg any, f *eventloop.Future)
		Flush(ctx *Context)
		Close(ctx *Context, cause error, f *eventloop.Future)
	}
	// LifecycleAware handlers are told when they join or leave a pipeline.
	LifecycleAware interface {
		HandlerAdded(ctx *Context)
		HandlerRemoved(ctx *Context)
	}
	// Sharable marks a handler that holds no per-channel state and may be
	// added to several pipelines at once.
	Sharable interface {
		IsSharable() bool
	}
	// SharableMarker can be embedded to declare a handler sharable.
	SharableMarker struct{}

	// InboundAdapter forwards every inbound event. Embed it and override
	// the callbacks of interest.
	InboundAdapter struct{}
	// OutboundAdapter forwards every outbound operation.
	OutboundAdapter struct{}
	// DuplexAdapter forwards both directions.
	DuplexAdapter struct {
		InboundAdapter
		OutboundAdapter
	}
)

// IsSharable implements Sharable.
func (SharableMarker) IsSharable() bool { return true }

func (InboundAdapter) ChannelRegistered(ctx *Context)   { ctx.FireChannelRegistered() }
func (InboundAdapter) ChannelUnregistered(ctx *Context) { ctx.FireChannelUnregistered() }
func (InboundAdapter) ChannelActive(ctx *Context)       { ctx.FireChannelActive() }
func (InboundAdapter) ChannelInactive(ctx *Context)     { ctx.FireChannelInactive() }
func (InboundAdapter) ChannelRead(ctx *Context, msg any) {
	ctx.FireChannelRead(msg)
}
func (InboundAdapter) ChannelReadComplete(ctx *Context) { ctx.FireChannelReadComplete() }
func (InboundAdapter) UserEventTriggered(ctx *Context, evt any) {
	ctx.FireUserEventTriggered(evt)
}
func (InboundAdapter) ChannelWritabilityChanged(ctx *Context) {
	ctx.FireChannelWritabilityChanged()
}
func (InboundAdapter) ErrorCaught(ctx *Context, err error) { ctx.FireErrorCaught(err) }

func (OutboundAdapter) Write(ctx *Context, msg any, f *eventloop.Future) {
	ctx.WriteWithFuture(msg, f)
}
func (OutboundAdapter) Flush(ctx *Context) { ctx.Flush() }
func (OutboundAdapter) Close(ctx *Context, cause error, f *eventloop.Future) {
	ctx.CloseWithFuture(cause, f)
}

var (
	_ InboundHandler  = InboundAdapter{}
	_ OutboundHandler = OutboundAdapter{}
	_ InboundHandler  = DuplexAdapter{}
	_ OutboundHandler = DuplexAdapter{}
)

// attached tracks non-sharable handler instances currently in a pipeline.
var attached sync.Map

func isSharable(h Handler) bool {
	s, ok := h.(Sharable)
	return ok && s.IsSharable()
}

// trackable reports whether h has identity. Non-pointer handlers are copied
// on every add and never share state through the pipeline. Pointers to
// zero-size types may all share one address and hold no state, so they are
// not tracked either.
func trackable(h Handler) bool {
	t := reflect.TypeOf(h)
	return t != nil && t.Kind() == reflect.Pointer && t.Elem().Size() > 0
}

func attach(h Handler) error {
	if isSharable(h) || !trackable(h) {
		return nil
	}
	if _, loaded := attached.LoadOrStore(h, struct{}{}); loaded {
		return ErrNotSharable
	}
	return nil
}

func detach(h Handler) {
	if isSharable(h) || !trackable(h) {
		return
	}
	attached.Delete(h)
}
