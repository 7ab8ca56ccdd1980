package pipeline

// TypedInbound handles inbound messages of type T and forwards everything
// else. Handled messages are released after the callback unless the handler
// was built with KeepMessages; a callback that keeps a message beyond its
// return must Retain it.
type TypedInbound[T any] struct {
	InboundAdapter
	fn          func(ctx *Context, msg T)
	autoRelease bool
}

// NewTypedInbound returns a handler calling fn for every T read.
func NewTypedInbound[T any](fn func(ctx *Context, msg T)) *TypedInbound[T] {
	return &TypedInbound[T]{fn: fn, autoRelease: true}
}

// KeepMessages disables the release after fn returns.
func (h *TypedInbound[T]) KeepMessages() *TypedInbound[T] {
	h.autoRelease = false
	return h
}

// ChannelRead implements InboundHandler.
func (h *TypedInbound[T]) ChannelRead(ctx *Context, msg any) {
	v, ok := msg.(T)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}
	if h.autoRelease {
		defer SafeRelease(msg)
	}
	h.fn(ctx, v)
}

// ErrorFunc is a terminal error stage. It is placed last so that it sees
// every error no earlier handler consumed.
type ErrorFunc func(ctx *Context, err error)

type errorHandler struct {
	InboundAdapter
	fn ErrorFunc
}

// NewErrorHandler wraps fn as an inbound handler that consumes errors.
func NewErrorHandler(fn ErrorFunc) InboundHandler {
	return &errorHandler{fn: fn}
}

func (h *errorHandler) ErrorCaught(ctx *Context, err error) {
	h.fn(ctx, err)
}
