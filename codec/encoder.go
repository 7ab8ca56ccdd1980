package codec

import (
	"errors"
	"reflect"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/pipeline"
)

// Encoder serializes messages of type T into out.
type Encoder[T any] interface {
	Encode(msg T, out *buffer.Buffer) error
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc[T any] func(msg T, out *buffer.Buffer) error

// Encode implements Encoder.
func (f EncoderFunc[T]) Encode(msg T, out *buffer.Buffer) error { return f(msg, out) }

// EncoderHandler is the outbound stage running an Encoder. Writes of other
// types pass through towards the head unchanged. The encoded message is
// released once encoded.
type EncoderHandler[T any] struct {
	pipeline.OutboundAdapter
	enc Encoder[T]
	// sizeHint is the initial capacity of output buffers.
	sizeHint int
}

// NewEncoderHandler wraps enc as a pipeline handler. The handler is sharable
// when enc is.
func NewEncoderHandler[T any](enc Encoder[T]) *EncoderHandler[T] {
	return &EncoderHandler[T]{enc: enc}
}

// WithSizeHint sets the initial capacity of output buffers.
func (h *EncoderHandler[T]) WithSizeHint(n int) *EncoderHandler[T] {
	h.sizeHint = n
	return h
}

// IsSharable implements pipeline.Sharable.
func (h *EncoderHandler[T]) IsSharable() bool {
	s, ok := h.enc.(pipeline.Sharable)
	return ok && s.IsSharable()
}

// InType returns the message type the handler consumes.
func (h *EncoderHandler[T]) InType() reflect.Type { return reflect.TypeFor[T]() }

// OutType returns the message type the handler produces.
func (h *EncoderHandler[T]) OutType() reflect.Type { return reflect.TypeFor[*buffer.Buffer]() }

// Write implements pipeline.OutboundHandler. An encoding failure fails f
// with a *pipeline.EncodeError and raises the same error inbound.
func (h *EncoderHandler[T]) Write(ctx *pipeline.Context, msg any, f *eventloop.Future) {
	m, ok := msg.(T)
	if !ok {
		ctx.WriteWithFuture(msg, f)
		return
	}
	out := ctx.Alloc().Buffer(h.sizeHint, 0)
	err := h.enc.Encode(m, out)
	pipeline.SafeRelease(msg)
	if err != nil {
		pipeline.SafeRelease(out)
		var ee *pipeline.EncodeError
		if !errors.As(err, &ee) {
			ee = pipeline.NewEncodeError(msg, err)
		}
		f.Complete(ee)
		ctx.Pipeline().FireErrorCaught(ee)
		return
	}
	ctx.WriteWithFuture(out, f)
}

// MessageDecoder converts an inbound message of type I into one of type O.
type MessageDecoder[I, O any] interface {
	Decode(msg I) (O, error)
}

// MessageDecoderFunc adapts a function to MessageDecoder.
type MessageDecoderFunc[I, O any] func(msg I) (O, error)

// Decode implements MessageDecoder.
func (f MessageDecoderFunc[I, O]) Decode(msg I) (O, error) { return f(msg) }

// DecoderHandler is the inbound stage running a MessageDecoder. Messages of
// other types are forwarded unchanged; consumed messages are released.
type DecoderHandler[I, O any] struct {
	pipeline.InboundAdapter
	dec MessageDecoder[I, O]
}

// NewMessageDecoder wraps dec as a pipeline handler. The handler is
// sharable when dec is.
func NewMessageDecoder[I, O any](dec MessageDecoder[I, O]) *DecoderHandler[I, O] {
	return &DecoderHandler[I, O]{dec: dec}
}

// IsSharable implements pipeline.Sharable.
func (h *DecoderHandler[I, O]) IsSharable() bool {
	s, ok := h.dec.(pipeline.Sharable)
	return ok && s.IsSharable()
}

// ChannelRead implements pipeline.InboundHandler. Decode failures are
// raised as *DecodeError.
func (h *DecoderHandler[I, O]) ChannelRead(ctx *pipeline.Context, msg any) {
	m, ok := msg.(I)
	if !ok {
		ctx.FireChannelRead(msg)
		return
	}
	out, err := h.dec.Decode(m)
	pipeline.SafeRelease(msg)
	if err != nil {
		var de *DecodeError
		if !errors.As(err, &de) {
			de = &DecodeError{Err: err, Length: -1}
		}
		ctx.FireErrorCaught(de)
		return
	}
	ctx.FireChannelRead(out)
}
