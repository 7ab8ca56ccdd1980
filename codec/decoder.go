// Package codec turns byte streams into frames and messages into bytes.
//
// Frame decoders implement FrameDecoder and are driven by
// ByteToMessageDecoder, which accumulates partial reads. Encoders implement
// Encoder and are wrapped by NewEncoder.
package codec

import (
	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/pipeline"
)

// discardAfterReads is the number of reads after which consumed bytes at
// the front of the cumulation are compacted away.
const discardAfterReads = 16

// FrameDecoder extracts one frame from in. It returns nil, nil when in holds
// no complete frame, and consumes bytes only for frames it returns or
// discards.
type FrameDecoder interface {
	Decode(in *buffer.Buffer) (any, error)
}

// FrameDecoderFunc adapts a function to FrameDecoder.
type FrameDecoderFunc func(in *buffer.Buffer) (any, error)

// Decode implements FrameDecoder.
func (f FrameDecoderFunc) Decode(in *buffer.Buffer) (any, error) { return f(in) }

// ByteToMessageDecoder accumulates inbound bytes and forwards every frame
// its FrameDecoder produces, in order. Bytes belonging to an incomplete
// frame stay buffered until the next read. It keeps per-channel state and
// cannot be shared.
type ByteToMessageDecoder struct {
	pipeline.InboundAdapter
	decoder    FrameDecoder
	cumulation *buffer.Buffer
	reads      int
}

// NewDecoder wraps d as a pipeline handler.
func NewDecoder(d FrameDecoder) *ByteToMessageDecoder {
	return &ByteToMessageDecoder{decoder: d}
}

// Buffered returns the number of bytes waiting for a complete frame.
func (h *ByteToMessageDecoder) Buffered() int {
	if h.cumulation == nil {
		return 0
	}
	return h.cumulation.ReadableBytes()
}

// ChannelRead implements pipeline.InboundHandler. Byte slices are accepted
// as well as buffers; other messages are forwarded untouched.
func (h *ByteToMessageDecoder) ChannelRead(ctx *pipeline.Context, msg any) {
	var in *buffer.Buffer
	switch m := msg.(type) {
	case *buffer.Buffer:
		in = m
	case []byte:
		in = buffer.Wrap(m)
	default:
		ctx.FireChannelRead(msg)
		return
	}
	if err := h.cumulate(ctx, in); err != nil {
		ctx.FireErrorCaught(err)
		return
	}
	h.callDecode(ctx)

	switch {
	case h.cumulation == nil:
	case !h.cumulation.IsReadable():
		h.releaseCumulation()
	default:
		h.reads++
		if h.reads >= discardAfterReads {
			h.discardSomeReadBytes()
		}
	}
}

// ChannelReadComplete compacts the cumulation and forwards the event.
func (h *ByteToMessageDecoder) ChannelReadComplete(ctx *pipeline.Context) {
	h.discardSomeReadBytes()
	ctx.FireChannelReadComplete()
}

// ChannelInactive drops any partial frame.
func (h *ByteToMessageDecoder) ChannelInactive(ctx *pipeline.Context) {
	h.releaseCumulation()
	ctx.FireChannelInactive()
}

// HandlerAdded implements pipeline.LifecycleAware.
func (h *ByteToMessageDecoder) HandlerAdded(*pipeline.Context) {}

// HandlerRemoved forwards bytes not yet decoded to the next handler so that
// a replacement decoder can pick them up.
func (h *ByteToMessageDecoder) HandlerRemoved(ctx *pipeline.Context) {
	c := h.cumulation
	h.cumulation = nil
	h.reads = 0
	if c == nil {
		return
	}
	if !c.IsReadable() {
		pipeline.SafeRelease(c)
		return
	}
	ctx.FireChannelRead(c)
	ctx.FireChannelReadComplete()
}

// cumulate takes ownership of in.
func (h *ByteToMessageDecoder) cumulate(ctx *pipeline.Context, in *buffer.Buffer) error {
	if h.cumulation == nil {
		h.cumulation = in
		return nil
	}
	defer pipeline.SafeRelease(in)

	c := h.cumulation
	n := in.ReadableBytes()
	// A cumulation still referenced by emitted slices, or one that cannot
	// take n more bytes, is replaced by a fresh copy.
	if c.RefCnt() > 1 || c.MaxCapacity()-c.WriterIndex() < n {
		expanded := ctx.Alloc().Buffer(c.ReadableBytes()+n, 0)
		if err := expanded.WriteBuffer(c); err != nil {
			pipeline.SafeRelease(expanded)
			return err
		}
		pipeline.SafeRelease(c)
		h.cumulation = expanded
		c = expanded
	}
	return c.WriteBuffer(in)
}

func (h *ByteToMessageDecoder) callDecode(ctx *pipeline.Context) {
	for h.cumulation != nil && h.cumulation.IsReadable() {
		before := h.cumulation.ReadableBytes()
		frame, err := h.decoder.Decode(h.cumulation)
		progressed := h.cumulation.ReadableBytes() < before

		if err != nil {
			pipeline.SafeRelease(frame)
			ctx.FireErrorCaught(err)
			if !progressed || ctx.IsRemoved() {
				return
			}
			continue
		}
		if frame == nil {
			if !progressed || ctx.IsRemoved() {
				return
			}
			continue
		}
		if !progressed {
			pipeline.SafeRelease(frame)
			ctx.FireErrorCaught(corrupted("%T produced a frame without consuming input", h.decoder))
			return
		}
		ctx.FireChannelRead(frame)
		if ctx.IsRemoved() {
			return
		}
	}
}

func (h *ByteToMessageDecoder) discardSomeReadBytes() {
	h.reads = 0
	if h.cumulation != nil && h.cumulation.RefCnt() == 1 {
		h.cumulation.DiscardReadBytes()
	}
}

func (h *ByteToMessageDecoder) releaseCumulation() {
	if h.cumulation != nil {
		pipeline.SafeRelease(h.cumulation)
		h.cumulation = nil
	}
	h.reads = 0
}

// DecodeAll runs d over in until no complete frame remains. It stops at the
// first error, returning the frames decoded before it.
func DecodeAll(d FrameDecoder, in *buffer.Buffer) ([]any, error) {
	var frames []any
	for in.IsReadable() {
		before := in.ReadableBytes()
		frame, err := d.Decode(in)
		if err != nil {
			return frames, err
		}
		if frame != nil {
			frames = append(frames, frame)
		}
		if in.ReadableBytes() == before {
			break
		}
	}
	return frames, nil
}
