package codec

import (
	"errors"
	"io"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/container/cqueue"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/pipeline"
)

// DefaultChunkSize is the chunk size of a ChunkedReader built with size 0.
const DefaultChunkSize = 8192

// ChunkedInput is a payload written piece by piece by ChunkedWriteHandler.
type ChunkedInput interface {
	// ReadChunk returns the next chunk, or nil when nothing is available
	// right now.
	ReadChunk(alloc buffer.Allocator) (*buffer.Buffer, error)
	IsEndOfInput() bool
	Close() error
}

// ChunkedReader reads an io.Reader in fixed size chunks.
type ChunkedReader struct {
	r         io.Reader
	chunkSize int
	eof       bool
}

// NewChunkedReader returns a ChunkedInput over r.
func NewChunkedReader(r io.Reader, chunkSize int) *ChunkedReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ChunkedReader{r: r, chunkSize: chunkSize}
}

// ReadChunk implements ChunkedInput.
func (c *ChunkedReader) ReadChunk(alloc buffer.Allocator) (*buffer.Buffer, error) {
	if c.eof {
		return nil, nil
	}
	chunk := alloc.Buffer(c.chunkSize, 0)
	for chunk.ReadableBytes() < c.chunkSize {
		remaining := c.chunkSize - chunk.ReadableBytes()
		_, err := chunk.ReadFromOnce(io.LimitReader(c.r, int64(remaining)), remaining)
		if errors.Is(err, io.EOF) {
			c.eof = true
			break
		}
		if err != nil {
			pipeline.SafeRelease(chunk)
			return nil, err
		}
	}
	if !chunk.IsReadable() {
		pipeline.SafeRelease(chunk)
		return nil, nil
	}
	return chunk, nil
}

// IsEndOfInput implements ChunkedInput.
func (c *ChunkedReader) IsEndOfInput() bool { return c.eof }

// Close implements ChunkedInput and closes the reader when it is an
// io.Closer.
func (c *ChunkedReader) Close() error {
	c.eof = true
	if cl, ok := c.r.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

type pendingChunkWrite struct {
	msg  any
	f    *eventloop.Future
	last *eventloop.Future
}

// ChunkedWriteHandler writes ChunkedInput payloads one chunk at a time,
// pausing while the channel is not writable. Other writes queued behind a
// payload keep their order.
type ChunkedWriteHandler struct {
	pipeline.DuplexAdapter
	queue    *cqueue.Queue[*pendingChunkWrite]
	flushing bool
}

// NewChunkedWriteHandler returns an empty handler.
func NewChunkedWriteHandler() *ChunkedWriteHandler {
	return &ChunkedWriteHandler{queue: cqueue.NewQueue[*pendingChunkWrite](0)}
}

// Write implements pipeline.OutboundHandler.
func (h *ChunkedWriteHandler) Write(ctx *pipeline.Context, msg any, f *eventloop.Future) {
	h.queue.Push(&pendingChunkWrite{msg: msg, f: f})
}

// Flush implements pipeline.OutboundHandler.
func (h *ChunkedWriteHandler) Flush(ctx *pipeline.Context) {
	h.doFlush(ctx)
}

// ChannelWritabilityChanged resumes a paused payload.
func (h *ChunkedWriteHandler) ChannelWritabilityChanged(ctx *pipeline.Context) {
	if ctx.Channel().IsWritable() {
		h.doFlush(ctx)
	}
	ctx.FireChannelWritabilityChanged()
}

// ChannelInactive fails everything still queued.
func (h *ChunkedWriteHandler) ChannelInactive(ctx *pipeline.Context) {
	h.discard(pipeline.ErrClosed)
	ctx.FireChannelInactive()
}

// HandlerAdded implements pipeline.LifecycleAware.
func (h *ChunkedWriteHandler) HandlerAdded(*pipeline.Context) {}

// HandlerRemoved implements pipeline.LifecycleAware.
func (h *ChunkedWriteHandler) HandlerRemoved(*pipeline.Context) {
	h.discard(pipeline.ErrClosed)
}

func (h *ChunkedWriteHandler) discard(cause error) {
	for _, p := range h.queue.PopAll() {
		if in, ok := p.msg.(ChunkedInput); ok {
			in.Close()
		} else {
			pipeline.SafeRelease(p.msg)
		}
		p.f.Complete(cause)
	}
}

func (h *ChunkedWriteHandler) doFlush(ctx *pipeline.Context) {
	if h.flushing {
		return
	}
	h.flushing = true
	defer func() { h.flushing = false }()

	ch := ctx.Channel()
	if !ch.IsActive() {
		h.discard(pipeline.ErrClosed)
		return
	}
	requiresFlush := true
	for ch.IsWritable() {
		p, ok := h.queue.Peek()
		if !ok {
			break
		}
		if p.f.IsDone() {
			h.queue.Pop()
			if in, ok := p.msg.(ChunkedInput); ok {
				in.Close()
			} else {
				pipeline.SafeRelease(p.msg)
			}
			continue
		}
		in, ok := p.msg.(ChunkedInput)
		if !ok {
			h.queue.Pop()
			ctx.WriteWithFuture(p.msg, p.f)
			requiresFlush = true
			continue
		}
		if !h.writeChunk(ctx, p, in) {
			break
		}
		requiresFlush = false
	}
	if requiresFlush {
		ctx.Flush()
	}
}

// writeChunk writes and flushes the next chunk of in. It reports false when
// in has nothing to offer yet.
func (h *ChunkedWriteHandler) writeChunk(ctx *pipeline.Context, p *pendingChunkWrite, in ChunkedInput) bool {
	chunk, err := in.ReadChunk(ctx.Alloc())
	if err != nil {
		h.queue.Pop()
		in.Close()
		p.f.Complete(err)
		ctx.FireErrorCaught(err)
		return true
	}
	end := in.IsEndOfInput()
	if chunk == nil && !end {
		return false
	}
	if end {
		h.queue.Pop()
		in.Close()
	}
	if chunk == nil {
		if p.last == nil {
			p.f.Complete(nil)
		} else {
			p.last.AddListener(func(w *eventloop.Future) { p.f.Complete(w.Err()) })
		}
		return true
	}

	wf := ctx.Write(chunk)
	p.last = wf
	f := p.f
	if end {
		wf.AddListener(func(w *eventloop.Future) { f.Complete(w.Err()) })
	} else {
		wf.AddListener(func(w *eventloop.Future) {
			if err := w.Err(); err != nil {
				in.Close()
				f.Complete(err)
			}
		})
	}
	ctx.Flush()
	return true
}
