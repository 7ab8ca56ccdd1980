package pipeline

import (
	"runtime/debug"
	"sync/atomic"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/eventloop"
	"go.uber.org/zap"
)

// Context binds a handler to its position in a pipeline. Propagation reads
// the links of the calling context at call time; a removed context keeps its
// links so events already passing through it still reach the rest of the
// chain.
type Context struct {
	name     string
	handler  Handler
	inbound  InboundHandler
	outbound OutboundHandler
	pipeline *Pipeline
	next     atomic.Pointer[Context]
	prev     atomic.Pointer[Context]
	removed  atomic.Bool
}

func newContext(p *Pipeline, name string, h Handler) *Context {
	c := &Context{name: name, handler: h, pipeline: p}
	c.inbound, _ = h.(InboundHandler)
	c.outbound, _ = h.(OutboundHandler)
	return c
}

func (c *Context) Name() string { return c.name }

func (c *Context) Handler() Handler { return c.handler }

func (c *Context) Pipeline() *Pipeline { return c.pipeline }

func (c *Context) Channel() Channel { return c.pipeline.ch }

func (c *Context) Executor() eventloop.Executor { return c.pipeline.ch.Executor() }

func (c *Context) Alloc() buffer.Allocator { return c.pipeline.ch.Alloc() }

// IsRemoved reports whether the handler left the pipeline.
func (c *Context) IsRemoved() bool { return c.removed.Load() }

// NewFuture returns a future bound to the channel executor.
func (c *Context) NewFuture() *eventloop.Future {
	return eventloop.NewFuture(c.Executor())
}

func (c *Context) findInbound() *Context {
	n := c.next.Load()
	for n != nil && n.inbound == nil {
		n = n.next.Load()
	}
	return n
}

func (c *Context) findOutbound() *Context {
	p := c.prev.Load()
	for p != nil && p.outbound == nil {
		p = p.prev.Load()
	}
	return p
}

// recoverInbound turns a panic in an inbound callback into ErrorCaught on
// the same handler. A panic inside ErrorCaught itself is only logged.
func (c *Context) recoverInbound(inErrorCaught bool) {
	r := recover()
	if r == nil {
		return
	}
	perr := &PanicError{Handler: c.name, Value: r, Stack: debug.Stack()}
	if inErrorCaught {
		c.pipeline.logger.Error("handler panicked in ErrorCaught",
			zap.String("handler", c.name), zap.Error(perr), zap.ByteString("stack", perr.Stack))
		return
	}
	c.invokeErrorCaught(perr)
}

func (c *Context) FireChannelRegistered() {
	if n := c.findInbound(); n != nil {
		n.invokeChannelRegistered()
	}
}

func (c *Context) invokeChannelRegistered() {
	if c.removed.Load() {
		c.FireChannelRegistered()
		return
	}
	defer c.recoverInbound(false)
	c.inbound.ChannelRegistered(c)
}

func (c *Context) FireChannelUnregistered() {
	if n := c.findInbound(); n != nil {
		n.invokeChannelUnregistered()
	}
}

func (c *Context) invokeChannelUnregistered() {
	if c.removed.Load() {
		c.FireChannelUnregistered()
		return
	}
	defer c.recoverInbound(false)
	c.inbound.ChannelUnregistered(c)
}

func (c *Context) FireChannelActive() {
	if n := c.findInbound(); n != nil {
		n.invokeChannelActive()
	}
}

func (c *Context) invokeChannelActive() {
	if c.removed.Load() {
		c.FireChannelActive()
		return
	}
	defer c.recoverInbound(false)
	c.inbound.ChannelActive(c)
}

func (c *Context) FireChannelInactive() {
	if n := c.findInbound(); n != nil {
		n.invokeChannelInactive()
	}
}

func (c *Context) invokeChannelInactive() {
	if c.removed.Load() {
		c.FireChannelInactive()
		return
	}
	defer c.recoverInbound(false)
	c.inbound.ChannelInactive(c)
}

// FireChannelRead passes msg to the next inbound handler. Ownership of
// reference counted messages moves with it.
func (c *Context) FireChannelRead(msg any) {
	if n := c.findInbound(); n != nil {
		n.invokeChannelRead(msg)
		return
	}
	SafeRelease(msg)
}

func (c *Context) invokeChannelRead(msg any) {
	if c.removed.Load() {
		c.FireChannelRead(msg)
		return
	}
	defer c.recoverInbound(false)
	c.inbound.ChannelRead(c, msg)
}

func (c *Context) FireChannelReadComplete() {
	if n := c.findInbound(); n != nil {
		n.invokeChannelReadComplete()
	}
}

func (c *Context) invokeChannelReadComplete() {
	if c.removed.Load() {
		c.FireChannelReadComplete()
		return
	}
	defer c.recoverInbound(false)
	c.inbound.ChannelReadComplete(c)
}

func (c *Context) FireUserEventTriggered(evt any) {
	if n := c.findInbound(); n != nil {
		n.invokeUserEventTriggered(evt)
	}
}

func (c *Context) invokeUserEventTriggered(evt any) {
	if c.removed.Load() {
		c.FireUserEventTriggered(evt)
		return
	}
	defer c.recoverInbound(false)
	c.inbound.UserEventTriggered(c, evt)
}

func (c *Context) FireChannelWritabilityChanged() {
	if n := c.findInbound(); n != nil {
		n.invokeChannelWritabilityChanged()
	}
}

func (c *Context) invokeChannelWritabilityChanged() {
	if c.removed.Load() {
		c.FireChannelWritabilityChanged()
		return
	}
	defer c.recoverInbound(false)
	c.inbound.ChannelWritabilityChanged(c)
}

func (c *Context) FireErrorCaught(err error) {
	if n := c.findInbound(); n != nil {
		n.invokeErrorCaught(err)
	}
}

func (c *Context) invokeErrorCaught(err error) {
	if c.removed.Load() || c.inbound == nil {
		c.FireErrorCaught(err)
		return
	}
	defer c.recoverInbound(true)
	c.inbound.ErrorCaught(c, err)
}

// onLoop runs fn on the channel executor. If the executor rejects the task
// fallback runs instead with the rejection error.
func (c *Context) onLoop(fn func(), fallback func(error)) {
	exec := c.Executor()
	if exec.InLoop() {
		fn()
		return
	}
	if err := exec.Execute(fn); err != nil {
		fallback(err)
	}
}

// Write sends msg towards the head without flushing.
func (c *Context) Write(msg any) *eventloop.Future {
	f := c.NewFuture()
	c.WriteWithFuture(msg, f)
	return f
}

// WriteWithFuture is Write with a caller supplied future.
func (c *Context) WriteWithFuture(msg any, f *eventloop.Future) {
	c.onLoop(func() { c.write(msg, f) }, func(err error) {
		SafeRelease(msg)
		f.Complete(err)
	})
}

func (c *Context) write(msg any, f *eventloop.Future) {
	n := c.findOutbound()
	if n == nil {
		SafeRelease(msg)
		f.Complete(ErrClosed)
		return
	}
	n.invokeWrite(msg, f)
}

func (c *Context) invokeWrite(msg any, f *eventloop.Future) {
	if c.removed.Load() {
		c.WriteWithFuture(msg, f)
		return
	}
	defer c.recoverOutbound(f)
	c.outbound.Write(c, msg, f)
}

// Flush asks the transport to write everything queued so far.
func (c *Context) Flush() {
	c.onLoop(c.flush, func(error) {})
}

func (c *Context) flush() {
	if n := c.findOutbound(); n != nil {
		n.invokeFlush()
	}
}

func (c *Context) invokeFlush() {
	if c.removed.Load() {
		c.Flush()
		return
	}
	defer c.recoverOutbound(nil)
	c.outbound.Flush(c)
}

// WriteAndFlush writes msg and flushes in a single hop to the executor.
func (c *Context) WriteAndFlush(msg any) *eventloop.Future {
	f := c.NewFuture()
	c.onLoop(func() {
		c.write(msg, f)
		c.flush()
	}, func(err error) {
		SafeRelease(msg)
		f.Complete(err)
	})
	return f
}

// Close closes the channel normally.
func (c *Context) Close() *eventloop.Future {
	return c.CloseWithCause(nil)
}

// CloseWithCause closes the channel, recording cause as the close reason.
func (c *Context) CloseWithCause(cause error) *eventloop.Future {
	f := c.NewFuture()
	c.CloseWithFuture(cause, f)
	return f
}

func (c *Context) CloseWithFuture(cause error, f *eventloop.Future) {
	c.onLoop(func() {
		n := c.findOutbound()
		if n == nil {
			f.Complete(ErrClosed)
			return
		}
		n.invokeClose(cause, f)
	}, func(err error) {
		f.Complete(err)
	})
}

func (c *Context) invokeClose(cause error, f *eventloop.Future) {
	if c.removed.Load() {
		c.CloseWithFuture(cause, f)
		return
	}
	defer c.recoverOutbound(f)
	c.outbound.Close(c, cause, f)
}

// recoverOutbound fails f with the recovered panic, or reports it inbound
// when there is no future to fail.
func (c *Context) recoverOutbound(f *eventloop.Future) {
	r := recover()
	if r == nil {
		return
	}
	perr := &PanicError{Handler: c.name, Value: r, Stack: debug.Stack()}
	if f != nil && f.Complete(perr) {
		return
	}
	c.pipeline.FireErrorCaught(perr)
}
