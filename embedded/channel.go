// Package embedded provides an in-memory channel that drives a pipeline
// without sockets or goroutines. It is meant for handler tests.
package embedded

import (
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/czx-lab/netpipe/attr"
	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/container/cqueue"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/pipeline"
)

const captureName = "embedded-capture"

var ids atomic.Uint64

type (
	// Channel is a pipeline.Channel whose transport is a pair of queues.
	// Messages reaching the end of the inbound side are collected for
	// ReadInbound; flushed outbound messages for ReadOutbound.
	Channel struct {
		id          string
		exec        *Executor
		p           *pipeline.Pipeline
		attrs       *attr.Map
		alloc       buffer.Allocator
		inbound     *cqueue.Queue[any]
		outbound    *cqueue.Queue[any]
		unflushed   []pendingWrite
		errs        *cqueue.Queue[error]
		events      *cqueue.Queue[any]
		active      bool
		closed      bool
		writable    bool
		closeFuture *eventloop.Future
	}
	pendingWrite struct {
		msg *buffer.Buffer
		f   *eventloop.Future
	}
	addr string
	// capture ends the user pipeline and records what reached it.
	capture struct {
		pipeline.InboundAdapter
		ch *Channel
	}
)

func (a addr) Network() string { return "embedded" }
func (a addr) String() string  { return string(a) }

// New builds a registered, active channel whose pipeline holds handlers
// followed by a stage recording inbound messages and errors.
func New(handlers ...pipeline.Handler) *Channel {
	ch := newChannel()
	ch.p.AddLastAll(handlers...)
	ch.p.AddLast(captureName, &capture{ch: ch})
	ch.activate()
	return ch
}

// NewRaw builds an active channel without the recording stage: unhandled
// messages and errors reach the pipeline tail and follow its policy.
func NewRaw(handlers ...pipeline.Handler) *Channel {
	ch := newChannel()
	ch.p.AddLastAll(handlers...)
	ch.activate()
	return ch
}

func newChannel() *Channel {
	ch := &Channel{
		id:       "embedded-" + strconv.FormatUint(ids.Add(1), 10),
		exec:     NewExecutor(time.Unix(0, 0)),
		attrs:    attr.NewMap(),
		alloc:    buffer.Heap{},
		inbound:  cqueue.NewQueue[any](0),
		outbound: cqueue.NewQueue[any](0),
		errs:     cqueue.NewQueue[error](0),
		events:   cqueue.NewQueue[any](0),
		writable: true,
	}
	ch.closeFuture = eventloop.NewFuture(ch.exec)
	ch.p = pipeline.New(ch)
	return ch
}

func (ch *Channel) activate() {
	ch.p.FireChannelRegistered()
	ch.active = true
	ch.p.FireChannelActive()
}

func (ch *Channel) ID() string                     { return ch.id }
func (ch *Channel) Pipeline() *pipeline.Pipeline   { return ch.p }
func (ch *Channel) Executor() eventloop.Executor   { return ch.exec }
func (ch *Channel) Alloc() buffer.Allocator        { return ch.alloc }
func (ch *Channel) Attrs() *attr.Map               { return ch.attrs }
func (ch *Channel) IsActive() bool                 { return ch.active }
func (ch *Channel) IsWritable() bool               { return ch.writable }
func (ch *Channel) LocalAddr() net.Addr            { return addr("local") }
func (ch *Channel) RemoteAddr() net.Addr           { return addr("remote") }
func (ch *Channel) CloseFuture() *eventloop.Future { return ch.closeFuture }
func (ch *Channel) Unsafe() pipeline.Unsafe        { return (*unsafe)(ch) }
func (ch *Channel) EmbeddedExecutor() *Executor    { return ch.exec }

// SetWritable flips writability and fires WritabilityChanged when it changes.
func (ch *Channel) SetWritable(w bool) {
	if ch.writable == w {
		return
	}
	ch.writable = w
	ch.p.FireChannelWritabilityChanged()
}

// WriteInbound fires a read for every message followed by one read
// complete. It reports whether inbound messages are waiting.
func (ch *Channel) WriteInbound(msgs ...any) bool {
	for _, m := range msgs {
		ch.p.FireChannelRead(m)
	}
	ch.p.FireChannelReadComplete()
	return !ch.inbound.IsEmpty()
}

// WriteOutbound writes every message and flushes. It reports whether
// outbound messages are waiting.
func (ch *Channel) WriteOutbound(msgs ...any) bool {
	for _, m := range msgs {
		ch.p.Write(m)
	}
	ch.p.Flush()
	return !ch.outbound.IsEmpty()
}

// ReadInbound pops the oldest message that reached the end of the pipeline.
func (ch *Channel) ReadInbound() any {
	v, _ := ch.inbound.Pop()
	return v
}

// ReadOutbound pops the oldest flushed outbound message.
func (ch *Channel) ReadOutbound() *buffer.Buffer {
	v, ok := ch.outbound.Pop()
	if !ok {
		return nil
	}
	return v.(*buffer.Buffer)
}

// InboundLen and OutboundLen count waiting messages.
func (ch *Channel) InboundLen() int  { return ch.inbound.Len() }
func (ch *Channel) OutboundLen() int { return ch.outbound.Len() }

// Err pops the oldest error that reached the end of the pipeline.
func (ch *Channel) Err() error {
	err, _ := ch.errs.Pop()
	return err
}

// ReadEvent pops the oldest user event that reached the end of the
// pipeline.
func (ch *Channel) ReadEvent() any {
	v, _ := ch.events.Pop()
	return v
}

// AdvanceTime moves the fake clock and runs due timers.
func (ch *Channel) AdvanceTime(d time.Duration) {
	ch.exec.AdvanceTime(d)
}

// Close closes the channel through the pipeline.
func (ch *Channel) Close() error {
	return ch.p.Close(nil).Err()
}

// Finish closes the channel and reports whether any message is waiting in
// either direction.
func (ch *Channel) Finish() bool {
	ch.Close()
	return !ch.inbound.IsEmpty() || !ch.outbound.IsEmpty()
}

// IsClosed reports whether the channel was closed.
func (ch *Channel) IsClosed() bool { return ch.closed }

func (c *capture) ChannelRead(ctx *pipeline.Context, msg any) {
	c.ch.inbound.Push(msg)
}

func (c *capture) ErrorCaught(ctx *pipeline.Context, err error) {
	c.ch.errs.Push(err)
}

func (c *capture) UserEventTriggered(ctx *pipeline.Context, evt any) {
	c.ch.events.Push(evt)
}

type unsafe Channel

func (u *unsafe) Write(msg *buffer.Buffer, f *eventloop.Future) {
	if u.closed {
		pipeline.SafeRelease(msg)
		f.Complete(pipeline.ErrClosed)
		return
	}
	u.unflushed = append(u.unflushed, pendingWrite{msg: msg, f: f})
}

func (u *unsafe) Flush() {
	pending := u.unflushed
	u.unflushed = nil
	for _, w := range pending {
		if !w.f.SetUncancellable() {
			pipeline.SafeRelease(w.msg)
			continue
		}
		u.outbound.Push(w.msg)
		w.f.Complete(nil)
	}
}

func (u *unsafe) Close(cause error, f *eventloop.Future) {
	ch := (*Channel)(u)
	if ch.closed {
		f.Complete(nil)
		return
	}
	ch.closed = true
	for _, w := range ch.unflushed {
		pipeline.SafeRelease(w.msg)
		w.f.Complete(pipeline.ErrClosed)
	}
	ch.unflushed = nil
	ch.closeFuture.Complete(cause)
	f.Complete(nil)

	if ch.active {
		ch.active = false
		ch.p.FireChannelInactive()
	}
	ch.p.FireChannelUnregistered()
}

var _ pipeline.Channel = (*Channel)(nil)
