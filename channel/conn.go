package channel

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/czx-lab/netpipe/attr"
	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/metrics"
	"github.com/czx-lab/netpipe/pipeline"
	"github.com/czx-lab/netpipe/xlog"
)

const (
	stateNew int32 = iota
	stateRegistered
	stateActive
	stateClosed
)

type (
	// Conn is a pipeline.Channel over a Transport. Everything except the
	// accessors runs on the pinned executor.
	Conn struct {
		id          string
		conf        Conf
		transport   Transport
		exec        eventloop.Executor
		p           *pipeline.Pipeline
		attrs       *attr.Map
		alloc       buffer.Allocator
		metrics     metrics.ServerMetrics
		logger      *zap.Logger
		state       atomic.Int32
		writable    atomic.Bool
		closeFuture *eventloop.Future
		readGate    chan struct{}

		// loop owned
		unflushed    *queue.Queue
		flushed      *queue.Queue
		inFlight     []*outboundEntry
		pendingBytes int
		openedAt     time.Time
	}
	outboundEntry struct {
		msg  *buffer.Buffer
		f    *eventloop.Future
		size int
	}
	connSink Conn
	unsafe   Conn
)

// New builds an unregistered Conn on exec. Call Register to install the
// pipeline and start the transport.
func New(t Transport, exec eventloop.Executor, conf Conf) *Conn {
	defaultConf(&conf)
	c := &Conn{
		id:        uuid.NewString(),
		conf:      conf,
		transport: t,
		exec:      exec,
		attrs:     attr.NewMap(),
		alloc:     buffer.Default,
		metrics:   metrics.Noop{},
		readGate:  make(chan struct{}, conf.MaxPendingReads),
		unflushed: queue.New(),
		flushed:   queue.New(),
	}
	c.logger = xlog.Named("channel").With(zap.String("channel", c.id))
	c.writable.Store(true)
	c.closeFuture = eventloop.NewFuture(exec)
	c.p = pipeline.New(c)
	return c
}

// WithMetrics sets the metrics sink. Call before Register.
func (c *Conn) WithMetrics(m metrics.ServerMetrics) *Conn {
	if m != nil {
		c.metrics = m
	}
	return c
}

// WithAllocator sets the allocator handlers use. Call before Register.
func (c *Conn) WithAllocator(a buffer.Allocator) *Conn {
	if a != nil {
		c.alloc = a
	}
	return c
}

func (c *Conn) ID() string                     { return c.id }
func (c *Conn) Pipeline() *pipeline.Pipeline   { return c.p }
func (c *Conn) Executor() eventloop.Executor   { return c.exec }
func (c *Conn) Alloc() buffer.Allocator        { return c.alloc }
func (c *Conn) Attrs() *attr.Map               { return c.attrs }
func (c *Conn) IsActive() bool                 { return c.state.Load() == stateActive }
func (c *Conn) IsWritable() bool               { return c.IsActive() && c.writable.Load() }
func (c *Conn) LocalAddr() net.Addr            { return c.transport.LocalAddr() }
func (c *Conn) RemoteAddr() net.Addr           { return c.transport.RemoteAddr() }
func (c *Conn) CloseFuture() *eventloop.Future { return c.closeFuture }
func (c *Conn) Unsafe() pipeline.Unsafe        { return (*unsafe)(c) }

// Close closes the channel through its pipeline.
func (c *Conn) Close() *eventloop.Future {
	return c.p.Close(nil)
}

// Register runs init on the loop, fires Registered and Active and starts
// the transport. The returned future fails with the init error, in which
// case the channel is closed with that cause.
func (c *Conn) Register(init pipeline.Initializer) *eventloop.Future {
	f := eventloop.NewFuture(c.exec)
	err := c.exec.Execute(func() {
		if !c.state.CompareAndSwap(stateNew, stateRegistered) {
			f.Complete(pipeline.ErrClosed)
			return
		}
		if init != nil {
			if err := init.InitChannel(c); err != nil {
				c.logger.Warn("channel init failed", zap.Error(err))
				c.metrics.IncFailedConns()
				c.abort(err)
				f.Complete(err)
				return
			}
		}
		c.metrics.IncTotalConns()
		c.metrics.IncConns()
		c.p.FireChannelRegistered()
		if c.state.Load() != stateRegistered {
			// closed from a Registered callback
			f.Complete(pipeline.ErrClosed)
			return
		}
		c.state.Store(stateActive)
		c.openedAt = c.exec.Now()
		c.p.FireChannelActive()
		if c.state.Load() == stateActive {
			c.transport.Start((*connSink)(c))
		}
		f.Complete(nil)
	})
	if err != nil {
		c.abort(err)
		f.Complete(err)
	}
	return f
}

// abort closes a channel that never became active.
func (c *Conn) abort(cause error) {
	c.state.Store(stateClosed)
	if err := c.transport.Close(); err != nil && !isEOF(err) {
		c.logger.Debug("transport close", zap.Error(err))
	}
	c.closeFuture.Complete(cause)
}

// Received implements Sink. It blocks while MaxPendingReads reads wait for
// the loop.
func (s *connSink) Received(buf *buffer.Buffer) {
	c := (*Conn)(s)
	c.readGate <- struct{}{}
	err := c.exec.Execute(func() {
		defer func() { <-c.readGate }()
		if !c.IsActive() {
			pipeline.SafeRelease(buf)
			return
		}
		c.metrics.AddReceivedBytes(buf.ReadableBytes())
		c.p.FireChannelRead(buf)
		c.p.FireChannelReadComplete()
	})
	if err != nil {
		<-c.readGate
		pipeline.SafeRelease(buf)
	}
}

// Failed implements Sink. An orderly end of stream closes normally; any
// other error closes with a TransportError.
func (s *connSink) Failed(err error) {
	c := (*Conn)(s)
	c.exec.Execute(func() {
		if c.state.Load() == stateClosed {
			return
		}
		var cause error
		if !isEOF(err) {
			c.metrics.IncReadErrors()
			cause = &TransportError{Op: "read", Err: err}
		}
		c.p.Close(cause)
	})
}

// Write implements pipeline.Unsafe.
func (u *unsafe) Write(msg *buffer.Buffer, f *eventloop.Future) {
	c := (*Conn)(u)
	if c.state.Load() == stateClosed {
		pipeline.SafeRelease(msg)
		f.Complete(pipeline.ErrClosed)
		return
	}
	if cnt := msg.RefCnt(); cnt <= 0 {
		f.Complete(&buffer.ReferenceError{Op: "write", RefCnt: cnt})
		return
	}
	e := &outboundEntry{msg: msg, f: f, size: msg.ReadableBytes()}
	c.unflushed.Add(e)
	c.incPending(e.size)
}

// Flush implements pipeline.Unsafe. Entries whose future was cancelled are
// dropped here; the rest can no longer be cancelled.
func (u *unsafe) Flush() {
	c := (*Conn)(u)
	for c.unflushed.Length() > 0 {
		e := c.unflushed.Remove().(*outboundEntry)
		if !e.f.SetUncancellable() {
			pipeline.SafeRelease(e.msg)
			c.decPending(e.size)
			continue
		}
		c.flushed.Add(e)
	}
	c.doWrite()
}

// Close implements pipeline.Unsafe. Queued writes fail with
// pipeline.ErrClosed; a batch already handed to the transport completes
// when the transport reports it.
func (u *unsafe) Close(cause error, f *eventloop.Future) {
	c := (*Conn)(u)
	prev := c.state.Swap(stateClosed)
	if prev == stateClosed {
		f.Complete(nil)
		return
	}
	c.failQueued(c.unflushed)
	c.failQueued(c.flushed)
	if err := c.transport.Close(); err != nil && !isEOF(err) {
		c.logger.Debug("transport close", zap.Error(err))
	}
	c.closeFuture.Complete(cause)
	f.Complete(nil)

	reason := pipeline.ReasonOf(cause)
	c.metrics.IncCloseReason(reason.String())
	if prev == stateNew {
		return
	}
	c.metrics.DecConns()
	if prev == stateActive {
		c.metrics.ObserveConnDuration(c.exec.Now().Sub(c.openedAt))
		c.logger.Debug("channel closed", zap.Stringer("reason", reason), zap.Error(cause))
		c.p.FireChannelInactive()
	}
	c.p.FireChannelUnregistered()
}

func (c *Conn) failQueued(q *queue.Queue) {
	for q.Length() > 0 {
		e := q.Remove().(*outboundEntry)
		pipeline.SafeRelease(e.msg)
		c.pendingBytes -= e.size
		e.f.Complete(pipeline.ErrClosed)
	}
}

func (c *Conn) doWrite() {
	if c.inFlight != nil || c.flushed.Length() == 0 || c.state.Load() == stateClosed {
		return
	}
	n := min(c.flushed.Length(), c.conf.WriteBatchSize)
	batch := make([]*outboundEntry, 0, n)
	bufs := make([][]byte, 0, n)
	for range n {
		e := c.flushed.Remove().(*outboundEntry)
		batch = append(batch, e)
		bufs = append(bufs, e.msg.Bytes())
	}
	c.inFlight = batch
	c.metrics.ObserveWriteBatch(n)
	c.transport.Write(bufs, func(written int, err error) {
		if execErr := c.exec.Execute(func() { c.writeDone(written, err) }); execErr != nil {
			// loop is gone; nothing else touches the batch
			c.completeBatch(batch, err)
		}
	})
}

func (c *Conn) writeDone(n int, err error) {
	batch := c.inFlight
	c.inFlight = nil
	c.completeBatch(batch, err)
	c.metrics.AddSentBytes(n)
	if c.state.Load() == stateClosed {
		return
	}
	if err != nil {
		c.metrics.IncWriteErrors()
		c.p.Close(&TransportError{Op: "write", Err: err})
		return
	}
	c.doWrite()
}

func (c *Conn) completeBatch(batch []*outboundEntry, err error) {
	for _, e := range batch {
		pipeline.SafeRelease(e.msg)
		c.decPending(e.size)
		e.f.Complete(err)
	}
}

func (c *Conn) incPending(n int) {
	c.pendingBytes += n
	if c.pendingBytes > c.conf.HighWaterMark && c.writable.CompareAndSwap(true, false) {
		c.p.FireChannelWritabilityChanged()
	}
}

func (c *Conn) decPending(n int) {
	c.pendingBytes -= n
	if c.pendingBytes < c.conf.LowWaterMark && c.state.Load() != stateClosed &&
		c.writable.CompareAndSwap(false, true) {
		c.p.FireChannelWritabilityChanged()
	}
}

// PendingBytes counts outbound bytes not yet confirmed by the transport.
// Call it on the loop.
func (c *Conn) PendingBytes() int {
	return c.pendingBytes
}

var (
	_ pipeline.Channel = (*Conn)(nil)
	_ Sink             = (*connSink)(nil)
)
