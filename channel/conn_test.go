package channel_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/channel"
	"github.com/czx-lab/netpipe/codec"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/pipeline"
)

type (
	fakeAddr      string
	fakeTransport struct {
		mu      sync.Mutex
		sink    channel.Sink
		batches [][][]byte
		dones   []func(int, error)
		closed  bool
	}
	events struct {
		pipeline.InboundAdapter
		mu          sync.Mutex
		writability []bool
		inactive    int
		reads       []string
	}
)

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

func (f *fakeTransport) LocalAddr() net.Addr  { return fakeAddr("local") }
func (f *fakeTransport) RemoteAddr() net.Addr { return fakeAddr("remote") }

func (f *fakeTransport) Start(s channel.Sink) {
	f.mu.Lock()
	f.sink = s
	f.mu.Unlock()
}

func (f *fakeTransport) Write(bufs [][]byte, done func(int, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([][]byte, len(bufs))
	for i, b := range bufs {
		cp[i] = append([]byte(nil), b...)
	}
	f.batches = append(f.batches, cp)
	f.dones = append(f.dones, done)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// complete finishes the oldest outstanding write.
func (f *fakeTransport) complete(n int, err error) {
	f.mu.Lock()
	done := f.dones[0]
	f.dones = f.dones[1:]
	f.mu.Unlock()
	done(n, err)
}

func (f *fakeTransport) written() [][][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (e *events) ChannelWritabilityChanged(ctx *pipeline.Context) {
	e.mu.Lock()
	e.writability = append(e.writability, ctx.Channel().IsWritable())
	e.mu.Unlock()
	ctx.FireChannelWritabilityChanged()
}

func (e *events) ChannelInactive(ctx *pipeline.Context) {
	e.mu.Lock()
	e.inactive++
	e.mu.Unlock()
	ctx.FireChannelInactive()
}

func (e *events) ChannelRead(ctx *pipeline.Context, msg any) {
	if b, ok := msg.(*buffer.Buffer); ok {
		e.mu.Lock()
		e.reads = append(e.reads, b.String())
		e.mu.Unlock()
	}
	pipeline.SafeRelease(msg)
}

func (e *events) snapshot() ([]bool, int, []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]bool(nil), e.writability...), e.inactive, append([]string(nil), e.reads...)
}

func newLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	l := eventloop.NewLoop(eventloop.LoopConf{Name: t.Name()})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		l.Shutdown(ctx)
	})
	return l
}

// onLoop runs fn on l and waits for it.
func onLoop(t *testing.T, l *eventloop.Loop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	if err := l.Execute(func() {
		defer close(done)
		fn()
	}); err != nil {
		t.Fatal(err)
	}
	<-done
}

func waitFuture(t *testing.T, f *eventloop.Future) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case <-f.Done():
		return f.Err()
	case <-ctx.Done():
		t.Fatal("future did not complete")
		return nil
	}
}

func register(t *testing.T, conf channel.Conf, handlers ...pipeline.Handler) (*channel.Conn, *fakeTransport, *eventloop.Loop) {
	t.Helper()
	l := newLoop(t)
	tr := &fakeTransport{}
	c := channel.New(tr, l, conf)
	f := c.Register(pipeline.InitializerFunc(func(ch pipeline.Channel) error {
		return ch.Pipeline().AddLastAll(handlers...)
	}))
	if err := waitFuture(t, f); err != nil {
		t.Fatal(err)
	}
	return c, tr, l
}

func TestConn(t *testing.T) {
	t.Run("Watermarks", func(t *testing.T) {
		ev := &events{}
		c, tr, l := register(t, channel.Conf{HighWaterMark: 8, LowWaterMark: 4}, ev)

		var f1, f2 *eventloop.Future
		onLoop(t, l, func() {
			f1 = c.Pipeline().Write(buffer.FromString("aaaaa"))
			if !c.IsWritable() {
				t.Error("writable turned false below the high mark")
			}
			f2 = c.Pipeline().Write(buffer.FromString("bbbbb"))
			if c.IsWritable() {
				t.Error("still writable above the high mark")
			}
			c.Pipeline().Flush()
		})
		batches := tr.written()
		if len(batches) != 1 || len(batches[0]) != 2 {
			t.Fatalf("batches = %q, want one batch of two buffers", batches)
		}
		tr.complete(10, nil)
		if err := waitFuture(t, f1); err != nil {
			t.Fatal(err)
		}
		if err := waitFuture(t, f2); err != nil {
			t.Fatal(err)
		}
		onLoop(t, l, func() {
			if !c.IsWritable() {
				t.Error("not writable after drain")
			}
			if c.PendingBytes() != 0 {
				t.Errorf("pending = %d, want 0", c.PendingBytes())
			}
		})
		w, _, _ := ev.snapshot()
		if len(w) != 2 || w[0] || !w[1] {
			t.Fatalf("writability events = %v, want [false true]", w)
		}
	})

	t.Run("CancelledWriteIsDropped", func(t *testing.T) {
		c, tr, l := register(t, channel.Conf{})
		var cancelled, kept *eventloop.Future
		onLoop(t, l, func() {
			cancelled = c.Pipeline().Write(buffer.FromString("drop"))
			kept = c.Pipeline().Write(buffer.FromString("keep"))
			cancelled.Cancel()
			c.Pipeline().Flush()
		})
		batches := tr.written()
		if len(batches) != 1 || len(batches[0]) != 1 || string(batches[0][0]) != "keep" {
			t.Fatalf("batches = %q, want [[keep]]", batches)
		}
		if kept.Cancel() {
			t.Fatal("flushed write could still be cancelled")
		}
		tr.complete(4, nil)
		if err := waitFuture(t, kept); err != nil {
			t.Fatal(err)
		}
		if !cancelled.IsCancelled() {
			t.Fatal("cancelled write lost its state")
		}
	})

	t.Run("WriteAndFlushOffLoop", func(t *testing.T) {
		c, tr, _ := register(t, channel.Conf{})
		f := c.Pipeline().WriteAndFlush(buffer.FromString("off"))
		var batches [][][]byte
		for range 100 {
			if batches = tr.written(); len(batches) == 1 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if len(batches) != 1 || string(batches[0][0]) != "off" {
			t.Fatalf("batches = %q, want [[off]]", batches)
		}
		tr.complete(3, nil)
		if err := waitFuture(t, f); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("FreedBufferWriteFails", func(t *testing.T) {
		c, tr, l := register(t, channel.Conf{})
		stale := buffer.FromString("gone")
		stale.Release()
		var f *eventloop.Future
		onLoop(t, l, func() {
			f = c.Pipeline().WriteAndFlush(stale)
		})
		if err := waitFuture(t, f); !errors.Is(err, buffer.ErrReleased) {
			t.Fatalf("write err = %v, want ErrReleased", err)
		}
		if got := len(tr.written()); got != 0 {
			t.Fatalf("%d batches reached the transport", got)
		}
		if !c.IsActive() {
			t.Fatal("channel closed after a rejected write")
		}
	})

	t.Run("FlushOrderAcrossBatches", func(t *testing.T) {
		c, tr, l := register(t, channel.Conf{WriteBatchSize: 2})
		onLoop(t, l, func() {
			for _, s := range []string{"1", "2", "3"} {
				c.Pipeline().Write(buffer.FromString(s))
			}
			c.Pipeline().Flush()
		})
		if got := len(tr.written()); got != 1 {
			t.Fatalf("%d batches in flight, want 1", got)
		}
		tr.complete(2, nil)
		var batches [][][]byte
		for range 100 {
			if batches = tr.written(); len(batches) == 2 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		if len(batches) != 2 || string(batches[0][0]) != "1" || string(batches[0][1]) != "2" || string(batches[1][0]) != "3" {
			t.Fatalf("batches = %q, want [[1 2] [3]]", batches)
		}
	})

	t.Run("CloseFailsQueuedWrites", func(t *testing.T) {
		ev := &events{}
		c, tr, l := register(t, channel.Conf{}, ev)
		var w *eventloop.Future
		onLoop(t, l, func() {
			w = c.Pipeline().Write(buffer.FromString("never"))
		})
		if err := waitFuture(t, c.Close()); err != nil {
			t.Fatal(err)
		}
		if err := waitFuture(t, w); !errors.Is(err, pipeline.ErrClosed) {
			t.Fatalf("queued write err = %v, want ErrClosed", err)
		}
		if err := waitFuture(t, c.CloseFuture()); err != nil {
			t.Fatalf("close cause = %v, want nil", err)
		}
		if !tr.isClosed() {
			t.Fatal("transport not closed")
		}
		if c.IsActive() {
			t.Fatal("still active")
		}
		if _, inactive, _ := ev.snapshot(); inactive != 1 {
			t.Fatalf("inactive fired %d times, want 1", inactive)
		}
		// closing twice is a no-op
		if err := waitFuture(t, c.Close()); err != nil {
			t.Fatal(err)
		}
		var late *eventloop.Future
		onLoop(t, l, func() { late = c.Pipeline().WriteAndFlush(buffer.FromString("late")) })
		if err := waitFuture(t, late); !errors.Is(err, pipeline.ErrClosed) {
			t.Fatalf("write after close err = %v, want ErrClosed", err)
		}
	})

	t.Run("InboundDelivery", func(t *testing.T) {
		ev := &events{}
		c, tr, _ := register(t, channel.Conf{}, ev)
		tr.sink.Received(buffer.FromString("a"))
		tr.sink.Received(buffer.FromString("b"))
		tr.sink.Failed(net.ErrClosed)
		if err := waitFuture(t, c.CloseFuture()); err != nil {
			t.Fatalf("close cause = %v, want nil", err)
		}
		if _, _, reads := ev.snapshot(); len(reads) != 2 || reads[0] != "a" || reads[1] != "b" {
			t.Fatalf("reads = %q, want [a b]", reads)
		}
	})

	t.Run("ReadErrorCloses", func(t *testing.T) {
		c, tr, _ := register(t, channel.Conf{})
		boom := errors.New("boom")
		tr.sink.Failed(boom)
		err := waitFuture(t, c.CloseFuture())
		var te *channel.TransportError
		if !errors.As(err, &te) || te.Op != "read" || !errors.Is(err, boom) {
			t.Fatalf("close cause = %v, want read TransportError", err)
		}
		if pipeline.ReasonOf(err) != pipeline.ReasonTransport {
			t.Fatalf("reason = %v", pipeline.ReasonOf(err))
		}
	})

	t.Run("WriteErrorCloses", func(t *testing.T) {
		c, tr, l := register(t, channel.Conf{})
		var w *eventloop.Future
		onLoop(t, l, func() { w = c.Pipeline().WriteAndFlush(buffer.FromString("x")) })
		boom := errors.New("broken pipe")
		tr.complete(0, boom)
		if err := waitFuture(t, w); !errors.Is(err, boom) {
			t.Fatalf("write err = %v", err)
		}
		var te *channel.TransportError
		if err := waitFuture(t, c.CloseFuture()); !errors.As(err, &te) || te.Op != "write" {
			t.Fatalf("close cause = %v, want write TransportError", err)
		}
	})

	t.Run("InitFailure", func(t *testing.T) {
		l := newLoop(t)
		tr := &fakeTransport{}
		c := channel.New(tr, l, channel.Conf{})
		bad := errors.New("bad init")
		f := c.Register(pipeline.InitializerFunc(func(pipeline.Channel) error { return bad }))
		if err := waitFuture(t, f); !errors.Is(err, bad) {
			t.Fatalf("register err = %v", err)
		}
		if err := waitFuture(t, c.CloseFuture()); !errors.Is(err, bad) {
			t.Fatalf("close cause = %v", err)
		}
		if !tr.isClosed() || c.IsActive() {
			t.Fatal("channel left open")
		}
	})
}

func TestStreamTransport(t *testing.T) {
	t.Run("LineEcho", func(t *testing.T) {
		l := newLoop(t)
		server, client := net.Pipe()
		defer client.Close()

		tr := channel.NewStreamTransport(server, 64, nil)
		c := channel.New(tr, l, channel.Conf{})
		f := c.Register(pipeline.InitializerFunc(func(ch pipeline.Channel) error {
			lines, err := codec.NewLineDecoder(1024, false)
			if err != nil {
				return err
			}
			dec, enc := codec.NewStringCodec()
			return ch.Pipeline().AddLastAll(
				codec.NewDecoder(lines),
				dec,
				enc,
				pipeline.NewTypedInbound(func(ctx *pipeline.Context, msg string) {
					ctx.WriteAndFlush(msg + "\n")
				}),
			)
		}))
		if err := waitFuture(t, f); err != nil {
			t.Fatal(err)
		}

		go client.Write([]byte("hello\nwor"))
		r := bufio.NewReader(client)
		line, err := r.ReadString('\n')
		if err != nil || line != "hello\n" {
			t.Fatalf("got %q, %v", line, err)
		}
		go client.Write([]byte("ld\n"))
		if line, err = r.ReadString('\n'); err != nil || line != "world\n" {
			t.Fatalf("got %q, %v", line, err)
		}

		client.Close()
		if err := waitFuture(t, c.CloseFuture()); err != nil {
			t.Fatalf("close cause = %v, want nil", err)
		}
		if err := tr.Wait(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("WriteAfterClose", func(t *testing.T) {
		server, client := net.Pipe()
		defer client.Close()
		tr := channel.NewStreamTransport(server, 0, nil)
		if err := tr.Close(); err != nil {
			t.Fatal(err)
		}
		done := make(chan error, 1)
		tr.Write([][]byte{[]byte("x")}, func(_ int, err error) { done <- err })
		if err := <-done; !errors.Is(err, net.ErrClosed) {
			t.Fatalf("err = %v, want net.ErrClosed", err)
		}
	})
}
