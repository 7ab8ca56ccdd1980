// Package bootstrap accepts and dials connections and hands each one to a
// channel.Conn pinned to a loop of an event loop group.
package bootstrap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/channel"
	"github.com/czx-lab/netpipe/container/cmap"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/metrics"
	"github.com/czx-lab/netpipe/pipeline"
	"github.com/czx-lab/netpipe/xlog"
)

var (
	ErrTooManyConns   = errors.New("bootstrap: connection limit reached")
	ErrStopped        = errors.New("bootstrap: stopped")
	ErrUnknownNetwork = errors.New("bootstrap: unknown network")
	ErrNoInitializer  = errors.New("bootstrap: no channel initializer")
)

// hub tracks the live channels of a server or client.
type hub struct {
	maxConn   int
	conf      channel.Conf
	init      pipeline.Initializer
	group     *eventloop.Group
	ownsGroup bool
	metrics   metrics.ServerMetrics
	alloc     buffer.Allocator
	conns     *cmap.Sharded[string, *channel.Conn]
	count     atomic.Int64
	wg        sync.WaitGroup
	logger    *zap.Logger
}

func newHub(name string, maxConn int, conf channel.Conf, loops eventloop.GroupConf, mconf metrics.ServerMetricsConf, init pipeline.Initializer) (*hub, error) {
	if init == nil {
		return nil, ErrNoInitializer
	}
	if loops.Name == "" {
		loops.Name = name
	}
	group, err := eventloop.NewGroup(loops)
	if err != nil {
		return nil, err
	}
	var m metrics.ServerMetrics = metrics.Noop{}
	if metrics.Enabled() {
		m = metrics.NewServerMetrics(mconf)
	}
	return &hub{
		maxConn:   maxConn,
		conf:      conf,
		init:      init,
		group:     group,
		ownsGroup: true,
		metrics:   m,
		alloc:     buffer.Default,
		conns:     cmap.NewSharded[string, *channel.Conn](cmap.Option[string]{}),
		logger:    xlog.Named(name),
	}, nil
}

// useGroup replaces the owned group; the caller shuts g down.
func (h *hub) useGroup(g *eventloop.Group) {
	if g == nil {
		return
	}
	if h.ownsGroup {
		h.group.Shutdown(context.Background())
	}
	h.group = g
	h.ownsGroup = false
}

// open pins t to a loop and registers the channel. The caller closes t
// when open fails.
func (h *hub) open(t channel.Transport) (*channel.Conn, error) {
	if n := h.count.Add(1); h.maxConn > 0 && n > int64(h.maxConn) {
		h.count.Add(-1)
		h.metrics.IncFailedConns()
		h.logger.Warn("too many connections", zap.Int("max", h.maxConn), zap.Stringer("remote", t.RemoteAddr()))
		return nil, ErrTooManyConns
	}

	c := channel.New(t, h.group.Next(), h.conf).WithMetrics(h.metrics).WithAllocator(h.alloc)
	h.conns.Set(c.ID(), c)
	h.wg.Add(1)
	c.CloseFuture().AddListener(func(f *eventloop.Future) {
		h.conns.Delete(c.ID())
		h.count.Add(-1)
		h.wg.Done()
	})
	c.Register(h.init)
	return c, nil
}

// Len counts live channels.
func (h *hub) Len() int {
	return int(h.count.Load())
}

// closeAll closes every channel and waits for their close futures.
func (h *hub) closeAll(ctx context.Context) error {
	for _, c := range h.conns.Values() {
		c.Close()
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *hub) shutdown(ctx context.Context) error {
	err := h.closeAll(ctx)
	if h.ownsGroup {
		err = errors.Join(err, h.group.Shutdown(ctx))
	}
	return errors.Join(err, h.metrics.Close())
}
