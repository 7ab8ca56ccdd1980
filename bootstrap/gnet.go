package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/panjf2000/gnet/v2"
	"go.uber.org/zap"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/channel"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/metrics"
	"github.com/czx-lab/netpipe/pipeline"
	"github.com/czx-lab/netpipe/xlog"
)

// GnetServer runs the gnet engine as the transport. gnet polls the sockets
// on its own loops; pipelines still run on the group loops.
type GnetServer struct {
	gnet.BuiltinEventEngine

	conf    GnetServerConf
	hub     *hub
	mu      sync.Mutex
	eng     gnet.Engine
	booted  chan struct{}
	stopped chan error
}

var _ gnet.EventHandler = (*GnetServer)(nil)

// NewGnetServer builds a gnet server whose channels are set up by init.
func NewGnetServer(conf GnetServerConf, init pipeline.Initializer) (*GnetServer, error) {
	defaultGnetServerConf(&conf)
	h, err := newHub("gnet", conf.MaxConn, conf.Channel, conf.Loops, conf.Metrics, init)
	if err != nil {
		return nil, err
	}
	return &GnetServer{
		conf:    conf,
		hub:     h,
		booted:  make(chan struct{}),
		stopped: make(chan error, 1),
	}, nil
}

// WithMetrics replaces the metrics sink. Call before Start.
func (g *GnetServer) WithMetrics(m metrics.ServerMetrics) *GnetServer {
	if m != nil {
		g.hub.metrics = m
	}
	return g
}

// WithAllocator sets the allocator for read buffers and handlers.
func (g *GnetServer) WithAllocator(a buffer.Allocator) *GnetServer {
	if a != nil {
		g.hub.alloc = a
	}
	return g
}

// WithGroup runs the channels on g instead of an owned group.
func (g *GnetServer) WithGroup(group *eventloop.Group) *GnetServer {
	g.hub.useGroup(group)
	return g
}

// Start runs the engine in the background and waits until it is booted or
// failed.
func (g *GnetServer) Start(ctx context.Context) error {
	nodelay := gnet.TCPDelay
	if g.conf.NoDelay {
		nodelay = gnet.TCPNoDelay
	}
	opts := []gnet.Option{
		gnet.WithMulticore(g.conf.Multicore),
		gnet.WithTCPKeepAlive(g.conf.KeepAlive),
		gnet.WithTCPNoDelay(nodelay),
		gnet.WithLogger(xlog.Named("gnet").Sugar()),
	}
	go func() {
		g.stopped <- gnet.Run(g, "tcp://"+g.conf.Addr, opts...)
	}()

	select {
	case <-g.booted:
		return nil
	case err := <-g.stopped:
		if err == nil {
			err = errors.New("bootstrap: gnet engine exited before boot")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnBoot implements gnet.EventHandler.
func (g *GnetServer) OnBoot(eng gnet.Engine) gnet.Action {
	g.mu.Lock()
	g.eng = eng
	g.mu.Unlock()
	g.hub.logger.Info("gnet server listening", zap.String("addr", g.conf.Addr), zap.Bool("multicore", g.conf.Multicore))
	close(g.booted)
	return gnet.None
}

// OnOpen implements gnet.EventHandler.
func (g *GnetServer) OnOpen(c gnet.Conn) ([]byte, gnet.Action) {
	t := channel.NewGnetTransport(c, g.hub.alloc)
	if _, err := g.hub.open(t); err != nil {
		return nil, gnet.Close
	}
	c.SetContext(t)
	return nil, gnet.None
}

// OnTraffic implements gnet.EventHandler.
func (g *GnetServer) OnTraffic(c gnet.Conn) gnet.Action {
	t, ok := c.Context().(*channel.GnetTransport)
	if !ok {
		return gnet.Close
	}
	if err := t.Traffic(c); err != nil {
		g.hub.logger.Debug("gnet read", zap.Error(err))
		return gnet.Close
	}
	return gnet.None
}

// OnClose implements gnet.EventHandler.
func (g *GnetServer) OnClose(c gnet.Conn, err error) gnet.Action {
	if t, ok := c.Context().(*channel.GnetTransport); ok {
		t.Closed(err)
	}
	return gnet.None
}

// Len counts live connections.
func (g *GnetServer) Len() int {
	return g.hub.Len()
}

// Stop closes every channel, stops the engine and shuts down the owned
// loops.
func (g *GnetServer) Stop(ctx context.Context) error {
	err := g.hub.closeAll(ctx)
	g.mu.Lock()
	eng := g.eng
	g.mu.Unlock()
	select {
	case <-g.booted:
		if serr := eng.Stop(ctx); serr != nil {
			err = errors.Join(err, fmt.Errorf("bootstrap: stop gnet: %w", serr))
		}
	default:
	}
	return errors.Join(err, g.hub.shutdown(ctx))
}
