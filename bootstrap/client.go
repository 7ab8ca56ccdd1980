package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/channel"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/metrics"
	"github.com/czx-lab/netpipe/pipeline"
)

// Client dials one connection and, when reconnect is enabled, dials again
// with exponential backoff every time it closes.
type Client struct {
	conf      ClientConf
	hub       *hub
	onConnect func(*channel.Conn)
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	conn      *channel.Conn
}

// NewClient builds a client whose channels are set up by init.
func NewClient(conf ClientConf, init pipeline.Initializer) (*Client, error) {
	defaultClientConf(&conf)
	if conf.Loops.Loops <= 0 {
		conf.Loops.Loops = 1
	}
	h, err := newHub("client", 0, conf.Channel, conf.Loops, metrics.ServerMetricsConf{Subsystem: "client"}, init)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{conf: conf, hub: h, ctx: ctx, cancel: cancel}, nil
}

// WithMetrics replaces the metrics sink. Call before Connect.
func (c *Client) WithMetrics(m metrics.ServerMetrics) *Client {
	if m != nil {
		c.hub.metrics = m
	}
	return c
}

// WithAllocator sets the allocator for read buffers and handlers.
func (c *Client) WithAllocator(a buffer.Allocator) *Client {
	if a != nil {
		c.hub.alloc = a
	}
	return c
}

// WithGroup runs the channel on g instead of an owned loop.
func (c *Client) WithGroup(g *eventloop.Group) *Client {
	c.hub.useGroup(g)
	return c
}

// OnConnect registers fn to run after every successful dial, reconnects
// included.
func (c *Client) OnConnect(fn func(*channel.Conn)) *Client {
	c.onConnect = fn
	return c
}

// Conn returns the current channel, nil while disconnected.
func (c *Client) Conn() *channel.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.conf.Reconnect.InitialInterval
	b.MaxInterval = c.conf.Reconnect.MaxInterval
	b.MaxElapsedTime = c.conf.Reconnect.MaxElapsedTime
	b.Reset()
	return backoff.WithContext(b, ctx)
}

// Connect dials until it succeeds, retrying with backoff when reconnect is
// enabled, and registers the channel. With reconnect enabled a supervisor
// redials after every close until Stop.
func (c *Client) Connect(ctx context.Context) (*channel.Conn, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	if c.conf.Reconnect.Enabled {
		c.wg.Add(1)
		go c.supervise(conn)
	}
	return conn, nil
}

func (c *Client) connect(ctx context.Context) (*channel.Conn, error) {
	if c.ctx.Err() != nil {
		return nil, ErrStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	var t channel.Transport
	op := func() error {
		var err error
		t, err = dial(ctx, c.conf, c.hub.alloc)
		if err != nil {
			c.hub.metrics.IncFailedConns()
		}
		return err
	}
	var err error
	if c.conf.Reconnect.Enabled {
		err = backoff.RetryNotify(op, c.newBackOff(ctx), func(err error, d time.Duration) {
			c.hub.logger.Warn("dial failed", zap.String("addr", c.conf.Addr), zap.Error(err), zap.Duration("retry", d))
		})
	} else {
		err = op()
	}
	if err != nil {
		if c.ctx.Err() != nil {
			return nil, ErrStopped
		}
		return nil, err
	}

	conn, err := c.hub.open(t)
	if err != nil {
		t.Close()
		return nil, err
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.hub.logger.Info("connected", zap.String("channel", conn.ID()), zap.Stringer("remote", conn.RemoteAddr()))
	if c.onConnect != nil {
		c.onConnect(conn)
	}
	return conn, nil
}

func (c *Client) supervise(conn *channel.Conn) {
	defer c.wg.Done()
	for {
		select {
		case <-conn.CloseFuture().Done():
		case <-c.ctx.Done():
			return
		}
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		c.hub.logger.Info("connection closed, reconnecting", zap.String("channel", conn.ID()), zap.Error(conn.CloseFuture().Err()))

		next, err := c.connect(c.ctx)
		if err != nil {
			if !errors.Is(err, ErrStopped) {
				c.hub.logger.Error("reconnect gave up", zap.String("addr", c.conf.Addr), zap.Error(err))
			}
			return
		}
		conn = next
	}
}

// Stop ends reconnecting, closes the channel and shuts down the owned loop.
func (c *Client) Stop(ctx context.Context) error {
	c.cancel()
	c.wg.Wait()
	return c.hub.shutdown(ctx)
}
