package bootstrap

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/channel"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/metrics"
	"github.com/czx-lab/netpipe/pipeline"
)

// Server accepts stream connections (tcp, unix, kcp).
type Server struct {
	conf   ServerConf
	hub    *hub
	mu     sync.Mutex
	ln     net.Listener
	lnWait sync.WaitGroup
}

// NewServer builds a server whose channels are set up by init.
func NewServer(conf ServerConf, init pipeline.Initializer) (*Server, error) {
	defaultServerConf(&conf)
	h, err := newHub("server", conf.MaxConn, conf.Channel, conf.Loops, conf.Metrics, init)
	if err != nil {
		return nil, err
	}
	return &Server{conf: conf, hub: h}, nil
}

// WithMetrics replaces the metrics sink. Call before Start.
func (srv *Server) WithMetrics(m metrics.ServerMetrics) *Server {
	if m != nil {
		srv.hub.metrics = m
	}
	return srv
}

// WithAllocator sets the allocator for read buffers and handlers.
func (srv *Server) WithAllocator(a buffer.Allocator) *Server {
	if a != nil {
		srv.hub.alloc = a
	}
	return srv
}

// WithGroup runs the channels on g instead of an owned group.
func (srv *Server) WithGroup(g *eventloop.Group) *Server {
	srv.hub.useGroup(g)
	return srv
}

// Start listens and accepts in the background.
func (srv *Server) Start() error {
	ln, err := listen(srv.conf)
	if err != nil {
		return err
	}
	srv.mu.Lock()
	srv.ln = ln
	srv.mu.Unlock()

	srv.hub.logger.Info("server listening", zap.String("network", srv.conf.Network), zap.Stringer("addr", ln.Addr()))
	srv.lnWait.Add(1)
	go srv.run(ln)
	return nil
}

// Addr is the listen address, nil before Start.
func (srv *Server) Addr() net.Addr {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.ln == nil {
		return nil
	}
	return srv.ln.Addr()
}

// Len counts live connections.
func (srv *Server) Len() int {
	return srv.hub.Len()
}

func (srv *Server) run(ln net.Listener) {
	defer srv.lnWait.Done()

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				if delay == 0 {
					delay = 5 * time.Millisecond
				} else {
					delay *= 2
				}
				if max := 1 * time.Second; delay > max {
					delay = max
				}
				srv.hub.logger.Warn("accept", zap.Error(err), zap.Duration("retry", delay))
				time.Sleep(delay)
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				srv.hub.logger.Error("accept", zap.Error(err))
			}
			return
		}
		delay = 0

		t := channel.NewStreamTransport(conn, srv.conf.Channel.ReadBufferSize, srv.hub.alloc)
		if _, err := srv.hub.open(t); err != nil {
			t.Close()
		}
	}
}

// Stop closes the listener, closes every connection, waits for them and
// shuts down the owned loops.
func (srv *Server) Stop(ctx context.Context) error {
	srv.mu.Lock()
	ln := srv.ln
	srv.mu.Unlock()
	if ln != nil {
		ln.Close()
		srv.lnWait.Wait()
	}
	return srv.hub.shutdown(ctx)
}
