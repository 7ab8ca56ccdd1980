package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/czx-lab/netpipe/buffer"
	"github.com/czx-lab/netpipe/channel"
	"github.com/czx-lab/netpipe/eventloop"
	"github.com/czx-lab/netpipe/metrics"
	"github.com/czx-lab/netpipe/pipeline"
)

// WsServer upgrades http requests on Path and runs each websocket as a
// channel.
type WsServer struct {
	conf     WsServerConf
	hub      *hub
	upgrader websocket.Upgrader
	mu       sync.Mutex
	srv      *http.Server
	ln       net.Listener
	serving  sync.WaitGroup
}

// NewWsServer builds a websocket server whose channels are set up by init.
func NewWsServer(conf WsServerConf, init pipeline.Initializer) (*WsServer, error) {
	defaultWsServerConf(&conf)
	h, err := newHub("ws", conf.MaxConn, conf.Channel, conf.Loops, conf.Metrics, init)
	if err != nil {
		return nil, err
	}
	return &WsServer{
		conf: conf,
		hub:  h,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: conf.Timeout,
			// origins are not checked
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}, nil
}

// WithMetrics replaces the metrics sink. Call before Start.
func (s *WsServer) WithMetrics(m metrics.ServerMetrics) *WsServer {
	if m != nil {
		s.hub.metrics = m
	}
	return s
}

// WithAllocator sets the allocator handlers use.
func (s *WsServer) WithAllocator(a buffer.Allocator) *WsServer {
	if a != nil {
		s.hub.alloc = a
	}
	return s
}

// WithGroup runs the channels on g instead of an owned group.
func (s *WsServer) WithGroup(g *eventloop.Group) *WsServer {
	s.hub.useGroup(g)
	return s
}

// ServeHTTP upgrades the request and registers the channel. It returns
// once the channel is handed to its loop.
func (s *WsServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied
		s.hub.metrics.IncFailedConns()
		s.hub.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	t := channel.NewWebsocketTransport(ws, s.conf.ReadLimit)
	if _, err := s.hub.open(t); err != nil {
		t.Close()
	}
}

// Handler returns a router serving the upgrade on GET Path.
func (s *WsServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(s.conf.Path, s.ServeHTTP)
	return r
}

// Start listens and serves in the background, over TLS when a certificate
// is configured.
func (s *WsServer) Start() error {
	ln, err := net.Listen("tcp", s.conf.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    s.conf.Timeout,
		WriteTimeout:   s.conf.Timeout,
		MaxHeaderBytes: 1 << 20,
	}
	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	tls := s.conf.CertFile != "" || s.conf.KeyFile != ""
	s.hub.logger.Info("websocket server listening", zap.Stringer("addr", ln.Addr()), zap.String("path", s.conf.Path), zap.Bool("tls", tls))
	s.serving.Add(1)
	go func() {
		defer s.serving.Done()
		var err error
		if tls {
			err = srv.ServeTLS(ln, s.conf.CertFile, s.conf.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.hub.logger.Error("websocket serve", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the listen address, nil before Start.
func (s *WsServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Len counts live connections.
func (s *WsServer) Len() int {
	return s.hub.Len()
}

// Stop stops accepting upgrades, closes every channel and shuts down the
// owned loops. Hijacked websocket connections are not tracked by the http
// server, so they are closed through their channels.
func (s *WsServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
		s.serving.Wait()
	}
	return errors.Join(err, s.hub.shutdown(ctx))
}
