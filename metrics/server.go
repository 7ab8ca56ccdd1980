package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// ServerMetrics records per-connection statistics for servers and clients.
type ServerMetrics interface {
	IncConns()
	DecConns()
	IncTotalConns()
	IncFailedConns()
	ObserveConnDuration(d time.Duration)
	AddSentBytes(n int)
	AddReceivedBytes(n int)
	IncReadErrors()
	IncWriteErrors()
	// IncCloseReason counts a connection closed for the given reason.
	IncCloseReason(reason string)
	// ObserveWriteBatch records how many buffers one transport write carried.
	ObserveWriteBatch(n int)
	Close() error
}

// Noop discards every observation.
type Noop struct{}

var _ ServerMetrics = Noop{}

func (Noop) IncConns()                         {}
func (Noop) DecConns()                         {}
func (Noop) IncTotalConns()                    {}
func (Noop) IncFailedConns()                   {}
func (Noop) ObserveConnDuration(time.Duration) {}
func (Noop) AddSentBytes(int)                  {}
func (Noop) AddReceivedBytes(int)              {}
func (Noop) IncReadErrors()                    {}
func (Noop) IncWriteErrors()                   {}
func (Noop) IncCloseReason(string)             {}
func (Noop) ObserveWriteBatch(int)             {}
func (Noop) Close() error                      { return nil }

type (
	// Server is the Prometheus backed ServerMetrics.
	Server struct {
		activeConns  Gauge
		totalConns   Counter
		connDuration Histogram

		receivedBytes Counter
		sentBytes     Counter
		writeBatch    Summary

		errors Counter
		closes Counter
	}
	// ServerMetricsConf names the vectors of a Server.
	ServerMetricsConf struct {
		Namespace string `json:",default=netpipe"`
		Subsystem string `json:",optional"`
	}
)

var _ ServerMetrics = (*Server)(nil)

// NewServerMetrics registers the connection vectors on the global
// registry. Registering the same names twice on one registry panics.
func NewServerMetrics(conf ServerMetricsConf) *Server {
	return NewServerMetricsOn(nil, conf)
}

// NewServerMetricsOn registers the connection vectors on reg, or on the
// global registry when reg is nil.
func NewServerMetricsOn(reg prom.Registerer, conf ServerMetricsConf) *Server {
	opt := func(name, help string, labels ...string) VectorOption {
		return VectorOption{
			Namespace:  conf.Namespace,
			Subsystem:  conf.Subsystem,
			Name:       name,
			Help:       help,
			Labels:     labels,
			Registerer: reg,
		}
	}
	active := opt("active_connections", "current number of active connections")
	total := opt("connections_total", "total number of connections")
	received := opt("received_bytes_total", "total bytes received")
	sent := opt("sent_bytes_total", "total bytes sent")
	errs := opt("errors_total", "total errors by type", "type") // read/write/connect
	closes := opt("closes_total", "closed connections by reason", "reason")
	return &Server{
		activeConns:   NewGauge(&active),
		totalConns:    NewCounter(&total),
		receivedBytes: NewCounter(&received),
		sentBytes:     NewCounter(&sent),
		connDuration: NewHistogram(&HistogramVecOpts{
			VectorOption: opt("connection_duration_seconds", "connection duration in seconds"),
			Buckets:      []float64{1, 10, 60, 300, 600, 1800, 3600},
		}),
		writeBatch: NewSummary(&SummaryVecOpts{
			VectorOption: opt("write_batch_buffers", "buffers per transport write"),
			Objectives:   map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}),
		errors: NewCounter(&errs),
		closes: NewCounter(&closes),
	}
}

// AddReceivedBytes implements ServerMetrics.
func (s *Server) AddReceivedBytes(n int) {
	s.receivedBytes.Add(float64(n))
}

// AddSentBytes implements ServerMetrics.
func (s *Server) AddSentBytes(n int) {
	s.sentBytes.Add(float64(n))
}

// Close unregisters every vector and returns the first failure.
func (s *Server) Close() error {
	var first error
	for _, m := range []Metrics{
		s.activeConns, s.totalConns, s.connDuration, s.receivedBytes,
		s.sentBytes, s.writeBatch, s.errors, s.closes,
	} {
		if err := m.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// DecConns implements ServerMetrics.
func (s *Server) DecConns() {
	s.activeConns.Dec()
}

// IncConns implements ServerMetrics.
func (s *Server) IncConns() {
	s.activeConns.Inc()
}

// IncFailedConns implements ServerMetrics.
func (s *Server) IncFailedConns() {
	s.errors.Inc("connect")
}

// IncReadErrors implements ServerMetrics.
func (s *Server) IncReadErrors() {
	s.errors.Inc("read")
}

// IncTotalConns implements ServerMetrics.
func (s *Server) IncTotalConns() {
	s.totalConns.Inc()
}

// IncWriteErrors implements ServerMetrics.
func (s *Server) IncWriteErrors() {
	s.errors.Inc("write")
}

// IncCloseReason implements ServerMetrics.
func (s *Server) IncCloseReason(reason string) {
	s.closes.Inc(reason)
}

// ObserveConnDuration implements ServerMetrics.
func (s *Server) ObserveConnDuration(d time.Duration) {
	s.connDuration.Observe(d.Seconds())
}

// ObserveWriteBatch implements ServerMetrics.
func (s *Server) ObserveWriteBatch(n int) {
	s.writeBatch.Observe(float64(n))
}
