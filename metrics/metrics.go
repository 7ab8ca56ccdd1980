// Package metrics exposes connection statistics as Prometheus vectors.
//
// Vectors only record while collection is enabled (see Enable and Serve),
// so instrumented code pays nothing when metrics are off.
package metrics

import (
	"sync/atomic"

	prom "github.com/prometheus/client_golang/prometheus"
)

var enabled atomic.Bool

type (
	// VectorOption describes a metric vector.
	VectorOption struct {
		Namespace string
		Subsystem string
		Name      string
		Help      string
		Labels    []string
		// Registerer defaults to the global Prometheus registry.
		Registerer prom.Registerer
	}
	// Metrics is implemented by every vector.
	Metrics interface {
		// Close unregisters the vector.
		Close() error
	}
	Counter interface {
		Metrics
		Inc(labels ...string)
		Add(delta float64, labels ...string)
	}
	Gauge interface {
		Metrics
		Set(value float64, labels ...string)
		Inc(labels ...string)
		Dec(labels ...string)
		Add(delta float64, labels ...string)
		Sub(delta float64, labels ...string)
	}
	Histogram interface {
		Metrics
		Observe(value float64, labels ...string)
	}
	Summary interface {
		Metrics
		Observe(value float64, labels ...string)
	}
)

// Enabled reports whether vectors record observations.
func Enabled() bool {
	return enabled.Load()
}

// Enable turns recording on or off.
func Enable(on bool) {
	enabled.Store(on)
}

func (o *VectorOption) registerer() prom.Registerer {
	if o.Registerer != nil {
		return o.Registerer
	}
	return prom.DefaultRegisterer
}

func update(fn func()) {
	if !Enabled() {
		return
	}
	fn()
}
