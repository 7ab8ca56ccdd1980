package metrics

import (
	"errors"

	prom "github.com/prometheus/client_golang/prometheus"
)

type promCounter struct {
	counter *prom.CounterVec
	reg     prom.Registerer
}

var _ Counter = (*promCounter)(nil)

// NewCounter registers a counter vector.
func NewCounter(conf *VectorOption) Counter {
	if conf == nil {
		return nil
	}
	vec := prom.NewCounterVec(prom.CounterOpts{
		Namespace: conf.Namespace,
		Subsystem: conf.Subsystem,
		Name:      conf.Name,
		Help:      conf.Help,
	}, conf.Labels)
	reg := conf.registerer()
	reg.MustRegister(vec)
	return &promCounter{counter: vec, reg: reg}
}

// Add implements Counter.
func (p *promCounter) Add(delta float64, labels ...string) {
	update(func() {
		p.counter.WithLabelValues(labels...).Add(delta)
	})
}

// Close implements Counter.
func (p *promCounter) Close() error {
	if p.reg.Unregister(p.counter) {
		return nil
	}
	return errors.New("metrics: failed to unregister counter")
}

// Inc implements Counter.
func (p *promCounter) Inc(labels ...string) {
	update(func() {
		p.counter.WithLabelValues(labels...).Inc()
	})
}
