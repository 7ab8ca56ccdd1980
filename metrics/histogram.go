package metrics

import (
	"errors"

	prom "github.com/prometheus/client_golang/prometheus"
)

type (
	// HistogramVecOpts describes a histogram vector.
	HistogramVecOpts struct {
		VectorOption
		Buckets     []float64
		ConstLabels map[string]string
	}
	promHistogram struct {
		histogram *prom.HistogramVec
		reg       prom.Registerer
	}
)

// NewHistogram registers a histogram vector.
func NewHistogram(conf *HistogramVecOpts) Histogram {
	if conf == nil {
		return nil
	}
	vec := prom.NewHistogramVec(prom.HistogramOpts{
		Namespace:   conf.Namespace,
		Subsystem:   conf.Subsystem,
		Name:        conf.Name,
		Help:        conf.Help,
		Buckets:     conf.Buckets,
		ConstLabels: conf.ConstLabels,
	}, conf.Labels)
	reg := conf.registerer()
	reg.MustRegister(vec)
	return &promHistogram{histogram: vec, reg: reg}
}

// Close implements Histogram.
func (p *promHistogram) Close() error {
	if p.reg.Unregister(p.histogram) {
		return nil
	}
	return errors.New("metrics: failed to unregister histogram")
}

// Observe implements Histogram.
func (p *promHistogram) Observe(value float64, labels ...string) {
	update(func() {
		p.histogram.WithLabelValues(labels...).Observe(value)
	})
}

var _ Histogram = (*promHistogram)(nil)
