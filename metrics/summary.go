package metrics

import (
	"errors"

	prom "github.com/prometheus/client_golang/prometheus"
)

type (
	// SummaryVecOpts describes a summary vector.
	SummaryVecOpts struct {
		VectorOption
		Objectives map[float64]float64
	}
	promSummary struct {
		summary *prom.SummaryVec
		reg     prom.Registerer
	}
)

var _ Summary = (*promSummary)(nil)

// NewSummary registers a summary vector.
func NewSummary(conf *SummaryVecOpts) Summary {
	if conf == nil {
		return nil
	}
	vec := prom.NewSummaryVec(prom.SummaryOpts{
		Namespace:  conf.Namespace,
		Subsystem:  conf.Subsystem,
		Name:       conf.Name,
		Help:       conf.Help,
		Objectives: conf.Objectives,
	}, conf.Labels)
	reg := conf.registerer()
	reg.MustRegister(vec)
	return &promSummary{summary: vec, reg: reg}
}

// Close implements Summary.
func (p *promSummary) Close() error {
	if p.reg.Unregister(p.summary) {
		return nil
	}
	return errors.New("metrics: failed to unregister summary")
}

// Observe implements Summary.
func (p *promSummary) Observe(value float64, labels ...string) {
	update(func() {
		p.summary.WithLabelValues(labels...).Observe(value)
	})
}
