// Copyright IBM Corp. 2020, 2025
// SPDX-License-Identifier: MPL-2.0

package caa

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Step outcomes.
const (
	OutcomeSuccess            = "success"
	OutcomeError              = "error"
	OutcomeConnectionRequired = "connection_required"
)

// Metrics counts chain steps by resource, kind and outcome, and times them
// by kind.
type Metrics struct {
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the chain metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	const op = "caa.NewMetrics"
	if reg == nil {
		return nil, fmt.Errorf("%s: registerer is nil: %w", op, ErrNilParameter)
	}
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caa_steps_total",
			Help: "Cross app access chain steps run, by resource, kind and outcome.",
		}, []string{"resource", "kind", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caa_step_duration_seconds",
			Help:    "Time taken by cross app access chain steps, by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
	}
	for _, c := range []prometheus.Collector{m.steps, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	return m, nil
}

func (m *Metrics) observe(resource string, kind Kind, outcome string, d time.Duration) {
	m.steps.WithLabelValues(resource, string(kind), outcome).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(d.Seconds())
}
