package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes per-stage call counters and latency.
type Metrics struct {
	Calls   *prometheus.CounterVec // labels: stage, outcome
	Latency *prometheus.HistogramVec
}

// NewMetrics registers the dispatcher metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botchain_stage_calls_total",
			Help: "Stage RPC invocations by outcome.",
		}, []string{"stage", "outcome"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botchain_stage_call_seconds",
			Help:    "Stage RPC latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Latency)
	}
	return m
}
