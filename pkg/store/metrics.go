package store

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes the store's observable counters.
type Metrics struct {
	Reads     prometheus.Counter
	Writes    prometheus.Counter
	Misses    prometheus.Counter
	Errors    prometheus.Counter
	Fallbacks prometheus.Counter
}

// NewMetrics registers the store counters on reg. Pass a fresh registry in
// tests to avoid duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Reads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botchain_conversation_store_reads_total",
			Help: "Conversation store read operations.",
		}),
		Writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botchain_conversation_store_writes_total",
			Help: "Conversation store write operations.",
		}),
		Misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botchain_conversation_store_misses_total",
			Help: "Conversation store reads that found no record.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botchain_conversation_store_errors_total",
			Help: "Conversation store backend errors.",
		}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botchain_conversation_store_fallbacks_total",
			Help: "Operations served by the in-memory fallback backend.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Reads, m.Writes, m.Misses, m.Errors, m.Fallbacks)
	}
	return m
}
