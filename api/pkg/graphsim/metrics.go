package graphsim

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the Prometheus collectors the Fetch Engine and
// Concurrency Gate update as a traversal runs: request/retry counters
// and an in-flight gauge.
type Metrics struct {
	FetchesTotal   *prometheus.CounterVec
	RetriesTotal   *prometheus.CounterVec
	CacheHitsTotal prometheus.Counter
	CacheMissTotal prometheus.Counter
	InFlight       prometheus.Gauge
}

// NewMetrics constructs a Metrics bundle and registers it against reg. If
// reg is nil, prometheus.NewRegistry() is used and the collectors are
// simply not exposed by any handler — safe for tests that only want the
// counters to increment in memory.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphsim",
			Name:      "fetches_total",
			Help:      "Total HTTP fetch attempts issued by the graph walker, labeled by resource type and outcome.",
		}, []string{"resource_type", "outcome"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "graphsim",
			Name:      "retries_total",
			Help:      "Total retry attempts, labeled by reason.",
		}, []string{"reason"}),
		CacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphsim",
			Name:      "cache_hits_total",
			Help:      "Total request cache hits across all traversals.",
		}),
		CacheMissTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "graphsim",
			Name:      "cache_misses_total",
			Help:      "Total request cache misses across all traversals.",
		}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "graphsim",
			Name:      "fetches_in_flight",
			Help:      "Number of HTTP fetches currently in flight.",
		}),
	}

	reg.MustRegister(m.FetchesTotal, m.RetriesTotal, m.CacheHitsTotal, m.CacheMissTotal, m.InFlight)
	return m
}

func (m *Metrics) observeFetch(resourceType, outcome string) {
	if m == nil {
		return
	}
	m.FetchesTotal.WithLabelValues(resourceType, outcome).Inc()
}

func (m *Metrics) observeRetry(reason string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissTotal.Inc()
	}
}

func (m *Metrics) inFlightInc() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) inFlightDec() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}
