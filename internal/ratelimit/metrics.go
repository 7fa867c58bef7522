package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for rate limiting.
type Metrics struct {
	decisionsTotal *prometheus.CounterVec
	failOpenTotal  prometheus.Counter
	localDrops     prometheus.Counter
}

// NewMetrics creates a new Metrics instance registered with
// prometheus.DefaultRegisterer.
func NewMetrics(namespace string) *Metrics {
	return NewMetricsWithRegisterer(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsWithRegisterer creates a new Metrics instance with a custom
// registerer. Useful for tests where a private registry is preferred.
func NewMetricsWithRegisterer(namespace string, registerer prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "telemetrygw"
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{}

	m.decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total number of rate limit decisions by outcome",
		},
		[]string{"outcome"},
	)

	m.failOpenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "fail_open_total",
			Help:      "Total number of requests allowed because the counter store was unreachable",
		},
	)

	m.localDrops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "local_drops_total",
			Help:      "Total number of requests shed by the per-instance limiter",
		},
	)

	for _, c := range []prometheus.Collector{
		m.decisionsTotal,
		m.failOpenTotal,
		m.localDrops,
	} {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return m
}

// RecordDecision records a rate limit decision outcome.
func (m *Metrics) RecordDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(outcome).Inc()
}

// RecordFailOpen records a fail-open allowance.
func (m *Metrics) RecordFailOpen() {
	if m == nil {
		return
	}
	m.failOpenTotal.Inc()
}

// RecordLocalDrop records a request shed by the per-instance limiter.
func (m *Metrics) RecordLocalDrop() {
	if m == nil {
		return
	}
	m.localDrops.Inc()
}
