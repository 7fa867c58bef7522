package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for authentication.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	failuresTotal   *prometheus.CounterVec
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
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

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "requests_total",
			Help:      "Total number of authentication attempts by status",
		},
		[]string{"status"},
	)

	m.requestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "request_duration_seconds",
			Help:      "Authentication duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	m.failuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total number of authentication failures by reason",
		},
		[]string{"reason"},
	)

	m.cacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "cache_hits_total",
			Help:      "Total number of verification cache hits",
		},
	)

	m.cacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "cache_misses_total",
			Help:      "Total number of verification cache misses",
		},
	)

	for _, c := range []prometheus.Collector{
		m.requestsTotal,
		m.requestDuration,
		m.failuresTotal,
		m.cacheHits,
		m.cacheMisses,
	} {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return m
}

// RecordRequest records an authentication attempt and its duration.
func (m *Metrics) RecordRequest(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(status).Inc()
	m.requestDuration.Observe(duration.Seconds())
}

// RecordFailure records an authentication failure by reason.
func (m *Metrics) RecordFailure(reason string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(reason).Inc()
}

// RecordCacheHit records a verification cache hit.
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss records a verification cache miss.
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}
