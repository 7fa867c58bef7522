package apikey

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for API key operations.
type Metrics struct {
	lookupsTotal    *prometheus.CounterVec
	lookupDuration  prometheus.Histogram
	lifecycleTotal  *prometheus.CounterVec
	usageWriteFails prometheus.Counter
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

	m.lookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "lookups_total",
			Help:      "Total number of API key lookups by outcome",
		},
		[]string{"outcome"},
	)

	m.lookupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "lookup_duration_seconds",
			Help:      "API key lookup duration in seconds",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	m.lifecycleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "lifecycle_operations_total",
			Help:      "Total number of key lifecycle operations by kind and status",
		},
		[]string{"operation", "status"},
	)

	m.usageWriteFails = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "apikey",
			Name:      "usage_write_failures_total",
			Help:      "Total number of failed asynchronous usage writes",
		},
	)

	for _, c := range []prometheus.Collector{
		m.lookupsTotal,
		m.lookupDuration,
		m.lifecycleTotal,
		m.usageWriteFails,
	} {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return m
}

// RecordLookup records a key lookup and its duration.
func (m *Metrics) RecordLookup(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(outcome).Inc()
	m.lookupDuration.Observe(duration.Seconds())
}

// RecordLifecycle records a lifecycle operation outcome.
func (m *Metrics) RecordLifecycle(operation, status string) {
	if m == nil {
		return
	}
	m.lifecycleTotal.WithLabelValues(operation, status).Inc()
}

// RecordUsageWriteFailure records a failed asynchronous usage write.
func (m *Metrics) RecordUsageWriteFailure() {
	if m == nil {
		return
	}
	m.usageWriteFails.Inc()
}
