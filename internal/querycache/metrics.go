package querycache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the query cache.
type Metrics struct {
	hits            prometheus.Counter
	misses          prometheus.Counter
	coalesced       prometheus.Counter
	evictions       prometheus.Counter
	computeDuration prometheus.Histogram
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

	m.hits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "querycache",
		Name:      "hits_total",
		Help:      "Total number of query cache hits",
	})
	m.misses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "querycache",
		Name:      "misses_total",
		Help:      "Total number of query cache misses",
	})
	m.coalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "querycache",
		Name:      "coalesced_total",
		Help:      "Total number of callers that shared an in-flight computation",
	})
	m.evictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "querycache",
		Name:      "evictions_total",
		Help:      "Total number of entries evicted to stay within the size bound",
	})
	m.computeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "querycache",
		Name:      "compute_duration_seconds",
		Help:      "Duration of cache value computations in seconds",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	})

	for _, c := range []prometheus.Collector{
		m.hits,
		m.misses,
		m.coalesced,
		m.evictions,
		m.computeDuration,
	} {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return m
}

// RecordHit records a cache hit.
func (m *Metrics) RecordHit() {
	if m == nil {
		return
	}
	m.hits.Inc()
}

// RecordMiss records a cache miss.
func (m *Metrics) RecordMiss() {
	if m == nil {
		return
	}
	m.misses.Inc()
}

// RecordCoalesced records a caller that shared an in-flight computation.
func (m *Metrics) RecordCoalesced() {
	if m == nil {
		return
	}
	m.coalesced.Inc()
}

// RecordEviction records a size-bound eviction.
func (m *Metrics) RecordEviction() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// RecordComputeDuration records the duration of a computation.
func (m *Metrics) RecordComputeDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.computeDuration.Observe(d.Seconds())
}
