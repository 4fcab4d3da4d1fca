package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"datanerd/internal/cache"
)

// Metrics holds the surface's prometheus collectors on a private registry,
// so parallel test servers never fight over the default one.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics builds the collectors. Cache hit and miss counts are exported
// as gauge functions straight off the cache's own counters.
func NewMetrics(qc *cache.Cache) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datanerd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method, and status code.",
		}, []string{"route", "method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datanerd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "datanerd",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Query cache hits.",
	}, func() float64 { return float64(qc.Stats().Hits) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "datanerd",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Query cache misses.",
	}, func() float64 { return float64(qc.Stats().Misses) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "datanerd",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Query cache resident entries.",
	}, func() float64 { return float64(qc.Stats().Size) })

	return m
}

// Gatherer exposes the registry for the promhttp handler.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.registry }

func (m *Metrics) observe(route, method, status string, seconds float64) {
	m.requests.WithLabelValues(route, method, status).Inc()
	m.duration.WithLabelValues(route).Observe(seconds)
}
