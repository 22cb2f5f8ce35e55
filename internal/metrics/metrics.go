// Package metrics provides the Prometheus metrics sink.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Collector implements domain.MetricsSink on a private Prometheus
// registry, so parallel engine instances in tests never collide on
// metric registration.
type Collector struct {
	registry *prometheus.Registry

	evaluations   *prometheus.CounterVec
	riskScores    prometheus.Histogram
	duration      prometheus.Histogram
	scorerOutages prometheus.Counter
	duplicates    prometheus.Counter
}

// NewCollector creates a collector with its own registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		evaluations: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "kestrel_evaluations_total",
			Help: "Total risk evaluations by decision",
		}, []string{"decision"}),
		riskScores: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_overall_risk",
			Help:    "Distribution of fused overall risk scores",
			Buckets: []float64{0, 20, 40, 60, 80, 100},
		}),
		duration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "kestrel_evaluation_duration_seconds",
			Help:    "Time taken to evaluate one transaction",
			Buckets: prometheus.DefBuckets,
		}),
		scorerOutages: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "kestrel_scorer_outages_total",
			Help: "External risk scorer timeouts and failures",
		}),
		duplicates: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "kestrel_duplicates_total",
			Help: "Transactions rejected as duplicates",
		}),
	}
}

// RecordEvaluation implements domain.MetricsSink.
func (c *Collector) RecordEvaluation(decision domain.Decision, overallRisk int, duration time.Duration) {
	c.evaluations.WithLabelValues(string(decision)).Inc()
	c.riskScores.Observe(float64(overallRisk))
	c.duration.Observe(duration.Seconds())
}

// RecordScorerOutage implements domain.MetricsSink.
func (c *Collector) RecordScorerOutage() {
	c.scorerOutages.Inc()
}

// RecordDuplicate implements domain.MetricsSink.
func (c *Collector) RecordDuplicate() {
	c.duplicates.Inc()
}

// Handler serves the registry for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
