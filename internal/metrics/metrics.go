// Package metrics provides Prometheus instrumentation for the ClearlyDefined
// request manager.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcome label values.
const (
	OutcomeSuccess     = "success"
	OutcomeAbsent      = "absent"
	OutcomeRateLimited = "rate_limited"
	OutcomeServerError = "server_error"
	OutcomeTransport   = "transport"
	OutcomeExhausted   = "attempts_exhausted"
)

// Cache hit kind label values.
const (
	CacheHitPositive = "positive"
	CacheHitNegative = "negative"
)

// Metrics contains the Prometheus metrics for the request manager.
type Metrics struct {
	// RequestsTotal counts processed responses by outcome.
	RequestsTotal *prometheus.CounterVec
	// RequeuesTotal counts requests that went back to the queue tail.
	RequeuesTotal prometheus.Counter
	// RateLimitWaitSeconds observes coordinator waits for rate-limit resets.
	RateLimitWaitSeconds prometheus.Histogram
	// QueueDepth tracks the number of pending requests.
	QueueDepth prometheus.Gauge
	// InFlight tracks the number of requests currently held by workers.
	InFlight prometheus.Gauge
	// CacheHitsTotal counts synchronous cache hits on submit by kind.
	CacheHitsTotal *prometheus.CounterVec
}

// New creates and registers the metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbomgen_clearlydefined_requests_total",
				Help: "Processed ClearlyDefined responses by outcome",
			},
			[]string{"outcome"},
		),
		RequeuesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "sbomgen_clearlydefined_requeues_total",
				Help: "Requests appended back to the queue tail for retry",
			},
		),
		RateLimitWaitSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sbomgen_clearlydefined_rate_limit_wait_seconds",
				Help:    "Time the coordinator waits for rate-limit resets",
				Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sbomgen_clearlydefined_queue_depth",
				Help: "Number of pending ClearlyDefined requests",
			},
		),
		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sbomgen_clearlydefined_in_flight",
				Help: "Number of requests currently held by workers",
			},
		),
		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sbomgen_clearlydefined_cache_hits_total",
				Help: "Synchronous cache hits on submit by kind",
			},
			[]string{"kind"},
		),
	}
}

// NewNop creates metrics that are not exposed anywhere. Used when no
// registerer is provided.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
