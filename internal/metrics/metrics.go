package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Ingress metrics
	Clicks       *prometheus.CounterVec
	UnknownCodes prometheus.Counter
	Conversions  *prometheus.CounterVec
	Revenue      prometheus.Counter

	// Recompute pipeline metrics
	Recomputes        *prometheus.CounterVec
	RecomputesDropped prometheus.Counter
	RecomputeLatency  prometheus.Histogram

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Clicks: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "clicks_total",
				Help:      "Total clicks recorded through tracked links",
			},
			[]string{"device_type"},
		),
		UnknownCodes: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unknown_link_codes_total",
				Help:      "Tracking requests rejected because the link code did not resolve",
			},
		),
		Conversions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversions_total",
				Help:      "Total conversion postbacks recorded",
			},
			[]string{"status"},
		),
		Revenue: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "revenue_total",
				Help:      "Sum of completed conversion amounts",
			},
		),
		Recomputes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recomputes_total",
				Help:      "Dashboard recomputations triggered by change notifications",
			},
			[]string{"table"},
		),
		RecomputesDropped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recomputes_dropped_total",
				Help:      "Recomputations superseded by a newer notification before finishing",
			},
		),
		RecomputeLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recompute_latency_seconds",
				Help:      "Dashboard recomputation latency in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		HTTPRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by path and status",
			},
			[]string{"path", "status"},
		),
		HTTPLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_latency_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"path"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),
	}
}

// RecordClick increments the click counter for a device type.
func (m *Metrics) RecordClick(deviceType string) {
	if m == nil {
		return
	}
	m.Clicks.WithLabelValues(deviceType).Inc()
}

// RecordConversion increments the conversion counter and, for completed
// conversions, adds the amount to the revenue counter.
func (m *Metrics) RecordConversion(status string, amount float64) {
	if m == nil {
		return
	}
	m.Conversions.WithLabelValues(status).Inc()
	if status == "completed" {
		m.Revenue.Add(amount)
	}
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
