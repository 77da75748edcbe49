package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundrygw_requests_total",
			Help: "Total number of requests processed",
		},
		[]string{"route", "model", "resource", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "foundrygw_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"route", "model", "resource"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundrygw_tokens_total",
			Help: "Total number of tokens processed",
		},
		[]string{"route", "model", "resource", "type"},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundrygw_upstream_errors_total",
			Help: "Total number of upstream errors",
		},
		[]string{"resource", "error_type"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "foundrygw_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"user"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "foundrygw_active_streams",
			Help: "Number of active streaming connections",
		},
	)
)

func RecordRequest(route, model, resource, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(route, model, resource, status).Inc()
	RequestDuration.WithLabelValues(route, model, resource).Observe(durationSec)
}

func RecordTokens(route, model, resource string, promptTokens, completionTokens int) {
	TokensTotal.WithLabelValues(route, model, resource, "prompt").Add(float64(promptTokens))
	TokensTotal.WithLabelValues(route, model, resource, "completion").Add(float64(completionTokens))
}

func RecordUpstreamError(resource, errorType string) {
	UpstreamErrors.WithLabelValues(resource, errorType).Inc()
}

func RecordRateLimitHit(user string) {
	RateLimitHits.WithLabelValues(user).Inc()
}

func IncrementActiveStreams() {
	ActiveStreams.Inc()
}

func DecrementActiveStreams() {
	ActiveStreams.Dec()
}
