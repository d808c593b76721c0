package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetqa_http_requests_total",
			Help: "HTTP requests by route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetqa_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route"},
	)
	httpRequestBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetqa_http_request_bytes",
			Help:    "Declared request body size by route pattern.",
			Buckets: prometheus.ExponentialBuckets(256, 4, 9),
		},
		[]string{"route"},
	)
	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sheetqa_http_in_flight_requests",
			Help: "HTTP requests currently being served.",
		},
	)
	authFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetqa_auth_failures_total",
			Help: "Rejected requests by failure reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestBytes,
		httpInFlight,
		authFailuresTotal,
	)
}

// ObserveAuthFailure counts a rejected credential. reason is one of missing,
// expired or invalid.
func ObserveAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}
