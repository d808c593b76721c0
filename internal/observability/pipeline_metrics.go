package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ingestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetqa_ingests_total",
			Help: "Total number of spreadsheet ingests by outcome.",
		},
		[]string{"outcome"},
	)
	ingestRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sheetqa_ingest_rows_total",
			Help: "Total number of rows stored into dynamic tables.",
		},
	)
	ingestDurationMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sheetqa_ingest_duration_ms",
			Help:    "End-to-end ingest latency in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
	)
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetqa_queries_total",
			Help: "Total number of natural-language queries by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
	queryDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetqa_query_duration_ms",
			Help:    "End-to-end query latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"mode"},
	)
	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetqa_model_calls_total",
			Help: "Total number of language model calls by model and outcome.",
		},
		[]string{"model", "outcome"},
	)
	modelLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheetqa_model_latency_ms",
			Help:    "Language model call latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000, 20000, 40000},
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(
		ingestsTotal,
		ingestRowsTotal,
		ingestDurationMs,
		queriesTotal,
		queryDurationMs,
		modelCallsTotal,
		modelLatencyMs,
	)
}

func ObserveIngest(outcome string, rows int, elapsed time.Duration) {
	ingestsTotal.WithLabelValues(outcome).Inc()
	if rows > 0 {
		ingestRowsTotal.Add(float64(rows))
	}
	ingestDurationMs.Observe(float64(elapsed.Milliseconds()))
}

func ObserveQuery(mode, outcome string, elapsed time.Duration) {
	queriesTotal.WithLabelValues(mode, outcome).Inc()
	queryDurationMs.WithLabelValues(mode).Observe(float64(elapsed.Milliseconds()))
}

func ObserveModelCall(model, outcome string, elapsed time.Duration) {
	modelCallsTotal.WithLabelValues(model, outcome).Inc()
	modelLatencyMs.WithLabelValues(model).Observe(float64(elapsed.Milliseconds()))
}
