package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetqa_reconcile_runs_total",
			Help: "Total number of reconcile runs by status.",
		},
		[]string{"status"},
	)
	reconcileTablesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sheetqa_reconcile_tables_dropped_total",
			Help: "Total number of dynamic tables dropped by the reconciler, by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(reconcileRunsTotal, reconcileTablesDroppedTotal)
}

func observeRun(summary Summary) {
	status := "ok"
	if summary.Failures > 0 {
		status = "error"
	}
	reconcileRunsTotal.WithLabelValues(status).Inc()
	reconcileTablesDroppedTotal.WithLabelValues("stale").Add(float64(summary.StaleRecovered))
	reconcileTablesDroppedTotal.WithLabelValues("dropped").Add(float64(summary.DroppedCleared))
	reconcileTablesDroppedTotal.WithLabelValues("orphan").Add(float64(summary.OrphansDropped))
}
