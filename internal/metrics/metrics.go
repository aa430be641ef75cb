package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	postings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger_core",
			Subsystem: "ledger",
			Name:      "postings_total",
			Help:      "Total number of posting attempts by outcome.",
		},
		[]string{"status"},
	)

	postingDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ledger_core",
			Subsystem: "ledger",
			Name:      "posting_duration_seconds",
			Help:      "Duration of committed postings.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	reconciliations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ledger_core",
			Subsystem: "shift",
			Name:      "reconciliations_total",
			Help:      "Total number of shifts reconciled into the ledger.",
		},
	)

	balanceDrift = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ledger_core",
			Subsystem: "audit",
			Name:      "balance_drift",
			Help:      "Cached balance minus replayed balance per account code.",
		},
		[]string{"code"},
	)
)

func init() {
	Registry.MustRegister(postings, postingDuration, reconciliations, balanceDrift)
}

// Handler serves the registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObservePosting records one posting attempt and, for committed ones,
// its duration.
func ObservePosting(status string, d time.Duration) {
	postings.WithLabelValues(status).Inc()
	if status == "posted" {
		postingDuration.Observe(d.Seconds())
	}
}

// IncReconciliation counts one completed shift reconciliation.
func IncReconciliation() {
	reconciliations.Inc()
}

// SetBalanceDrift exports the audit drift for one account.
func SetBalanceDrift(code string, drift float64) {
	balanceDrift.WithLabelValues(code).Set(drift)
}
