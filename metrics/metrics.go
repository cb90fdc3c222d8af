// Package metrics exposes Prometheus counters and gauges describing the
// collection agent's session and per-table progress.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pbcdlcomm"

var (
	// RecordsCollected counts records successfully appended to output, per
	// table.
	RecordsCollected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "records_collected_total",
		Help:      "Total records appended to output, by table.",
	}, []string{"table"})

	// TransactionRetries counts link-level retries, by BMP5/PakCtrl
	// operation name.
	TransactionRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transaction_retries_total",
		Help:      "Total transaction retries, by operation.",
	}, []string{"op"})

	// SessionFailures counts whole-session attempts that ended in error,
	// by cause (comm, app, storage).
	SessionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_failures_total",
		Help:      "Total failed session attempts, by cause.",
	}, []string{"cause"})

	// SecondsSinceLastSuccess is a gauge updated after every successful
	// session close.
	SecondsSinceLastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "seconds_since_last_success",
		Help:      "Seconds since the last successful collection session closed.",
	})
)

func init() {
	prometheus.MustRegister(RecordsCollected, TransactionRetries, SessionFailures, SecondsSinceLastSuccess)
}

// Handler returns the /metrics HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
