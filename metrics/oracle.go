package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// OracleMetrics instruments the reconciliation engine.
type OracleMetrics struct {
	// Counts of completed reconciliation cycles.
	CycleCounts prometheus.Counter

	// Counts of divergent names detected, per cycle outcome.
	DiffCounts prometheus.Counter

	// Counts of submitted registry transactions, partitioned by status.
	SubmissionCounts *prometheus.CounterVec

	// Counts of retried RPC operations, partitioned by operation label.
	RetryCounts *prometheus.CounterVec

	// Latencies of full reconciliation cycles.
	CycleLatencies prometheus.Histogram
}

// NewDefaultOracleMetrics creates Prometheus metric instrumentation for the
// reconciliation engine. Metrics are registered with the default registry.
func NewDefaultOracleMetrics(pkg string) OracleMetrics {
	metrics := OracleMetrics{
		CycleCounts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_cycles", pkg),
				Help: "How many reconciliation cycles have completed.",
			},
		),
		DiffCounts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_diffs", pkg),
				Help: "How many divergent names were detected.",
			},
		),
		SubmissionCounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_submissions", pkg),
				Help: "How many registry transactions were submitted, partitioned by status.",
			},
			[]string{"status"},
		),
		RetryCounts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_retries", pkg),
				Help: "How many RPC operations were retried, partitioned by operation.",
			},
			[]string{"operation"},
		),
		CycleLatencies: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name: fmt.Sprintf("%s_cycle_latencies", pkg),
				Help: "How long reconciliation cycles take to complete.",
			},
		),
	}
	metrics.register()
	return metrics
}

func (m *OracleMetrics) register() {
	prometheus.MustRegister(m.CycleCounts)
	prometheus.MustRegister(m.DiffCounts)
	prometheus.MustRegister(m.SubmissionCounts)
	prometheus.MustRegister(m.RetryCounts)
	prometheus.MustRegister(m.CycleLatencies)
}
