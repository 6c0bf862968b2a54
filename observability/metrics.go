// Package observability provides Prometheus metrics and OpenTelemetry tracing for
// statements, transactions and connection pools.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DBBuckets are histogram buckets for statement latencies, from 1ms to 10s.
var DBBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	// QueriesTotal counts executed statements by dialect, query type and outcome.
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequel_queries_total",
			Help: "Executed statements",
		},
		[]string{"dialect", "type", "status"},
	)

	// QueryDuration records statement duration in seconds.
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sequel_query_duration_seconds",
			Help:    "Statement duration",
			Buckets: DBBuckets,
		},
		[]string{"dialect", "type"},
	)

	// QueryRetriesTotal counts retried statements.
	QueryRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequel_query_retries_total",
			Help: "Statement retries",
		},
		[]string{"dialect"},
	)

	// TransactionsTotal counts finished transactions by outcome (commit, rollback, failed).
	TransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sequel_transactions_total",
			Help: "Finished transactions",
		},
		[]string{"dialect", "outcome"},
	)

	// PoolConnections tracks pooled connections by state (open, in_use, idle).
	PoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sequel_pool_connections",
			Help: "Pooled connections",
		},
		[]string{"dialect", "database", "state"},
	)

	// PoolWaitCount is the total number of waits for a free connection reported by the pool.
	PoolWaitCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sequel_pool_wait_count",
			Help: "Waits for a pooled connection",
		},
		[]string{"dialect", "database"},
	)
)

func init() {
	prometheus.MustRegister(
		QueriesTotal,
		QueryDuration,
		QueryRetriesTotal,
		TransactionsTotal,
		PoolConnections,
		PoolWaitCount,
	)
}

// ObserveQuery records one statement.
func ObserveQuery(dialect, queryType string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	QueriesTotal.WithLabelValues(dialect, queryType, status).Inc()
	QueryDuration.WithLabelValues(dialect, queryType).Observe(elapsed.Seconds())
}

// ObserveRetry counts one retry.
func ObserveRetry(dialect string) {
	QueryRetriesTotal.WithLabelValues(dialect).Inc()
}

// ObserveTransaction counts a finished transaction.
func ObserveTransaction(dialect, outcome string) {
	TransactionsTotal.WithLabelValues(dialect, outcome).Inc()
}

// ObservePool publishes a pool snapshot.
func ObservePool(dialect, database string, open, inUse, idle int, waitCount int64) {
	PoolConnections.WithLabelValues(dialect, database, "open").Set(float64(open))
	PoolConnections.WithLabelValues(dialect, database, "in_use").Set(float64(inUse))
	PoolConnections.WithLabelValues(dialect, database, "idle").Set(float64(idle))
	PoolWaitCount.WithLabelValues(dialect, database).Set(float64(waitCount))
}
