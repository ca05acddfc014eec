// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Deposit metrics
	DepositsTotal       *prometheus.CounterVec
	DepositValueTotal   prometheus.Counter
	SharesMintedTotal   prometheus.Counter
	DepositStageLatency *prometheus.HistogramVec
	DepositAttempts     prometheus.Histogram
	Compensations       *prometheus.CounterVec

	// Pool metrics
	PoolsInitialized *prometheus.CounterVec

	// Oracle metrics
	OracleFetchLatency *prometheus.HistogramVec
	OracleRejections   *prometheus.CounterVec
	OracleQuoteAge     prometheus.Histogram

	// Ledger metrics
	LedgerCallLatency *prometheus.HistogramVec

	// Lock metrics
	LockWait     prometheus.Histogram
	LockTimeouts prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Best-effort side effects
	EventsPublished *prometheus.CounterVec

	// Health metrics
	LastSuccessfulDeposit prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "liquidity_pool"
	}

	return &Metrics{
		DepositsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "total",
			Help:      "Total number of deposits by outcome",
		}, []string{"status"}),
		DepositValueTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "value_total",
			Help:      "Sum of committed deposit values in 6-decimal value units",
		}),
		SharesMintedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "shares_minted_total",
			Help:      "Sum of LP shares minted by committed deposits",
		}),
		DepositStageLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "stage_latency_seconds",
			Help:      "Deposit stage latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		DepositAttempts: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "attempts",
			Help:      "Attempts needed per deposit, including version conflict retries",
			Buckets:   []float64{1, 2, 3, 4},
		}),
		Compensations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposit",
			Name:      "compensations_total",
			Help:      "Compensating ledger operations by step and outcome",
		}, []string{"step", "status"}),

		PoolsInitialized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "initialized_total",
			Help:      "Pool initialization attempts by outcome",
		}, []string{"status"}),

		OracleFetchLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "fetch_latency_seconds",
			Help:      "Price fetch latency in seconds by source",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		OracleRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "rejections_total",
			Help:      "Price quotes rejected by reason",
		}, []string{"reason"}),
		OracleQuoteAge: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "oracle",
			Name:      "quote_age_seconds",
			Help:      "Age of accepted price quotes in seconds",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 30, 45, 60},
		}),

		LedgerCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "call_latency_seconds",
			Help:      "Token ledger call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		LockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting for a pool lock",
			Buckets:   prometheus.DefBuckets,
		}),
		LockTimeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "lock",
			Name:      "timeouts_total",
			Help:      "Pool lock acquisitions that timed out",
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Deposit events published by outcome",
		}, []string{"status"}),

		LastSuccessfulDeposit: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_deposit_timestamp",
			Help:      "Unix timestamp of last committed deposit",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordDeposit records a finished deposit.
func RecordDeposit(status string, value, shares uint64, attempts int) {
	DefaultMetrics.DepositsTotal.WithLabelValues(status).Inc()
	if attempts > 0 {
		DefaultMetrics.DepositAttempts.Observe(float64(attempts))
	}
	if status != "ok" {
		return
	}
	DefaultMetrics.DepositValueTotal.Add(float64(value))
	DefaultMetrics.SharesMintedTotal.Add(float64(shares))
	DefaultMetrics.LastSuccessfulDeposit.Set(float64(time.Now().Unix()))
}

// RecordStage records the latency of one deposit stage.
func RecordStage(stage string, d time.Duration) {
	DefaultMetrics.DepositStageLatency.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordCompensation records a compensating ledger operation.
func RecordCompensation(step string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.Compensations.WithLabelValues(step, status).Inc()
}

// RecordPoolInitialized records a pool initialization attempt.
func RecordPoolInitialized(status string) {
	DefaultMetrics.PoolsInitialized.WithLabelValues(status).Inc()
}

// RecordOracleFetch records price fetch latency.
func RecordOracleFetch(source string, d time.Duration) {
	DefaultMetrics.OracleFetchLatency.WithLabelValues(source).Observe(d.Seconds())
}

// RecordOracleRejection records a rejected quote.
func RecordOracleRejection(reason string) {
	DefaultMetrics.OracleRejections.WithLabelValues(reason).Inc()
}

// RecordQuoteAge records the age of an accepted quote.
func RecordQuoteAge(seconds int64) {
	if seconds < 0 {
		seconds = 0
	}
	DefaultMetrics.OracleQuoteAge.Observe(float64(seconds))
}

// RecordLedgerCall records token ledger call latency.
func RecordLedgerCall(method string, d time.Duration) {
	DefaultMetrics.LedgerCallLatency.WithLabelValues(method).Observe(d.Seconds())
}

// RecordLockWait records time spent acquiring a pool lock.
func RecordLockWait(d time.Duration, timedOut bool) {
	DefaultMetrics.LockWait.Observe(d.Seconds())
	if timedOut {
		DefaultMetrics.LockTimeouts.Inc()
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordEventPublished records a deposit event publish attempt.
func RecordEventPublished(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	DefaultMetrics.EventsPublished.WithLabelValues(status).Inc()
}
