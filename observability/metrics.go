package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Gate metrics
	GateDecisionsTotal *prometheus.CounterVec
	GateDuration       *prometheus.HistogramVec

	// Challenge metrics
	ChallengesIssuedTotal   prometheus.Counter
	ChallengesConsumedTotal *prometheus.CounterVec

	// Custody metrics
	HashDuration        *prometheus.HistogramVec
	WalletsTotal        *prometheus.CounterVec
	SeedDecryptFailures prometheus.Counter

	// Multisig metrics
	MultisigAssetsTotal    *prometheus.CounterVec
	MultisigApprovalsTotal *prometheus.CounterVec
	TransactionTransitions *prometheus.CounterVec

	// External API metrics
	ExternalAPIRequestsTotal *prometheus.CounterVec
	ExternalAPIErrorsTotal   *prometheus.CounterVec
	ExternalAPIDuration      *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryTotal    *prometheus.CounterVec
	DBErrorsTotal   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec
}

// defaultBuckets are the default histogram buckets for duration metrics (in seconds)
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

// hashBuckets cover memory-hard hashing, which is deliberately slow
var hashBuckets = []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8}

// globalMetrics is the global metrics instance
var globalMetrics *Metrics

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	m := &Metrics{
		// Gate metrics
		GateDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "gate",
				Name:      "decisions_total",
				Help:      "Total number of request gate decisions by outcome and error code",
			},
			[]string{"outcome", "error_code"},
		),
		GateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wallet_custody",
				Subsystem: "gate",
				Name:      "duration_seconds",
				Help:      "Duration of request gate evaluation in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"outcome"},
		),

		// Challenge metrics
		ChallengesIssuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "challenge",
				Name:      "issued_total",
				Help:      "Total number of signature challenges issued",
			},
		),
		ChallengesConsumedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "challenge",
				Name:      "consumed_total",
				Help:      "Total number of challenge consumption attempts by result",
			},
			[]string{"result"},
		),

		// Custody metrics
		HashDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wallet_custody",
				Subsystem: "custody",
				Name:      "hash_duration_seconds",
				Help:      "Duration of memory-hard hash computations in seconds",
				Buckets:   hashBuckets,
			},
			[]string{"operation"},
		),
		WalletsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "custody",
				Name:      "wallets_total",
				Help:      "Total number of wallet create/import outcomes",
			},
			[]string{"source", "result"},
		),
		SeedDecryptFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "custody",
				Name:      "seed_decrypt_failures_total",
				Help:      "Total number of seed envelopes that could not be decrypted",
			},
		),

		// Multisig metrics
		MultisigAssetsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "multisig",
				Name:      "assets_total",
				Help:      "Total number of multisig createOrGet calls by result",
			},
			[]string{"result"},
		),
		MultisigApprovalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "multisig",
				Name:      "approvals_total",
				Help:      "Total number of participant approvals by result",
			},
			[]string{"result"},
		),
		TransactionTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "multisig",
				Name:      "transaction_transitions_total",
				Help:      "Total number of transaction status transitions",
			},
			[]string{"to"},
		),

		// External API metrics
		ExternalAPIRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "external_api",
				Name:      "requests_total",
				Help:      "Total number of external API requests",
			},
			[]string{"service", "operation"},
		),
		ExternalAPIErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "external_api",
				Name:      "errors_total",
				Help:      "Total number of external API errors",
			},
			[]string{"service", "operation", "error_type"},
		),
		ExternalAPIDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wallet_custody",
				Subsystem: "external_api",
				Name:      "duration_seconds",
				Help:      "Duration of external API calls in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"service", "operation"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wallet_custody",
				Subsystem: "database",
				Name:      "query_duration_seconds",
				Help:      "Duration of database queries in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"operation", "table"},
		),
		DBQueryTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "database",
				Name:      "queries_total",
				Help:      "Total number of database queries",
			},
			[]string{"operation", "table"},
		),
		DBErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "database",
				Name:      "errors_total",
				Help:      "Total number of database errors",
			},
			[]string{"operation", "table"},
		),

		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wallet_custody",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   defaultBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "wallet_custody",
				Subsystem: "http",
				Name:      "response_size_bytes",
				Help:      "Size of HTTP responses in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		// Circuit breaker metrics
		CircuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "wallet_custody",
				Subsystem: "circuit_breaker",
				Name:      "state",
				Help:      "Current state of circuit breakers (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),
		CircuitBreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "wallet_custody",
				Subsystem: "circuit_breaker",
				Name:      "trips_total",
				Help:      "Total number of circuit breaker trips",
			},
			[]string{"service"},
		),
	}

	return m
}

// InitMetrics initializes the global metrics instance
func InitMetrics() *Metrics {
	globalMetrics = NewMetrics(nil)
	return globalMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	if globalMetrics == nil {
		return InitMetrics()
	}
	return globalMetrics
}

// RecordGateDecision records a request gate outcome
func (m *Metrics) RecordGateDecision(outcome, errorCode string, duration time.Duration) {
	m.GateDecisionsTotal.WithLabelValues(outcome, errorCode).Inc()
	m.GateDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordChallengeIssued records an issued challenge
func (m *Metrics) RecordChallengeIssued() {
	m.ChallengesIssuedTotal.Inc()
}

// RecordChallengeConsumed records a consume attempt; result is "ok" or an error code
func (m *Metrics) RecordChallengeConsumed(result string) {
	m.ChallengesConsumedTotal.WithLabelValues(result).Inc()
}

// RecordHashDuration records a memory-hard hash computation
func (m *Metrics) RecordHashDuration(operation string, duration time.Duration) {
	m.HashDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordWallet records a wallet create or import outcome
func (m *Metrics) RecordWallet(source, result string) {
	m.WalletsTotal.WithLabelValues(source, result).Inc()
}

// RecordSeedDecryptFailure records a seed envelope that could not be opened
func (m *Metrics) RecordSeedDecryptFailure() {
	m.SeedDecryptFailures.Inc()
}

// RecordMultisigAsset records a createOrGet result ("created" or "existing")
func (m *Metrics) RecordMultisigAsset(result string) {
	m.MultisigAssetsTotal.WithLabelValues(result).Inc()
}

// RecordMultisigApproval records an approval ("applied" or "noop")
func (m *Metrics) RecordMultisigApproval(result string) {
	m.MultisigApprovalsTotal.WithLabelValues(result).Inc()
}

// RecordTransactionTransition records a transaction entering a new status
func (m *Metrics) RecordTransactionTransition(to string) {
	m.TransactionTransitions.WithLabelValues(to).Inc()
}

// RecordExternalAPIRequest records an external API request
func (m *Metrics) RecordExternalAPIRequest(service, operation string) {
	m.ExternalAPIRequestsTotal.WithLabelValues(service, operation).Inc()
}

// RecordExternalAPIError records an external API error
func (m *Metrics) RecordExternalAPIError(service, operation, errorType string) {
	m.ExternalAPIErrorsTotal.WithLabelValues(service, operation, errorType).Inc()
}

// RecordExternalAPIDuration records the duration of an external API call
func (m *Metrics) RecordExternalAPIDuration(service, operation string, duration time.Duration) {
	m.ExternalAPIDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordDBQuery records a database query
func (m *Metrics) RecordDBQuery(operation, table string, duration time.Duration) {
	m.DBQueryTotal.WithLabelValues(operation, table).Inc()
	m.DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordDBError records a database error
func (m *Metrics) RecordDBError(operation, table string) {
	m.DBErrorsTotal.WithLabelValues(operation, table).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, statusCode string, duration time.Duration, responseSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// SetCircuitBreakerState sets the current state of a circuit breaker
func (m *Metrics) SetCircuitBreakerState(service string, state int) {
	m.CircuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordCircuitBreakerTrip records a circuit breaker trip
func (m *Metrics) RecordCircuitBreakerTrip(service string) {
	m.CircuitBreakerTrips.WithLabelValues(service).Inc()
}

// Timer is a helper for timing operations
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func (m *Metrics) NewTimer() *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: m,
	}
}

// ObserveGate records the gate duration and outcome
func (t *Timer) ObserveGate(outcome, errorCode string) {
	t.metrics.RecordGateDecision(outcome, errorCode, time.Since(t.start))
}

// ObserveHash records a hash computation duration
func (t *Timer) ObserveHash(operation string) {
	t.metrics.RecordHashDuration(operation, time.Since(t.start))
}

// ObserveExternalAPI records the external API duration
func (t *Timer) ObserveExternalAPI(service, operation string) {
	t.metrics.RecordExternalAPIDuration(service, operation, time.Since(t.start))
}

// ObserveDB records the database query duration
func (t *Timer) ObserveDB(operation, table string) {
	t.metrics.RecordDBQuery(operation, table, time.Since(t.start))
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
