package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Database metrics
	DatabaseHealthCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finql_database_health_check_duration_seconds",
			Help:    "Database health check duration",
			Buckets: prometheus.DefBuckets,
		})
	DatabaseHealthCheckSuccess = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finql_database_health_check_success_total",
			Help: "Total successful database health checks",
		})
	DatabaseHealthCheckErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finql_database_health_check_errors_total",
			Help: "Total database health check errors",
		})
	DatabaseOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finql_database_operation_duration_seconds",
			Help:    "Database operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
	DatabaseOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finql_database_operations_total",
			Help: "Total database operations",
		},
		[]string{"operation", "status"},
	)
	DatabaseErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finql_database_errors_total",
			Help: "Total database errors",
		},
		[]string{"operation"},
	)

	// FX metrics; outcome is one of identity, direct, reverse, failed
	FxConversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finql_fx_conversions_total",
			Help: "FX rate resolutions by outcome",
		},
		[]string{"outcome"},
	)
	FxLookups = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finql_fx_quote_lookups_total",
			Help: "Quote lookups issued while resolving FX rates",
		})

	// Quote import metrics
	ImportCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "finql_import_quotes_total",
			Help: "Total quotes imported from the stream",
		})
	ImportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finql_import_errors_total",
			Help: "Quote import errors",
		},
		[]string{"stage"},
	)
	ImportLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finql_import_latency_seconds",
			Help:    "Time to import one quote",
			Buckets: prometheus.DefBuckets,
		})

	// API metrics
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finql_api_request_duration_seconds",
			Help:    "API request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	APIRequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finql_api_requests_total",
			Help: "Total API requests",
		},
		[]string{"method", "route", "status"},
	)

	// Redis metrics
	RedisOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "finql_redis_operation_duration_seconds",
			Help:    "Redis operation duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)
	RedisErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finql_redis_errors_total",
			Help: "Total Redis errors",
		},
		[]string{"operation"},
	)

	// Authentication metrics
	AuthOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finql_auth_operations_total",
			Help: "Total authentication operations",
		},
		[]string{"operation", "status"},
	)
	AuthMiddlewareErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "finql_auth_middleware_errors_total",
			Help: "Total authentication middleware errors",
		},
		[]string{"error_type"},
	)
)

func init() {
	// MustRegister panics if registration fails (e.g. duplicate)
	prometheus.MustRegister(
		DatabaseHealthCheckDuration, DatabaseHealthCheckSuccess, DatabaseHealthCheckErrors,
		DatabaseOperationDuration, DatabaseOperations, DatabaseErrors,
		FxConversions, FxLookups,
		ImportCounter, ImportErrors, ImportLatency,
		APIRequestDuration, APIRequestTotal,
		RedisOperationDuration, RedisErrors,
		AuthOperations, AuthMiddlewareErrors,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Status maps an error to the "status" label value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
