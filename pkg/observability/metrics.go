package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal   *prometheus.CounterVec
	AuthzDecisionDuration *prometheus.HistogramVec

	// Store metrics
	StoreErrorsTotal *prometheus.CounterVec

	// Tenancy metrics
	BootstrapAttemptsTotal   *prometheus.CounterVec
	InvitationsIssuedTotal   prometheus.Counter
	InvitationRedeemsTotal   *prometheus.CounterVec
	InvitationsPurgedTotal   prometheus.Counter
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen         prometheus.Gauge
	DBConnectionsInUse        prometheus.Gauge
	DBConnectionsIdle         prometheus.Gauge
	DBConnectionsWaitCount    prometheus.Gauge
	DBConnectionsWaitDuration prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		// Authorization metrics
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"surface", "outcome", "reason"},
		),
		AuthzDecisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantgate_authz_decision_duration_seconds",
				Help:    "Time spent computing an authorization decision",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"surface"},
		),

		// Store metrics
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_store_errors_total",
				Help: "Total number of store failures observed by request handling",
			},
			[]string{"component"},
		),

		// Tenancy metrics
		BootstrapAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_bootstrap_attempts_total",
				Help: "Total number of first super admin initialization attempts",
			},
			[]string{"result"},
		),
		InvitationsIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantgate_invitations_issued_total",
				Help: "Total number of invitations issued",
			},
		),
		InvitationRedeemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_invitation_redeems_total",
				Help: "Total number of invitation redemption attempts",
			},
			[]string{"result"},
		),
		InvitationsPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenantgate_invitations_purged_total",
				Help: "Total number of expired invitations purged",
			},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantgate_rate_limit_rejections_total",
				Help: "Total number of requests rejected by a rate limiter",
			},
			[]string{"limiter"},
		),

		// Database metrics
		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantgate_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantgate_db_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantgate_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantgate_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),
		DBConnectionsWaitDuration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantgate_db_connections_wait_duration_seconds",
				Help: "Total time spent waiting for connections",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthzDecisionsTotal,
		m.AuthzDecisionDuration,
		m.StoreErrorsTotal,
		m.BootstrapAttemptsTotal,
		m.InvitationsIssuedTotal,
		m.InvitationRedeemsTotal,
		m.InvitationsPurgedTotal,
		m.RateLimitRejectionsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsIdle,
		m.DBConnectionsWaitCount,
		m.DBConnectionsWaitDuration,
	)

	return m
}

// RecordDBStats copies connection pool statistics into the DB gauges
func (m *Metrics) RecordDBStats(stats sql.DBStats) {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
	m.DBConnectionsWaitDuration.Set(stats.WaitDuration.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel returns the mux route template so that path parameters such
// as invitation tokens never become label values.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
