// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks, and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("org_id", orgID).Info("member removed")
//
// Request-scoped loggers carry the request and user IDs:
//
//	observability.FromContext(ctx).WithError(err).Warn("profile lookup failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	observability.RegisterMetricsEndpoint(router, registry)
//
// HTTP metrics are labelled by mux route template, never by raw path, so
// invitation tokens do not leak into label values.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, observability.WithVersion(version))
//	observability.RegisterHealthRoutes(router, checker)
//
// /readyz fails when the database is unreachable and degrades when Redis is.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tenantgate",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/middleware: request ID and logging middleware
package observability
