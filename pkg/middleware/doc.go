// Package middleware provides request-scoped HTTP middleware: request IDs,
// request logging, and rate limiting for sensitive endpoints.
//
// # Rate Limiting
//
// RateLimiter is an in-process token bucket keyed by principal or client IP,
// with buckets held in an expiring LRU. DistributedRateLimiter shares a
// fixed-window counter through Redis. NewRateLimit combines them:
//
//	local := middleware.NewRateLimiter(cfg)
//	shared := middleware.NewDistributedRateLimiter(redisClient, cfg, "tenantgate:setup")
//	limit := middleware.NewRateLimit("setup", shared, cfg.WindowDuration, middleware.WithFallback(local))
//	router.Handle("/api/v1/setup", limit.Handler(setupHandler))
//
// Without a fallback a Redis failure refuses the request with 503.
//
// # Request Logging
//
//	router.Use(middleware.RequestIDMiddleware, middleware.LoggingMiddleware(logger))
package middleware
