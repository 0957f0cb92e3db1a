package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// RateLimit builds middleware that limits requests per principal, or per
// client IP for anonymous callers. When the primary limiter errors the
// fallback is consulted; with no fallback the request is refused with 503.
type RateLimit struct {
	name     string
	primary  Limiter
	fallback Limiter
	window   time.Duration
	metrics  *observability.Metrics
	otel     *observability.OTelMetrics
}

// RateLimitOption configures RateLimit
type RateLimitOption func(*RateLimit)

// WithFallback sets the limiter used when the primary one fails
func WithFallback(l Limiter) RateLimitOption {
	return func(m *RateLimit) { m.fallback = l }
}

// WithRateLimitMetrics records rejections
func WithRateLimitMetrics(metrics *observability.Metrics, otel *observability.OTelMetrics) RateLimitOption {
	return func(m *RateLimit) {
		m.metrics = metrics
		m.otel = otel
	}
}

// NewRateLimit creates rate limit middleware named name. window is used for
// the Retry-After header.
func NewRateLimit(name string, primary Limiter, window time.Duration, opts ...RateLimitOption) *RateLimit {
	m := &RateLimit{name: name, primary: primary, window: window}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handler wraps next with the limit
func (m *RateLimit) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		key := m.name + ":" + limitKey(r)

		allowed, err := m.primary.Allow(ctx, key)
		if err != nil {
			logger := observability.FromContext(ctx).WithError(err).WithField("limiter", m.name)
			if m.fallback == nil {
				logger.Error("rate limiter unavailable")
				httputil.WriteReason(w, http.StatusServiceUnavailable, auth.ReasonStoreUnavailable)
				return
			}
			logger.Warn("rate limiter unavailable, using local fallback")
			allowed, _ = m.fallback.Allow(ctx, key)
		}

		if !allowed {
			if m.metrics != nil {
				m.metrics.RateLimitRejectionsTotal.WithLabelValues(m.name).Inc()
			}
			m.otel.RecordRateLimitRejection(ctx, m.name)
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", m.window.Seconds()))
			httputil.WriteReason(w, http.StatusTooManyRequests, "rate_limited")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func limitKey(r *http.Request) string {
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		return "principal:" + p.ID
	}
	return "ip:" + audit.ClientIP(r)
}
