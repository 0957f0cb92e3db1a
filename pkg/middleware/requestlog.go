package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// RequestIDHeader carries the request id in and out
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware propagates X-Request-ID or assigns a new one and
// stores it in the request context
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(contextkeys.WithRequestID(r.Context(), requestID)))
	})
}

// LoggingMiddleware attaches logger to the request context and logs every
// request once it completes
func LoggingMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := observability.WithLogger(r.Context(), logger)
			rw := &httputil.StatusRecorder{ResponseWriter: w, Status: http.StatusOK}

			next.ServeHTTP(rw, r.WithContext(ctx))

			entry := observability.UpdateLoggerWithTraceContext(ctx, observability.FromContext(ctx)).
				WithFields(map[string]interface{}{
					"method":      r.Method,
					"path":        r.URL.Path,
					"status":      rw.Status,
					"duration_ms": time.Since(start).Milliseconds(),
				})
			if rw.Status >= http.StatusInternalServerError {
				entry.Warn("request completed")
				return
			}
			entry.Info("request completed")
		})
	}
}

