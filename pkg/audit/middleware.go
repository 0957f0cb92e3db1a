package audit

import (
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
)

// Middleware makes the audit logger and request metadata available to
// every handler downstream.
func Middleware(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := WithLogger(r.Context(), logger)
			ctx = contextkeys.WithAuditRequest(ctx, &RequestInfo{
				IPAddress: ClientIP(r),
				UserAgent: r.UserAgent(),
				Method:    r.Method,
				Path:      r.URL.Path,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the originating client address, honouring the first
// X-Forwarded-For hop.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
