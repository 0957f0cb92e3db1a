package bootstrap

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Setup routes
const (
	SetupAPIPath    = "/api/v1/setup"
	SetupStatusPath = "/api/v1/setup/status"
)

// ReasonSetupRequired is returned to API callers before initialization
const ReasonSetupRequired auth.Reason = "setup_required"

// ReasonAlreadyInitialized is returned to setup callers once a super admin
// exists
const ReasonAlreadyInitialized auth.Reason = "already_initialized"

// DefaultExemptPaths are reachable while the platform needs bootstrap
var DefaultExemptPaths = []string{
	SetupAPIPath,
	"/healthz",
	"/readyz",
	"/metrics",
}

// Middleware holds every request until a super admin exists. Pages are
// redirected to setupPath; API calls get 503 setup_required. The state is
// re-read on every request and a failed read is refused with 503.
func (c *Coordinator) Middleware(setupPath string, exempt ...string) func(http.Handler) http.Handler {
	if len(exempt) == 0 {
		exempt = DefaultExemptPaths
	}
	exempt = append([]string{setupPath}, exempt...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExempt(r.URL.Path, exempt) {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := c.HasSuperAdmin(r.Context())
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).Error("failed to read bootstrap state")
				httputil.WriteReason(w, http.StatusServiceUnavailable, auth.ReasonStoreUnavailable)
				return
			}
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			if isAPI(r.URL.Path) {
				httputil.WriteReason(w, http.StatusServiceUnavailable, ReasonSetupRequired)
				return
			}
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, setupPath, http.StatusSeeOther)
		})
	}
}

// isExempt matches whole path segments, so /setup does not exempt /setupx
func isExempt(path string, exempt []string) bool {
	for _, prefix := range exempt {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

func isAPI(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}
