package guard

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/profiles"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// Page returns middleware for page routes. A redirect decision becomes a
// 303 See Other; an allow stores the profile in the request context.
func (g *Guard) Page(required ...rbac.Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.AuthorizeForPage(r.Context(), r.URL.RequestURI(), required...)
			if !decision.Allowed() {
				w.Header().Set("Cache-Control", "no-store")
				http.Redirect(w, r, decision.Target, http.StatusSeeOther)
				return
			}
			next.ServeHTTP(w, r.WithContext(profiles.WithProfile(r.Context(), decision.Profile)))
		})
	}
}

// API returns middleware for API routes. Denials are written as
// {"error": "<reason>"} with 401, 403 or 503.
func (g *Guard) API(required ...rbac.Permission) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.AuthorizeForRequest(r.Context(), required...)
			if !decision.Allowed() {
				httputil.WriteReason(w, httputil.StatusFor(decision.Reason), decision.Reason)
				return
			}
			next.ServeHTTP(w, r.WithContext(profiles.WithProfile(r.Context(), decision.Profile)))
		})
	}
}

// PageFunc wraps a handler function with Page
func (g *Guard) PageFunc(h http.HandlerFunc, required ...rbac.Permission) http.Handler {
	return g.Page(required...)(h)
}

// APIFunc wraps a handler function with API
func (g *Guard) APIFunc(h http.HandlerFunc, required ...rbac.Permission) http.Handler {
	return g.API(required...)(h)
}

// ProfileFromContext returns the profile of the caller allowed by Page or
// API, or nil outside a guarded handler
var ProfileFromContext = profiles.FromContext
