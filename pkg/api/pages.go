package api

import (
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/guard"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

// page is the descriptor returned by page routes. Rendering happens in the
// front end; the server only decides whether the page may be shown.
type page struct {
	Page        string            `json:"page"`
	Role        rbac.Role         `json:"role,omitempty"`
	Permissions []rbac.Permission `json:"permissions,omitempty"`
	// Method is set on pages that confirm an action; the front end submits
	// to the same path with it.
	Method string `json:"method,omitempty"`
}

func (s *Server) registerAdminPages() {
	g := s.deps.Guard
	s.router.Handle("/admin", g.PageFunc(s.pageHandler("admin"), rbac.PermViewUsers)).Methods(http.MethodGet)
	s.router.Handle("/admin/users", g.PageFunc(s.pageHandler("admin_users"), rbac.PermViewUsers)).Methods(http.MethodGet)
	s.router.Handle("/admin/system", g.PageFunc(s.pageHandler("admin_system"), rbac.PermManageSystem)).Methods(http.MethodGet)
}

// pageHandler answers a guarded page with its descriptor and the caller's
// role, so the front end can hide controls the caller cannot use.
func (s *Server) pageHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		desc := page{Page: name}
		if p := guard.ProfileFromContext(r.Context()); p != nil {
			desc.Role = p.Role
			desc.Permissions = rbac.PermissionsOf(p.Role).Slice()
		}
		httputil.WriteSuccess(w, desc)
	}
}

func (s *Server) landingPage(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, page{Page: "landing"})
}

func (s *Server) signInPage(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, page{Page: "sign_in"})
}

func (s *Server) dashboardPage(w http.ResponseWriter, r *http.Request) {
	s.pageHandler("dashboard")(w, r)
}

// invitationPage asks the signed-in caller to confirm. Nothing is consumed
// on GET, so link prefetchers and mail scanners cannot redeem the token.
func (s *Server) invitationPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteSuccess(w, page{Page: "invitation", Method: http.MethodPost})
}

// acceptInvitation redeems the invitation for the signed-in caller and sends
// them to the dashboard. Failures land on the landing page with the reason
// in the query; the token is never echoed back.
func (s *Server) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	target := "/dashboard"
	if _, err := s.deps.Invitations.Redeem(r.Context(), token, auth.PrincipalFromContext(r.Context())); err != nil {
		reason := auth.ReasonOf(err)
		if httputil.StatusFor(reason) >= http.StatusInternalServerError {
			observability.FromContext(r.Context()).WithError(err).Error("invitation redemption failed")
		}
		target = s.paths.Landing + "?error=" + url.QueryEscape(string(reason))
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target, http.StatusSeeOther)
}
