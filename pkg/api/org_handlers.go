package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

// registerOrgRoutes registers organization routes. Each one only requires an
// active account at the platform level; tenant permissions are checked by
// the orgs service against the caller's membership.
func (s *Server) registerOrgRoutes(router *mux.Router) {
	g := s.deps.Guard
	router.Handle("/orgs", g.APIFunc(s.createOrganization)).Methods(http.MethodPost)
	router.Handle("/orgs", g.APIFunc(s.listOrganizations)).Methods(http.MethodGet)
	router.Handle("/orgs/current", g.APIFunc(s.currentOrganization)).Methods(http.MethodGet)
	router.Handle("/orgs/{org_id}", g.APIFunc(s.updateOrganization)).Methods(http.MethodPatch)
	router.Handle("/orgs/{org_id}", g.APIFunc(s.deleteOrganization)).Methods(http.MethodDelete)

	// Members
	router.Handle("/orgs/{org_id}/members", g.APIFunc(s.listMembers)).Methods(http.MethodGet)
	router.Handle("/orgs/{org_id}/members/{user_id}", g.APIFunc(s.updateMember)).Methods(http.MethodPut)
	router.Handle("/orgs/{org_id}/members/{user_id}", g.APIFunc(s.removeMember)).Methods(http.MethodDelete)
	router.Handle("/orgs/{org_id}/leave", g.APIFunc(s.leaveOrganization)).Methods(http.MethodPost)
}

func callerID(r *http.Request) string {
	if p := auth.PrincipalFromContext(r.Context()); p != nil {
		return p.ID
	}
	return ""
}

// createOrganization handles POST /api/v1/orgs
func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req orgs.CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	res, err := s.deps.Orgs.CreateOrganization(r.Context(), callerID(r), req)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteCreated(w, res)
}

// listOrganizations handles GET /api/v1/orgs
func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Orgs.ListForUser(r.Context(), callerID(r))
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if list == nil {
		list = []*orgs.Resolution{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"organizations": list})
}

// currentOrganization handles GET /api/v1/orgs/current?org=<id or slug>
func (s *Server) currentOrganization(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Orgs.Current(r.Context(), callerID(r), httputil.ParseQueryString(r, "org", ""))
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, res)
}

// updateOrganization handles PATCH /api/v1/orgs/{org_id}
func (s *Server) updateOrganization(w http.ResponseWriter, r *http.Request) {
	orgRef, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	var req orgs.UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	org, err := s.deps.Orgs.UpdateSettings(r.Context(), callerID(r), orgRef, req)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// deleteOrganization handles DELETE /api/v1/orgs/{org_id}
func (s *Server) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	orgRef, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	if err := s.deps.Orgs.DeleteOrganization(r.Context(), callerID(r), orgRef); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// listMembers handles GET /api/v1/orgs/{org_id}/members
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	orgRef, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	members, err := s.deps.Orgs.ListMembers(r.Context(), callerID(r), orgRef)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if members == nil {
		members = []*orgs.Membership{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

type updateMemberRequest struct {
	Role orgs.TenantRole `json:"role"`
}

// updateMember handles PUT /api/v1/orgs/{org_id}/members/{user_id}
func (s *Server) updateMember(w http.ResponseWriter, r *http.Request) {
	orgRef, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	target, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	var req updateMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	m, err := s.deps.Orgs.ChangeMemberRole(r.Context(), callerID(r), orgRef, target, req.Role)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, m)
}

// removeMember handles DELETE /api/v1/orgs/{org_id}/members/{user_id}
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	orgRef, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	target, ok := httputil.ParsePathStringOrError(w, r, "user_id")
	if !ok {
		return
	}
	if err := s.deps.Orgs.RemoveMember(r.Context(), callerID(r), orgRef, target); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// leaveOrganization handles POST /api/v1/orgs/{org_id}/leave
func (s *Server) leaveOrganization(w http.ResponseWriter, r *http.Request) {
	orgRef, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	if err := s.deps.Orgs.Leave(r.Context(), callerID(r), orgRef); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}
