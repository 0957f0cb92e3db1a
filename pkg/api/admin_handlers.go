package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/guard"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/profiles"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type meResponse struct {
	Principal   *auth.Principal   `json:"principal"`
	Profile     *profiles.Profile `json:"profile"`
	Permissions []rbac.Permission `json:"permissions"`
}

// me handles GET /api/v1/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	p := guard.ProfileFromContext(r.Context())
	httputil.WriteSuccess(w, meResponse{
		Principal:   auth.PrincipalFromContext(r.Context()),
		Profile:     p,
		Permissions: rbac.PermissionsOf(p.Role).Slice(),
	})
}

func (s *Server) registerAdminRoutes(router *mux.Router) {
	g := s.deps.Guard
	router.Handle("/admin/users", g.APIFunc(s.listUsers, rbac.PermViewUsers)).Methods(http.MethodGet)
	router.Handle("/admin/users/{id}/role", g.APIFunc(s.changeUserRole, rbac.PermManageUserRoles)).Methods(http.MethodPut)
	router.Handle("/admin/users/{id}/active", g.APIFunc(s.setUserActive, rbac.PermUpdateUsers)).Methods(http.MethodPut)
	router.Handle("/admin/roles", g.APIFunc(s.listRoles, rbac.PermViewUsers)).Methods(http.MethodGet)
}

// listUsers handles GET /api/v1/admin/users?limit=&offset=
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", defaultPageSize)
	if err != nil || limit < 1 || limit > maxPageSize {
		httputil.WriteBadRequest(w)
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		httputil.WriteBadRequest(w)
		return
	}

	list, err := s.admin.List(r.Context(), guard.ProfileFromContext(r.Context()), limit, offset)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"profiles": list,
		"limit":    limit,
		"offset":   offset,
	})
}

type changeRoleRequest struct {
	Role rbac.Role `json:"role"`
}

// changeUserRole handles PUT /api/v1/admin/users/{id}/role
func (s *Server) changeUserRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req changeRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, err := s.admin.ChangeRole(r.Context(), guard.ProfileFromContext(r.Context()), id, req.Role)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

// setUserActive handles PUT /api/v1/admin/users/{id}/active
func (s *Server) setUserActive(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req setActiveRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Active == nil {
		httputil.WriteBadRequest(w)
		return
	}

	updated, err := s.admin.SetActive(r.Context(), guard.ProfileFromContext(r.Context()), id, *req.Active)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, updated)
}

// listRoles handles GET /api/v1/admin/roles
func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"roles": rbac.RoleDefinitions(),
	})
}
