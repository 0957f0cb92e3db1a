package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
)

func (s *Server) registerInvitationRoutes(router *mux.Router) {
	g := s.deps.Guard
	router.Handle("/orgs/{org_id}/invitations", g.APIFunc(s.createInvitation)).Methods(http.MethodPost)
	router.Handle("/orgs/{org_id}/invitations", g.APIFunc(s.listInvitations)).Methods(http.MethodGet)
	router.Handle("/orgs/{org_id}/invitations/{invitation_id}", g.APIFunc(s.revokeInvitation)).Methods(http.MethodDelete)
	router.Handle("/invitations/{token}/redeem", s.limit(g.APIFunc(s.redeemInvitation))).Methods(http.MethodPost)
}

type createInvitationRequest struct {
	Email string          `json:"email"`
	Role  orgs.TenantRole `json:"role"`
}

// createInvitation handles POST /api/v1/orgs/{org_id}/invitations. The
// plaintext token is only ever returned here.
func (s *Server) createInvitation(w http.ResponseWriter, r *http.Request) {
	orgRef, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	var req createInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Role == "" {
		req.Role = orgs.RoleMember
	}

	issued, err := s.deps.Invitations.IssueFor(r.Context(), callerID(r), orgRef, req.Email, req.Role)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteCreated(w, issued)
}

// listInvitations handles GET /api/v1/orgs/{org_id}/invitations
func (s *Server) listInvitations(w http.ResponseWriter, r *http.Request) {
	orgRef, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	list, err := s.deps.Invitations.List(r.Context(), callerID(r), orgRef)
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	if list == nil {
		list = []*orgs.Invitation{}
	}
	httputil.WriteSuccess(w, map[string]interface{}{"invitations": list})
}

// revokeInvitation handles DELETE /api/v1/orgs/{org_id}/invitations/{invitation_id}
func (s *Server) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	orgRef, ok := httputil.ParsePathStringOrError(w, r, "org_id")
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "invitation_id")
	if !ok {
		return
	}
	if err := s.deps.Invitations.Revoke(r.Context(), callerID(r), orgRef, id); err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// redeemInvitation handles POST /api/v1/invitations/{token}/redeem
func (s *Server) redeemInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	m, err := s.deps.Invitations.Redeem(r.Context(), token, auth.PrincipalFromContext(r.Context()))
	if err != nil {
		httputil.WriteErr(w, r, err)
		return
	}
	httputil.WriteSuccess(w, m)
}
