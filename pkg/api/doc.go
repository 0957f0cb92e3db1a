// Package api wires the authorization core into an HTTP surface built on
// gorilla/mux.
//
// # Routes
//
// Pages answer with a small JSON descriptor once the page guard allows;
// denials are 303 redirects to sign-in, the landing page or setup:
//
//	GET /                      public landing
//	GET /dashboard             any active account
//	GET /admin                 view_users
//	GET /admin/users           view_users
//	GET /admin/system          manage_system
//	GET /setup                 only until the first super admin exists
//	GET /invitations/{token}   any active account, confirmation only
//	POST /invitations/{token}  any active account, redeems then 303 to /dashboard
//
// The JSON API lives under /api/v1. Denials are {"error": "<reason>"} with
// 400, 401, 403, 404, 409, 410, 429 or 503:
//
//	GET    /me
//	POST   /setup
//	GET    /setup/status
//	GET    /admin/users
//	PUT    /admin/users/{id}/role
//	PUT    /admin/users/{id}/active
//	GET    /admin/roles
//	POST   /orgs
//	GET    /orgs
//	GET    /orgs/current?org=<id or slug>
//	PATCH  /orgs/{org_id}
//	DELETE /orgs/{org_id}
//	GET    /orgs/{org_id}/members
//	PUT    /orgs/{org_id}/members/{user_id}
//	DELETE /orgs/{org_id}/members/{user_id}
//	POST   /orgs/{org_id}/leave
//	POST   /orgs/{org_id}/invitations
//	GET    /orgs/{org_id}/invitations
//	DELETE /orgs/{org_id}/invitations/{invitation_id}
//	POST   /invitations/{token}/redeem
//
// # Middleware
//
// Handler wraps the router, outermost first, in panic recovery, request
// ids, request logging, a body size limit, the audit context, principal
// resolution and the setup gate, all inside an otelhttp span. Prometheus
// HTTP metrics are recorded per matched route.
package api
