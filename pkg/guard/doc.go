// Package guard implements the authorization decision for pages and APIs.
//
// Both entry points share one decision core. The principal comes from the
// request context (see auth.Middleware), the profile is read from the store
// on every call under a bounded timeout, and any failure is a denial:
//
//	decision := g.AuthorizeForRequest(ctx, rbac.PermViewUsers, rbac.PermCreateUsers)
//	if !decision.Allowed() {
//		// decision.Reason is unauthenticated, inactive_account, forbidden
//		// or store_unavailable
//	}
//
// Page decisions redirect instead of denying. Anonymous callers are sent to
// sign-in with a local return path; everyone else to the landing page; and
// while no super admin exists, privileged pages are sent to setup.
//
// The HTTP adapters wrap routes:
//
//	router.Handle("/admin/users", g.PageFunc(h.usersPage, rbac.PermViewUsers))
//	api.Handle("/admin/roles", g.APIFunc(h.listRoles, rbac.PermViewUsers))
package guard
