// Package orgs implements tenancy: organizations, tenant roles, memberships
// and the invitation records that feed them.
//
// # Tenant roles
//
// Every membership carries one of four tenant roles, ordered by rank:
//
//	owner > admin > manager > member
//
// Tenant roles are independent of the platform role in pkg/rbac. A platform
// super admin has no implicit access to an organization.
//
// # Operation policy
//
// Each tenant-scoped operation has an exact allow-list of roles (see
// Allowed). Anything not in the table is denied.
//
// # Resolution
//
// Resolver.ResolveMembership picks the organization a request acts on.
// An explicit reference (ID or slug) must exist; an empty one falls back to
// the user's earliest joined organization. A caller without an active
// membership resolves to nil, never to an error.
//
// # Usage Example
//
//	store := orgs.NewPostgresStore(db)
//	svc := orgs.NewService(store, orgs.NewResolver(store, 0))
//
//	res, err := svc.CreateOrganization(ctx, userID, orgs.CreateRequest{Name: "Acme Corp"})
//	members, err := svc.ListMembers(ctx, userID, res.Organization.Slug)
//
// # Related Packages
//
//   - pkg/invitations: issuing and redeeming invitations
//   - pkg/middleware: attaches the resolved membership to requests
package orgs
