// Package rbac defines the platform role and permission model.
//
// # Overview
//
// Every principal's profile carries exactly one Role. Each role maps to a
// fixed set of Permissions through a table compiled into the binary:
//
//	user         - no permissions
//	moderator    - view_users, view_all_content, moderate_content, delete_content
//	admin        - moderator plus create/update/delete users, manage_user_roles,
//	               view_analytics, view_logs
//	super_admin  - every permission
//
// The table cannot be changed at runtime. Authorization is always a set
// containment check:
//
//	if !rbac.HasAll(profile.Role, rbac.PermViewUsers, rbac.PermManageUserRoles) {
//		// deny
//	}
//
// Role.Rank exists for ordering roles in the admin console only; no access
// decision consults it.
//
// Tenant (organization) roles live in package orgs and are unrelated to
// platform roles.
package rbac
