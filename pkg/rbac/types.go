package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Role is a platform-wide role held by a principal's profile
type Role string

// Built-in platform roles
const (
	RoleUser       Role = "user"
	RoleModerator  Role = "moderator"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Permission is a named capability granted by a role
type Permission string

const (
	PermViewUsers       Permission = "view_users"
	PermCreateUsers     Permission = "create_users"
	PermUpdateUsers     Permission = "update_users"
	PermDeleteUsers     Permission = "delete_users"
	PermManageUserRoles Permission = "manage_user_roles"
	PermViewAllContent  Permission = "view_all_content"
	PermModerateContent Permission = "moderate_content"
	PermDeleteContent   Permission = "delete_content"
	PermViewAnalytics   Permission = "view_analytics"
	PermManageSettings  Permission = "manage_settings"
	PermViewLogs        Permission = "view_logs"
	PermManageSystem    Permission = "manage_system"
)

// allPermissions is the closed permission universe in display order
var allPermissions = []Permission{
	PermViewUsers,
	PermCreateUsers,
	PermUpdateUsers,
	PermDeleteUsers,
	PermManageUserRoles,
	PermViewAllContent,
	PermModerateContent,
	PermDeleteContent,
	PermViewAnalytics,
	PermManageSettings,
	PermViewLogs,
	PermManageSystem,
}

// PermissionSet is an unordered set of permissions
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from the given permissions
func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether p is in the set
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the permissions sorted by name
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RoleDefinition describes a built-in role for display
type RoleDefinition struct {
	Name        Role         `json:"name"`
	DisplayName string       `json:"display_name"`
	Description string       `json:"description"`
	Rank        int          `json:"rank"`
	Permissions []Permission `json:"permissions"`
}

var moderatorPermissions = []Permission{
	PermViewUsers,
	PermViewAllContent,
	PermModerateContent,
	PermDeleteContent,
}

// roleTable is fixed at compile time. Nothing mutates it after init.
var roleTable = map[Role]RoleDefinition{
	RoleUser: {
		Name:        RoleUser,
		DisplayName: "User",
		Description: "Signed-in user with no administrative capability",
		Rank:        0,
		Permissions: nil,
	},
	RoleModerator: {
		Name:        RoleModerator,
		DisplayName: "Moderator",
		Description: "Can review and moderate user content",
		Rank:        1,
		Permissions: moderatorPermissions,
	},
	RoleAdmin: {
		Name:        RoleAdmin,
		DisplayName: "Administrator",
		Description: "Manages users, roles and content",
		Rank:        2,
		Permissions: append(append([]Permission{}, moderatorPermissions...),
			PermCreateUsers,
			PermUpdateUsers,
			PermDeleteUsers,
			PermManageUserRoles,
			PermViewAnalytics,
			PermViewLogs,
		),
	},
	RoleSuperAdmin: {
		Name:        RoleSuperAdmin,
		DisplayName: "Super Administrator",
		Description: "Full control of the platform",
		Rank:        3,
		Permissions: allPermissions,
	},
}

// ParseRole converts a stored or submitted string into a Role
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is a built-in role
func (r Role) Valid() bool {
	_, ok := roleTable[r]
	return ok
}

// Rank orders roles for display. It is never consulted for authorization.
func (r Role) Rank() int {
	if def, ok := roleTable[r]; ok {
		return def.Rank
	}
	return -1
}

func (r Role) String() string {
	return string(r)
}

// Roles returns every built-in role in ascending rank
func Roles() []Role {
	return []Role{RoleUser, RoleModerator, RoleAdmin, RoleSuperAdmin}
}

// RoleDefinitions returns display metadata for every built-in role
func RoleDefinitions() []RoleDefinition {
	defs := make([]RoleDefinition, 0, len(roleTable))
	for _, r := range Roles() {
		def := roleTable[r]
		def.Permissions = PermissionsOf(r).Slice()
		defs = append(defs, def)
	}
	return defs
}

// AllPermissions returns the full permission universe
func AllPermissions() []Permission {
	out := make([]Permission, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// ParsePermission converts a string into a known Permission
func ParsePermission(s string) (Permission, error) {
	for _, p := range allPermissions {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown permission %q", s)
}

// PermissionsOf returns the permissions granted to role. Unknown roles get
// the empty set. The returned set is a fresh copy.
func PermissionsOf(role Role) PermissionSet {
	def, ok := roleTable[role]
	if !ok {
		return PermissionSet{}
	}
	return NewPermissionSet(def.Permissions...)
}

// HasAll reports whether role grants every permission in required.
// An empty requirement is satisfied by any role.
func HasAll(role Role, required ...Permission) bool {
	if len(required) == 0 {
		return true
	}
	granted := PermissionsOf(role)
	for _, p := range required {
		if !granted.Has(p) {
			return false
		}
	}
	return true
}

// HasAny reports whether role grants at least one permission in perms
func HasAny(role Role, perms ...Permission) bool {
	granted := PermissionsOf(role)
	for _, p := range perms {
		if granted.Has(p) {
			return true
		}
	}
	return false
}
