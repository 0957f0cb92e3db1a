package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPermissionsOf(t *testing.T) {
	tests := []struct {
		name     string
		role     Role
		expected []Permission
	}{
		{
			name:     "user has nothing",
			role:     RoleUser,
			expected: []Permission{},
		},
		{
			name: "moderator",
			role: RoleModerator,
			expected: []Permission{
				PermDeleteContent,
				PermModerateContent,
				PermViewAllContent,
				PermViewUsers,
			},
		},
		{
			name: "admin",
			role: RoleAdmin,
			expected: []Permission{
				PermCreateUsers,
				PermDeleteContent,
				PermDeleteUsers,
				PermManageUserRoles,
				PermModerateContent,
				PermUpdateUsers,
				PermViewAllContent,
				PermViewAnalytics,
				PermViewLogs,
				PermViewUsers,
			},
		},
		{
			name:     "unknown role",
			role:     Role("root"),
			expected: []Permission{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PermissionsOf(tt.role).Slice())
		})
	}
}

func TestPermissionsOf_SuperAdminHasEverything(t *testing.T) {
	granted := PermissionsOf(RoleSuperAdmin)
	assert.Len(t, granted, len(AllPermissions()))
	for _, p := range AllPermissions() {
		assert.True(t, granted.Has(p), "super_admin missing %s", p)
	}
}

func TestPermissionsOf_ReturnsCopy(t *testing.T) {
	set := PermissionsOf(RoleModerator)
	set[PermManageSystem] = struct{}{}

	assert.False(t, PermissionsOf(RoleModerator).Has(PermManageSystem))
}

func TestHasAll(t *testing.T) {
	t.Run("empty requirement", func(t *testing.T) {
		for _, r := range Roles() {
			assert.True(t, HasAll(r))
		}
		assert.True(t, HasAll(Role("nobody")))
	})

	t.Run("subset", func(t *testing.T) {
		assert.True(t, HasAll(RoleAdmin, PermViewUsers, PermManageUserRoles))
		assert.True(t, HasAll(RoleModerator, PermModerateContent))
	})

	t.Run("missing one", func(t *testing.T) {
		assert.False(t, HasAll(RoleAdmin, PermViewUsers, PermManageSystem))
		assert.False(t, HasAll(RoleModerator, PermViewAnalytics))
		assert.False(t, HasAll(RoleUser, PermViewUsers))
	})

	t.Run("unknown role", func(t *testing.T) {
		assert.False(t, HasAll(Role("ghost"), PermViewUsers))
	})
}

func TestHasAny(t *testing.T) {
	assert.True(t, HasAny(RoleModerator, PermManageSystem, PermViewUsers))
	assert.False(t, HasAny(RoleUser, PermViewUsers))
	assert.False(t, HasAny(RoleAdmin))
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" Super_Admin ")
	require.NoError(t, err)
	assert.Equal(t, RoleSuperAdmin, r)

	_, err = ParseRole("owner")
	assert.Error(t, err)
}

func TestParsePermission(t *testing.T) {
	p, err := ParsePermission("view_logs")
	require.NoError(t, err)
	assert.Equal(t, PermViewLogs, p)

	_, err = ParsePermission("view_everything")
	assert.Error(t, err)
}

func TestRoleRank(t *testing.T) {
	assert.Less(t, RoleUser.Rank(), RoleModerator.Rank())
	assert.Less(t, RoleModerator.Rank(), RoleAdmin.Rank())
	assert.Less(t, RoleAdmin.Rank(), RoleSuperAdmin.Rank())
	assert.Equal(t, -1, Role("x").Rank())
}

func TestRoleDefinitions(t *testing.T) {
	defs := RoleDefinitions()
	require.Len(t, defs, 4)
	assert.Equal(t, RoleUser, defs[0].Name)
	assert.Empty(t, defs[0].Permissions)
	assert.Equal(t, RoleSuperAdmin, defs[3].Name)
	assert.Len(t, defs[3].Permissions, 12)
}
