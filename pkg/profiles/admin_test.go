package profiles

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

func seededAdmin(t *testing.T) (*Admin, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	store.Put(&Profile{PrincipalID: "root", Role: rbac.RoleSuperAdmin, IsActive: true})
	store.Put(&Profile{PrincipalID: "admin", Role: rbac.RoleAdmin, IsActive: true})
	store.Put(&Profile{PrincipalID: "mod", Role: rbac.RoleModerator, IsActive: true})
	store.Put(&Profile{PrincipalID: "user", Role: rbac.RoleUser, IsActive: true})
	return NewAdmin(store, nil), store
}

func profileOf(t *testing.T, store *MemoryStore, id string) *Profile {
	t.Helper()
	p, err := store.GetProfile(context.Background(), id)
	require.NoError(t, err)
	return p
}

func TestAdmin_ChangeRole(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		actor   string
		target  string
		role    rbac.Role
		wantErr error
	}{
		{"admin promotes user to moderator", "admin", "user", rbac.RoleModerator, nil},
		{"admin promotes user to admin", "admin", "user", rbac.RoleAdmin, nil},
		{"admin cannot grant super admin", "admin", "user", rbac.RoleSuperAdmin, auth.ErrInsufficientRole},
		{"admin cannot demote super admin", "admin", "root", rbac.RoleUser, auth.ErrInsufficientRole},
		{"moderator lacks manage_user_roles", "mod", "user", rbac.RoleModerator, auth.ErrForbidden},
		{"super admin grants super admin", "root", "admin", rbac.RoleSuperAdmin, nil},
		{"last super admin cannot demote self", "root", "root", rbac.RoleAdmin, auth.ErrLastSuperAdmin},
		{"unknown role", "root", "user", rbac.Role("owner"), auth.ErrInvalidInput},
		{"unknown target", "root", "ghost", rbac.RoleAdmin, auth.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin, store := seededAdmin(t)
			updated, err := admin.ChangeRole(ctx, profileOf(t, store, tt.actor), tt.target, tt.role)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.role, updated.Role)
		})
	}
}

func TestAdmin_ChangeRoleInactiveActor(t *testing.T) {
	admin, store := seededAdmin(t)
	actor := profileOf(t, store, "admin")
	actor.IsActive = false

	_, err := admin.ChangeRole(context.Background(), actor, "user", rbac.RoleModerator)
	assert.True(t, errors.Is(err, auth.ErrForbidden))
}

func TestAdmin_SetActive(t *testing.T) {
	ctx := context.Background()

	t.Run("admin deactivates user", func(t *testing.T) {
		admin, store := seededAdmin(t)
		p, err := admin.SetActive(ctx, profileOf(t, store, "admin"), "user", false)
		require.NoError(t, err)
		assert.False(t, p.IsActive)
	})

	t.Run("admin cannot deactivate super admin", func(t *testing.T) {
		admin, store := seededAdmin(t)
		_, err := admin.SetActive(ctx, profileOf(t, store, "admin"), "root", false)
		assert.True(t, errors.Is(err, auth.ErrInsufficientRole))
	})

	t.Run("cannot deactivate self", func(t *testing.T) {
		admin, store := seededAdmin(t)
		_, err := admin.SetActive(ctx, profileOf(t, store, "admin"), "admin", false)
		assert.True(t, errors.Is(err, auth.ErrForbidden))
	})

	t.Run("moderator cannot", func(t *testing.T) {
		admin, store := seededAdmin(t)
		_, err := admin.SetActive(ctx, profileOf(t, store, "mod"), "user", false)
		assert.True(t, errors.Is(err, auth.ErrForbidden))
	})

	t.Run("no-op when unchanged", func(t *testing.T) {
		admin, store := seededAdmin(t)
		p, err := admin.SetActive(ctx, profileOf(t, store, "root"), "user", true)
		require.NoError(t, err)
		assert.True(t, p.IsActive)
	})
}

func TestAdmin_List(t *testing.T) {
	admin, store := seededAdmin(t)

	list, err := admin.List(context.Background(), profileOf(t, store, "mod"), 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 4)

	_, err = admin.List(context.Background(), profileOf(t, store, "user"), 10, 0)
	assert.True(t, errors.Is(err, auth.ErrForbidden))
}

func TestAdmin_AuditFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	store := NewMemoryStore()
	store.Put(&Profile{PrincipalID: "root", Role: rbac.RoleSuperAdmin, IsActive: true})
	store.Put(&Profile{PrincipalID: "user", Role: rbac.RoleUser, IsActive: true})
	admin := NewAdmin(store, observability.NewLogger(observability.InfoLevel, &buf))

	rec := &recordingAudit{err: errors.New("sink down")}
	ctx := audit.WithLogger(context.Background(), rec)

	updated, err := admin.ChangeRole(ctx, profileOf(t, store, "root"), "user", rbac.RoleModerator)
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleModerator, updated.Role)

	_, err = admin.SetActive(ctx, profileOf(t, store, "root"), "user", false)
	require.NoError(t, err)

	assert.Len(t, rec.events, 2)
	assert.Equal(t, 2, strings.Count(buf.String(), "failed to write audit event"))
}
