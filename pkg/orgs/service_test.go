package orgs

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/audit"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

func newTestService(t *testing.T) (*Service, *MemoryStore, *Organization) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, NewResolver(store, 0), WithDefaultMaxMembers(25))

	res, err := svc.CreateOrganization(context.Background(), "owner", CreateRequest{Name: "Acme Corp"})
	require.NoError(t, err)
	org := res.Organization
	addMember(t, store, org.ID, "admin", RoleAdmin)
	addMember(t, store, org.ID, "manager", RoleManager)
	addMember(t, store, org.ID, "member", RoleMember)
	return svc, store, org
}

func TestService_CreateOrganization(t *testing.T) {
	ctx := context.Background()
	svc, _, org := newTestService(t)

	assert.Equal(t, "acme-corp", org.Slug)
	assert.Equal(t, 25, org.MaxMembers)
	assert.Equal(t, PlanFree, org.PlanType)

	_, err := svc.CreateOrganization(ctx, "someone", CreateRequest{Name: "Acme Corp"})
	assert.True(t, errors.Is(err, auth.ErrAlreadyExists))

	_, err = svc.CreateOrganization(ctx, "someone", CreateRequest{Name: "X", Slug: "Bad Slug!"})
	assert.True(t, errors.Is(err, auth.ErrInvalidInput))

	_, err = svc.CreateOrganization(ctx, "someone", CreateRequest{Name: "   "})
	assert.True(t, errors.Is(err, auth.ErrInvalidInput))

	_, err = svc.CreateOrganization(ctx, "", CreateRequest{Name: "Anon"})
	assert.True(t, errors.Is(err, auth.ErrUnauthenticated))
}

func TestService_UpdateSettings(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	name := "Acme Inc"

	updated, err := svc.UpdateSettings(ctx, "admin", "acme-corp", UpdateRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", updated.Name)

	_, err = svc.UpdateSettings(ctx, "manager", "acme-corp", UpdateRequest{Name: &name})
	assert.True(t, errors.Is(err, auth.ErrForbidden))

	negative := -1
	_, err = svc.UpdateSettings(ctx, "owner", "acme-corp", UpdateRequest{MaxMembers: &negative})
	assert.True(t, errors.Is(err, auth.ErrInvalidInput))
}

func TestService_ChangeMemberRole(t *testing.T) {
	tests := []struct {
		name    string
		actor   string
		target  string
		role    TenantRole
		wantErr error
	}{
		{"owner promotes member to admin", "owner", "member", RoleAdmin, nil},
		{"owner grants owner", "owner", "admin", RoleOwner, nil},
		{"admin promotes member to manager", "admin", "member", RoleManager, nil},
		{"admin cannot grant owner", "admin", "member", RoleOwner, auth.ErrInsufficientRole},
		{"admin cannot modify owner", "admin", "owner", RoleMember, auth.ErrInsufficientRole},
		{"manager cannot change roles", "manager", "member", RoleManager, auth.ErrForbidden},
		{"sole owner cannot step down", "owner", "owner", RoleAdmin, auth.ErrLastOwner},
		{"unknown role", "owner", "member", TenantRole("root"), auth.ErrInvalidInput},
		{"unknown target", "owner", "ghost", RoleMember, auth.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t)
			m, err := svc.ChangeMemberRole(context.Background(), tt.actor, "acme-corp", tt.target, tt.role)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.role, m.Role)
		})
	}
}

func TestService_RemoveAndLeave(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	assert.True(t, errors.Is(svc.RemoveMember(ctx, "admin", "acme-corp", "owner"), auth.ErrInsufficientRole))
	assert.True(t, errors.Is(svc.RemoveMember(ctx, "member", "acme-corp", "manager"), auth.ErrForbidden))
	require.NoError(t, svc.RemoveMember(ctx, "admin", "acme-corp", "manager"))

	_, err := svc.ListMembers(ctx, "manager", "acme-corp")
	assert.True(t, errors.Is(err, auth.ErrForbidden), "removed members lose access")

	require.NoError(t, svc.Leave(ctx, "member", "acme-corp"))
	assert.True(t, errors.Is(svc.Leave(ctx, "owner", "acme-corp"), auth.ErrLastOwner))
	assert.True(t, errors.Is(svc.Leave(ctx, "member", "acme-corp"), auth.ErrNotFound))
	assert.True(t, errors.Is(svc.Leave(ctx, "owner", ""), auth.ErrInvalidInput))

	members, err := svc.ListMembers(ctx, "admin", "acme-corp")
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestService_DeleteOrganization(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	for _, actor := range []string{"admin", "manager", "member", "stranger"} {
		assert.True(t, errors.Is(svc.DeleteOrganization(ctx, actor, "acme-corp"), auth.ErrForbidden), actor)
	}
	_, err := svc.Current(ctx, "member", "acme-corp")
	require.NoError(t, err, "refused deletes leave the organization in place")

	require.NoError(t, svc.DeleteOrganization(ctx, "owner", "acme-corp"))

	_, err = svc.Current(ctx, "owner", "acme-corp")
	assert.True(t, errors.Is(err, auth.ErrNotFound))

	list, err := svc.ListForUser(ctx, "owner")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_AuditFailureIsLogged(t *testing.T) {
	var buf bytes.Buffer
	store := NewMemoryStore()
	svc := NewService(store, NewResolver(store, 0),
		WithLogger(observability.NewLogger(observability.InfoLevel, &buf)))
	ctx := audit.WithLogger(context.Background(), failingAudit{})

	_, err := svc.CreateOrganization(ctx, "owner", CreateRequest{Name: "Acme Corp"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "failed to write audit event")
	assert.Contains(t, buf.String(), string(audit.EventTypeOrgCreate))
}

type failingAudit struct{}

func (failingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	return errors.New("sink down")
}

func (failingAudit) Close() error { return nil }

func TestService_Current(t *testing.T) {
	ctx := context.Background()
	svc, _, org := newTestService(t)

	res, err := svc.Current(ctx, "member", "")
	require.NoError(t, err)
	assert.Equal(t, org.ID, res.Organization.ID)

	_, err = svc.Current(ctx, "stranger", "")
	assert.True(t, errors.Is(err, auth.ErrNotFound))

	_, err = svc.Current(ctx, "stranger", "acme-corp")
	assert.True(t, errors.Is(err, auth.ErrForbidden))
}

func TestGenerateSlug(t *testing.T) {
	assert.Equal(t, "acme-corp", generateSlug("  Acme  Corp "))
	assert.Equal(t, "hello-world-2", generateSlug("Hello, World_2!"))
	assert.NoError(t, validateSlug(generateSlug("My.Team -- Rocks")))
	assert.Error(t, validateSlug("-bad"))
	assert.Error(t, validateSlug("a"))
}
