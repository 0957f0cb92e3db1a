package orgs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

// slowStore blocks until the context is done
type slowStore struct {
	*MemoryStore
}

func (s slowStore) ListMemberships(ctx context.Context, userID string) ([]*Resolution, error) {
	<-ctx.Done()
	return nil, auth.StoreError("list memberships", ctx.Err())
}

func TestResolver_ResolveMembership(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	acme := newOrg(t, store, "acme", "alice", 0)
	beta := newOrg(t, store, "beta", "bob", 0)
	addMember(t, store, beta.ID, "alice", RoleMember)
	addMember(t, store, acme.ID, "carol", RoleMember)
	require.NoError(t, store.RemoveMember(ctx, acme.ID, "carol"))

	r := NewResolver(store, time.Second)

	t.Run("explicit slug", func(t *testing.T) {
		res, err := r.ResolveMembership(ctx, "alice", "beta")
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, beta.ID, res.Organization.ID)
		assert.Equal(t, RoleMember, res.Membership.Role)
	})

	t.Run("explicit id", func(t *testing.T) {
		res, err := r.ResolveMembership(ctx, "alice", acme.ID)
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, RoleOwner, res.Membership.Role)
	})

	t.Run("default is earliest joined", func(t *testing.T) {
		res, err := r.ResolveMembership(ctx, "alice", "")
		require.NoError(t, err)
		require.NotNil(t, res)
		assert.Equal(t, acme.ID, res.Organization.ID)
	})

	t.Run("non member resolves to nil", func(t *testing.T) {
		res, err := r.ResolveMembership(ctx, "bob", "acme")
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("inactive member resolves to nil", func(t *testing.T) {
		res, err := r.ResolveMembership(ctx, "carol", "acme")
		require.NoError(t, err)
		assert.Nil(t, res)

		res, err = r.ResolveMembership(ctx, "carol", "")
		require.NoError(t, err)
		assert.Nil(t, res)
	})

	t.Run("unknown organization", func(t *testing.T) {
		_, err := r.ResolveMembership(ctx, "alice", "nope")
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})

	t.Run("anonymous", func(t *testing.T) {
		_, err := r.ResolveMembership(ctx, "", "acme")
		assert.True(t, errors.Is(err, auth.ErrUnauthenticated))
	})
}

func TestResolver_Timeout(t *testing.T) {
	r := NewResolver(slowStore{NewMemoryStore()}, 10*time.Millisecond)

	_, err := r.ResolveMembership(context.Background(), "alice", "")
	assert.True(t, errors.Is(err, auth.ErrStoreUnavailable))
	assert.Equal(t, auth.ReasonStoreUnavailable, auth.ReasonOf(err))
}

func TestResolver_Require(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	acme := newOrg(t, store, "acme", "alice", 0)
	addMember(t, store, acme.ID, "mallory", RoleMember)
	r := NewResolver(store, 0)

	_, err := r.Require(ctx, "alice", "acme", OpDeleteOrganization)
	assert.NoError(t, err)

	_, err = r.Require(ctx, "mallory", "acme", OpDeleteOrganization)
	assert.True(t, errors.Is(err, auth.ErrForbidden))

	_, err = r.Require(ctx, "stranger", "acme", OpViewOrganization)
	assert.True(t, errors.Is(err, auth.ErrForbidden))
}
