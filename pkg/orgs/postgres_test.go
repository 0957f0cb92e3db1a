package orgs

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/auth"
)

var (
	orgCols = []string{
		"id", "slug", "name", "description", "max_members", "plan_type", "subscription_status",
		"created_by", "created_at", "updated_at",
	}
	memberCols = []string{"id", "organization_id", "user_id", "role", "is_active", "joined_at", "invited_by", "updated_at"}
	inviteCols = []string{
		"id", "organization_id", "email", "role", "token_hash", "expires_at", "created_by", "created_at",
		"accepted_at", "accepted_by", "revoked_at",
	}
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewPostgresStore(db)
	store.newID = func() string { return "00000000-0000-0000-0000-000000000001" }
	return store, mock
}

func orgRow(id string, maxMembers int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(orgCols).AddRow(id, "acme", "Acme", nil, maxMembers, "free", "active", "owner", now, now)
}

func memberRow(id, userID, role string, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(memberCols).AddRow(id, "org-1", userID, role, active, now, nil, now)
}

func inviteRow(expires time.Time, acceptedAt, revokedAt interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(inviteCols).AddRow(
		"inv-1", "org-1", "a@example.com", "member", "hash", expires, "owner", time.Now(),
		acceptedAt, nil, revokedAt,
	)
}

func TestPostgresStore_CreateOrganization(t *testing.T) {
	ctx := context.Background()

	t.Run("creates organization and owner", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO organizations").
			WithArgs(sqlmock.AnyArg(), "acme", "Acme", "", 0, "free", "active", "u1").
			WillReturnRows(orgRow("org-1", 0))
		mock.ExpectQuery("INSERT INTO organization_members").
			WithArgs(sqlmock.AnyArg(), "org-1", "u1", "owner").
			WillReturnRows(memberRow("m-1", "u1", "owner", true))
		mock.ExpectCommit()

		org, owner, err := store.CreateOrganization(ctx, &Organization{
			Slug: "acme", Name: "Acme", PlanType: PlanFree, SubscriptionStatus: SubscriptionActive,
		}, "u1")
		require.NoError(t, err)
		assert.Equal(t, "org-1", org.ID)
		assert.Equal(t, "", org.Description)
		assert.Equal(t, RoleOwner, owner.Role)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate slug", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO organizations").WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		_, _, err := store.CreateOrganization(ctx, &Organization{Slug: "acme", Name: "Acme"}, "u1")
		assert.True(t, errors.Is(err, auth.ErrAlreadyExists))
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_GetOrganization(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM organizations WHERE slug = \\$1").
		WithArgs("acme").
		WillReturnError(errors.New("connection reset"))

	_, err := store.GetOrganization(context.Background(), "missing")
	assert.True(t, errors.Is(err, auth.ErrNotFound))

	_, err = store.GetOrganizationBySlug(context.Background(), "acme")
	assert.True(t, errors.Is(err, auth.ErrStoreUnavailable))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListMemberships(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	cols := append(append([]string{}, orgCols...), memberCols...)
	mock.ExpectQuery("SELECT (.+) FROM organizations o INNER JOIN organization_members m (.+) ORDER BY m.joined_at ASC, m.id ASC").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("org-1", "acme", "Acme", "desc", 10, "pro", "active", "u1", now, now,
				"m-1", "org-1", "u1", "owner", true, now, nil, now).
			AddRow("org-2", "beta", "Beta", nil, 0, "free", "active", "u2", now, now,
				"m-2", "org-2", "u1", "member", true, now, "u2", now))

	list, err := store.ListMemberships(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "acme", list[0].Organization.Slug)
	assert.Equal(t, PlanPro, list[0].Organization.PlanType)
	assert.Equal(t, RoleMember, list[1].Membership.Role)
	require.NotNil(t, list[1].Membership.InvitedBy)
	assert.Equal(t, "u2", *list[1].Membership.InvitedBy)
}

func TestPostgresStore_CreateMembership(t *testing.T) {
	ctx := context.Background()

	t.Run("member limit", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = \\$1 FOR UPDATE").
			WithArgs("org-1").
			WillReturnRows(orgRow("org-1", 2))
		mock.ExpectQuery("SELECT (.+) FROM organization_members WHERE organization_id = \\$1 AND user_id = \\$2 FOR UPDATE").
			WithArgs("org-1", "u3").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM organization_members").
			WithArgs("org-1").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectRollback()

		_, err := store.CreateMembership(ctx, &Membership{OrganizationID: "org-1", UserID: "u3", Role: RoleMember})
		assert.True(t, errors.Is(err, auth.ErrMemberLimit))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reactivates inactive membership", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = \\$1 FOR UPDATE").
			WillReturnRows(orgRow("org-1", 0))
		mock.ExpectQuery("SELECT (.+) FROM organization_members (.+) FOR UPDATE").
			WillReturnRows(memberRow("m-9", "u3", "member", false))
		mock.ExpectQuery("UPDATE organization_members SET role = \\$2, is_active = true").
			WithArgs("m-9", "manager", nil).
			WillReturnRows(memberRow("m-9", "u3", "manager", true))
		mock.ExpectCommit()

		m, err := store.CreateMembership(ctx, &Membership{OrganizationID: "org-1", UserID: "u3", Role: RoleManager})
		require.NoError(t, err)
		assert.Equal(t, "m-9", m.ID)
		assert.True(t, m.IsActive)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("already active", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM organizations").WillReturnRows(orgRow("org-1", 0))
		mock.ExpectQuery("SELECT (.+) FROM organization_members").
			WillReturnRows(memberRow("m-1", "u1", "member", true))
		mock.ExpectRollback()

		_, err := store.CreateMembership(ctx, &Membership{OrganizationID: "org-1", UserID: "u1", Role: RoleMember})
		assert.True(t, errors.Is(err, auth.ErrAlreadyExists))
	})
}

func TestPostgresStore_UpdateMemberRole(t *testing.T) {
	ctx := context.Background()

	t.Run("last owner", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = \\$1 FOR UPDATE").WillReturnRows(orgRow("org-1", 0))
		mock.ExpectQuery("SELECT (.+) FROM organization_members (.+) FOR UPDATE").
			WillReturnRows(memberRow("m-1", "owner", "owner", true))
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM organization_members WHERE organization_id = \\$1 AND role = \\$2").
			WithArgs("org-1", "owner").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
		mock.ExpectRollback()

		_, err := store.UpdateMemberRole(ctx, "org-1", "owner", RoleAdmin)
		assert.True(t, errors.Is(err, auth.ErrLastOwner))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("promotes member", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM organizations").WillReturnRows(orgRow("org-1", 0))
		mock.ExpectQuery("SELECT (.+) FROM organization_members").
			WillReturnRows(memberRow("m-2", "u2", "member", true))
		mock.ExpectQuery("UPDATE organization_members SET role = \\$2").
			WithArgs("m-2", "admin").
			WillReturnRows(memberRow("m-2", "u2", "admin", true))
		mock.ExpectCommit()

		m, err := store.UpdateMemberRole(ctx, "org-1", "u2", RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, m.Role)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("inactive member is not found", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM organizations").WillReturnRows(orgRow("org-1", 0))
		mock.ExpectQuery("SELECT (.+) FROM organization_members").
			WillReturnRows(memberRow("m-2", "u2", "member", false))
		mock.ExpectRollback()

		_, err := store.UpdateMemberRole(ctx, "org-1", "u2", RoleAdmin)
		assert.True(t, errors.Is(err, auth.ErrNotFound))
	})
}

func TestPostgresStore_RemoveMember(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM organizations").WillReturnRows(orgRow("org-1", 0))
	mock.ExpectQuery("SELECT (.+) FROM organization_members").
		WillReturnRows(memberRow("m-2", "u2", "member", true))
	mock.ExpectExec("UPDATE organization_members SET is_active = false").
		WithArgs("m-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.RemoveMember(context.Background(), "org-1", "u2"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RedeemInvitation(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("admits new member", func(t *testing.T) {
		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM org_invitations WHERE token_hash = \\$1 FOR UPDATE").
			WithArgs("hash").
			WillReturnRows(inviteRow(now.Add(time.Hour), nil, nil))
		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = \\$1 FOR UPDATE").
			WithArgs("org-1").
			WillReturnRows(orgRow("org-1", 0))
		mock.ExpectQuery("SELECT (.+) FROM organization_members (.+) FOR UPDATE").
			WithArgs("org-1", "u1").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectQuery("INSERT INTO organization_members").
			WithArgs(sqlmock.AnyArg(), "org-1", "u1", "member", "owner").
			WillReturnRows(memberRow("m-5", "u1", "member", true))
		mock.ExpectQuery("UPDATE org_invitations SET accepted_at = \\$2, accepted_by = \\$3").
			WithArgs("inv-1", now, "u1").
			WillReturnRows(inviteRow(now.Add(time.Hour), now, nil))
		mock.ExpectCommit()

		inv, m, err := store.RedeemInvitation(ctx, RedeemParams{TokenHash: "hash", UserID: "u1", Now: now})
		require.NoError(t, err)
		assert.NotNil(t, inv.AcceptedAt)
		assert.Equal(t, "u1", m.UserID)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		err     error
		wantErr error
	}{
		{"unknown token", nil, sql.ErrNoRows, auth.ErrInvalidToken},
		{"already accepted", inviteRow(now.Add(time.Hour), now.Add(-time.Minute), nil), nil, auth.ErrAlreadyUsed},
		{"revoked", inviteRow(now.Add(time.Hour), nil, now.Add(-time.Minute)), nil, auth.ErrInvalidToken},
		{"expired", inviteRow(now.Add(-time.Second), nil, nil), nil, auth.ErrExpired},
		{"database down", nil, errors.New("connection refused"), auth.ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectBegin()
			q := mock.ExpectQuery("SELECT (.+) FROM org_invitations WHERE token_hash = \\$1 FOR UPDATE")
			if tt.err != nil {
				q.WillReturnError(tt.err)
			} else {
				q.WillReturnRows(tt.rows)
			}
			mock.ExpectRollback()

			_, _, err := store.RedeemInvitation(ctx, RedeemParams{TokenHash: "hash", UserID: "u1", Now: now})
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_RevokeInvitation(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM org_invitations WHERE organization_id = \\$1 AND id = \\$2 FOR UPDATE").
		WithArgs("org-1", "inv-1").
		WillReturnRows(inviteRow(now.Add(time.Hour), nil, nil))
	mock.ExpectExec("UPDATE org_invitations SET revoked_at = \\$2").
		WithArgs("inv-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.RevokeInvitation(context.Background(), "org-1", "inv-1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeExpiredInvitations(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now()
	mock.ExpectExec("DELETE FROM org_invitations WHERE accepted_at IS NULL AND expires_at < \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := store.PurgeExpiredInvitations(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestPostgresStore_DeleteOrganizationNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM organizations WHERE id = \\$1").
		WithArgs("org-x").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteOrganization(context.Background(), "org-x")
	assert.True(t, errors.Is(err, auth.ErrNotFound))
}
