package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
)

const (
	organizationColumns = `id, slug, name, description, max_members, plan_type, subscription_status,
		       created_by, created_at, updated_at`
	membershipColumns = `id, organization_id, user_id, role, is_active, joined_at, invited_by, updated_at`
	invitationColumns = `id, organization_id, email, role, token_hash, expires_at, created_by, created_at,
		       accepted_at, accepted_by, revoked_at`
)

type scanner interface {
	Scan(dest ...interface{}) error
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db    *sql.DB
	newID func() string
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:    db,
		newID: func() string { return uuid.New().String() },
	}
}

func scanOrganization(row scanner) (*Organization, error) {
	org := &Organization{}
	var description sql.NullString
	if err := row.Scan(
		&org.ID, &org.Slug, &org.Name, &description, &org.MaxMembers, &org.PlanType, &org.SubscriptionStatus,
		&org.CreatedBy, &org.CreatedAt, &org.UpdatedAt,
	); err != nil {
		return nil, err
	}
	org.Description = description.String
	return org, nil
}

func scanMembership(row scanner) (*Membership, error) {
	m := &Membership{}
	var invitedBy sql.NullString
	if err := row.Scan(
		&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.IsActive, &m.JoinedAt, &invitedBy, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if invitedBy.Valid {
		m.InvitedBy = &invitedBy.String
	}
	return m, nil
}

func scanInvitation(row scanner) (*Invitation, error) {
	inv := &Invitation{}
	var (
		acceptedAt, revokedAt sql.NullTime
		acceptedBy            sql.NullString
	)
	if err := row.Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.TokenHash, &inv.ExpiresAt, &inv.CreatedBy,
		&inv.CreatedAt, &acceptedAt, &acceptedBy, &revokedAt,
	); err != nil {
		return nil, err
	}
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	if acceptedBy.Valid {
		inv.AcceptedBy = &acceptedBy.String
	}
	if revokedAt.Valid {
		inv.RevokedAt = &revokedAt.Time
	}
	return inv, nil
}

// notFound converts sql.ErrNoRows into auth.ErrNotFound and anything else
// into a store error.
func notFound(op, what string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, auth.ErrNotFound)
	}
	return auth.StoreError(op, err)
}

// CreateOrganization creates an organization and makes ownerID its owner
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *Organization, ownerID string) (*Organization, *Membership, error) {
	var (
		created *Organization
		owner   *Membership
	)
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO organizations (id, slug, name, description, max_members, plan_type, subscription_status, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING ` + organizationColumns

		var err error
		created, err = scanOrganization(tx.QueryRowContext(ctx, query,
			s.newID(), org.Slug, org.Name, org.Description, org.MaxMembers, org.PlanType, org.SubscriptionStatus, ownerID,
		))
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("organization slug %q: %w", org.Slug, auth.ErrAlreadyExists)
		}
		if err != nil {
			return auth.StoreError("insert organization", err)
		}

		owner, err = scanMembership(tx.QueryRowContext(ctx, `
			INSERT INTO organization_members (id, organization_id, user_id, role, is_active)
			VALUES ($1, $2, $3, $4, true)
			RETURNING `+membershipColumns,
			s.newID(), created.ID, ownerID, RoleOwner,
		))
		if err != nil {
			return auth.StoreError("insert owner membership", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, auth.StoreError("create organization", err)
	}
	return created, owner, nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	org, err := scanOrganization(s.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("get organization", "organization "+id, err)
	}
	return org, nil
}

// GetOrganizationBySlug retrieves an organization by slug
func (s *PostgresStore) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	org, err := scanOrganization(s.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE slug = $1`, slug))
	if err != nil {
		return nil, notFound("get organization by slug", "organization "+slug, err)
	}
	return org, nil
}

// UpdateOrganization updates the mutable settings of an organization
func (s *PostgresStore) UpdateOrganization(ctx context.Context, org *Organization) (*Organization, error) {
	query := `
		UPDATE organizations
		SET name = $2, description = $3, max_members = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + organizationColumns

	updated, err := scanOrganization(s.db.QueryRowContext(ctx, query, org.ID, org.Name, org.Description, org.MaxMembers))
	if err != nil {
		return nil, notFound("update organization", "organization "+org.ID, err)
	}
	return updated, nil
}

// DeleteOrganization deletes an organization. Memberships and invitations
// are removed by ON DELETE CASCADE.
func (s *PostgresStore) DeleteOrganization(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return auth.StoreError("delete organization", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return auth.StoreError("delete organization", err)
	}
	if rows == 0 {
		return fmt.Errorf("organization %s: %w", id, auth.ErrNotFound)
	}
	return nil
}

// GetMembership returns the membership of userID in orgID, active or not
func (s *PostgresStore) GetMembership(ctx context.Context, orgID, userID string) (*Membership, error) {
	return getMembership(ctx, s.db, orgID, userID, false)
}

func getMembership(ctx context.Context, q postgres.Querier, orgID, userID string, forUpdate bool) (*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM organization_members WHERE organization_id = $1 AND user_id = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMembership(q.QueryRowContext(ctx, query, orgID, userID))
	if err != nil {
		return nil, notFound("get membership", "membership", err)
	}
	return m, nil
}

// ListMemberships lists the organizations the user is an active member of
func (s *PostgresStore) ListMemberships(ctx context.Context, userID string) ([]*Resolution, error) {
	query := `
		SELECT o.id, o.slug, o.name, o.description, o.max_members, o.plan_type, o.subscription_status,
		       o.created_by, o.created_at, o.updated_at,
		       m.id, m.organization_id, m.user_id, m.role, m.is_active, m.joined_at, m.invited_by, m.updated_at
		FROM organizations o
		INNER JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = $1 AND m.is_active = true
		ORDER BY m.joined_at ASC, m.id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, auth.StoreError("list memberships", err)
	}
	defer rows.Close()

	var out []*Resolution
	for rows.Next() {
		org := &Organization{}
		m := &Membership{}
		var (
			description sql.NullString
			invitedBy   sql.NullString
		)
		if err := rows.Scan(
			&org.ID, &org.Slug, &org.Name, &description, &org.MaxMembers, &org.PlanType, &org.SubscriptionStatus,
			&org.CreatedBy, &org.CreatedAt, &org.UpdatedAt,
			&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.IsActive, &m.JoinedAt, &invitedBy, &m.UpdatedAt,
		); err != nil {
			return nil, auth.StoreError("scan membership", err)
		}
		org.Description = description.String
		if invitedBy.Valid {
			m.InvitedBy = &invitedBy.String
		}
		out = append(out, &Resolution{Organization: org, Membership: m})
	}
	if err := rows.Err(); err != nil {
		return nil, auth.StoreError("list memberships", err)
	}
	return out, nil
}

// ListMembers lists the active members of an organization
func (s *PostgresStore) ListMembers(ctx context.Context, orgID string) ([]*Membership, error) {
	query := `SELECT ` + membershipColumns + ` FROM organization_members
		WHERE organization_id = $1 AND is_active = true
		ORDER BY joined_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, auth.StoreError("list members", err)
	}
	defer rows.Close()

	var out []*Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, auth.StoreError("scan member", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.StoreError("list members", err)
	}
	return out, nil
}

// lockOrganization takes a row lock on the organization so that member
// count and owner checks cannot interleave.
func lockOrganization(ctx context.Context, tx *sql.Tx, orgID string) (*Organization, error) {
	org, err := scanOrganization(tx.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id = $1 FOR UPDATE`, orgID))
	if err != nil {
		return nil, notFound("lock organization", "organization "+orgID, err)
	}
	return org, nil
}

func countActiveMembers(ctx context.Context, tx *sql.Tx, orgID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organization_members WHERE organization_id = $1 AND is_active = true`, orgID,
	).Scan(&n)
	if err != nil {
		return 0, auth.StoreError("count members", err)
	}
	return n, nil
}

func countActiveOwners(ctx context.Context, tx *sql.Tx, orgID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organization_members WHERE organization_id = $1 AND role = $2 AND is_active = true`,
		orgID, RoleOwner,
	).Scan(&n)
	if err != nil {
		return 0, auth.StoreError("count owners", err)
	}
	return n, nil
}

// admit creates or reactivates a membership inside tx. The organization row
// must already be locked.
func (s *PostgresStore) admit(ctx context.Context, tx *sql.Tx, org *Organization, m *Membership) (*Membership, error) {
	existing, err := getMembership(ctx, tx, org.ID, m.UserID, true)
	if err != nil && !errors.Is(err, auth.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.IsActive {
		return nil, fmt.Errorf("membership: %w", auth.ErrAlreadyExists)
	}

	if org.MaxMembers > 0 {
		n, err := countActiveMembers(ctx, tx, org.ID)
		if err != nil {
			return nil, err
		}
		if n >= org.MaxMembers {
			return nil, auth.ErrMemberLimit
		}
	}

	if existing != nil {
		reactivated, err := scanMembership(tx.QueryRowContext(ctx, `
			UPDATE organization_members
			SET role = $2, is_active = true, invited_by = $3, joined_at = NOW(), updated_at = NOW()
			WHERE id = $1
			RETURNING `+membershipColumns,
			existing.ID, m.Role, nullableString(m.InvitedBy),
		))
		if err != nil {
			return nil, auth.StoreError("reactivate membership", err)
		}
		return reactivated, nil
	}

	created, err := scanMembership(tx.QueryRowContext(ctx, `
		INSERT INTO organization_members (id, organization_id, user_id, role, is_active, invited_by)
		VALUES ($1, $2, $3, $4, true, $5)
		RETURNING `+membershipColumns,
		s.newID(), org.ID, m.UserID, m.Role, nullableString(m.InvitedBy),
	))
	if postgres.IsUniqueViolation(err) {
		return nil, fmt.Errorf("membership: %w", auth.ErrAlreadyExists)
	}
	if err != nil {
		return nil, auth.StoreError("insert membership", err)
	}
	return created, nil
}

// CreateMembership adds a member to an organization
func (s *PostgresStore) CreateMembership(ctx context.Context, m *Membership) (*Membership, error) {
	var created *Membership
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		org, err := lockOrganization(ctx, tx, m.OrganizationID)
		if err != nil {
			return err
		}
		created, err = s.admit(ctx, tx, org, m)
		return err
	})
	if err != nil {
		return nil, auth.StoreError("create membership", err)
	}
	return created, nil
}

// UpdateMemberRole changes a member's tenant role
func (s *PostgresStore) UpdateMemberRole(ctx context.Context, orgID, userID string, role TenantRole) (*Membership, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown tenant role %q", auth.ErrInvalidInput, role)
	}

	var updated *Membership
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := s.lockActiveMember(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}
		if current.Role == RoleOwner && role != RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, orgID); err != nil {
				return err
			}
		}

		updated, err = scanMembership(tx.QueryRowContext(ctx, `
			UPDATE organization_members SET role = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING `+membershipColumns,
			current.ID, role,
		))
		if err != nil {
			return auth.StoreError("update member role", err)
		}
		return nil
	})
	if err != nil {
		return nil, auth.StoreError("update member role", err)
	}
	return updated, nil
}

// RemoveMember deactivates a membership
func (s *PostgresStore) RemoveMember(ctx context.Context, orgID, userID string) error {
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		current, err := s.lockActiveMember(ctx, tx, orgID, userID)
		if err != nil {
			return err
		}
		if current.Role == RoleOwner {
			if err := ensureAnotherOwner(ctx, tx, orgID); err != nil {
				return err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE organization_members SET is_active = false, updated_at = NOW() WHERE id = $1`, current.ID,
		); err != nil {
			return auth.StoreError("remove member", err)
		}
		return nil
	})
	if err != nil {
		return auth.StoreError("remove member", err)
	}
	return nil
}

func (s *PostgresStore) lockActiveMember(ctx context.Context, tx *sql.Tx, orgID, userID string) (*Membership, error) {
	if _, err := lockOrganization(ctx, tx, orgID); err != nil {
		return nil, err
	}
	m, err := getMembership(ctx, tx, orgID, userID, true)
	if err != nil {
		return nil, err
	}
	if !m.IsActive {
		return nil, fmt.Errorf("membership: %w", auth.ErrNotFound)
	}
	return m, nil
}

func ensureAnotherOwner(ctx context.Context, tx *sql.Tx, orgID string) error {
	n, err := countActiveOwners(ctx, tx, orgID)
	if err != nil {
		return err
	}
	if n <= 1 {
		return auth.ErrLastOwner
	}
	return nil
}

// CreateInvitation stores a new invitation
func (s *PostgresStore) CreateInvitation(ctx context.Context, inv *Invitation) (*Invitation, error) {
	query := `
		INSERT INTO org_invitations (id, organization_id, email, role, token_hash, expires_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + invitationColumns

	created, err := scanInvitation(s.db.QueryRowContext(ctx, query,
		s.newID(), inv.OrganizationID, inv.Email, inv.Role, inv.TokenHash, inv.ExpiresAt, inv.CreatedBy,
	))
	if postgres.IsUniqueViolation(err) {
		return nil, fmt.Errorf("invitation token: %w", auth.ErrAlreadyExists)
	}
	if postgres.IsForeignKeyViolation(err) {
		return nil, fmt.Errorf("organization %s: %w", inv.OrganizationID, auth.ErrNotFound)
	}
	if err != nil {
		return nil, auth.StoreError("create invitation", err)
	}
	return created, nil
}

// GetInvitation retrieves an invitation of an organization by ID
func (s *PostgresStore) GetInvitation(ctx context.Context, orgID, id string) (*Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM org_invitations WHERE organization_id = $1 AND id = $2`, orgID, id))
	if err != nil {
		return nil, notFound("get invitation", "invitation "+id, err)
	}
	return inv, nil
}

// GetInvitationByTokenHash retrieves an invitation by its token hash
func (s *PostgresStore) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (*Invitation, error) {
	inv, err := scanInvitation(s.db.QueryRowContext(ctx,
		`SELECT `+invitationColumns+` FROM org_invitations WHERE token_hash = $1`, tokenHash))
	if err != nil {
		return nil, notFound("get invitation by token", "invitation", err)
	}
	return inv, nil
}

// ListInvitations lists invitations that were neither accepted nor revoked
func (s *PostgresStore) ListInvitations(ctx context.Context, orgID string) ([]*Invitation, error) {
	query := `SELECT ` + invitationColumns + ` FROM org_invitations
		WHERE organization_id = $1 AND accepted_at IS NULL AND revoked_at IS NULL
		ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, auth.StoreError("list invitations", err)
	}
	defer rows.Close()

	var out []*Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, auth.StoreError("scan invitation", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.StoreError("list invitations", err)
	}
	return out, nil
}

// RevokeInvitation marks an invitation revoked. Accepted invitations cannot
// be revoked; revoking twice is a no-op.
func (s *PostgresStore) RevokeInvitation(ctx context.Context, orgID, id string, now time.Time) error {
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		inv, err := scanInvitation(tx.QueryRowContext(ctx,
			`SELECT `+invitationColumns+` FROM org_invitations WHERE organization_id = $1 AND id = $2 FOR UPDATE`,
			orgID, id))
		if err != nil {
			return notFound("load invitation", "invitation "+id, err)
		}
		if inv.AcceptedAt != nil {
			return fmt.Errorf("invitation %s: %w", id, auth.ErrAlreadyUsed)
		}
		if inv.RevokedAt != nil {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE org_invitations SET revoked_at = $2 WHERE id = $1`, id, now,
		); err != nil {
			return auth.StoreError("revoke invitation", err)
		}
		return nil
	})
	if err != nil {
		return auth.StoreError("revoke invitation", err)
	}
	return nil
}

// RedeemInvitation consumes an invitation and admits the redeeming user.
// The invitation row is locked for the whole transaction so that exactly
// one of several concurrent redemptions succeeds.
func (s *PostgresStore) RedeemInvitation(ctx context.Context, p RedeemParams) (*Invitation, *Membership, error) {
	var (
		redeemed *Invitation
		member   *Membership
	)
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		inv, err := scanInvitation(tx.QueryRowContext(ctx,
			`SELECT `+invitationColumns+` FROM org_invitations WHERE token_hash = $1 FOR UPDATE`, p.TokenHash))
		if errors.Is(err, sql.ErrNoRows) {
			return auth.ErrInvalidToken
		}
		if err != nil {
			return auth.StoreError("load invitation", err)
		}
		if err := checkRedeemable(inv, p.Now); err != nil {
			return err
		}

		org, err := lockOrganization(ctx, tx, inv.OrganizationID)
		if err != nil {
			return err
		}
		member, err = s.admit(ctx, tx, org, &Membership{
			OrganizationID: org.ID,
			UserID:         p.UserID,
			Role:           inv.Role,
			InvitedBy:      &inv.CreatedBy,
		})
		if err != nil {
			return err
		}

		redeemed, err = scanInvitation(tx.QueryRowContext(ctx, `
			UPDATE org_invitations SET accepted_at = $2, accepted_by = $3
			WHERE id = $1
			RETURNING `+invitationColumns,
			inv.ID, p.Now, p.UserID,
		))
		if err != nil {
			return auth.StoreError("accept invitation", err)
		}
		return nil
	})
	if err != nil {
		return nil, nil, auth.StoreError("redeem invitation", err)
	}
	return redeemed, member, nil
}

// checkRedeemable validates a locked invitation. Revoked invitations are
// reported as an invalid token.
func checkRedeemable(inv *Invitation, now time.Time) error {
	switch {
	case inv.RevokedAt != nil:
		return fmt.Errorf("invitation revoked: %w", auth.ErrInvalidToken)
	case inv.AcceptedAt != nil:
		return fmt.Errorf("invitation: %w", auth.ErrAlreadyUsed)
	case !now.Before(inv.ExpiresAt):
		return fmt.Errorf("invitation: %w", auth.ErrExpired)
	}
	return nil
}

// PurgeExpiredInvitations deletes invitations that expired before cutoff
// without being accepted.
func (s *PostgresStore) PurgeExpiredInvitations(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM org_invitations WHERE accepted_at IS NULL AND expires_at < $1`, cutoff)
	if err != nil {
		return 0, auth.StoreError("purge invitations", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, auth.StoreError("purge invitations", err)
	}
	return n, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
