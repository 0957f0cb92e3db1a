package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
)

// superAdminLockKey serialises every write that can change the number of
// active super admins.
const superAdminLockKey int64 = 0x7467_7375_7065_7201

const profileColumns = `principal_id, role, is_active, first_name, last_name, display_name,
		       created_at, updated_at, updated_by`

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func scanProfile(row interface{ Scan(...interface{}) error }) (*Profile, error) {
	p := &Profile{}
	var (
		role      string
		updatedBy sql.NullString
	)
	if err := row.Scan(
		&p.PrincipalID, &role, &p.IsActive, &p.FirstName, &p.LastName, &p.DisplayName,
		&p.CreatedAt, &p.UpdatedAt, &updatedBy,
	); err != nil {
		return nil, err
	}
	// An unrecognised stored role degrades to the least privileged role.
	p.Role = rbac.Role(role)
	if !p.Role.Valid() {
		p.Role = rbac.RoleUser
	}
	if updatedBy.Valid {
		p.UpdatedBy = &updatedBy.String
	}
	return p, nil
}

// GetProfile retrieves a profile by principal ID
func (s *PostgresStore) GetProfile(ctx context.Context, principalID string) (*Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE principal_id = $1`

	p, err := scanProfile(s.db.QueryRowContext(ctx, query, principalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", principalID, auth.ErrNotFound)
	}
	if err != nil {
		return nil, auth.StoreError("get profile", err)
	}
	return p, nil
}

// UpsertProfile creates or updates the descriptive fields of a profile. A
// new profile starts as an active user; role and active flag of an existing
// profile are never changed here.
func (s *PostgresStore) UpsertProfile(ctx context.Context, profile *Profile) (*Profile, error) {
	query := `
		INSERT INTO profiles (principal_id, role, is_active, first_name, last_name, display_name, updated_by)
		VALUES ($1, 'user', true, $2, $3, $4, $5)
		ON CONFLICT (principal_id) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			display_name = EXCLUDED.display_name,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING ` + profileColumns

	p, err := scanProfile(s.db.QueryRowContext(ctx, query,
		profile.PrincipalID, profile.FirstName, profile.LastName, profile.DisplayName,
		nullableString(profile.UpdatedBy),
	))
	if err != nil {
		return nil, auth.StoreError("upsert profile", err)
	}
	return p, nil
}

// ListProfiles returns profiles ordered by creation time
func (s *PostgresStore) ListProfiles(ctx context.Context, limit, offset int) ([]*Profile, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + profileColumns + ` FROM profiles ORDER BY created_at ASC, principal_id ASC LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, auth.StoreError("list profiles", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, auth.StoreError("scan profile", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, auth.StoreError("list profiles", err)
	}
	return out, nil
}

// CountSuperAdmins counts active super admins
func (s *PostgresStore) CountSuperAdmins(ctx context.Context) (int, error) {
	return countSuperAdmins(ctx, s.db)
}

func countSuperAdmins(ctx context.Context, q postgres.Querier) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles WHERE role = $1 AND is_active = true`,
		rbac.RoleSuperAdmin,
	).Scan(&n)
	if err != nil {
		return 0, auth.StoreError("count super admins", err)
	}
	return n, nil
}

func lockSuperAdmins(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, superAdminLockKey); err != nil {
		return auth.StoreError("lock super admins", err)
	}
	return nil
}

// CreateFirstSuperAdmin inserts profile as the first super admin. Concurrent
// callers serialise on an advisory transaction lock, so exactly one of them
// observes a zero count.
func (s *PostgresStore) CreateFirstSuperAdmin(ctx context.Context, profile *Profile) (*Profile, error) {
	var created *Profile
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockSuperAdmins(ctx, tx); err != nil {
			return err
		}

		n, err := countSuperAdmins(ctx, tx)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("super admin: %w", auth.ErrAlreadyExists)
		}

		query := `
			INSERT INTO profiles (principal_id, role, is_active, first_name, last_name, display_name, updated_by)
			VALUES ($1, $2, true, $3, $4, $5, $1)
			ON CONFLICT (principal_id) DO UPDATE SET
				role = EXCLUDED.role,
				is_active = true,
				updated_by = EXCLUDED.updated_by,
				updated_at = NOW()
			RETURNING ` + profileColumns

		created, err = scanProfile(tx.QueryRowContext(ctx, query,
			profile.PrincipalID, rbac.RoleSuperAdmin, profile.FirstName, profile.LastName, profile.DisplayName,
		))
		if err != nil {
			return auth.StoreError("create super admin", err)
		}
		return nil
	})
	if err != nil {
		return nil, auth.StoreError("create first super admin", err)
	}
	return created, nil
}

// SetRole changes a principal's role. Demoting the last active super admin
// fails with auth.ErrLastSuperAdmin.
func (s *PostgresStore) SetRole(ctx context.Context, principalID string, role rbac.Role, actorID string) (*Profile, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, role)
	}
	return s.mutate(ctx, principalID, func(current *Profile) error {
		if current.Role == rbac.RoleSuperAdmin && current.IsActive && role != rbac.RoleSuperAdmin {
			return errLastSuperAdminGuard
		}
		return nil
	}, `UPDATE profiles SET role = $2, updated_by = $3, updated_at = NOW() WHERE principal_id = $1 RETURNING `+profileColumns,
		principalID, role, actorID)
}

// SetActive activates or deactivates a principal. Deactivating the last
// active super admin fails with auth.ErrLastSuperAdmin.
func (s *PostgresStore) SetActive(ctx context.Context, principalID string, active bool, actorID string) (*Profile, error) {
	return s.mutate(ctx, principalID, func(current *Profile) error {
		if current.Role == rbac.RoleSuperAdmin && current.IsActive && !active {
			return errLastSuperAdminGuard
		}
		return nil
	}, `UPDATE profiles SET is_active = $2, updated_by = $3, updated_at = NOW() WHERE principal_id = $1 RETURNING `+profileColumns,
		principalID, active, actorID)
}

// errLastSuperAdminGuard signals that the write removes an active super
// admin and the remaining count must be checked first.
var errLastSuperAdminGuard = errors.New("removes a super admin")

func (s *PostgresStore) mutate(ctx context.Context, principalID string, check func(*Profile) error, update string, args ...interface{}) (*Profile, error) {
	var updated *Profile
	err := postgres.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := lockSuperAdmins(ctx, tx); err != nil {
			return err
		}

		current, err := scanProfile(tx.QueryRowContext(ctx,
			`SELECT `+profileColumns+` FROM profiles WHERE principal_id = $1 FOR UPDATE`, principalID))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("profile %s: %w", principalID, auth.ErrNotFound)
		}
		if err != nil {
			return auth.StoreError("load profile", err)
		}

		if err := check(current); err != nil {
			n, err := countSuperAdmins(ctx, tx)
			if err != nil {
				return err
			}
			if n <= 1 {
				return auth.ErrLastSuperAdmin
			}
		}

		updated, err = scanProfile(tx.QueryRowContext(ctx, update, args...))
		if err != nil {
			return auth.StoreError("update profile", err)
		}
		return nil
	})
	if err != nil {
		return nil, auth.StoreError("update profile", err)
	}
	return updated, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
