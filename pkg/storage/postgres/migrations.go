package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// migrationLockKey serialises Migrate across processes starting together
const migrationLockKey int64 = 0x7467_6d69_6772_6174

// Migration is one forward-only schema change
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the schema in order. Applied versions are never
// edited; changes are appended as new versions.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create principals table",
			SQL: `
				CREATE TABLE IF NOT EXISTS principals (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					password_hash TEXT NOT NULL,
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					last_sign_in_at TIMESTAMPTZ
				);
			`,
		},
		{
			Version:     2,
			Description: "Create profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS profiles (
					principal_id TEXT PRIMARY KEY,
					role TEXT NOT NULL DEFAULT 'user'
						CHECK (role IN ('user', 'moderator', 'admin', 'super_admin')),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					first_name TEXT NOT NULL DEFAULT '',
					last_name TEXT NOT NULL DEFAULT '',
					display_name TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_by TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_profiles_active_super_admins
					ON profiles(role) WHERE role = 'super_admin' AND is_active;
			`,
		},
		{
			Version:     3,
			Description: "Create organizations and memberships",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id TEXT PRIMARY KEY,
					slug TEXT NOT NULL UNIQUE,
					name TEXT NOT NULL,
					description TEXT,
					max_members INT NOT NULL DEFAULT 0 CHECK (max_members >= 0),
					plan_type TEXT NOT NULL DEFAULT 'free',
					subscription_status TEXT NOT NULL DEFAULT 'active',
					created_by TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS organization_members (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL,
					role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'manager', 'member')),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					invited_by TEXT,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_organization_members_user
					ON organization_members(user_id, joined_at, id) WHERE is_active;
			`,
		},
		{
			Version:     4,
			Description: "Create org_invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_invitations (
					id TEXT PRIMARY KEY,
					organization_id TEXT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					email TEXT NOT NULL,
					role TEXT NOT NULL CHECK (role IN ('owner', 'admin', 'manager', 'member')),
					token_hash TEXT NOT NULL UNIQUE,
					expires_at TIMESTAMPTZ NOT NULL,
					created_by TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					accepted_at TIMESTAMPTZ,
					accepted_by TEXT,
					revoked_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_org_invitations_org
					ON org_invitations(organization_id, created_at);
				CREATE INDEX IF NOT EXISTS idx_org_invitations_pending_expiry
					ON org_invitations(expires_at) WHERE accepted_at IS NULL;
			`,
		},
		{
			Version:     5,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL,
					event_type TEXT NOT NULL,
					status TEXT NOT NULL,
					actor_id TEXT,
					organization_id TEXT,
					resource_type TEXT,
					resource_id TEXT,
					reason TEXT,
					ip_address TEXT,
					user_agent TEXT,
					request_id TEXT,
					method TEXT,
					path TEXT,
					message TEXT,
					metadata JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON audit_logs(actor_id, timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_org ON audit_logs(organization_id, timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type, timestamp DESC);
			`,
		},
	}
}

// Migrate applies every pending migration, each in its own transaction.
// Concurrent callers wait on an advisory lock and skip versions another
// caller already applied.
func Migrate(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	for _, m := range Migrations() {
		applied := false
		err := WithTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
				return fmt.Errorf("failed to acquire migration lock: %w", err)
			}

			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
			).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
			}
			if exists {
				return nil
			}

			if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
				m.Version, m.Description,
			); err != nil {
				return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
			}
			applied = true
			return nil
		})
		if err != nil {
			return err
		}
		if applied {
			logger.WithFields(map[string]interface{}{
				"version":     m.Version,
				"description": m.Description,
			}).Info("migration applied")
		}
	}

	return nil
}
