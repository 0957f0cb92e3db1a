package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// DBLogger implements audit logging to the audit_logs table. The table is
// created by storage/postgres migrations.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts an audit event
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			actor_id, organization_id,
			resource_type, resource_id, reason,
			ip_address, user_agent, request_id,
			method, path, message, metadata
		) VALUES (
			$1, $2, $3,
			$4, $5,
			$6, $7, $8,
			$9, $10, $11,
			$12, $13, $14, $15
		) RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, event.EventType, event.Status,
		nullString(event.ActorID), nullString(event.OrganizationID),
		nullString(string(event.ResourceType)), nullString(event.ResourceID), nullString(event.Reason),
		nullString(event.IPAddress), nullString(event.UserAgent), nullString(event.RequestID),
		nullString(event.Method), nullString(event.Path), nullString(event.Message), metadataJSON,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Search returns the most recent events matching filter
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.Status != "" {
		add("status = $%d", filter.Status)
	}
	if filter.Since != nil {
		add("timestamp >= $%d", *filter.Since)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, event_type, status,
			COALESCE(actor_id, ''), COALESCE(organization_id, ''),
			COALESCE(resource_type, ''), COALESCE(resource_id, ''), COALESCE(reason, ''),
			COALESCE(ip_address, ''), COALESCE(request_id, ''), COALESCE(message, ''), metadata
		FROM audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var events []*AuditEvent
	for rows.Next() {
		var (
			e        AuditEvent
			metadata []byte
		)
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.EventType, &e.Status,
			&e.ActorID, &e.OrganizationID,
			&e.ResourceType, &e.ResourceID, &e.Reason,
			&e.IPAddress, &e.RequestID, &e.Message, &metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Close implements Logger. The database handle is owned by the caller.
func (l *DBLogger) Close() error {
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
