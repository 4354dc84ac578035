package audit

import (
	"context"
	"fmt"

	"github.com/alexnthnz/notification-dispatch/internal/database"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// PostgresStore persists audit entries in the audit_log table.
type PostgresStore struct {
	db *database.PostgresDB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry notification.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (id, event_id, user_id, decision, channel, detail, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.EventID, entry.UserID, entry.Decision,
		entry.Channel, entry.Detail, entry.Actor, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEvent(ctx context.Context, eventID string) ([]notification.AuditLogEntry, error) {
	query := `
		SELECT id, event_id, user_id, decision, channel, detail, actor, created_at
		FROM audit_log WHERE event_id = $1 ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int) ([]notification.AuditLogEntry, error) {
	query := `
		SELECT id, event_id, user_id, decision, channel, detail, actor, created_at
		FROM audit_log WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEntries(rows rowScanner) ([]notification.AuditLogEntry, error) {
	var out []notification.AuditLogEntry
	for rows.Next() {
		var e notification.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.EventID, &e.UserID, &e.Decision, &e.Channel, &e.Detail, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
