package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexnthnz/notification-dispatch/internal/database"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// PostgresStore persists queued notifications in the
// queued_notifications table. The unique constraint on event_id makes
// Insert idempotent under re-dispatch.
type PostgresStore struct {
	db *database.PostgresDB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, item notification.QueuedNotification) error {
	data, err := json.Marshal(item.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO queued_notifications
			(id, event_id, recipient_id, type, title, body, data, retry_count, max_retries, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING
	`
	_, err = s.db.ExecContext(ctx, query,
		item.ID, item.EventID, item.RecipientID, item.Type, item.Title, item.Body,
		data, item.RetryCount, item.MaxRetries, item.NextRetryAt, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert queued notification: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, event_id, recipient_id, type, title, body, data,
	       retry_count, max_retries, next_retry_at, last_error, delivered_at, created_at
	FROM queued_notifications
`

func (s *PostgresStore) PendingFor(ctx context.Context, recipientID string) ([]notification.QueuedNotification, error) {
	query := selectColumns + ` WHERE recipient_id = $1 AND delivered_at IS NULL ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, recipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending notifications: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func (s *PostgresStore) Due(ctx context.Context, now time.Time, limit int) ([]notification.QueuedNotification, error) {
	query := selectColumns + ` WHERE delivered_at IS NULL AND next_retry_at <= $1 ORDER BY next_retry_at LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due notifications: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queued_notifications SET delivered_at = $1 WHERE id = $2 AND delivered_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification delivered: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time, lastError string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queued_notifications SET retry_count = $1, next_retry_at = $2, last_error = $3 WHERE id = $4`,
		retryCount, nextRetryAt, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to update retry state: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queued_notifications WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete queued notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queued_notifications WHERE delivered_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending notifications: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) PurgeUser(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queued_notifications WHERE recipient_id = $1 AND delivered_at IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge queued notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) DeleteDeliveredBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queued_notifications WHERE delivered_at IS NOT NULL AND delivered_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune delivered notifications: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanItems(rows *sql.Rows) ([]notification.QueuedNotification, error) {
	var out []notification.QueuedNotification
	for rows.Next() {
		var item notification.QueuedNotification
		var data []byte
		var lastError sql.NullString
		var deliveredAt sql.NullTime

		if err := rows.Scan(
			&item.ID, &item.EventID, &item.RecipientID, &item.Type, &item.Title, &item.Body,
			&data, &item.RetryCount, &item.MaxRetries, &item.NextRetryAt, &lastError, &deliveredAt, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan queued notification: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &item.Data); err != nil {
				return nil, fmt.Errorf("corrupt payload for event %s: %w", item.EventID, err)
			}
		}
		if lastError.Valid {
			item.LastError = lastError.String
		}
		if deliveredAt.Valid {
			item.DeliveredAt = &deliveredAt.Time
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
