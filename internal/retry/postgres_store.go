package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alexnthnz/notification-dispatch/internal/database"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// PostgresStore persists scheduled retries in the scheduled_retries
// table so pending redeliveries survive restarts.
type PostgresStore struct {
	db *database.PostgresDB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Upsert(ctx context.Context, item ScheduledRetry) error {
	data, err := marshalData(item.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal retry payload: %w", err)
	}

	query := `
		INSERT INTO scheduled_retries
			(event_id, channel, recipient_id, title, body, data, type, attempt, next_attempt_at, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id, channel) DO UPDATE SET
			attempt = EXCLUDED.attempt,
			next_attempt_at = EXCLUDED.next_attempt_at,
			last_error = EXCLUDED.last_error
	`
	_, err = s.db.ExecContext(ctx, query,
		item.EventID, item.Channel, item.RecipientID, item.Title, item.Body,
		data, item.Type, item.Attempt, item.NextAttemptAt, item.LastError, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert scheduled retry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Due(ctx context.Context, now time.Time, limit int) ([]ScheduledRetry, error) {
	query := `
		SELECT event_id, channel, recipient_id, title, body, data, type, attempt, next_attempt_at, last_error, created_at
		FROM scheduled_retries
		WHERE next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due retries: %w", err)
	}
	defer rows.Close()

	var out []ScheduledRetry
	for rows.Next() {
		var item ScheduledRetry
		var data []byte
		if err := rows.Scan(
			&item.EventID, &item.Channel, &item.RecipientID, &item.Title, &item.Body,
			&data, &item.Type, &item.Attempt, &item.NextAttemptAt, &item.LastError, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan scheduled retry: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &item.Data); err != nil {
				return nil, fmt.Errorf("corrupt retry payload for event %s: %w", item.EventID, err)
			}
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, eventID string, channel notification.Channel) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduled_retries WHERE event_id = $1 AND channel = $2`, eventID, channel)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled retry: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteEvent(ctx context.Context, eventID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_retries WHERE event_id = $1`, eventID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete retries for event: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) PurgeUser(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_retries WHERE recipient_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to purge retries for user: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
