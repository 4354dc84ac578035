package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/alexnthnz/notification-dispatch/internal/database"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// PostgresStore persists attempts in the delivery_attempts table. A
// partial unique index on (event_id, channel) where outcome =
// 'delivered' enforces the at-most-one-success invariant at the
// storage layer as well.
type PostgresStore struct {
	db *database.PostgresDB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, attempt notification.DeliveryAttempt) error {
	query := `
		INSERT INTO delivery_attempts (id, event_id, channel, outcome, error, retry_count, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		attempt.ID, attempt.EventID, attempt.Channel, attempt.Outcome,
		attempt.Error, attempt.RetryCount, attempt.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery attempt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByEvent(ctx context.Context, eventID string) ([]notification.DeliveryAttempt, error) {
	query := `
		SELECT id, event_id, channel, outcome, error, retry_count, attempted_at
		FROM delivery_attempts WHERE event_id = $1 ORDER BY attempted_at
	`
	rows, err := s.db.QueryContext(ctx, query, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery attempts: %w", err)
	}
	defer rows.Close()

	var out []notification.DeliveryAttempt
	for rows.Next() {
		var a notification.DeliveryAttempt
		if err := rows.Scan(&a.ID, &a.EventID, &a.Channel, &a.Outcome, &a.Error, &a.RetryCount, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan delivery attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) HasDelivered(ctx context.Context, eventID string, channel notification.Channel) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM delivery_attempts
			WHERE event_id = $1 AND channel = $2 AND outcome = 'delivered'
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, eventID, channel).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check delivered attempts: %w", err)
	}
	return exists, nil
}

// RedisClaimer serializes (event, channel) attempts across dispatcher
// instances using the shared Redis claim keys.
type RedisClaimer struct {
	redis *database.RedisClient
}

// NewRedisClaimer creates a claimer on an existing Redis client.
func NewRedisClaimer(redis *database.RedisClient) *RedisClaimer {
	return &RedisClaimer{redis: redis}
}

func (c *RedisClaimer) Acquire(ctx context.Context, eventID string, channel notification.Channel, ttl time.Duration) (bool, error) {
	return c.redis.ClaimDelivery(ctx, eventID, string(channel), ttl)
}

func (c *RedisClaimer) Release(ctx context.Context, eventID string, channel notification.Channel) error {
	return c.redis.ReleaseDelivery(ctx, eventID, string(channel))
}
