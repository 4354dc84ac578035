package preferences

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/alexnthnz/notification-dispatch/internal/database"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// PostgresStore persists preferences in the notification_preferences
// table. The per-type channel map is stored as JSONB.
type PostgresStore struct {
	db *database.PostgresDB
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*notification.Preferences, error) {
	query := `
		SELECT user_id, channels, quiet_start, quiet_end, timezone,
		       max_per_hour, max_per_day, require_confirmation, created_at, updated_at
		FROM notification_preferences WHERE user_id = $1
	`

	var prefs notification.Preferences
	var channels []byte
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&prefs.UserID, &channels, &prefs.QuietStart, &prefs.QuietEnd, &prefs.Timezone,
		&prefs.MaxPerHour, &prefs.MaxPerDay, &prefs.RequireConfirmation,
		&prefs.CreatedAt, &prefs.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query preferences: %w", err)
	}

	if len(channels) > 0 {
		if err := json.Unmarshal(channels, &prefs.Channels); err != nil {
			return nil, fmt.Errorf("corrupt channel map for user %s: %w", userID, err)
		}
	}
	return &prefs, nil
}

func (s *PostgresStore) Put(ctx context.Context, prefs notification.Preferences) error {
	channels, err := json.Marshal(prefs.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channel map: %w", err)
	}

	query := `
		INSERT INTO notification_preferences
			(user_id, channels, quiet_start, quiet_end, timezone,
			 max_per_hour, max_per_day, require_confirmation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			channels = EXCLUDED.channels,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			timezone = EXCLUDED.timezone,
			max_per_hour = EXCLUDED.max_per_hour,
			max_per_day = EXCLUDED.max_per_day,
			require_confirmation = EXCLUDED.require_confirmation,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		prefs.UserID, channels, prefs.QuietStart, prefs.QuietEnd, prefs.Timezone,
		prefs.MaxPerHour, prefs.MaxPerDay, prefs.RequireConfirmation,
		prefs.CreatedAt, prefs.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preferences: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notification_preferences WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	return nil
}
