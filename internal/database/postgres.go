package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/alexnthnz/notification-dispatch/internal/config"
	_ "github.com/lib/pq"
)

// PostgresDB wraps sql.DB for PostgreSQL operations
type PostgresDB struct {
	*sql.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(cfg config.DatabaseConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

// InitSchema initializes the dispatcher schema
func (db *PostgresDB) InitSchema() error {
	schema := `
	-- Delivery attempts: append-only, one row per (event, channel) send.
	CREATE TABLE IF NOT EXISTS delivery_attempts (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		event_id VARCHAR(255) NOT NULL,
		channel VARCHAR(50) NOT NULL,
		outcome VARCHAR(50) NOT NULL, -- delivered, transient_failure, permanent_failure, suppressed
		error TEXT,
		retry_count INTEGER DEFAULT 0,
		attempted_at TIMESTAMP DEFAULT NOW()
	);

	-- At most one successful attempt per (event, channel).
	CREATE UNIQUE INDEX IF NOT EXISTS idx_delivery_attempts_delivered
		ON delivery_attempts(event_id, channel) WHERE outcome = 'delivered';

	-- Offline queue: notifications awaiting replay.
	CREATE TABLE IF NOT EXISTS queued_notifications (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		event_id VARCHAR(255) UNIQUE NOT NULL,
		recipient_id VARCHAR(255) NOT NULL,
		type VARCHAR(50) NOT NULL,
		title VARCHAR(500),
		body TEXT NOT NULL,
		data JSONB,
		retry_count INTEGER DEFAULT 0,
		max_retries INTEGER NOT NULL,
		next_retry_at TIMESTAMP NOT NULL,
		last_error TEXT,
		delivered_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT NOW()
	);

	-- Scheduled per-channel retries.
	CREATE TABLE IF NOT EXISTS scheduled_retries (
		event_id VARCHAR(255) NOT NULL,
		channel VARCHAR(50) NOT NULL,
		recipient_id VARCHAR(255) NOT NULL,
		title VARCHAR(500),
		body TEXT NOT NULL,
		data JSONB,
		type VARCHAR(50) NOT NULL,
		attempt INTEGER DEFAULT 0,
		next_attempt_at TIMESTAMP NOT NULL,
		last_error TEXT,
		created_at TIMESTAMP DEFAULT NOW(),
		PRIMARY KEY (event_id, channel)
	);

	-- Notification preferences, one row per user.
	CREATE TABLE IF NOT EXISTS notification_preferences (
		user_id VARCHAR(255) PRIMARY KEY,
		channels JSONB,
		quiet_start INTEGER DEFAULT 0,
		quiet_end INTEGER DEFAULT 0,
		timezone VARCHAR(100) DEFAULT 'UTC',
		max_per_hour INTEGER DEFAULT 0,
		max_per_day INTEGER DEFAULT 0,
		require_confirmation BOOLEAN DEFAULT false,
		created_at TIMESTAMP DEFAULT NOW(),
		updated_at TIMESTAMP DEFAULT NOW()
	);

	-- Device tokens for the native push gateway.
	CREATE TABLE IF NOT EXISTS device_tokens (
		user_id VARCHAR(255) NOT NULL,
		token VARCHAR(500) NOT NULL,
		created_at TIMESTAMP DEFAULT NOW(),
		PRIMARY KEY (user_id, token)
	);

	-- Audit log: append-only delivery decision trail.
	CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		event_id VARCHAR(255) NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		decision VARCHAR(50) NOT NULL,
		channel VARCHAR(50),
		detail TEXT,
		actor VARCHAR(255),
		created_at TIMESTAMP DEFAULT NOW()
	);

	-- Indexes for the hot paths.
	CREATE INDEX IF NOT EXISTS idx_delivery_attempts_event ON delivery_attempts(event_id);
	CREATE INDEX IF NOT EXISTS idx_queued_recipient ON queued_notifications(recipient_id) WHERE delivered_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_queued_next_retry ON queued_notifications(next_retry_at) WHERE delivered_at IS NULL;
	CREATE INDEX IF NOT EXISTS idx_retries_due ON scheduled_retries(next_attempt_at);
	CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_log(event_id);
	CREATE INDEX IF NOT EXISTS idx_audit_user ON audit_log(user_id, created_at);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *PostgresDB) Close() error {
	return db.DB.Close()
}
