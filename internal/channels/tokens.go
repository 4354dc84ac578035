package channels

import (
	"context"
	"fmt"
	"sync"

	"github.com/alexnthnz/notification-dispatch/internal/database"
)

// TokenSource resolves a recipient to their registered device tokens.
// Remove drops a token the gateway reported as invalid so it is never
// tried again.
type TokenSource interface {
	Tokens(ctx context.Context, userID string) ([]string, error)
	Remove(ctx context.Context, userID, token string) error
}

// PostgresTokenSource reads device tokens from the device_tokens table.
type PostgresTokenSource struct {
	db *database.PostgresDB
}

// NewPostgresTokenSource creates a PostgresTokenSource.
func NewPostgresTokenSource(db *database.PostgresDB) *PostgresTokenSource {
	return &PostgresTokenSource{db: db}
}

func (s *PostgresTokenSource) Tokens(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT token FROM device_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query device tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan device token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}

func (s *PostgresTokenSource) Remove(ctx context.Context, userID, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE user_id = $1 AND token = $2`, userID, token)
	if err != nil {
		return fmt.Errorf("failed to remove device token: %w", err)
	}
	return nil
}

// MemoryTokenSource keeps tokens in memory for tests.
type MemoryTokenSource struct {
	mu     sync.RWMutex
	tokens map[string][]string
}

// NewMemoryTokenSource creates an empty in-memory token source.
func NewMemoryTokenSource() *MemoryTokenSource {
	return &MemoryTokenSource{tokens: make(map[string][]string)}
}

// Add registers a token for a user.
func (s *MemoryTokenSource) Add(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[userID] = append(s.tokens[userID], token)
}

func (s *MemoryTokenSource) Tokens(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.tokens[userID]...), nil
}

func (s *MemoryTokenSource) Remove(_ context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tokens[userID][:0]
	for _, t := range s.tokens[userID] {
		if t != token {
			kept = append(kept, t)
		}
	}
	s.tokens[userID] = kept
	return nil
}
