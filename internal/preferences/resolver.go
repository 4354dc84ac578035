package preferences

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/alexnthnz/notification-dispatch/internal/clock"
	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/alexnthnz/notification-dispatch/internal/database"
	"github.com/alexnthnz/notification-dispatch/internal/notification"
)

// ErrNotFound is returned by stores when a user has no preferences row.
var ErrNotFound = errors.New("preferences not found")

// Store persists per-user notification preferences.
type Store interface {
	Get(ctx context.Context, userID string) (*notification.Preferences, error)
	Put(ctx context.Context, prefs notification.Preferences) error
	Delete(ctx context.Context, userID string) error
}

// Resolution is what the orchestrator needs from preferences for one
// dispatch: the channel order for the event's type and whether the
// user is currently inside quiet hours.
type Resolution struct {
	Prefs      notification.Preferences
	Channels   []notification.Channel
	QuietHours bool
}

// Resolver looks up user preferences, creating defaults on first use
// and caching lookups in Redis when a client is configured.
type Resolver struct {
	store    Store
	redis    *database.RedisClient
	defaults config.QuietHoursConfig
	clk      clock.Clock
	logger   *zap.Logger
}

// NewResolver creates a Resolver. redis may be nil; caching is then
// skipped.
func NewResolver(store Store, redis *database.RedisClient, defaults config.QuietHoursConfig, clk clock.Clock, logger *zap.Logger) *Resolver {
	return &Resolver{store: store, redis: redis, defaults: defaults, clk: clk, logger: logger}
}

// Resolve returns the channel order and quiet-hours state for
// (userID, typ) at the current time.
func (r *Resolver) Resolve(ctx context.Context, userID string, typ notification.Type) (*Resolution, error) {
	prefs, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &Resolution{
		Prefs:      *prefs,
		Channels:   prefs.ChannelsFor(typ),
		QuietHours: prefs.InQuietHours(r.clk.Now()),
	}, nil
}

// Get returns the user's preferences, creating defaults on first use.
func (r *Resolver) Get(ctx context.Context, userID string) (*notification.Preferences, error) {
	return r.load(ctx, userID)
}

// Update replaces the user's preferences and drops the cache entry.
func (r *Resolver) Update(ctx context.Context, prefs notification.Preferences) error {
	prefs.UpdatedAt = r.clk.Now()
	if err := r.store.Put(ctx, prefs); err != nil {
		return fmt.Errorf("failed to store preferences: %w", err)
	}
	r.invalidate(ctx, prefs.UserID)
	return nil
}

// Delete removes the user's preferences row, for account deletion.
func (r *Resolver) Delete(ctx context.Context, userID string) error {
	if err := r.store.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	r.invalidate(ctx, userID)
	return nil
}

func (r *Resolver) load(ctx context.Context, userID string) (*notification.Preferences, error) {
	if r.redis != nil {
		if data, err := r.redis.GetPreferences(ctx, userID); err == nil {
			var prefs notification.Preferences
			if err := json.Unmarshal(data, &prefs); err == nil {
				return &prefs, nil
			}
			// Corrupt cache entry, fall through to the store.
			r.invalidate(ctx, userID)
		}
	}

	prefs, err := r.store.Get(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		created := notification.DefaultPreferences(userID, r.clk.Now())
		created.QuietStart = r.defaults.DefaultStart
		created.QuietEnd = r.defaults.DefaultEnd
		if err := r.store.Put(ctx, created); err != nil {
			return nil, fmt.Errorf("failed to create default preferences: %w", err)
		}
		prefs = &created
	} else if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	if r.redis != nil {
		if data, err := json.Marshal(prefs); err == nil {
			if err := r.redis.CachePreferences(ctx, userID, data); err != nil {
				r.logger.Warn("failed to cache preferences", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}
	return prefs, nil
}

func (r *Resolver) invalidate(ctx context.Context, userID string) {
	if r.redis == nil {
		return
	}
	if err := r.redis.InvalidatePreferences(ctx, userID); err != nil {
		r.logger.Warn("failed to invalidate preferences cache", zap.String("user_id", userID), zap.Error(err))
	}
}
