package database

import (
	"context"
	"fmt"
	"time"

	"github.com/alexnthnz/notification-dispatch/internal/config"
	"github.com/redis/go-redis/v9"
)

// RedisClient wraps redis.Client for delivery claims and caching
type RedisClient struct {
	*redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(cfg config.RedisConfig) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{Client: rdb}, nil
}

// CachePreferences caches serialized user preferences for an hour.
func (r *RedisClient) CachePreferences(ctx context.Context, userID string, data []byte) error {
	key := fmt.Sprintf("notify:prefs:%s", userID)
	return r.Set(ctx, key, data, time.Hour).Err()
}

// GetPreferences retrieves cached user preferences.
func (r *RedisClient) GetPreferences(ctx context.Context, userID string) ([]byte, error) {
	key := fmt.Sprintf("notify:prefs:%s", userID)
	return r.Get(ctx, key).Bytes()
}

// InvalidatePreferences drops the cache entry after a preferences update.
func (r *RedisClient) InvalidatePreferences(ctx context.Context, userID string) error {
	key := fmt.Sprintf("notify:prefs:%s", userID)
	return r.Del(ctx, key).Err()
}

// ClaimDelivery takes the per-(event, channel) dispatch claim. Only one
// worker at a time may attempt a given pair; the claim expires with ttl
// so a crashed worker does not wedge the pair forever.
func (r *RedisClient) ClaimDelivery(ctx context.Context, eventID, channel string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("notify:claim:%s:%s", eventID, channel)
	return r.SetNX(ctx, key, "1", ttl).Result()
}

// ReleaseDelivery releases a claim taken by ClaimDelivery.
func (r *RedisClient) ReleaseDelivery(ctx context.Context, eventID, channel string) error {
	key := fmt.Sprintf("notify:claim:%s:%s", eventID, channel)
	return r.Del(ctx, key).Err()
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}
