package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the limiter with shared Redis state so counters are
// consistent across dispatcher instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// recordScript prunes the window, checks the count and conditionally
// records the send in one round trip so concurrent dispatches for the
// same user cannot both slip under the limit.
var recordScript = redis.NewScript(`
	redis.call('ZREMRANGEBYSCORE', KEYS[1], '0', ARGV[1])
	local count = redis.call('ZCARD', KEYS[1])
	if count >= tonumber(ARGV[2]) then
		return 0
	end
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[3])
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	return 1
`)

func (s *RedisStore) RecordIfAllowed(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	redisKey := "notify:rate:" + key
	cutoff := now.Add(-window).UnixNano()

	res, err := recordScript.Run(ctx, s.client, []string{redisKey},
		cutoff, limit, now.UnixNano(), window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit script failed: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) RecordViolation(ctx context.Context, userID string, now time.Time, window time.Duration) (int, error) {
	key := "notify:violations:" + userID

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

func (s *RedisStore) SetBlock(ctx context.Context, userID string, until time.Time) error {
	key := "notify:block:" + userID
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, key, strconv.FormatInt(until.UnixNano(), 10), ttl).Err()
}

func (s *RedisStore) BlockedUntil(ctx context.Context, userID string, now time.Time) (time.Time, bool, error) {
	key := "notify:block:" + userID

	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("corrupt block value for %s: %w", userID, err)
	}
	until := time.Unix(0, nanos)
	if !now.Before(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}
