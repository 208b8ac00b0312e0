package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "wizard:session:"

// redisKV is the subset of *redis.Client the repo needs.
type redisKV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisRepo stores snapshots as JSON values that expire after TTL of
// inactivity.
type RedisRepo struct {
	rdb redisKV
	ttl time.Duration
}

// NewRedisRepo constructs a RedisRepo. A zero ttl keeps snapshots forever.
func NewRedisRepo(rdb redisKV, ttl time.Duration) *RedisRepo {
	return &RedisRepo{rdb: rdb, ttl: ttl}
}

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// Save writes the snapshot and refreshes its TTL.
func (r *RedisRepo) Save(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snap.SessionID, err)
	}
	return r.rdb.Set(ctx, redisKey(snap.SessionID), payload, r.ttl).Err()
}

// Get returns the snapshot for sessionID.
func (r *RedisRepo) Get(ctx context.Context, sessionID string) (Snapshot, error) {
	raw, err := r.rdb.Get(ctx, redisKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot %s: %w", sessionID, err)
	}
	return snap, nil
}

// Delete removes the snapshot; a missing key is not an error.
func (r *RedisRepo) Delete(ctx context.Context, sessionID string) error {
	return r.rdb.Del(ctx, redisKey(sessionID)).Err()
}
