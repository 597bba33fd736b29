package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis list/string keyspace.
// Lists back the batch queues (RPUSH preserves arrival order) and plain
// string keys back lock tokens and stop flags.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to redisURL (redis://host:port/db) and verifies
// the connection. An empty URL is a configuration error, never defaulted.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	if redisURL == "" {
		return nil, errors.New("redis: url is not configured")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Append(ctx context.Context, listKey, value string) error {
	return s.client.RPush(ctx, listKey, value).Err()
}

func (s *RedisStore) ReadLast(ctx context.Context, listKey string) (string, error) {
	vals, err := s.client.LRange(ctx, listKey, -1, -1).Result()
	if err != nil {
		return "", err
	}
	if len(vals) == 0 {
		return "", ErrMiss
	}
	return vals[0], nil
}

func (s *RedisStore) ReadAll(ctx context.Context, listKey string) ([]string, error) {
	return s.client.LRange(ctx, listKey, 0, -1).Result()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) SetExpiry(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrMiss
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
