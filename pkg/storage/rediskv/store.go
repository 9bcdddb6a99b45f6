// Package rediskv is the backing key-value abstraction used by the
// Context Store and Evidence Store (context:{org}:..., evidence:{org}:...,
// idx:... keys). The Task Scheduler's queues and the Audit Log are held
// in process and do not use it; no audit:{org}:{date}:... keys are written.
package rediskv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the minimal KV+set surface every component needs; components
// depend on this interface, not on *redis.Client, so tests can swap in
// miniredis or an in-memory fake without touching production code.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	SAdd(ctx context.Context, setKey string, member string) error
	SRem(ctx context.Context, setKey string, member string) error
	SMembers(ctx context.Context, setKey string) ([]string, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// RedisStore adapts a *redis.Client to Store.
type RedisStore struct {
	client *redis.Client
}

// New wraps an existing go-redis client. Callers construct the client
// (redis.NewClient) so connection pooling and TLS options stay their
// responsibility, not this package's.
func New(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) SAdd(ctx context.Context, setKey string, member string) error {
	return s.client.SAdd(ctx, setKey, member).Err()
}

func (s *RedisStore) SRem(ctx context.Context, setKey string, member string) error {
	return s.client.SRem(ctx, setKey, member).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, setKey string) ([]string, error) {
	return s.client.SMembers(ctx, setKey).Result()
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.client.Keys(ctx, pattern).Result()
}
