package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNegativeLookupCacheStore shares misses across replicas. Each miss is a
// marker key whose name holds a hash of the looked-up value, never the value.
type RedisNegativeLookupCacheStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNegativeLookupCacheStore(client redis.UniversalClient, prefix string) *RedisNegativeLookupCacheStore {
	if prefix == "" {
		prefix = "negative_lookup"
	}
	return &RedisNegativeLookupCacheStore{client: client, prefix: prefix}
}

func (s *RedisNegativeLookupCacheStore) Seen(ctx context.Context, namespace, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.marker(namespace, key)).Result()
	return n == 1, err
}

func (s *RedisNegativeLookupCacheStore) Remember(ctx context.Context, namespace, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, s.marker(namespace, key), 1, ttl).Err()
}

func (s *RedisNegativeLookupCacheStore) Forget(ctx context.Context, namespace, key string) error {
	return s.client.Del(ctx, s.marker(namespace, key)).Err()
}

func (s *RedisNegativeLookupCacheStore) marker(namespace, key string) string {
	return s.prefix + ":miss:" + normalizeToken(namespace) + ":" + hashToken(key)
}
