package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/navihealth/navi-portal/internal/domain"
)

var (
	ErrBrandingNotFound    = errors.New("branding not found")
	ErrSmartClientNotFound = errors.New("smart client config not found")
)

type BrandingStore interface {
	Get(ctx context.Context, orgID string) (domain.Branding, error)
	Put(ctx context.Context, orgID string, branding domain.Branding) error
	Delete(ctx context.Context, orgID string) error
}

type SmartClientConfigStore interface {
	Get(ctx context.Context, issuerHost string) (*domain.SmartClientConfig, error)
	Put(ctx context.Context, issuerHost string, cfg *domain.SmartClientConfig) error
}

// redisJSONStore keeps admin-managed JSON documents without expiry.
type redisJSONStore struct {
	client   redis.UniversalClient
	prefix   string
	notFound error
}

func (s *redisJSONStore) get(ctx context.Context, id string, v any) error {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return s.notFound
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", s.prefix, err)
	}
	return nil
}

func (s *redisJSONStore) put(ctx context.Context, id string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(id), payload, 0).Err()
}

func (s *redisJSONStore) del(ctx context.Context, id string) error {
	return s.client.Del(ctx, s.key(id)).Err()
}

// key hashes the id so distinct ids never share a document.
func (s *redisJSONStore) key(id string) string {
	return s.prefix + ":" + hashToken(id)
}

type RedisBrandingStore struct{ store redisJSONStore }

func NewRedisBrandingStore(client redis.UniversalClient, prefix string) *RedisBrandingStore {
	if prefix == "" {
		prefix = "branding"
	}
	return &RedisBrandingStore{store: redisJSONStore{client: client, prefix: prefix, notFound: ErrBrandingNotFound}}
}

func (s *RedisBrandingStore) Get(ctx context.Context, orgID string) (domain.Branding, error) {
	var b domain.Branding
	if err := s.store.get(ctx, orgID, &b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *RedisBrandingStore) Put(ctx context.Context, orgID string, branding domain.Branding) error {
	return s.store.put(ctx, orgID, branding)
}

func (s *RedisBrandingStore) Delete(ctx context.Context, orgID string) error {
	return s.store.del(ctx, orgID)
}

type RedisSmartClientConfigStore struct{ store redisJSONStore }

func NewRedisSmartClientConfigStore(client redis.UniversalClient, prefix string) *RedisSmartClientConfigStore {
	if prefix == "" {
		prefix = "smart_client"
	}
	return &RedisSmartClientConfigStore{store: redisJSONStore{client: client, prefix: prefix, notFound: ErrSmartClientNotFound}}
}

func (s *RedisSmartClientConfigStore) Get(ctx context.Context, issuerHost string) (*domain.SmartClientConfig, error) {
	var cfg domain.SmartClientConfig
	if err := s.store.get(ctx, issuerHost, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *RedisSmartClientConfigStore) Put(ctx context.Context, issuerHost string, cfg *domain.SmartClientConfig) error {
	return s.store.put(ctx, issuerHost, cfg)
}

// IssuerHost is the lookup key for SMART client registrations.
func IssuerHost(iss string) string {
	u, err := url.Parse(strings.TrimSpace(iss))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(iss))
	}
	return strings.ToLower(u.Host)
}
