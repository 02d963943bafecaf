package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/navihealth/navi-portal/internal/domain"
	"github.com/navihealth/navi-portal/internal/observability"
	"github.com/navihealth/navi-portal/internal/repository"
	"github.com/navihealth/navi-portal/internal/security"
)

const (
	publishableKeyMissNamespace = "publishable_key.not_found"
	publishableKeyMissTTL       = 5 * time.Minute
)

var publishableKeyPrefixes = []string{"pk_test_", "pk_live_"}

var ErrPublishableKeyRejected = errors.New("publishable key rejected")

// PublishableKeyError carries the internal rejection reason. Callers answer every reason the same way.
type PublishableKeyError struct {
	Reason string
}

func (e *PublishableKeyError) Error() string { return "publishable key rejected: " + e.Reason }

func (e *PublishableKeyError) Unwrap() error { return ErrPublishableKeyRejected }

type PublishableKeyService struct {
	repo   repository.PublishableKeyRepository
	misses NegativeLookupCacheStore
}

func NewPublishableKeyService(repo repository.PublishableKeyRepository, misses NegativeLookupCacheStore) *PublishableKeyService {
	if misses == nil {
		misses = NewNoopNegativeLookupCacheStore()
	}
	return &PublishableKeyService{repo: repo, misses: misses}
}

func HasPublishableKeyFormat(key string) bool {
	for _, p := range publishableKeyPrefixes {
		if strings.HasPrefix(key, p) && len(key) > len(p) {
			return true
		}
	}
	return false
}

// ValidateKey authorises session creation for the key's org. When origin is
// non-empty its host must match at least one allowed domain pattern.
func (s *PublishableKeyService) ValidateKey(ctx context.Context, key, origin string) (*domain.KeyScope, error) {
	key = strings.TrimSpace(key)
	if !HasPublishableKeyFormat(key) {
		return nil, s.reject(ctx, "unknown", "invalid_format")
	}
	if seen, err := s.misses.Seen(ctx, publishableKeyMissNamespace, key); err == nil && seen {
		return nil, s.reject(ctx, "unknown", "not_found")
	}

	pk, err := s.repo.FindByKey(ctx, key)
	if errors.Is(err, repository.ErrPublishableKeyNotFound) {
		_ = s.misses.Remember(ctx, publishableKeyMissNamespace, key, publishableKeyMissTTL)
		return nil, s.reject(ctx, "unknown", "not_found")
	}
	if err != nil {
		return nil, err
	}
	if !pk.IsActive {
		return nil, s.reject(ctx, pk.Environment, "inactive")
	}
	if origin != "" {
		host, ok := security.OriginHost(origin)
		if !ok {
			return nil, s.reject(ctx, pk.Environment, "invalid_origin")
		}
		if !security.MatchAllowedDomain(host, pk.AllowedDomains) {
			return nil, s.reject(ctx, pk.Environment, "origin_not_allowed")
		}
	}
	observability.RecordPublishableKeyValidation(ctx, pk.Environment, "valid")
	return &domain.KeyScope{OrgID: pk.OrgID, TenantID: pk.TenantID, Environment: pk.Environment}, nil
}

// Register stores a key and clears any remembered miss for it.
func (s *PublishableKeyService) Register(ctx context.Context, pk *domain.PublishableKey) error {
	if !HasPublishableKeyFormat(pk.Key) {
		return &PublishableKeyError{Reason: "invalid_format"}
	}
	if err := s.repo.Upsert(ctx, pk); err != nil {
		return err
	}
	return s.misses.Forget(ctx, publishableKeyMissNamespace, pk.Key)
}

// Deactivate stops a key from authorising new sessions. Sessions it already
// created keep working until they expire.
func (s *PublishableKeyService) Deactivate(ctx context.Context, key string) error {
	return s.repo.Deactivate(ctx, strings.TrimSpace(key))
}

func (s *PublishableKeyService) List(ctx context.Context, orgID string, page repository.PageRequest) (repository.PageResult[domain.PublishableKey], error) {
	return s.repo.ListByOrg(ctx, orgID, page)
}

func (s *PublishableKeyService) reject(ctx context.Context, environment, reason string) error {
	observability.RecordPublishableKeyValidation(ctx, environment, reason)
	return &PublishableKeyError{Reason: reason}
}
