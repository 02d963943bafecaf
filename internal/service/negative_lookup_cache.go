package service

import (
	"context"
	"sync"
	"time"
)

// NegativeLookupCacheStore remembers lookups that found nothing, so repeated
// probes with unknown publishable keys do not reach the database.
type NegativeLookupCacheStore interface {
	Seen(ctx context.Context, namespace, key string) (bool, error)
	Remember(ctx context.Context, namespace, key string, ttl time.Duration) error
	Forget(ctx context.Context, namespace, key string) error
}

type noopMisses struct{}

// NewNoopNegativeLookupCacheStore disables miss caching.
func NewNoopNegativeLookupCacheStore() NegativeLookupCacheStore { return noopMisses{} }

func (noopMisses) Seen(context.Context, string, string) (bool, error) { return false, nil }
func (noopMisses) Remember(context.Context, string, string, time.Duration) error { return nil }
func (noopMisses) Forget(context.Context, string, string) error { return nil }

type missEntry struct{ namespace, key string }

// InMemoryNegativeLookupCacheStore is the single-process variant used by tests
// and local tooling. Expired entries are dropped when next read.
type InMemoryNegativeLookupCacheStore struct {
	mu       sync.Mutex
	deadline map[missEntry]time.Time
	now      func() time.Time
}

func NewInMemoryNegativeLookupCacheStore() *InMemoryNegativeLookupCacheStore {
	return &InMemoryNegativeLookupCacheStore{deadline: map[missEntry]time.Time{}, now: time.Now}
}

func (s *InMemoryNegativeLookupCacheStore) Seen(_ context.Context, namespace, key string) (bool, error) {
	e := missEntry{namespace, key}
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.deadline[e]
	if ok && !s.now().Before(until) {
		delete(s.deadline, e)
		ok = false
	}
	return ok, nil
}

func (s *InMemoryNegativeLookupCacheStore) Remember(_ context.Context, namespace, key string, ttl time.Duration) error {
	if ttl > 0 {
		s.mu.Lock()
		s.deadline[missEntry{namespace, key}] = s.now().Add(ttl)
		s.mu.Unlock()
	}
	return nil
}

func (s *InMemoryNegativeLookupCacheStore) Forget(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	delete(s.deadline, missEntry{namespace, key})
	s.mu.Unlock()
	return nil
}
