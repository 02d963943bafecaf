package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/navihealth/navi-portal/internal/domain"
)

var ErrTicketNotFound = errors.New("ticket not found")

// SmartTicketStore holds SMART handoff data under single-use tickets.
type SmartTicketStore interface {
	Issue(ctx context.Context, data *domain.SmartSessionData, ttl time.Duration) (string, error)
	Consume(ctx context.Context, ticket string) (*domain.SmartSessionData, error)
}

type RedisSmartTicketStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisSmartTicketStore(client redis.UniversalClient, prefix string) *RedisSmartTicketStore {
	if prefix == "" {
		prefix = "smart_ticket"
	}
	return &RedisSmartTicketStore{client: client, prefix: prefix}
}

func (s *RedisSmartTicketStore) Issue(ctx context.Context, data *domain.SmartSessionData, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("ticket ttl must be positive")
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	ticket := uuid.NewString()
	if err := s.client.Set(ctx, s.key(ticket), payload, ttl).Err(); err != nil {
		return "", err
	}
	return ticket, nil
}

// Consume reads and deletes atomically so a ticket can be redeemed once.
func (s *RedisSmartTicketStore) Consume(ctx context.Context, ticket string) (*domain.SmartSessionData, error) {
	if ticket == "" {
		return nil, ErrTicketNotFound
	}
	raw, err := s.client.GetDel(ctx, s.key(ticket)).Bytes()
	if err == redis.Nil {
		return nil, ErrTicketNotFound
	}
	if err != nil {
		return nil, err
	}
	var data domain.SmartSessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode ticket payload: %w", err)
	}
	return &data, nil
}

func (s *RedisSmartTicketStore) key(ticket string) string {
	return s.prefix + ":" + hashToken(ticket)
}

type ticketEntry struct {
	data      domain.SmartSessionData
	expiresAt time.Time
}

type InMemorySmartTicketStore struct {
	mu      sync.Mutex
	tickets map[string]ticketEntry
}

func NewInMemorySmartTicketStore() *InMemorySmartTicketStore {
	return &InMemorySmartTicketStore{tickets: make(map[string]ticketEntry)}
}

func (s *InMemorySmartTicketStore) Issue(_ context.Context, data *domain.SmartSessionData, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("ticket ttl must be positive")
	}
	ticket := uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[ticket] = ticketEntry{data: *data, expiresAt: time.Now().Add(ttl)}
	return ticket, nil
}

func (s *InMemorySmartTicketStore) Consume(_ context.Context, ticket string) (*domain.SmartSessionData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tickets[ticket]
	if !ok {
		return nil, ErrTicketNotFound
	}
	delete(s.tickets, ticket)
	if time.Now().After(entry.expiresAt) {
		return nil, ErrTicketNotFound
	}
	data := entry.data
	return &data, nil
}
