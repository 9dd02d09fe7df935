// Package idempotency deduplicates Pub/Sub redeliveries per consumer.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/warehouse-allocator/pkg/redis"
)

var (
	ErrConsumerRequired = errors.New("consumer name is required")
	ErrEventIDRequired  = errors.New("event id is required")
)

type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Scope binds the manager to one consumer so that two consumers of the same
// event never share a claim.
func (m *Manager) Scope(consumer string) (*Scope, error) {
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, ErrConsumerRequired
	}
	return &Scope{store: m.store, ttl: m.ttl, scope: "evt:" + consumer}, nil
}

// Scope claims events for a single consumer.
type Scope struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

// Claim returns true the first time eventID is seen within the TTL.
func (s *Scope) Claim(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, ErrEventIDRequired
	}
	return s.store.SetNX(ctx, s.key(eventID), time.Now().UTC().Format(time.RFC3339), s.ttl)
}

// Release drops a claim so the next delivery is processed again.
func (s *Scope) Release(ctx context.Context, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return ErrEventIDRequired
	}
	return s.store.Del(ctx, s.key(eventID))
}

func (s *Scope) key(eventID uuid.UUID) string {
	return s.store.IdempotencyKey(s.scope, eventID.String())
}
