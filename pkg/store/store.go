package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/eterna-labs/swapflow/pkg/core"
)

// ErrOrderNotFound is returned when no record exists for the order ID
var ErrOrderNotFound = errors.New("order not found")

// OrderStore is the durable record of orders keyed by order ID.
// Upsert is idempotent: the pipeline may write the same state more
// than once under at-least-once job delivery. Later writes overwrite
// result fields but never the identity fields.
type OrderStore interface {
	Upsert(ctx context.Context, order *core.Order) error
	Get(ctx context.Context, orderID string) (*core.Order, error)
	Close() error
}

// mergeExisting keeps the identity fields and creation time of a
// previously stored record while taking everything else from the
// incoming write.
func mergeExisting(existing, incoming *core.Order) *core.Order {
	merged := *incoming
	merged.TokenIn = existing.TokenIn
	merged.TokenOut = existing.TokenOut
	merged.AmountIn = existing.AmountIn
	merged.CreatedAt = existing.CreatedAt
	merged.UpdatedAt = time.Now().UTC()
	return &merged
}

// MemoryStore implements OrderStore with an in-process map
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*core.Order
}

// NewMemoryStore creates an empty in-memory order store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*core.Order),
	}
}

// Upsert implements OrderStore
func (s *MemoryStore) Upsert(ctx context.Context, order *core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := *order
	if existing, ok := s.orders[order.OrderID]; ok {
		record = *mergeExisting(existing, order)
	}
	s.orders[order.OrderID] = &record
	return nil
}

// Get implements OrderStore
func (s *MemoryStore) Get(ctx context.Context, orderID string) (*core.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	copied := *order
	return &copied, nil
}

// Close implements OrderStore
func (s *MemoryStore) Close() error {
	return nil
}
