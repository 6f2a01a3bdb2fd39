package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"

	"github.com/eterna-labs/swapflow/pkg/core"
)

// PebbleStore implements OrderStore on a local Pebble database, the
// durable backend for single-node deployments.
type PebbleStore struct {
	db     *pebble.DB
	logger zerolog.Logger
}

// NewPebbleStore opens (or creates) a Pebble database at the given path
func NewPebbleStore(path string, logger zerolog.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{
		db:     db,
		logger: logger.With().Str("component", "pebble_store").Logger(),
	}, nil
}

func orderKey(orderID string) []byte {
	return []byte("order:" + orderID)
}

// Upsert implements OrderStore
func (s *PebbleStore) Upsert(ctx context.Context, order *core.Order) error {
	record := order
	if existing, err := s.Get(ctx, order.OrderID); err == nil {
		record = mergeExisting(existing, order)
	} else if err != ErrOrderNotFound {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal order: %w", err)
	}
	if err := s.db.Set(orderKey(order.OrderID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}

	s.logger.Debug().
		Str("order_id", order.OrderID).
		Str("status", string(record.Status)).
		Msg("Order record written")
	return nil
}

// Get implements OrderStore
func (s *PebbleStore) Get(ctx context.Context, orderID string) (*core.Order, error) {
	data, closer, err := s.db.Get(orderKey(orderID))
	if err == pebble.ErrNotFound {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	defer closer.Close()

	var order core.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("failed to unmarshal order: %w", err)
	}
	return &order, nil
}

// Close implements OrderStore
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
