// Package orderstore holds the externally owned in-dining order list. The
// store exposes snapshot reads and whole-list replacement only; merges compute
// a new list and swap it in, so no reader ever observes a half-applied update.
package orderstore

import (
	"sync"

	"github.com/dinehub/ordersync/internal/schema"
)

// Store is a replaceable in-memory order collection.
type Store struct {
	mu     sync.RWMutex
	orders []schema.Order
}

// New constructs a store seeded with the given orders.
func New(seed ...schema.Order) *Store {
	s := &Store{}
	if len(seed) > 0 {
		s.orders = make([]schema.Order, len(seed))
		for i, order := range seed {
			s.orders[i] = order.Clone()
		}
	}
	return s
}

// List returns a deep-copied snapshot of the current collection.
func (s *Store) List() []schema.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.Order, len(s.orders))
	for i, order := range s.orders {
		out[i] = order.Clone()
	}
	return out
}

// Replace swaps the entire collection in one step.
func (s *Store) Replace(orders []schema.Order) {
	next := make([]schema.Order, len(orders))
	for i, order := range orders {
		next[i] = order.Clone()
	}
	s.mu.Lock()
	s.orders = next
	s.mu.Unlock()
}

// Len reports the current collection size.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
