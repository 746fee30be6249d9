package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

// expiryKey orders the expiry index by expires_at, then order ID.
type expiryKey struct {
	at time.Time
	id string
}

func expiryLess(a, b expiryKey) bool {
	if !a.at.Equal(b.at) {
		return a.at.Before(b.at)
	}
	return a.id < b.id
}

// Store is a thread-safe in-memory store for orders and trades.
// Primary index: order_id → order. Secondary indexes: user_id → order IDs
// (append-only), property_id → non-terminal order IDs, and a B-tree of
// non-terminal orders by expires_at. Stored orders are never handed out;
// readers get copies, so a fill is visible all at once or not at all.
type Store struct {
	mu             sync.RWMutex
	orders         map[string]*domain.Order
	userOrders     map[string][]string
	openByProperty map[string]map[string]struct{}
	expiry         *btree.BTreeG[expiryKey]

	trades         map[string]*domain.Trade
	propertyTrades map[string][]*domain.Trade // completed, by completed_at ASC
}

// New creates an empty Store.
func New() *Store {
	const degree = 32
	return &Store{
		orders:         make(map[string]*domain.Order),
		userOrders:     make(map[string][]string),
		openByProperty: make(map[string]map[string]struct{}),
		expiry:         btree.NewG[expiryKey](degree, expiryLess),
		trades:         make(map[string]*domain.Trade),
		propertyTrades: make(map[string][]*domain.Trade),
	}
}

// CreateOrder adds an order. It returns domain.ErrDuplicateOrder if an
// order with the same ID already exists.
func (s *Store) CreateOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[o.ID]; exists {
		return domain.ErrDuplicateOrder
	}
	stored := o.Clone()
	s.orders[o.ID] = stored
	s.userOrders[o.UserID] = append(s.userOrders[o.UserID], o.ID)
	s.index(nil, stored)
	return nil
}

// GetOrder returns a copy of the order. It returns domain.ErrOrderNotFound
// if the order does not exist.
func (s *Store) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

// ListOrdersByUser returns a user's orders newest first, optionally limited
// to one property.
func (s *Store) ListOrdersByUser(_ context.Context, userID, propertyID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.userOrders[userID]
	result := make([]*domain.Order, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		o := s.orders[ids[i]]
		if propertyID != "" && o.PropertyID != propertyID {
			continue
		}
		result = append(result, o.Clone())
	}
	return result, nil
}

// ListOpenOrders returns copies of every non-terminal order of a property.
// Expiry is not evaluated here.
func (s *Store) ListOpenOrders(_ context.Context, propertyID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.openByProperty[propertyID]
	result := make([]*domain.Order, 0, len(ids))
	for id := range ids {
		result = append(result, s.orders[id].Clone())
	}
	return result, nil
}

// ListExpiredOrders returns up to limit non-terminal orders whose
// expires_at is at or before now, earliest first.
func (s *Store) ListExpiredOrders(_ context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Order
	s.expiry.Ascend(func(k expiryKey) bool {
		if k.at.After(now) || (limit > 0 && len(result) >= limit) {
			return false
		}
		result = append(result, s.orders[k.id].Clone())
		return true
	})
	return result, nil
}

// UpdateOrder replaces the stored order if its version still equals
// expectedVersion, and returns domain.ErrStaleState otherwise.
func (s *Store) UpdateOrder(_ context.Context, o *domain.Order, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkVersion(o.ID, expectedVersion); err != nil {
		return err
	}
	s.replace(o)
	return nil
}

// CommitFill applies every order update and records the trade in one
// critical section. Nothing is written if any version check fails.
func (s *Store) CommitFill(_ context.Context, fill domain.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range fill.Orders {
		if err := s.checkVersion(u.Order.ID, u.ExpectedVersion); err != nil {
			return err
		}
	}
	if _, exists := s.trades[fill.Trade.ID]; exists {
		return domain.ErrDuplicateTrade
	}
	for _, u := range fill.Orders {
		s.replace(u.Order)
	}
	s.appendTrade(fill.Trade)
	return nil
}

func (s *Store) checkVersion(id string, expected int64) error {
	current, ok := s.orders[id]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != expected {
		return domain.ErrStaleState
	}
	return nil
}

// replace must be called with s.mu held.
func (s *Store) replace(o *domain.Order) {
	prev := s.orders[o.ID]
	stored := o.Clone()
	s.orders[o.ID] = stored
	s.index(prev, stored)
}

// index keeps the open and expiry indexes in step with an order change.
// prev is nil for a new order. Must be called with s.mu held.
func (s *Store) index(prev, next *domain.Order) {
	if prev != nil && !prev.Status.Terminal() {
		if prev.ExpiresAt != nil {
			s.expiry.Delete(expiryKey{at: *prev.ExpiresAt, id: prev.ID})
		}
		if set := s.openByProperty[prev.PropertyID]; set != nil {
			delete(set, prev.ID)
			if len(set) == 0 {
				delete(s.openByProperty, prev.PropertyID)
			}
		}
	}
	if next.Status.Terminal() {
		return
	}
	if next.ExpiresAt != nil {
		s.expiry.ReplaceOrInsert(expiryKey{at: *next.ExpiresAt, id: next.ID})
	}
	set := s.openByProperty[next.PropertyID]
	if set == nil {
		set = make(map[string]struct{})
		s.openByProperty[next.PropertyID] = set
	}
	set[next.ID] = struct{}{}
}
