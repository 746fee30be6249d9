package store

import (
	"context"
	"sort"
	"time"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

// CreateTrade records a trade that did not come out of CommitFill,
// typically a failed settlement. Completed trades also join the property's
// history.
func (s *Store) CreateTrade(_ context.Context, t *domain.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trades[t.ID]; exists {
		return domain.ErrDuplicateTrade
	}
	s.appendTrade(t)
	return nil
}

// GetTrade returns a copy of a trade, completed or failed.
func (s *Store) GetTrade(_ context.Context, id string) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trades[id]
	if !ok {
		return nil, domain.ErrTradeNotFound
	}
	return t.Clone(), nil
}

// ListTrades returns completed trades of a property newest first.
// A zero Limit means no limit.
func (s *Store) ListTrades(_ context.Context, f domain.TradeFilter) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.propertyTrades[f.PropertyID]
	result := make([]*domain.Trade, 0, min(len(trades), max(f.Limit, 0)))
	for i := len(trades) - 1; i >= 0; i-- {
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
		t := trades[i]
		if f.UserID != "" && t.BuyerID != f.UserID && t.SellerID != f.UserID {
			continue
		}
		result = append(result, t.Clone())
	}
	return result, nil
}

// TradeWindow aggregates completed trades of a property whose completion
// time is at or after since. A zero since covers all history.
func (s *Store) TradeWindow(_ context.Context, propertyID string, since time.Time) (domain.TradeWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.propertyTrades[propertyID]
	start := sort.Search(len(trades), func(i int) bool {
		return !trades[i].CompletedAt.Before(since)
	})

	var w domain.TradeWindow
	for _, t := range trades[start:] {
		w.Add(t.Clone())
	}
	return w, nil
}

// LastTradeBefore returns the newest completed trade of a property that
// completed strictly before t, or nil if there is none.
func (s *Store) LastTradeBefore(_ context.Context, propertyID string, t time.Time) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trades := s.propertyTrades[propertyID]
	idx := sort.Search(len(trades), func(i int) bool {
		return !trades[i].CompletedAt.Before(t)
	})
	if idx == 0 {
		return nil, nil
	}
	return trades[idx-1].Clone(), nil
}

// appendTrade must be called with s.mu held. Completed trades are kept
// sorted by completion time; concurrent settlements may commit slightly
// out of order.
func (s *Store) appendTrade(t *domain.Trade) {
	stored := t.Clone()
	s.trades[t.ID] = stored
	if !stored.Completed() || stored.CompletedAt == nil {
		return
	}

	trades := s.propertyTrades[stored.PropertyID]
	idx := sort.Search(len(trades), func(i int) bool {
		return trades[i].CompletedAt.After(*stored.CompletedAt)
	})
	trades = append(trades, nil)
	copy(trades[idx+1:], trades[idx:])
	trades[idx] = stored
	s.propertyTrades[stored.PropertyID] = trades
}
