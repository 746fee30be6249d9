package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

type seriesKey struct {
	propertyID string
	interval   domain.Interval
}

func candleLess(a, b *domain.Candle) bool {
	return a.BucketStart.Before(b.BucketStart)
}

// CandleStore keeps OHLCV buckets per (property, interval), ordered by
// bucket start in a B-tree.
type CandleStore struct {
	mu     sync.RWMutex
	series map[seriesKey]*btree.BTreeG[*domain.Candle]
}

// NewCandleStore creates an empty CandleStore.
func NewCandleStore() *CandleStore {
	return &CandleStore{series: make(map[seriesKey]*btree.BTreeG[*domain.Candle])}
}

// ApplyTrade folds one trade into the bucket of the given interval that
// contains at, creating the bucket if needed, and returns a copy of it.
func (s *CandleStore) ApplyTrade(_ context.Context, propertyID string, iv domain.Interval, price, amount decimal.Decimal, at time.Time) (*domain.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey{propertyID: propertyID, interval: iv}
	tree, ok := s.series[key]
	if !ok {
		tree = btree.NewG[*domain.Candle](16, candleLess)
		s.series[key] = tree
	}

	probe := &domain.Candle{BucketStart: iv.BucketStart(at)}
	c, found := tree.Get(probe)
	if !found {
		c = domain.NewCandle(propertyID, iv, price, amount, at)
		tree.ReplaceOrInsert(c)
	} else {
		c.Apply(price, amount, at)
	}
	out := *c
	return &out, nil
}

// ListCandles returns up to limit of the most recent buckets, oldest first.
// A zero limit returns the whole series.
func (s *CandleStore) ListCandles(_ context.Context, propertyID string, iv domain.Interval, limit int) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tree, ok := s.series[seriesKey{propertyID: propertyID, interval: iv}]
	if !ok {
		return []domain.Candle{}, nil
	}

	var newest []domain.Candle
	tree.Descend(func(c *domain.Candle) bool {
		if limit > 0 && len(newest) >= limit {
			return false
		}
		newest = append(newest, *c)
		return true
	})

	result := make([]domain.Candle, len(newest))
	for i, c := range newest {
		result[len(newest)-1-i] = c
	}
	return result, nil
}
