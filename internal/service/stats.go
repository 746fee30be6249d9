package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/engine"
)

const (
	dayWindow  = 24 * time.Hour
	weekWindow = 7 * 24 * time.Hour
)

var hundred = decimal.NewFromInt(100)

// TradeStatsReader aggregates completed trades.
type TradeStatsReader interface {
	TradeWindow(ctx context.Context, propertyID string, since time.Time) (domain.TradeWindow, error)
	LastTradeBefore(ctx context.Context, propertyID string, t time.Time) (*domain.Trade, error)
}

// StatsService computes per-property market statistics. Snapshots are
// cached for a short TTL and dropped whenever the engine reports a change
// to the property, so a cached value is never older than the last commit.
type StatsService struct {
	book   *engine.BookBuilder
	trades TradeStatsReader
	now    func() time.Time

	cache *expirable.LRU[string, *domain.MarketStats]
	group singleflight.Group

	// generations counts invalidations per property. A snapshot computed
	// across an invalidation is returned but not cached.
	mu          sync.Mutex
	generations map[string]uint64
}

// NewStatsService creates a new StatsService. ttl and size bound the
// snapshot cache; now defaults to time.Now.
func NewStatsService(
	book *engine.BookBuilder,
	trades TradeStatsReader,
	ttl time.Duration,
	size int,
	now func() time.Time,
) *StatsService {
	if now == nil {
		now = time.Now
	}
	if size <= 0 {
		size = 1
	}
	return &StatsService{
		book:        book,
		trades:      trades,
		now:         now,
		cache:       expirable.NewLRU[string, *domain.MarketStats](size, nil, ttl),
		generations: make(map[string]uint64),
	}
}

// OrderChanged invalidates the order's property.
func (s *StatsService) OrderChanged(_ context.Context, o *domain.Order) {
	s.Invalidate(o.PropertyID)
}

// TradeRecorded invalidates the trade's property. Failed trades leave the
// statistics unchanged but the orders they touched may have moved.
func (s *StatsService) TradeRecorded(_ context.Context, t *domain.Trade) {
	s.Invalidate(t.PropertyID)
}

// Invalidate drops the cached snapshot of a property.
func (s *StatsService) Invalidate(propertyID string) {
	s.mu.Lock()
	s.generations[propertyID]++
	s.mu.Unlock()
	s.cache.Remove(propertyID)
}

func (s *StatsService) generation(propertyID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[propertyID]
}

// Stats returns the statistics snapshot of a property. Concurrent callers
// for the same property share one computation.
func (s *StatsService) Stats(ctx context.Context, propertyID string) (*domain.MarketStats, error) {
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return nil, &domain.ValidationError{Message: "property_id is required"}
	}
	if cached, ok := s.cache.Get(propertyID); ok {
		return cached, nil
	}

	v, err, _ := s.group.Do(propertyID, func() (any, error) {
		gen := s.generation(propertyID)
		stats, err := s.Compute(ctx, propertyID)
		if err != nil {
			return nil, err
		}
		if s.generation(propertyID) == gen {
			s.cache.Add(propertyID, stats)
		}
		return stats, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.MarketStats), nil
}

// Compute derives the snapshot from the order book and trade history
// without touching the cache.
func (s *StatsService) Compute(ctx context.Context, propertyID string) (*domain.MarketStats, error) {
	now := s.now().UTC()
	daySince := now.Add(-dayWindow)

	var (
		book          *engine.OrderBook
		day, week, at domain.TradeWindow
		beforeDay     *domain.Trade
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		book, err = s.book.Build(gctx, propertyID, "", 1)
		return err
	})
	g.Go(func() (err error) {
		day, err = s.trades.TradeWindow(gctx, propertyID, daySince)
		return err
	})
	g.Go(func() (err error) {
		week, err = s.trades.TradeWindow(gctx, propertyID, now.Add(-weekWindow))
		return err
	})
	g.Go(func() (err error) {
		at, err = s.trades.TradeWindow(gctx, propertyID, time.Time{})
		return err
	})
	g.Go(func() (err error) {
		beforeDay, err = s.trades.LastTradeBefore(gctx, propertyID, daySince)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &domain.MarketStats{
		PropertyID:     propertyID,
		Spread:         book.Spread,
		MidPrice:       book.MidPrice,
		Day:            domain.NewWindowStats(day),
		Week:           domain.NewWindowStats(week),
		AllTime:        domain.NewWindowStats(at),
		OpenBuyOrders:  book.BidOrders,
		OpenSellOrders: book.AskOrders,
		ComputedAt:     now,
	}
	if len(book.Bids) > 0 {
		p := book.Bids[0].Price
		stats.BestBid = &p
	}
	if len(book.Asks) > 0 {
		p := book.Asks[0].Price
		stats.BestAsk = &p
	}

	if at.Last != nil {
		last := at.Last.PricePerToken
		stats.LastPrice = &last
		stats.LastTradeAt = at.Last.CompletedAt
	}

	// The 24h reference is the oldest trade inside the window, else the
	// last trade before it.
	var ref *domain.Trade
	switch {
	case day.First != nil:
		ref = day.First
	case beforeDay != nil:
		ref = beforeDay
	}
	if ref != nil && stats.LastPrice != nil && ref.PricePerToken.IsPositive() {
		change := stats.LastPrice.Sub(ref.PricePerToken).
			Div(ref.PricePerToken).
			Mul(hundred).
			Round(2)
		stats.Change24h = &change
	}
	return stats, nil
}
