package engine

import (
	"context"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

// OpenOrderLister lists the non-terminal orders of a property.
type OpenOrderLister interface {
	ListOpenOrders(ctx context.Context, propertyID string) ([]*domain.Order, error)
}

// bookEntry is a single order resting on one side of the book.
type bookEntry struct {
	Price     decimal.Decimal
	CreatedAt time.Time
	OrderID   string
	Remaining decimal.Decimal
}

// PriceLevel aggregates all resting orders at one price.
type PriceLevel struct {
	Price                decimal.Decimal
	TotalRemainingAmount decimal.Decimal
	OrderCount           int
	EarliestOrderTime    time.Time
}

// OrderBook is a point-in-time view of a property's resting orders.
// Spread and MidPrice are nil unless both sides have orders.
type OrderBook struct {
	PropertyID string
	TokenID    string
	Bids       []PriceLevel
	Asks       []PriceLevel
	BidOrders  int
	AskOrders  int
	Spread     *decimal.Decimal
	MidPrice   *decimal.Decimal
	AsOf       time.Time
}

// bidLess orders the bid side: price descending, then created_at
// ascending, then order_id ascending.
func bidLess(a, b bookEntry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// askLess orders the ask side: price ascending, then created_at
// ascending, then order_id ascending.
func askLess(a, b bookEntry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// BookBuilder projects the order book from stored orders. It keeps no
// state, so every view reflects the store as of the call.
type BookBuilder struct {
	orders OpenOrderLister
	now    func() time.Time
}

// NewBookBuilder creates a BookBuilder reading from orders.
func NewBookBuilder(orders OpenOrderLister) *BookBuilder {
	return &BookBuilder{orders: orders, now: time.Now}
}

// Build returns the public book of a property. An empty tokenID includes
// every token of the property. Orders past their expiry are left out even
// if the sweeper has not reached them yet. depth limits the number of
// price levels per side; zero means all.
func (b *BookBuilder) Build(ctx context.Context, propertyID, tokenID string, depth int) (*OrderBook, error) {
	orders, err := b.orders.ListOpenOrders(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	const degree = 32
	bids := btree.NewG[bookEntry](degree, bidLess)
	asks := btree.NewG[bookEntry](degree, askLess)
	now := b.now()

	for _, o := range orders {
		if !o.Resting(now) || o.Visibility == domain.VisibilityPrivate {
			continue
		}
		if tokenID != "" && o.TokenID != tokenID {
			continue
		}
		entry := bookEntry{
			Price:     o.PricePerToken,
			CreatedAt: o.CreatedAt,
			OrderID:   o.ID,
			Remaining: o.RemainingAmount(),
		}
		if o.Side == domain.OrderSideBuy {
			bids.ReplaceOrInsert(entry)
		} else {
			asks.ReplaceOrInsert(entry)
		}
	}

	book := &OrderBook{
		PropertyID: propertyID,
		TokenID:    tokenID,
		Bids:       aggregateLevels(bids, depth),
		Asks:       aggregateLevels(asks, depth),
		BidOrders:  bids.Len(),
		AskOrders:  asks.Len(),
		AsOf:       now.UTC(),
	}

	bestBid, hasBid := bids.Min()
	bestAsk, hasAsk := asks.Min()
	if hasBid && hasAsk {
		spread := bestAsk.Price.Sub(bestBid.Price)
		mid := bestAsk.Price.Add(bestBid.Price).Div(decimal.NewFromInt(2))
		book.Spread = &spread
		book.MidPrice = &mid
	}
	return book, nil
}

// aggregateLevels walks the tree in priority order and folds entries into
// at most depth price levels.
func aggregateLevels(tree *btree.BTreeG[bookEntry], depth int) []PriceLevel {
	levels := []PriceLevel{}
	tree.Ascend(func(entry bookEntry) bool {
		if n := len(levels); n > 0 && levels[n-1].Price.Equal(entry.Price) {
			lvl := &levels[n-1]
			lvl.TotalRemainingAmount = lvl.TotalRemainingAmount.Add(entry.Remaining)
			lvl.OrderCount++
			if entry.CreatedAt.Before(lvl.EarliestOrderTime) {
				lvl.EarliestOrderTime = entry.CreatedAt
			}
			return true
		}
		if depth > 0 && len(levels) >= depth {
			return false
		}
		levels = append(levels, PriceLevel{
			Price:                entry.Price,
			TotalRemainingAmount: entry.Remaining,
			OrderCount:           1,
			EarliestOrderTime:    entry.CreatedAt,
		})
		return true
	})
	return levels
}
