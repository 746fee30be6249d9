package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus is the outcome of a settlement attempt.
type TradeStatus string

const (
	TradeStatusCompleted TradeStatus = "completed"
	TradeStatusFailed    TradeStatus = "failed"
)

// TradeType distinguishes trades between two resting orders from trades
// where at least one party had no order on the book.
type TradeType string

const (
	TradeTypeLimit  TradeType = "limit"
	TradeTypeMarket TradeType = "market"
)

// Trade is an immutable record of one settlement attempt between a buyer
// and a seller. BuyOrderID or SellOrderID is empty for a direct party.
type Trade struct {
	ID             string
	PropertyID     string
	TokenID        string
	BuyOrderID     string
	SellOrderID    string
	BuyerID        string
	SellerID       string
	TokenAmount    decimal.Decimal
	PricePerToken  decimal.Decimal
	TotalPrice     decimal.Decimal
	Currency       string
	PlatformFee    decimal.Decimal
	BuyerFee       decimal.Decimal
	SellerFee      decimal.Decimal
	SettlementTxID string
	PaymentTxID    string
	Status         TradeStatus
	FailureReason  string
	Type           TradeType
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// Completed reports whether the trade settled.
func (t *Trade) Completed() bool {
	return t.Status == TradeStatusCompleted
}

// Clone returns a copy of the trade.
func (t *Trade) Clone() *Trade {
	c := *t
	c.CompletedAt = cloneTime(t.CompletedAt)
	return &c
}

// TradeEnrichment holds fields joined onto a trade for a particular reader.
type TradeEnrichment struct {
	// UserSide is the side the requesting user took in the trade.
	UserSide OrderSide
}

// TradeView is a trade with optional enrichment attached.
type TradeView struct {
	*Trade
	Enrichment *TradeEnrichment
}

// TradeFilter selects completed trades for a property.
type TradeFilter struct {
	PropertyID string
	UserID     string // optional; matches buyer or seller
	Limit      int
}

// TradeWindow aggregates completed trades of a property since a point in time.
type TradeWindow struct {
	Count       int
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	High        *decimal.Decimal
	Low         *decimal.Decimal
	First       *Trade // oldest trade in the window
	Last        *Trade // newest trade in the window
}

// Add folds a completed trade into the window. Trades must be added in
// completion order.
func (w *TradeWindow) Add(t *Trade) {
	w.Count++
	w.Volume = w.Volume.Add(t.TokenAmount)
	w.QuoteVolume = w.QuoteVolume.Add(t.TotalPrice)
	p := t.PricePerToken
	if w.High == nil || p.GreaterThan(*w.High) {
		w.High = &p
	}
	if w.Low == nil || p.LessThan(*w.Low) {
		l := p
		w.Low = &l
	}
	if w.First == nil {
		w.First = t
	}
	w.Last = t
}
