package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WindowStats summarizes completed trades over a trailing window.
type WindowStats struct {
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	Trades      int
	High        *decimal.Decimal
	Low         *decimal.Decimal
}

// MarketStats is the derived statistics snapshot for one property.
// Nil pointer fields mean the value does not exist yet.
type MarketStats struct {
	PropertyID     string
	BestBid        *decimal.Decimal
	BestAsk        *decimal.Decimal
	Spread         *decimal.Decimal
	MidPrice       *decimal.Decimal
	LastPrice      *decimal.Decimal
	LastTradeAt    *time.Time
	Change24h      *decimal.Decimal // percent
	Day            WindowStats
	Week           WindowStats
	AllTime        WindowStats
	OpenBuyOrders  int
	OpenSellOrders int
	ComputedAt     time.Time
}

// NewWindowStats converts a trade window into its summary.
func NewWindowStats(w TradeWindow) WindowStats {
	return WindowStats{
		Volume:      w.Volume,
		QuoteVolume: w.QuoteVolume,
		Trades:      w.Count,
		High:        w.High,
		Low:         w.Low,
	}
}
