package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/engine"
	"github.com/efreitasn/tokenmarket/internal/service"
)

// PropertyHandler serves the read-side market views of a property.
type PropertyHandler struct {
	marketSvc  *service.MarketService
	historySvc *service.HistoryService
	statsSvc   *service.StatsService
}

// NewPropertyHandler creates a new PropertyHandler.
func NewPropertyHandler(
	marketSvc *service.MarketService,
	historySvc *service.HistoryService,
	statsSvc *service.StatsService,
) *PropertyHandler {
	return &PropertyHandler{
		marketSvc:  marketSvc,
		historySvc: historySvc,
		statsSvc:   statsSvc,
	}
}

// bookLevelResponse is a single price level in the book response.
type bookLevelResponse struct {
	Price                decimal.Decimal `json:"price"`
	TotalRemainingAmount decimal.Decimal `json:"total_remaining_amount"`
	OrderCount           int             `json:"order_count"`
	EarliestOrderTime    string          `json:"earliest_order_time"`
}

// bookResponse is the JSON response for GET /properties/{property_id}/book.
type bookResponse struct {
	PropertyID string              `json:"property_id"`
	TokenID    *string             `json:"token_id"`
	Bids       []bookLevelResponse `json:"bids"`
	Asks       []bookLevelResponse `json:"asks"`
	Spread     *decimal.Decimal    `json:"spread"`
	MidPrice   *decimal.Decimal    `json:"mid_price"`
	SnapshotAt string              `json:"snapshot_at"`
}

// candleResponse is one OHLCV bucket.
type candleResponse struct {
	BucketStart string          `json:"bucket_start"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	QuoteVolume decimal.Decimal `json:"quote_volume"`
	TradeCount  int64           `json:"trade_count"`
}

// windowResponse summarizes a trailing window of trades.
type windowResponse struct {
	Volume      decimal.Decimal  `json:"volume"`
	QuoteVolume decimal.Decimal  `json:"quote_volume"`
	Trades      int              `json:"trades"`
	High        *decimal.Decimal `json:"high"`
	Low         *decimal.Decimal `json:"low"`
}

// dayWindowResponse adds the 24h price change.
type dayWindowResponse struct {
	windowResponse
	Change *decimal.Decimal `json:"change"`
}

// statsResponse is the JSON response for GET /properties/{property_id}/stats.
type statsResponse struct {
	PropertyID     string            `json:"property_id"`
	BestBid        *decimal.Decimal  `json:"best_bid"`
	BestAsk        *decimal.Decimal  `json:"best_ask"`
	Spread         *decimal.Decimal  `json:"spread"`
	MidPrice       *decimal.Decimal  `json:"mid_price"`
	LastPrice      *decimal.Decimal  `json:"last_price"`
	LastTradeAt    *string           `json:"last_trade_at"`
	Day            dayWindowResponse `json:"24h"`
	Week           windowResponse    `json:"7d"`
	AllTime        windowResponse    `json:"all_time"`
	OpenBuyOrders  int               `json:"open_buy_orders"`
	OpenSellOrders int               `json:"open_sell_orders"`
	ComputedAt     string            `json:"computed_at"`
}

// GetBook handles GET /properties/{property_id}/book?token_id=&depth=.
func (h *PropertyHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	book, err := h.marketSvc.Book(r.Context(), chi.URLParam(r, "property_id"), r.URL.Query().Get("token_id"), depth)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, bookResponse{
		PropertyID: book.PropertyID,
		TokenID:    optionalString(book.TokenID),
		Bids:       buildLevelResponses(book.Bids),
		Asks:       buildLevelResponses(book.Asks),
		Spread:     book.Spread,
		MidPrice:   book.MidPrice,
		SnapshotAt: formatTime(book.AsOf),
	})
}

// GetPriceHistory handles GET /properties/{property_id}/price-history?interval=&limit=.
func (h *PropertyHandler) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	q := r.URL.Query()
	interval := q.Get("interval")
	if interval == "" {
		interval = string(domain.Interval1h)
	}

	propertyID := chi.URLParam(r, "property_id")
	candles, err := h.historySvc.History(r.Context(), propertyID, interval, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]candleResponse, len(candles))
	for i, c := range candles {
		resp[i] = candleResponse{
			BucketStart: formatTime(c.BucketStart),
			Open:        c.Open,
			High:        c.High,
			Low:         c.Low,
			Close:       c.Close,
			Volume:      c.Volume,
			QuoteVolume: c.QuoteVolume,
			TradeCount:  c.TradeCount,
		}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"property_id": propertyID,
		"interval":    interval,
		"candles":     resp,
	})
}

// GetStats handles GET /properties/{property_id}/stats.
func (h *PropertyHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.statsSvc.Stats(r.Context(), chi.URLParam(r, "property_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, statsResponse{
		PropertyID:  stats.PropertyID,
		BestBid:     stats.BestBid,
		BestAsk:     stats.BestAsk,
		Spread:      stats.Spread,
		MidPrice:    stats.MidPrice,
		LastPrice:   stats.LastPrice,
		LastTradeAt: formatTimePtr(stats.LastTradeAt),
		Day: dayWindowResponse{
			windowResponse: buildWindowResponse(stats.Day),
			Change:         stats.Change24h,
		},
		Week:           buildWindowResponse(stats.Week),
		AllTime:        buildWindowResponse(stats.AllTime),
		OpenBuyOrders:  stats.OpenBuyOrders,
		OpenSellOrders: stats.OpenSellOrders,
		ComputedAt:     formatTime(stats.ComputedAt),
	})
}

func buildLevelResponses(levels []engine.PriceLevel) []bookLevelResponse {
	result := make([]bookLevelResponse, len(levels))
	for i, l := range levels {
		result[i] = bookLevelResponse{
			Price:                l.Price,
			TotalRemainingAmount: l.TotalRemainingAmount,
			OrderCount:           l.OrderCount,
			EarliestOrderTime:    formatTime(l.EarliestOrderTime),
		}
	}
	return result
}

func buildWindowResponse(s domain.WindowStats) windowResponse {
	return windowResponse{
		Volume:      s.Volume,
		QuoteVolume: s.QuoteVolume,
		Trades:      s.Trades,
		High:        s.High,
		Low:         s.Low,
	}
}
