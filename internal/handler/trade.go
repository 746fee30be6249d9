package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/service"
)

// TradeHandler handles HTTP requests for trade endpoints.
type TradeHandler struct {
	orderSvc  *service.OrderService
	marketSvc *service.MarketService
}

// NewTradeHandler creates a new TradeHandler.
func NewTradeHandler(orderSvc *service.OrderService, marketSvc *service.MarketService) *TradeHandler {
	return &TradeHandler{orderSvc: orderSvc, marketSvc: marketSvc}
}

// executeTradeRequest is the JSON request body for POST /trades.
type executeTradeRequest struct {
	PropertyID    string          `json:"property_id"`
	TokenID       string          `json:"token_id"`
	BuyOrderID    string          `json:"buy_order_id"`
	SellOrderID   string          `json:"sell_order_id"`
	BuyerID       string          `json:"buyer_id"`
	SellerID      string          `json:"seller_id"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	Currency      string          `json:"currency"`
}

// tradeResponse is the JSON representation of a trade. UserSide is only
// present when trades are listed for a user.
type tradeResponse struct {
	ID             string          `json:"id"`
	PropertyID     string          `json:"property_id"`
	TokenID        string          `json:"token_id"`
	BuyOrderID     *string         `json:"buy_order_id"`
	SellOrderID    *string         `json:"sell_order_id"`
	BuyerID        string          `json:"buyer_id"`
	SellerID       string          `json:"seller_id"`
	TokenAmount    decimal.Decimal `json:"token_amount"`
	PricePerToken  decimal.Decimal `json:"price_per_token"`
	TotalPrice     decimal.Decimal `json:"total_price"`
	Currency       string          `json:"currency"`
	PlatformFee    decimal.Decimal `json:"platform_fee"`
	BuyerFee       decimal.Decimal `json:"buyer_fee"`
	SellerFee      decimal.Decimal `json:"seller_fee"`
	SettlementTxID *string         `json:"settlement_tx_id"`
	PaymentTxID    *string         `json:"payment_tx_id"`
	Status         string          `json:"status"`
	TradeType      string          `json:"trade_type"`
	CreatedAt      string          `json:"created_at"`
	CompletedAt    *string         `json:"completed_at"`
	UserSide       string          `json:"user_side,omitempty"`
}

// ExecuteTrade handles POST /trades. The caller must be a party to the
// trade or an operator account.
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var req executeTradeRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	trade, err := h.orderSvc.ExecuteTrade(r.Context(), service.ExecuteTradeRequest{
		CallerID:      callerID(r),
		PropertyID:    req.PropertyID,
		TokenID:       req.TokenID,
		BuyOrderID:    req.BuyOrderID,
		SellOrderID:   req.SellOrderID,
		BuyerID:       req.BuyerID,
		SellerID:      req.SellerID,
		TokenAmount:   req.TokenAmount,
		PricePerToken: req.PricePerToken,
		Currency:      req.Currency,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildTradeResponse(domain.TradeView{Trade: trade}))
}

// ListTrades handles GET /properties/{property_id}/trades?user_id=&limit=.
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeDomainError(w, err)
		return
	}

	propertyID := chi.URLParam(r, "property_id")
	views, err := h.marketSvc.Trades(r.Context(), propertyID, r.URL.Query().Get("user_id"), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]tradeResponse, len(views))
	for i, v := range views {
		resp[i] = buildTradeResponse(v)
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"property_id": propertyID,
		"trades":      resp,
	})
}

func buildTradeResponse(v domain.TradeView) tradeResponse {
	t := v.Trade
	resp := tradeResponse{
		ID:             t.ID,
		PropertyID:     t.PropertyID,
		TokenID:        t.TokenID,
		BuyOrderID:     optionalString(t.BuyOrderID),
		SellOrderID:    optionalString(t.SellOrderID),
		BuyerID:        t.BuyerID,
		SellerID:       t.SellerID,
		TokenAmount:    t.TokenAmount,
		PricePerToken:  t.PricePerToken,
		TotalPrice:     t.TotalPrice,
		Currency:       t.Currency,
		PlatformFee:    t.PlatformFee,
		BuyerFee:       t.BuyerFee,
		SellerFee:      t.SellerFee,
		SettlementTxID: optionalString(t.SettlementTxID),
		PaymentTxID:    optionalString(t.PaymentTxID),
		Status:         string(t.Status),
		TradeType:      string(t.Type),
		CreatedAt:      formatTime(t.CreatedAt),
		CompletedAt:    formatTimePtr(t.CompletedAt),
	}
	if v.Enrichment != nil {
		resp.UserSide = string(v.Enrichment.UserSide)
	}
	return resp
}
