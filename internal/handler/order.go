package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /orders. Amounts
// accept JSON strings or numbers.
type submitOrderRequest struct {
	PropertyID    string          `json:"property_id"`
	TokenID       string          `json:"token_id"`
	OrderType     string          `json:"order_type"`
	TokenAmount   decimal.Decimal `json:"token_amount"`
	PricePerToken decimal.Decimal `json:"price_per_token"`
	Currency      string          `json:"currency"`
	ExpiresAt     *string         `json:"expires_at"`
	Notes         string          `json:"notes"`
	IsPublic      *bool           `json:"is_public"`
}

// orderResponse is the JSON representation of an order. Nullable fields
// are always present.
type orderResponse struct {
	ID              string          `json:"id"`
	PropertyID      string          `json:"property_id"`
	TokenID         string          `json:"token_id"`
	OrderType       string          `json:"order_type"`
	UserID          string          `json:"user_id"`
	TokenAmount     decimal.Decimal `json:"token_amount"`
	PricePerToken   decimal.Decimal `json:"price_per_token"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	FilledAmount    decimal.Decimal `json:"filled_amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	EscrowStatus    string          `json:"escrow_status"`
	IsPublic        bool            `json:"is_public"`
	Notes           string          `json:"notes"`
	ExpiresAt       *string         `json:"expires_at"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
	FilledAt        *string         `json:"filled_at"`
	CancelledAt     *string         `json:"cancelled_at"`
	ExpiredAt       *string         `json:"expired_at"`
	SettlementTxID  *string         `json:"settlement_tx_id"`
}

// SubmitOrder handles POST /orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "expires_at must be a valid RFC 3339 timestamp")
			return
		}
		expiresAt = &t
	}

	order, err := h.orderSvc.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		PropertyID:    req.PropertyID,
		TokenID:       req.TokenID,
		Side:          domain.OrderSide(req.OrderType),
		UserID:        callerID(r),
		TokenAmount:   req.TokenAmount,
		PricePerToken: req.PricePerToken,
		Currency:      req.Currency,
		ExpiresAt:     expiresAt,
		Notes:         req.Notes,
		IsPublic:      req.IsPublic,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.GetOrder(r.Context(), chi.URLParam(r, "order_id"), callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// ListOrders handles GET /orders?user_id=&property_id=. user_id defaults
// to the caller.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		userID = callerID(r)
	}

	orders, err := h.orderSvc.ListOrders(r.Context(), userID, q.Get("property_id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Other users' private orders stay hidden.
	caller := callerID(r)
	resp := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		if o.Visibility == domain.VisibilityPrivate && o.UserID != caller {
			continue
		}
		resp = append(resp, buildOrderResponse(o))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"orders": resp})
}

// CancelOrder handles DELETE /orders/{order_id}.
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.CancelOrder(r.Context(), chi.URLParam(r, "order_id"), callerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

func buildOrderResponse(o *domain.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		PropertyID:      o.PropertyID,
		TokenID:         o.TokenID,
		OrderType:       string(o.Side),
		UserID:          o.UserID,
		TokenAmount:     o.TokenAmount,
		PricePerToken:   o.PricePerToken,
		Currency:        o.Currency,
		Status:          string(o.Status),
		FilledAmount:    o.FilledAmount,
		RemainingAmount: o.RemainingAmount(),
		EscrowStatus:    string(o.EscrowStatus),
		IsPublic:        o.Visibility != domain.VisibilityPrivate,
		Notes:           o.Notes,
		ExpiresAt:       formatTimePtr(o.ExpiresAt),
		CreatedAt:       formatTime(o.CreatedAt),
		UpdatedAt:       formatTime(o.UpdatedAt),
		FilledAt:        formatTimePtr(o.FilledAt),
		CancelledAt:     formatTimePtr(o.CancelledAt),
		ExpiredAt:       formatTimePtr(o.ExpiredAt),
		SettlementTxID:  optionalString(o.SettlementTxID),
	}
}
