package service

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/engine"
)

// OrderReader is the read side of the order store.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID, propertyID string) ([]*domain.Order, error)
}

// SubmitOrderRequest represents the input for order submission.
type SubmitOrderRequest struct {
	PropertyID    string
	TokenID       string
	Side          domain.OrderSide
	UserID        string
	TokenAmount   decimal.Decimal
	PricePerToken decimal.Decimal
	Currency      string
	ExpiresAt     *time.Time
	Notes         string
	IsPublic      *bool // nil means public
}

// ExecuteTradeRequest represents the input for an explicit trade execution.
// CallerID is the user asking for it.
type ExecuteTradeRequest struct {
	CallerID      string
	PropertyID    string
	TokenID       string
	BuyOrderID    string
	SellOrderID   string
	BuyerID       string
	SellerID      string
	TokenAmount   decimal.Decimal
	PricePerToken decimal.Decimal
	Currency      string
}

// OrderService handles order submission, retrieval, cancellation, and
// trade execution.
type OrderService struct {
	engine *engine.Engine
	orders OrderReader
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(eng *engine.Engine, orders OrderReader) *OrderService {
	return &OrderService{
		engine: eng,
		orders: orders,
	}
}

// SubmitOrder posts a standing order. Orders are never matched on entry.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*domain.Order, error) {
	visibility := domain.VisibilityPublic
	if req.IsPublic != nil && !*req.IsPublic {
		visibility = domain.VisibilityPrivate
	}

	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC()
		expiresAt = &t
	}

	return s.engine.CreateOrder(ctx, engine.OrderRequest{
		PropertyID:    req.PropertyID,
		TokenID:       req.TokenID,
		Side:          domain.OrderSide(strings.ToLower(string(req.Side))),
		UserID:        req.UserID,
		TokenAmount:   req.TokenAmount,
		PricePerToken: req.PricePerToken,
		Currency:      req.Currency,
		ExpiresAt:     expiresAt,
		Notes:         strings.TrimSpace(req.Notes),
		Visibility:    visibility,
	})
}

// GetOrder retrieves an order by ID. Private orders are only visible to
// their owner; everyone else gets domain.ErrOrderNotFound.
func (s *OrderService) GetOrder(ctx context.Context, orderID, callerID string) (*domain.Order, error) {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Visibility == domain.VisibilityPrivate && o.UserID != callerID {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// ListOrders returns a user's orders newest first, optionally limited to
// one property.
func (s *OrderService) ListOrders(ctx context.Context, userID, propertyID string) ([]*domain.Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &domain.ValidationError{Message: "user_id is required"}
	}
	return s.orders.ListOrdersByUser(ctx, userID, strings.TrimSpace(propertyID))
}

// CancelOrder cancels an order on behalf of callerID, who must own it.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, callerID string) (*domain.Order, error) {
	if strings.TrimSpace(callerID) == "" {
		return nil, domain.ErrForbidden
	}
	return s.engine.CancelOrder(ctx, orderID, callerID)
}

// ExecuteTrade settles a trade between the given orders or parties on
// behalf of callerID, who must take part in it or be an operator.
func (s *OrderService) ExecuteTrade(ctx context.Context, req ExecuteTradeRequest) (*domain.Trade, error) {
	callerID := strings.TrimSpace(req.CallerID)
	if callerID == "" {
		return nil, domain.ErrForbidden
	}
	return s.engine.Execute(ctx, engine.ExecuteRequest{
		CallerID:      callerID,
		PropertyID:    req.PropertyID,
		TokenID:       req.TokenID,
		BuyOrderID:    strings.TrimSpace(req.BuyOrderID),
		SellOrderID:   strings.TrimSpace(req.SellOrderID),
		BuyerID:       strings.TrimSpace(req.BuyerID),
		SellerID:      strings.TrimSpace(req.SellerID),
		TokenAmount:   req.TokenAmount,
		PricePerToken: req.PricePerToken,
		Currency:      req.Currency,
	})
}
