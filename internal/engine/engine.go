package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/ledger"
)

// Store is the persistence the engine writes through. Order writes are
// conditional on the version the caller read.
type Store interface {
	CreateOrder(ctx context.Context, o *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	ListOpenOrders(ctx context.Context, propertyID string) ([]*domain.Order, error)
	ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error)
	UpdateOrder(ctx context.Context, o *domain.Order, expectedVersion int64) error
	CommitFill(ctx context.Context, fill domain.Fill) error
	CreateTrade(ctx context.Context, t *domain.Trade) error
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
}

// Config holds the engine's tunables.
type Config struct {
	PlatformAccount string
	Fees            FeeSchedule
	CASRetries      uint64
	// CheckHoldings asks the ledger for the seller's token balance before
	// accepting a sell order.
	CheckHoldings bool
	// Operators may execute trades they are not a party to.
	Operators []string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithObserver registers an observer of committed changes.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// WithMetrics records engine activity in m.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine validates orders, settles trades through the ledger and keeps
// order state consistent. It holds no locks of its own: every order write
// is a compare-and-swap on the order's version.
type Engine struct {
	store      Store
	ledger     ledger.Gateway
	currencies *domain.CurrencyRegistry
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics
	observers  observers
	now        func() time.Time
}

// New creates an Engine.
func New(
	store Store,
	gateway ledger.Gateway,
	currencies *domain.CurrencyRegistry,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:      store,
		ledger:     gateway,
		currencies: currencies,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OrderRequest is a validated-shape request to post a standing order.
type OrderRequest struct {
	PropertyID    string
	TokenID       string
	Side          domain.OrderSide
	UserID        string
	TokenAmount   decimal.Decimal
	PricePerToken decimal.Decimal
	Currency      string // empty means the default currency
	ExpiresAt     *time.Time
	Notes         string
	Visibility    domain.Visibility
}

// CreateOrder validates req and stores a new open order. Sell orders are
// checked against the seller's token balance on the ledger.
func (e *Engine) CreateOrder(ctx context.Context, req OrderRequest) (*domain.Order, error) {
	now := e.now().UTC()
	currency, err := e.validateOrder(&req, now)
	if err != nil {
		return nil, err
	}

	if req.Side == domain.OrderSideSell && e.cfg.CheckHoldings {
		held, err := e.ledger.GetBalance(ctx, req.UserID, req.TokenID)
		if err != nil {
			return nil, fmt.Errorf("check token holdings: %w", err)
		}
		if held.LessThan(req.TokenAmount) {
			return nil, fmt.Errorf("%w: holds %s of %s, order needs %s",
				domain.ErrInsufficientHoldings, held, req.TokenID, req.TokenAmount)
		}
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = domain.VisibilityPublic
	}
	o := &domain.Order{
		ID:            uuid.New().String(),
		PropertyID:    req.PropertyID,
		TokenID:       req.TokenID,
		Side:          req.Side,
		UserID:        req.UserID,
		TokenAmount:   req.TokenAmount,
		PricePerToken: req.PricePerToken,
		Currency:      currency,
		Status:        domain.OrderStatusOpen,
		EscrowStatus:  domain.EscrowNone,
		Visibility:    visibility,
		Notes:         req.Notes,
		ExpiresAt:     req.ExpiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("store order: %w", err)
	}

	e.metrics.orderCreated(o.Side)
	e.logger.Info("order created",
		"order_id", o.ID,
		"property_id", o.PropertyID,
		"side", o.Side,
		"token_amount", o.TokenAmount.String(),
		"price_per_token", o.PricePerToken.String(),
	)
	e.observers.orderChanged(ctx, o)
	return o, nil
}

func (e *Engine) validateOrder(req *OrderRequest, now time.Time) (string, error) {
	req.PropertyID = strings.TrimSpace(req.PropertyID)
	req.TokenID = strings.TrimSpace(req.TokenID)
	req.UserID = strings.TrimSpace(req.UserID)

	switch {
	case req.UserID == "":
		return "", &domain.ValidationError{Message: "user_id is required"}
	case req.PropertyID == "":
		return "", &domain.ValidationError{Message: "property_id is required"}
	case req.TokenID == "":
		return "", &domain.ValidationError{Message: "token_id is required"}
	case req.Side != domain.OrderSideBuy && req.Side != domain.OrderSideSell:
		return "", &domain.ValidationError{Message: "order_type must be 'buy' or 'sell'"}
	case !req.TokenAmount.IsPositive():
		return "", &domain.ValidationError{Message: "token_amount must be greater than 0"}
	case !req.PricePerToken.IsPositive():
		return "", &domain.ValidationError{Message: "price_per_token must be greater than 0"}
	case req.Visibility != "" && req.Visibility != domain.VisibilityPublic && req.Visibility != domain.VisibilityPrivate:
		return "", &domain.ValidationError{Message: "visibility must be 'public' or 'private'"}
	case req.ExpiresAt != nil && !req.ExpiresAt.After(now):
		return "", &domain.ValidationError{Message: "expires_at must be in the future"}
	}
	return e.currencies.Normalize(req.Currency)
}

// CancelOrder cancels an order on behalf of its owner. Cancelling an
// already cancelled order returns it unchanged. An order held by an
// in-flight settlement cannot be cancelled until that settlement ends.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	var (
		result  *domain.Order
		changed bool
	)
	err := e.withCAS(ctx, func() error {
		o, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return domain.ErrForbidden
		}
		switch {
		case o.Status == domain.OrderStatusCancelled:
			result, changed = o, false
			return nil
		case o.Status.Terminal():
			return fmt.Errorf("%w: order is %s", domain.ErrInvalidState, o.Status)
		case o.ReservedAmount.IsPositive():
			return fmt.Errorf("%w: settlement in progress", domain.ErrInvalidState)
		}

		version := o.Version
		o.Cancel(e.now().UTC())
		if err := e.store.UpdateOrder(ctx, o, version); err != nil {
			return err
		}
		result, changed = o, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.metrics.orderCancelled()
		e.logger.Info("order cancelled", "order_id", result.ID, "user_id", userID)
		e.observers.orderChanged(ctx, result)
	}
	return result, nil
}

// Expire transitions an order whose expiry has passed to expired. Expiring
// an already expired order returns it unchanged. Orders with held escrow
// are left for a later pass.
func (e *Engine) Expire(ctx context.Context, orderID string) (*domain.Order, error) {
	var (
		result  *domain.Order
		changed bool
	)
	err := e.withCAS(ctx, func() error {
		o, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		switch {
		case o.Status == domain.OrderStatusExpired:
			result, changed = o, false
			return nil
		case o.Status.Terminal():
			return fmt.Errorf("%w: order is %s", domain.ErrInvalidState, o.Status)
		case !o.IsExpired(now):
			return fmt.Errorf("%w: order has not reached its expiry", domain.ErrInvalidState)
		case o.ReservedAmount.IsPositive():
			return fmt.Errorf("%w: settlement in progress", domain.ErrInvalidState)
		}

		version := o.Version
		o.Expire(now)
		if err := e.store.UpdateOrder(ctx, o, version); err != nil {
			return err
		}
		result, changed = o, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		e.metrics.orderExpired()
		e.logger.Info("order expired", "order_id", result.ID)
		e.observers.orderChanged(ctx, result)
	}
	return result, nil
}
