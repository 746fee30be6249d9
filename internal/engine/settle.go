package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/ledger"
)

// ExecuteRequest pairs a buyer and a seller for one trade. Each side is
// either a resting order or a direct party identified by user ID.
//
// CallerID, when set, must be an operator account or a party to the trade,
// and a side without an order can only name the caller. An empty CallerID
// is an in-process call and is not checked.
type ExecuteRequest struct {
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

// tradePlan is a request resolved against the referenced orders.
type tradePlan struct {
	buyerID  string
	sellerID string
	currency string
	orderIDs []string // referenced orders, buy side first
	direct   []string // parties trading without an order
}

// Execute settles one trade. It reserves the amount on each referenced
// order, moves tokens and currency through the ledger with no lock held,
// and then commits the fills and the trade atomically. When the ledger
// rejects a transfer the reservations are released, the trade is recorded
// as failed and a *domain.SettlementError is returned. Settlement is never
// retried here.
//
// Legs are not atomic across the ledger: a failed trade whose
// SettlementTxID is set had its token leg completed and needs
// reconciliation against the ledger.
//
// When the atomic commit keeps failing after a successful settlement the
// fills and the trade are written one by one, so the orders never stay
// held by a trade that already moved funds.
func (e *Engine) Execute(ctx context.Context, req ExecuteRequest) (*domain.Trade, error) {
	plan, err := e.planTrade(ctx, &req)
	if err != nil {
		return nil, err
	}

	var reserved []string
	for _, id := range plan.orderIDs {
		if err := e.reserve(ctx, id, req.TokenAmount); err != nil {
			e.releaseAll(ctx, reserved, req.TokenAmount)
			return nil, err
		}
		reserved = append(reserved, id)
	}

	now := e.now().UTC()
	scale := e.currencies.Scale(plan.currency)
	total := req.TokenAmount.Mul(req.PricePerToken)
	fees := e.cfg.Fees.Compute(total, scale)
	trade := &domain.Trade{
		ID:            uuid.New().String(),
		PropertyID:    req.PropertyID,
		TokenID:       req.TokenID,
		BuyOrderID:    req.BuyOrderID,
		SellOrderID:   req.SellOrderID,
		BuyerID:       plan.buyerID,
		SellerID:      plan.sellerID,
		TokenAmount:   req.TokenAmount,
		PricePerToken: req.PricePerToken,
		TotalPrice:    total,
		Currency:      plan.currency,
		PlatformFee:   fees.Platform,
		BuyerFee:      fees.Buyer,
		SellerFee:     fees.Seller,
		Type:          domain.TradeTypeMarket,
		CreatedAt:     now,
	}
	if req.BuyOrderID != "" && req.SellOrderID != "" {
		trade.Type = domain.TradeTypeLimit
	}

	started := time.Now()
	settleErr := e.settle(ctx, trade)
	elapsed := time.Since(started)

	// The ledger outcome is final from here on; store writes must not be
	// abandoned because the caller went away.
	ctx = context.WithoutCancel(ctx)

	if settleErr != nil {
		e.releaseAll(ctx, reserved, req.TokenAmount)
		trade.Status = domain.TradeStatusFailed
		trade.FailureReason = settleErr.Error()
		if err := e.store.CreateTrade(ctx, trade); err != nil {
			e.logger.Error("failed to record failed trade", "trade_id", trade.ID, "error", err)
		}
		e.metrics.tradeRecorded(trade, elapsed)
		e.logger.Warn("settlement failed",
			"trade_id", trade.ID,
			"property_id", trade.PropertyID,
			"buyer_id", trade.BuyerID,
			"seller_id", trade.SellerID,
			"error", settleErr,
		)
		e.observers.tradeRecorded(ctx, trade)
		return nil, &domain.SettlementError{TradeID: trade.ID, Err: settleErr}
	}

	completedAt := e.now().UTC()
	trade.Status = domain.TradeStatusCompleted
	trade.CompletedAt = &completedAt

	filled, err := e.commit(ctx, plan, trade)
	if err != nil {
		e.logger.Warn("atomic commit of settled trade failed, writing fills separately",
			"trade_id", trade.ID,
			"error", err,
		)
		filled, err = e.recoverCommit(ctx, plan, trade)
	}
	if err != nil {
		e.logger.Error("settled trade needs reconciliation",
			"trade_id", trade.ID,
			"settlement_tx_id", trade.SettlementTxID,
			"payment_tx_id", trade.PaymentTxID,
			"error", err,
		)
		return nil, fmt.Errorf("commit settled trade %s: %w", trade.ID, err)
	}

	e.metrics.tradeRecorded(trade, elapsed)
	e.logger.Info("trade settled",
		"trade_id", trade.ID,
		"property_id", trade.PropertyID,
		"type", trade.Type,
		"token_amount", trade.TokenAmount.String(),
		"price_per_token", trade.PricePerToken.String(),
		"platform_fee", trade.PlatformFee.String(),
		"settlement_tx_id", trade.SettlementTxID,
	)
	for _, o := range filled {
		e.observers.orderChanged(ctx, o)
	}
	e.observers.tradeRecorded(ctx, trade)
	return trade, nil
}

func (e *Engine) planTrade(ctx context.Context, req *ExecuteRequest) (*tradePlan, error) {
	req.PropertyID = strings.TrimSpace(req.PropertyID)
	req.TokenID = strings.TrimSpace(req.TokenID)
	switch {
	case req.PropertyID == "":
		return nil, &domain.ValidationError{Message: "property_id is required"}
	case req.TokenID == "":
		return nil, &domain.ValidationError{Message: "token_id is required"}
	case !req.TokenAmount.IsPositive():
		return nil, &domain.ValidationError{Message: "token_amount must be greater than 0"}
	case !req.PricePerToken.IsPositive():
		return nil, &domain.ValidationError{Message: "price_per_token must be greater than 0"}
	}

	plan := &tradePlan{buyerID: req.BuyerID, sellerID: req.SellerID}
	var orderCurrency string

	for _, side := range []domain.OrderSide{domain.OrderSideBuy, domain.OrderSideSell} {
		id, party := req.BuyOrderID, &plan.buyerID
		if side == domain.OrderSideSell {
			id, party = req.SellOrderID, &plan.sellerID
		}
		if id == "" {
			if *party == "" {
				return nil, &domain.ValidationError{
					Message: fmt.Sprintf("%s_order_id or %s is required", side, partyField(side)),
				}
			}
			plan.direct = append(plan.direct, *party)
			continue
		}

		o, err := e.store.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkOrderFits(o, side, *req); err != nil {
			return nil, err
		}
		if *party != "" && *party != o.UserID {
			return nil, &domain.ValidationError{
				Message: fmt.Sprintf("%s does not own %s order %s", *party, side, o.ID),
			}
		}
		*party = o.UserID
		if orderCurrency != "" && orderCurrency != o.Currency {
			return nil, &domain.ValidationError{Message: "buy and sell orders use different currencies"}
		}
		orderCurrency = o.Currency
		plan.orderIDs = append(plan.orderIDs, o.ID)
	}

	if plan.buyerID == plan.sellerID {
		return nil, &domain.ValidationError{Message: "buyer and seller must be different users"}
	}
	if req.CallerID != "" && !e.mayExecute(req.CallerID, plan) {
		return nil, fmt.Errorf("%w: %s is not a party to this trade", domain.ErrForbidden, req.CallerID)
	}

	switch {
	case orderCurrency == "":
		c, err := e.currencies.Normalize(req.Currency)
		if err != nil {
			return nil, err
		}
		plan.currency = c
	case req.Currency != "" && !strings.EqualFold(req.Currency, orderCurrency):
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("currency %s does not match order currency %s", req.Currency, orderCurrency),
		}
	default:
		plan.currency = orderCurrency
	}
	return plan, nil
}

// mayExecute reports whether caller may settle the planned trade. Order
// owners consented through their orders; direct parties only by calling.
func (e *Engine) mayExecute(caller string, plan *tradePlan) bool {
	if slices.Contains(e.cfg.Operators, caller) {
		return true
	}
	if caller != plan.buyerID && caller != plan.sellerID {
		return false
	}
	for _, party := range plan.direct {
		if party != caller {
			return false
		}
	}
	return true
}

func partyField(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return "buyer_id"
	}
	return "seller_id"
}

// checkOrderFits verifies the parts of an order that cannot change while
// it rests: side, instrument and limit price.
func checkOrderFits(o *domain.Order, side domain.OrderSide, req ExecuteRequest) error {
	if o.Side != side {
		return &domain.ValidationError{Message: fmt.Sprintf("order %s is a %s order, not %s", o.ID, o.Side, side)}
	}
	if o.PropertyID != req.PropertyID || o.TokenID != req.TokenID {
		return &domain.ValidationError{Message: fmt.Sprintf("order %s is for a different property or token", o.ID)}
	}
	if side == domain.OrderSideBuy && o.PricePerToken.LessThan(req.PricePerToken) {
		return &domain.ValidationError{
			Message: fmt.Sprintf("price %s exceeds buy order limit %s", req.PricePerToken, o.PricePerToken),
		}
	}
	if side == domain.OrderSideSell && o.PricePerToken.GreaterThan(req.PricePerToken) {
		return &domain.ValidationError{
			Message: fmt.Sprintf("price %s is below sell order limit %s", req.PricePerToken, o.PricePerToken),
		}
	}
	return nil
}

// reserve escrows amount on an order. It fails without retry when the
// order is no longer live or lacks the available amount.
func (e *Engine) reserve(ctx context.Context, orderID string, amount decimal.Decimal) error {
	return e.withCAS(ctx, func() error {
		o, err := e.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		if o.Status.Terminal() {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, o.ID, o.Status)
		}
		if o.IsExpired(now) {
			return fmt.Errorf("%w: order %s has expired", domain.ErrInvalidState, o.ID)
		}
		if o.AvailableAmount().LessThan(amount) {
			return fmt.Errorf("%w: order %s has %s available, trade needs %s",
				domain.ErrInsufficientRemainingAmount, o.ID, o.AvailableAmount(), amount)
		}
		version := o.Version
		o.Reserve(amount, now)
		return e.store.UpdateOrder(ctx, o, version)
	})
}

func (e *Engine) releaseAll(ctx context.Context, orderIDs []string, amount decimal.Decimal) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range orderIDs {
		err := e.retrySettled(ctx, func() error {
			o, err := e.store.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			version := o.Version
			o.Release(amount, e.now().UTC())
			return e.store.UpdateOrder(ctx, o, version)
		})
		if err != nil {
			e.logger.Error("failed to release reservation", "order_id", id, "amount", amount.String(), "error", err)
		}
	}
}

// settle performs the ledger transfers for trade: tokens to the buyer,
// proceeds net of the seller fee to the seller, and the platform fee to
// the platform account. Transaction IDs are recorded on trade as they
// succeed.
func (e *Engine) settle(ctx context.Context, trade *domain.Trade) error {
	txID, err := e.ledger.TransferTokens(ledger.WithIdempotencyKey(ctx, trade.ID+"/tokens"), trade.SellerID, trade.BuyerID, trade.TokenID, trade.TokenAmount)
	if err != nil {
		return fmt.Errorf("token transfer: %w", err)
	}
	trade.SettlementTxID = txID

	proceeds := trade.TotalPrice.Sub(trade.SellerFee)
	if proceeds.IsPositive() {
		txID, err = e.ledger.TransferCurrency(ledger.WithIdempotencyKey(ctx, trade.ID+"/payment"), trade.BuyerID, trade.SellerID, proceeds, trade.Currency)
		if err != nil {
			return fmt.Errorf("payment transfer: %w", err)
		}
		trade.PaymentTxID = txID
	}

	if trade.PlatformFee.IsPositive() {
		if _, err := e.ledger.TransferCurrency(ledger.WithIdempotencyKey(ctx, trade.ID+"/fee"), trade.BuyerID, e.cfg.PlatformAccount, trade.PlatformFee, trade.Currency); err != nil {
			return fmt.Errorf("platform fee transfer: %w", err)
		}
	}
	return nil
}

// commit converts the reservations into fills and stores them together
// with the completed trade.
func (e *Engine) commit(ctx context.Context, plan *tradePlan, trade *domain.Trade) ([]*domain.Order, error) {
	var filled []*domain.Order
	err := e.retrySettled(ctx, func() error {
		filled = filled[:0]
		updates := make([]domain.OrderUpdate, 0, len(plan.orderIDs))
		for _, id := range plan.orderIDs {
			o, err := e.store.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			version := o.Version
			o.Fill(trade.TokenAmount, trade.SettlementTxID, *trade.CompletedAt)
			updates = append(updates, domain.OrderUpdate{Order: o, ExpectedVersion: version})
			filled = append(filled, o)
		}
		return e.store.CommitFill(ctx, domain.Fill{Orders: updates, Trade: trade})
	})
	return filled, err
}

// recoverCommit lands a settled trade whose atomic commit failed. If the
// trade is already stored the commit went through after all. Otherwise each
// order is filled on its own and the trade is recorded last.
func (e *Engine) recoverCommit(ctx context.Context, plan *tradePlan, trade *domain.Trade) ([]*domain.Order, error) {
	var stored *domain.Trade
	err := e.retrySettled(ctx, func() error {
		var err error
		stored, err = e.store.GetTrade(ctx, trade.ID)
		if errors.Is(err, domain.ErrTradeNotFound) {
			stored = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("look up trade: %w", err)
	}

	filled := make([]*domain.Order, 0, len(plan.orderIDs))
	if stored != nil {
		for _, id := range plan.orderIDs {
			o, err := e.store.GetOrder(ctx, id)
			if err != nil {
				return nil, err
			}
			filled = append(filled, o)
		}
		return filled, nil
	}

	for _, id := range plan.orderIDs {
		var o *domain.Order
		err := e.retrySettled(ctx, func() error {
			var err error
			o, err = e.store.GetOrder(ctx, id)
			if err != nil {
				return err
			}
			version := o.Version
			o.Fill(trade.TokenAmount, trade.SettlementTxID, *trade.CompletedAt)
			return e.store.UpdateOrder(ctx, o, version)
		})
		if err != nil {
			return nil, fmt.Errorf("fill order %s: %w", id, err)
		}
		filled = append(filled, o)
	}

	err = e.retrySettled(ctx, func() error {
		err := e.store.CreateTrade(ctx, trade)
		if errors.Is(err, domain.ErrDuplicateTrade) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record trade: %w", err)
	}
	return filled, nil
}
