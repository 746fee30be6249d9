package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether an order buys or sells property tokens.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus represents the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// EscrowStatus tracks the hold placed on an order by settlement attempts.
// It moves to held when an attempt reserves part of the order, to consumed
// when the attempt settles, and to released when it fails or the order is
// withdrawn.
type EscrowStatus string

const (
	EscrowNone     EscrowStatus = "none"
	EscrowHeld     EscrowStatus = "held"
	EscrowReleased EscrowStatus = "released"
	EscrowConsumed EscrowStatus = "consumed"
)

// Visibility controls whether an order is shown on the public book.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Order is a standing intent to buy or sell a fixed token quantity at a
// limit price.
type Order struct {
	ID             string
	PropertyID     string
	TokenID        string
	Side           OrderSide
	UserID         string
	TokenAmount    decimal.Decimal
	PricePerToken  decimal.Decimal
	Currency       string
	Status         OrderStatus
	FilledAmount   decimal.Decimal
	ReservedAmount decimal.Decimal // escrowed by in-flight settlements
	ExpiresAt      *time.Time
	EscrowStatus   EscrowStatus
	Visibility     Visibility
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	FilledAt       *time.Time
	CancelledAt    *time.Time
	ExpiredAt      *time.Time
	SettlementTxID string
	Version        int64
}

// RemainingAmount is the part of the order not yet filled. It is frozen
// once the order is cancelled or expired.
func (o *Order) RemainingAmount() decimal.Decimal {
	return o.TokenAmount.Sub(o.FilledAmount)
}

// AvailableAmount is the remaining amount not held by a settlement attempt.
func (o *Order) AvailableAmount() decimal.Decimal {
	return o.RemainingAmount().Sub(o.ReservedAmount)
}

// IsExpired reports whether the order's expiry has passed at now.
func (o *Order) IsExpired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// Resting reports whether the order can still provide liquidity at now.
func (o *Order) Resting(now time.Time) bool {
	return !o.Status.Terminal() && !o.IsExpired(now)
}

// FillStatus derives the status implied by the filled amount.
func (o *Order) FillStatus() OrderStatus {
	switch {
	case o.FilledAmount.GreaterThanOrEqual(o.TokenAmount):
		return OrderStatusFilled
	case o.FilledAmount.IsPositive():
		return OrderStatusPartiallyFilled
	default:
		return OrderStatusOpen
	}
}

// Clone returns a deep copy so callers can mutate it without affecting
// stored state.
func (o *Order) Clone() *Order {
	c := *o
	c.ExpiresAt = cloneTime(o.ExpiresAt)
	c.FilledAt = cloneTime(o.FilledAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	c.ExpiredAt = cloneTime(o.ExpiredAt)
	return &c
}

// Reserve places an escrow hold of amount on the order.
func (o *Order) Reserve(amount decimal.Decimal, now time.Time) {
	o.ReservedAmount = o.ReservedAmount.Add(amount)
	o.EscrowStatus = EscrowHeld
	o.touch(now)
}

// Release drops an escrow hold of amount without filling.
func (o *Order) Release(amount decimal.Decimal, now time.Time) {
	o.ReservedAmount = o.ReservedAmount.Sub(amount)
	if o.ReservedAmount.IsPositive() {
		o.EscrowStatus = EscrowHeld
	} else {
		o.ReservedAmount = decimal.Zero
		o.EscrowStatus = EscrowReleased
	}
	o.touch(now)
}

// Fill converts an escrow hold of amount into a fill and advances the status.
func (o *Order) Fill(amount decimal.Decimal, txID string, now time.Time) {
	o.ReservedAmount = o.ReservedAmount.Sub(amount)
	if o.ReservedAmount.IsNegative() {
		o.ReservedAmount = decimal.Zero
	}
	o.FilledAmount = o.FilledAmount.Add(amount)
	o.Status = o.FillStatus()
	if o.ReservedAmount.IsPositive() {
		o.EscrowStatus = EscrowHeld
	} else {
		o.EscrowStatus = EscrowConsumed
	}
	o.SettlementTxID = txID
	if o.Status == OrderStatusFilled {
		t := now
		o.FilledAt = &t
	}
	o.touch(now)
}

// Cancel moves the order to cancelled, freezing the remaining amount.
func (o *Order) Cancel(now time.Time) {
	o.Status = OrderStatusCancelled
	o.EscrowStatus = releasedEscrow(o.EscrowStatus)
	t := now
	o.CancelledAt = &t
	o.touch(now)
}

// Expire moves the order to expired, freezing the remaining amount.
func (o *Order) Expire(now time.Time) {
	o.Status = OrderStatusExpired
	o.EscrowStatus = releasedEscrow(o.EscrowStatus)
	t := now
	if o.ExpiresAt != nil {
		t = *o.ExpiresAt
	}
	o.ExpiredAt = &t
	o.touch(now)
}

func (o *Order) touch(now time.Time) {
	o.UpdatedAt = now
	o.Version++
}

func releasedEscrow(s EscrowStatus) EscrowStatus {
	if s == EscrowNone {
		return EscrowNone
	}
	return EscrowReleased
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
