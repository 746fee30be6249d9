package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrOrderNotFound               = errors.New("order_not_found")
	ErrTradeNotFound               = errors.New("trade_not_found")
	ErrDuplicateOrder              = errors.New("duplicate_order")
	ErrDuplicateTrade              = errors.New("duplicate_trade")
	ErrForbidden                   = errors.New("forbidden")
	ErrInvalidState                = errors.New("invalid_state")
	ErrStaleState                  = errors.New("stale_state")
	ErrInsufficientRemainingAmount = errors.New("insufficient_remaining_amount")
	ErrInsufficientHoldings        = errors.New("insufficient_holdings")
	ErrSettlementFailure           = errors.New("settlement_failure")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// SettlementError reports a ledger rejection. The trade was recorded as
// failed and no order was mutated.
type SettlementError struct {
	TradeID string
	Err     error
}

func (e *SettlementError) Error() string {
	return "settlement of trade " + e.TradeID + " failed: " + e.Err.Error()
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSettlementFailure) hold for every SettlementError.
func (e *SettlementError) Is(target error) bool {
	return target == ErrSettlementFailure
}
