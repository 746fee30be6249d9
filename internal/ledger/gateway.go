// Package ledger connects the marketplace to the external ledger network
// that moves tokens and currency between accounts.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Gateway submits transfers to the ledger network. A returned transaction
// ID is treated as settled; finality tracking happens elsewhere.
type Gateway interface {
	TransferTokens(ctx context.Context, from, to, tokenID string, amount decimal.Decimal) (string, error)
	TransferCurrency(ctx context.Context, from, to string, amount decimal.Decimal, currency string) (string, error)
	GetBalance(ctx context.Context, account, asset string) (decimal.Decimal, error)
}

type idempotencyKeyCtx struct{}

// WithIdempotencyKey tags the transfers made with ctx as one logical
// transfer. A gateway that sees the same key again returns the original
// transaction ID without moving funds twice.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyCtx{}, key)
}

// IdempotencyKey returns the key attached by WithIdempotencyKey.
func IdempotencyKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKeyCtx{}).(string)
	return key, ok && key != ""
}

// ErrInsufficientFunds is returned when the source account cannot cover a
// transfer.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// RejectedError is a transfer the ledger refused.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected request (%d %s): %s", e.StatusCode, e.Code, e.Message)
}

// Is lets callers match a remote insufficient-funds rejection with
// errors.Is(err, ErrInsufficientFunds).
func (e *RejectedError) Is(target error) bool {
	return target == ErrInsufficientFunds && e.Code == "insufficient_funds"
}
