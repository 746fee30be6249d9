package engine

import (
	"context"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

// Observer is notified after the engine commits a change. Calls happen on
// the committing goroutine, after the store write, with copies the observer
// may keep.
type Observer interface {
	OrderChanged(ctx context.Context, o *domain.Order)
	TradeRecorded(ctx context.Context, t *domain.Trade)
}

type observers []Observer

func (obs observers) orderChanged(ctx context.Context, o *domain.Order) {
	for _, ob := range obs {
		ob.OrderChanged(ctx, o.Clone())
	}
}

func (obs observers) tradeRecorded(ctx context.Context, t *domain.Trade) {
	for _, ob := range obs {
		ob.TradeRecorded(ctx, t.Clone())
	}
}
