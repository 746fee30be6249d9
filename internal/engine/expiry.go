package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

// sweepBatch caps how many orders a single pass loads.
const sweepBatch = 500

// Sweeper periodically moves orders past their expiry to expired. Reads do
// not depend on it: the book already hides such orders.
type Sweeper struct {
	engine   *Engine
	orders   Store
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper that runs every interval.
func NewSweeper(engine *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:   engine,
		orders:   engine.store,
		interval: interval,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires every order whose expiry is at or before the engine's
// clock and returns how many it transitioned. Orders held by an in-flight
// settlement or already filled are skipped and retried on a later pass.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.engine.now().UTC()
	expired := 0
	for {
		batch, err := s.orders.ListExpiredOrders(ctx, now, sweepBatch)
		if err != nil {
			s.logger.Error("failed to list expired orders", "error", err)
			return expired
		}

		progressed := 0
		for _, o := range batch {
			if _, err := s.engine.Expire(ctx, o.ID); err != nil {
				if !errors.Is(err, domain.ErrInvalidState) {
					s.logger.Error("failed to expire order", "order_id", o.ID, "error", err)
				}
				continue
			}
			progressed++
		}
		expired += progressed

		if len(batch) < sweepBatch || progressed == 0 || ctx.Err() != nil {
			return expired
		}
	}
}
