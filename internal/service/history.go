package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// CandleStore persists OHLCV buckets.
type CandleStore interface {
	ApplyTrade(ctx context.Context, propertyID string, iv domain.Interval, price, amount decimal.Decimal, at time.Time) (*domain.Candle, error)
	ListCandles(ctx context.Context, propertyID string, iv domain.Interval, limit int) ([]domain.Candle, error)
}

// HistoryService folds completed trades into candles of every interval and
// serves price history. It is registered as an engine observer.
type HistoryService struct {
	candles CandleStore
	logger  *slog.Logger
}

// NewHistoryService creates a new HistoryService with the given dependencies.
func NewHistoryService(candles CandleStore, logger *slog.Logger) *HistoryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryService{
		candles: candles,
		logger:  logger,
	}
}

// OrderChanged is a no-op; candles only move on trades.
func (s *HistoryService) OrderChanged(context.Context, *domain.Order) {}

// TradeRecorded applies a completed trade to its bucket in every interval.
// Failed trades are ignored.
func (s *HistoryService) TradeRecorded(ctx context.Context, t *domain.Trade) {
	if err := s.Apply(ctx, t); err != nil {
		s.logger.Error("failed to update candles",
			"trade_id", t.ID,
			"property_id", t.PropertyID,
			"error", err,
		)
	}
}

// Apply folds one trade into the candle store. Trades may arrive out of
// completion order.
func (s *HistoryService) Apply(ctx context.Context, t *domain.Trade) error {
	if !t.Completed() || t.CompletedAt == nil {
		return nil
	}
	for _, iv := range domain.Intervals {
		if _, err := s.candles.ApplyTrade(ctx, t.PropertyID, iv, t.PricePerToken, t.TokenAmount, *t.CompletedAt); err != nil {
			return fmt.Errorf("apply trade %s to %s candle: %w", t.ID, iv, err)
		}
	}
	return nil
}

// History returns up to limit of the most recent candles, oldest first.
// A zero limit means the default of 100.
func (s *HistoryService) History(ctx context.Context, propertyID, interval string, limit int) ([]domain.Candle, error) {
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return nil, &domain.ValidationError{Message: "property_id is required"}
	}
	if interval == "" {
		interval = string(domain.Interval1h)
	}
	iv, err := domain.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if limit < 1 || limit > maxHistoryLimit {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit),
		}
	}
	return s.candles.ListCandles(ctx, propertyID, iv, limit)
}
