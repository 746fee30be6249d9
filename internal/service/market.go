package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/engine"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
	maxBookDepth      = 1000
)

// TradeReader is the read side of the trade history.
type TradeReader interface {
	ListTrades(ctx context.Context, f domain.TradeFilter) ([]*domain.Trade, error)
}

// MarketService serves the public order book and trade tape of a property.
type MarketService struct {
	book   *engine.BookBuilder
	trades TradeReader
}

// NewMarketService creates a new MarketService with the given dependencies.
func NewMarketService(book *engine.BookBuilder, trades TradeReader) *MarketService {
	return &MarketService{
		book:   book,
		trades: trades,
	}
}

// Book returns the aggregated public book. depth 0 returns every level.
func (s *MarketService) Book(ctx context.Context, propertyID, tokenID string, depth int) (*engine.OrderBook, error) {
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return nil, &domain.ValidationError{Message: "property_id is required"}
	}
	if depth < 0 || depth > maxBookDepth {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("depth must be between 0 and %d", maxBookDepth),
		}
	}
	return s.book.Build(ctx, propertyID, strings.TrimSpace(tokenID), depth)
}

// Trades lists completed trades of a property newest first. When userID is
// set only that user's trades are returned, each tagged with the side the
// user took.
func (s *MarketService) Trades(ctx context.Context, propertyID, userID string, limit int) ([]domain.TradeView, error) {
	propertyID = strings.TrimSpace(propertyID)
	userID = strings.TrimSpace(userID)
	if propertyID == "" {
		return nil, &domain.ValidationError{Message: "property_id is required"}
	}
	if limit == 0 {
		limit = defaultTradeLimit
	}
	if limit < 1 || limit > maxTradeLimit {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("limit must be between 1 and %d", maxTradeLimit),
		}
	}

	trades, err := s.trades.ListTrades(ctx, domain.TradeFilter{
		PropertyID: propertyID,
		UserID:     userID,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	views := make([]domain.TradeView, 0, len(trades))
	for _, t := range trades {
		v := domain.TradeView{Trade: t}
		if userID != "" {
			side := domain.OrderSideBuy
			if t.SellerID == userID {
				side = domain.OrderSideSell
			}
			v.Enrichment = &domain.TradeEnrichment{UserSide: side}
		}
		views = append(views, v)
	}
	return views, nil
}
