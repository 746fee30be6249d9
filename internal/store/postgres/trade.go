package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

const tradeColumns = `id, property_id, token_id, buy_order_id, sell_order_id,
	buyer_id, seller_id, token_amount::text, price_per_token::text,
	total_price::text, currency, platform_fee::text, buyer_fee::text,
	seller_fee::text, settlement_tx_id, payment_tx_id, status,
	failure_reason, trade_type, created_at, completed_at`

func scanTrade(row pgx.Row) (*domain.Trade, error) {
	var (
		t   domain.Trade
		dec decimalText
	)
	err := row.Scan(
		&t.ID, &t.PropertyID, &t.TokenID, &t.BuyOrderID, &t.SellOrderID,
		&t.BuyerID, &t.SellerID,
		dec.add("token_amount", &t.TokenAmount),
		dec.add("price_per_token", &t.PricePerToken),
		dec.add("total_price", &t.TotalPrice),
		&t.Currency,
		dec.add("platform_fee", &t.PlatformFee),
		dec.add("buyer_fee", &t.BuyerFee),
		dec.add("seller_fee", &t.SellerFee),
		&t.SettlementTxID, &t.PaymentTxID, &t.Status,
		&t.FailureReason, &t.Type, &t.CreatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := dec.parse(); err != nil {
		return nil, err
	}
	return &t, nil
}

func insertTrade(ctx context.Context, q querier, t *domain.Trade) error {
	_, err := q.Exec(ctx, `
		INSERT INTO trades (id, property_id, token_id, buy_order_id, sell_order_id,
			buyer_id, seller_id, token_amount, price_per_token, total_price, currency,
			platform_fee, buyer_fee, seller_fee, settlement_tx_id, payment_tx_id,
			status, failure_reason, trade_type, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21)`,
		t.ID, t.PropertyID, t.TokenID, t.BuyOrderID, t.SellOrderID,
		t.BuyerID, t.SellerID, t.TokenAmount.String(), t.PricePerToken.String(),
		t.TotalPrice.String(), t.Currency, t.PlatformFee.String(), t.BuyerFee.String(),
		t.SellerFee.String(), t.SettlementTxID, t.PaymentTxID,
		t.Status, t.FailureReason, t.Type, t.CreatedAt, t.CompletedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateTrade
	}
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// CreateTrade inserts a trade outside of a fill, typically a failed one.
func (s *Store) CreateTrade(ctx context.Context, t *domain.Trade) error {
	return insertTrade(ctx, s.pool, t)
}

// CommitFill applies every order update and inserts the completed trade in
// one transaction. Any version mismatch rolls the whole fill back.
func (s *Store) CommitFill(ctx context.Context, fill domain.Fill) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, u := range fill.Orders {
		if err := updateOrder(ctx, tx, u.Order, u.ExpectedVersion); err != nil {
			return err
		}
	}
	if err := insertTrade(ctx, tx, fill.Trade); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit fill: %w", err)
	}
	return nil
}

// GetTrade returns a trade by ID, completed or failed.
func (s *Store) GetTrade(ctx context.Context, id string) (*domain.Trade, error) {
	t, err := scanTrade(s.pool.QueryRow(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}
	return t, nil
}

// ListTrades returns completed trades of a property newest first.
func (s *Store) ListTrades(ctx context.Context, f domain.TradeFilter) ([]*domain.Trade, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE property_id = $1 AND status = 'completed'
			AND ($2 = '' OR buyer_id = $2 OR seller_id = $2)
		ORDER BY completed_at DESC, id DESC
		LIMIT NULLIF($3, 0)`,
		f.PropertyID, f.UserID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return collectTrades(rows)
}

// TradeWindow aggregates completed trades of a property since the given
// time. A zero since covers all history.
func (s *Store) TradeWindow(ctx context.Context, propertyID string, since time.Time) (domain.TradeWindow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE property_id = $1 AND status = 'completed' AND completed_at >= $2
		ORDER BY completed_at, id`,
		propertyID, since)
	if err != nil {
		return domain.TradeWindow{}, fmt.Errorf("failed to query trade window: %w", err)
	}
	trades, err := collectTrades(rows)
	if err != nil {
		return domain.TradeWindow{}, err
	}

	var w domain.TradeWindow
	for _, t := range trades {
		w.Add(t)
	}
	return w, nil
}

// LastTradeBefore returns the newest completed trade that completed strictly
// before t, or nil if there is none.
func (s *Store) LastTradeBefore(ctx context.Context, propertyID string, t time.Time) (*domain.Trade, error) {
	tr, err := scanTrade(s.pool.QueryRow(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE property_id = $1 AND status = 'completed' AND completed_at < $2
		ORDER BY completed_at DESC, id DESC
		LIMIT 1`,
		propertyID, t))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last trade: %w", err)
	}
	return tr, nil
}

func collectTrades(rows pgx.Rows) ([]*domain.Trade, error) {
	defer rows.Close()

	trades := []*domain.Trade{}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
