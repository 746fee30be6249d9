package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

const candleColumns = `property_id, bucket_interval, bucket_start, open::text,
	high::text, low::text, close::text, volume::text, quote_volume::text,
	trade_count, first_trade_at, last_trade_at`

// CandleStore persists OHLCV buckets keyed by (property, interval, bucket).
type CandleStore struct {
	pool *pgxpool.Pool
}

// NewCandleStore creates a CandleStore backed by pool.
func NewCandleStore(pool *pgxpool.Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

func scanCandle(row pgx.Row) (*domain.Candle, error) {
	var (
		c   domain.Candle
		dec decimalText
	)
	err := row.Scan(
		&c.PropertyID, &c.Interval, &c.BucketStart,
		dec.add("open", &c.Open),
		dec.add("high", &c.High),
		dec.add("low", &c.Low),
		dec.add("close", &c.Close),
		dec.add("volume", &c.Volume),
		dec.add("quote_volume", &c.QuoteVolume),
		&c.TradeCount, &c.FirstTradeAt, &c.LastTradeAt,
	)
	if err != nil {
		return nil, err
	}
	if err := dec.parse(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyTrade upserts the bucket containing at in a single statement, so
// concurrent trades in the same bucket never lose an update.
func (s *CandleStore) ApplyTrade(ctx context.Context, propertyID string, iv domain.Interval, price, amount decimal.Decimal, at time.Time) (*domain.Candle, error) {
	c, err := scanCandle(s.pool.QueryRow(ctx, `
		INSERT INTO candles AS c (property_id, bucket_interval, bucket_start, open, high, low,
			close, volume, quote_volume, trade_count, first_trade_at, last_trade_at)
		VALUES ($1, $2, $3, $4, $4, $4, $4, $5, $6, 1, $7, $7)
		ON CONFLICT (property_id, bucket_interval, bucket_start) DO UPDATE SET
			high = GREATEST(c.high, EXCLUDED.high),
			low = LEAST(c.low, EXCLUDED.low),
			open = CASE WHEN EXCLUDED.first_trade_at < c.first_trade_at
				THEN EXCLUDED.open ELSE c.open END,
			close = CASE WHEN EXCLUDED.last_trade_at >= c.last_trade_at
				THEN EXCLUDED.close ELSE c.close END,
			first_trade_at = LEAST(c.first_trade_at, EXCLUDED.first_trade_at),
			last_trade_at = GREATEST(c.last_trade_at, EXCLUDED.last_trade_at),
			volume = c.volume + EXCLUDED.volume,
			quote_volume = c.quote_volume + EXCLUDED.quote_volume,
			trade_count = c.trade_count + 1
		RETURNING `+candleColumns,
		propertyID, iv, iv.BucketStart(at), price.String(), amount.String(),
		price.Mul(amount).String(), at))
	if err != nil {
		return nil, fmt.Errorf("failed to apply trade to candle: %w", err)
	}
	return c, nil
}

// ListCandles returns up to limit of the most recent buckets, oldest first.
func (s *CandleStore) ListCandles(ctx context.Context, propertyID string, iv domain.Interval, limit int) ([]domain.Candle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM (
			SELECT `+candleColumns+` FROM candles
			WHERE property_id = $1 AND bucket_interval = $2
			ORDER BY bucket_start DESC
			LIMIT NULLIF($3, 0)
		) recent ORDER BY bucket_start`,
		propertyID, iv, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list candles: %w", err)
	}
	defer rows.Close()

	candles := []domain.Candle{}
	for rows.Next() {
		c, err := scanCandle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, *c)
	}
	return candles, rows.Err()
}
