package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

const orderColumns = `id, property_id, token_id, side, user_id, token_amount::text,
	price_per_token::text, currency, status, filled_amount::text,
	reserved_amount::text, expires_at, escrow_status, visibility, notes,
	created_at, updated_at, filled_at, cancelled_at, expired_at,
	settlement_tx_id, version`

const openStatuses = `('open', 'partially_filled')`

// Store persists orders and trades. Order writes are conditional on the
// version column; CommitFill runs in a single transaction.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store backed by pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o   domain.Order
		dec decimalText
	)
	err := row.Scan(
		&o.ID, &o.PropertyID, &o.TokenID, &o.Side, &o.UserID,
		dec.add("token_amount", &o.TokenAmount),
		dec.add("price_per_token", &o.PricePerToken),
		&o.Currency, &o.Status,
		dec.add("filled_amount", &o.FilledAmount),
		dec.add("reserved_amount", &o.ReservedAmount),
		&o.ExpiresAt, &o.EscrowStatus, &o.Visibility, &o.Notes,
		&o.CreatedAt, &o.UpdatedAt, &o.FilledAt, &o.CancelledAt, &o.ExpiredAt,
		&o.SettlementTxID, &o.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := dec.parse(); err != nil {
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows pgx.Rows) ([]*domain.Order, error) {
	defer rows.Close()

	orders := []*domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// CreateOrder inserts an order.
func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, property_id, token_id, side, user_id, token_amount,
			price_per_token, currency, status, filled_amount, reserved_amount,
			expires_at, escrow_status, visibility, notes, created_at, updated_at,
			filled_at, cancelled_at, expired_at, settlement_tx_id, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20, $21, $22)`,
		o.ID, o.PropertyID, o.TokenID, o.Side, o.UserID, o.TokenAmount.String(),
		o.PricePerToken.String(), o.Currency, o.Status, o.FilledAmount.String(),
		o.ReservedAmount.String(), o.ExpiresAt, o.EscrowStatus, o.Visibility, o.Notes,
		o.CreatedAt, o.UpdatedAt, o.FilledAt, o.CancelledAt, o.ExpiredAt,
		o.SettlementTxID, o.Version,
	)
	if isUniqueViolation(err) {
		return domain.ErrDuplicateOrder
	}
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}
	return nil
}

// GetOrder returns the order with the given ID.
func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// ListOrdersByUser returns a user's orders newest first, optionally limited
// to one property.
func (s *Store) ListOrdersByUser(ctx context.Context, userID, propertyID string) ([]*domain.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1 AND ($2 = '' OR property_id = $2)
		ORDER BY created_at DESC, id DESC`,
		userID, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOpenOrders returns every non-terminal order of a property.
func (s *Store) ListOpenOrders(ctx context.Context, propertyID string) ([]*domain.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE property_id = $1 AND status IN `+openStatuses+`
		ORDER BY created_at, id`,
		propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open orders: %w", err)
	}
	return collectOrders(rows)
}

// ListExpiredOrders returns up to limit non-terminal orders whose expiry is
// at or before now, earliest first.
func (s *Store) ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status IN `+openStatuses+` AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at, id
		LIMIT NULLIF($2, 0)`,
		now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", err)
	}
	return collectOrders(rows)
}

// UpdateOrder writes o if the stored version still equals expectedVersion.
func (s *Store) UpdateOrder(ctx context.Context, o *domain.Order, expectedVersion int64) error {
	return updateOrder(ctx, s.pool, o, expectedVersion)
}

func updateOrder(ctx context.Context, q querier, o *domain.Order, expectedVersion int64) error {
	tag, err := q.Exec(ctx, `
		UPDATE orders SET
			status = $3, filled_amount = $4, reserved_amount = $5,
			escrow_status = $6, updated_at = $7, filled_at = $8,
			cancelled_at = $9, expired_at = $10, settlement_tx_id = $11,
			version = $12
		WHERE id = $1 AND version = $2`,
		o.ID, expectedVersion,
		o.Status, o.FilledAmount.String(), o.ReservedAmount.String(),
		o.EscrowStatus, o.UpdatedAt, o.FilledAt,
		o.CancelledAt, o.ExpiredAt, o.SettlementTxID,
		o.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check order existence: %w", err)
	}
	if !exists {
		return domain.ErrOrderNotFound
	}
	return domain.ErrStaleState
}
