// Package postgres implements the order, trade and candle stores on
// PostgreSQL. Numeric columns travel as text so decimals keep their exact
// representation.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Open connects a pool and verifies the server is reachable.
func Open(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return pool, nil
}

// Migrate creates the tables and indexes if they do not exist.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return v, nil
}

// decimalText collects numeric columns scanned as text and converts them in
// one pass.
type decimalText struct {
	fields []string
	raw    []*string
	dst    []*decimal.Decimal
}

func (d *decimalText) add(field string, dst *decimal.Decimal) *string {
	d.fields = append(d.fields, field)
	d.dst = append(d.dst, dst)
	raw := new(string)
	d.raw = append(d.raw, raw)
	return raw
}

func (d *decimalText) parse() error {
	for i, s := range d.raw {
		v, err := parseDecimal(d.fields[i], *s)
		if err != nil {
			return err
		}
		*d.dst[i] = v
	}
	return nil
}
