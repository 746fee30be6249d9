package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransferKind separates token movements from currency movements.
type TransferKind string

const (
	KindToken    TransferKind = "token"
	KindCurrency TransferKind = "currency"
)

// Transfer is one movement recorded by the simulator.
type Transfer struct {
	TxID   string
	Kind   TransferKind
	From   string
	To     string
	Asset  string // token ID or currency code
	Amount decimal.Decimal
}

// MemoryOption configures a Memory gateway.
type MemoryOption func(*Memory)

// WithFaucet gives every account/asset pair a starting balance the first
// time it is touched. Useful when running without a real ledger.
func WithFaucet(amount decimal.Decimal) MemoryOption {
	return func(m *Memory) { m.faucet = amount }
}

// Memory is an in-process ledger simulator. Balances are kept per
// (account, asset); transfers are atomic and logged.
type Memory struct {
	mu        sync.Mutex
	balances  map[string]map[string]decimal.Decimal
	transfers []Transfer
	applied   map[string]string // idempotency key -> tx ID
	faucet    decimal.Decimal
	failWith  func(Transfer) error
}

// NewMemory creates an empty simulator.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		balances: make(map[string]map[string]decimal.Decimal),
		applied:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Credit adds amount of asset to account.
func (m *Memory) Credit(account, asset string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.set(account, asset, m.balance(account, asset).Add(amount))
}

// FailWith installs a hook consulted before every transfer. A non-nil
// return rejects the transfer without moving anything. Pass nil to clear.
func (m *Memory) FailWith(fn func(Transfer) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = fn
}

// Transfers returns the transfers applied so far, oldest first.
func (m *Memory) Transfers() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transfer, len(m.transfers))
	copy(out, m.transfers)
	return out
}

func (m *Memory) TransferTokens(ctx context.Context, from, to, tokenID string, amount decimal.Decimal) (string, error) {
	return m.transfer(ctx, Transfer{Kind: KindToken, From: from, To: to, Asset: tokenID, Amount: amount})
}

func (m *Memory) TransferCurrency(ctx context.Context, from, to string, amount decimal.Decimal, currency string) (string, error) {
	return m.transfer(ctx, Transfer{Kind: KindCurrency, From: from, To: to, Asset: currency, Amount: amount})
}

func (m *Memory) GetBalance(ctx context.Context, account, asset string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(account, asset), nil
}

func (m *Memory) transfer(ctx context.Context, t Transfer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !t.Amount.IsPositive() {
		return "", fmt.Errorf("ledger: transfer amount must be positive, got %s", t.Amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key, keyed := IdempotencyKey(ctx)
	if txID, ok := m.applied[key]; keyed && ok {
		return txID, nil
	}
	if m.failWith != nil {
		if err := m.failWith(t); err != nil {
			return "", err
		}
	}
	src := m.balance(t.From, t.Asset)
	if src.LessThan(t.Amount) {
		return "", fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientFunds, t.From, src, t.Asset, t.Amount)
	}
	m.set(t.From, t.Asset, src.Sub(t.Amount))
	m.set(t.To, t.Asset, m.balance(t.To, t.Asset).Add(t.Amount))

	t.TxID = "0x" + uuid.NewString()
	m.transfers = append(m.transfers, t)
	if keyed {
		m.applied[key] = t.TxID
	}
	return t.TxID, nil
}

// balance must be called with m.mu held.
func (m *Memory) balance(account, asset string) decimal.Decimal {
	assets, ok := m.balances[account]
	if !ok {
		assets = make(map[string]decimal.Decimal)
		m.balances[account] = assets
	}
	b, ok := assets[asset]
	if !ok {
		b = m.faucet
		assets[asset] = b
	}
	return b
}

func (m *Memory) set(account, asset string, amount decimal.Decimal) {
	m.balance(account, asset)
	m.balances[account][asset] = amount
}
