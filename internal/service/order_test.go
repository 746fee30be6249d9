package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/engine"
	"github.com/efreitasn/tokenmarket/internal/ledger"
	"github.com/efreitasn/tokenmarket/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(dur time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(dur)
}

// testEnv bundles all dependencies needed for service tests.
type testEnv struct {
	store   *store.Store
	candles *store.CandleStore
	ledger  *ledger.Memory
	clock   *testClock
	engine  *engine.Engine
	orders  *OrderService
	market  *MarketService
	history *HistoryService
	stats   *StatsService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store:   store.New(),
		candles: store.NewCandleStore(),
		ledger:  ledger.NewMemory(ledger.WithFaucet(d("1000000"))),
		clock:   &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}
	book := engine.NewBookBuilder(env.store)
	env.history = NewHistoryService(env.candles, nil)
	env.stats = NewStatsService(book, env.store, time.Minute, 16, env.clock.Now)
	env.engine = engine.New(
		env.store,
		env.ledger,
		domain.NewCurrencyRegistry("USD", "EUR"),
		engine.Config{
			PlatformAccount: "platform",
			Fees:            engine.FeeSchedule{Rate: d("0.025"), BuyerShare: d("0.5")},
			CASRetries:      10,
			CheckHoldings:   true,
		},
		nil,
		engine.WithClock(env.clock.Now),
		engine.WithObserver(env.history),
		engine.WithObserver(env.stats),
	)
	env.orders = NewOrderService(env.engine, env.store)
	env.market = NewMarketService(book, env.store)
	return env
}

func (env *testEnv) submit(t *testing.T, side domain.OrderSide, userID, amount, price string) *domain.Order {
	t.Helper()
	o, err := env.orders.SubmitOrder(context.Background(), SubmitOrderRequest{
		PropertyID:    "prop-1",
		TokenID:       "tok-1",
		Side:          side,
		UserID:        userID,
		TokenAmount:   d(amount),
		PricePerToken: d(price),
	})
	if err != nil {
		t.Fatalf("SubmitOrder(%s %s): %v", side, userID, err)
	}
	return o
}

// trade pairs a fresh buy and sell order at price and settles them.
func (env *testEnv) trade(t *testing.T, amount, price string) *domain.Trade {
	t.Helper()
	sell := env.submit(t, domain.OrderSideSell, "seller", amount, price)
	buy := env.submit(t, domain.OrderSideBuy, "buyer", amount, price)
	tr, err := env.orders.ExecuteTrade(context.Background(), ExecuteTradeRequest{
		CallerID:      "buyer",
		PropertyID:    "prop-1",
		TokenID:       "tok-1",
		BuyOrderID:    buy.ID,
		SellOrderID:   sell.ID,
		TokenAmount:   d(amount),
		PricePerToken: d(price),
	})
	if err != nil {
		t.Fatalf("ExecuteTrade: %v", err)
	}
	return tr
}

func TestSubmitOrder_Defaults(t *testing.T) {
	env := newTestEnv()

	o, err := env.orders.SubmitOrder(context.Background(), SubmitOrderRequest{
		PropertyID:    "prop-1",
		TokenID:       "tok-1",
		Side:          "BUY",
		UserID:        "alice",
		TokenAmount:   d("10"),
		PricePerToken: d("2.50"),
		Notes:         "  first lot  ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Side != domain.OrderSideBuy {
		t.Errorf("expected side buy, got %s", o.Side)
	}
	if o.Visibility != domain.VisibilityPublic {
		t.Errorf("expected public visibility, got %s", o.Visibility)
	}
	if o.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", o.Currency)
	}
	if o.Notes != "first lot" {
		t.Errorf("expected trimmed notes, got %q", o.Notes)
	}
	if o.Status != domain.OrderStatusOpen {
		t.Errorf("expected status open, got %s", o.Status)
	}
}

func TestSubmitOrder_Private(t *testing.T) {
	env := newTestEnv()
	public := false

	o, err := env.orders.SubmitOrder(context.Background(), SubmitOrderRequest{
		PropertyID:    "prop-1",
		TokenID:       "tok-1",
		Side:          domain.OrderSideSell,
		UserID:        "alice",
		TokenAmount:   d("5"),
		PricePerToken: d("3"),
		IsPublic:      &public,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Visibility != domain.VisibilityPrivate {
		t.Errorf("expected private visibility, got %s", o.Visibility)
	}

	if _, err := env.orders.GetOrder(context.Background(), o.ID, "alice"); err != nil {
		t.Errorf("owner should see private order: %v", err)
	}
	if _, err := env.orders.GetOrder(context.Background(), o.ID, "bob"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound for non-owner, got %v", err)
	}
}

func TestSubmitOrder_ValidationErrors(t *testing.T) {
	past := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(*SubmitOrderRequest)
	}{
		{"missing property", func(r *SubmitOrderRequest) { r.PropertyID = "" }},
		{"missing token", func(r *SubmitOrderRequest) { r.TokenID = " " }},
		{"bad side", func(r *SubmitOrderRequest) { r.Side = "hold" }},
		{"zero amount", func(r *SubmitOrderRequest) { r.TokenAmount = decimal.Zero }},
		{"negative price", func(r *SubmitOrderRequest) { r.PricePerToken = d("-1") }},
		{"unsupported currency", func(r *SubmitOrderRequest) { r.Currency = "JPY" }},
		{"past expiry", func(r *SubmitOrderRequest) { r.ExpiresAt = &past }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			req := SubmitOrderRequest{
				PropertyID:    "prop-1",
				TokenID:       "tok-1",
				Side:          domain.OrderSideBuy,
				UserID:        "alice",
				TokenAmount:   d("1"),
				PricePerToken: d("1"),
			}
			tc.mutate(&req)

			_, err := env.orders.SubmitOrder(context.Background(), req)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
}

func TestListOrders(t *testing.T) {
	env := newTestEnv()
	first := env.submit(t, domain.OrderSideBuy, "alice", "1", "1")
	env.clock.Advance(time.Second)
	second := env.submit(t, domain.OrderSideBuy, "alice", "2", "1")
	env.submit(t, domain.OrderSideBuy, "bob", "3", "1")

	orders, err := env.orders.ListOrders(context.Background(), "alice", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != second.ID || orders[1].ID != first.ID {
		t.Errorf("expected newest first")
	}

	orders, err = env.orders.ListOrders(context.Background(), "alice", "prop-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("expected no orders for prop-2, got %d", len(orders))
	}

	_, err = env.orders.ListOrders(context.Background(), " ", "")
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for missing user, got %v", err)
	}
}

func TestCancelOrder(t *testing.T) {
	env := newTestEnv()
	o := env.submit(t, domain.OrderSideBuy, "alice", "1", "1")

	if _, err := env.orders.CancelOrder(context.Background(), o.ID, ""); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden without caller, got %v", err)
	}
	if _, err := env.orders.CancelOrder(context.Background(), o.ID, "bob"); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden for non-owner, got %v", err)
	}

	cancelled, err := env.orders.CancelOrder(context.Background(), o.ID, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("expected status cancelled, got %s", cancelled.Status)
	}

	if _, err := env.orders.CancelOrder(context.Background(), "missing", "alice"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestExecuteTrade_UpdatesReadModels(t *testing.T) {
	env := newTestEnv()

	// Warm the stats cache so the trade has to invalidate it.
	before, err := env.stats.Stats(context.Background(), "prop-1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if before.LastPrice != nil {
		t.Fatalf("expected no last price before trading")
	}

	tr := env.trade(t, "100", "5.00")
	if !tr.TotalPrice.Equal(d("500")) {
		t.Errorf("expected total 500, got %s", tr.TotalPrice)
	}
	if tr.Type != domain.TradeTypeLimit {
		t.Errorf("expected limit trade, got %s", tr.Type)
	}

	candles, err := env.history.History(context.Background(), "prop-1", "1m", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(candles) != 1 || !candles[0].Close.Equal(d("5")) {
		t.Errorf("expected one 1m candle closing at 5, got %+v", candles)
	}

	after, err := env.stats.Stats(context.Background(), "prop-1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if after.LastPrice == nil || !after.LastPrice.Equal(d("5")) {
		t.Errorf("expected last price 5 after trade, got %v", after.LastPrice)
	}
	if after.Day.Trades != 1 {
		t.Errorf("expected 1 trade in 24h, got %d", after.Day.Trades)
	}
}

func TestExecuteTrade_DirectParties(t *testing.T) {
	env := newTestEnv()
	sell := env.submit(t, domain.OrderSideSell, "seller", "10", "4")

	tr, err := env.orders.ExecuteTrade(context.Background(), ExecuteTradeRequest{
		CallerID:      "carol",
		PropertyID:    "prop-1",
		TokenID:       "tok-1",
		SellOrderID:   sell.ID,
		BuyerID:       " carol ",
		TokenAmount:   d("4"),
		PricePerToken: d("4"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.BuyerID != "carol" {
		t.Errorf("expected buyer carol, got %q", tr.BuyerID)
	}
	if tr.Type != domain.TradeTypeMarket {
		t.Errorf("expected market trade, got %s", tr.Type)
	}

	o, err := env.orders.GetOrder(context.Background(), sell.ID, "")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if o.Status != domain.OrderStatusPartiallyFilled {
		t.Errorf("expected partially_filled, got %s", o.Status)
	}
	if !o.RemainingAmount().Equal(d("6")) {
		t.Errorf("expected remaining 6, got %s", o.RemainingAmount())
	}
}

func TestExecuteTrade_RequiresPartyCaller(t *testing.T) {
	env := newTestEnv()
	sell := env.submit(t, domain.OrderSideSell, "seller", "10", "4")
	req := ExecuteTradeRequest{
		PropertyID:    "prop-1",
		TokenID:       "tok-1",
		SellOrderID:   sell.ID,
		BuyerID:       "carol",
		TokenAmount:   d("4"),
		PricePerToken: d("4"),
	}

	for _, caller := range []string{"", "  ", "mallory"} {
		req.CallerID = caller
		if _, err := env.orders.ExecuteTrade(context.Background(), req); !errors.Is(err, domain.ErrForbidden) {
			t.Errorf("caller %q: expected ErrForbidden, got %v", caller, err)
		}
	}
	if n := len(env.ledger.Transfers()); n != 0 {
		t.Fatalf("expected no ledger transfers, got %d", n)
	}
}
