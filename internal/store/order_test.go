package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tokenmarket/internal/domain"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestOrder(id, userID string, createdAt time.Time) *domain.Order {
	return &domain.Order{
		ID:            id,
		PropertyID:    "prop-1",
		TokenID:       "tok-1",
		Side:          domain.OrderSideSell,
		UserID:        userID,
		TokenAmount:   d("100"),
		PricePerToken: d("5.00"),
		Currency:      "USD",
		Status:        domain.OrderStatusOpen,
		EscrowStatus:  domain.EscrowNone,
		Visibility:    domain.VisibilityPublic,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

func TestStore_CreateOrder_and_GetOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := newTestOrder("order-1", "user-1", time.Now())

	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	got, err := s.GetOrder(ctx, "order-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.UserID != "user-1" {
		t.Fatalf("expected user-1, got %s", got.UserID)
	}
	if got == o {
		t.Fatal("GetOrder should return a copy")
	}
}

func TestStore_CreateOrder_Duplicate(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := newTestOrder("order-1", "user-1", time.Now())

	if err := s.CreateOrder(ctx, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if err := s.CreateOrder(ctx, o); !errors.Is(err, domain.ErrDuplicateOrder) {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
}

func TestStore_GetOrder_NotFound(t *testing.T) {
	s := New()

	_, err := s.GetOrder(context.Background(), "no-such-order")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestStore_GetOrder_ReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateOrder(ctx, newTestOrder("order-1", "user-1", time.Now()))

	got, _ := s.GetOrder(ctx, "order-1")
	got.Status = domain.OrderStatusCancelled

	again, _ := s.GetOrder(ctx, "order-1")
	if again.Status != domain.OrderStatusOpen {
		t.Fatalf("stored order was mutated through a returned copy: %s", again.Status)
	}
}

func TestStore_ListOrdersByUser_NewestFirst(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		o := newTestOrder(fmt.Sprintf("order-%d", i), "user-1", base.Add(time.Duration(i)*time.Minute))
		if i%2 == 1 {
			o.PropertyID = "prop-2"
		}
		_ = s.CreateOrder(ctx, o)
	}
	_ = s.CreateOrder(ctx, newTestOrder("other", "user-2", base))

	orders, err := s.ListOrdersByUser(ctx, "user-1", "")
	if err != nil {
		t.Fatalf("ListOrdersByUser: %v", err)
	}
	if len(orders) != 5 {
		t.Fatalf("expected 5 orders, got %d", len(orders))
	}
	for i := 0; i < len(orders)-1; i++ {
		if !orders[i].CreatedAt.After(orders[i+1].CreatedAt) {
			t.Fatalf("orders not in reverse chronological order at index %d", i)
		}
	}

	orders, _ = s.ListOrdersByUser(ctx, "user-1", "prop-2")
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders for prop-2, got %d", len(orders))
	}
	for _, o := range orders {
		if o.PropertyID != "prop-2" {
			t.Fatalf("expected prop-2, got %s", o.PropertyID)
		}
	}
}

func TestStore_ListOrdersByUser_Empty(t *testing.T) {
	s := New()

	orders, err := s.ListOrdersByUser(context.Background(), "nobody", "")
	if err != nil {
		t.Fatalf("ListOrdersByUser: %v", err)
	}
	if orders == nil || len(orders) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", orders)
	}
}

func TestStore_UpdateOrder_VersionCheck(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	_ = s.CreateOrder(ctx, newTestOrder("order-1", "user-1", now))

	o, _ := s.GetOrder(ctx, "order-1")
	expected := o.Version
	o.Reserve(d("10"), now)
	if err := s.UpdateOrder(ctx, o, expected); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	// A second writer holding the old version loses.
	stale, _ := s.GetOrder(ctx, "order-1")
	stale.Cancel(now)
	if err := s.UpdateOrder(ctx, stale, expected); !errors.Is(err, domain.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}

	got, _ := s.GetOrder(ctx, "order-1")
	if !got.ReservedAmount.Equal(d("10")) {
		t.Fatalf("expected reserved 10, got %s", got.ReservedAmount)
	}
	if got.Status != domain.OrderStatusOpen {
		t.Fatalf("expected open, got %s", got.Status)
	}
}

func TestStore_ListOpenOrders_DropsTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	_ = s.CreateOrder(ctx, newTestOrder("a", "user-1", now))
	_ = s.CreateOrder(ctx, newTestOrder("b", "user-1", now))

	b, _ := s.GetOrder(ctx, "b")
	v := b.Version
	b.Cancel(now)
	if err := s.UpdateOrder(ctx, b, v); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	open, _ := s.ListOpenOrders(ctx, "prop-1")
	if len(open) != 1 || open[0].ID != "a" {
		t.Fatalf("expected only order a open, got %d orders", len(open))
	}
}

func TestStore_ListExpiredOrders(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{-2 * time.Hour, -time.Hour, time.Hour} {
		o := newTestOrder(fmt.Sprintf("order-%d", i), "user-1", now.Add(-3*time.Hour))
		at := now.Add(offset)
		o.ExpiresAt = &at
		_ = s.CreateOrder(ctx, o)
	}
	_ = s.CreateOrder(ctx, newTestOrder("no-expiry", "user-1", now))

	expired, _ := s.ListExpiredOrders(ctx, now, 0)
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired orders, got %d", len(expired))
	}
	if expired[0].ID != "order-0" || expired[1].ID != "order-1" {
		t.Fatalf("expected earliest expiry first, got %s, %s", expired[0].ID, expired[1].ID)
	}

	limited, _ := s.ListExpiredOrders(ctx, now, 1)
	if len(limited) != 1 {
		t.Fatalf("expected 1 order with limit, got %d", len(limited))
	}

	// Once expired, an order leaves the index.
	o := expired[0]
	v := o.Version
	o.Expire(now)
	_ = s.UpdateOrder(ctx, o, v)
	expired, _ = s.ListExpiredOrders(ctx, now, 0)
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired order after transition, got %d", len(expired))
	}
}

func TestStore_CommitFill_AllOrNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()

	sell := newTestOrder("sell-1", "seller", now)
	buy := newTestOrder("buy-1", "buyer", now)
	buy.Side = domain.OrderSideBuy
	_ = s.CreateOrder(ctx, sell)
	_ = s.CreateOrder(ctx, buy)

	sellCur, _ := s.GetOrder(ctx, "sell-1")
	buyCur, _ := s.GetOrder(ctx, "buy-1")
	sellV, buyV := sellCur.Version, buyCur.Version
	sellCur.Fill(d("100"), "tx-1", now)
	buyCur.Fill(d("100"), "tx-1", now)

	// Stale version on the buy side: nothing is written.
	err := s.CommitFill(ctx, domain.Fill{
		Orders: []domain.OrderUpdate{
			{Order: sellCur, ExpectedVersion: sellV},
			{Order: buyCur, ExpectedVersion: buyV + 1},
		},
		Trade: newTestTrade("trade-1", "prop-1", now),
	})
	if !errors.Is(err, domain.ErrStaleState) {
		t.Fatalf("expected ErrStaleState, got %v", err)
	}
	got, _ := s.GetOrder(ctx, "sell-1")
	if got.Status != domain.OrderStatusOpen {
		t.Fatalf("sell order changed despite failed commit: %s", got.Status)
	}
	if _, err := s.GetTrade(ctx, "trade-1"); !errors.Is(err, domain.ErrTradeNotFound) {
		t.Fatalf("trade recorded despite failed commit: %v", err)
	}

	err = s.CommitFill(ctx, domain.Fill{
		Orders: []domain.OrderUpdate{
			{Order: sellCur, ExpectedVersion: sellV},
			{Order: buyCur, ExpectedVersion: buyV},
		},
		Trade: newTestTrade("trade-1", "prop-1", now),
	})
	if err != nil {
		t.Fatalf("CommitFill: %v", err)
	}
	got, _ = s.GetOrder(ctx, "sell-1")
	if got.Status != domain.OrderStatusFilled {
		t.Fatalf("expected filled, got %s", got.Status)
	}
	open, _ := s.ListOpenOrders(ctx, "prop-1")
	if len(open) != 0 {
		t.Fatalf("expected empty book, got %d open orders", len(open))
	}
}

func TestStore_ConcurrentUpdates_OneWinner(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	_ = s.CreateOrder(ctx, newTestOrder("order-1", "user-1", now))

	const workers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := s.GetOrder(ctx, "order-1")
			if err != nil {
				return
			}
			v := o.Version
			o.Reserve(d("100"), now)
			if v != 0 {
				return
			}
			if err := s.UpdateOrder(ctx, o, v); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one writer to win, got %d", wins)
	}
	got, _ := s.GetOrder(ctx, "order-1")
	if !got.ReservedAmount.Equal(d("100")) {
		t.Fatalf("expected reserved 100, got %s", got.ReservedAmount)
	}
}
