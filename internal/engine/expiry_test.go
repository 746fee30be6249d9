package engine

import (
	"context"
	"testing"
	"time"

	"github.com/efreitasn/tokenmarket/internal/domain"
	"github.com/efreitasn/tokenmarket/internal/ledger"
)

func TestSweeper_ExpiresDueOrders(t *testing.T) {
	env := newTestEngine(ledger.WithFaucet(d("1000")))
	ctx := context.Background()
	now := env.clock.Now()

	soon := now.Add(time.Minute)
	later := now.Add(time.Hour)
	reqA := buyRequest("buyer", "10", "5")
	reqA.ExpiresAt = &soon
	reqB := sellRequest("seller", "10", "6")
	reqB.ExpiresAt = &later
	a := mustCreate(t, env, reqA)
	b := mustCreate(t, env, reqB)
	c := mustCreate(t, env, buyRequest("buyer", "10", "4"))

	sw := NewSweeper(env.engine, time.Second, nil)

	if n := sw.Sweep(ctx); n != 0 {
		t.Fatalf("expired %d orders before any expiry, want 0", n)
	}

	env.clock.Advance(2 * time.Minute)
	if n := sw.Sweep(ctx); n != 1 {
		t.Fatalf("expired %d orders, want 1", n)
	}

	got, _ := env.store.GetOrder(ctx, a.ID)
	if got.Status != domain.OrderStatusExpired {
		t.Errorf("order a status = %s, want expired", got.Status)
	}
	if got.ExpiredAt == nil || !got.ExpiredAt.Equal(soon) {
		t.Errorf("order a expired_at = %v, want %v", got.ExpiredAt, soon)
	}
	for _, id := range []string{b.ID, c.ID} {
		o, _ := env.store.GetOrder(ctx, id)
		if o.Status != domain.OrderStatusOpen {
			t.Errorf("order %s status = %s, want open", id, o.Status)
		}
	}

	// A second pass has nothing left to do.
	if n := sw.Sweep(ctx); n != 0 {
		t.Fatalf("second sweep expired %d orders, want 0", n)
	}
}

func TestSweeper_PartiallyFilledKeepsFill(t *testing.T) {
	env := newTestEngine(ledger.WithFaucet(d("1000")))
	ctx := context.Background()
	exp := env.clock.Now().Add(time.Minute)
	req := sellRequest("seller", "100", "5")
	req.ExpiresAt = &exp
	sell := mustCreate(t, env, req)

	if _, err := env.engine.Execute(ctx, ExecuteRequest{
		PropertyID: "prop-1", TokenID: "tok-1",
		SellOrderID: sell.ID, BuyerID: "buyer",
		TokenAmount: d("40"), PricePerToken: d("5"),
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	env.clock.Advance(time.Hour)
	NewSweeper(env.engine, time.Second, nil).Sweep(ctx)

	o, _ := env.store.GetOrder(ctx, sell.ID)
	if o.Status != domain.OrderStatusExpired {
		t.Fatalf("status = %s, want expired", o.Status)
	}
	if !o.FilledAmount.Equal(d("40")) || !o.RemainingAmount().Equal(d("60")) {
		t.Fatalf("filled=%s remaining=%s, want 40/60", o.FilledAmount, o.RemainingAmount())
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	env := newTestEngine()
	sw := NewSweeper(env.engine, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestSweeper_RunUsesEngineClock(t *testing.T) {
	env := newTestEngine(ledger.WithFaucet(d("1000")))
	env.clock.mu.Lock()
	env.clock.now = time.Now().AddDate(10, 0, 0)
	env.clock.mu.Unlock()

	exp := env.clock.Now().Add(time.Minute)
	req := buyRequest("buyer", "10", "5")
	req.ExpiresAt = &exp
	o := mustCreate(t, env, req)
	env.clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewSweeper(env.engine, 5*time.Millisecond, nil).Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for {
		got, _ := env.store.GetOrder(context.Background(), o.ID)
		if got.Status == domain.OrderStatusExpired {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("order not expired by the sweeper, status %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done
}
