package executor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"marlin/internal/domain"
	"marlin/internal/ledger"
	"marlin/internal/sim"
)

func newMockFixture(capital float64) (*MockExecutor, *ledger.Ledger) {
	l := ledger.New(capital)
	s := sim.New(0.001, 0.001, nil)
	return NewMock(l, s, 0, nil), l
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMockMarketOrderFillsImmediately(t *testing.T) {
	m, l := newMockFixture(10000)
	m.UpdateMarketData("BTC/USDT", 100, time.Now())

	o, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if o.Status != domain.OrderStatusFilled {
		t.Fatalf("status = %s, want filled", o.Status)
	}
	if o.FilledQty != 1 || o.Remaining != 0 {
		t.Errorf("filled = %v remaining = %v", o.FilledQty, o.Remaining)
	}
	// Market buy fills at the slippage-adjusted price.
	if !approxEqual(o.Cost, 100.1) {
		t.Errorf("cost = %v, want 100.1", o.Cost)
	}
	pos, _ := l.Position("BTC/USDT")
	if pos.Quantity != 1 {
		t.Errorf("ledger position = %v, want 1", pos.Quantity)
	}
}

func TestMockMarketOrderWithoutPriceFails(t *testing.T) {
	m, _ := newMockFixture(10000)

	o, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != domain.OrderStatusFailed {
		t.Errorf("status = %s, want failed", o.Status)
	}
}

func TestMockInvalidRequestRejected(t *testing.T) {
	m, _ := newMockFixture(10000)

	_, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1,
	})
	if !errors.Is(err, domain.ErrInvalidOrderRequest) {
		t.Fatalf("error = %v, want ErrInvalidOrderRequest", err)
	}
}

func TestMockInsufficientFundsFailsOrder(t *testing.T) {
	m, l := newMockFixture(50)
	m.UpdateMarketData("BTC/USDT", 100, time.Now())

	o, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != domain.OrderStatusFailed {
		t.Errorf("status = %s, want failed", o.Status)
	}
	if l.Cash() != 50 {
		t.Errorf("ledger mutated on failed order: cash = %v", l.Cash())
	}
}

func TestMockLimitOrderRestsUntilCrossed(t *testing.T) {
	m, _ := newMockFixture(10000)
	m.UpdateMarketData("BTC/USDT", 100, time.Now())

	// Buy limit below market rests.
	o, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 95,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s, want pending", o.Status)
	}

	// Market drops through the limit: order fills at the limit price.
	m.UpdateMarketData("BTC/USDT", 94, time.Now())

	got, err := m.GetOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderStatusFilled {
		t.Fatalf("status after cross = %s, want filled", got.Status)
	}
	if !approxEqual(got.Cost, 95) {
		t.Errorf("cost = %v, want limit price 95", got.Cost)
	}
}

func TestMockSellLimitFillsWhenMarketAtOrAbove(t *testing.T) {
	m, _ := newMockFixture(10000)
	m.UpdateMarketData("BTC/USDT", 100, time.Now())
	if _, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1,
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	o, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideSell, Type: domain.OrderTypeLimit, Quantity: 1, Price: 110,
	})
	if err != nil {
		t.Fatalf("sell limit: %v", err)
	}
	if o.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s, want pending", o.Status)
	}

	m.UpdateMarketData("BTC/USDT", 110, time.Now())
	got, _ := m.GetOrder(context.Background(), o.ID)
	if got.Status != domain.OrderStatusFilled {
		t.Errorf("status = %s, want filled at touch", got.Status)
	}
}

func TestMockLimitOrderExpiry(t *testing.T) {
	l := ledger.New(10000)
	s := sim.New(0.001, 0.001, nil)
	m := NewMock(l, s, time.Hour, nil)

	start := time.Now()
	m.UpdateMarketData("BTC/USDT", 100, start)

	o, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 90,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	// Still resting within the lifetime, even though uncrossed.
	m.UpdateMarketData("BTC/USDT", 99, start.Add(30*time.Minute))
	got, _ := m.GetOrder(context.Background(), o.ID)
	if got.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s, want pending before expiry", got.Status)
	}

	m.UpdateMarketData("BTC/USDT", 99, start.Add(2*time.Hour))
	got, _ = m.GetOrder(context.Background(), o.ID)
	if got.Status != domain.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled after expiry", got.Status)
	}
}

func TestMockCancelOrder(t *testing.T) {
	m, _ := newMockFixture(10000)
	m.UpdateMarketData("BTC/USDT", 100, time.Now())

	o, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit, Quantity: 1, Price: 90,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	cancelled, err := m.CancelOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	// Cancelling again is illegal: the order is terminal.
	if _, err := m.CancelOrder(context.Background(), o.ID); !errors.Is(err, ErrOrderNotCancellable) {
		t.Errorf("second cancel error = %v, want ErrOrderNotCancellable", err)
	}
}

func TestMockCancelFilledOrderRejected(t *testing.T) {
	m, _ := newMockFixture(10000)
	m.UpdateMarketData("BTC/USDT", 100, time.Now())

	o, _ := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1,
	})
	if _, err := m.CancelOrder(context.Background(), o.ID); !errors.Is(err, ErrOrderNotCancellable) {
		t.Errorf("cancel filled error = %v, want ErrOrderNotCancellable", err)
	}
}

func TestMockGetBalanceAndPosition(t *testing.T) {
	m, _ := newMockFixture(10000)
	m.UpdateMarketData("BTC/USDT", 100, time.Now())
	if _, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1,
	}); err != nil {
		t.Fatalf("buy: %v", err)
	}

	acct, err := m.GetBalance(context.Background())
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	wantCash := 10000 - 100.1 - 100.1*0.001
	if !approxEqual(acct.Cash, wantCash) {
		t.Errorf("cash = %v, want %v", acct.Cash, wantCash)
	}
	if !approxEqual(acct.Equity, wantCash+100) {
		t.Errorf("equity = %v, want %v", acct.Equity, wantCash+100)
	}

	pos, err := m.GetPosition(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("GetPosition: %v", err)
	}
	if pos.Quantity != 1 {
		t.Errorf("position quantity = %v, want 1", pos.Quantity)
	}

	// Unknown symbol reports zero quantity, not an error.
	none, err := m.GetPosition(context.Background(), "ETH/USDT")
	if err != nil || none.Quantity != 0 {
		t.Errorf("empty position = %+v, err = %v", none, err)
	}
}

func TestMockOrderEvents(t *testing.T) {
	m, _ := newMockFixture(10000)
	id, events := m.Subscribe(16)
	defer m.Unsubscribe(id)

	m.UpdateMarketData("BTC/USDT", 100, time.Now())
	if _, err := m.CreateOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: 1,
	}); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	var types []EventType
	for len(types) < 3 {
		select {
		case evt := <-events:
			types = append(types, evt.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got %v", types)
		}
	}
	want := []EventType{EventOrderCreated, EventOrderUpdated, EventOrderFilled}
	for i, typ := range want {
		if types[i] != typ {
			t.Errorf("event[%d] = %s, want %s", i, types[i], typ)
		}
	}
}
