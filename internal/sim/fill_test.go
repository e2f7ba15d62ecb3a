package sim

import (
	"errors"
	"math"
	"testing"
	"time"

	"marlin/internal/domain"
	"marlin/internal/ledger"
)

type recordingObserver struct {
	fills   []domain.Fill
	rejects []error
}

func (r *recordingObserver) OnFill(f domain.Fill) { r.fills = append(r.fills, f) }
func (r *recordingObserver) OnReject(_ domain.Signal, err error) {
	r.rejects = append(r.rejects, err)
}

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestAdjustPrice(t *testing.T) {
	s := New(0.001, 0.001, nil)

	if got := s.AdjustPrice(100, domain.SideBuy); !approxEqual(got, 100.1) {
		t.Errorf("buy price = %v, want 100.1", got)
	}
	if got := s.AdjustPrice(100, domain.SideSell); !approxEqual(got, 99.9) {
		t.Errorf("sell price = %v, want 99.9", got)
	}
}

func TestExecuteBuy(t *testing.T) {
	// Scenario: 10,000 capital, buy 1 unit at 100 with 0.1% slippage and
	// 0.1% commission: executed price 100.1, commission ~0.1001.
	l := ledger.New(10000)
	s := New(0.001, 0.001, nil)
	obs := &recordingObserver{}
	s.SetObserver(obs)

	fill, err := s.Execute(l, domain.Signal{
		Symbol:    "BTC/USDT",
		Side:      domain.SideBuy,
		Quantity:  1,
		Price:     100,
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if !approxEqual(fill.Price, 100.1) {
		t.Errorf("executed price = %v, want 100.1", fill.Price)
	}
	if !approxEqual(fill.Commission, 0.1001) {
		t.Errorf("commission = %v, want 0.1001", fill.Commission)
	}
	if got, want := l.Cash(), 10000-100.1-0.1001; !approxEqual(got, want) {
		t.Errorf("cash = %v, want %v", got, want)
	}
	pos, ok := l.Position("BTC/USDT")
	if !ok || pos.Quantity != 1 || !approxEqual(pos.AvgPrice, 100.1) {
		t.Errorf("position = %+v", pos)
	}
	if len(l.Trades()) != 1 {
		t.Errorf("trade log length = %d, want 1", len(l.Trades()))
	}
	if len(obs.fills) != 1 {
		t.Errorf("observer fills = %d, want 1", len(obs.fills))
	}
}

func TestExecuteSellDeflatesPrice(t *testing.T) {
	l := ledger.New(10000)
	s := New(0.001, 0.001, nil)

	if _, err := s.Execute(l, domain.Signal{Symbol: "BTC/USDT", Side: domain.SideBuy, Quantity: 1, Price: 100}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	cashAfterBuy := l.Cash()

	fill, err := s.Execute(l, domain.Signal{Symbol: "BTC/USDT", Side: domain.SideSell, Quantity: 1, Price: 110})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	wantPrice := 110 * 0.999
	if !approxEqual(fill.Price, wantPrice) {
		t.Errorf("executed price = %v, want %v", fill.Price, wantPrice)
	}
	wantCash := cashAfterBuy + wantPrice - wantPrice*0.001
	if !approxEqual(l.Cash(), wantCash) {
		t.Errorf("cash = %v, want %v", l.Cash(), wantCash)
	}
	if _, ok := l.Position("BTC/USDT"); ok {
		t.Error("position not removed after full close")
	}
}

func TestExecuteRejectsSellWithoutPosition(t *testing.T) {
	l := ledger.New(10000)
	s := New(0.001, 0.001, nil)
	obs := &recordingObserver{}
	s.SetObserver(obs)

	_, err := s.Execute(l, domain.Signal{Symbol: "ETH/USDT", Side: domain.SideSell, Quantity: 1, Price: 100})
	if !errors.Is(err, ledger.ErrInsufficientPosition) {
		t.Fatalf("error = %v, want ErrInsufficientPosition", err)
	}

	// Rejection is a no-op: ledger and trade log unchanged.
	if l.Cash() != 10000 {
		t.Errorf("cash mutated: %v", l.Cash())
	}
	if len(l.Trades()) != 0 {
		t.Errorf("trade log mutated: %d entries", len(l.Trades()))
	}
	if len(obs.rejects) != 1 {
		t.Errorf("observer rejects = %d, want 1", len(obs.rejects))
	}
}

func TestExecuteRejectsUnaffordableBuy(t *testing.T) {
	l := ledger.New(10)
	s := New(0.001, 0.001, nil)

	_, err := s.Execute(l, domain.Signal{Symbol: "BTC/USDT", Side: domain.SideBuy, Quantity: 1, Price: 100})
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("error = %v, want ErrInsufficientFunds", err)
	}
	if l.Cash() != 10 {
		t.Errorf("cash mutated: %v", l.Cash())
	}
}
