// Package sim converts trading signals into ledger mutations, applying a
// deterministic slippage and commission model.
package sim

import (
	"fmt"
	"log/slog"

	"marlin/internal/domain"
	"marlin/internal/ledger"
)

// Observer receives execution outcomes. Both callbacks are invoked
// synchronously from Execute; implementations must not block.
type Observer interface {
	// OnFill is called after a signal executed and the ledger was mutated.
	OnFill(fill domain.Fill)

	// OnReject is called when a signal was dropped. err is the ledger
	// rejection (ErrInsufficientFunds or ErrInsufficientPosition).
	OnReject(signal domain.Signal, err error)
}

// Simulator executes signals against a ledger. Slippage is a pessimistic
// execution-cost model, not a market simulation: buys pay more, sells
// receive less, deterministically.
type Simulator struct {
	slippageRate   float64
	commissionRate float64
	observer       Observer
	log            *slog.Logger
}

// New creates a Simulator with the given slippage and commission rates
// (e.g. 0.001 for 0.1%).
func New(slippageRate, commissionRate float64, log *slog.Logger) *Simulator {
	if log == nil {
		log = slog.Default()
	}
	return &Simulator{
		slippageRate:   slippageRate,
		commissionRate: commissionRate,
		log:            log.With("component", "sim"),
	}
}

// SetObserver registers an observer for fills and rejections. Passing nil
// removes the current observer.
func (s *Simulator) SetObserver(o Observer) {
	s.observer = o
}

// AdjustPrice applies slippage to a reference price: buy prices are inflated
// and sell prices deflated by price * slippageRate.
func (s *Simulator) AdjustPrice(price float64, side domain.Side) float64 {
	amount := price * s.slippageRate
	if side == domain.SideBuy {
		return price + amount
	}
	return price - amount
}

// Commission returns the fee charged on a gross trade value. It is the same
// rate on both sides and never negative.
func (s *Simulator) Commission(grossValue float64) float64 {
	return grossValue * s.commissionRate
}

// Execute turns a signal into a ledger mutation and a logged fill. A signal
// the ledger rejects is dropped: no partial fill, no retry. The rejection is
// reported to the observer and returned so callers can distinguish a no-op
// from success.
func (s *Simulator) Execute(l *ledger.Ledger, signal domain.Signal) (domain.Fill, error) {
	price := s.AdjustPrice(signal.Price, signal.Side)
	gross := signal.Quantity * price
	commission := s.Commission(gross)

	var err error
	switch signal.Side {
	case domain.SideBuy:
		err = l.ApplyBuy(signal.Symbol, signal.Quantity, price, commission)
	case domain.SideSell:
		err = l.ApplySell(signal.Symbol, signal.Quantity, price, commission)
	default:
		err = fmt.Errorf("%w: side %q", domain.ErrInvalidOrderRequest, signal.Side)
	}
	if err != nil {
		s.log.Debug("signal rejected",
			"symbol", signal.Symbol, "side", signal.Side,
			"quantity", signal.Quantity, "err", err)
		if s.observer != nil {
			s.observer.OnReject(signal, err)
		}
		return domain.Fill{}, err
	}

	fill := domain.Fill{
		Timestamp:  signal.Timestamp,
		Symbol:     signal.Symbol,
		Side:       signal.Side,
		Quantity:   signal.Quantity,
		Price:      price,
		Commission: commission,
		Value:      gross,
	}
	l.LogFill(fill)

	if s.observer != nil {
		s.observer.OnFill(fill)
	}
	return fill, nil
}
