// Package builtins provides built-in strategy implementations that ship with
// marlin.
package builtins

import (
	"context"

	"marlin/internal/domain"
	"marlin/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It
// generates a buy signal when the short-period SMA crosses above the
// long-period SMA, and a sell signal when it crosses below. Signals carry a
// fixed order quantity; position sizing is not this strategy's concern.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	quantity    float64

	closes map[string][]float64
	// last crossover direction per symbol: +1 short above, -1 short below,
	// 0 unknown.
	state map[string]int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods and per-signal order quantity.
func NewSMACross(short, long int, quantity float64) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		quantity:    quantity,
		closes:      make(map[string][]float64),
		state:       make(map[string]int),
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Init resets all per-symbol price history.
func (s *SMACross) Init(_ context.Context) error {
	s.closes = make(map[string][]float64)
	s.state = make(map[string]int)
	return nil
}

// OnBar appends the bar close to the symbol's history and emits a signal
// when the short SMA crosses the long SMA.
func (s *SMACross) OnBar(_ context.Context, bar domain.Bar) ([]domain.Signal, error) {
	closes := append(s.closes[bar.Symbol], bar.Close)
	if len(closes) > s.longPeriod {
		closes = closes[len(closes)-s.longPeriod:]
	}
	s.closes[bar.Symbol] = closes

	if len(closes) < s.longPeriod {
		return nil, nil
	}

	shortSMA := mean(closes[len(closes)-s.shortPeriod:])
	longSMA := mean(closes)

	dir := 0
	switch {
	case shortSMA > longSMA:
		dir = 1
	case shortSMA < longSMA:
		dir = -1
	}

	prev := s.state[bar.Symbol]
	if dir != 0 {
		s.state[bar.Symbol] = dir
	}
	if prev == 0 || dir == 0 || dir == prev {
		return nil, nil
	}

	side := domain.SideBuy
	if dir < 0 {
		side = domain.SideSell
	}
	return []domain.Signal{{
		Symbol:    bar.Symbol,
		Side:      side,
		Quantity:  s.quantity,
		Price:     bar.Close,
		Timestamp: bar.Timestamp,
	}}, nil
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
