// Package ledger holds the authoritative cash and position state for one
// trading session, together with its valuation history and trade log.
package ledger

import (
	"errors"
	"sync"
	"time"

	"marlin/internal/domain"
)

var (
	// ErrInsufficientFunds rejects a buy whose cost plus commission exceeds
	// available cash. The ledger is left unchanged.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientPosition rejects a sell for a missing or undersized
	// position. The ledger is left unchanged.
	ErrInsufficientPosition = errors.New("insufficient position")
)

// PriceLookup resolves the current price for a symbol. The second return
// value reports whether a price is known.
type PriceLookup func(symbol string) (float64, bool)

// Ledger tracks cash and open positions for a single session. Mutations are
// single-writer; reads return copies so concurrent readers always observe a
// consistent snapshot.
type Ledger struct {
	mu             sync.RWMutex
	cash           float64
	initialCapital float64
	positions      map[string]*domain.Position
	valuations     []domain.Valuation
	trades         []domain.Fill
}

// New creates a Ledger holding initialCapital in cash and no positions.
func New(initialCapital float64) *Ledger {
	return &Ledger{
		cash:           initialCapital,
		initialCapital: initialCapital,
		positions:      make(map[string]*domain.Position),
	}
}

// ApplyBuy debits cash by quantity*price + commission and increases the
// position, recomputing its volume-weighted average price. It fails with
// ErrInsufficientFunds without mutating anything if cash cannot cover the
// total cost.
func (l *Ledger) ApplyBuy(symbol string, quantity, price, commission float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := quantity*price + commission
	if l.cash < total {
		return ErrInsufficientFunds
	}
	l.cash -= total

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &domain.Position{Symbol: symbol}
		l.positions[symbol] = pos
	}
	newQty := pos.Quantity + quantity
	pos.AvgPrice = (pos.Quantity*pos.AvgPrice + quantity*price) / newQty
	pos.Quantity = newQty
	return nil
}

// ApplySell credits cash by quantity*price - commission and decreases the
// position, deleting it when quantity reaches zero. The average price is
// untouched. It fails with ErrInsufficientPosition without mutating anything
// if the position is missing or undersized.
func (l *Ledger) ApplySell(symbol string, quantity, price, commission float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok || pos.Quantity < quantity {
		return ErrInsufficientPosition
	}
	l.cash += quantity*price - commission

	pos.Quantity -= quantity
	if pos.Quantity == 0 {
		delete(l.positions, symbol)
	}
	return nil
}

// Valuate computes cash plus the marked value of all positions and appends a
// valuation record. Positions without a known price contribute zero for this
// step. Calling Valuate again with the latest recorded timestamp replaces
// that record instead of appending a duplicate.
func (l *Ledger) Valuate(ts time.Time, prices PriceLookup) domain.Valuation {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.cash
	for sym, pos := range l.positions {
		if price, ok := prices(sym); ok {
			total += pos.Quantity * price
		}
	}

	v := domain.Valuation{
		Timestamp:  ts,
		TotalValue: total,
		Return:     (total - l.initialCapital) / l.initialCapital,
	}
	if n := len(l.valuations); n > 0 && l.valuations[n-1].Timestamp.Equal(ts) {
		l.valuations[n-1] = v
	} else {
		l.valuations = append(l.valuations, v)
	}
	return v
}

// LogFill appends an executed fill to the trade log.
func (l *Ledger) LogFill(f domain.Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trades = append(l.trades, f)
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// InitialCapital returns the cash the session started with.
func (l *Ledger) InitialCapital() float64 {
	return l.initialCapital
}

// Position returns a copy of the position for symbol. The second return
// value is false when no position is held.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.Position{Symbol: symbol}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}
	return out
}

// Valuations returns a copy of the valuation history.
func (l *Ledger) Valuations() []domain.Valuation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Valuation, len(l.valuations))
	copy(out, l.valuations)
	return out
}

// Trades returns a copy of the trade log.
func (l *Ledger) Trades() []domain.Fill {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.Fill, len(l.trades))
	copy(out, l.trades)
	return out
}
