package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"marlin/internal/domain"
	"marlin/internal/ledger"
	"marlin/internal/sim"
)

// Compile-time interface check.
var _ Executor = (*MockExecutor)(nil)

// MockExecutor simulates order execution against an in-memory ledger. Market
// orders fill immediately at the slippage-adjusted reference price; limit
// orders rest until the market crosses their price and then fill at the
// limit. Orders the ledger rejects move to failed.
type MockExecutor struct {
	book   *book
	ledger *ledger.Ledger
	sim    *sim.Simulator

	mu     sync.RWMutex
	prices map[string]float64

	// limitExpiry > 0 cancels resting limit orders that old. Zero means
	// good-till-cancelled.
	limitExpiry time.Duration

	log *slog.Logger
}

// NewMock creates a MockExecutor executing against the given ledger with the
// simulator's slippage and commission model.
func NewMock(l *ledger.Ledger, s *sim.Simulator, limitExpiry time.Duration, log *slog.Logger) *MockExecutor {
	if log == nil {
		log = slog.Default()
	}
	return &MockExecutor{
		book:        newBook("mock", log),
		ledger:      l,
		sim:         s,
		prices:      make(map[string]float64),
		limitExpiry: limitExpiry,
		log:         log.With("executor", "mock"),
	}
}

// Name returns "mock".
func (m *MockExecutor) Name() string { return "mock" }

// Subscribe registers for order events.
func (m *MockExecutor) Subscribe(bufSize int) (int, <-chan Event) { return m.book.Subscribe(bufSize) }

// Unsubscribe removes an event subscription.
func (m *MockExecutor) Unsubscribe(id int) { m.book.Unsubscribe(id) }

// UpdateMarketData records the latest reference price for a symbol and
// re-checks resting limit orders against it.
func (m *MockExecutor) UpdateMarketData(symbol string, price float64, now time.Time) {
	m.mu.Lock()
	m.prices[symbol] = price
	m.mu.Unlock()

	m.sweepPending(symbol, price, now)
}

// CreateOrder validates the request and attempts an immediate fill. A
// market order with no known reference price fails; an uncrossed limit
// order stays pending.
func (m *MockExecutor) CreateOrder(_ context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	o := m.book.create(req)

	market, haveMarket := m.lastPrice(req.Symbol)
	if req.Type == domain.OrderTypeMarket {
		if !haveMarket {
			failed, err := m.book.transition(o.ID, domain.OrderStatusFailed, unchanged())
			if err != nil {
				return nil, err
			}
			return &failed, nil
		}
		filled := m.fill(*o, m.sim.AdjustPrice(market, req.Side))
		return &filled, nil
	}

	// Limit order: fill only when the market has crossed the limit.
	if haveMarket && limitCrossed(req.Side, req.Price, market) {
		filled := m.fill(*o, req.Price)
		return &filled, nil
	}
	pending, _ := m.book.get(o.ID)
	return &pending, nil
}

// CancelOrder cancels a pending order.
func (m *MockExecutor) CancelOrder(_ context.Context, orderID string) (*domain.Order, error) {
	o, ok := m.book.get(orderID)
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != domain.OrderStatusPending {
		return nil, ErrOrderNotCancellable
	}
	cancelled, err := m.book.transition(orderID, domain.OrderStatusCancelled, unchanged())
	if err != nil {
		return nil, err
	}
	return &cancelled, nil
}

// GetOrder returns the current state of an order.
func (m *MockExecutor) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	o, ok := m.book.get(orderID)
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &o, nil
}

// GetBalance reports ledger cash and equity marked at the latest known
// prices.
func (m *MockExecutor) GetBalance(_ context.Context) (domain.AccountInfo, error) {
	equity := m.ledger.Cash()
	for _, pos := range m.ledger.Positions() {
		if price, ok := m.lastPrice(pos.Symbol); ok {
			equity += pos.Quantity * price
		}
	}
	return domain.AccountInfo{Cash: m.ledger.Cash(), Equity: equity}, nil
}

// GetPosition returns the ledger position for a symbol; zero quantity when
// none is held.
func (m *MockExecutor) GetPosition(_ context.Context, symbol string) (domain.Position, error) {
	pos, _ := m.ledger.Position(symbol)
	return pos, nil
}

func (m *MockExecutor) lastPrice(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[symbol]
	return p, ok
}

// fill executes an order against the ledger at the given price. The ledger
// gets the mutation and the fill record; the order moves to filled, or to
// failed on insufficient funds/position.
func (m *MockExecutor) fill(o domain.Order, price float64) domain.Order {
	gross := o.Quantity * price
	fee := m.sim.Commission(gross)

	var err error
	if o.Side == domain.SideBuy {
		err = m.ledger.ApplyBuy(o.Symbol, o.Quantity, price, fee)
	} else {
		err = m.ledger.ApplySell(o.Symbol, o.Quantity, price, fee)
	}
	if err != nil {
		m.log.Warn("order rejected by ledger", "order", o.ID, "err", err)
		failed, _ := m.book.transition(o.ID, domain.OrderStatusFailed, unchanged())
		return failed
	}

	m.ledger.LogFill(domain.Fill{
		Timestamp:  time.Now(),
		Symbol:     o.Symbol,
		Side:       o.Side,
		Quantity:   o.Quantity,
		Price:      price,
		Commission: fee,
		Value:      gross,
	})
	filled, _ := m.book.transition(o.ID, domain.OrderStatusFilled, fields{
		filled: o.Quantity,
		cost:   gross,
		fee:    fee,
	})
	return filled
}

// sweepPending fills resting limit orders for symbol that the new price has
// crossed, and expires those past the configured lifetime.
func (m *MockExecutor) sweepPending(symbol string, price float64, now time.Time) {
	for _, o := range m.book.pendingOrders() {
		if o.Symbol != symbol || o.Type != domain.OrderTypeLimit {
			continue
		}
		if m.limitExpiry > 0 && now.Sub(o.CreatedAt) > m.limitExpiry {
			if _, err := m.book.transition(o.ID, domain.OrderStatusCancelled, unchanged()); err == nil {
				m.log.Info("limit order expired", "order", o.ID)
			}
			continue
		}
		if limitCrossed(o.Side, o.Price, price) {
			m.fill(o, o.Price)
		}
	}
}

// limitCrossed reports whether a limit order is fillable at the market
// price: buys fill at or below the limit, sells at or above.
func limitCrossed(side domain.Side, limit, market float64) bool {
	if side == domain.SideBuy {
		return market <= limit
	}
	return market >= limit
}
