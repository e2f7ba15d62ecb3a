// Package executor owns the order lifecycle: creation, validation, status
// transitions, and cancellation. The same contract is implemented by a
// simulated executor and a live trading-venue adapter so callers are
// agnostic to execution mode.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"marlin/internal/domain"
)

var (
	// ErrOrderNotFound reports an unknown order ID.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderNotCancellable rejects cancellation of an order that is not
	// pending. Terminal states admit no transitions.
	ErrOrderNotCancellable = errors.New("order not cancellable")
)

// GatewayError wraps a transport or venue failure. The core never retries
// these; retry is explicit caller policy.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string { return fmt.Sprintf("gateway %s: %v", e.Op, e.Err) }
func (e *GatewayError) Unwrap() error { return e.Err }

// Executor is the uniform order-execution contract shared by the mock and
// live variants.
type Executor interface {
	// Name returns the executor identifier (e.g. "mock", "alpaca").
	Name() string

	// CreateOrder validates the request, stores a pending order, and
	// attempts execution per the executor's fill model.
	CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error)

	// CancelOrder cancels a pending order. Any other state fails with
	// ErrOrderNotCancellable.
	CancelOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// GetOrder returns the current state of an order.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// GetBalance returns an account snapshot.
	GetBalance(ctx context.Context) (domain.AccountInfo, error)

	// GetPosition returns the position for a symbol; a zero-quantity
	// position means none is held.
	GetPosition(ctx context.Context, symbol string) (domain.Position, error)
}

// EventType classifies order events.
type EventType string

const (
	EventOrderCreated   EventType = "order:created"
	EventOrderUpdated   EventType = "order:updated"
	EventOrderFilled    EventType = "order:filled"
	EventOrderCancelled EventType = "order:cancelled"
)

// Event carries one order state change to subscribers. Order is a copy.
type Event struct {
	Type      EventType
	Order     domain.Order
	Timestamp time.Time
}

// book is the order table shared by both executor variants: ID generation,
// monotonic status transitions, and event pub/sub.
type book struct {
	name    string
	counter atomic.Int64

	mu     sync.RWMutex
	orders map[string]*domain.Order

	subsMu    sync.Mutex
	nextSubID int
	subs      map[int]chan Event

	log *slog.Logger
}

func newBook(name string, log *slog.Logger) *book {
	if log == nil {
		log = slog.Default()
	}
	return &book{
		name:   name,
		orders: make(map[string]*domain.Order),
		subs:   make(map[int]chan Event),
		log:    log.With("executor", name),
	}
}

// create stores a new pending order for the request and publishes a created
// event. IDs are unique within the executor's lifetime: a timestamp plus a
// monotonic counter.
func (b *book) create(req domain.OrderRequest) *domain.Order {
	now := time.Now()
	o := &domain.Order{
		ID:        fmt.Sprintf("%s-%d-%d", b.name, now.UnixMilli(), b.counter.Add(1)),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Type:      req.Type,
		Price:     req.Price,
		Quantity:  req.Quantity,
		Status:    domain.OrderStatusPending,
		Remaining: req.Quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	b.mu.Lock()
	b.orders[o.ID] = o
	b.mu.Unlock()

	b.publish(EventOrderCreated, *o)
	return o
}

// get returns a copy of the order.
func (b *book) get(orderID string) (domain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[orderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// setExchangeID assigns the venue order ID. Once set it never changes.
func (b *book) setExchangeID(orderID, exchangeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o, ok := b.orders[orderID]; ok && o.ExchangeOrderID == "" {
		o.ExchangeOrderID = exchangeID
	}
}

// fields carries the fill-progress values applied alongside a transition or
// reconciliation. Negative values mean "leave unchanged".
type fields struct {
	filled float64
	cost   float64
	fee    float64
}

func unchanged() fields { return fields{filled: -1, cost: -1, fee: -1} }

func (b *book) apply(o *domain.Order, f fields) {
	if f.filled >= 0 {
		o.FilledQty = f.filled
		o.Remaining = o.Quantity - f.filled
	}
	if f.cost >= 0 {
		o.Cost = f.cost
	}
	if f.fee >= 0 {
		o.Fee = f.fee
	}
	o.UpdatedAt = time.Now()
}

// transition moves an order to a new status, enforcing the pending →
// filled|cancelled|failed state machine. Illegal transitions fail with
// ErrOrderNotCancellable for cancellation attempts and are otherwise
// ignored with a warning (a venue may re-report a terminal state).
func (b *book) transition(orderID string, status domain.OrderStatus, f fields) (domain.Order, error) {
	b.mu.Lock()
	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return domain.Order{}, ErrOrderNotFound
	}
	if !o.Status.CanTransitionTo(status) {
		cur := o.Status
		b.mu.Unlock()
		return domain.Order{}, fmt.Errorf("order %s: illegal transition %s → %s", orderID, cur, status)
	}
	o.Status = status
	b.apply(o, f)
	if status == domain.OrderStatusFilled {
		o.FilledAt = o.UpdatedAt
	}
	copied := *o
	b.mu.Unlock()

	b.log.Info("order status changed", "order", orderID, "status", status)
	b.publish(EventOrderUpdated, copied)
	switch status {
	case domain.OrderStatusFilled:
		b.publish(EventOrderFilled, copied)
	case domain.OrderStatusCancelled:
		b.publish(EventOrderCancelled, copied)
	}
	return copied, nil
}

// update applies fill-progress fields without a status change.
func (b *book) update(orderID string, f fields) (domain.Order, error) {
	b.mu.Lock()
	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return domain.Order{}, ErrOrderNotFound
	}
	b.apply(o, f)
	copied := *o
	b.mu.Unlock()

	b.publish(EventOrderUpdated, copied)
	return copied, nil
}

// pendingOrders returns copies of all orders still in the pending state.
func (b *book) pendingOrders() []domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.Order
	for _, o := range b.orders {
		if o.Status == domain.OrderStatusPending {
			out = append(out, *o)
		}
	}
	return out
}

// Subscribe creates a subscription channel for order events.
func (b *book) Subscribe(bufSize int) (id int, ch <-chan Event) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	id = b.nextSubID
	b.nextSubID++
	c := make(chan Event, bufSize)
	b.subs[id] = c
	return id, c
}

// Unsubscribe removes a subscription and closes its channel.
func (b *book) Unsubscribe(id int) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *book) publish(typ EventType, order domain.Order) {
	evt := Event{Type: typ, Order: order, Timestamp: time.Now()}
	b.subsMu.Lock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber, drop event.
		}
	}
	b.subsMu.Unlock()
}
