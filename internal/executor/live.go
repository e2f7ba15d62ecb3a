package executor

import (
	"context"
	"log/slog"
	"time"

	"marlin/internal/domain"
)

// Compile-time interface check.
var _ Executor = (*LiveExecutor)(nil)

// VenueOrder is the venue-reported view of an order, in the venue status
// vocabulary ("open", "closed", "canceled", "rejected").
type VenueOrder struct {
	ID        string
	Status    string
	FilledQty float64
	Cost      float64
	Fee       float64
}

// Gateway is the trading-venue surface the live executor adapts: place and
// cancel orders, query order state, balances, positions, and the tradable
// instrument list. All I/O in this package is confined to Gateway calls.
type Gateway interface {
	Name() string
	LoadInstruments(ctx context.Context) ([]string, error)
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (VenueOrder, error)
	CancelOrder(ctx context.Context, venueOrderID, symbol string) error
	FetchOrder(ctx context.Context, venueOrderID, symbol string) (VenueOrder, error)
	FetchBalance(ctx context.Context) (domain.AccountInfo, error)
	FetchPosition(ctx context.Context, symbol string) (domain.Position, error)
}

// venueStatus maps the venue status vocabulary onto the local order state
// machine. Unknown statuses leave the local state unchanged.
var venueStatus = map[string]domain.OrderStatus{
	"open":      domain.OrderStatusPending,
	"closed":    domain.OrderStatusFilled,
	"canceled":  domain.OrderStatusCancelled,
	"cancelled": domain.OrderStatusCancelled,
	"rejected":  domain.OrderStatusFailed,
}

const defaultPollInterval = 5 * time.Second

// LiveExecutor adapts a trading-venue Gateway to the Executor contract.
// Order state is reconciled from venue-reported fields by polling at a
// fixed interval until a terminal state is observed. There is no built-in
// polling expiry: a stuck pending order is the caller's concern.
type LiveExecutor struct {
	book         *book
	gateway      Gateway
	pollInterval time.Duration
	done         chan struct{}
	log          *slog.Logger
}

// NewLive creates a LiveExecutor on the given gateway. A zero pollInterval
// defaults to 5s.
func NewLive(g Gateway, pollInterval time.Duration, log *slog.Logger) *LiveExecutor {
	if log == nil {
		log = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &LiveExecutor{
		book:         newBook(g.Name(), log),
		gateway:      g,
		pollInterval: pollInterval,
		done:         make(chan struct{}),
		log:          log.With("executor", g.Name()),
	}
}

// Name returns the underlying gateway name.
func (e *LiveExecutor) Name() string { return e.gateway.Name() }

// Subscribe registers for order events.
func (e *LiveExecutor) Subscribe(bufSize int) (int, <-chan Event) { return e.book.Subscribe(bufSize) }

// Unsubscribe removes an event subscription.
func (e *LiveExecutor) Unsubscribe(id int) { e.book.Unsubscribe(id) }

// Close stops all reconciliation pollers. Orders keep their last observed
// state.
func (e *LiveExecutor) Close() {
	close(e.done)
}

// CreateOrder validates the request, places it at the venue, and starts
// polling for reconciliation until the order reaches a terminal state. A
// placement failure marks the local order failed and returns a
// GatewayError.
func (e *LiveExecutor) CreateOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	o := e.book.create(req)

	venue, err := e.gateway.PlaceOrder(ctx, req)
	if err != nil {
		if _, terr := e.book.transition(o.ID, domain.OrderStatusFailed, unchanged()); terr != nil {
			e.log.Warn("failed order transition", "order", o.ID, "err", terr)
		}
		return nil, &GatewayError{Op: "place order", Err: err}
	}
	e.book.setExchangeID(o.ID, venue.ID)

	current := e.reconcile(o.ID, venue)
	if !current.Status.Terminal() {
		go e.poll(o.ID, current.Symbol, venue.ID)
	}
	return &current, nil
}

// CancelOrder cancels a pending order at the venue. A venue failure leaves
// local state unchanged and surfaces as a GatewayError.
func (e *LiveExecutor) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, ok := e.book.get(orderID)
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status != domain.OrderStatusPending {
		return nil, ErrOrderNotCancellable
	}
	if err := e.gateway.CancelOrder(ctx, o.ExchangeOrderID, o.Symbol); err != nil {
		return nil, &GatewayError{Op: "cancel order", Err: err}
	}
	cancelled, err := e.book.transition(orderID, domain.OrderStatusCancelled, unchanged())
	if err != nil {
		return nil, err
	}
	return &cancelled, nil
}

// GetOrder returns the local order, refreshed from the venue when it is
// still pending. A fetch failure is reported but does not change order
// state; the last observed state is returned.
func (e *LiveExecutor) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	o, ok := e.book.get(orderID)
	if !ok {
		return nil, ErrOrderNotFound
	}
	if o.Status.Terminal() || o.ExchangeOrderID == "" {
		return &o, nil
	}

	venue, err := e.gateway.FetchOrder(ctx, o.ExchangeOrderID, o.Symbol)
	if err != nil {
		e.log.Warn("order status fetch failed", "order", orderID, "err", err)
		return &o, nil
	}
	current := e.reconcile(orderID, venue)
	return &current, nil
}

// GetBalance fetches the account snapshot from the venue.
func (e *LiveExecutor) GetBalance(ctx context.Context) (domain.AccountInfo, error) {
	acct, err := e.gateway.FetchBalance(ctx)
	if err != nil {
		return domain.AccountInfo{}, &GatewayError{Op: "fetch balance", Err: err}
	}
	return acct, nil
}

// GetPosition fetches the position for a symbol from the venue.
func (e *LiveExecutor) GetPosition(ctx context.Context, symbol string) (domain.Position, error) {
	pos, err := e.gateway.FetchPosition(ctx, symbol)
	if err != nil {
		return domain.Position{}, &GatewayError{Op: "fetch position", Err: err}
	}
	return pos, nil
}

// reconcile applies venue-reported fields to the local order. Fill progress
// is always taken; a status change happens only when the mapped status is a
// legal transition from the current state.
func (e *LiveExecutor) reconcile(orderID string, venue VenueOrder) domain.Order {
	f := fields{filled: venue.FilledQty, cost: venue.Cost, fee: venue.Fee}

	mapped, known := venueStatus[venue.Status]
	if !known {
		e.log.Warn("unknown venue order status", "order", orderID, "status", venue.Status)
		o, _ := e.book.update(orderID, f)
		return o
	}

	o, ok := e.book.get(orderID)
	if !ok {
		return domain.Order{}
	}
	if mapped == o.Status || !o.Status.CanTransitionTo(mapped) {
		updated, _ := e.book.update(orderID, f)
		return updated
	}
	transitioned, err := e.book.transition(orderID, mapped, f)
	if err != nil {
		e.log.Warn("reconcile transition failed", "order", orderID, "err", err)
		return o
	}
	return transitioned
}

// poll fetches venue order state at the configured interval until a
// terminal state is observed or the executor is closed. Poll failures are
// logged and do not change order state.
func (e *LiveExecutor) poll(orderID, symbol, venueOrderID string) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.pollInterval)
			venue, err := e.gateway.FetchOrder(ctx, venueOrderID, symbol)
			cancel()
			if err != nil {
				e.log.Warn("order poll failed", "order", orderID, "err", err)
				continue
			}
			if current := e.reconcile(orderID, venue); current.Status.Terminal() {
				return
			}
		}
	}
}
