// Package domain defines the shared value types for the marlin trading
// engine: orders, positions, fills, signals, bars, and valuations.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidOrderRequest is returned when an order request fails shape
// validation. It is never retried.
var ErrInvalidOrderRequest = errors.New("invalid order request")

// Side is the direction of a trade or order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether a transition from s to next is legal.
// The only legal transitions are pending → filled|cancelled|failed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	return s == OrderStatusPending && next.Terminal()
}

// Bar is a single OHLCV candle for one symbol.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Signal is a trading instruction emitted by a strategy. The engine
// validates its shape, not its origin.
type Signal struct {
	Symbol    string
	Side      Side
	Quantity  float64
	Price     float64 // reference price, pre-slippage
	Timestamp time.Time
}

// Position is an aggregated holding in one instrument. Quantity is always
// positive for a stored position; AvgPrice is the volume-weighted average
// entry price, updated only by quantity-increasing fills.
type Position struct {
	Symbol   string
	Quantity float64
	AvgPrice float64
}

// Fill is an immutable record of one executed trade.
type Fill struct {
	Timestamp  time.Time
	Symbol     string
	Side       Side
	Quantity   float64
	Price      float64 // executed price, post-slippage
	Commission float64
	Value      float64 // Quantity * Price, gross of commission
}

// Valuation is one point of the portfolio value time series.
type Valuation struct {
	Timestamp  time.Time
	TotalValue float64
	Return     float64 // return since session start
}

// AccountInfo is a snapshot of account-level financial metrics.
type AccountInfo struct {
	Cash   float64
	Equity float64
}

// OrderRequest carries the caller-supplied fields of a new order.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Type     OrderType
	Quantity float64
	Price    float64 // required for limit orders
}

// Validate checks the request shape. Limit orders require a positive price.
func (r *OrderRequest) Validate() error {
	if r.Symbol == "" {
		return fmt.Errorf("%w: missing symbol", ErrInvalidOrderRequest)
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("%w: side %q", ErrInvalidOrderRequest, r.Side)
	}
	if r.Type != OrderTypeMarket && r.Type != OrderTypeLimit {
		return fmt.Errorf("%w: type %q", ErrInvalidOrderRequest, r.Type)
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %v", ErrInvalidOrderRequest, r.Quantity)
	}
	if r.Type == OrderTypeLimit && r.Price <= 0 {
		return fmt.Errorf("%w: limit order requires price > 0", ErrInvalidOrderRequest)
	}
	return nil
}

// Order is one tracked order. Invariant: FilledQty + Remaining == Quantity.
// ExchangeOrderID never changes once assigned.
type Order struct {
	ID              string
	ExchangeOrderID string
	Symbol          string
	Side            Side
	Type            OrderType
	Price           float64 // requested price, limit orders only
	Quantity        float64
	Status          OrderStatus
	FilledQty       float64
	Remaining       float64
	Cost            float64
	Fee             float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FilledAt        time.Time
}
