// Package store provides persistence for bar data and the trading journal.
// Bars live in Parquet files on disk; orders, fills, and risk alerts go into
// a SQLite journal. Both stores are best-effort collaborators: the engine
// keeps its authoritative state in memory and treats storage failures as
// log-and-continue events.
package store

import (
	"context"
	"time"

	"marlin/internal/domain"
	"marlin/internal/risk"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end],
	// sorted by timestamp.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols with stored bar data.
	ListSymbols(ctx context.Context) ([]string, error)
}

// Journal records orders, fills, and risk alerts for later inspection.
type Journal interface {
	// SaveOrder inserts or replaces an order record by ID.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders with the given status, oldest first.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// SaveFill appends a fill record.
	SaveFill(ctx context.Context, fill domain.Fill) error

	// ListFills returns fills for a symbol within [start, end], oldest
	// first. An empty symbol matches all symbols.
	ListFills(ctx context.Context, symbol string, start, end time.Time) ([]domain.Fill, error)

	// SaveAlert appends a risk alert record.
	SaveAlert(ctx context.Context, alert risk.Alert) error

	// ListAlerts returns the most recent alerts, newest first, up to limit.
	ListAlerts(ctx context.Context, limit int) ([]risk.Alert, error)
}
