package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marlin/internal/domain"
	"marlin/internal/risk"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// ErrNotFound is returned when a journal lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Compile-time interface check.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal implements Journal backed by a SQLite database.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens (or creates) a SQLite database at dbPath, runs the
// schema migration, and returns a ready-to-use journal.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	j := &SQLiteJournal{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal schema: %w", err)
	}
	return j, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

func (j *SQLiteJournal) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id                TEXT PRIMARY KEY,
	exchange_order_id TEXT NOT NULL DEFAULT '',
	symbol            TEXT NOT NULL,
	side              TEXT NOT NULL,
	type              TEXT NOT NULL,
	price             REAL NOT NULL,
	quantity          REAL NOT NULL,
	status            TEXT NOT NULL,
	filled_qty        REAL NOT NULL,
	remaining         REAL NOT NULL,
	cost              REAL NOT NULL,
	fee               REAL NOT NULL,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	filled_at         INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

CREATE TABLE IF NOT EXISTS fills (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp  INTEGER NOT NULL,
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL,
	quantity   REAL NOT NULL,
	price      REAL NOT NULL,
	commission REAL NOT NULL,
	value      REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_symbol_ts ON fills(symbol, timestamp);

CREATE TABLE IF NOT EXISTS alerts (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	rule_id   TEXT NOT NULL,
	severity  TEXT NOT NULL,
	message   TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	snapshot  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(timestamp);
`
	_, err := j.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// SaveOrder inserts or replaces an order record by ID.
func (j *SQLiteJournal) SaveOrder(ctx context.Context, order *domain.Order) error {
	_, err := j.db.ExecContext(ctx, `
INSERT OR REPLACE INTO orders
	(id, exchange_order_id, symbol, side, type, price, quantity, status,
	 filled_qty, remaining, cost, fee, created_at, updated_at, filled_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.ExchangeOrderID, order.Symbol, string(order.Side),
		string(order.Type), order.Price, order.Quantity, string(order.Status),
		order.FilledQty, order.Remaining, order.Cost, order.Fee,
		order.CreatedAt.UnixMilli(), order.UpdatedAt.UnixMilli(),
		order.FilledAt.UnixMilli())
	return err
}

// GetOrder retrieves a single order by its ID. Returns ErrNotFound if the
// ID is unknown.
func (j *SQLiteJournal) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := j.db.QueryRowContext(ctx, `
SELECT id, exchange_order_id, symbol, side, type, price, quantity, status,
	filled_qty, remaining, cost, fee, created_at, updated_at, filled_at
FROM orders WHERE id = ?`, id)

	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ListOrders returns all orders with the given status, oldest first.
func (j *SQLiteJournal) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT id, exchange_order_id, symbol, side, type, price, quantity, status,
	filled_qty, remaining, cost, fee, created_at, updated_at, filled_at
FROM orders WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var side, typ, status string
	var createdAt, updatedAt, filledAt int64
	err := row.Scan(&o.ID, &o.ExchangeOrderID, &o.Symbol, &side, &typ,
		&o.Price, &o.Quantity, &status, &o.FilledQty, &o.Remaining,
		&o.Cost, &o.Fee, &createdAt, &updatedAt, &filledAt)
	if err != nil {
		return nil, err
	}
	o.Side = domain.Side(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdAt)
	o.UpdatedAt = time.UnixMilli(updatedAt)
	o.FilledAt = time.UnixMilli(filledAt)
	return &o, nil
}

// ---------------------------------------------------------------------------
// Fills
// ---------------------------------------------------------------------------

// SaveFill appends a fill record.
func (j *SQLiteJournal) SaveFill(ctx context.Context, fill domain.Fill) error {
	_, err := j.db.ExecContext(ctx, `
INSERT INTO fills (timestamp, symbol, side, quantity, price, commission, value)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fill.Timestamp.UnixMilli(), fill.Symbol, string(fill.Side),
		fill.Quantity, fill.Price, fill.Commission, fill.Value)
	return err
}

// ListFills returns fills for a symbol within [start, end], oldest first.
// An empty symbol matches all symbols.
func (j *SQLiteJournal) ListFills(ctx context.Context, symbol string, start, end time.Time) ([]domain.Fill, error) {
	query := `
SELECT timestamp, symbol, side, quantity, price, commission, value
FROM fills WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{start.UnixMilli(), end.UnixMilli()}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY timestamp`

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		var ts int64
		if err := rows.Scan(&ts, &f.Symbol, &side, &f.Quantity, &f.Price,
			&f.Commission, &f.Value); err != nil {
			return nil, err
		}
		f.Timestamp = time.UnixMilli(ts)
		f.Side = domain.Side(side)
		fills = append(fills, f)
	}
	return fills, rows.Err()
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

// SaveAlert appends a risk alert record. The portfolio snapshot is stored
// as a JSON blob alongside the indexed fields.
func (j *SQLiteJournal) SaveAlert(ctx context.Context, alert risk.Alert) error {
	snapshot, err := json.Marshal(alert.Snapshot)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, `
INSERT INTO alerts (rule_id, severity, message, timestamp, snapshot)
VALUES (?, ?, ?, ?, ?)`,
		alert.RuleID, string(alert.Severity), alert.Message,
		alert.Timestamp.UnixMilli(), string(snapshot))
	return err
}

// ListAlerts returns the most recent alerts, newest first, up to limit.
// A limit <= 0 returns everything.
func (j *SQLiteJournal) ListAlerts(ctx context.Context, limit int) ([]risk.Alert, error) {
	query := `
SELECT rule_id, severity, message, timestamp, snapshot
FROM alerts ORDER BY timestamp DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []risk.Alert
	for rows.Next() {
		var a risk.Alert
		var severity, snapshot string
		var ts int64
		if err := rows.Scan(&a.RuleID, &severity, &a.Message, &ts, &snapshot); err != nil {
			return nil, err
		}
		a.Severity = risk.Severity(severity)
		a.Timestamp = time.UnixMilli(ts)
		if err := json.Unmarshal([]byte(snapshot), &a.Snapshot); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// ---------------------------------------------------------------------------
// Alert channel adapter
// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ risk.Channel = (*AlertJournal)(nil)

// AlertJournal adapts a Journal into a risk notification channel so alerts
// routed to "journal" land in the database.
type AlertJournal struct {
	journal Journal
}

// NewAlertJournal wraps a Journal as a risk channel.
func NewAlertJournal(journal Journal) *AlertJournal {
	return &AlertJournal{journal: journal}
}

// Name returns "journal".
func (c *AlertJournal) Name() string { return "journal" }

// Notify persists the alert.
func (c *AlertJournal) Notify(alert risk.Alert) error {
	return c.journal.SaveAlert(context.Background(), alert)
}
