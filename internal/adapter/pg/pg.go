package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
)

var _ port.Repository = (*PgRepo)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
  id         TEXT PRIMARY KEY,
  market     TEXT NOT NULL,
  seq        BIGINT NOT NULL,
  side       TEXT NOT NULL,
  price      NUMERIC NOT NULL,
  size       NUMERIC NOT NULL,
  remaining  NUMERIC NOT NULL,
  status     TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS orders_open_idx ON orders (market, seq) WHERE remaining > 0;
CREATE TABLE IF NOT EXISTS trades (
  id             TEXT PRIMARY KEY,
  market         TEXT NOT NULL,
  maker_order_id TEXT NOT NULL,
  taker_order_id TEXT NOT NULL,
  taker_side     TEXT NOT NULL,
  price          NUMERIC NOT NULL,
  quantity       NUMERIC NOT NULL,
  ts             TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_maker_idx ON trades (maker_order_id);
CREATE INDEX IF NOT EXISTS trades_taker_idx ON trades (taker_order_id);
`

type PgRepo struct {
	pool *pgxpool.Pool
}

// call Close when finish to work with database.
func NewPgRepo(ctx context.Context, dsn string) (*PgRepo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}
	return &PgRepo{pool: pool}, nil
}

func (p *PgRepo) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Migrate creates the tables if they do not exist yet.
func (p *PgRepo) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pg: migrate: %w", err)
	}
	return nil
}

func (p *PgRepo) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o == nil {
		return errors.New("pg: nil order")
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO orders(id, market, seq, side, price, size, remaining, status, created_at, updated_at)
VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  remaining = EXCLUDED.remaining,
  status = EXCLUDED.status,
  updated_at = EXCLUDED.updated_at
`, o.ID, o.Market, int64(o.Seq), string(o.Side), o.Price, o.Size, o.Remaining, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("pg: save order %s: %w", o.ID, err)
	}
	return nil
}

// LoadOpenOrders returns resting orders of a market in arrival order (seq ASC).
func (p *PgRepo) LoadOpenOrders(ctx context.Context, market string) ([]*domain.Order, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, market, seq, side, price, size, remaining, status, created_at, updated_at
FROM orders
WHERE market = $1 AND remaining > 0
ORDER BY seq ASC
`, market)
	if err != nil {
		return nil, fmt.Errorf("pg: load open orders: %w", err)
	}
	defer rows.Close()

	var res []*domain.Order
	for rows.Next() {
		var o domain.Order
		var side, status string
		var seq int64
		if err := rows.Scan(&o.ID, &o.Market, &seq, &side, &o.Price, &o.Size, &o.Remaining, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pg: scan order: %w", err)
		}
		o.Seq = uint64(seq)
		o.Side = domain.Side(side)
		o.Status = domain.OrderStatus(status)
		res = append(res, &o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: load open orders: %w", err)
	}
	return res, nil
}

// LoadTradesForOrder returns every trade where the order was maker or taker.
func (p *PgRepo) LoadTradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, market, maker_order_id, taker_order_id, taker_side, price, quantity, ts
FROM trades
WHERE maker_order_id = $1 OR taker_order_id = $1
ORDER BY ts ASC
`, orderID)
	if err != nil {
		return nil, fmt.Errorf("pg: load trades: %w", err)
	}
	defer rows.Close()

	var res []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(&t.ID, &t.Market, &t.MakerOrderID, &t.TakerOrderID, &side, &t.Price, &t.Quantity, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("pg: scan trade: %w", err)
		}
		t.TakerSide = domain.Side(side)
		res = append(res, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pg: load trades: %w", err)
	}
	return res, nil
}

// ListMarkets returns distinct markets present in orders table
func (p *PgRepo) ListMarkets(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT DISTINCT market FROM orders ORDER BY market`)
	if err != nil {
		return nil, fmt.Errorf("pg: list markets: %w", err)
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("pg: scan market: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (p *PgRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("pg: begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) SaveTrade(ctx context.Context, tr *domain.Trade) error {
	if tr == nil {
		return errors.New("pg: nil trade")
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO trades(id, market, maker_order_id, taker_order_id, taker_side, price, quantity, ts)
VALUES($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO NOTHING
`, tr.ID, tr.Market, tr.MakerOrderID, tr.TakerOrderID, string(tr.TakerSide), tr.Price, tr.Quantity, tr.Timestamp)
	if err != nil {
		return fmt.Errorf("pg: save trade %s: %w", tr.ID, err)
	}
	return nil
}

func (t *pgTx) UpdateRemaining(ctx context.Context, orderID string, remaining decimal.Decimal) error {
	res, err := t.tx.Exec(ctx, `
UPDATE orders
SET remaining = $1,
    status = CASE WHEN $1 = 0 THEN 'FILLED' WHEN $1 < size THEN 'PARTIALLY FILLED' ELSE 'OPEN' END,
    updated_at = $2
WHERE id = $3
`, remaining, time.Now().UTC(), orderID)
	if err != nil {
		return fmt.Errorf("pg: update remaining %s: %w", orderID, err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("pg: update remaining %s: order not found", orderID)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("pg: rollback: %w", err)
	}
	return nil
}
