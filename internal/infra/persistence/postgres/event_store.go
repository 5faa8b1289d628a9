package postgres

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

const (
	eventInsertSQL = `
INSERT INTO order_events (
    event_id, kind, trader_id, strategy_id, instrument_id, client_order_id, payload, ts_event, ts_init
) VALUES (
    @event_id::uuid, @kind, @trader_id, @strategy_id, @instrument_id, @client_order_id, @payload::jsonb, @ts_event, @ts_init
)
ON CONFLICT (event_id) DO NOTHING`

	fillInsertSQL = `
INSERT INTO fills (
    event_id, strategy_id, instrument_id, client_order_id, venue_order_id, trade_id, position_id,
    side, last_qty, last_px, currency, commission, liquidity_side, ts_event
) VALUES (
    @event_id::uuid, @strategy_id, @instrument_id, @client_order_id, @venue_order_id, @trade_id, @position_id,
    @side, @last_qty, @last_px, @currency, @commission, @liquidity_side, @ts_event
)
ON CONFLICT (event_id) DO NOTHING`

	eventsByOrderSQL = `
SELECT kind, payload
FROM order_events
WHERE client_order_id = $1
ORDER BY id`

	fillsByStrategySQL = `
SELECT client_order_id, trade_id, side, last_qty::text, last_px::text, currency, commission::text, ts_event
FROM fills
WHERE strategy_id = $1
ORDER BY ts_event, trade_id`
)

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Fill is a persisted execution row.
type Fill struct {
	ClientOrderID model.ClientOrderID
	TradeID       model.TradeID
	Side          model.OrderSide
	LastQty       decimal.Decimal
	LastPx        decimal.Decimal
	Currency      string
	Commission    *decimal.Decimal
	TsEvent       model.UnixNanos
}

// EventStore appends order events to PostgreSQL and reads them back.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore wraps pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func (s *EventStore) ensurePool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("event store: nil pool")
	}
	return s.pool, nil
}

// Append stores ev once; a repeated event id is ignored. Fills are also
// projected into the fills table within the same transaction.
func (s *EventStore) Append(ctx context.Context, ev events.OrderEvent) error {
	if ev == nil {
		return fmt.Errorf("event store: nil event")
	}
	pool, err := s.ensurePool()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event store: encode %s: %w", ev.Kind(), err)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return fmt.Errorf("event store: begin tx: %w", err)
	}
	// no-op once committed
	defer func() { _ = tx.Rollback(ctx) }()

	h := ev.Header()
	tag, err := tx.Exec(ctx, eventInsertSQL, pgx.NamedArgs{
		"event_id":        h.EventID.String(),
		"kind":            string(ev.Kind()),
		"trader_id":       string(h.TraderID),
		"strategy_id":     string(h.StrategyID),
		"instrument_id":   h.InstrumentID.String(),
		"client_order_id": h.ClientOrderID.String(),
		"payload":         string(payload),
		"ts_event":        int64(h.TsEvent),
		"ts_init":         int64(h.TsInit),
	})
	if err != nil {
		return fmt.Errorf("event store: insert %s: %w", ev.Kind(), err)
	}
	if fill, ok := ev.(events.OrderFilled); ok && tag.RowsAffected() == 1 {
		if err := insertFill(ctx, tx, fill); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("event store: commit tx: %w", err)
	}
	return nil
}

func insertFill(ctx context.Context, exec execer, fill events.OrderFilled) error {
	qty, err := numericFromDecimal(fill.LastQty)
	if err != nil {
		return fmt.Errorf("event store: fill qty: %w", err)
	}
	px, err := numericFromDecimal(fill.LastPx)
	if err != nil {
		return fmt.Errorf("event store: fill px: %w", err)
	}
	var commission pgtype.Numeric
	if fill.Commission != nil {
		if commission, err = numericFromDecimal(fill.Commission.Amount); err != nil {
			return fmt.Errorf("event store: fill commission: %w", err)
		}
	}
	h := fill.Header()
	_, err = exec.Exec(ctx, fillInsertSQL, pgx.NamedArgs{
		"event_id":        h.EventID.String(),
		"strategy_id":     string(h.StrategyID),
		"instrument_id":   h.InstrumentID.String(),
		"client_order_id": h.ClientOrderID.String(),
		"venue_order_id":  string(fill.VenueOrderID),
		"trade_id":        string(fill.TradeID),
		"position_id":     string(fill.PositionID),
		"side":            string(fill.Side),
		"last_qty":        qty,
		"last_px":         px,
		"currency":        fill.Currency,
		"commission":      commission,
		"liquidity_side":  string(fill.LiquiditySide),
		"ts_event":        int64(h.TsEvent),
	})
	if err != nil {
		return fmt.Errorf("event store: insert fill: %w", err)
	}
	return nil
}

// Events returns the stored events of one order in append order.
func (s *EventStore) Events(ctx context.Context, id model.ClientOrderID) ([]events.OrderEvent, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, eventsByOrderSQL, id.String())
	if err != nil {
		return nil, fmt.Errorf("event store: query events: %w", err)
	}
	defer rows.Close()

	var out []events.OrderEvent
	for rows.Next() {
		var (
			kind    string
			payload []byte
		)
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, fmt.Errorf("event store: scan event: %w", err)
		}
		ev, err := events.Decode(events.OrderEventKind(kind), payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event store: iterate events: %w", err)
	}
	return out, nil
}

// Fills lists the executions recorded for a strategy.
func (s *EventStore) Fills(ctx context.Context, strategyID model.StrategyID) ([]Fill, error) {
	pool, err := s.ensurePool()
	if err != nil {
		return nil, err
	}
	rows, err := pool.Query(ctx, fillsByStrategySQL, string(strategyID))
	if err != nil {
		return nil, fmt.Errorf("event store: query fills: %w", err)
	}
	defer rows.Close()

	var out []Fill
	for rows.Next() {
		var (
			f          Fill
			clientID   string
			tradeID    string
			side       string
			qty, px    string
			commission *string
			tsEvent    int64
		)
		if err := rows.Scan(&clientID, &tradeID, &side, &qty, &px, &f.Currency, &commission, &tsEvent); err != nil {
			return nil, fmt.Errorf("event store: scan fill: %w", err)
		}
		f.ClientOrderID = model.ClientOrderID(clientID)
		f.TradeID = model.TradeID(tradeID)
		f.Side = model.OrderSide(side)
		f.TsEvent = model.UnixNanos(tsEvent)
		if f.LastQty, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("event store: fill qty: %w", err)
		}
		if f.LastPx, err = decimal.NewFromString(px); err != nil {
			return nil, fmt.Errorf("event store: fill px: %w", err)
		}
		if commission != nil {
			c, err := decimal.NewFromString(*commission)
			if err != nil {
				return nil, fmt.Errorf("event store: fill commission: %w", err)
			}
			f.Commission = &c
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("event store: iterate fills: %w", err)
	}
	return out, nil
}
