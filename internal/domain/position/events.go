package position

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

// EventKind names a position lifecycle event.
type EventKind string

const (
	KindOpened  EventKind = "PositionOpened"
	KindChanged EventKind = "PositionChanged"
	KindClosed  EventKind = "PositionClosed"
)

// Event is implemented by PositionOpened, PositionChanged and PositionClosed.
type Event interface {
	Kind() EventKind
	Fields() EventFields
}

// EventFields is the snapshot shared by every position event.
type EventFields struct {
	TraderID       model.TraderID      `json:"trader_id"`
	StrategyID     model.StrategyID    `json:"strategy_id"`
	InstrumentID   model.InstrumentID  `json:"instrument_id"`
	PositionID     model.PositionID    `json:"position_id"`
	AccountID      model.AccountID     `json:"account_id"`
	OpeningOrderID model.ClientOrderID `json:"opening_order_id"`
	Entry          model.OrderSide     `json:"entry"`
	Side           model.PositionSide  `json:"side"`
	SignedQty      decimal.Decimal     `json:"signed_qty"`
	Quantity       decimal.Decimal     `json:"quantity"`
	LastQty        decimal.Decimal     `json:"last_qty"`
	LastPx         decimal.Decimal     `json:"last_px"`
	Currency       string              `json:"currency"`
	AvgPxOpen      decimal.Decimal     `json:"avg_px_open"`
	EventID        model.UUID4         `json:"event_id"`
	TsEvent        model.UnixNanos     `json:"ts_event"`
	TsInit         model.UnixNanos     `json:"ts_init"`
}

// PositionOpened is emitted by the fill that opens a position.
type PositionOpened struct {
	EventFields
}

// PositionChanged is emitted by a fill that changes an open position.
type PositionChanged struct {
	EventFields
	PeakQuantity   decimal.Decimal  `json:"peak_quantity"`
	AvgPxClose     *decimal.Decimal `json:"avg_px_close,omitempty"`
	RealizedReturn decimal.Decimal  `json:"realized_return"`
	RealizedPnL    model.Money      `json:"realized_pnl"`
	UnrealizedPnL  model.Money      `json:"unrealized_pnl"`
	TsOpened       model.UnixNanos  `json:"ts_opened"`
}

// PositionClosed is emitted by the fill that flattens a position.
type PositionClosed struct {
	EventFields
	ClosingOrderID model.ClientOrderID `json:"closing_order_id"`
	PeakQuantity   decimal.Decimal     `json:"peak_quantity"`
	AvgPxClose     *decimal.Decimal    `json:"avg_px_close,omitempty"`
	RealizedReturn decimal.Decimal     `json:"realized_return"`
	RealizedPnL    model.Money         `json:"realized_pnl"`
	TsOpened       model.UnixNanos     `json:"ts_opened"`
	TsClosed       model.UnixNanos     `json:"ts_closed"`
	DurationNs     uint64              `json:"duration_ns"`
}

func (e PositionOpened) Kind() EventKind      { return KindOpened }
func (e PositionChanged) Kind() EventKind     { return KindChanged }
func (e PositionClosed) Kind() EventKind      { return KindClosed }
func (e PositionOpened) Fields() EventFields  { return e.EventFields }
func (e PositionChanged) Fields() EventFields { return e.EventFields }
func (e PositionClosed) Fields() EventFields  { return e.EventFields }

func fieldsOf(p *Position, fill events.OrderFilled, eventID model.UUID4, tsInit model.UnixNanos) EventFields {
	return EventFields{
		TraderID:       p.traderID,
		StrategyID:     p.strategyID,
		InstrumentID:   p.instrumentID,
		PositionID:     p.id,
		AccountID:      p.accountID,
		OpeningOrderID: p.openingOrderID,
		Entry:          p.entry,
		Side:           p.side,
		SignedQty:      p.signedQty,
		Quantity:       p.quantity,
		LastQty:        fill.LastQty,
		LastPx:         fill.LastPx,
		Currency:       p.quoteCurrency,
		AvgPxOpen:      p.avgPxOpen,
		EventID:        eventID,
		TsEvent:        fill.TsEvent,
		TsInit:         tsInit,
	}
}

// NewOpened builds PositionOpened from the position state right after fill.
func NewOpened(p *Position, fill events.OrderFilled, eventID model.UUID4, tsInit model.UnixNanos) PositionOpened {
	return PositionOpened{EventFields: fieldsOf(p, fill, eventID, tsInit)}
}

// NewChanged builds PositionChanged from the position state right after fill.
func NewChanged(p *Position, fill events.OrderFilled, eventID model.UUID4, tsInit model.UnixNanos) PositionChanged {
	return PositionChanged{
		EventFields:    fieldsOf(p, fill, eventID, tsInit),
		PeakQuantity:   p.peakQty,
		AvgPxClose:     p.avgPxClose,
		RealizedReturn: p.realizedReturn,
		RealizedPnL:    p.realizedPnL,
		UnrealizedPnL:  p.UnrealizedPnL(fill.LastPx),
		TsOpened:       p.tsOpened,
	}
}

// NewClosed builds PositionClosed from the position state right after fill.
func NewClosed(p *Position, fill events.OrderFilled, eventID model.UUID4, tsInit model.UnixNanos) PositionClosed {
	return PositionClosed{
		EventFields:    fieldsOf(p, fill, eventID, tsInit),
		ClosingOrderID: p.closingOrderID,
		PeakQuantity:   p.peakQty,
		AvgPxClose:     p.avgPxClose,
		RealizedReturn: p.realizedReturn,
		RealizedPnL:    p.realizedPnL,
		TsOpened:       p.tsOpened,
		TsClosed:       p.tsClosed,
		DurationNs:     p.duration,
	}
}

// EventFor picks the lifecycle event matching the state after fill was applied.
// opened reports whether fill created the position.
func EventFor(p *Position, fill events.OrderFilled, opened bool, eventID model.UUID4, tsInit model.UnixNanos) Event {
	switch {
	case opened:
		return NewOpened(p, fill, eventID, tsInit)
	case p.IsClosed():
		return NewClosed(p, fill, eventID, tsInit)
	default:
		return NewChanged(p, fill, eventID, tsInit)
	}
}

// Snapshot is the published view of a position.
type Snapshot struct {
	EventFields
	PeakQuantity  decimal.Decimal        `json:"peak_quantity"`
	AvgPxClose    *decimal.Decimal       `json:"avg_px_close,omitempty"`
	RealizedPnL   model.Money            `json:"realized_pnl"`
	Commissions   map[string]model.Money `json:"commissions"`
	TsOpened      model.UnixNanos        `json:"ts_opened"`
	TsClosed      model.UnixNanos        `json:"ts_closed"`
	TradeCount    int                    `json:"trade_count"`
	LastTradeSide model.OrderSide        `json:"last_trade_side"`
}

// Snapshot captures the current state for publication on positions.snapshots.
func (p *Position) Snapshot(tsInit model.UnixNanos) Snapshot {
	last := p.LastFill()
	return Snapshot{
		EventFields:   fieldsOf(p, last, model.NewUUID4(), tsInit),
		PeakQuantity:  p.peakQty,
		AvgPxClose:    p.avgPxClose,
		RealizedPnL:   p.realizedPnL,
		Commissions:   p.Commissions(),
		TsOpened:      p.tsOpened,
		TsClosed:      p.tsClosed,
		TradeCount:    len(p.fills),
		LastTradeSide: last.Side,
	}
}
