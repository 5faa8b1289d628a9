package orders

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/model"
)

// Snapshot is the published view of an order.
type Snapshot struct {
	TraderID      model.TraderID         `json:"trader_id"`
	StrategyID    model.StrategyID       `json:"strategy_id"`
	InstrumentID  model.InstrumentID     `json:"instrument_id"`
	ClientOrderID model.ClientOrderID    `json:"client_order_id"`
	VenueOrderID  model.VenueOrderID     `json:"venue_order_id,omitempty"`
	PositionID    model.PositionID       `json:"position_id,omitempty"`
	AccountID     model.AccountID        `json:"account_id,omitempty"`
	Side          model.OrderSide        `json:"order_side"`
	OrderType     model.OrderType        `json:"order_type"`
	Status        model.OrderStatus      `json:"status"`
	TimeInForce   model.TimeInForce      `json:"time_in_force"`
	Quantity      decimal.Decimal        `json:"quantity"`
	FilledQty     decimal.Decimal        `json:"filled_qty"`
	LeavesQty     decimal.Decimal        `json:"leaves_qty"`
	Price         *decimal.Decimal       `json:"price,omitempty"`
	TriggerPrice  *decimal.Decimal       `json:"trigger_price,omitempty"`
	AvgPx         *decimal.Decimal       `json:"avg_px,omitempty"`
	Slippage      *decimal.Decimal       `json:"slippage,omitempty"`
	Commissions   map[string]model.Money `json:"commissions,omitempty"`
	EventCount    int                    `json:"event_count"`
	TsLast        model.UnixNanos        `json:"ts_last"`
	TsInit        model.UnixNanos        `json:"ts_init"`
}

// SnapshotOf captures o for publication on order.snapshots.
func SnapshotOf(o Order, tsInit model.UnixNanos) Snapshot {
	c := o.Core()
	return Snapshot{
		TraderID:      o.TraderID(),
		StrategyID:    o.StrategyID(),
		InstrumentID:  o.InstrumentID(),
		ClientOrderID: o.ClientOrderID(),
		VenueOrderID:  o.VenueOrderID(),
		PositionID:    o.PositionID(),
		AccountID:     o.AccountID(),
		Side:          o.Side(),
		OrderType:     o.OrderType(),
		Status:        o.Status(),
		TimeInForce:   o.TimeInForce(),
		Quantity:      o.Quantity(),
		FilledQty:     o.FilledQty(),
		LeavesQty:     o.LeavesQty(),
		Price:         o.Price(),
		TriggerPrice:  o.TriggerPrice(),
		AvgPx:         o.AvgPx(),
		Slippage:      o.Slippage(),
		Commissions:   c.Commissions(),
		EventCount:    len(c.events),
		TsLast:        o.TsLast(),
		TsInit:        tsInit,
	}
}
