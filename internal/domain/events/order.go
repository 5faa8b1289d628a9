// Package events defines the order and account events emitted by venues and the execution engine.
package events

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/model"
)

// OrderEventKind names the concrete order event type.
type OrderEventKind string

const (
	KindOrderInitialized    OrderEventKind = "OrderInitialized"
	KindOrderDenied         OrderEventKind = "OrderDenied"
	KindOrderEmulated       OrderEventKind = "OrderEmulated"
	KindOrderReleased       OrderEventKind = "OrderReleased"
	KindOrderSubmitted      OrderEventKind = "OrderSubmitted"
	KindOrderAccepted       OrderEventKind = "OrderAccepted"
	KindOrderRejected       OrderEventKind = "OrderRejected"
	KindOrderCanceled       OrderEventKind = "OrderCanceled"
	KindOrderExpired        OrderEventKind = "OrderExpired"
	KindOrderTriggered      OrderEventKind = "OrderTriggered"
	KindOrderPendingUpdate  OrderEventKind = "OrderPendingUpdate"
	KindOrderPendingCancel  OrderEventKind = "OrderPendingCancel"
	KindOrderModifyRejected OrderEventKind = "OrderModifyRejected"
	KindOrderCancelRejected OrderEventKind = "OrderCancelRejected"
	KindOrderUpdated        OrderEventKind = "OrderUpdated"
	KindOrderFilled         OrderEventKind = "OrderFilled"
)

// OrderEvent is implemented by every order event.
type OrderEvent interface {
	Kind() OrderEventKind
	Header() OrderEventHeader
}

// OrderEventHeader carries the identity shared by all order events.
type OrderEventHeader struct {
	TraderID      model.TraderID      `json:"trader_id"`
	StrategyID    model.StrategyID    `json:"strategy_id"`
	InstrumentID  model.InstrumentID  `json:"instrument_id"`
	ClientOrderID model.ClientOrderID `json:"client_order_id"`
	EventID       model.UUID4         `json:"event_id"`
	TsEvent       model.UnixNanos     `json:"ts_event"`
	TsInit        model.UnixNanos     `json:"ts_init"`
}

// Header returns the shared identity.
func (h OrderEventHeader) Header() OrderEventHeader { return h }

// VenueFields are carried by events that originate at, or are routed through, a venue.
type VenueFields struct {
	VenueOrderID model.VenueOrderID `json:"venue_order_id,omitempty"`
	AccountID    model.AccountID    `json:"account_id,omitempty"`
}

// OrderInitialized is the first event of every order and carries its full specification.
type OrderInitialized struct {
	OrderEventHeader
	Side                model.OrderSide          `json:"order_side"`
	OrderType           model.OrderType          `json:"order_type"`
	Quantity            decimal.Decimal          `json:"quantity"`
	TimeInForce         model.TimeInForce        `json:"time_in_force"`
	PostOnly            bool                     `json:"post_only"`
	ReduceOnly          bool                     `json:"reduce_only"`
	QuoteQuantity       bool                     `json:"quote_quantity"`
	Reconciliation      bool                     `json:"reconciliation"`
	Price               *decimal.Decimal         `json:"price,omitempty"`
	TriggerPrice        *decimal.Decimal         `json:"trigger_price,omitempty"`
	TriggerType         model.TriggerType        `json:"trigger_type,omitempty"`
	LimitOffset         *decimal.Decimal         `json:"limit_offset,omitempty"`
	TrailingOffset      *decimal.Decimal         `json:"trailing_offset,omitempty"`
	TrailingOffsetType  model.TrailingOffsetType `json:"trailing_offset_type,omitempty"`
	ExpireTime          model.UnixNanos          `json:"expire_time,omitempty"`
	DisplayQty          *decimal.Decimal         `json:"display_qty,omitempty"`
	EmulationTrigger    model.TriggerType        `json:"emulation_trigger,omitempty"`
	TriggerInstrumentID *model.InstrumentID      `json:"trigger_instrument_id,omitempty"`
	ContingencyType     model.ContingencyType    `json:"contingency_type,omitempty"`
	OrderListID         model.OrderListID        `json:"order_list_id,omitempty"`
	LinkedOrderIDs      []model.ClientOrderID    `json:"linked_order_ids,omitempty"`
	ParentOrderID       model.ClientOrderID      `json:"parent_order_id,omitempty"`
	ExecAlgorithmID     model.ExecAlgorithmID    `json:"exec_algorithm_id,omitempty"`
	ExecAlgorithmParams map[string]string        `json:"exec_algorithm_params,omitempty"`
	Tags                []string                 `json:"tags,omitempty"`
}

// OrderDenied is emitted when a pre-trade check refuses the order locally.
type OrderDenied struct {
	OrderEventHeader
	Reason string `json:"reason"`
}

// OrderEmulated marks an order held by the local emulator.
type OrderEmulated struct {
	OrderEventHeader
}

// OrderReleased marks an emulated order released to the venue.
type OrderReleased struct {
	OrderEventHeader
	ReleasedPrice decimal.Decimal `json:"released_price"`
}

// OrderSubmitted is emitted when the order leaves for the venue.
type OrderSubmitted struct {
	OrderEventHeader
	AccountID model.AccountID `json:"account_id"`
}

// OrderAccepted is emitted when the venue acknowledges the order.
type OrderAccepted struct {
	OrderEventHeader
	VenueFields
}

// OrderRejected is emitted when the venue refuses the order.
type OrderRejected struct {
	OrderEventHeader
	AccountID     model.AccountID `json:"account_id"`
	Reason        string          `json:"reason"`
	DueToPostOnly bool            `json:"due_post_only"`
}

// OrderCanceled is emitted when the order is canceled.
type OrderCanceled struct {
	OrderEventHeader
	VenueFields
}

// OrderExpired is emitted when the order reaches its expiry.
type OrderExpired struct {
	OrderEventHeader
	VenueFields
}

// OrderTriggered is emitted when a stop-limit style order converts to a working limit.
type OrderTriggered struct {
	OrderEventHeader
	VenueFields
}

// OrderPendingUpdate is emitted when a modify is in flight.
type OrderPendingUpdate struct {
	OrderEventHeader
	VenueFields
}

// OrderPendingCancel is emitted when a cancel is in flight.
type OrderPendingCancel struct {
	OrderEventHeader
	VenueFields
}

// OrderModifyRejected is emitted when the venue refuses a modify.
type OrderModifyRejected struct {
	OrderEventHeader
	VenueFields
	Reason string `json:"reason"`
}

// OrderCancelRejected is emitted when the venue refuses a cancel.
type OrderCancelRejected struct {
	OrderEventHeader
	VenueFields
	Reason string `json:"reason"`
}

// OrderUpdated is emitted when quantity or prices change.
type OrderUpdated struct {
	OrderEventHeader
	VenueFields
	Quantity     decimal.Decimal  `json:"quantity"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	TriggerPrice *decimal.Decimal `json:"trigger_price,omitempty"`
}

// OrderFilled is emitted for every execution.
type OrderFilled struct {
	OrderEventHeader
	VenueFields
	TradeID       model.TradeID       `json:"trade_id"`
	PositionID    model.PositionID    `json:"position_id,omitempty"`
	Side          model.OrderSide     `json:"order_side"`
	OrderType     model.OrderType     `json:"order_type"`
	LastQty       decimal.Decimal     `json:"last_qty"`
	LastPx        decimal.Decimal     `json:"last_px"`
	Currency      string              `json:"currency"`
	Commission    *model.Money        `json:"commission,omitempty"`
	LiquiditySide model.LiquiditySide `json:"liquidity_side"`
}

// IsBuy reports whether the fill bought.
func (f OrderFilled) IsBuy() bool { return f.Side == model.OrderSideBuy }

// SignedQty returns LastQty signed by side.
func (f OrderFilled) SignedQty() decimal.Decimal {
	if f.IsBuy() {
		return f.LastQty
	}
	return f.LastQty.Neg()
}

func (OrderInitialized) Kind() OrderEventKind    { return KindOrderInitialized }
func (OrderDenied) Kind() OrderEventKind         { return KindOrderDenied }
func (OrderEmulated) Kind() OrderEventKind       { return KindOrderEmulated }
func (OrderReleased) Kind() OrderEventKind       { return KindOrderReleased }
func (OrderSubmitted) Kind() OrderEventKind      { return KindOrderSubmitted }
func (OrderAccepted) Kind() OrderEventKind       { return KindOrderAccepted }
func (OrderRejected) Kind() OrderEventKind       { return KindOrderRejected }
func (OrderCanceled) Kind() OrderEventKind       { return KindOrderCanceled }
func (OrderExpired) Kind() OrderEventKind        { return KindOrderExpired }
func (OrderTriggered) Kind() OrderEventKind      { return KindOrderTriggered }
func (OrderPendingUpdate) Kind() OrderEventKind  { return KindOrderPendingUpdate }
func (OrderPendingCancel) Kind() OrderEventKind  { return KindOrderPendingCancel }
func (OrderModifyRejected) Kind() OrderEventKind { return KindOrderModifyRejected }
func (OrderCancelRejected) Kind() OrderEventKind { return KindOrderCancelRejected }
func (OrderUpdated) Kind() OrderEventKind        { return KindOrderUpdated }
func (OrderFilled) Kind() OrderEventKind         { return KindOrderFilled }

// VenueOrderIDOf returns the venue order id carried by ev, if any.
func VenueOrderIDOf(ev OrderEvent) model.VenueOrderID {
	if v, ok := ev.(interface{ venueFields() VenueFields }); ok {
		return v.venueFields().VenueOrderID
	}
	return ""
}

// AccountIDOf returns the account id carried by ev, if any.
func AccountIDOf(ev OrderEvent) model.AccountID {
	switch e := ev.(type) {
	case OrderSubmitted:
		return e.AccountID
	case OrderRejected:
		return e.AccountID
	}
	if v, ok := ev.(interface{ venueFields() VenueFields }); ok {
		return v.venueFields().AccountID
	}
	return ""
}

func (v VenueFields) venueFields() VenueFields { return v }
