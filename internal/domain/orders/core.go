// Package orders implements the order types and their event-sourced state machine.
package orders

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

// Order is the behaviour shared by every order type.
type Order interface {
	Core() *OrderCore
	Apply(ev events.OrderEvent) error

	TraderID() model.TraderID
	StrategyID() model.StrategyID
	InstrumentID() model.InstrumentID
	ClientOrderID() model.ClientOrderID
	VenueOrderID() model.VenueOrderID
	PositionID() model.PositionID
	AccountID() model.AccountID
	Side() model.OrderSide
	OrderType() model.OrderType
	Status() model.OrderStatus
	TimeInForce() model.TimeInForce
	ExpireTime() model.UnixNanos
	Quantity() decimal.Decimal
	FilledQty() decimal.Decimal
	LeavesQty() decimal.Decimal
	DisplayQty() *decimal.Decimal
	AvgPx() *decimal.Decimal
	Slippage() *decimal.Decimal
	IsReduceOnly() bool
	IsPostOnly() bool
	IsOpen() bool
	IsClosed() bool
	IsInflight() bool
	Events() []events.OrderEvent
	InitEvent() events.OrderInitialized
	TsLast() model.UnixNanos

	Price() *decimal.Decimal
	TriggerPrice() *decimal.Decimal
	TriggerType() model.TriggerType
	IsTriggered() bool
}

// OrderCore holds the identity and mutable state common to all order types.
// State changes only through Apply on the concrete order.
type OrderCore struct {
	init          events.OrderInitialized
	events        []events.OrderEvent
	status        model.OrderStatus
	previous      model.OrderStatus
	beforePending model.OrderStatus

	venueOrderID  model.VenueOrderID
	venueOrderIDs []model.VenueOrderID
	positionID    model.PositionID
	accountID     model.AccountID
	lastTradeID   model.TradeID
	tradeIDs      []model.TradeID
	liquiditySide model.LiquiditySide
	quantity      decimal.Decimal
	filledQty     decimal.Decimal
	leavesQty     decimal.Decimal
	avgPx         *decimal.Decimal
	slippage      *decimal.Decimal
	commissions   map[string]model.Money

	tsSubmitted model.UnixNanos
	tsAccepted  model.UnixNanos
	tsClosed    model.UnixNanos
	tsLast      model.UnixNanos
}

func newOrderCore(init events.OrderInitialized) *OrderCore {
	return &OrderCore{
		init:        init,
		events:      []events.OrderEvent{init},
		status:      model.OrderStatusInitialized,
		quantity:    init.Quantity,
		filledQty:   decimal.Zero,
		leavesQty:   init.Quantity,
		commissions: make(map[string]model.Money),
		tsLast:      init.TsInit,
	}
}

func (c *OrderCore) Core() *OrderCore { return c }

func (c *OrderCore) TraderID() model.TraderID           { return c.init.TraderID }
func (c *OrderCore) StrategyID() model.StrategyID       { return c.init.StrategyID }
func (c *OrderCore) InstrumentID() model.InstrumentID   { return c.init.InstrumentID }
func (c *OrderCore) ClientOrderID() model.ClientOrderID { return c.init.ClientOrderID }
func (c *OrderCore) VenueOrderID() model.VenueOrderID   { return c.venueOrderID }
func (c *OrderCore) PositionID() model.PositionID       { return c.positionID }
func (c *OrderCore) AccountID() model.AccountID         { return c.accountID }
func (c *OrderCore) LastTradeID() model.TradeID         { return c.lastTradeID }
func (c *OrderCore) Side() model.OrderSide              { return c.init.Side }
func (c *OrderCore) OrderType() model.OrderType         { return c.init.OrderType }
func (c *OrderCore) Status() model.OrderStatus          { return c.status }
func (c *OrderCore) PreviousStatus() model.OrderStatus  { return c.previous }
func (c *OrderCore) TimeInForce() model.TimeInForce     { return c.init.TimeInForce }
func (c *OrderCore) ExpireTime() model.UnixNanos        { return c.init.ExpireTime }
func (c *OrderCore) Quantity() decimal.Decimal          { return c.quantity }
func (c *OrderCore) FilledQty() decimal.Decimal         { return c.filledQty }
func (c *OrderCore) LeavesQty() decimal.Decimal         { return c.leavesQty }
func (c *OrderCore) DisplayQty() *decimal.Decimal       { return c.init.DisplayQty }
func (c *OrderCore) AvgPx() *decimal.Decimal            { return c.avgPx }
func (c *OrderCore) Slippage() *decimal.Decimal         { return c.slippage }
func (c *OrderCore) LiquiditySide() model.LiquiditySide { return c.liquiditySide }
func (c *OrderCore) IsReduceOnly() bool                 { return c.init.ReduceOnly }
func (c *OrderCore) IsPostOnly() bool                   { return c.init.PostOnly }
func (c *OrderCore) InitEvent() events.OrderInitialized { return c.init }
func (c *OrderCore) TsSubmitted() model.UnixNanos       { return c.tsSubmitted }
func (c *OrderCore) TsAccepted() model.UnixNanos        { return c.tsAccepted }
func (c *OrderCore) TsClosed() model.UnixNanos          { return c.tsClosed }
func (c *OrderCore) TsLast() model.UnixNanos            { return c.tsLast }
func (c *OrderCore) TsInit() model.UnixNanos            { return c.init.TsInit }
func (c *OrderCore) ParentOrderID() model.ClientOrderID { return c.init.ParentOrderID }
func (c *OrderCore) OrderListID() model.OrderListID     { return c.init.OrderListID }

// Events returns a copy of the event log, oldest first.
func (c *OrderCore) Events() []events.OrderEvent {
	out := make([]events.OrderEvent, len(c.events))
	copy(out, c.events)
	return out
}

// LastEvent returns the most recently applied event.
func (c *OrderCore) LastEvent() events.OrderEvent {
	return c.events[len(c.events)-1]
}

// TradeIDs returns the executions applied so far.
func (c *OrderCore) TradeIDs() []model.TradeID {
	return append([]model.TradeID(nil), c.tradeIDs...)
}

// Commissions returns total commission per currency.
func (c *OrderCore) Commissions() map[string]model.Money {
	out := make(map[string]model.Money, len(c.commissions))
	for k, v := range c.commissions {
		out[k] = v
	}
	return out
}

// IsBuy reports whether the order buys.
func (c *OrderCore) IsBuy() bool { return c.init.Side == model.OrderSideBuy }

// IsOpen reports whether the order is working at the venue.
func (c *OrderCore) IsOpen() bool {
	switch c.status {
	case model.OrderStatusAccepted, model.OrderStatusTriggered, model.OrderStatusPendingUpdate,
		model.OrderStatusPendingCancel, model.OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// IsClosed reports whether the order reached a terminal status.
func (c *OrderCore) IsClosed() bool { return IsClosedStatus(c.status) }

// IsInflight reports whether the order awaits a venue response.
func (c *OrderCore) IsInflight() bool {
	switch c.status {
	case model.OrderStatusSubmitted, model.OrderStatusPendingUpdate, model.OrderStatusPendingCancel:
		return true
	}
	return false
}

// SignedQty returns the quantity signed by side.
func (c *OrderCore) SignedQty() decimal.Decimal {
	if c.IsBuy() {
		return c.quantity
	}
	return c.quantity.Neg()
}

// WouldReduceOnly reports whether executing the full leaves quantity would only reduce a position.
func (c *OrderCore) WouldReduceOnly(side model.PositionSide, positionQty decimal.Decimal) bool {
	switch side {
	case model.PositionSideLong:
		return !c.IsBuy() && c.leavesQty.LessThanOrEqual(positionQty)
	case model.PositionSideShort:
		return c.IsBuy() && c.leavesQty.LessThanOrEqual(positionQty)
	}
	return false
}

// SetPositionID assigns the position id chosen by the execution engine.
func (c *OrderCore) SetPositionID(id model.PositionID) { c.positionID = id }

func (c *OrderCore) updateQuantity(qty decimal.Decimal) {
	c.quantity = qty
	c.leavesQty = qty.Sub(c.filledQty)
}

// apply runs the status transition then folds the event into the core fields.
func (c *OrderCore) apply(ev events.OrderEvent) error {
	if ev == nil {
		return errs.New("orders", errs.CodeInvalid, errs.WithMessage("nil order event"))
	}
	if id := ev.Header().ClientOrderID; id != c.init.ClientOrderID {
		return errs.New("orders", errs.CodeInvalid,
			errs.WithMessage("event client_order_id mismatch"),
			errs.WithField("client_order_id", c.init.ClientOrderID.String()),
			errs.WithField("event_client_order_id", id.String()))
	}
	if ev.Kind() == events.KindOrderInitialized {
		return invalidTransition(c.init.ClientOrderID, c.status, ev)
	}

	next, err := c.nextStatus(ev)
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case events.OrderDenied:
		c.tsClosed = e.TsEvent
	case events.OrderSubmitted:
		c.accountID = e.AccountID
		c.tsSubmitted = e.TsEvent
	case events.OrderAccepted:
		c.setVenueOrderID(e.VenueOrderID)
		c.accountID = e.AccountID
		c.tsAccepted = e.TsEvent
	case events.OrderRejected, events.OrderCanceled, events.OrderExpired:
		c.tsClosed = ev.Header().TsEvent
	case events.OrderUpdated:
		c.setVenueOrderID(e.VenueOrderID)
	case events.OrderFilled:
		c.applyFill(e)
		if c.leavesQty.IsPositive() {
			next = model.OrderStatusPartiallyFilled
		} else {
			next = model.OrderStatusFilled
			c.tsClosed = e.TsEvent
		}
	}

	if next != c.status {
		if (next == model.OrderStatusPendingUpdate || next == model.OrderStatusPendingCancel) &&
			c.status != model.OrderStatusPendingUpdate && c.status != model.OrderStatusPendingCancel {
			c.beforePending = c.status
		}
		c.previous = c.status
		c.status = next
	}
	c.tsLast = ev.Header().TsEvent
	c.events = append(c.events, ev)
	return nil
}

func (c *OrderCore) nextStatus(ev events.OrderEvent) (model.OrderStatus, error) {
	switch ev.Kind() {
	case events.KindOrderUpdated:
		if c.IsClosed() {
			return "", invalidTransition(c.init.ClientOrderID, c.status, ev)
		}
		if c.status == model.OrderStatusPendingUpdate {
			return c.restoreFromPending(), nil
		}
		return c.status, nil
	case events.KindOrderModifyRejected, events.KindOrderCancelRejected:
		if c.IsClosed() {
			return "", invalidTransition(c.init.ClientOrderID, c.status, ev)
		}
		if c.status == model.OrderStatusPendingUpdate || c.status == model.OrderStatusPendingCancel {
			return c.restoreFromPending(), nil
		}
		return c.status, nil
	}

	fill, isFill := ev.(events.OrderFilled)
	filledAfter := isFill && !c.leavesQty.Sub(fill.LastQty).IsPositive()
	target, ok := targetStatus(ev, filledAfter)
	if !ok || !CanTransition(c.status, target) {
		return "", invalidTransition(c.init.ClientOrderID, c.status, ev)
	}
	return target, nil
}

func (c *OrderCore) restoreFromPending() model.OrderStatus {
	if c.beforePending == "" {
		return model.OrderStatusAccepted
	}
	return c.beforePending
}

func (c *OrderCore) setVenueOrderID(id model.VenueOrderID) {
	if id == "" || id == c.venueOrderID {
		return
	}
	c.venueOrderID = id
	c.venueOrderIDs = append(c.venueOrderIDs, id)
}

func (c *OrderCore) applyFill(fill events.OrderFilled) {
	c.setVenueOrderID(fill.VenueOrderID)
	if fill.AccountID != "" {
		c.accountID = fill.AccountID
	}
	if fill.PositionID != "" {
		c.positionID = fill.PositionID
	}
	c.tradeIDs = append(c.tradeIDs, fill.TradeID)
	c.lastTradeID = fill.TradeID
	c.liquiditySide = fill.LiquiditySide

	prevFilled := c.filledQty
	c.filledQty = c.filledQty.Add(fill.LastQty)
	c.leavesQty = c.quantity.Sub(c.filledQty)

	avg := fill.LastPx
	if c.avgPx != nil && prevFilled.IsPositive() {
		notional := c.avgPx.Mul(prevFilled).Add(fill.LastPx.Mul(fill.LastQty))
		avg = notional.Div(c.filledQty)
	}
	c.avgPx = &avg

	if fill.Commission != nil {
		cur := fill.Commission.Currency
		total, ok := c.commissions[cur]
		if !ok {
			total = model.NewMoney(decimal.Zero, cur)
		}
		c.commissions[cur] = total.Add(*fill.Commission)
	}
}

// setSlippage records the adverse difference between the average fill price and ref.
// Favourable or missing prices leave slippage unset.
func (c *OrderCore) setSlippage(ref *decimal.Decimal) {
	if ref == nil || c.avgPx == nil {
		return
	}
	var diff decimal.Decimal
	if c.IsBuy() {
		diff = c.avgPx.Sub(*ref)
	} else {
		diff = ref.Sub(*c.avgPx)
	}
	if diff.IsPositive() {
		c.slippage = &diff
		return
	}
	c.slippage = nil
}

// applyWith runs the shared apply sequence: type update, core transition, then slippage on fills.
func applyWith(c *OrderCore, ev events.OrderEvent, update func(events.OrderUpdated), ref func() *decimal.Decimal) error {
	if u, ok := ev.(events.OrderUpdated); ok {
		if c.IsClosed() {
			return invalidTransition(c.init.ClientOrderID, c.status, ev)
		}
		update(u)
	}
	if err := c.apply(ev); err != nil {
		return err
	}
	if ev.Kind() == events.KindOrderFilled {
		c.setSlippage(ref())
	}
	return nil
}
