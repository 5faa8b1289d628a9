package backtest

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
)

// workingOrder is the exchange's copy of an accepted order. The original
// order belongs to the execution engine and is never mutated here.
type workingOrder struct {
	order        orders.Order
	venueOrderID model.VenueOrderID
	side         model.OrderSide
	orderType    model.OrderType
	tif          model.TimeInForce
	expireTime   model.UnixNanos
	postOnly     bool
	qty          decimal.Decimal
	filled       decimal.Decimal
	price        *decimal.Decimal
	trigger      *decimal.Decimal
	triggerType  model.TriggerType
	triggered    bool

	limitOffset        *decimal.Decimal
	trailingOffset     decimal.Decimal
	trailingOffsetType model.TrailingOffsetType

	seq uint64
}

func newWorkingOrder(o orders.Order, vid model.VenueOrderID, seq uint64) *workingOrder {
	init := o.InitEvent()
	w := &workingOrder{
		order:        o,
		venueOrderID: vid,
		side:         o.Side(),
		orderType:    o.OrderType(),
		tif:          o.TimeInForce(),
		expireTime:   o.ExpireTime(),
		postOnly:     o.IsPostOnly(),
		qty:          o.Quantity(),
		filled:       o.FilledQty(),
		price:        o.Price(),
		trigger:      o.TriggerPrice(),
		triggerType:  o.TriggerType(),
		triggered:    o.IsTriggered(),
		limitOffset:  init.LimitOffset,
		seq:          seq,
	}
	if init.TrailingOffset != nil {
		w.trailingOffset = *init.TrailingOffset
		w.trailingOffsetType = init.TrailingOffsetType
	}
	return w
}

func (w *workingOrder) id() model.ClientOrderID { return w.order.ClientOrderID() }
func (w *workingOrder) leaves() decimal.Decimal { return w.qty.Sub(w.filled) }
func (w *workingOrder) isBuy() bool             { return w.side == model.OrderSideBuy }

// isStop reports whether the order fires on the market moving through its
// trigger, as opposed to if-touched orders that fire on a pullback.
func (w *workingOrder) isStop() bool {
	switch w.orderType {
	case model.OrderTypeStopMarket, model.OrderTypeStopLimit,
		model.OrderTypeTrailingStopMarket, model.OrderTypeTrailingStopLimit:
		return true
	}
	return false
}

func (w *workingOrder) isTrailing() bool {
	return w.orderType == model.OrderTypeTrailingStopMarket || w.orderType == model.OrderTypeTrailingStopLimit
}

func (w *workingOrder) isConditional() bool {
	return w.orderType != model.OrderTypeMarket && w.orderType != model.OrderTypeLimit
}

// restsAsLimit reports whether the order currently behaves as a passive limit.
func (w *workingOrder) restsAsLimit() bool {
	switch w.orderType {
	case model.OrderTypeLimit:
		return true
	case model.OrderTypeStopLimit, model.OrderTypeLimitIfTouched, model.OrderTypeTrailingStopLimit:
		return w.triggered
	}
	return false
}

func (w *workingOrder) priorityPrice() decimal.Decimal {
	if w.restsAsLimit() && w.price != nil {
		return *w.price
	}
	if w.trigger != nil {
		return *w.trigger
	}
	return decimal.Zero
}

// orderBook holds one instrument's working orders in price-time priority.
type orderBook struct {
	bids []*workingOrder
	asks []*workingOrder
}

func newOrderBook() *orderBook {
	return &orderBook{
		bids: make([]*workingOrder, 0),
		asks: make([]*workingOrder, 0),
	}
}

func (ob *orderBook) add(w *workingOrder) {
	switch w.side {
	case model.OrderSideBuy:
		ob.bids = append(ob.bids, w)
		ob.sortSide(model.OrderSideBuy)
	case model.OrderSideSell:
		ob.asks = append(ob.asks, w)
		ob.sortSide(model.OrderSideSell)
	}
}

// sortSide reorders one side after a price change: bids high to low, asks low
// to high, then by arrival.
func (ob *orderBook) sortSide(side model.OrderSide) {
	list := ob.asks
	if side == model.OrderSideBuy {
		list = ob.bids
	}
	sort.SliceStable(list, func(i, j int) bool {
		pi, pj := list[i].priorityPrice(), list[j].priorityPrice()
		if !pi.Equal(pj) {
			if side == model.OrderSideBuy {
				return pi.GreaterThan(pj)
			}
			return pi.LessThan(pj)
		}
		return list[i].seq < list[j].seq
	})
}

func (ob *orderBook) remove(id model.ClientOrderID) (*workingOrder, bool) {
	for i, w := range ob.bids {
		if w.id() == id {
			ob.bids = append(ob.bids[:i], ob.bids[i+1:]...)
			return w, true
		}
	}
	for i, w := range ob.asks {
		if w.id() == id {
			ob.asks = append(ob.asks[:i], ob.asks[i+1:]...)
			return w, true
		}
	}
	return nil, false
}

func (ob *orderBook) find(id model.ClientOrderID, vid model.VenueOrderID) (*workingOrder, bool) {
	for _, w := range ob.all() {
		if (id != "" && w.id() == id) || (vid != "" && w.venueOrderID == vid) {
			return w, true
		}
	}
	return nil, false
}

// all returns a copy of the working orders, bids first, safe to iterate
// while the book is modified.
func (ob *orderBook) all() []*workingOrder {
	out := make([]*workingOrder, 0, len(ob.bids)+len(ob.asks))
	out = append(out, ob.bids...)
	return append(out, ob.asks...)
}

func (ob *orderBook) len() int { return len(ob.bids) + len(ob.asks) }
