package orders

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

func noRef() *decimal.Decimal { return nil }

// invalidUpdate panics: an update the order type cannot carry is a venue protocol violation.
func invalidUpdate(c *OrderCore, field string) {
	panic(errs.New("orders", errs.CodeInvalid,
		errs.WithMessage("invalid order event: "+string(c.OrderType())+" order cannot update "+field),
		errs.WithField("client_order_id", c.ClientOrderID().String())))
}

// MarketOrder executes immediately at the best available price.
type MarketOrder struct {
	*OrderCore
}

// NewMarketChecked validates p and builds a market order.
func NewMarketChecked(p Params) (*MarketOrder, error) {
	p = p.withDefaults()
	if err := checkCommon(p); err != nil {
		return nil, err
	}
	if p.TimeInForce == model.TimeInForceGTD {
		return nil, invalid("`GTD` not supported for `Market` orders", p)
	}
	return &MarketOrder{OrderCore: newOrderCore(p.initialized(model.OrderTypeMarket))}, nil
}

// NewMarket is NewMarketChecked that panics on invalid params.
func NewMarket(p Params) *MarketOrder { return mustBuild(NewMarketChecked(p)) }

func (o *MarketOrder) Price() *decimal.Decimal        { return nil }
func (o *MarketOrder) TriggerPrice() *decimal.Decimal { return nil }
func (o *MarketOrder) TriggerType() model.TriggerType { return model.TriggerTypeNone }
func (o *MarketOrder) IsTriggered() bool              { return false }

// Apply folds ev into the order.
func (o *MarketOrder) Apply(ev events.OrderEvent) error {
	return applyWith(o.OrderCore, ev, o.update, noRef)
}

func (o *MarketOrder) update(ev events.OrderUpdated) {
	if ev.Price != nil {
		invalidUpdate(o.OrderCore, "price")
	}
	if ev.TriggerPrice != nil {
		invalidUpdate(o.OrderCore, "trigger_price")
	}
	o.updateQuantity(ev.Quantity)
}

// LimitOrder rests at a limit price.
type LimitOrder struct {
	*OrderCore
	price decimal.Decimal
}

// NewLimitChecked validates p and builds a limit order.
func NewLimitChecked(p Params) (*LimitOrder, error) {
	p = p.withDefaults()
	if err := checkCommon(p); err != nil {
		return nil, err
	}
	if err := checkPositivePrice(p.Price, "price", p); err != nil {
		return nil, err
	}
	return &LimitOrder{OrderCore: newOrderCore(p.initialized(model.OrderTypeLimit)), price: *p.Price}, nil
}

// NewLimit is NewLimitChecked that panics on invalid params.
func NewLimit(p Params) *LimitOrder { return mustBuild(NewLimitChecked(p)) }

func (o *LimitOrder) Price() *decimal.Decimal        { return clonePrice(&o.price) }
func (o *LimitOrder) TriggerPrice() *decimal.Decimal { return nil }
func (o *LimitOrder) TriggerType() model.TriggerType { return model.TriggerTypeNone }
func (o *LimitOrder) IsTriggered() bool              { return false }

// Apply folds ev into the order.
func (o *LimitOrder) Apply(ev events.OrderEvent) error {
	return applyWith(o.OrderCore, ev, o.update, func() *decimal.Decimal { return &o.price })
}

func (o *LimitOrder) update(ev events.OrderUpdated) {
	if ev.TriggerPrice != nil {
		invalidUpdate(o.OrderCore, "trigger_price")
	}
	if ev.Price != nil {
		o.price = *ev.Price
	}
	o.updateQuantity(ev.Quantity)
}

// StopMarketOrder becomes a market order once the trigger price trades.
type StopMarketOrder struct {
	*OrderCore
	triggerPrice decimal.Decimal
	triggerType  model.TriggerType
}

// NewStopMarketChecked validates p and builds a stop-market order.
func NewStopMarketChecked(p Params) (*StopMarketOrder, error) {
	p = p.withDefaults()
	if err := checkCommon(p); err != nil {
		return nil, err
	}
	if err := checkPositivePrice(p.TriggerPrice, "trigger_price", p); err != nil {
		return nil, err
	}
	return &StopMarketOrder{
		OrderCore:    newOrderCore(p.initialized(model.OrderTypeStopMarket)),
		triggerPrice: *p.TriggerPrice,
		triggerType:  defaultTrigger(p.TriggerType),
	}, nil
}

// NewStopMarket is NewStopMarketChecked that panics on invalid params.
func NewStopMarket(p Params) *StopMarketOrder { return mustBuild(NewStopMarketChecked(p)) }

func (o *StopMarketOrder) Price() *decimal.Decimal        { return nil }
func (o *StopMarketOrder) TriggerPrice() *decimal.Decimal { return clonePrice(&o.triggerPrice) }
func (o *StopMarketOrder) TriggerType() model.TriggerType { return o.triggerType }
func (o *StopMarketOrder) IsTriggered() bool              { return false }

// Apply folds ev into the order.
func (o *StopMarketOrder) Apply(ev events.OrderEvent) error {
	return applyWith(o.OrderCore, ev, o.update, func() *decimal.Decimal { return &o.triggerPrice })
}

func (o *StopMarketOrder) update(ev events.OrderUpdated) {
	if ev.Price != nil {
		invalidUpdate(o.OrderCore, "price")
	}
	if ev.TriggerPrice != nil {
		o.triggerPrice = *ev.TriggerPrice
	}
	o.updateQuantity(ev.Quantity)
}

// StopLimitOrder becomes a limit order once the trigger price trades.
type StopLimitOrder struct {
	*OrderCore
	price        decimal.Decimal
	triggerPrice decimal.Decimal
	triggerType  model.TriggerType
	triggered    bool
	tsTriggered  model.UnixNanos
}

// NewStopLimitChecked validates p and builds a stop-limit order.
func NewStopLimitChecked(p Params) (*StopLimitOrder, error) {
	p = p.withDefaults()
	if err := checkCommon(p); err != nil {
		return nil, err
	}
	if err := checkPositivePrice(p.Price, "price", p); err != nil {
		return nil, err
	}
	if err := checkPositivePrice(p.TriggerPrice, "trigger_price", p); err != nil {
		return nil, err
	}
	return &StopLimitOrder{
		OrderCore:    newOrderCore(p.initialized(model.OrderTypeStopLimit)),
		price:        *p.Price,
		triggerPrice: *p.TriggerPrice,
		triggerType:  defaultTrigger(p.TriggerType),
	}, nil
}

// NewStopLimit is NewStopLimitChecked that panics on invalid params.
func NewStopLimit(p Params) *StopLimitOrder { return mustBuild(NewStopLimitChecked(p)) }

func (o *StopLimitOrder) Price() *decimal.Decimal        { return clonePrice(&o.price) }
func (o *StopLimitOrder) TriggerPrice() *decimal.Decimal { return clonePrice(&o.triggerPrice) }
func (o *StopLimitOrder) TriggerType() model.TriggerType { return o.triggerType }
func (o *StopLimitOrder) IsTriggered() bool              { return o.triggered }
func (o *StopLimitOrder) TsTriggered() model.UnixNanos   { return o.tsTriggered }

// Apply folds ev into the order.
func (o *StopLimitOrder) Apply(ev events.OrderEvent) error {
	if err := applyWith(o.OrderCore, ev, o.update, func() *decimal.Decimal { return &o.price }); err != nil {
		return err
	}
	if t, ok := ev.(events.OrderTriggered); ok {
		o.triggered = true
		o.tsTriggered = t.TsEvent
	}
	return nil
}

func (o *StopLimitOrder) update(ev events.OrderUpdated) {
	if ev.Price != nil {
		o.price = *ev.Price
	}
	if ev.TriggerPrice != nil {
		o.triggerPrice = *ev.TriggerPrice
	}
	o.updateQuantity(ev.Quantity)
}

// MarketIfTouchedOrder becomes a market order once the trigger price is touched.
type MarketIfTouchedOrder struct {
	*OrderCore
	triggerPrice decimal.Decimal
	triggerType  model.TriggerType
}

// NewMarketIfTouchedChecked validates p and builds a market-if-touched order.
func NewMarketIfTouchedChecked(p Params) (*MarketIfTouchedOrder, error) {
	p = p.withDefaults()
	if err := checkCommon(p); err != nil {
		return nil, err
	}
	if err := checkPositivePrice(p.TriggerPrice, "trigger_price", p); err != nil {
		return nil, err
	}
	return &MarketIfTouchedOrder{
		OrderCore:    newOrderCore(p.initialized(model.OrderTypeMarketIfTouched)),
		triggerPrice: *p.TriggerPrice,
		triggerType:  defaultTrigger(p.TriggerType),
	}, nil
}

// NewMarketIfTouched is NewMarketIfTouchedChecked that panics on invalid params.
func NewMarketIfTouched(p Params) *MarketIfTouchedOrder {
	return mustBuild(NewMarketIfTouchedChecked(p))
}

func (o *MarketIfTouchedOrder) Price() *decimal.Decimal        { return nil }
func (o *MarketIfTouchedOrder) TriggerPrice() *decimal.Decimal { return clonePrice(&o.triggerPrice) }
func (o *MarketIfTouchedOrder) TriggerType() model.TriggerType { return o.triggerType }
func (o *MarketIfTouchedOrder) IsTriggered() bool              { return false }

// Apply folds ev into the order.
func (o *MarketIfTouchedOrder) Apply(ev events.OrderEvent) error {
	return applyWith(o.OrderCore, ev, o.update, func() *decimal.Decimal { return &o.triggerPrice })
}

func (o *MarketIfTouchedOrder) update(ev events.OrderUpdated) {
	if ev.Price != nil {
		invalidUpdate(o.OrderCore, "price")
	}
	if ev.TriggerPrice != nil {
		o.triggerPrice = *ev.TriggerPrice
	}
	o.updateQuantity(ev.Quantity)
}

// LimitIfTouchedOrder becomes a limit order once the trigger price is touched.
type LimitIfTouchedOrder struct {
	*OrderCore
	price        decimal.Decimal
	triggerPrice decimal.Decimal
	triggerType  model.TriggerType
	triggered    bool
	tsTriggered  model.UnixNanos
}

// NewLimitIfTouchedChecked validates p and builds a limit-if-touched order.
func NewLimitIfTouchedChecked(p Params) (*LimitIfTouchedOrder, error) {
	p = p.withDefaults()
	if err := checkCommon(p); err != nil {
		return nil, err
	}
	if err := checkPositivePrice(p.Price, "price", p); err != nil {
		return nil, err
	}
	if err := checkPositivePrice(p.TriggerPrice, "trigger_price", p); err != nil {
		return nil, err
	}
	return &LimitIfTouchedOrder{
		OrderCore:    newOrderCore(p.initialized(model.OrderTypeLimitIfTouched)),
		price:        *p.Price,
		triggerPrice: *p.TriggerPrice,
		triggerType:  defaultTrigger(p.TriggerType),
	}, nil
}

// NewLimitIfTouched is NewLimitIfTouchedChecked that panics on invalid params.
func NewLimitIfTouched(p Params) *LimitIfTouchedOrder { return mustBuild(NewLimitIfTouchedChecked(p)) }

func (o *LimitIfTouchedOrder) Price() *decimal.Decimal        { return clonePrice(&o.price) }
func (o *LimitIfTouchedOrder) TriggerPrice() *decimal.Decimal { return clonePrice(&o.triggerPrice) }
func (o *LimitIfTouchedOrder) TriggerType() model.TriggerType { return o.triggerType }
func (o *LimitIfTouchedOrder) IsTriggered() bool              { return o.triggered }

// Apply folds ev into the order.
func (o *LimitIfTouchedOrder) Apply(ev events.OrderEvent) error {
	if err := applyWith(o.OrderCore, ev, o.update, func() *decimal.Decimal { return &o.price }); err != nil {
		return err
	}
	if t, ok := ev.(events.OrderTriggered); ok {
		o.triggered = true
		o.tsTriggered = t.TsEvent
	}
	return nil
}

func (o *LimitIfTouchedOrder) update(ev events.OrderUpdated) {
	if ev.Price != nil {
		o.price = *ev.Price
	}
	if ev.TriggerPrice != nil {
		o.triggerPrice = *ev.TriggerPrice
	}
	o.updateQuantity(ev.Quantity)
}

// TrailingStopMarketOrder trails the market by an offset and fires as a market order.
type TrailingStopMarketOrder struct {
	*OrderCore
	triggerPrice       *decimal.Decimal
	triggerType        model.TriggerType
	trailingOffset     decimal.Decimal
	trailingOffsetType model.TrailingOffsetType
}

// NewTrailingStopMarketChecked validates p and builds a trailing stop-market order.
// The trigger price is optional; the venue computes it from the offset when absent.
func NewTrailingStopMarketChecked(p Params) (*TrailingStopMarketOrder, error) {
	p = p.withDefaults()
	if err := checkCommon(p); err != nil {
		return nil, err
	}
	if p.TriggerPrice != nil {
		if err := checkPositivePrice(p.TriggerPrice, "trigger_price", p); err != nil {
			return nil, err
		}
	}
	if err := checkTrailing(p); err != nil {
		return nil, err
	}
	return &TrailingStopMarketOrder{
		OrderCore:          newOrderCore(p.initialized(model.OrderTypeTrailingStopMarket)),
		triggerPrice:       clonePrice(p.TriggerPrice),
		triggerType:        defaultTrigger(p.TriggerType),
		trailingOffset:     *p.TrailingOffset,
		trailingOffsetType: p.TrailingOffsetType,
	}, nil
}

// NewTrailingStopMarket is NewTrailingStopMarketChecked that panics on invalid params.
func NewTrailingStopMarket(p Params) *TrailingStopMarketOrder {
	return mustBuild(NewTrailingStopMarketChecked(p))
}

func (o *TrailingStopMarketOrder) Price() *decimal.Decimal        { return nil }
func (o *TrailingStopMarketOrder) TriggerPrice() *decimal.Decimal { return clonePrice(o.triggerPrice) }
func (o *TrailingStopMarketOrder) TriggerType() model.TriggerType { return o.triggerType }
func (o *TrailingStopMarketOrder) IsTriggered() bool              { return false }
func (o *TrailingStopMarketOrder) TrailingOffset() decimal.Decimal {
	return o.trailingOffset
}
func (o *TrailingStopMarketOrder) TrailingOffsetType() model.TrailingOffsetType {
	return o.trailingOffsetType
}

// Apply folds ev into the order.
func (o *TrailingStopMarketOrder) Apply(ev events.OrderEvent) error {
	return applyWith(o.OrderCore, ev, o.update, func() *decimal.Decimal { return o.triggerPrice })
}

func (o *TrailingStopMarketOrder) update(ev events.OrderUpdated) {
	if ev.Price != nil {
		invalidUpdate(o.OrderCore, "price")
	}
	if ev.TriggerPrice != nil {
		o.triggerPrice = clonePrice(ev.TriggerPrice)
	}
	o.updateQuantity(ev.Quantity)
}

// TrailingStopLimitOrder trails the market by an offset and fires as a limit order.
type TrailingStopLimitOrder struct {
	*OrderCore
	price              *decimal.Decimal
	triggerPrice       *decimal.Decimal
	triggerType        model.TriggerType
	limitOffset        decimal.Decimal
	trailingOffset     decimal.Decimal
	trailingOffsetType model.TrailingOffsetType
	triggered          bool
}

// NewTrailingStopLimitChecked validates p and builds a trailing stop-limit order.
func NewTrailingStopLimitChecked(p Params) (*TrailingStopLimitOrder, error) {
	p = p.withDefaults()
	if err := checkCommon(p); err != nil {
		return nil, err
	}
	if p.Price != nil {
		if err := checkPositivePrice(p.Price, "price", p); err != nil {
			return nil, err
		}
	}
	if p.TriggerPrice != nil {
		if err := checkPositivePrice(p.TriggerPrice, "trigger_price", p); err != nil {
			return nil, err
		}
	}
	if err := checkTrailing(p); err != nil {
		return nil, err
	}
	if p.LimitOffset == nil || p.LimitOffset.IsNegative() {
		return nil, invalid("`limit_offset` is required and may not be negative", p)
	}
	return &TrailingStopLimitOrder{
		OrderCore:          newOrderCore(p.initialized(model.OrderTypeTrailingStopLimit)),
		price:              clonePrice(p.Price),
		triggerPrice:       clonePrice(p.TriggerPrice),
		triggerType:        defaultTrigger(p.TriggerType),
		limitOffset:        *p.LimitOffset,
		trailingOffset:     *p.TrailingOffset,
		trailingOffsetType: p.TrailingOffsetType,
	}, nil
}

// NewTrailingStopLimit is NewTrailingStopLimitChecked that panics on invalid params.
func NewTrailingStopLimit(p Params) *TrailingStopLimitOrder {
	return mustBuild(NewTrailingStopLimitChecked(p))
}

func (o *TrailingStopLimitOrder) Price() *decimal.Decimal        { return clonePrice(o.price) }
func (o *TrailingStopLimitOrder) TriggerPrice() *decimal.Decimal { return clonePrice(o.triggerPrice) }
func (o *TrailingStopLimitOrder) TriggerType() model.TriggerType { return o.triggerType }
func (o *TrailingStopLimitOrder) IsTriggered() bool              { return o.triggered }
func (o *TrailingStopLimitOrder) LimitOffset() decimal.Decimal   { return o.limitOffset }
func (o *TrailingStopLimitOrder) TrailingOffset() decimal.Decimal {
	return o.trailingOffset
}
func (o *TrailingStopLimitOrder) TrailingOffsetType() model.TrailingOffsetType {
	return o.trailingOffsetType
}

// Apply folds ev into the order.
func (o *TrailingStopLimitOrder) Apply(ev events.OrderEvent) error {
	if err := applyWith(o.OrderCore, ev, o.update, func() *decimal.Decimal { return o.price }); err != nil {
		return err
	}
	if _, ok := ev.(events.OrderTriggered); ok {
		o.triggered = true
	}
	return nil
}

func (o *TrailingStopLimitOrder) update(ev events.OrderUpdated) {
	if ev.Price != nil {
		o.price = clonePrice(ev.Price)
	}
	if ev.TriggerPrice != nil {
		o.triggerPrice = clonePrice(ev.TriggerPrice)
	}
	o.updateQuantity(ev.Quantity)
}

func defaultTrigger(t model.TriggerType) model.TriggerType {
	if t == "" || t == model.TriggerTypeNone {
		return model.TriggerTypeDefault
	}
	return t
}
