package orders

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

// Params carries every field an order constructor may need. Fields that do not
// apply to the order type being built are ignored.
type Params struct {
	TraderID      model.TraderID
	StrategyID    model.StrategyID
	InstrumentID  model.InstrumentID
	ClientOrderID model.ClientOrderID
	Side          model.OrderSide
	Quantity      decimal.Decimal

	Price              *decimal.Decimal
	TriggerPrice       *decimal.Decimal
	TriggerType        model.TriggerType
	LimitOffset        *decimal.Decimal
	TrailingOffset     *decimal.Decimal
	TrailingOffsetType model.TrailingOffsetType

	TimeInForce   model.TimeInForce
	ExpireTime    model.UnixNanos
	PostOnly      bool
	ReduceOnly    bool
	QuoteQuantity bool
	DisplayQty    *decimal.Decimal

	EmulationTrigger    model.TriggerType
	TriggerInstrumentID *model.InstrumentID
	ContingencyType     model.ContingencyType
	OrderListID         model.OrderListID
	LinkedOrderIDs      []model.ClientOrderID
	ParentOrderID       model.ClientOrderID
	ExecAlgorithmID     model.ExecAlgorithmID
	ExecAlgorithmParams map[string]string
	Tags                []string

	InitID model.UUID4
	TsInit model.UnixNanos
}

func invalid(msg string, p Params) error {
	return errs.New("orders", errs.CodeInvalid,
		errs.WithMessage(msg),
		errs.WithField("client_order_id", p.ClientOrderID.String()))
}

func checkPositiveQuantity(qty decimal.Decimal, name string, p Params) error {
	if !qty.IsPositive() {
		return invalid(fmt.Sprintf("invalid `Quantity` for '%s' not positive, was %s", name, qty.String()), p)
	}
	return nil
}

func checkPositivePrice(px *decimal.Decimal, name string, p Params) error {
	if px == nil {
		return invalid(fmt.Sprintf("`%s` is required", name), p)
	}
	if !px.IsPositive() {
		return invalid(fmt.Sprintf("invalid `Price` for '%s' not positive, was %s", name, px.String()), p)
	}
	return nil
}

// checkCommon enforces the invariants shared by every order type.
func checkCommon(p Params) error {
	if p.ClientOrderID == "" {
		return invalid("`client_order_id` is required", p)
	}
	if p.InstrumentID.IsZero() {
		return invalid("`instrument_id` is required", p)
	}
	if p.Side != model.OrderSideBuy && p.Side != model.OrderSideSell {
		return invalid("`order_side` must be BUY or SELL", p)
	}
	if err := checkPositiveQuantity(p.Quantity, "quantity", p); err != nil {
		return err
	}
	if p.DisplayQty != nil {
		if err := checkPositiveQuantity(*p.DisplayQty, "display_qty", p); err != nil {
			return err
		}
		if p.DisplayQty.GreaterThan(p.Quantity) {
			return invalid("`display_qty` may not exceed `quantity`", p)
		}
	}
	if p.TimeInForce == model.TimeInForceGTD && p.ExpireTime.IsZero() {
		return invalid("`expire_time` is required for `GTD` order", p)
	}
	return nil
}

func checkTrailing(p Params) error {
	if p.TrailingOffset == nil {
		return invalid("`trailing_offset` is required", p)
	}
	if p.TrailingOffset.IsNegative() {
		return invalid("`trailing_offset` may not be negative", p)
	}
	if p.TrailingOffsetType == "" || p.TrailingOffsetType == model.TrailingOffsetNone {
		return invalid("`trailing_offset_type` is required", p)
	}
	return nil
}

func (p Params) withDefaults() Params {
	if p.TimeInForce == "" {
		p.TimeInForce = model.TimeInForceGTC
	}
	if p.InitID == (model.UUID4{}) {
		p.InitID = model.NewUUID4()
	}
	if p.ContingencyType == "" {
		p.ContingencyType = model.ContingencyNone
	}
	return p
}

// initialized renders the params as the OrderInitialized event of an order of type t.
func (p Params) initialized(t model.OrderType) events.OrderInitialized {
	ev := events.OrderInitialized{
		OrderEventHeader: events.OrderEventHeader{
			TraderID:      p.TraderID,
			StrategyID:    p.StrategyID,
			InstrumentID:  p.InstrumentID,
			ClientOrderID: p.ClientOrderID,
			EventID:       p.InitID,
			TsEvent:       p.TsInit,
			TsInit:        p.TsInit,
		},
		Side:                p.Side,
		OrderType:           t,
		Quantity:            p.Quantity,
		TimeInForce:         p.TimeInForce,
		PostOnly:            p.PostOnly,
		ReduceOnly:          p.ReduceOnly,
		QuoteQuantity:       p.QuoteQuantity,
		ExpireTime:          p.ExpireTime,
		DisplayQty:          p.DisplayQty,
		EmulationTrigger:    p.EmulationTrigger,
		TriggerInstrumentID: p.TriggerInstrumentID,
		ContingencyType:     p.ContingencyType,
		OrderListID:         p.OrderListID,
		LinkedOrderIDs:      p.LinkedOrderIDs,
		ParentOrderID:       p.ParentOrderID,
		ExecAlgorithmID:     p.ExecAlgorithmID,
		ExecAlgorithmParams: p.ExecAlgorithmParams,
		Tags:                p.Tags,
	}
	switch t {
	case model.OrderTypeLimit:
		ev.Price = p.Price
	case model.OrderTypeStopMarket, model.OrderTypeMarketIfTouched:
		ev.TriggerPrice = p.TriggerPrice
		ev.TriggerType = p.TriggerType
	case model.OrderTypeStopLimit, model.OrderTypeLimitIfTouched:
		ev.Price = p.Price
		ev.TriggerPrice = p.TriggerPrice
		ev.TriggerType = p.TriggerType
	case model.OrderTypeTrailingStopMarket:
		ev.TriggerPrice = p.TriggerPrice
		ev.TriggerType = p.TriggerType
		ev.TrailingOffset = p.TrailingOffset
		ev.TrailingOffsetType = p.TrailingOffsetType
	case model.OrderTypeTrailingStopLimit:
		ev.Price = p.Price
		ev.TriggerPrice = p.TriggerPrice
		ev.TriggerType = p.TriggerType
		ev.LimitOffset = p.LimitOffset
		ev.TrailingOffset = p.TrailingOffset
		ev.TrailingOffsetType = p.TrailingOffsetType
	}
	return ev
}

// paramsFrom rebuilds constructor params from an OrderInitialized event.
func paramsFrom(ev events.OrderInitialized) Params {
	return Params{
		TraderID:            ev.TraderID,
		StrategyID:          ev.StrategyID,
		InstrumentID:        ev.InstrumentID,
		ClientOrderID:       ev.ClientOrderID,
		Side:                ev.Side,
		Quantity:            ev.Quantity,
		Price:               ev.Price,
		TriggerPrice:        ev.TriggerPrice,
		TriggerType:         ev.TriggerType,
		LimitOffset:         ev.LimitOffset,
		TrailingOffset:      ev.TrailingOffset,
		TrailingOffsetType:  ev.TrailingOffsetType,
		TimeInForce:         ev.TimeInForce,
		ExpireTime:          ev.ExpireTime,
		PostOnly:            ev.PostOnly,
		ReduceOnly:          ev.ReduceOnly,
		QuoteQuantity:       ev.QuoteQuantity,
		DisplayQty:          ev.DisplayQty,
		EmulationTrigger:    ev.EmulationTrigger,
		TriggerInstrumentID: ev.TriggerInstrumentID,
		ContingencyType:     ev.ContingencyType,
		OrderListID:         ev.OrderListID,
		LinkedOrderIDs:      ev.LinkedOrderIDs,
		ParentOrderID:       ev.ParentOrderID,
		ExecAlgorithmID:     ev.ExecAlgorithmID,
		ExecAlgorithmParams: ev.ExecAlgorithmParams,
		Tags:                ev.Tags,
		InitID:              ev.EventID,
		TsInit:              ev.TsEvent,
	}
}

func mustBuild[T any](o T, err error) T {
	if err != nil {
		panic(err)
	}
	return o
}

func clonePrice(px *decimal.Decimal) *decimal.Decimal {
	if px == nil {
		return nil
	}
	v := *px
	return &v
}
