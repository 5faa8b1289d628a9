package orders

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

// FromInitialized rebuilds a fresh order of the type named by ev.
func FromInitialized(ev events.OrderInitialized) (Order, error) {
	p := paramsFrom(ev)
	switch ev.OrderType {
	case model.OrderTypeMarket:
		return asOrder(NewMarketChecked(p))
	case model.OrderTypeLimit:
		return asOrder(NewLimitChecked(p))
	case model.OrderTypeStopMarket:
		return asOrder(NewStopMarketChecked(p))
	case model.OrderTypeStopLimit:
		return asOrder(NewStopLimitChecked(p))
	case model.OrderTypeMarketIfTouched:
		return asOrder(NewMarketIfTouchedChecked(p))
	case model.OrderTypeLimitIfTouched:
		return asOrder(NewLimitIfTouchedChecked(p))
	case model.OrderTypeTrailingStopMarket:
		return asOrder(NewTrailingStopMarketChecked(p))
	case model.OrderTypeTrailingStopLimit:
		return asOrder(NewTrailingStopLimitChecked(p))
	}
	return nil, errs.New("orders", errs.CodeInvalid,
		errs.WithMessage("unsupported order type"),
		errs.WithField("order_type", string(ev.OrderType)))
}

func asOrder[T Order](o T, err error) (Order, error) {
	if err != nil {
		return nil, err
	}
	return o, nil
}

// FromEvents replays an event log into an order. The first event must be OrderInitialized.
func FromEvents(log []events.OrderEvent) (Order, error) {
	if len(log) == 0 {
		return nil, errs.New("orders", errs.CodeInvalid, errs.WithMessage("empty order event log"))
	}
	first, ok := log[0].(events.OrderInitialized)
	if !ok {
		return nil, errs.New("orders", errs.CodeInvalid,
			errs.WithMessage("first event must be OrderInitialized"),
			errs.WithField("event", string(log[0].Kind())))
	}
	order, err := FromInitialized(first)
	if err != nil {
		return nil, err
	}
	for _, ev := range log[1:] {
		if err := order.Apply(ev); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// Factory mints orders for one strategy with sequential client order ids.
type Factory struct {
	traderID   model.TraderID
	strategyID model.StrategyID
	now        func() model.UnixNanos

	mu    sync.Mutex
	count int
}

// NewFactory constructs an order factory. now supplies ts_init for each order.
func NewFactory(traderID model.TraderID, strategyID model.StrategyID, now func() model.UnixNanos) *Factory {
	return &Factory{traderID: traderID, strategyID: strategyID, now: now}
}

// NextClientOrderID returns the next id, formatted O-{ts}-{trader}-{strategy}-{n}.
func (f *Factory) NextClientOrderID() model.ClientOrderID {
	f.mu.Lock()
	f.count++
	n := f.count
	f.mu.Unlock()
	return model.ClientOrderID(fmt.Sprintf("O-%d-%s-%s-%d", uint64(f.now()), f.traderID, f.strategyID, n))
}

// Count returns how many ids the factory has issued.
func (f *Factory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Reset restarts the id sequence.
func (f *Factory) Reset() {
	f.mu.Lock()
	f.count = 0
	f.mu.Unlock()
}

func (f *Factory) params(p Params) Params {
	p.TraderID = f.traderID
	p.StrategyID = f.strategyID
	if p.ClientOrderID == "" {
		p.ClientOrderID = f.NextClientOrderID()
	}
	if p.TsInit == 0 {
		p.TsInit = f.now()
	}
	return p
}

// Market builds a market order.
func (f *Factory) Market(id model.InstrumentID, side model.OrderSide, qty decimal.Decimal, tif model.TimeInForce) (*MarketOrder, error) {
	return NewMarketChecked(f.params(Params{InstrumentID: id, Side: side, Quantity: qty, TimeInForce: tif}))
}

// Limit builds a limit order.
func (f *Factory) Limit(id model.InstrumentID, side model.OrderSide, qty, price decimal.Decimal, tif model.TimeInForce) (*LimitOrder, error) {
	return NewLimitChecked(f.params(Params{InstrumentID: id, Side: side, Quantity: qty, Price: &price, TimeInForce: tif}))
}

// Build builds any order type from p, filling identity fields from the factory.
func (f *Factory) Build(t model.OrderType, p Params) (Order, error) {
	p = f.params(p).withDefaults()
	return FromInitialized(p.initialized(t))
}
