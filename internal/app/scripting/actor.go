package scripting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/coachpo/quanta/internal/app/actor"
	"github.com/coachpo/quanta/internal/app/trading"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/position"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
)

const defaultCallTimeout = 250 * time.Millisecond

// Config configures a ScriptActor.
type Config struct {
	// StrategyID defaults to the upper-cased module name with a -001 suffix.
	StrategyID model.StrategyID
	ClientID   model.ClientID
	OmsType    model.OmsType
	// Params override the module's metadata config.
	Params map[string]any
	// CallTimeout interrupts a script call that runs longer.
	CallTimeout time.Duration
}

// ScriptActor is a strategy whose callbacks are implemented by a JavaScript
// module. The handler returned by create is built when the strategy starts.
//
// The ctx passed to create exposes:
//
//	id, traderId, config
//	log(...), now()
//	subscribeQuotes/Trades/MarkPrices/IndexPrices(instrument), subscribeBars(barType)
//	unsubscribeQuotes/Trades(instrument), unsubscribeBars(barType)
//	requestBars(barType, limit)
//	buy(instrument, qty), sell(instrument, qty), limit(instrument, side, qty, price)
//	cancelAll(instrument), closeAll(instrument)
//	quote(instrument), position(instrument)
//	setTimer(name, intervalMs), setAlert(name, atMs), cancelTimer(name)
//	publish(typeName, value), shutdown(reason)
//
// Helpers throw on invalid input.
type ScriptActor struct {
	*trading.Strategy
	trading.NopCallbacks

	cfg    Config
	module *Module
	vm     *vm
	log    observability.Logger
	errs   int
}

// New compiles module into a fresh runtime and wraps it as a strategy.
func New(module *Module, cfg Config, bus *msgbus.MessageBus, logger observability.Logger) (*ScriptActor, error) {
	if module == nil {
		return nil, errors.New("script actor: module required")
	}
	if logger == nil {
		logger = observability.Log()
	}
	if cfg.StrategyID == "" {
		cfg.StrategyID = model.StrategyID(strings.ToUpper(module.Name) + "-001")
	}
	if err := model.CheckValidString(string(cfg.StrategyID), "strategy_id"); err != nil {
		return nil, err
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	log := logger.With(observability.F("script", module.Name))
	v, err := newVM(module, cfg.CallTimeout, log)
	if err != nil {
		return nil, err
	}
	a := &ScriptActor{cfg: cfg, module: module, vm: v, log: log}
	a.Strategy = trading.NewStrategy(trading.Config{
		StrategyID: cfg.StrategyID,
		ClientID:   cfg.ClientID,
		OmsType:    cfg.OmsType,
	}, bus, a, logger)
	return a, nil
}

// Module returns the script the actor runs.
func (a *ScriptActor) Module() *Module { return a.module }

// Errors counts script callbacks that threw.
func (a *ScriptActor) Errors() int { return a.errs }

func (a *ScriptActor) mergedConfig() map[string]any {
	out := make(map[string]any, len(a.module.Metadata.Config)+len(a.cfg.Params))
	for k, v := range a.module.Metadata.Config {
		out[k] = v
	}
	for k, v := range a.cfg.Params {
		out[k] = v
	}
	return out
}

// lifecycle runs a lifecycle method; a throw becomes the hook's error.
func (a *ScriptActor) lifecycle(method string) error {
	if _, err := a.vm.call(method); err != nil && !errors.Is(err, errMethodMissing) {
		return fmt.Errorf("script %s.%s: %w", a.module.Name, method, err)
	}
	return nil
}

// dispatch runs a data or event callback; a throw is logged and counted.
func (a *ScriptActor) dispatch(method string, arg any) {
	if _, err := a.vm.call(method, arg); err != nil && !errors.Is(err, errMethodMissing) {
		a.errs++
		a.log.Error("script callback failed",
			observability.F("method", method),
			observability.F("error", err.Error()))
	}
}

func (a *ScriptActor) OnStart() error {
	if a.vm.handler == nil {
		if err := a.vm.create(a.context()); err != nil {
			return err
		}
	}
	return a.lifecycle("onStart")
}

func (a *ScriptActor) OnStop() error    { return a.lifecycle("onStop") }
func (a *ScriptActor) OnResume() error  { return a.lifecycle("onResume") }
func (a *ScriptActor) OnReset() error   { return a.lifecycle("onReset") }
func (a *ScriptActor) OnDispose() error { return a.lifecycle("onDispose") }
func (a *ScriptActor) OnDegrade() error { return a.lifecycle("onDegrade") }
func (a *ScriptActor) OnFault() error   { return a.lifecycle("onFault") }

func (a *ScriptActor) OnTimeEvent(ev clock.TimeEvent) {
	a.dispatch("onTimer", view{"name": ev.Name, "ts": millis(ev.TsEvent)})
}

func (a *ScriptActor) OnData(d model.CustomData) {
	a.dispatch("onData", view{"type": d.DataType.TypeName, "value": d.Value, "ts": millis(d.TsEvent)})
}

func (a *ScriptActor) OnInstrument(inst model.Instrument) {
	a.dispatch("onInstrument", instrumentView(inst))
}
func (a *ScriptActor) OnQuote(q model.QuoteTick) { a.dispatch("onQuote", quoteView(q)) }
func (a *ScriptActor) OnTrade(t model.TradeTick) { a.dispatch("onTrade", tradeView(t)) }
func (a *ScriptActor) OnBar(b model.Bar)         { a.dispatch("onBar", barView(b)) }

func (a *ScriptActor) OnMarkPrice(u model.MarkPriceUpdate) {
	a.dispatch("onMarkPrice", priceView(u.InstrumentID, u.Value, u.TsEvent))
}

func (a *ScriptActor) OnIndexPrice(u model.IndexPriceUpdate) {
	a.dispatch("onIndexPrice", priceView(u.InstrumentID, u.Value, u.TsEvent))
}

func (a *ScriptActor) OnHistoricalQuotes(quotes []model.QuoteTick) {
	out := make([]any, len(quotes))
	for i, q := range quotes {
		out[i] = quoteView(q)
	}
	a.dispatch("onHistoricalQuotes", out)
}

func (a *ScriptActor) OnHistoricalTrades(trades []model.TradeTick) {
	out := make([]any, len(trades))
	for i, t := range trades {
		out[i] = tradeView(t)
	}
	a.dispatch("onHistoricalTrades", out)
}

func (a *ScriptActor) OnHistoricalBars(bars []model.Bar) {
	out := make([]any, len(bars))
	for i, b := range bars {
		out[i] = barView(b)
	}
	a.dispatch("onHistoricalBars", out)
}

// OnOrderEvent forwards every order event; fills, rejections and denials
// also reach their own methods.
func (a *ScriptActor) OnOrderEvent(ev events.OrderEvent) {
	v := orderEventView(ev)
	a.dispatch("onOrderEvent", v)
	switch ev.(type) {
	case events.OrderFilled:
		a.dispatch("onOrderFilled", v)
	case events.OrderRejected:
		a.dispatch("onOrderRejected", v)
	case events.OrderDenied:
		a.dispatch("onOrderDenied", v)
	case events.OrderCanceled:
		a.dispatch("onOrderCanceled", v)
	}
}

func (a *ScriptActor) OnPositionOpened(ev position.PositionOpened) {
	a.dispatch("onPositionOpened", positionView(ev))
}

func (a *ScriptActor) OnPositionChanged(ev position.PositionChanged) {
	a.dispatch("onPositionChanged", positionView(ev))
}

func (a *ScriptActor) OnPositionClosed(ev position.PositionClosed) {
	a.dispatch("onPositionClosed", positionView(ev))
}

var (
	_ trading.Callbacks = (*ScriptActor)(nil)
	_ actor.Callbacks   = (*ScriptActor)(nil)
)

// throw raises err as a JavaScript exception.
func (a *ScriptActor) throw(err error) {
	panic(a.vm.rt.NewGoError(err))
}

func (a *ScriptActor) instrument(value string) model.InstrumentID {
	id, err := model.ParseInstrumentID(value)
	if err != nil {
		a.throw(err)
	}
	return id
}

func (a *ScriptActor) barType(value string) model.BarType {
	bt, err := model.ParseBarType(value)
	if err != nil {
		a.throw(err)
	}
	return bt
}

func (a *ScriptActor) submit(id string, side string, qty any, price any) string {
	s, err := toSide(side)
	if err != nil {
		a.throw(err)
	}
	q, err := toDecimal(qty)
	if err != nil {
		a.throw(fmt.Errorf("quantity: %w", err))
	}
	inst := a.instrument(id)
	factory := a.OrderFactory()
	var clientOrderID model.ClientOrderID
	if price == nil {
		o, err := factory.Market(inst, s, q, model.TimeInForceGTC)
		if err != nil {
			a.throw(err)
		}
		err = a.SubmitOrder(o, "", "")
		if err != nil {
			a.throw(err)
		}
		clientOrderID = o.ClientOrderID()
	} else {
		px, err := toDecimal(price)
		if err != nil {
			a.throw(fmt.Errorf("price: %w", err))
		}
		o, err := factory.Limit(inst, s, q, px, model.TimeInForceGTC)
		if err != nil {
			a.throw(err)
		}
		if err := a.SubmitOrder(o, "", ""); err != nil {
			a.throw(err)
		}
		clientOrderID = o.ClientOrderID()
	}
	return clientOrderID.String()
}

func (a *ScriptActor) context() map[string]any {
	return map[string]any{
		"id":       string(a.cfg.StrategyID),
		"traderId": string(a.TraderID()),
		"config":   a.mergedConfig(),
		"log": func(call goja.FunctionCall) goja.Value {
			a.log.Info(joinArgs(call.Arguments))
			return goja.Undefined()
		},
		"now": func() int64 { return millis(a.Clock().TimestampNs()) },

		"subscribeQuotes":      func(id string) { a.SubscribeQuotes(a.instrument(id), "", nil) },
		"unsubscribeQuotes":    func(id string) { a.UnsubscribeQuotes(a.instrument(id), "", nil) },
		"subscribeTrades":      func(id string) { a.SubscribeTrades(a.instrument(id), "", nil) },
		"unsubscribeTrades":    func(id string) { a.UnsubscribeTrades(a.instrument(id), "", nil) },
		"subscribeBars":        func(bt string) { a.SubscribeBars(a.barType(bt), "", nil) },
		"unsubscribeBars":      func(bt string) { a.UnsubscribeBars(a.barType(bt), "", nil) },
		"subscribeMarkPrices":  func(id string) { a.SubscribeMarkPrices(a.instrument(id), "", nil) },
		"subscribeIndexPrices": func(id string) { a.SubscribeIndexPrices(a.instrument(id), "", nil) },
		"requestBars": func(bt string, limit int) string {
			reqID, err := a.RequestBars(a.barType(bt), actor.RequestOptions{Limit: limit})
			if err != nil {
				a.throw(err)
			}
			return reqID.String()
		},

		"buy":  func(id string, qty any) string { return a.submit(id, "BUY", qty, nil) },
		"sell": func(id string, qty any) string { return a.submit(id, "SELL", qty, nil) },
		"limit": func(id, side string, qty, price any) string {
			if price == nil {
				a.throw(errors.New("limit price required"))
			}
			return a.submit(id, side, qty, price)
		},
		"cancelAll": func(id string) { a.CancelAllOrders(a.instrument(id), "", "") },
		"closeAll": func(id string) {
			if err := a.CloseAllPositions(a.instrument(id), ""); err != nil {
				a.throw(err)
			}
		},
		"quote": func(id string) any {
			q, ok := a.Cache().Quote(a.instrument(id))
			if !ok {
				return nil
			}
			return quoteView(q)
		},
		"position": func(id string) any {
			open := a.Cache().PositionsOpen(cache.Filter{StrategyID: a.cfg.StrategyID, InstrumentID: a.instrument(id)})
			if len(open) == 0 {
				return nil
			}
			p := open[0]
			return view{
				"position_id": string(p.ID()),
				"side":        string(p.Side()),
				"quantity":    num(p.Quantity()),
				"signed_qty":  num(p.SignedQty()),
				"avg_px_open": num(p.AvgPxOpen()),
			}
		},

		"setTimer": func(name string, intervalMs int64) {
			if err := a.Clock().SetTimer(name, time.Duration(intervalMs)*time.Millisecond, time.Time{}, time.Time{}, nil); err != nil {
				a.throw(err)
			}
		},
		"setAlert": func(name string, atMs int64) {
			if err := a.Clock().SetTimeAlert(name, time.UnixMilli(atMs), nil); err != nil {
				a.throw(err)
			}
		},
		"cancelTimer": func(name string) { a.Clock().CancelTimer(name) },
		"publish": func(typeName string, value any) {
			a.PublishData(model.NewDataType(typeName, nil), value)
		},
		"shutdown": func(reason string) { a.ShutdownSystem(reason) },
	}
}
