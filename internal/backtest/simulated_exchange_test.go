package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/internal/app/execution"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
)

var btcusdt = model.MustParseInstrumentID("BTCUSDT.SIM")

func d(s string) decimal.Decimal  { return decimal.RequireFromString(s) }
func p(s string) *decimal.Decimal { v := d(s); return &v }

type venueHarness struct {
	bus      *msgbus.MessageBus
	cache    *cache.Cache
	clock    *clock.TestClock
	engine   *execution.Engine
	exchange *SimulatedExchange
	client   *ExecutionClient
	factory  *orders.Factory
	events   []events.OrderEvent
}

func newVenueHarness(t *testing.T, cfg ExchangeConfig) *venueHarness {
	t.Helper()
	return newClientHarness(t, cfg, ClientConfig{})
}

func newClientHarness(t *testing.T, cfg ExchangeConfig, cc ClientConfig) *venueHarness {
	t.Helper()
	h := &venueHarness{
		bus:   msgbus.New("TRADER-001", nil),
		cache: cache.New(cache.Config{}),
		clock: clock.NewTestClock(model.NanosFromTime(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))),
	}
	require.NoError(t, h.cache.AddInstrument(model.NewCurrencyPair(btcusdt, "BTC", "USDT", 2, 3, 0)))
	h.engine = execution.NewEngine(execution.Config{}, h.bus, h.cache, h.clock, nil)
	if cfg.Venue == "" {
		cfg.Venue = "SIM"
	}
	if len(cfg.StartingBalances) == 0 {
		cfg.StartingBalances = []model.Money{model.NewMoney(d("100000"), "USDT")}
	}
	h.exchange = NewSimulatedExchange(cfg, h.cache, h.clock, nil)
	client, err := NewExecutionClient(cc, h.exchange, h.bus, h.cache, h.clock, nil)
	require.NoError(t, err)
	h.client = client
	require.NoError(t, h.engine.RegisterClient(client))
	h.factory = orders.NewFactory("TRADER-001", "S-001", h.clock.TimestampNs)
	h.bus.Subscribe(h.bus.Switchboard().OrderEventsTopic("S-001"),
		msgbus.NewTypedHandler[events.OrderEvent]("test.events", func(ev events.OrderEvent) {
			h.events = append(h.events, ev)
		}, nil), 0)
	return h
}

func (h *venueHarness) header() messages.TradingHeader {
	return messages.NewTradingHeader("TRADER-001", "", "S-001", btcusdt, h.clock.TimestampNs())
}

func (h *venueHarness) build(t *testing.T, typ model.OrderType, params orders.Params) orders.Order {
	t.Helper()
	params.InstrumentID = btcusdt
	o, err := h.factory.Build(typ, params)
	require.NoError(t, err)
	return o
}

// submit routes o through the execution engine and lets the exchange act on it.
func (h *venueHarness) submit(o orders.Order) {
	h.bus.Send(msgbus.ExecEngineExecute, messages.SubmitOrder{TradingHeader: h.header(), Order: o})
	h.exchange.Process(h.clock.TimestampNs())
}

func (h *venueHarness) command(cmd messages.TradingCommand) {
	h.bus.Send(msgbus.ExecEngineExecute, cmd)
	h.exchange.Process(h.clock.TimestampNs())
}

func (h *venueHarness) quote(bid, ask string) {
	ts := h.clock.TimestampNs()
	h.exchange.ProcessQuoteTick(model.QuoteTick{
		InstrumentID: btcusdt,
		BidPrice:     d(bid),
		AskPrice:     d(ask),
		BidSize:      d("10"),
		AskSize:      d("10"),
		TsEvent:      ts,
		TsInit:       ts,
	})
}

func (h *venueHarness) trade(px string) {
	ts := h.clock.TimestampNs()
	h.exchange.ProcessTradeTick(model.TradeTick{
		InstrumentID:  btcusdt,
		Price:         d(px),
		Size:          d("1"),
		AggressorSide: model.AggressorSideNone,
		TradeID:       "T-1",
		TsEvent:       ts,
		TsInit:        ts,
	})
}

func (h *venueHarness) order(t *testing.T, id model.ClientOrderID) orders.Order {
	t.Helper()
	o, ok := h.cache.Order(id)
	require.True(t, ok)
	return o
}

func (h *venueHarness) kinds() []events.OrderEventKind {
	out := make([]events.OrderEventKind, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Kind())
	}
	return out
}

func (h *venueHarness) lastFill(t *testing.T) events.OrderFilled {
	t.Helper()
	for i := len(h.events) - 1; i >= 0; i-- {
		if f, ok := h.events[i].(events.OrderFilled); ok {
			return f
		}
	}
	t.Fatal("no fill")
	return events.OrderFilled{}
}

func TestMarketIfTouchedFillsOnLastPrice(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	o := h.build(t, model.OrderTypeMarketIfTouched, orders.Params{
		Side:         model.OrderSideBuy,
		Quantity:     d("1"),
		TriggerPrice: p("30000"),
		TriggerType:  model.TriggerTypeLastPrice,
	})

	h.submit(o)
	require.Equal(t, model.OrderStatusAccepted, h.order(t, o.ClientOrderID()).Status())
	require.Equal(t, 1, h.exchange.WorkingOrders(btcusdt))

	h.quote("30000", "30010")
	require.Equal(t, model.OrderStatusAccepted, h.order(t, o.ClientOrderID()).Status(), "quotes do not drive a last-price trigger")

	h.trade("30000")
	got := h.order(t, o.ClientOrderID())
	require.Equal(t, model.OrderStatusFilled, got.Status())
	require.True(t, got.AvgPx().Equal(d("30010")))
	require.NotNil(t, got.Slippage())
	require.True(t, got.Slippage().Equal(d("10")))
	require.Equal(t, model.LiquiditySideTaker, h.lastFill(t).LiquiditySide)
	require.Equal(t, 0, h.exchange.WorkingOrders(btcusdt))
	require.Equal(t, []events.OrderEventKind{
		events.KindOrderSubmitted, events.KindOrderAccepted, events.KindOrderFilled,
	}, h.kinds())
}

func TestMarketOrderFillsAtTopOfBook(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	h.quote("30000", "30010")
	o, err := h.factory.Market(btcusdt, model.OrderSideBuy, d("1"), model.TimeInForceGTC)
	require.NoError(t, err)

	h.submit(o)

	fill := h.lastFill(t)
	require.True(t, fill.LastPx.Equal(d("30010")))
	require.NotNil(t, fill.Commission)
	require.True(t, fill.Commission.Amount.Equal(d("6.002")), fill.Commission.Amount.String())
	require.Equal(t, model.VenueOrderID("SIM-1"), fill.VenueOrderID)

	acct, ok := h.cache.AccountForVenue("SIM")
	require.True(t, ok)
	require.True(t, acct.BalanceTotal("USDT").Amount.Equal(d("69983.998")))
	require.True(t, acct.BalanceTotal("BTC").Amount.Equal(d("1")))
}

func TestMarketOrderWithoutMarketIsRejected(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	o, err := h.factory.Market(btcusdt, model.OrderSideBuy, d("1"), model.TimeInForceGTC)
	require.NoError(t, err)

	h.submit(o)

	require.Equal(t, model.OrderStatusRejected, h.order(t, o.ClientOrderID()).Status())
}

func TestPostOnlyMarketableLimitIsRejected(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	h.quote("30000", "30010")
	o := h.build(t, model.OrderTypeLimit, orders.Params{
		Side:     model.OrderSideBuy,
		Quantity: d("1"),
		Price:    p("30010"),
		PostOnly: true,
	})

	h.submit(o)

	require.Equal(t, model.OrderStatusRejected, h.order(t, o.ClientOrderID()).Status())
	rejected, ok := h.events[len(h.events)-1].(events.OrderRejected)
	require.True(t, ok)
	require.True(t, rejected.DueToPostOnly)
}

func TestLimitRestsThenFillsAsMaker(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	h.quote("29980", "30000")
	o := h.build(t, model.OrderTypeLimit, orders.Params{
		Side:     model.OrderSideBuy,
		Quantity: d("1"),
		Price:    p("29990"),
	})

	h.submit(o)
	require.Equal(t, 1, h.exchange.WorkingOrders(btcusdt))

	h.quote("29970", "29990")
	fill := h.lastFill(t)
	require.True(t, fill.LastPx.Equal(d("29990")))
	require.Equal(t, model.LiquiditySideMaker, fill.LiquiditySide)
	require.True(t, fill.Commission.Amount.Equal(d("5.998")))
	require.Equal(t, model.OrderStatusFilled, h.order(t, o.ClientOrderID()).Status())
}

func TestStopLimitTriggersThenRests(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	h.quote("29990", "30000")
	o := h.build(t, model.OrderTypeStopLimit, orders.Params{
		Side:         model.OrderSideBuy,
		Quantity:     d("1"),
		Price:        p("30090"),
		TriggerPrice: p("30100"),
	})
	h.submit(o)

	h.quote("30095", "30100")
	got := h.order(t, o.ClientOrderID())
	require.Equal(t, model.OrderStatusTriggered, got.Status())
	require.True(t, got.IsTriggered())
	require.Equal(t, 1, h.exchange.WorkingOrders(btcusdt))

	h.quote("30080", "30090")
	require.Equal(t, model.OrderStatusFilled, h.order(t, o.ClientOrderID()).Status())
	require.Equal(t, model.LiquiditySideMaker, h.lastFill(t).LiquiditySide)
}

func TestTrailingStopFollowsLastPrice(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{AccountType: model.AccountTypeMargin})
	o := h.build(t, model.OrderTypeTrailingStopMarket, orders.Params{
		Side:               model.OrderSideSell,
		Quantity:           d("1"),
		TriggerPrice:       p("29900"),
		TriggerType:        model.TriggerTypeLastPrice,
		TrailingOffset:     p("100"),
		TrailingOffsetType: model.TrailingOffsetPrice,
	})
	h.submit(o)

	h.trade("30000")
	require.True(t, h.order(t, o.ClientOrderID()).TriggerPrice().Equal(d("29900")))

	h.trade("30200")
	require.True(t, h.order(t, o.ClientOrderID()).TriggerPrice().Equal(d("30100")))
	require.Equal(t, events.KindOrderUpdated, h.events[len(h.events)-1].Kind())

	h.trade("30150")
	require.True(t, h.order(t, o.ClientOrderID()).TriggerPrice().Equal(d("30100")), "trigger never moves against the position")

	h.trade("30100")
	got := h.order(t, o.ClientOrderID())
	require.Equal(t, model.OrderStatusFilled, got.Status())
	require.True(t, got.AvgPx().Equal(d("30100")))
}

func TestModifyAndCancelWorkingOrder(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	h.quote("29980", "30000")
	o := h.build(t, model.OrderTypeLimit, orders.Params{
		Side:     model.OrderSideBuy,
		Quantity: d("1"),
		Price:    p("29900"),
	})
	h.submit(o)

	h.command(messages.ModifyOrder{TradingHeader: h.header(), ClientOrderID: o.ClientOrderID(), Quantity: p("2"), Price: p("29950")})
	got := h.order(t, o.ClientOrderID())
	require.True(t, got.Quantity().Equal(d("2")))
	require.True(t, got.Price().Equal(d("29950")))

	h.command(messages.ModifyOrder{TradingHeader: h.header(), ClientOrderID: o.ClientOrderID(), TriggerPrice: p("29000")})
	require.Equal(t, events.KindOrderModifyRejected, h.events[len(h.events)-1].Kind())

	h.command(messages.CancelOrder{TradingHeader: h.header(), ClientOrderID: o.ClientOrderID()})
	require.Equal(t, model.OrderStatusCanceled, h.order(t, o.ClientOrderID()).Status())
	require.Equal(t, 0, h.exchange.WorkingOrders(btcusdt))

	seen := len(h.events)
	h.command(messages.CancelOrder{TradingHeader: h.header(), ClientOrderID: o.ClientOrderID()})
	require.Len(t, h.events, seen, "a cancel reject cannot reopen a closed order")
	require.Equal(t, model.OrderStatusCanceled, h.order(t, o.ClientOrderID()).Status())
}

func TestCancelAllFiltersBySide(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{AccountType: model.AccountTypeMargin})
	h.quote("29980", "30000")
	buy := h.build(t, model.OrderTypeLimit, orders.Params{Side: model.OrderSideBuy, Quantity: d("1"), Price: p("29000")})
	sell := h.build(t, model.OrderTypeLimit, orders.Params{Side: model.OrderSideSell, Quantity: d("1"), Price: p("31000")})
	h.submit(buy)
	h.submit(sell)
	require.Equal(t, 2, h.exchange.WorkingOrders(btcusdt))

	h.command(messages.CancelAllOrders{TradingHeader: h.header(), OrderSide: model.OrderSideBuy})

	require.Equal(t, model.OrderStatusCanceled, h.order(t, buy.ClientOrderID()).Status())
	require.Equal(t, model.OrderStatusAccepted, h.order(t, sell.ClientOrderID()).Status())
	require.Equal(t, 1, h.exchange.WorkingOrders(btcusdt))
}

func TestGTDOrderExpires(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	h.quote("29980", "30000")
	o := h.build(t, model.OrderTypeLimit, orders.Params{
		Side:        model.OrderSideBuy,
		Quantity:    d("1"),
		Price:       p("29000"),
		TimeInForce: model.TimeInForceGTD,
		ExpireTime:  h.clock.TimestampNs().Add(time.Minute),
	})
	h.submit(o)

	h.clock.Advance(30 * time.Second)
	h.exchange.Process(h.clock.TimestampNs())
	require.Equal(t, model.OrderStatusAccepted, h.order(t, o.ClientOrderID()).Status())

	h.clock.Advance(time.Minute)
	h.exchange.Process(h.clock.TimestampNs())
	require.Equal(t, model.OrderStatusExpired, h.order(t, o.ClientOrderID()).Status())
}

func TestIOCLimitCanceledWhenNotMarketable(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	h.quote("29980", "30000")
	o := h.build(t, model.OrderTypeLimit, orders.Params{
		Side:        model.OrderSideBuy,
		Quantity:    d("1"),
		Price:       p("29900"),
		TimeInForce: model.TimeInForceIOC,
	})

	h.submit(o)

	require.Equal(t, model.OrderStatusCanceled, h.order(t, o.ClientOrderID()).Status())
	require.Equal(t, 0, h.exchange.WorkingOrders(btcusdt))
}

func TestLatencyDelaysCommands(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{Latency: ConstantLatency{Value: 100 * time.Millisecond}})
	h.quote("29980", "30000")
	o, err := h.factory.Market(btcusdt, model.OrderSideBuy, d("1"), model.TimeInForceGTC)
	require.NoError(t, err)

	h.submit(o)
	require.Equal(t, model.OrderStatusSubmitted, h.order(t, o.ClientOrderID()).Status())
	require.Equal(t, 1, h.exchange.Pending())

	h.clock.Advance(100 * time.Millisecond)
	h.exchange.Process(h.clock.TimestampNs())
	require.Equal(t, model.OrderStatusFilled, h.order(t, o.ClientOrderID()).Status())
	require.Equal(t, 0, h.exchange.Pending())
}

func TestSlippageModelShiftsTakerFills(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{
		Slippage: BasisPointSlippage{BPS: d("10")},
		Fee:      ProportionalFee{Rate: decimal.Zero},
	})
	h.quote("29980", "30000")
	o, err := h.factory.Market(btcusdt, model.OrderSideBuy, d("1"), model.TimeInForceGTC)
	require.NoError(t, err)

	h.submit(o)

	fill := h.lastFill(t)
	require.True(t, fill.LastPx.Equal(d("30030")), fill.LastPx.String())
	require.True(t, fill.Commission.Amount.IsZero())
}

func TestBarWalksPricePath(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	o := h.build(t, model.OrderTypeMarketIfTouched, orders.Params{
		Side:         model.OrderSideBuy,
		Quantity:     d("1"),
		TriggerPrice: p("29500"),
		TriggerType:  model.TriggerTypeLastPrice,
	})
	h.submit(o)

	ts := h.clock.TimestampNs()
	h.exchange.ProcessBar(model.Bar{
		BarType: model.BarType{InstrumentID: btcusdt},
		Open:    d("30000"),
		High:    d("30500"),
		Low:     d("29400"),
		Close:   d("30200"),
		Volume:  d("10"),
		TsEvent: ts,
		TsInit:  ts,
	})

	got := h.order(t, o.ClientOrderID())
	require.Equal(t, model.OrderStatusFilled, got.Status())
	require.True(t, got.AvgPx().Equal(d("29400")), "fills at the low, visited before the high on an up bar")
}
