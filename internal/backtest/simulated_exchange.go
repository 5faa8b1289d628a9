package backtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/quanta/internal/app/execution"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
	"github.com/coachpo/quanta/internal/telemetry"
)

// ExchangeConfig describes a simulated venue.
type ExchangeConfig struct {
	Venue            model.Venue
	OmsType          model.OmsType
	AccountType      model.AccountType
	BaseCurrency     string
	StartingBalances []model.Money
	Fee              FeeModel
	Slippage         SlippageModel
	Latency          LatencyModel
}

func (c ExchangeConfig) withDefaults() ExchangeConfig {
	if c.OmsType == "" || c.OmsType == model.OmsTypeUnspecified {
		c.OmsType = model.OmsTypeNetting
	}
	if c.AccountType == "" {
		c.AccountType = model.AccountTypeCash
	}
	if c.Fee == nil {
		c.Fee = MakerTakerFee{}
	}
	if c.Slippage == nil {
		c.Slippage = BasisPointSlippage{}
	}
	if c.Latency == nil {
		c.Latency = ConstantLatency{}
	}
	return c
}

type inflight struct {
	ts  model.UnixNanos
	seq uint64
	cmd messages.TradingCommand
}

// market is the exchange's view of one instrument.
type market struct {
	inst  model.Instrument
	bid   *decimal.Decimal
	ask   *decimal.Decimal
	last  *decimal.Decimal
	mark  *decimal.Decimal
	index *decimal.Decimal
	book  *orderBook
}

// SimulatedExchange matches orders against replayed market data and reports
// the outcome through its execution client, the way a venue would.
//
// Market state is owned by the goroutine that pumps data and calls Process.
// Only the inbound command queue is safe for concurrent use.
type SimulatedExchange struct {
	cfg    ExchangeConfig
	cache  *cache.Cache
	clock  clock.Clock
	log    observability.Logger
	client *ExecutionClient

	qmu   sync.Mutex
	queue []inflight
	seq   uint64

	markets    map[model.InstrumentID]*market
	orderSeq   uint64
	venueCount uint64
	tradeCount uint64

	fills   metric.Int64Counter
	rejects metric.Int64Counter
}

// NewSimulatedExchange creates a simulated venue. Instruments are read from c.
func NewSimulatedExchange(cfg ExchangeConfig, c *cache.Cache, clk clock.Clock, logger observability.Logger) *SimulatedExchange {
	if logger == nil {
		logger = observability.Log()
	}
	cfg = cfg.withDefaults()
	e := &SimulatedExchange{
		cfg:     cfg,
		cache:   c,
		clock:   clk,
		log:     logger.With(observability.F("component", "SimulatedExchange"), observability.F("venue", string(cfg.Venue))),
		markets: make(map[model.InstrumentID]*market),
	}
	meter := otel.Meter("backtest")
	e.fills, _ = meter.Int64Counter("sim_exchange.fills",
		metric.WithDescription("Number of simulated fills"),
		metric.WithUnit("{fill}"))
	e.rejects, _ = meter.Int64Counter("sim_exchange.rejects",
		metric.WithDescription("Number of simulated order rejections"),
		metric.WithUnit("{order}"))
	return e
}

func (e *SimulatedExchange) Venue() model.Venue             { return e.cfg.Venue }
func (e *SimulatedExchange) OmsType() model.OmsType         { return e.cfg.OmsType }
func (e *SimulatedExchange) AccountType() model.AccountType { return e.cfg.AccountType }
func (e *SimulatedExchange) BaseCurrency() string           { return e.cfg.BaseCurrency }

// StartingBalances returns the configured opening balances.
func (e *SimulatedExchange) StartingBalances() []model.Money {
	return append([]model.Money(nil), e.cfg.StartingBalances...)
}

// RegisterClient sets the client that reports this venue's events.
func (e *SimulatedExchange) RegisterClient(c *ExecutionClient) { e.client = c }

// Send queues cmd for processing once its latency has elapsed.
func (e *SimulatedExchange) Send(cmd messages.TradingCommand) {
	due := e.clock.TimestampNs().Add(e.cfg.Latency.Delay(cmd))
	e.qmu.Lock()
	e.seq++
	e.queue = append(e.queue, inflight{ts: due, seq: e.seq, cmd: cmd})
	sort.SliceStable(e.queue, func(i, j int) bool {
		if e.queue[i].ts == e.queue[j].ts {
			return e.queue[i].seq < e.queue[j].seq
		}
		return e.queue[i].ts < e.queue[j].ts
	})
	e.qmu.Unlock()
}

// Pending returns the number of queued commands.
func (e *SimulatedExchange) Pending() int {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	return len(e.queue)
}

func (e *SimulatedExchange) pop(ts model.UnixNanos) (messages.TradingCommand, bool) {
	e.qmu.Lock()
	defer e.qmu.Unlock()
	if len(e.queue) == 0 || e.queue[0].ts > ts {
		return nil, false
	}
	next := e.queue[0]
	e.queue = e.queue[1:]
	return next.cmd, true
}

// Process handles every command due by ts, then expires GTD orders.
func (e *SimulatedExchange) Process(ts model.UnixNanos) {
	for {
		cmd, ok := e.pop(ts)
		if !ok {
			break
		}
		e.handle(cmd)
	}
	e.expire(ts)
}

func (e *SimulatedExchange) handle(cmd messages.TradingCommand) {
	switch v := cmd.(type) {
	case messages.SubmitOrder:
		e.submit(v.Order)
	case messages.SubmitOrderList:
		for _, o := range v.Orders {
			e.submit(o)
		}
	case messages.ModifyOrder:
		e.modify(v)
	case messages.CancelOrder:
		e.cancel(v)
	case messages.CancelAllOrders:
		e.cancelAll(v)
	case messages.BatchCancelOrders:
		for _, c := range v.Cancels {
			e.cancel(c)
		}
	case messages.QueryOrder:
		e.query(v)
	default:
		e.log.Warn("unsupported command", observability.F("command", cmd.Name()))
	}
}

// ProcessData updates the market from d and matches working orders.
func (e *SimulatedExchange) ProcessData(d model.Data) {
	switch v := d.(type) {
	case model.QuoteTick:
		e.ProcessQuoteTick(v)
	case model.TradeTick:
		e.ProcessTradeTick(v)
	case model.Bar:
		e.ProcessBar(v)
	case model.MarkPriceUpdate:
		if m, ok := e.market(v.InstrumentID); ok {
			m.mark = price(v.Value)
			e.iterate(m)
		}
	case model.IndexPriceUpdate:
		if m, ok := e.market(v.InstrumentID); ok {
			m.index = price(v.Value)
			e.iterate(m)
		}
	}
}

// ProcessQuoteTick moves top of book.
func (e *SimulatedExchange) ProcessQuoteTick(q model.QuoteTick) {
	m, ok := e.market(q.InstrumentID)
	if !ok {
		return
	}
	m.bid, m.ask = price(q.BidPrice), price(q.AskPrice)
	e.iterate(m)
}

// ProcessTradeTick moves the last price.
func (e *SimulatedExchange) ProcessTradeTick(t model.TradeTick) {
	m, ok := e.market(t.InstrumentID)
	if !ok {
		return
	}
	m.last = price(t.Price)
	e.iterate(m)
}

// ProcessBar walks open, low, high, close for an up bar and open, high, low,
// close otherwise.
func (e *SimulatedExchange) ProcessBar(b model.Bar) {
	m, ok := e.market(b.BarType.InstrumentID)
	if !ok {
		return
	}
	path := []decimal.Decimal{b.Open, b.High, b.Low, b.Close}
	if b.Close.GreaterThan(b.Open) {
		path = []decimal.Decimal{b.Open, b.Low, b.High, b.Close}
	}
	for _, px := range path {
		m.last = price(px)
		if m.bid != nil || m.ask != nil {
			m.bid, m.ask = price(px), price(px)
		}
		e.iterate(m)
	}
}

func price(d decimal.Decimal) *decimal.Decimal { return &d }

func (e *SimulatedExchange) market(id model.InstrumentID) (*market, bool) {
	if m, ok := e.markets[id]; ok {
		return m, true
	}
	inst, ok := e.cache.Instrument(id)
	if !ok || id.Venue != e.cfg.Venue {
		return nil, false
	}
	m := &market{inst: inst, book: newOrderBook()}
	e.markets[id] = m
	return m, true
}

// WorkingOrders returns the number of orders resting on the exchange.
func (e *SimulatedExchange) WorkingOrders(id model.InstrumentID) int {
	if m, ok := e.markets[id]; ok {
		return m.book.len()
	}
	return 0
}

// Reset drops all market state and queued commands.
func (e *SimulatedExchange) Reset() {
	e.qmu.Lock()
	e.queue = nil
	e.qmu.Unlock()
	e.markets = make(map[model.InstrumentID]*market)
	e.orderSeq, e.venueCount, e.tradeCount = 0, 0, 0
}

// triggerSource returns the price that drives w's trigger, if the market has one.
func (e *SimulatedExchange) triggerSource(m *market, w *workingOrder) *decimal.Decimal {
	switch w.triggerType {
	case model.TriggerTypeLastPrice:
		return m.last
	case model.TriggerTypeMarkPrice:
		return m.mark
	case model.TriggerTypeIndex:
		return m.index
	case model.TriggerTypeMidPoint:
		if m.bid != nil && m.ask != nil {
			mid := m.bid.Add(*m.ask).Div(decimal.NewFromInt(2))
			return &mid
		}
		return m.last
	default:
		if w.isBuy() && m.ask != nil {
			return m.ask
		}
		if !w.isBuy() && m.bid != nil {
			return m.bid
		}
		return m.last
	}
}

// takerPrice is the price an aggressive order of side would pay.
func takerPrice(m *market, side model.OrderSide) *decimal.Decimal {
	if side == model.OrderSideBuy && m.ask != nil {
		return m.ask
	}
	if side == model.OrderSideSell && m.bid != nil {
		return m.bid
	}
	return m.last
}

func marketable(m *market, side model.OrderSide, limit decimal.Decimal) bool {
	px := takerPrice(m, side)
	if px == nil {
		return false
	}
	if side == model.OrderSideBuy {
		return px.LessThanOrEqual(limit)
	}
	return px.GreaterThanOrEqual(limit)
}

func triggerHit(w *workingOrder, px decimal.Decimal) bool {
	if w.trigger == nil {
		return false
	}
	// Stops fire as the market moves through the trigger; if-touched orders
	// fire on the opposite move.
	if w.isStop() == w.isBuy() {
		return px.GreaterThanOrEqual(*w.trigger)
	}
	return px.LessThanOrEqual(*w.trigger)
}

func (e *SimulatedExchange) reject(w *workingOrder, reason string, dueToPostOnly bool) {
	o := w.order
	e.rejects.Add(context.Background(), 1, metric.WithAttributes(telemetry.OrderAttributes(
		string(e.cfg.Venue), o.InstrumentID().String(), string(o.Side()), string(o.OrderType()))...))
	e.log.Debug("order rejected", observability.F("client_order_id", o.ClientOrderID().String()), observability.F("reason", reason))
	e.client.GenerateOrderRejected(o.StrategyID(), o.InstrumentID(), o.ClientOrderID(), reason, e.clock.TimestampNs(), dueToPostOnly)
}

func (e *SimulatedExchange) submit(o orders.Order) {
	if e.client == nil {
		e.log.Error("no execution client registered")
		return
	}
	if o.IsClosed() {
		e.log.Warn("closed order submitted", observability.F("client_order_id", o.ClientOrderID().String()))
		return
	}
	e.orderSeq++
	w := newWorkingOrder(o, "", e.orderSeq)
	m, ok := e.market(o.InstrumentID())
	if !ok {
		e.reject(w, fmt.Sprintf("instrument %s not found", o.InstrumentID()), false)
		return
	}
	switch w.orderType {
	case model.OrderTypeMarket:
		if takerPrice(m, w.side) == nil {
			e.reject(w, fmt.Sprintf("no market for %s", o.InstrumentID()), false)
			return
		}
	case model.OrderTypeLimit:
		if w.postOnly && marketable(m, w.side, *w.price) {
			e.reject(w, fmt.Sprintf("POST_ONLY %s order limit px of %s would have been a TAKER", w.side, w.price), true)
			return
		}
	}

	e.venueCount++
	w.venueOrderID = model.VenueOrderID(fmt.Sprintf("%s-%d", e.cfg.Venue, e.venueCount))
	e.client.GenerateOrderAccepted(o.StrategyID(), o.InstrumentID(), o.ClientOrderID(), w.venueOrderID, e.clock.TimestampNs())

	switch {
	case w.orderType == model.OrderTypeMarket:
		e.fillTaker(m, w)
	case w.orderType == model.OrderTypeLimit:
		e.placeLimit(m, w, true)
	default:
		m.book.add(w)
		e.evaluate(m, w)
	}
}

// placeLimit fills a marketable limit as taker, or rests it. IOC and FOK
// orders that cannot fill are canceled.
func (e *SimulatedExchange) placeLimit(m *market, w *workingOrder, fresh bool) {
	if marketable(m, w.side, *w.price) {
		if !fresh {
			m.book.remove(w.id())
		}
		e.fillTaker(m, w)
		return
	}
	if w.tif == model.TimeInForceIOC || w.tif == model.TimeInForceFOK {
		if !fresh {
			m.book.remove(w.id())
		}
		e.canceled(w)
		return
	}
	if fresh {
		m.book.add(w)
	} else {
		m.book.sortSide(w.side)
	}
}

// iterate re-evaluates every working order after a market update.
func (e *SimulatedExchange) iterate(m *market) {
	for _, w := range m.book.all() {
		if _, still := m.book.find(w.id(), ""); !still {
			continue
		}
		e.evaluate(m, w)
	}
}

func (e *SimulatedExchange) evaluate(m *market, w *workingOrder) {
	if w.restsAsLimit() {
		if marketable(m, w.side, *w.price) {
			m.book.remove(w.id())
			e.fill(m, w, *w.price, model.LiquiditySideMaker)
		}
		return
	}
	if w.isTrailing() {
		e.trail(m, w)
	}
	px := e.triggerSource(m, w)
	if px == nil || !triggerHit(w, *px) {
		return
	}
	e.fire(m, w)
}

// fire converts a triggered conditional order into its market or limit form.
func (e *SimulatedExchange) fire(m *market, w *workingOrder) {
	o := w.order
	switch w.orderType {
	case model.OrderTypeStopMarket, model.OrderTypeMarketIfTouched, model.OrderTypeTrailingStopMarket:
		if takerPrice(m, w.side) == nil {
			return
		}
		m.book.remove(w.id())
		e.fillTaker(m, w)
	default:
		w.triggered = true
		e.client.GenerateOrderTriggered(o.StrategyID(), o.InstrumentID(), o.ClientOrderID(), w.venueOrderID, e.clock.TimestampNs())
		e.placeLimit(m, w, false)
	}
}

// trail moves a trailing order's trigger, and limit price, behind the market.
func (e *SimulatedExchange) trail(m *market, w *workingOrder) {
	ref := e.triggerSource(m, w)
	if ref == nil {
		return
	}
	var offset decimal.Decimal
	switch w.trailingOffsetType {
	case model.TrailingOffsetBasisPoints:
		offset = ref.Mul(w.trailingOffset).Div(bpsDivisor)
	case model.TrailingOffsetTicks:
		offset = w.trailingOffset.Mul(m.inst.PriceIncrement)
	default:
		offset = w.trailingOffset
	}
	var next decimal.Decimal
	if w.isBuy() {
		next = m.inst.MakePrice(ref.Add(offset))
		if w.trigger != nil && !next.LessThan(*w.trigger) {
			return
		}
	} else {
		next = m.inst.MakePrice(ref.Sub(offset))
		if w.trigger != nil && !next.GreaterThan(*w.trigger) {
			return
		}
	}
	w.trigger = &next
	var limit *decimal.Decimal
	if w.orderType == model.OrderTypeTrailingStopLimit {
		lo := decimal.Zero
		if w.limitOffset != nil {
			lo = *w.limitOffset
		}
		px := next.Sub(lo)
		if w.isBuy() {
			px = next.Add(lo)
		}
		w.price = &px
		limit = &px
	}
	o := w.order
	e.client.GenerateOrderUpdated(o.StrategyID(), o.InstrumentID(), o.ClientOrderID(), w.venueOrderID, w.qty, limit, w.trigger, e.clock.TimestampNs())
	m.book.sortSide(w.side)
}

func (e *SimulatedExchange) fillTaker(m *market, w *workingOrder) {
	px := *takerPrice(m, w.side)
	e.fill(m, w, e.cfg.Slippage.Adjust(m.inst, w.side, px), model.LiquiditySideTaker)
}

// fill executes the full leaves quantity of w at px.
func (e *SimulatedExchange) fill(m *market, w *workingOrder, px decimal.Decimal, liquidity model.LiquiditySide) {
	qty := w.leaves()
	if !qty.IsPositive() {
		return
	}
	w.filled = w.qty
	e.tradeCount++
	commission := e.cfg.Fee.Commission(m.inst, qty, px, liquidity)
	o := w.order
	e.fills.Add(context.Background(), 1, metric.WithAttributes(telemetry.OrderAttributes(
		string(e.cfg.Venue), o.InstrumentID().String(), string(w.side), string(w.orderType))...))
	e.client.GenerateOrderFilled(o.StrategyID(), o.InstrumentID(), o.ClientOrderID(), execution.Fill{
		VenueOrderID:  w.venueOrderID,
		TradeID:       model.TradeID(fmt.Sprintf("%s-%d-%03d", e.cfg.Venue, e.clock.TimestampNs(), e.tradeCount)),
		Side:          w.side,
		OrderType:     w.orderType,
		LastQty:       qty,
		LastPx:        px,
		Currency:      m.inst.QuoteCurrency,
		Commission:    &commission,
		LiquiditySide: liquidity,
	}, e.clock.TimestampNs())
}

func (e *SimulatedExchange) canceled(w *workingOrder) {
	o := w.order
	e.client.GenerateOrderCanceled(o.StrategyID(), o.InstrumentID(), o.ClientOrderID(), w.venueOrderID, e.clock.TimestampNs())
}

func (e *SimulatedExchange) working(h messages.TradingHeader, id model.ClientOrderID, vid model.VenueOrderID) (*market, *workingOrder, bool) {
	m, ok := e.markets[h.InstrumentID]
	if !ok {
		return nil, nil, false
	}
	w, ok := m.book.find(id, vid)
	return m, w, ok
}

func (e *SimulatedExchange) cancel(cmd messages.CancelOrder) {
	m, w, ok := e.working(cmd.TradingHeader, cmd.ClientOrderID, cmd.VenueOrderID)
	if !ok {
		e.client.GenerateOrderCancelRejected(cmd.StrategyID, cmd.InstrumentID, cmd.ClientOrderID, cmd.VenueOrderID,
			fmt.Sprintf("%s not found", cmd.ClientOrderID), e.clock.TimestampNs())
		return
	}
	m.book.remove(w.id())
	e.canceled(w)
}

func (e *SimulatedExchange) cancelAll(cmd messages.CancelAllOrders) {
	m, ok := e.markets[cmd.InstrumentID]
	if !ok {
		return
	}
	for _, w := range m.book.all() {
		if cmd.OrderSide != "" && cmd.OrderSide != model.OrderSideNoSide && w.side != cmd.OrderSide {
			continue
		}
		m.book.remove(w.id())
		e.canceled(w)
	}
}

func (e *SimulatedExchange) modify(cmd messages.ModifyOrder) {
	ts := e.clock.TimestampNs()
	m, w, ok := e.working(cmd.TradingHeader, cmd.ClientOrderID, cmd.VenueOrderID)
	if !ok {
		e.client.GenerateOrderModifyRejected(cmd.StrategyID, cmd.InstrumentID, cmd.ClientOrderID, cmd.VenueOrderID,
			fmt.Sprintf("%s not found", cmd.ClientOrderID), ts)
		return
	}
	o := w.order
	rejectWith := func(reason string) {
		e.client.GenerateOrderModifyRejected(o.StrategyID(), o.InstrumentID(), o.ClientOrderID(), w.venueOrderID, reason, ts)
	}
	if cmd.Quantity != nil && !cmd.Quantity.GreaterThan(w.filled) {
		rejectWith(fmt.Sprintf("quantity %s not above filled %s", cmd.Quantity, w.filled))
		return
	}
	if cmd.Price != nil && w.price == nil {
		rejectWith(fmt.Sprintf("%s order has no limit price", w.orderType))
		return
	}
	if cmd.TriggerPrice != nil && (!w.isConditional() || w.triggered) {
		rejectWith(fmt.Sprintf("%s order has no pending trigger", w.orderType))
		return
	}
	if cmd.Price != nil && w.postOnly && w.restsAsLimit() && marketable(m, w.side, *cmd.Price) {
		rejectWith(fmt.Sprintf("POST_ONLY %s order new limit px of %s would have been a TAKER", w.side, cmd.Price))
		return
	}
	if cmd.Quantity != nil {
		w.qty = *cmd.Quantity
	}
	if cmd.Price != nil {
		w.price = price(*cmd.Price)
	}
	if cmd.TriggerPrice != nil {
		w.trigger = price(*cmd.TriggerPrice)
	}
	e.client.GenerateOrderUpdated(o.StrategyID(), o.InstrumentID(), o.ClientOrderID(), w.venueOrderID, w.qty, cmd.Price, cmd.TriggerPrice, ts)
	m.book.sortSide(w.side)
	e.evaluate(m, w)
}

func (e *SimulatedExchange) query(cmd messages.QueryOrder) {
	_, w, ok := e.working(cmd.TradingHeader, cmd.ClientOrderID, cmd.VenueOrderID)
	if !ok {
		e.log.Info("query for unknown order", observability.F("client_order_id", cmd.ClientOrderID.String()))
		return
	}
	fields := []observability.Field{
		observability.F("client_order_id", w.id().String()),
		observability.F("venue_order_id", string(w.venueOrderID)),
		observability.F("order_type", string(w.orderType)),
		observability.F("quantity", w.qty.String()),
		observability.F("filled", w.filled.String()),
		observability.F("triggered", w.triggered),
	}
	if w.price != nil {
		fields = append(fields, observability.F("price", w.price.String()))
	}
	if w.trigger != nil {
		fields = append(fields, observability.F("trigger_price", w.trigger.String()))
	}
	e.log.Info("order status", fields...)
}

func (e *SimulatedExchange) expire(ts model.UnixNanos) {
	for _, m := range e.markets {
		for _, w := range m.book.all() {
			if w.tif != model.TimeInForceGTD || w.expireTime == 0 || w.expireTime > ts {
				continue
			}
			m.book.remove(w.id())
			o := w.order
			e.client.GenerateOrderExpired(o.StrategyID(), o.InstrumentID(), o.ClientOrderID(), w.venueOrderID, ts)
		}
	}
}
