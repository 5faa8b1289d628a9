package execution

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/app/component"
	"github.com/coachpo/quanta/internal/domain/accounts"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/domain/position"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
	"github.com/coachpo/quanta/internal/telemetry"
)

// EngineID is the component id of the execution engine.
const EngineID model.ComponentID = "ExecEngine"

// Config tunes the execution engine.
type Config struct {
	// SubmitRate caps order submissions per second. Zero disables the throttle.
	SubmitRate  float64 `yaml:"submit_rate"`
	SubmitBurst int     `yaml:"submit_burst"`
	LogEvents   bool    `yaml:"log_events"`
}

// EventWriter receives every order event the engine applied.
type EventWriter interface {
	Write(ev events.OrderEvent)
}

// Engine routes trading commands to clients and applies the events they report.
type Engine struct {
	cfg   Config
	fsm   *component.FSM
	bus   *msgbus.MessageBus
	cache *cache.Cache
	clock clock.Clock
	log   observability.Logger

	mu            sync.Mutex
	clients       map[model.ClientID]Client
	routing       map[model.Venue]model.ClientID
	defaultClient model.ClientID
	omsOverrides  map[model.StrategyID]model.OmsType
	writer        EventWriter

	limiter *rate.Limiter
	posIDs  *position.IDGenerator

	commandCount uint64
	eventCount   uint64

	denied  metric.Int64Counter
	applied metric.Int64Counter
}

// NewEngine builds the engine and registers its endpoints on bus.
func NewEngine(cfg Config, bus *msgbus.MessageBus, c *cache.Cache, clk clock.Clock, logger observability.Logger) *Engine {
	fsm := component.NewFSM(EngineID, logger)
	e := &Engine{
		cfg:          cfg,
		fsm:          fsm,
		bus:          bus,
		cache:        c,
		clock:        clk,
		log:          fsm.Logger(),
		clients:      make(map[model.ClientID]Client),
		routing:      make(map[model.Venue]model.ClientID),
		omsOverrides: make(map[model.StrategyID]model.OmsType),
		posIDs:       position.NewIDGenerator(bus.TraderID(), clk.TimestampNs),
	}
	if cfg.SubmitRate > 0 {
		burst := cfg.SubmitBurst
		if burst <= 0 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), burst)
	}

	meter := otel.Meter("execution")
	e.denied, _ = meter.Int64Counter("exec_engine.denied",
		metric.WithDescription("Number of orders denied before reaching a client"),
		metric.WithUnit("{order}"))
	e.applied, _ = meter.Int64Counter("exec_engine.events",
		metric.WithDescription("Number of order events applied"),
		metric.WithUnit("{event}"))

	bus.RegisterEndpoint(msgbus.ExecEngineExecute,
		msgbus.NewTypedHandler[messages.TradingCommand]("ExecEngine.execute", e.Execute, e.unexpected))
	bus.RegisterEndpoint(msgbus.ExecEngineProcess, msgbus.NewHandler("ExecEngine.process", e.Process))
	if err := fsm.Initialize(); err != nil {
		panic(err)
	}
	return e
}

func (e *Engine) unexpected(msg any) {
	e.log.Warn("unexpected message type", observability.F("type", fmt.Sprintf("%T", msg)))
}

// State returns the engine's lifecycle state.
func (e *Engine) State() component.State { return e.fsm.State() }

// SetEventWriter installs w to receive applied order events.
func (e *Engine) SetEventWriter(w EventWriter) {
	e.mu.Lock()
	e.writer = w
	e.mu.Unlock()
}

// RegisterClient adds a client and routes its venue to it.
func (e *Engine) RegisterClient(c Client) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := c.ClientID()
	if _, ok := e.clients[id]; ok {
		return errs.New("execution/engine", errs.CodeAlreadyRegistered,
			errs.WithMessage("execution client already registered"),
			errs.WithField("client_id", id.String()))
	}
	e.clients[id] = c
	if v := c.Venue(); v != "" {
		e.routing[v] = id
	}
	e.log.Info("registered execution client",
		observability.F("client_id", id.String()),
		observability.F("venue", string(c.Venue())),
		observability.F("oms_type", string(c.OmsType())))
	return nil
}

// RegisterDefaultClient registers c and routes every unroutable command to it.
func (e *Engine) RegisterDefaultClient(c Client) error {
	if err := e.RegisterClient(c); err != nil {
		return err
	}
	e.mu.Lock()
	e.defaultClient = c.ClientID()
	e.mu.Unlock()
	return nil
}

// RegisterOmsType makes strategyID use oms instead of the client's OMS.
func (e *Engine) RegisterOmsType(strategyID model.StrategyID, oms model.OmsType) {
	if oms == "" || oms == model.OmsTypeUnspecified {
		return
	}
	e.mu.Lock()
	e.omsOverrides[strategyID] = oms
	e.mu.Unlock()
}

// Clients returns the registered client ids in order.
func (e *Engine) Clients() []model.ClientID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.ClientID, 0, len(e.clients))
	for id := range e.clients {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (e *Engine) client(clientID model.ClientID, venue model.Venue) (Client, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if clientID != "" {
		if c, ok := e.clients[clientID]; ok {
			return c, true
		}
	}
	if id, ok := e.routing[venue]; ok {
		c, ok := e.clients[id]
		return c, ok
	}
	if e.defaultClient != "" {
		c, ok := e.clients[e.defaultClient]
		return c, ok
	}
	return nil, false
}

func (e *Engine) omsFor(strategyID model.StrategyID, venue model.Venue) model.OmsType {
	e.mu.Lock()
	oms, ok := e.omsOverrides[strategyID]
	e.mu.Unlock()
	if ok {
		return oms
	}
	if c, ok := e.client("", venue); ok {
		if t := c.OmsType(); t != "" && t != model.OmsTypeUnspecified {
			return t
		}
	}
	return model.OmsTypeNetting
}

// eachClient runs fn against every client concurrently.
func (e *Engine) eachClient(fn func(Client) error) []error {
	ids := e.Clients()
	clients := make([]Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := e.client(id, ""); ok {
			clients = append(clients, c)
		}
	}
	return iter.Map(clients, func(c *Client) error { return fn(*c) })
}

// Start connects every client.
func (e *Engine) Start(ctx context.Context) error {
	return e.fsm.Start(func() error {
		return observability.JoinFailures(e.log, "exec engine start", e.eachClient(func(c Client) error {
			if err := c.Start(ctx); err != nil {
				return fmt.Errorf("start %s: %w", c.ClientID(), err)
			}
			return nil
		}))
	})
}

// Stop disconnects every client.
func (e *Engine) Stop(ctx context.Context) error {
	return e.fsm.Stop(func() error {
		return observability.JoinFailures(e.log, "exec engine stop", e.eachClient(func(c Client) error {
			if err := c.Stop(ctx); err != nil {
				return fmt.Errorf("stop %s: %w", c.ClientID(), err)
			}
			return nil
		}))
	})
}

// Execute routes a trading command to its client. Submissions pass the
// pre-trade checks first; a refused order is denied locally.
func (e *Engine) Execute(cmd messages.TradingCommand) {
	h := cmd.Header()
	e.mu.Lock()
	e.commandCount++
	e.mu.Unlock()

	c, ok := e.client(h.ClientID, h.InstrumentID.Venue)

	var err error
	switch v := cmd.(type) {
	case messages.SubmitOrder:
		e.cacheOrder(v.Order, v.PositionID)
		if !ok {
			e.deny(v.Order, "no execution client for venue "+string(h.InstrumentID.Venue))
			return
		}
		if reason, refused := e.check(v.Order); refused {
			e.deny(v.Order, reason)
			return
		}
		err = c.SubmitOrder(v)
	case messages.SubmitOrderList:
		for _, o := range v.Orders {
			e.cacheOrder(o, v.PositionID)
		}
		reason, refused := "", false
		if !ok {
			reason, refused = "no execution client for venue "+string(h.InstrumentID.Venue), true
		} else if !e.allow() {
			reason, refused = "submit rate exceeded", true
		}
		if refused {
			for _, o := range v.Orders {
				e.deny(o, reason)
			}
			return
		}
		err = c.SubmitOrderList(v)
	default:
		if !ok {
			e.log.Error("no execution client for command",
				observability.F("command", cmd.Name()),
				observability.F("client_id", string(h.ClientID)),
				observability.F("venue", string(h.InstrumentID.Venue)))
			return
		}
		err = e.forward(c, cmd)
	}
	if err != nil {
		e.log.Error("execution client rejected command",
			observability.F("client_id", c.ClientID().String()),
			observability.F("command", cmd.Name()),
			observability.F("error", err.Error()))
	}
}

func (e *Engine) forward(c Client, cmd messages.TradingCommand) error {
	switch v := cmd.(type) {
	case messages.ModifyOrder:
		return c.ModifyOrder(v)
	case messages.CancelOrder:
		return c.CancelOrder(v)
	case messages.CancelAllOrders:
		return c.CancelAllOrders(v)
	case messages.BatchCancelOrders:
		return c.BatchCancelOrders(v)
	case messages.QueryOrder:
		return c.QueryOrder(v)
	default:
		e.unexpected(cmd)
		return nil
	}
}

func (e *Engine) cacheOrder(o orders.Order, positionID model.PositionID) {
	if e.cache.OrderExists(o.ClientOrderID()) {
		if positionID != "" {
			e.cache.SetPositionIDForOrder(o.ClientOrderID(), positionID)
		}
		return
	}
	if err := e.cache.AddOrder(o, positionID); err != nil {
		e.log.Error("cannot cache order", observability.F("client_order_id", o.ClientOrderID().String()), observability.F("error", err.Error()))
	}
}

func (e *Engine) allow() bool {
	if e.limiter == nil {
		return true
	}
	return e.limiter.AllowN(e.clock.UtcNow(), 1)
}

// check runs the pre-trade checks and returns the denial reason, if any.
func (e *Engine) check(o orders.Order) (string, bool) {
	if !e.allow() {
		return "submit rate exceeded", true
	}
	if o.IsReduceOnly() && e.omsFor(o.StrategyID(), o.InstrumentID().Venue) == model.OmsTypeNetting {
		p, ok := e.cache.Position(position.NettingID(o.InstrumentID(), o.StrategyID()))
		if !ok || p.IsClosed() || !o.Core().WouldReduceOnly(p.Side(), p.Quantity()) {
			return "reduce-only order would increase position", true
		}
	}
	return "", false
}

func (e *Engine) deny(o orders.Order, reason string) {
	e.denied.Add(context.Background(), 1, metric.WithAttributes(telemetry.OrderAttributes(
		string(o.InstrumentID().Venue), o.InstrumentID().String(), string(o.Side()), string(o.OrderType()))...))
	e.log.Warn("order denied",
		observability.F("client_order_id", o.ClientOrderID().String()),
		observability.F("reason", reason))
	ts := e.clock.TimestampNs()
	e.handleOrderEvent(events.OrderDenied{
		OrderEventHeader: events.OrderEventHeader{
			TraderID:      o.TraderID(),
			StrategyID:    o.StrategyID(),
			InstrumentID:  o.InstrumentID(),
			ClientOrderID: o.ClientOrderID(),
			EventID:       model.NewUUID4(),
			TsEvent:       ts,
			TsInit:        ts,
		},
		Reason: reason,
	})
}

// Process applies an event reported by a client.
func (e *Engine) Process(msg any) {
	switch ev := msg.(type) {
	case events.OrderEvent:
		e.handleOrderEvent(ev)
	case events.AccountState:
		e.handleAccountState(ev)
	default:
		e.unexpected(msg)
	}
}

func (e *Engine) handleAccountState(state events.AccountState) {
	if a, ok := e.cache.Account(state.AccountID); ok {
		if err := a.Apply(state); err != nil {
			e.log.Error("cannot apply account state", observability.F("account_id", state.AccountID.String()), observability.F("error", err.Error()))
		}
		return
	}
	a, err := accounts.New(state, false)
	if err != nil {
		e.log.Error("invalid account state", observability.F("account_id", state.AccountID.String()), observability.F("error", err.Error()))
		return
	}
	if err := e.cache.AddAccount(a); err != nil {
		e.log.Error("cannot cache account", observability.F("account_id", state.AccountID.String()), observability.F("error", err.Error()))
		return
	}
	e.log.Info("registered account", observability.F("account_id", state.AccountID.String()))
}

func (e *Engine) lookupOrder(ev events.OrderEvent) (orders.Order, bool) {
	h := ev.Header()
	if o, ok := e.cache.Order(h.ClientOrderID); ok {
		return o, true
	}
	if vid := events.VenueOrderIDOf(ev); vid != "" {
		if id, ok := e.cache.ClientOrderIDFor(vid); ok {
			return e.cache.Order(id)
		}
	}
	return nil, false
}

func (e *Engine) handleOrderEvent(ev events.OrderEvent) {
	o, ok := e.lookupOrder(ev)
	if !ok {
		e.log.Error("order not found for event",
			observability.F("event", string(ev.Kind())),
			observability.F("client_order_id", ev.Header().ClientOrderID.String()))
		return
	}
	if fill, isFill := ev.(events.OrderFilled); isFill {
		e.handleFill(o, fill)
		return
	}
	if e.applyToOrder(o, ev) {
		e.publishOrder(o, ev)
	}
}

func (e *Engine) applyToOrder(o orders.Order, ev events.OrderEvent) bool {
	if err := o.Apply(ev); err != nil {
		e.log.Error("cannot apply order event",
			observability.F("event", string(ev.Kind())),
			observability.F("client_order_id", o.ClientOrderID().String()),
			observability.F("status", string(o.Status())),
			observability.F("error", err.Error()))
		return false
	}
	if err := e.cache.UpdateOrder(o); err != nil {
		e.log.Error("cannot update cached order", observability.F("error", err.Error()))
	}
	e.mu.Lock()
	e.eventCount++
	w := e.writer
	e.mu.Unlock()
	e.applied.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.OperationResultAttributes("apply", string(ev.Kind()))...))
	if w != nil {
		w.Write(ev)
	}
	return true
}

func (e *Engine) publishOrder(o orders.Order, ev events.OrderEvent) {
	if e.cfg.LogEvents {
		e.log.Info("order event",
			observability.F("event", string(ev.Kind())),
			observability.F("client_order_id", o.ClientOrderID().String()),
			observability.F("status", string(o.Status())))
	}
	sb := e.bus.Switchboard()
	e.bus.Publish(sb.OrderEventsTopic(o.StrategyID()), ev)
	e.bus.Publish(sb.OrderSnapshotsTopic(o.ClientOrderID()), orders.SnapshotOf(o, e.clock.TimestampNs()))
}

func (e *Engine) positionIDFor(o orders.Order, fill events.OrderFilled, oms model.OmsType) model.PositionID {
	if oms == model.OmsTypeNetting {
		return position.NettingID(fill.InstrumentID, fill.StrategyID)
	}
	if fill.PositionID != "" {
		return fill.PositionID
	}
	if pid, ok := e.cache.PositionIDForOrder(o.ClientOrderID()); ok {
		return pid
	}
	return e.posIDs.Next(fill.StrategyID, false)
}

func (e *Engine) handleFill(o orders.Order, fill events.OrderFilled) {
	oms := e.omsFor(fill.StrategyID, fill.InstrumentID.Venue)
	fill.PositionID = e.positionIDFor(o, fill, oms)
	e.cache.SetPositionIDForOrder(o.ClientOrderID(), fill.PositionID)
	if !e.applyToOrder(o, fill) {
		return
	}
	e.publishOrder(o, fill)

	inst, ok := e.cache.Instrument(fill.InstrumentID)
	if !ok {
		e.log.Error("instrument not cached, position not updated", observability.F("instrument_id", fill.InstrumentID.String()))
		return
	}
	account := e.accountFor(fill)
	if account != nil {
		if err := account.ApplyFill(inst, fill); err != nil {
			e.log.Error("cannot apply fill to account", observability.F("account_id", account.ID().String()), observability.F("error", err.Error()))
		}
	}

	p, exists := e.cache.Position(fill.PositionID)
	if !exists {
		e.openPosition(inst, fill)
		return
	}
	if oms == model.OmsTypeHedging && p.IsOpen() && p.IsOppositeSide(fill.Side) && fill.LastQty.GreaterThan(p.Quantity()) {
		closing, opening := position.SplitFill(fill, p.Quantity(), e.posIDs.Next(fill.StrategyID, true))
		e.updatePosition(p, closing, account)
		e.cache.SetPositionIDForOrder(o.ClientOrderID(), opening.PositionID)
		e.openPosition(inst, opening)
		return
	}
	e.updatePosition(p, fill, account)
}

func (e *Engine) accountFor(fill events.OrderFilled) *accounts.Account {
	if fill.AccountID != "" {
		if a, ok := e.cache.Account(fill.AccountID); ok {
			return a
		}
	}
	if a, ok := e.cache.AccountForVenue(fill.InstrumentID.Venue); ok {
		return a
	}
	e.log.Warn("no account for fill", observability.F("instrument_id", fill.InstrumentID.String()))
	return nil
}

func (e *Engine) openPosition(inst model.Instrument, fill events.OrderFilled) {
	p, err := position.New(inst, fill)
	if err != nil {
		e.log.Error("cannot open position", observability.F("position_id", fill.PositionID.String()), observability.F("error", err.Error()))
		return
	}
	if err := e.cache.AddPosition(p); err != nil {
		e.log.Error("cannot cache position", observability.F("position_id", p.ID().String()), observability.F("error", err.Error()))
		return
	}
	e.publishPosition(p, position.NewOpened(p, fill, model.NewUUID4(), e.clock.TimestampNs()))
}

func (e *Engine) updatePosition(p *position.Position, fill events.OrderFilled, account *accounts.Account) {
	wasOpen := p.IsOpen()
	before := p.RealizedPnL().Amount
	if err := p.Apply(fill); err != nil {
		e.log.Error("cannot apply fill to position", observability.F("position_id", p.ID().String()), observability.F("error", err.Error()))
		return
	}
	if account != nil {
		// Commission was already charged through ApplyFill.
		pnl := p.RealizedPnL().Amount.Sub(before)
		if fill.Commission != nil && fill.Commission.Currency == p.QuoteCurrency() {
			pnl = pnl.Add(fill.Commission.Amount)
		}
		if err := account.ApplyPnL(model.NewMoney(pnl, p.QuoteCurrency())); err != nil {
			e.log.Error("cannot apply pnl to account", observability.F("account_id", account.ID().String()), observability.F("error", err.Error()))
		}
	}
	e.publishPosition(p, position.EventFor(p, fill, !wasOpen, model.NewUUID4(), e.clock.TimestampNs()))
}

func (e *Engine) publishPosition(p *position.Position, ev position.Event) {
	if e.cfg.LogEvents {
		e.log.Info("position event",
			observability.F("event", string(ev.Kind())),
			observability.F("position_id", p.ID().String()),
			observability.F("side", string(p.Side())),
			observability.F("quantity", p.Quantity().String()))
	}
	sb := e.bus.Switchboard()
	e.bus.Publish(sb.PositionEventsTopic(p.StrategyID()), ev)
	e.bus.Publish(sb.PositionSnapshotsTopic(p.ID()), p.Snapshot(e.clock.TimestampNs()))
}

// Counts returns the commands routed and order events applied so far.
func (e *Engine) Counts() (commands, applied uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commandCount, e.eventCount
}
