package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/app/component"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
	"github.com/coachpo/quanta/internal/telemetry"
)

// EngineID is the component id of the data engine.
const EngineID model.ComponentID = "DataEngine"

// Engine routes data commands to clients and fans client output onto the bus.
type Engine struct {
	fsm   *component.FSM
	bus   *msgbus.MessageBus
	cache *cache.Cache
	clock clock.Clock
	log   observability.Logger

	mu            sync.Mutex
	clients       map[model.ClientID]Client
	routing       map[model.Venue]model.ClientID
	defaultClient model.ClientID
	managed       map[model.InstrumentID]struct{}
	snapshots     map[string]model.InstrumentID
	subscriptions map[messages.DataKind]map[string]struct{}

	commandCount  uint64
	dataCount     uint64
	requestCount  uint64
	responseCount uint64

	processed metric.Int64Counter
	commands  metric.Int64Counter
}

// NewEngine builds the engine and registers its endpoints on bus.
func NewEngine(bus *msgbus.MessageBus, c *cache.Cache, clk clock.Clock, logger observability.Logger) *Engine {
	fsm := component.NewFSM(EngineID, logger)
	e := &Engine{
		fsm:           fsm,
		bus:           bus,
		cache:         c,
		clock:         clk,
		log:           fsm.Logger(),
		clients:       make(map[model.ClientID]Client),
		routing:       make(map[model.Venue]model.ClientID),
		managed:       make(map[model.InstrumentID]struct{}),
		snapshots:     make(map[string]model.InstrumentID),
		subscriptions: make(map[messages.DataKind]map[string]struct{}),
	}
	meter := otel.Meter("data")
	e.processed, _ = meter.Int64Counter("data_engine.processed",
		metric.WithDescription("Number of data items processed by the data engine"),
		metric.WithUnit("{item}"))
	e.commands, _ = meter.Int64Counter("data_engine.commands",
		metric.WithDescription("Number of data commands executed"),
		metric.WithUnit("{command}"))

	exec := msgbus.NewTypedHandler[messages.DataCommand]("DataEngine.execute", e.Execute, e.unexpected)
	bus.RegisterEndpoint(msgbus.DataEngineExecute, exec)
	bus.RegisterEndpoint(msgbus.DataEngineQueueExecute,
		msgbus.NewTypedHandler[messages.DataCommand]("DataEngine.queue_execute", e.Execute, e.unexpected))
	bus.RegisterEndpoint(msgbus.DataEngineProcess, msgbus.NewHandler("DataEngine.process", e.Process))
	bus.RegisterEndpoint(msgbus.DataEngineResponse,
		msgbus.NewTypedHandler[messages.DataResponse]("DataEngine.response", e.Response, e.unexpected))
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

// RegisterClient adds a client. Its venue, when set, routes commands that carry
// no client id.
func (e *Engine) RegisterClient(c Client) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := c.ClientID()
	if _, ok := e.clients[id]; ok {
		return errs.New("data/engine", errs.CodeAlreadyRegistered,
			errs.WithMessage("data client already registered"),
			errs.WithField("client_id", id.String()))
	}
	e.clients[id] = c
	if v := c.Venue(); v != "" {
		e.routing[v] = id
	}
	e.log.Info("registered data client", observability.F("client_id", id.String()))
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

// RegisterVenueRouting routes commands for venue to the client id.
func (e *Engine) RegisterVenueRouting(venue model.Venue, id model.ClientID) {
	e.mu.Lock()
	e.routing[venue] = id
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
	if venue != "" {
		if id, ok := e.routing[venue]; ok {
			c, ok := e.clients[id]
			return c, ok
		}
	}
	if e.defaultClient != "" {
		c, ok := e.clients[e.defaultClient]
		return c, ok
	}
	return nil, false
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

// Start connects every client and moves the engine to Running.
func (e *Engine) Start(ctx context.Context) error {
	return e.fsm.Start(func() error {
		return observability.JoinFailures(e.log, "data engine start", e.eachClient(func(c Client) error {
			if err := c.Start(ctx); err != nil {
				return fmt.Errorf("start %s: %w", c.ClientID(), err)
			}
			return nil
		}))
	})
}

// Stop disconnects every client and cancels snapshot timers.
func (e *Engine) Stop(ctx context.Context) error {
	return e.fsm.Stop(func() error {
		e.mu.Lock()
		timers := make([]string, 0, len(e.snapshots))
		for name := range e.snapshots {
			timers = append(timers, name)
		}
		e.snapshots = make(map[string]model.InstrumentID)
		e.mu.Unlock()
		for _, name := range timers {
			e.clock.CancelTimer(name)
		}
		return observability.JoinFailures(e.log, "data engine stop", e.eachClient(func(c Client) error {
			if err := c.Stop(ctx); err != nil {
				return fmt.Errorf("stop %s: %w", c.ClientID(), err)
			}
			return nil
		}))
	})
}

// Execute routes a data command to its client.
func (e *Engine) Execute(cmd messages.DataCommand) {
	h := cmd.Header()
	e.mu.Lock()
	e.commandCount++
	e.mu.Unlock()
	e.commands.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.OperationResultAttributes(string(h.Kind), fmt.Sprintf("%T", cmd))...))

	c, ok := e.client(h.ClientID, h.Venue)
	if !ok {
		e.log.Error("no data client for command",
			observability.F("kind", string(h.Kind)),
			observability.F("client_id", string(h.ClientID)),
			observability.F("venue", string(h.Venue)))
		return
	}

	var err error
	switch c2 := cmd.(type) {
	case messages.SubscribeCommand:
		e.prepareSubscribe(c2)
		err = c.Subscribe(c2)
		if err == nil {
			e.track(c2.Kind, subscriptionKey(c2.Target), true)
		}
	case messages.UnsubscribeCommand:
		e.prepareUnsubscribe(c2)
		err = c.Unsubscribe(c2)
		if err == nil {
			e.track(c2.Kind, subscriptionKey(c2.Target), false)
		}
	case messages.RequestCommand:
		e.mu.Lock()
		e.requestCount++
		e.mu.Unlock()
		err = c.Request(c2)
	default:
		e.unexpected(cmd)
		return
	}
	if err != nil {
		e.log.Error("data client rejected command",
			observability.F("client_id", c.ClientID().String()),
			observability.F("kind", string(h.Kind)),
			observability.F("error", err.Error()))
	}
}

func subscriptionKey(t messages.Target) string {
	switch {
	case !t.BarType.InstrumentID.IsZero():
		return t.BarType.String()
	case !t.InstrumentID.IsZero():
		return t.InstrumentID.String()
	case t.DataType.TypeName != "":
		return t.DataType.Topic()
	default:
		return t.Key
	}
}

func (e *Engine) track(kind messages.DataKind, key string, add bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set, ok := e.subscriptions[kind]
	if !ok {
		set = make(map[string]struct{})
		e.subscriptions[kind] = set
	}
	if add {
		set[key] = struct{}{}
	} else {
		delete(set, key)
	}
}

// Subscribed returns the tracked subscription keys for kind, sorted.
func (e *Engine) Subscribed(kind messages.DataKind) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.subscriptions[kind]))
	for k := range e.subscriptions[kind] {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func snapshotTimerName(id model.InstrumentID, intervalMs int) string {
	return fmt.Sprintf("OrderBook|%s|%d", id, intervalMs)
}

// prepareSubscribe creates managed books and snapshot timers before the
// client starts streaming.
func (e *Engine) prepareSubscribe(cmd messages.SubscribeCommand) {
	t := cmd.Target
	switch cmd.Kind {
	case messages.KindBookDeltas, messages.KindBookDepth10:
		if t.Managed {
			e.manageBook(t.InstrumentID, t.BookType)
		}
	case messages.KindBookSnapshots:
		e.manageBook(t.InstrumentID, t.BookType)
		if t.IntervalMs <= 0 {
			return
		}
		name := snapshotTimerName(t.InstrumentID, t.IntervalMs)
		e.mu.Lock()
		_, exists := e.snapshots[name]
		if !exists {
			e.snapshots[name] = t.InstrumentID
		}
		e.mu.Unlock()
		if exists {
			return
		}
		interval := time.Duration(t.IntervalMs) * time.Millisecond
		id := t.InstrumentID
		if err := e.clock.SetTimer(name, interval, time.Time{}, time.Time{}, func(clock.TimeEvent) {
			e.publishSnapshot(id)
		}); err != nil {
			e.log.Error("snapshot timer rejected", observability.F("timer", name), observability.F("error", err.Error()))
		}
	}
}

func (e *Engine) prepareUnsubscribe(cmd messages.UnsubscribeCommand) {
	if cmd.Kind != messages.KindBookSnapshots || cmd.Target.IntervalMs <= 0 {
		return
	}
	name := snapshotTimerName(cmd.Target.InstrumentID, cmd.Target.IntervalMs)
	e.mu.Lock()
	_, ok := e.snapshots[name]
	delete(e.snapshots, name)
	e.mu.Unlock()
	if ok {
		e.clock.CancelTimer(name)
	}
}

func (e *Engine) manageBook(id model.InstrumentID, bookType model.BookType) {
	if bookType == "" {
		bookType = model.BookTypeL2MBP
	}
	e.mu.Lock()
	_, ok := e.managed[id]
	e.managed[id] = struct{}{}
	e.mu.Unlock()
	if _, cached := e.cache.Book(id); ok && cached {
		return
	}
	e.cache.AddBook(model.NewOrderBook(id, bookType))
}

func (e *Engine) isManaged(id model.InstrumentID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.managed[id]
	return ok
}

func (e *Engine) publishSnapshot(id model.InstrumentID) {
	book, ok := e.cache.Book(id)
	if !ok {
		return
	}
	e.bus.Publish(e.bus.Switchboard().BookSnapshotsTopic(id), book)
}

// OnData implements Sink.
func (e *Engine) OnData(data any) { e.Process(data) }

// OnResponse implements Sink.
func (e *Engine) OnResponse(resp messages.DataResponse) { e.Response(resp) }

// Process caches data delivered by a client and publishes it.
func (e *Engine) Process(data any) {
	e.mu.Lock()
	e.dataCount++
	e.mu.Unlock()
	e.processed.Add(context.Background(), 1, metric.WithAttributes(
		telemetry.OperationResultAttributes("process", fmt.Sprintf("%T", data))...))

	sb := e.bus.Switchboard()
	switch d := data.(type) {
	case model.Instrument:
		if err := e.cache.AddInstrument(d); err != nil {
			e.log.Error("invalid instrument", observability.F("instrument_id", d.ID.String()), observability.F("error", err.Error()))
			return
		}
		e.bus.Publish(sb.InstrumentTopic(d.ID), d)
		e.bus.Publish(sb.InstrumentsTopic(d.ID.Venue), d)
	case model.OrderBookDeltas:
		if e.isManaged(d.InstrumentID) {
			if book, ok := e.cache.Book(d.InstrumentID); ok {
				book.ApplyDeltas(d)
			}
		}
		e.bus.Publish(sb.BookDeltasTopic(d.InstrumentID), d)
	case model.OrderBookDepth10:
		if e.isManaged(d.InstrumentID) {
			if book, ok := e.cache.Book(d.InstrumentID); ok {
				book.ApplyDepth(d)
			}
		}
		e.bus.Publish(sb.BookDepth10Topic(d.InstrumentID), d)
	case model.QuoteTick:
		e.cache.AddQuote(d)
		if book, ok := e.cache.Book(d.InstrumentID); ok && book.BookType == model.BookTypeL1MBP {
			book.UpdateQuote(d)
		}
		e.bus.Publish(sb.QuotesTopic(d.InstrumentID), d)
	case model.TradeTick:
		e.cache.AddTrade(d)
		if book, ok := e.cache.Book(d.InstrumentID); ok && book.BookType == model.BookTypeL1MBP {
			book.UpdateTrade(d)
		}
		e.bus.Publish(sb.TradesTopic(d.InstrumentID), d)
	case model.Bar:
		e.cache.AddBar(d)
		e.bus.Publish(sb.BarsTopic(d.BarType), d)
	case model.MarkPriceUpdate:
		e.cache.AddMarkPrice(d)
		e.bus.Publish(sb.MarkPriceTopic(d.InstrumentID), d)
	case model.IndexPriceUpdate:
		e.cache.AddIndexPrice(d)
		e.bus.Publish(sb.IndexPriceTopic(d.InstrumentID), d)
	case model.InstrumentStatus:
		e.cache.AddInstrumentStatus(d)
		e.bus.Publish(sb.InstrumentStatusTopic(d.InstrumentID), d)
	case model.InstrumentClose:
		e.cache.AddInstrumentClose(d)
		e.bus.Publish(sb.InstrumentCloseTopic(d.InstrumentID), d)
	case model.CustomData:
		e.cache.AddCustomData(d)
		e.bus.Publish(sb.CustomTopic(d.DataType), d)
	case Routed:
		e.bus.Publish(d.BusTopic(sb), d)
	default:
		e.unexpected(data)
	}
}

// Response caches historical data carried by resp and hands it to the
// requester's response handler.
func (e *Engine) Response(resp messages.DataResponse) {
	e.mu.Lock()
	e.responseCount++
	e.mu.Unlock()

	switch d := resp.Data.(type) {
	case model.Instrument:
		_ = e.cache.AddInstrument(d)
	case []model.Instrument:
		for _, inst := range d {
			_ = e.cache.AddInstrument(inst)
		}
	case []model.QuoteTick:
		for _, q := range d {
			e.cache.AddQuote(q)
		}
	case []model.TradeTick:
		for _, t := range d {
			e.cache.AddTrade(t)
		}
	case []model.Bar:
		for _, b := range d {
			e.cache.AddBar(b)
		}
	}
	e.bus.Response(resp.CorrelationID, resp)
}

// Counts returns the commands, data items, requests and responses handled so far.
func (e *Engine) Counts() (commands, data, requests, responses uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.commandCount, e.dataCount, e.requestCount, e.responseCount
}

var _ Sink = (*Engine)(nil)
