package backtest

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coachpo/quanta/internal/app/actor"
	"github.com/coachpo/quanta/internal/app/data"
	"github.com/coachpo/quanta/internal/app/execution"
	"github.com/coachpo/quanta/internal/app/trading"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
)

// DataClientID identifies the data client serving history requests.
const DataClientID model.ClientID = "BACKTEST"

// Config configures a backtest run.
type Config struct {
	TraderID  model.TraderID   `yaml:"trader_id"`
	StartTime model.UnixNanos  `yaml:"start_time"`
	Exec      execution.Config `yaml:"exec"`
}

type venue struct {
	exchange *SimulatedExchange
	client   *ExecutionClient
}

// Result summarises a finished run.
type Result struct {
	Iterations uint64
	StartNs    model.UnixNanos
	EndNs      model.UnixNanos
	Elapsed    time.Duration
	Orders     int
	Positions  int
	Analytics  Analytics
}

// Engine replays data through simulated venues and the trading engines on a
// virtual clock.
type Engine struct {
	cfg        Config
	clock      *clock.TestClock
	bus        *msgbus.MessageBus
	cache      *cache.Cache
	data       *data.Engine
	dataClient *data.BacktestClient
	exec       *execution.Engine
	log        observability.Logger

	venues     []venue
	strategies []*trading.Strategy
	actors     []*actor.DataActorCore
	feeders    []DataFeeder

	queue      eventQueue
	iterations uint64

	equity *equityCurve
}

// NewEngine wires a clock, bus, cache and the data and execution engines.
func NewEngine(cfg Config, logger observability.Logger) (*Engine, error) {
	if logger == nil {
		logger = observability.Log()
	}
	if cfg.TraderID == "" {
		cfg.TraderID = "BACKTESTER-001"
	}
	if err := model.CheckValidString(string(cfg.TraderID), "trader_id"); err != nil {
		return nil, err
	}
	clk := clock.NewTestClock(cfg.StartTime)
	bus := msgbus.New(cfg.TraderID, logger)
	c := cache.New(cache.Config{})
	e := &Engine{
		cfg:    cfg,
		clock:  clk,
		bus:    bus,
		cache:  c,
		data:   data.NewEngine(bus, c, clk, logger),
		exec:   execution.NewEngine(cfg.Exec, bus, c, clk, logger),
		log:    logger.With(observability.F("component", "BacktestEngine")),
		queue:  eventQueue{},
		equity: newEquityCurve(),
	}
	heap.Init(&e.queue)
	e.dataClient = data.NewBacktestClient(DataClientID, "", e.data, clk, logger)
	if err := e.data.RegisterDefaultClient(e.dataClient); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) Clock() *clock.TestClock          { return e.clock }
func (e *Engine) Bus() *msgbus.MessageBus          { return e.bus }
func (e *Engine) Cache() *cache.Cache              { return e.cache }
func (e *Engine) DataEngine() *data.Engine         { return e.data }
func (e *Engine) ExecEngine() *execution.Engine    { return e.exec }
func (e *Engine) TraderID() model.TraderID         { return e.cfg.TraderID }
func (e *Engine) DataClient() *data.BacktestClient { return e.dataClient }

// AddInstrument caches inst and makes it available to requests.
func (e *Engine) AddInstrument(inst model.Instrument) error {
	if err := e.cache.AddInstrument(inst); err != nil {
		return err
	}
	e.dataClient.AddInstrument(inst)
	return nil
}

// AddHistory loads data that strategies can request but that is not replayed.
func (e *Engine) AddHistory(values ...model.Data) { e.dataClient.AddHistory(values...) }

// AddVenue creates a simulated exchange and its execution client.
func (e *Engine) AddVenue(ec ExchangeConfig, cc ClientConfig) (*SimulatedExchange, *ExecutionClient, error) {
	if ec.Venue == "" {
		return nil, nil, errors.New("backtest: venue required")
	}
	for _, v := range e.venues {
		if v.exchange.Venue() == ec.Venue {
			return nil, nil, fmt.Errorf("backtest: venue %s already added", ec.Venue)
		}
	}
	ex := NewSimulatedExchange(ec, e.cache, e.clock, e.log)
	if cc.TraderID == "" {
		cc.TraderID = e.cfg.TraderID
	}
	client, err := NewExecutionClient(cc, ex, e.bus, e.cache, e.clock, e.log)
	if err != nil {
		return nil, nil, err
	}
	if client.IsRouting() {
		err = e.exec.RegisterDefaultClient(client)
	} else {
		err = e.exec.RegisterClient(client)
	}
	if err != nil {
		return nil, nil, err
	}
	e.venues = append(e.venues, venue{exchange: ex, client: client})
	return ex, client, nil
}

// AddStrategy registers s with the engine's components.
func (e *Engine) AddStrategy(s *trading.Strategy) error {
	if err := s.Register(e.cfg.TraderID, e.clock, e.cache); err != nil {
		return err
	}
	e.exec.RegisterOmsType(s.StrategyID(), s.OmsType())
	e.strategies = append(e.strategies, s)
	return nil
}

// AddActor registers a non-trading actor.
func (e *Engine) AddActor(a *actor.DataActorCore) error {
	if err := a.Register(e.cfg.TraderID, e.clock, e.cache); err != nil {
		return err
	}
	e.actors = append(e.actors, a)
	return nil
}

// AddData queues feeders for the next run. Their streams are merged by timestamp.
func (e *Engine) AddData(feeders ...DataFeeder) {
	e.feeders = append(e.feeders, feeders...)
}

// Run replays every feeder to exhaustion or until ctx is done.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	startNs := e.clock.TimestampNs()
	if err := e.start(ctx); err != nil {
		return Result{}, err
	}
	e.log.Info("backtest started",
		observability.F("venues", len(e.venues)),
		observability.F("strategies", len(e.strategies)),
		observability.F("feeders", len(e.feeders)))

	runErr := e.replay(ctx)
	e.flush()
	stopErr := e.stop(ctx)

	res := Result{
		Iterations: e.iterations,
		StartNs:    startNs,
		EndNs:      e.clock.TimestampNs(),
		Elapsed:    time.Since(started),
		Orders:     len(e.cache.Orders(cache.Filter{})),
		Positions:  len(e.cache.Positions(cache.Filter{})),
		Analytics:  e.Analytics(),
	}
	e.log.Info("backtest finished",
		observability.F("iterations", res.Iterations),
		observability.F("orders", res.Orders),
		observability.F("positions", res.Positions),
		observability.F("elapsed", res.Elapsed.String()))
	if runErr != nil {
		return res, runErr
	}
	return res, stopErr
}

func (e *Engine) replay(ctx context.Context) error {
	for i, f := range e.feeders {
		if err := e.pull(i, f); err != nil {
			return err
		}
	}
	for e.queue.Len() > 0 {
		if ctx.Err() != nil {
			return nil
		}
		item := heap.Pop(&e.queue).(*eventItem)
		e.step(item.data)
		if err := e.pull(item.feeder, e.feeders[item.feeder]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) pull(idx int, f DataFeeder) error {
	d, err := f.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("feeder %d: %w", idx, err)
	}
	if d != nil {
		heap.Push(&e.queue, &eventItem{data: d, timestamp: d.Timestamp(), feeder: idx})
	}
	return nil
}

// step advances to d's timestamp, firing due timers in order, then lets the
// venues see the data before the strategies do.
func (e *Engine) step(d model.Data) {
	ts := d.Timestamp()
	if ts > e.clock.TimestampNs() {
		for _, cb := range e.clock.AdvanceTime(ts) {
			e.clock.SetTime(cb.Event.TsEvent)
			e.processVenues(cb.Event.TsEvent)
			cb.Run()
		}
		e.clock.SetTime(ts)
	}
	e.processVenues(ts)
	for _, v := range e.venues {
		v.exchange.ProcessData(d)
	}
	e.bus.Send(msgbus.DataEngineProcess, d)
	e.processVenues(ts)
	e.equity.sample(totalPnL(e.cache))
	e.iterations++
}

func (e *Engine) processVenues(ts model.UnixNanos) {
	for _, v := range e.venues {
		v.exchange.Process(ts)
	}
}

// flush lets commands still in flight reach their venue.
func (e *Engine) flush() {
	for _, v := range e.venues {
		for v.exchange.Pending() > 0 {
			e.clock.AdvanceTo(e.nextDue(v.exchange))
			v.exchange.Process(e.clock.TimestampNs())
		}
	}
}

func (e *Engine) nextDue(ex *SimulatedExchange) model.UnixNanos {
	ex.qmu.Lock()
	defer ex.qmu.Unlock()
	if len(ex.queue) == 0 || ex.queue[0].ts < e.clock.TimestampNs() {
		return e.clock.TimestampNs()
	}
	return ex.queue[0].ts
}

func (e *Engine) start(ctx context.Context) error {
	if err := e.data.Start(ctx); err != nil {
		return err
	}
	if err := e.exec.Start(ctx); err != nil {
		return err
	}
	for _, a := range e.actors {
		if err := a.Start(); err != nil {
			return err
		}
	}
	for _, s := range e.strategies {
		if err := s.Start(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) stop(ctx context.Context) error {
	var errList []error
	for _, s := range e.strategies {
		if s.IsRunning() {
			if err := s.Stop(); err != nil {
				errList = append(errList, fmt.Errorf("stop %s: %w", s.StrategyID(), err))
			}
		}
	}
	for _, a := range e.actors {
		if a.IsRunning() {
			if err := a.Stop(); err != nil {
				errList = append(errList, fmt.Errorf("stop %s: %w", a.ID(), err))
			}
		}
	}
	e.flush()
	if err := e.exec.Stop(ctx); err != nil {
		errList = append(errList, err)
	}
	if err := e.data.Stop(ctx); err != nil {
		errList = append(errList, err)
	}
	return observability.JoinFailures(e.log, "backtest stop", errList)
}

// Reset clears venue state, queued data, the cache's trading state and the
// equity curve so the engine can run again. Instruments are kept and every
// venue account reopens with its starting balances.
func (e *Engine) Reset() error {
	instruments := e.cache.Instruments("")
	e.cache.Reset()
	for _, inst := range instruments {
		if err := e.cache.AddInstrument(inst); err != nil {
			return err
		}
	}
	ts := e.clock.TimestampNs()
	for _, v := range e.venues {
		v.exchange.Reset()
		if err := v.client.openAccount(e.cache, ts); err != nil {
			return err
		}
	}
	e.queue = eventQueue{}
	heap.Init(&e.queue)
	e.feeders = nil
	e.iterations = 0
	e.equity = newEquityCurve()
	return nil
}

// Analytics summarises the run so far from the cache and the sampled equity curve.
func (e *Engine) Analytics() Analytics { return summarize(e.cache, e.equity) }

type eventItem struct {
	data      model.Data
	timestamp model.UnixNanos
	feeder    int
	index     int
}

type eventQueue []*eventItem

func (eq eventQueue) Len() int { return len(eq) }

// Less orders by time, then by feeder so ties replay in the order feeders were added.
func (eq eventQueue) Less(i, j int) bool {
	if eq[i].timestamp == eq[j].timestamp {
		return eq[i].feeder < eq[j].feeder
	}
	return eq[i].timestamp < eq[j].timestamp
}

func (eq eventQueue) Swap(i, j int) {
	eq[i], eq[j] = eq[j], eq[i]
	eq[i].index = i
	eq[j].index = j
}

func (eq *eventQueue) Push(x any) {
	item := x.(*eventItem)
	item.index = len(*eq)
	*eq = append(*eq, item)
}

func (eq *eventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	item.index = -1
	*eq = old[:n-1]
	return item
}
