package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coachpo/quanta/internal/app/actor"
	"github.com/coachpo/quanta/internal/app/data"
	"github.com/coachpo/quanta/internal/app/execution"
	"github.com/coachpo/quanta/internal/app/trading"
	"github.com/coachpo/quanta/internal/backtest"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/observability"
)

const defaultVenueInterval = 50 * time.Millisecond

// Config configures a LiveRunner.
type Config struct {
	Exec execution.Config
	// VenueInterval paces paper venues releasing commands delayed by latency.
	VenueInterval time.Duration
	// StopTimeout bounds disconnecting clients after the loop exits.
	StopTimeout time.Duration
}

// Stats summarises a finished live run.
type Stats struct {
	Data      uint64
	Responses uint64
	Timers    uint64
	Reason    string
}

// LiveRunner pumps queued events through the engines on one goroutine until
// its context is canceled or a ShutdownSystem command arrives.
type LiveRunner struct {
	cfg  Config
	rt   *Runtime
	data *data.Engine
	exec *execution.Engine
	log  observability.Logger

	paper      []*backtest.SimulatedExchange
	strategies []*trading.Strategy
	actors     []*actor.DataActorCore

	shutdownOnce sync.Once
	shutdown     chan messages.ShutdownSystem
	stats        Stats
}

// NewLiveRunner wires the data and execution engines onto rt.
func NewLiveRunner(cfg Config, rt *Runtime, logger observability.Logger) *LiveRunner {
	if logger == nil {
		logger = observability.Log()
	}
	if cfg.VenueInterval <= 0 {
		cfg.VenueInterval = defaultVenueInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	r := &LiveRunner{
		cfg:      cfg,
		rt:       rt,
		data:     data.NewEngine(rt.Bus, rt.Cache, rt.Clock, logger),
		exec:     execution.NewEngine(cfg.Exec, rt.Bus, rt.Cache, rt.Clock, logger),
		log:      logger.With(observability.F("component", "LiveRunner")),
		shutdown: make(chan messages.ShutdownSystem, 1),
	}
	rt.Bus.RegisterEndpoint(msgbus.SystemShutdown, msgbus.NewTypedHandler[messages.ShutdownSystem](
		"LiveRunner.shutdown", r.onShutdown, nil))
	return r
}

func (r *LiveRunner) Runtime() *Runtime             { return r.rt }
func (r *LiveRunner) DataEngine() *data.Engine      { return r.data }
func (r *LiveRunner) ExecEngine() *execution.Engine { return r.exec }
func (r *LiveRunner) Sink() data.Sink               { return r.rt.Sink() }
func (r *LiveRunner) Stats() Stats                  { return r.stats }

// PaperVenues returns the simulated exchanges trading on live data.
func (r *LiveRunner) PaperVenues() []*backtest.SimulatedExchange {
	return append([]*backtest.SimulatedExchange(nil), r.paper...)
}

// AddDataClient registers a live data client. Routing clients receive every
// command that names no known client or venue.
func (r *LiveRunner) AddDataClient(c data.Client, routing bool) error {
	if routing {
		return r.data.RegisterDefaultClient(c)
	}
	return r.data.RegisterClient(c)
}

// AddExecClient registers a live execution client.
func (r *LiveRunner) AddExecClient(c execution.Client, routing bool) error {
	if routing {
		return r.exec.RegisterDefaultClient(c)
	}
	return r.exec.RegisterClient(c)
}

// AddPaperVenue runs a simulated exchange against live data on the wall clock.
func (r *LiveRunner) AddPaperVenue(ec backtest.ExchangeConfig, cc backtest.ClientConfig) (*backtest.ExecutionClient, error) {
	if ec.Venue == "" {
		return nil, errors.New("runner: paper venue required")
	}
	for _, ex := range r.paper {
		if ex.Venue() == ec.Venue {
			return nil, fmt.Errorf("runner: paper venue %s already added", ec.Venue)
		}
	}
	ex := backtest.NewSimulatedExchange(ec, r.rt.Cache, r.rt.Clock, r.log)
	if cc.TraderID == "" {
		cc.TraderID = r.rt.TraderID
	}
	client, err := backtest.NewExecutionClient(cc, ex, r.rt.Bus, r.rt.Cache, r.rt.Clock, r.log)
	if err != nil {
		return nil, err
	}
	if err := r.AddExecClient(client, client.IsRouting()); err != nil {
		return nil, err
	}
	r.paper = append(r.paper, ex)
	return client, nil
}

// AddStrategy registers s against the runtime.
func (r *LiveRunner) AddStrategy(s *trading.Strategy) error {
	if err := s.Register(r.rt.TraderID, r.rt.Clock, r.rt.Cache); err != nil {
		return err
	}
	r.exec.RegisterOmsType(s.StrategyID(), s.OmsType())
	r.strategies = append(r.strategies, s)
	return nil
}

// AddActor registers a non-trading actor against the runtime.
func (r *LiveRunner) AddActor(a *actor.DataActorCore) error {
	if err := a.Register(r.rt.TraderID, r.rt.Clock, r.rt.Cache); err != nil {
		return err
	}
	r.actors = append(r.actors, a)
	return nil
}

func (r *LiveRunner) onShutdown(cmd messages.ShutdownSystem) {
	r.shutdownOnce.Do(func() {
		r.log.Info("shutdown requested",
			observability.F("component_id", cmd.ComponentID.String()),
			observability.F("reason", cmd.Reason))
		r.shutdown <- cmd
	})
}

// Run starts everything, pumps events until ctx is done or shutdown is
// requested, then stops components and disconnects clients.
func (r *LiveRunner) Run(ctx context.Context) error {
	if err := r.start(ctx); err != nil {
		stopErr := r.stop()
		return errors.Join(err, stopErr)
	}
	r.log.Info("live runner started",
		observability.F("strategies", len(r.strategies)),
		observability.F("actors", len(r.actors)),
		observability.F("paper_venues", len(r.paper)),
		observability.F("queue_capacity", r.rt.Queue.Cap()))

	r.loop(ctx)
	err := r.stop()
	r.log.Info("live runner stopped",
		observability.F("data", r.stats.Data),
		observability.F("responses", r.stats.Responses),
		observability.F("timers", r.stats.Timers),
		observability.F("reason", r.stats.Reason))
	return err
}

func (r *LiveRunner) loop(ctx context.Context) {
	var tick <-chan time.Time
	if len(r.paper) > 0 {
		ticker := time.NewTicker(r.cfg.VenueInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		if r.stopping(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			r.stats.Reason = ctx.Err().Error()
			return
		case cmd := <-r.shutdown:
			r.stats.Reason = cmd.Reason
			return
		case ev, ok := <-r.rt.Queue.C():
			if !ok {
				r.stats.Reason = ErrQueueClosed.Error()
				return
			}
			r.Handle(ev)
		case <-tick:
			r.processVenues()
		}
	}
}

// stopping reports a pending stop ahead of queued events.
func (r *LiveRunner) stopping(ctx context.Context) bool {
	select {
	case cmd := <-r.shutdown:
		r.stats.Reason = cmd.Reason
		return true
	default:
	}
	if err := ctx.Err(); err != nil {
		r.stats.Reason = err.Error()
		return true
	}
	return false
}

// Handle delivers one event on the caller's goroutine. Paper venues see data
// before the data engine publishes it.
func (r *LiveRunner) Handle(ev Event) {
	switch ev.Kind {
	case EventData:
		r.stats.Data++
		r.processVenues()
		if md, ok := ev.Data.(model.Data); ok {
			for _, ex := range r.paper {
				ex.ProcessData(md)
			}
		}
		r.rt.Bus.Send(msgbus.DataEngineProcess, ev.Data)
	case EventResponse:
		r.stats.Responses++
		r.rt.Bus.Send(msgbus.DataEngineResponse, ev.Response)
	case EventTimer:
		r.stats.Timers++
		r.processVenues()
		ev.Timer.Run()
	default:
		r.log.Warn("unknown runner event", observability.F("kind", ev.Kind.String()))
		return
	}
	r.processVenues()
}

func (r *LiveRunner) processVenues() {
	if len(r.paper) == 0 {
		return
	}
	now := r.rt.Clock.TimestampNs()
	for _, ex := range r.paper {
		ex.Process(now)
	}
}

func (r *LiveRunner) start(ctx context.Context) error {
	if err := r.data.Start(ctx); err != nil {
		return err
	}
	if err := r.exec.Start(ctx); err != nil {
		return err
	}
	for _, a := range r.actors {
		if err := a.Start(); err != nil {
			return err
		}
	}
	for _, s := range r.strategies {
		if err := s.Start(); err != nil {
			return err
		}
	}
	return nil
}

// stop runs with its own deadline: the run context is usually already done.
func (r *LiveRunner) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.StopTimeout)
	defer cancel()

	var errList []error
	for _, s := range r.strategies {
		if s.IsRunning() {
			if err := s.Stop(); err != nil {
				errList = append(errList, fmt.Errorf("stop %s: %w", s.StrategyID(), err))
			}
		}
	}
	for _, a := range r.actors {
		if a.IsRunning() {
			if err := a.Stop(); err != nil {
				errList = append(errList, fmt.Errorf("stop %s: %w", a.ID(), err))
			}
		}
	}
	r.processVenues()
	if r.exec.State().IsRunning() {
		if err := r.exec.Stop(ctx); err != nil {
			errList = append(errList, err)
		}
	}
	if r.data.State().IsRunning() {
		if err := r.data.Stop(ctx); err != nil {
			errList = append(errList, err)
		}
	}
	r.rt.Clock.CancelTimers()
	r.rt.Queue.Close()
	return observability.JoinFailures(r.log, "live runner stop", errList)
}
