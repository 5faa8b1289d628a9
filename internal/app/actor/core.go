package actor

import (
	"sync"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/app/component"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
)

// DataActorCore carries everything an actor needs to talk to the runtime.
// The trader id, clock and cache are bound exactly once by Register.
type DataActorCore struct {
	cfg       Config
	fsm       *component.FSM
	bus       *msgbus.MessageBus
	callbacks Callbacks
	log       observability.Logger

	mu            sync.Mutex
	clock         clock.Clock
	cache         *cache.Cache
	pending       map[model.UUID4]messages.DataKind
	topicHandlers map[msgbus.Topic]msgbus.MessageHandler
}

// New builds an unregistered actor core. A nil callbacks value uses NopCallbacks.
func New(cfg Config, bus *msgbus.MessageBus, callbacks Callbacks, logger observability.Logger) *DataActorCore {
	if bus == nil {
		panic(errs.New("actor", errs.CodeInvalid, errs.WithMessage("message bus required")))
	}
	if err := model.CheckValidString(string(cfg.ActorID), "actor_id"); err != nil {
		panic(err)
	}
	if callbacks == nil {
		callbacks = NopCallbacks{}
	}
	fsm := component.NewFSM(cfg.ActorID, logger)
	return &DataActorCore{
		cfg:           cfg,
		fsm:           fsm,
		bus:           bus,
		callbacks:     callbacks,
		log:           fsm.Logger(),
		pending:       make(map[model.UUID4]messages.DataKind),
		topicHandlers: make(map[msgbus.Topic]msgbus.MessageHandler),
	}
}

// Register binds the actor to a trader, clock and cache. It validates both
// collaborators before committing anything and moves the actor to Ready.
// The actor gets its own view of clk: its default timer handler and
// CancelTimers never reach timers owned by other components.
func (a *DataActorCore) Register(traderID model.TraderID, clk clock.Clock, c *cache.Cache) error {
	if a.fsm.IsRegistered() {
		return errs.New("actor/register", errs.CodeAlreadyRegistered,
			errs.WithMessage("actor already registered"),
			errs.WithField("actor_id", string(a.cfg.ActorID)))
	}
	if clk == nil {
		return errs.New("actor/register", errs.CodeInvalid, errs.WithMessage("clock required"))
	}
	_ = clk.TimestampNs()
	if c == nil {
		return errs.New("actor/register", errs.CodeInvalid, errs.WithMessage("cache required"))
	}
	_ = c.Instruments("")
	view, err := clock.NewComponentClock(clk, string(a.cfg.ActorID))
	if err != nil {
		return err
	}

	if err := a.fsm.Register(traderID); err != nil {
		return err
	}
	view.RegisterDefaultHandler(a.handleTimeEvent)
	a.mu.Lock()
	a.clock = view
	a.cache = c
	a.mu.Unlock()
	return a.fsm.Initialize()
}

// IsRegistered reports whether Register has succeeded.
func (a *DataActorCore) IsRegistered() bool { return a.fsm.IsRegistered() }

// ID returns the actor id.
func (a *DataActorCore) ID() model.ComponentID { return a.cfg.ActorID }

// Config returns the actor configuration.
func (a *DataActorCore) Config() Config { return a.cfg }

// TraderID returns the registered trader.
func (a *DataActorCore) TraderID() model.TraderID { return a.fsm.TraderID() }

// State returns the lifecycle state.
func (a *DataActorCore) State() component.State { return a.fsm.State() }

// IsRunning reports whether the actor dispatches data.
func (a *DataActorCore) IsRunning() bool { return a.fsm.IsRunning() }

// Bus returns the message bus.
func (a *DataActorCore) Bus() *msgbus.MessageBus { return a.bus }

// Log returns the actor-scoped logger.
func (a *DataActorCore) Log() observability.Logger { return a.log }

// Clock returns the registered clock. It panics before registration.
func (a *DataActorCore) Clock() clock.Clock {
	a.mustBeRegistered()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clock
}

// Cache returns the registered cache. It panics before registration.
func (a *DataActorCore) Cache() *cache.Cache {
	a.mustBeRegistered()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cache
}

// Start runs OnStart and moves the actor to Running.
func (a *DataActorCore) Start() error { return a.fsm.Start(a.callbacks.OnStart) }

// Stop runs OnStop, cancels the actor's timers and moves it to Stopped.
func (a *DataActorCore) Stop() error {
	return a.fsm.Stop(func() error {
		if err := a.callbacks.OnStop(); err != nil {
			return err
		}
		a.mu.Lock()
		clk := a.clock
		a.mu.Unlock()
		if clk != nil {
			clk.CancelTimers()
		}
		return nil
	})
}

// Resume runs OnResume and moves the actor back to Running.
func (a *DataActorCore) Resume() error { return a.fsm.Resume(a.callbacks.OnResume) }

// Reset runs OnReset and clears pending requests.
func (a *DataActorCore) Reset() error {
	return a.fsm.Reset(func() error {
		if err := a.callbacks.OnReset(); err != nil {
			return err
		}
		a.mu.Lock()
		for id := range a.pending {
			a.bus.CancelResponseHandler(id)
		}
		a.pending = make(map[model.UUID4]messages.DataKind)
		a.mu.Unlock()
		return nil
	})
}

// Dispose runs OnDispose and drops every topic subscription.
func (a *DataActorCore) Dispose() error {
	return a.fsm.Dispose(func() error {
		if err := a.callbacks.OnDispose(); err != nil {
			return err
		}
		a.mu.Lock()
		handlers := a.topicHandlers
		a.topicHandlers = make(map[msgbus.Topic]msgbus.MessageHandler)
		a.mu.Unlock()
		for topic, h := range handlers {
			a.bus.Unsubscribe(topic, h)
		}
		return nil
	})
}

// Degrade runs OnDegrade.
func (a *DataActorCore) Degrade() error { return a.fsm.Degrade(a.callbacks.OnDegrade) }

// Fault runs OnFault.
func (a *DataActorCore) Fault() error { return a.fsm.Fault(a.callbacks.OnFault) }

var _ component.Component = (*DataActorCore)(nil)

// ShutdownSystem asks the runner to stop the node.
func (a *DataActorCore) ShutdownSystem(reason string) {
	a.mustBeRegistered()
	a.bus.Send(msgbus.SystemShutdown, messages.ShutdownSystem{
		TraderID:    a.TraderID(),
		ComponentID: a.cfg.ActorID,
		Reason:      reason,
		CommandID:   model.NewUUID4(),
		TsInit:      a.Clock().TimestampNs(),
	})
}

// PublishData publishes custom data on its topic.
func (a *DataActorCore) PublishData(dt model.DataType, payload any) {
	a.mustBeRegistered()
	ts := a.Clock().TimestampNs()
	a.bus.Publish(a.bus.Switchboard().CustomTopic(dt), model.CustomData{
		DataType: dt,
		Value:    payload,
		TsEvent:  ts,
		TsInit:   ts,
	})
}

// PendingRequests returns the ids of requests still awaiting a response.
func (a *DataActorCore) PendingRequests() []model.UUID4 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.UUID4, 0, len(a.pending))
	for id := range a.pending {
		out = append(out, id)
	}
	return out
}

// IsPendingRequest reports whether id still awaits a response.
func (a *DataActorCore) IsPendingRequest(id model.UUID4) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.pending[id]
	return ok
}

func (a *DataActorCore) mustBeRegistered() {
	if !a.fsm.IsRegistered() {
		panic(errs.New("actor", errs.CodeNotRegistered,
			errs.WithMessage("actor has not been registered"),
			errs.WithField("actor_id", string(a.cfg.ActorID))))
	}
}

func (a *DataActorCore) now() model.UnixNanos { return a.Clock().TimestampNs() }
