// Package trading extends the actor core with order management: an order
// factory bound to the strategy, trading commands routed to the execution
// engine and callbacks for the strategy's order and position events.
package trading

import (
	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/app/actor"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/domain/position"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
)

// Config identifies a strategy.
type Config struct {
	StrategyID  model.StrategyID `yaml:"strategy_id"`
	ClientID    model.ClientID   `yaml:"client_id"`
	OmsType     model.OmsType    `yaml:"oms_type"`
	LogEvents   bool             `yaml:"log_events"`
	LogCommands bool             `yaml:"log_commands"`
}

// Callbacks are the strategy hooks on top of the actor callbacks. Embed
// NopCallbacks to implement only what you need.
type Callbacks interface {
	actor.Callbacks

	// OnOrderEvent sees every order event before the typed callback.
	OnOrderEvent(ev events.OrderEvent)
	OnOrderAccepted(ev events.OrderAccepted)
	OnOrderRejected(ev events.OrderRejected)
	OnOrderDenied(ev events.OrderDenied)
	OnOrderCanceled(ev events.OrderCanceled)
	OnOrderExpired(ev events.OrderExpired)
	OnOrderTriggered(ev events.OrderTriggered)
	OnOrderUpdated(ev events.OrderUpdated)
	OnOrderFilled(ev events.OrderFilled)

	OnPositionOpened(ev position.PositionOpened)
	OnPositionChanged(ev position.PositionChanged)
	OnPositionClosed(ev position.PositionClosed)
}

// NopCallbacks implements Callbacks with no-ops.
type NopCallbacks struct {
	actor.NopCallbacks
}

func (NopCallbacks) OnOrderEvent(events.OrderEvent)             {}
func (NopCallbacks) OnOrderAccepted(events.OrderAccepted)       {}
func (NopCallbacks) OnOrderRejected(events.OrderRejected)       {}
func (NopCallbacks) OnOrderDenied(events.OrderDenied)           {}
func (NopCallbacks) OnOrderCanceled(events.OrderCanceled)       {}
func (NopCallbacks) OnOrderExpired(events.OrderExpired)         {}
func (NopCallbacks) OnOrderTriggered(events.OrderTriggered)     {}
func (NopCallbacks) OnOrderUpdated(events.OrderUpdated)         {}
func (NopCallbacks) OnOrderFilled(events.OrderFilled)           {}
func (NopCallbacks) OnPositionOpened(position.PositionOpened)   {}
func (NopCallbacks) OnPositionChanged(position.PositionChanged) {}
func (NopCallbacks) OnPositionClosed(position.PositionClosed)   {}

// Strategy is a DataActorCore that can trade.
type Strategy struct {
	*actor.DataActorCore

	cfg     Config
	cb      Callbacks
	factory *orders.Factory
}

// NewStrategy builds an unregistered strategy. A nil cb uses NopCallbacks.
func NewStrategy(cfg Config, bus *msgbus.MessageBus, cb Callbacks, logger observability.Logger) *Strategy {
	if err := model.CheckValidString(string(cfg.StrategyID), "strategy_id"); err != nil {
		panic(err)
	}
	if cb == nil {
		cb = NopCallbacks{}
	}
	if cfg.OmsType == "" {
		cfg.OmsType = model.OmsTypeUnspecified
	}
	core := actor.New(actor.Config{
		ActorID:     model.ComponentID(cfg.StrategyID),
		LogEvents:   cfg.LogEvents,
		LogCommands: cfg.LogCommands,
	}, bus, cb, logger)
	return &Strategy{DataActorCore: core, cfg: cfg, cb: cb}
}

// Register binds the strategy, creates its order factory and subscribes to
// its order and position event topics.
func (s *Strategy) Register(traderID model.TraderID, clk clock.Clock, c *cache.Cache) error {
	if err := s.DataActorCore.Register(traderID, clk, c); err != nil {
		return err
	}
	s.factory = orders.NewFactory(traderID, s.cfg.StrategyID, clk.TimestampNs)

	sb := s.Bus().Switchboard()
	s.SubscribeWith(actor.Subscription{
		Topic: sb.OrderEventsTopic(s.cfg.StrategyID),
		Handler: func(id string) msgbus.MessageHandler {
			return msgbus.NewHandler(id, s.handleOrderEvent)
		},
	})
	s.SubscribeWith(actor.Subscription{
		Topic: sb.PositionEventsTopic(s.cfg.StrategyID),
		Handler: func(id string) msgbus.MessageHandler {
			return msgbus.NewHandler(id, s.handlePositionEvent)
		},
	})
	return nil
}

// StrategyID returns the strategy id.
func (s *Strategy) StrategyID() model.StrategyID { return s.cfg.StrategyID }

// OmsType returns the order management system type the strategy asks for.
func (s *Strategy) OmsType() model.OmsType { return s.cfg.OmsType }

// OrderFactory returns the factory minting this strategy's orders.
func (s *Strategy) OrderFactory() *orders.Factory {
	if s.factory == nil {
		panic(errs.New("trading", errs.CodeNotRegistered,
			errs.WithMessage("strategy has not been registered"),
			errs.WithField("strategy_id", s.cfg.StrategyID.String())))
	}
	return s.factory
}

func (s *Strategy) handleOrderEvent(msg any) {
	ev, ok := msg.(events.OrderEvent)
	if !ok {
		s.Log().Warn("unexpected order event type")
		return
	}
	if !s.Running("order_event") {
		return
	}
	s.cb.OnOrderEvent(ev)
	switch e := ev.(type) {
	case events.OrderAccepted:
		s.cb.OnOrderAccepted(e)
	case events.OrderRejected:
		s.cb.OnOrderRejected(e)
	case events.OrderDenied:
		s.cb.OnOrderDenied(e)
	case events.OrderCanceled:
		s.cb.OnOrderCanceled(e)
	case events.OrderExpired:
		s.cb.OnOrderExpired(e)
	case events.OrderTriggered:
		s.cb.OnOrderTriggered(e)
	case events.OrderUpdated:
		s.cb.OnOrderUpdated(e)
	case events.OrderFilled:
		s.cb.OnOrderFilled(e)
	}
}

func (s *Strategy) handlePositionEvent(msg any) {
	if !s.Running("position_event") {
		return
	}
	switch e := msg.(type) {
	case position.PositionOpened:
		s.cb.OnPositionOpened(e)
	case position.PositionChanged:
		s.cb.OnPositionChanged(e)
	case position.PositionClosed:
		s.cb.OnPositionClosed(e)
	default:
		s.Log().Warn("unexpected position event type")
	}
}
