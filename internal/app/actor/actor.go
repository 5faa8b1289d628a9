// Package actor provides DataActorCore, the registration, subscription,
// request and dispatch machinery that user actors and strategies compose.
package actor

import (
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/clock"
)

// Config identifies an actor.
type Config struct {
	ActorID     model.ComponentID `yaml:"actor_id"`
	LogEvents   bool              `yaml:"log_events"`
	LogCommands bool              `yaml:"log_commands"`
}

// Callbacks are the user hooks an actor implements. Embed NopCallbacks to
// implement only the ones you need.
type Callbacks interface {
	OnStart() error
	OnStop() error
	OnResume() error
	OnReset() error
	OnDispose() error
	OnDegrade() error
	OnFault() error

	OnTimeEvent(ev clock.TimeEvent)
	OnData(data model.CustomData)
	OnInstrument(inst model.Instrument)
	OnBookDeltas(deltas model.OrderBookDeltas)
	OnBookDepth10(depth model.OrderBookDepth10)
	OnBook(book *model.OrderBook)
	OnQuote(quote model.QuoteTick)
	OnTrade(trade model.TradeTick)
	OnBar(bar model.Bar)
	OnMarkPrice(update model.MarkPriceUpdate)
	OnIndexPrice(update model.IndexPriceUpdate)
	OnInstrumentStatus(status model.InstrumentStatus)
	OnInstrumentClose(closing model.InstrumentClose)

	OnHistoricalData(data []model.CustomData)
	OnHistoricalQuotes(quotes []model.QuoteTick)
	OnHistoricalTrades(trades []model.TradeTick)
	OnHistoricalBars(bars []model.Bar)
	// OnResponse sees every default-dispatched response before the typed callback.
	OnResponse(resp messages.DataResponse)
}

// NopCallbacks implements Callbacks with no-ops.
type NopCallbacks struct{}

func (NopCallbacks) OnStart() error   { return nil }
func (NopCallbacks) OnStop() error    { return nil }
func (NopCallbacks) OnResume() error  { return nil }
func (NopCallbacks) OnReset() error   { return nil }
func (NopCallbacks) OnDispose() error { return nil }
func (NopCallbacks) OnDegrade() error { return nil }
func (NopCallbacks) OnFault() error   { return nil }

func (NopCallbacks) OnTimeEvent(clock.TimeEvent)               {}
func (NopCallbacks) OnData(model.CustomData)                   {}
func (NopCallbacks) OnInstrument(model.Instrument)             {}
func (NopCallbacks) OnBookDeltas(model.OrderBookDeltas)        {}
func (NopCallbacks) OnBookDepth10(model.OrderBookDepth10)      {}
func (NopCallbacks) OnBook(*model.OrderBook)                   {}
func (NopCallbacks) OnQuote(model.QuoteTick)                   {}
func (NopCallbacks) OnTrade(model.TradeTick)                   {}
func (NopCallbacks) OnBar(model.Bar)                           {}
func (NopCallbacks) OnMarkPrice(model.MarkPriceUpdate)         {}
func (NopCallbacks) OnIndexPrice(model.IndexPriceUpdate)       {}
func (NopCallbacks) OnInstrumentStatus(model.InstrumentStatus) {}
func (NopCallbacks) OnInstrumentClose(model.InstrumentClose)   {}
func (NopCallbacks) OnHistoricalData([]model.CustomData)       {}
func (NopCallbacks) OnHistoricalQuotes([]model.QuoteTick)      {}
func (NopCallbacks) OnHistoricalTrades([]model.TradeTick)      {}
func (NopCallbacks) OnHistoricalBars([]model.Bar)              {}
func (NopCallbacks) OnResponse(messages.DataResponse)          {}
