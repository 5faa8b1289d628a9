package actor

import (
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
)

// Running reports whether data for kind may be dispatched, logging a warning
// when the actor is not running. Extensions use it to guard their handlers.
func (a *DataActorCore) Running(kind string) bool {
	if a.fsm.IsRunning() {
		return true
	}
	a.log.Warn("received data while not running, dropped",
		observability.F("kind", kind), observability.F("state", string(a.fsm.State())))
	return false
}

func (a *DataActorCore) logEvent(kind string, v any) {
	if a.cfg.LogEvents {
		a.log.Debug("received", observability.F("kind", kind), observability.F("data", v))
	}
}

// Time events bypass the running guard so timers set during start still fire.
func (a *DataActorCore) handleTimeEvent(ev clock.TimeEvent) {
	a.logEvent("time_event", ev.Name)
	a.callbacks.OnTimeEvent(ev)
}

func (a *DataActorCore) handleData(d model.CustomData) {
	if !a.Running("data") {
		return
	}
	a.logEvent("data", d.DataType.Topic())
	a.callbacks.OnData(d)
}

func (a *DataActorCore) handleInstrument(inst model.Instrument) {
	if !a.Running("instrument") {
		return
	}
	a.logEvent("instrument", inst.ID.String())
	a.callbacks.OnInstrument(inst)
}

func (a *DataActorCore) handleBookDeltas(deltas model.OrderBookDeltas) {
	if !a.Running("book_deltas") {
		return
	}
	a.callbacks.OnBookDeltas(deltas)
}

func (a *DataActorCore) handleBookDepth10(depth model.OrderBookDepth10) {
	if !a.Running("book_depth10") {
		return
	}
	a.callbacks.OnBookDepth10(depth)
}

func (a *DataActorCore) handleBook(book *model.OrderBook) {
	if !a.Running("book") {
		return
	}
	a.callbacks.OnBook(book)
}

func (a *DataActorCore) handleQuote(q model.QuoteTick) {
	if !a.Running("quote") {
		return
	}
	a.logEvent("quote", q.InstrumentID.String())
	a.callbacks.OnQuote(q)
}

func (a *DataActorCore) handleTrade(t model.TradeTick) {
	if !a.Running("trade") {
		return
	}
	a.logEvent("trade", t.InstrumentID.String())
	a.callbacks.OnTrade(t)
}

func (a *DataActorCore) handleBar(b model.Bar) {
	if !a.Running("bar") {
		return
	}
	a.logEvent("bar", b.BarType.String())
	a.callbacks.OnBar(b)
}

func (a *DataActorCore) handleMarkPrice(m model.MarkPriceUpdate) {
	if !a.Running("mark_price") {
		return
	}
	a.callbacks.OnMarkPrice(m)
}

func (a *DataActorCore) handleIndexPrice(p model.IndexPriceUpdate) {
	if !a.Running("index_price") {
		return
	}
	a.callbacks.OnIndexPrice(p)
}

func (a *DataActorCore) handleInstrumentStatus(s model.InstrumentStatus) {
	if !a.Running("instrument_status") {
		return
	}
	a.callbacks.OnInstrumentStatus(s)
}

func (a *DataActorCore) handleInstrumentClose(c model.InstrumentClose) {
	if !a.Running("instrument_close") {
		return
	}
	a.callbacks.OnInstrumentClose(c)
}

// handleResponse is the default dispatcher for request responses. Responses
// bypass the running guard: historical data is often requested during start.
func (a *DataActorCore) handleResponse(resp messages.DataResponse) {
	a.mu.Lock()
	delete(a.pending, resp.CorrelationID)
	a.mu.Unlock()

	a.callbacks.OnResponse(resp)
	switch data := resp.Data.(type) {
	case []model.CustomData:
		a.callbacks.OnHistoricalData(data)
	case model.Instrument:
		a.callbacks.OnInstrument(data)
	case []model.Instrument:
		for _, inst := range data {
			a.callbacks.OnInstrument(inst)
		}
	case *model.OrderBook:
		a.callbacks.OnBook(data)
	case []model.QuoteTick:
		a.callbacks.OnHistoricalQuotes(data)
	case []model.TradeTick:
		a.callbacks.OnHistoricalTrades(data)
	case []model.Bar:
		a.callbacks.OnHistoricalBars(data)
	case nil:
		a.log.Warn("empty response", observability.F("kind", string(resp.Kind)),
			observability.F("correlation_id", resp.CorrelationID.String()))
	default:
		a.log.Warn("unhandled response payload", observability.F("kind", string(resp.Kind)))
	}
}
