package actor

import (
	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/observability"
)

// Subscription describes one subscribe or unsubscribe call. Extensions build
// these to add their own data kinds.
type Subscription struct {
	Kind     messages.DataKind
	Topic    msgbus.Topic
	Target   messages.Target
	ClientID model.ClientID
	Venue    model.Venue
	Params   map[string]string
	// Handler builds the bus handler the first time the topic is subscribed.
	Handler func(id string) msgbus.MessageHandler
}

// SubscribeWith subscribes the actor to s.Topic and, when a client id is
// given, asks the data engine to start the stream. Repeating a subscription
// reuses the stored handler.
func (a *DataActorCore) SubscribeWith(s Subscription) {
	a.mustBeRegistered()

	a.mu.Lock()
	h, ok := a.topicHandlers[s.Topic]
	if !ok {
		h = s.Handler(string(a.cfg.ActorID) + "-" + string(s.Topic))
		a.topicHandlers[s.Topic] = h
	}
	a.mu.Unlock()
	a.bus.Subscribe(s.Topic, h, 0)

	if s.ClientID == "" {
		return
	}
	cmd, err := messages.NewSubscribe(s.Kind, s.Target, s.ClientID, s.Venue, a.now(), s.Params)
	if err != nil {
		a.log.Error("subscribe command rejected", observability.F("topic", string(s.Topic)), observability.F("error", err.Error()))
		return
	}
	a.logCommand(cmd)
	a.bus.Send(msgbus.DataEngineQueueExecute, cmd)
}

// UnsubscribeWith reverses SubscribeWith. Unknown topics are ignored.
func (a *DataActorCore) UnsubscribeWith(s Subscription) {
	a.mustBeRegistered()

	a.mu.Lock()
	h, ok := a.topicHandlers[s.Topic]
	if ok {
		delete(a.topicHandlers, s.Topic)
	}
	a.mu.Unlock()
	if !ok {
		return
	}
	a.bus.Unsubscribe(s.Topic, h)

	if s.ClientID == "" {
		return
	}
	cmd, err := messages.NewUnsubscribe(s.Kind, s.Target, s.ClientID, s.Venue, a.now(), s.Params)
	if err != nil {
		a.log.Error("unsubscribe command rejected", observability.F("topic", string(s.Topic)), observability.F("error", err.Error()))
		return
	}
	a.logCommand(cmd)
	a.bus.Send(msgbus.DataEngineQueueExecute, cmd)
}

// IsSubscribed reports whether the actor holds a handler for topic.
func (a *DataActorCore) IsSubscribed(topic msgbus.Topic) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.topicHandlers[topic]
	return ok
}

func (a *DataActorCore) logCommand(cmd messages.DataCommand) {
	if a.cfg.LogCommands {
		h := cmd.Header()
		a.log.Info("command sent",
			observability.F("kind", string(h.Kind)),
			observability.F("client_id", string(h.ClientID)),
			observability.F("venue", string(h.Venue)),
			observability.F("command_id", h.ID.String()))
	}
}

func (a *DataActorCore) sb() *msgbus.Switchboard { return a.bus.Switchboard() }

// handlerFor wraps a typed dispatch function in a bus handler.
func handlerFor[T any](a *DataActorCore, fn func(T)) func(id string) msgbus.MessageHandler {
	return func(id string) msgbus.MessageHandler {
		return msgbus.NewTypedHandler[T](id, fn, func(msg any) {
			a.log.Warn("unexpected message type", observability.F("handler", id))
		})
	}
}

func instrumentSub(kind messages.DataKind, topic msgbus.Topic, id model.InstrumentID, clientID model.ClientID, params map[string]string) Subscription {
	return Subscription{
		Kind:     kind,
		Topic:    topic,
		Target:   messages.Target{InstrumentID: id},
		ClientID: clientID,
		Venue:    id.Venue,
		Params:   params,
	}
}

// SubscribeData subscribes to custom data of type dt.
func (a *DataActorCore) SubscribeData(dt model.DataType, clientID model.ClientID, params map[string]string) {
	a.SubscribeWith(a.dataSub(dt, clientID, params))
}

// UnsubscribeData unsubscribes from custom data of type dt.
func (a *DataActorCore) UnsubscribeData(dt model.DataType, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(a.dataSub(dt, clientID, params))
}

func (a *DataActorCore) dataSub(dt model.DataType, clientID model.ClientID, params map[string]string) Subscription {
	return Subscription{
		Kind:     messages.KindData,
		Topic:    a.sb().CustomTopic(dt),
		Target:   messages.Target{DataType: dt},
		ClientID: clientID,
		Params:   params,
		Handler:  handlerFor(a, a.handleData),
	}
}

// SubscribeInstruments subscribes to every instrument of venue.
func (a *DataActorCore) SubscribeInstruments(venue model.Venue, clientID model.ClientID, params map[string]string) {
	a.SubscribeWith(a.instrumentsSub(venue, clientID, params))
}

// UnsubscribeInstruments unsubscribes from the instruments of venue.
func (a *DataActorCore) UnsubscribeInstruments(venue model.Venue, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(a.instrumentsSub(venue, clientID, params))
}

func (a *DataActorCore) instrumentsSub(venue model.Venue, clientID model.ClientID, params map[string]string) Subscription {
	return Subscription{
		Kind:     messages.KindInstruments,
		Topic:    a.sb().InstrumentsTopic(venue),
		ClientID: clientID,
		Venue:    venue,
		Params:   params,
		Handler:  handlerFor(a, a.handleInstrument),
	}
}

// SubscribeInstrument subscribes to definition updates of one instrument.
func (a *DataActorCore) SubscribeInstrument(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	s := instrumentSub(messages.KindInstrument, a.sb().InstrumentTopic(id), id, clientID, params)
	s.Handler = handlerFor(a, a.handleInstrument)
	a.SubscribeWith(s)
}

// UnsubscribeInstrument unsubscribes from one instrument's definition updates.
func (a *DataActorCore) UnsubscribeInstrument(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(instrumentSub(messages.KindInstrument, a.sb().InstrumentTopic(id), id, clientID, params))
}

// BookOptions tune order book subscriptions.
type BookOptions struct {
	BookType model.BookType
	Depth    int
	Managed  bool
}

func bookTarget(id model.InstrumentID, opts BookOptions, intervalMs int) messages.Target {
	bt := opts.BookType
	if bt == "" {
		bt = model.BookTypeL2MBP
	}
	return messages.Target{InstrumentID: id, BookType: bt, Depth: opts.Depth, Managed: opts.Managed, IntervalMs: intervalMs}
}

// SubscribeBookDeltas subscribes to order book deltas.
func (a *DataActorCore) SubscribeBookDeltas(id model.InstrumentID, opts BookOptions, clientID model.ClientID, params map[string]string) {
	s := instrumentSub(messages.KindBookDeltas, a.sb().BookDeltasTopic(id), id, clientID, params)
	s.Target = bookTarget(id, opts, 0)
	s.Handler = handlerFor(a, a.handleBookDeltas)
	a.SubscribeWith(s)
}

// UnsubscribeBookDeltas unsubscribes from order book deltas.
func (a *DataActorCore) UnsubscribeBookDeltas(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(instrumentSub(messages.KindBookDeltas, a.sb().BookDeltasTopic(id), id, clientID, params))
}

// SubscribeBookDepth10 subscribes to ten-level depth snapshots.
func (a *DataActorCore) SubscribeBookDepth10(id model.InstrumentID, opts BookOptions, clientID model.ClientID, params map[string]string) {
	s := instrumentSub(messages.KindBookDepth10, a.sb().BookDepth10Topic(id), id, clientID, params)
	s.Target = bookTarget(id, opts, 0)
	s.Handler = handlerFor(a, a.handleBookDepth10)
	a.SubscribeWith(s)
}

// UnsubscribeBookDepth10 unsubscribes from depth snapshots.
func (a *DataActorCore) UnsubscribeBookDepth10(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(instrumentSub(messages.KindBookDepth10, a.sb().BookDepth10Topic(id), id, clientID, params))
}

// SubscribeBookAtInterval subscribes to book snapshots taken every intervalMs
// by the data engine. intervalMs must be positive.
func (a *DataActorCore) SubscribeBookAtInterval(id model.InstrumentID, opts BookOptions, intervalMs int, clientID model.ClientID, params map[string]string) {
	if intervalMs <= 0 {
		panic(errs.New("actor/subscribe", errs.CodeInvalid,
			errs.WithMessage("interval_ms must be positive"),
			errs.WithField("instrument_id", id.String())))
	}
	s := instrumentSub(messages.KindBookSnapshots, a.sb().BookSnapshotsTopic(id), id, clientID, params)
	s.Target = bookTarget(id, opts, intervalMs)
	s.Handler = handlerFor(a, a.handleBook)
	a.SubscribeWith(s)
}

// UnsubscribeBookAtInterval unsubscribes from interval book snapshots.
func (a *DataActorCore) UnsubscribeBookAtInterval(id model.InstrumentID, intervalMs int, clientID model.ClientID, params map[string]string) {
	s := instrumentSub(messages.KindBookSnapshots, a.sb().BookSnapshotsTopic(id), id, clientID, params)
	s.Target.IntervalMs = intervalMs
	a.UnsubscribeWith(s)
}

// SubscribeQuotes subscribes to quotes.
func (a *DataActorCore) SubscribeQuotes(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	s := instrumentSub(messages.KindQuotes, a.sb().QuotesTopic(id), id, clientID, params)
	s.Handler = handlerFor(a, a.handleQuote)
	a.SubscribeWith(s)
}

// UnsubscribeQuotes unsubscribes from quotes.
func (a *DataActorCore) UnsubscribeQuotes(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(instrumentSub(messages.KindQuotes, a.sb().QuotesTopic(id), id, clientID, params))
}

// SubscribeTrades subscribes to trades.
func (a *DataActorCore) SubscribeTrades(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	s := instrumentSub(messages.KindTrades, a.sb().TradesTopic(id), id, clientID, params)
	s.Handler = handlerFor(a, a.handleTrade)
	a.SubscribeWith(s)
}

// UnsubscribeTrades unsubscribes from trades.
func (a *DataActorCore) UnsubscribeTrades(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(instrumentSub(messages.KindTrades, a.sb().TradesTopic(id), id, clientID, params))
}

// SubscribeBars subscribes to bars of bt.
func (a *DataActorCore) SubscribeBars(bt model.BarType, clientID model.ClientID, params map[string]string) {
	s := a.barsSub(bt, clientID, params)
	s.Handler = handlerFor(a, a.handleBar)
	a.SubscribeWith(s)
}

// UnsubscribeBars unsubscribes from bars of bt.
func (a *DataActorCore) UnsubscribeBars(bt model.BarType, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(a.barsSub(bt, clientID, params))
}

func (a *DataActorCore) barsSub(bt model.BarType, clientID model.ClientID, params map[string]string) Subscription {
	return Subscription{
		Kind:     messages.KindBars,
		Topic:    a.sb().BarsTopic(bt),
		Target:   messages.Target{BarType: bt, InstrumentID: bt.InstrumentID},
		ClientID: clientID,
		Venue:    bt.InstrumentID.Venue,
		Params:   params,
	}
}

// SubscribeMarkPrices subscribes to mark prices.
func (a *DataActorCore) SubscribeMarkPrices(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	s := instrumentSub(messages.KindMarkPrices, a.sb().MarkPriceTopic(id), id, clientID, params)
	s.Handler = handlerFor(a, a.handleMarkPrice)
	a.SubscribeWith(s)
}

// UnsubscribeMarkPrices unsubscribes from mark prices.
func (a *DataActorCore) UnsubscribeMarkPrices(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(instrumentSub(messages.KindMarkPrices, a.sb().MarkPriceTopic(id), id, clientID, params))
}

// SubscribeIndexPrices subscribes to index prices.
func (a *DataActorCore) SubscribeIndexPrices(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	s := instrumentSub(messages.KindIndexPrices, a.sb().IndexPriceTopic(id), id, clientID, params)
	s.Handler = handlerFor(a, a.handleIndexPrice)
	a.SubscribeWith(s)
}

// UnsubscribeIndexPrices unsubscribes from index prices.
func (a *DataActorCore) UnsubscribeIndexPrices(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(instrumentSub(messages.KindIndexPrices, a.sb().IndexPriceTopic(id), id, clientID, params))
}

// SubscribeInstrumentStatus subscribes to market status changes.
func (a *DataActorCore) SubscribeInstrumentStatus(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	s := instrumentSub(messages.KindInstrumentStatus, a.sb().InstrumentStatusTopic(id), id, clientID, params)
	s.Handler = handlerFor(a, a.handleInstrumentStatus)
	a.SubscribeWith(s)
}

// UnsubscribeInstrumentStatus unsubscribes from market status changes.
func (a *DataActorCore) UnsubscribeInstrumentStatus(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(instrumentSub(messages.KindInstrumentStatus, a.sb().InstrumentStatusTopic(id), id, clientID, params))
}

// SubscribeInstrumentClose subscribes to close prices.
func (a *DataActorCore) SubscribeInstrumentClose(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	s := instrumentSub(messages.KindInstrumentClose, a.sb().InstrumentCloseTopic(id), id, clientID, params)
	s.Handler = handlerFor(a, a.handleInstrumentClose)
	a.SubscribeWith(s)
}

// UnsubscribeInstrumentClose unsubscribes from close prices.
func (a *DataActorCore) UnsubscribeInstrumentClose(id model.InstrumentID, clientID model.ClientID, params map[string]string) {
	a.UnsubscribeWith(instrumentSub(messages.KindInstrumentClose, a.sb().InstrumentCloseTopic(id), id, clientID, params))
}
