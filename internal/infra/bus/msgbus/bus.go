// Package msgbus routes messages between actors, engines and clients.
//
// Topics fan out to every matching subscriber (publish/subscribe). Endpoints
// deliver to exactly one registered handler (point-to-point). Response
// handlers are keyed by correlation id and fire once.
package msgbus

import (
	"context"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/observability"
	"github.com/coachpo/quanta/internal/telemetry"
)

// Topic is a publish/subscribe channel name or pattern.
type Topic string

// Endpoint is a point-to-point address.
type Endpoint string

func (t Topic) String() string    { return string(t) }
func (e Endpoint) String() string { return string(e) }

// Subscription binds a handler to a topic pattern.
type Subscription struct {
	Pattern  Topic
	Handler  MessageHandler
	Priority uint8
	seq      uint64
}

// MessageBus is owned by a single runtime. Handlers run synchronously on the
// caller's goroutine and may re-enter the bus.
type MessageBus struct {
	traderID model.TraderID
	log      observability.Logger
	sb       *Switchboard

	mu         sync.RWMutex
	subs       []*Subscription
	matches    map[Topic][]*Subscription
	endpoints  map[Endpoint]MessageHandler
	correlated map[model.UUID4]MessageHandler
	seq        uint64

	sentCount      uint64
	publishedCount uint64
	responseCount  uint64

	publishCounter metric.Int64Counter
	sendCounter    metric.Int64Counter
	droppedCounter metric.Int64Counter
	fanout         metric.Int64Histogram
}

// New creates a bus for the given trader. A nil logger falls back to the global one.
func New(traderID model.TraderID, logger observability.Logger) *MessageBus {
	if logger == nil {
		logger = observability.Log()
	}
	b := &MessageBus{
		traderID:   traderID,
		log:        logger.With(observability.F("component", "MessageBus")),
		sb:         NewSwitchboard(),
		matches:    make(map[Topic][]*Subscription),
		endpoints:  make(map[Endpoint]MessageHandler),
		correlated: make(map[model.UUID4]MessageHandler),
	}

	meter := otel.Meter("msgbus")
	b.publishCounter, _ = meter.Int64Counter("msgbus.publish.count",
		metric.WithDescription("Number of messages published to topics"),
		metric.WithUnit("{message}"))
	b.sendCounter, _ = meter.Int64Counter("msgbus.send.count",
		metric.WithDescription("Number of messages sent to endpoints"),
		metric.WithUnit("{message}"))
	b.droppedCounter, _ = meter.Int64Counter("msgbus.dropped",
		metric.WithDescription("Number of messages dropped for lack of a handler"),
		metric.WithUnit("{message}"))
	b.fanout, _ = meter.Int64Histogram("msgbus.publish.fanout",
		metric.WithDescription("Number of subscribers per publish"),
		metric.WithUnit("{subscriber}"))
	return b
}

// TraderID returns the owning trader.
func (b *MessageBus) TraderID() model.TraderID { return b.traderID }

// Switchboard returns the bus's topic builder.
func (b *MessageBus) Switchboard() *Switchboard { return b.sb }

// Subscribe registers h on pattern. Higher priority handlers run first; equal
// priorities run in subscription order. A repeated (pattern, handler id) is ignored.
func (b *MessageBus) Subscribe(pattern Topic, h MessageHandler, priority uint8) {
	validateName("topic", string(pattern))
	if h == nil {
		panic(errs.New("msgbus/subscribe", errs.CodeInvalid, errs.WithMessage("handler required")))
	}

	b.mu.Lock()
	for _, s := range b.subs {
		if s.Pattern == pattern && s.Handler.ID() == h.ID() {
			b.mu.Unlock()
			b.log.Warn("handler already subscribed",
				observability.F("topic", string(pattern)), observability.F("handler", h.ID()))
			return
		}
	}
	b.seq++
	sub := &Subscription{Pattern: pattern, Handler: h, Priority: priority, seq: b.seq}
	b.subs = append(b.subs, sub)
	for topic, subs := range b.matches {
		if IsMatching(string(topic), string(pattern)) {
			b.matches[topic] = sortSubs(append(subs, sub))
		}
	}
	b.mu.Unlock()

	b.log.Debug("subscribed", observability.F("topic", string(pattern)), observability.F("handler", h.ID()))
}

// Unsubscribe removes h from pattern. Unknown pairs are ignored.
func (b *MessageBus) Unsubscribe(pattern Topic, h MessageHandler) {
	validateName("topic", string(pattern))
	if h == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	idx := -1
	for i, s := range b.subs {
		if s.Pattern == pattern && s.Handler.ID() == h.ID() {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	removed := b.subs[idx]
	b.subs = append(b.subs[:idx], b.subs[idx+1:]...)
	for topic, subs := range b.matches {
		kept := subs[:0:0]
		for _, s := range subs {
			if s != removed {
				kept = append(kept, s)
			}
		}
		b.matches[topic] = kept
	}
	b.log.Debug("unsubscribed", observability.F("topic", string(pattern)), observability.F("handler", h.ID()))
}

// IsSubscribed reports whether h is subscribed to pattern.
func (b *MessageBus) IsSubscribed(pattern Topic, h MessageHandler) bool {
	if h == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.Pattern == pattern && s.Handler.ID() == h.ID() {
			return true
		}
	}
	return false
}

// Subscriptions returns the subscriptions whose pattern matches topic, in delivery order.
func (b *MessageBus) Subscriptions(topic Topic) []Subscription {
	subs := b.matching(topic)
	out := make([]Subscription, len(subs))
	for i, s := range subs {
		out[i] = *s
	}
	return out
}

// HasSubscribers reports whether anything would receive a publish on topic.
func (b *MessageBus) HasSubscribers(topic Topic) bool {
	return len(b.matching(topic)) > 0
}

// Topics lists the distinct subscribed patterns, sorted.
func (b *MessageBus) Topics() []Topic {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seen := make(map[Topic]struct{}, len(b.subs))
	out := make([]Topic, 0, len(b.subs))
	for _, s := range b.subs {
		if _, ok := seen[s.Pattern]; ok {
			continue
		}
		seen[s.Pattern] = struct{}{}
		out = append(out, s.Pattern)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Publish delivers msg to every subscriber matching topic.
func (b *MessageBus) Publish(topic Topic, msg any) {
	validateName("topic", string(topic))
	subs := b.matching(topic)

	b.mu.Lock()
	b.publishedCount++
	b.mu.Unlock()

	ctx := context.Background()
	attrs := metric.WithAttributes(telemetry.BusAttributes(string(topic), "")...)
	if b.publishCounter != nil {
		b.publishCounter.Add(ctx, 1, attrs)
	}
	if b.fanout != nil {
		b.fanout.Record(ctx, int64(len(subs)), attrs)
	}
	for _, s := range subs {
		s.Handler.Handle(msg)
	}
}

// RegisterEndpoint binds h to endpoint. Registering an occupied endpoint panics.
func (b *MessageBus) RegisterEndpoint(endpoint Endpoint, h MessageHandler) {
	validateName("endpoint", string(endpoint))
	if h == nil {
		panic(errs.New("msgbus/register", errs.CodeInvalid, errs.WithMessage("handler required")))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.endpoints[endpoint]; ok {
		panic(errs.New("msgbus/register", errs.CodeAlreadyRegistered,
			errs.WithMessage("endpoint already registered"),
			errs.WithField("endpoint", string(endpoint)),
			errs.WithField("handler", existing.ID())))
	}
	b.endpoints[endpoint] = h
	b.log.Debug("endpoint registered", observability.F("endpoint", string(endpoint)), observability.F("handler", h.ID()))
}

// DeregisterEndpoint removes the handler bound to endpoint, if any.
func (b *MessageBus) DeregisterEndpoint(endpoint Endpoint) {
	b.mu.Lock()
	delete(b.endpoints, endpoint)
	b.mu.Unlock()
}

// IsRegistered reports whether endpoint has a handler.
func (b *MessageBus) IsRegistered(endpoint Endpoint) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.endpoints[endpoint]
	return ok
}

// Endpoints lists the registered endpoints, sorted.
func (b *MessageBus) Endpoints() []Endpoint {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Endpoint, 0, len(b.endpoints))
	for e := range b.endpoints {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Send delivers msg to the handler at endpoint. Without a handler the message
// is logged and dropped.
func (b *MessageBus) Send(endpoint Endpoint, msg any) {
	b.mu.Lock()
	h, ok := b.endpoints[endpoint]
	if ok {
		b.sentCount++
	}
	b.mu.Unlock()

	ctx := context.Background()
	attrs := metric.WithAttributes(telemetry.BusAttributes("", string(endpoint))...)
	if !ok {
		if b.droppedCounter != nil {
			b.droppedCounter.Add(ctx, 1, attrs)
		}
		b.log.Warn("no handler registered for endpoint, message dropped",
			observability.F("endpoint", string(endpoint)))
		return
	}
	if b.sendCounter != nil {
		b.sendCounter.Add(ctx, 1, attrs)
	}
	h.Handle(msg)
}

// RegisterResponseHandler binds h to a request's correlation id.
func (b *MessageBus) RegisterResponseHandler(correlationID model.UUID4, h MessageHandler) error {
	if h == nil {
		return errs.New("msgbus/response", errs.CodeInvalid, errs.WithMessage("handler required"))
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.correlated[correlationID]; ok {
		return errs.New("msgbus/response", errs.CodeAlreadyRegistered,
			errs.WithMessage("response handler already registered"),
			errs.WithField("correlation_id", correlationID.String()))
	}
	b.correlated[correlationID] = h
	return nil
}

// CancelResponseHandler drops the handler for correlationID without invoking it.
func (b *MessageBus) CancelResponseHandler(correlationID model.UUID4) {
	b.mu.Lock()
	delete(b.correlated, correlationID)
	b.mu.Unlock()
}

// HasResponseHandler reports whether a response is still awaited for correlationID.
func (b *MessageBus) HasResponseHandler(correlationID model.UUID4) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.correlated[correlationID]
	return ok
}

// Response delivers msg to the handler awaiting correlationID and forgets it.
func (b *MessageBus) Response(correlationID model.UUID4, msg any) {
	b.mu.Lock()
	h, ok := b.correlated[correlationID]
	if ok {
		delete(b.correlated, correlationID)
		b.responseCount++
	}
	b.mu.Unlock()

	if !ok {
		if b.droppedCounter != nil {
			b.droppedCounter.Add(context.Background(), 1,
				metric.WithAttributes(telemetry.BusAttributes("", "response")...))
		}
		b.log.Warn("no response handler for correlation id, response dropped",
			observability.F("correlation_id", correlationID.String()))
		return
	}
	h.Handle(msg)
}

// SentCount returns the number of endpoint deliveries.
func (b *MessageBus) SentCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sentCount
}

// PublishedCount returns the number of publish calls.
func (b *MessageBus) PublishedCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.publishedCount
}

// ResponseCount returns the number of delivered responses.
func (b *MessageBus) ResponseCount() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.responseCount
}

func (b *MessageBus) matching(topic Topic) []*Subscription {
	b.mu.RLock()
	subs, ok := b.matches[topic]
	b.mu.RUnlock()
	if ok {
		return subs
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.matches[topic]; ok {
		return subs
	}
	var found []*Subscription
	for _, s := range b.subs {
		if IsMatching(string(topic), string(s.Pattern)) {
			found = append(found, s)
		}
	}
	found = sortSubs(found)
	b.matches[topic] = found
	return found
}

// sortSubs returns a new slice so snapshots handed to callers never alias.
func sortSubs(subs []*Subscription) []*Subscription {
	out := make([]*Subscription, len(subs))
	copy(out, subs)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].seq < out[j].seq
	})
	return out
}

func validateName(kind, value string) {
	if err := model.CheckValidString(value, kind); err != nil {
		panic(err)
	}
}
