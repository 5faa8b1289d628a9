package actor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/app/component"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
)

var es = model.MustParseInstrumentID("ESZ24.XCME")

type recorder struct {
	NopCallbacks
	quotes     []model.QuoteTick
	historical []model.QuoteTick
	timers     []string
	responses  int
}

func (r *recorder) OnQuote(q model.QuoteTick) { r.quotes = append(r.quotes, q) }
func (r *recorder) OnHistoricalQuotes(qs []model.QuoteTick) {
	r.historical = append(r.historical, qs...)
}
func (r *recorder) OnTimeEvent(ev clock.TimeEvent)   { r.timers = append(r.timers, ev.Name) }
func (r *recorder) OnResponse(messages.DataResponse) { r.responses++ }

type harness struct {
	bus   *msgbus.MessageBus
	clock *clock.TestClock
	cache *cache.Cache
	core  *DataActorCore
	cb    *recorder
	queue []any
	exec  []any
	stops []messages.ShutdownSystem
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:   msgbus.New("TRADER-001", nil),
		clock: clock.NewTestClock(model.NanosFromTime(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))),
		cache: cache.New(cache.Config{}),
		cb:    &recorder{},
	}
	h.bus.RegisterEndpoint(msgbus.DataEngineQueueExecute, msgbus.NewHandler("queue", func(m any) { h.queue = append(h.queue, m) }))
	h.bus.RegisterEndpoint(msgbus.DataEngineExecute, msgbus.NewHandler("exec", func(m any) { h.exec = append(h.exec, m) }))
	h.bus.RegisterEndpoint(msgbus.SystemShutdown, msgbus.NewTypedHandler[messages.ShutdownSystem]("shutdown",
		func(m messages.ShutdownSystem) { h.stops = append(h.stops, m) }, nil))
	h.core = New(Config{ActorID: "Actor-001"}, h.bus, h.cb, nil)
	return h
}

func (h *harness) register(t *testing.T) {
	t.Helper()
	require.NoError(t, h.core.Register("TRADER-001", h.clock, h.cache))
}

func quote(bid string) model.QuoteTick {
	b := decimal.RequireFromString(bid)
	return model.QuoteTick{InstrumentID: es, BidPrice: b, AskPrice: b.Add(decimal.NewFromInt(1))}
}

func TestSubscribeBeforeRegisterPanics(t *testing.T) {
	h := newHarness(t)
	require.Panics(t, func() { h.core.SubscribeQuotes(es, "", nil) })
	require.Panics(t, func() { h.core.UnsubscribeQuotes(es, "", nil) })
	require.Panics(t, func() { _, _ = h.core.RequestQuotes(es, RequestOptions{}) })
}

func TestRegisterOnce(t *testing.T) {
	h := newHarness(t)
	require.Error(t, h.core.Register("TRADER-001", nil, h.cache))
	require.Error(t, h.core.Register("TRADER-001", h.clock, nil))
	require.False(t, h.core.IsRegistered())
	require.Equal(t, component.StatePreInitialized, h.core.State())

	h.register(t)
	require.Equal(t, component.StateReady, h.core.State())
	require.Equal(t, model.TraderID("TRADER-001"), h.core.TraderID())

	err := h.core.Register("TRADER-001", h.clock, h.cache)
	require.True(t, errs.Is(err, errs.CodeAlreadyRegistered))
}

func TestSubscribeIsIdempotentAndLocalWithoutClient(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	topic := msgbus.Topic("data.quotes.XCME.ESZ24")

	h.core.SubscribeQuotes(es, "", nil)
	h.core.SubscribeQuotes(es, "", nil)
	require.Len(t, h.bus.Subscriptions(topic), 1)
	require.Len(t, h.core.topicHandlers, 1)
	require.Empty(t, h.queue, "no client id means no command")

	h.core.UnsubscribeQuotes(es, "", nil)
	require.False(t, h.bus.HasSubscribers(topic))
	require.False(t, h.core.IsSubscribed(topic))
}

func TestSubscribeWithClientSendsCommand(t *testing.T) {
	h := newHarness(t)
	h.register(t)

	h.core.SubscribeQuotes(es, "XCME-DATA", map[string]string{"depth": "1"})
	require.Len(t, h.queue, 1)
	cmd, ok := h.queue[0].(messages.SubscribeCommand)
	require.True(t, ok)
	require.Equal(t, messages.KindQuotes, cmd.Kind)
	require.Equal(t, model.Venue("XCME"), cmd.Venue)
	require.Equal(t, model.ClientID("XCME-DATA"), cmd.ClientID)
	require.Equal(t, es, cmd.Target.InstrumentID)
	require.Equal(t, "1", cmd.Params["depth"])

	h.core.UnsubscribeQuotes(es, "XCME-DATA", nil)
	require.Len(t, h.queue, 2)
	_, ok = h.queue[1].(messages.UnsubscribeCommand)
	require.True(t, ok)
}

func TestUnsubscribeUnknownTopicIsNoop(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	require.NotPanics(t, func() { h.core.UnsubscribeTrades(es, "XCME-DATA", nil) })
	require.Empty(t, h.queue)
}

func TestDispatchRequiresRunning(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.core.SubscribeQuotes(es, "", nil)
	topic := h.bus.Switchboard().QuotesTopic(es)

	h.bus.Publish(topic, quote("100"))
	require.Empty(t, h.cb.quotes)

	require.NoError(t, h.core.Start())
	h.bus.Publish(topic, quote("101"))
	require.Len(t, h.cb.quotes, 1)

	require.NoError(t, h.core.Stop())
	h.bus.Publish(topic, quote("102"))
	require.Len(t, h.cb.quotes, 1)
}

func TestTimeEventsBypassRunningGuard(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	require.NoError(t, h.core.Clock().SetTimer("heartbeat", time.Second, time.Time{}, time.Time{}, nil))
	h.clock.Advance(2 * time.Second)
	require.Equal(t, []string{"heartbeat", "heartbeat"}, h.cb.timers)
}

func TestActorsSharingAClockKeepTheirOwnTimers(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	other := &recorder{}
	second := New(Config{ActorID: "Actor-002"}, h.bus, other, nil)
	require.NoError(t, second.Register("TRADER-001", h.clock, h.cache))
	require.NoError(t, h.clock.SetTimer("OrderBook|ESZ24.XCME|1000", time.Second, time.Time{}, time.Time{}, func(clock.TimeEvent) {}))

	require.NoError(t, h.core.Clock().SetTimer("beat", time.Second, time.Time{}, time.Time{}, nil))
	require.NoError(t, second.Clock().SetTimer("beat", time.Second, time.Time{}, time.Time{}, nil))
	h.clock.Advance(time.Second)
	require.Equal(t, []string{"beat"}, h.cb.timers)
	require.Equal(t, []string{"beat"}, other.timers)

	require.NoError(t, h.core.Start())
	require.NoError(t, h.core.Stop())
	require.Empty(t, h.core.Clock().TimerNames())
	require.Equal(t, []string{"beat"}, second.Clock().TimerNames())
	require.Contains(t, h.clock.TimerNames(), "OrderBook|ESZ24.XCME|1000")

	h.clock.Advance(time.Second)
	require.Equal(t, []string{"beat"}, h.cb.timers)
	require.Equal(t, []string{"beat", "beat"}, other.timers)
}

func TestRequestTimeRangeChecks(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	now := h.clock.UtcNow()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)
	earlier := now.Add(-2 * time.Hour)

	cases := []struct {
		start, end *time.Time
		msg        string
	}{
		{&future, nil, "start was > now"},
		{nil, &future, "end was > now"},
		{&past, &earlier, "start was >= end"},
		{&past, &past, "start was >= end"},
	}
	for _, tc := range cases {
		_, err := h.core.RequestQuotes(es, RequestOptions{Start: tc.start, End: tc.end})
		require.True(t, errs.Is(err, errs.CodeInvalidTimeRange))
		var e *errs.E
		require.ErrorAs(t, err, &e)
		require.Equal(t, tc.msg, e.Message)
	}
	require.Empty(t, h.queue)
	require.Empty(t, h.core.PendingRequests())

	start, end := now.Add(-10*time.Second), now.Add(-5*time.Second)
	id, err := h.core.RequestQuotes(es, RequestOptions{Start: &start, End: &end})
	require.NoError(t, err)
	require.True(t, h.core.IsPendingRequest(id))
	require.Len(t, h.queue, 1)
	req, ok := h.queue[0].(messages.RequestCommand)
	require.True(t, ok)
	require.Equal(t, id, req.RequestID())
	require.Empty(t, h.exec)
}

func TestRequestDefaultDispatch(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	past := h.clock.UtcNow().Add(-time.Hour)

	id, err := h.core.RequestQuotes(es, RequestOptions{Start: &past})
	require.NoError(t, err)
	require.True(t, h.core.IsPendingRequest(id))
	require.Len(t, h.queue, 1)
	require.Empty(t, h.exec)
	req := h.queue[0].(messages.RequestCommand)
	require.Equal(t, id, req.RequestID())
	require.Equal(t, model.Venue("XCME"), req.Venue)

	h.bus.Response(id, messages.NewResponse(req, []model.QuoteTick{quote("99"), quote("100")}, h.clock.TimestampNs()))
	require.Len(t, h.cb.historical, 2)
	require.Equal(t, 1, h.cb.responses)
	require.False(t, h.core.IsPendingRequest(id))
	require.False(t, h.bus.HasResponseHandler(id))
}

func TestRequestCustomCallback(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	var got []messages.DataResponse
	id, err := h.core.RequestBookSnapshot(es, 10, RequestOptions{
		ClientID: "XCME-DATA",
		Callback: func(r messages.DataResponse) { got = append(got, r) },
	})
	require.NoError(t, err)
	req := h.queue[0].(messages.RequestCommand)
	h.bus.Response(id, messages.NewResponse(req, model.NewOrderBook(es, model.BookTypeL2MBP), 0))
	require.Len(t, got, 1)
	require.Zero(t, h.cb.responses)
	require.False(t, h.core.IsPendingRequest(id))
}

func TestShutdownSystem(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.core.ShutdownSystem("done")
	require.Len(t, h.stops, 1)
	require.Equal(t, "done", h.stops[0].Reason)
	require.Equal(t, model.ComponentID("Actor-001"), h.stops[0].ComponentID)
}

func TestDisposeDropsSubscriptions(t *testing.T) {
	h := newHarness(t)
	h.register(t)
	h.core.SubscribeQuotes(es, "", nil)
	h.core.SubscribeTrades(es, "", nil)
	require.NoError(t, h.core.Dispose())
	require.Empty(t, h.bus.Topics())
	require.Equal(t, component.StateDisposed, h.core.State())
}
