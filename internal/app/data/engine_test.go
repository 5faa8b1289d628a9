package data

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/internal/app/component"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/ext/defi"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
)

var esz4 = model.MustParseInstrumentID("ESZ24.XCME")

type fakeClient struct {
	id       model.ClientID
	venue    model.Venue
	started  bool
	startErr error
	subs     []messages.SubscribeCommand
	unsubs   []messages.UnsubscribeCommand
	requests []messages.RequestCommand
}

func (f *fakeClient) ClientID() model.ClientID { return f.id }
func (f *fakeClient) Venue() model.Venue       { return f.venue }
func (f *fakeClient) IsConnected() bool        { return f.started }

func (f *fakeClient) Start(context.Context) error {
	f.started = f.startErr == nil
	return f.startErr
}

func (f *fakeClient) Stop(context.Context) error {
	f.started = false
	return nil
}

func (f *fakeClient) Subscribe(cmd messages.SubscribeCommand) error {
	f.subs = append(f.subs, cmd)
	return nil
}

func (f *fakeClient) Unsubscribe(cmd messages.UnsubscribeCommand) error {
	f.unsubs = append(f.unsubs, cmd)
	return nil
}

func (f *fakeClient) Request(cmd messages.RequestCommand) error {
	f.requests = append(f.requests, cmd)
	return nil
}

type harness struct {
	bus    *msgbus.MessageBus
	cache  *cache.Cache
	clock  *clock.TestClock
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:   msgbus.New("TRADER-001", nil),
		cache: cache.New(cache.Config{}),
		clock: clock.NewTestClock(model.NanosFromTime(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))),
	}
	h.engine = NewEngine(h.bus, h.cache, h.clock, nil)
	return h
}

func (h *harness) collect(topic msgbus.Topic) *[]any {
	var got []any
	h.bus.Subscribe(topic, msgbus.NewHandler("collect."+topic.String(), func(msg any) { got = append(got, msg) }), 0)
	return &got
}

func subscribe(t *testing.T, kind messages.DataKind, target messages.Target, clientID model.ClientID, venue model.Venue) messages.SubscribeCommand {
	t.Helper()
	cmd, err := messages.NewSubscribe(kind, target, clientID, venue, 0, nil)
	require.NoError(t, err)
	return cmd
}

func TestEngineRegistersEndpoints(t *testing.T) {
	h := newHarness(t)
	for _, ep := range []msgbus.Endpoint{msgbus.DataEngineExecute, msgbus.DataEngineQueueExecute, msgbus.DataEngineProcess, msgbus.DataEngineResponse} {
		require.True(t, h.bus.IsRegistered(ep), ep.String())
	}
	require.Equal(t, component.StateReady, h.engine.State())
}

func TestExecuteRoutesByClientThenVenueThenDefault(t *testing.T) {
	h := newHarness(t)
	cme := &fakeClient{id: "CME", venue: "XCME"}
	other := &fakeClient{id: "DATABENTO"}
	fallback := &fakeClient{id: "FALLBACK"}
	require.NoError(t, h.engine.RegisterClient(cme))
	require.NoError(t, h.engine.RegisterClient(other))
	require.NoError(t, h.engine.RegisterDefaultClient(fallback))
	require.Error(t, h.engine.RegisterClient(&fakeClient{id: "CME"}))

	target := messages.Target{InstrumentID: esz4}
	h.bus.Send(msgbus.DataEngineExecute, subscribe(t, messages.KindQuotes, target, "DATABENTO", "XCME"))
	h.bus.Send(msgbus.DataEngineQueueExecute, subscribe(t, messages.KindTrades, target, "", "XCME"))
	h.bus.Send(msgbus.DataEngineExecute, subscribe(t, messages.KindBars, target, "", "GLBX"))

	require.Len(t, other.subs, 1)
	require.Len(t, cme.subs, 1)
	require.Equal(t, messages.KindTrades, cme.subs[0].Kind)
	require.Len(t, fallback.subs, 1)
	require.Equal(t, []string{esz4.String()}, h.engine.Subscribed(messages.KindQuotes))

	cmds, _, _, _ := h.engine.Counts()
	require.Equal(t, uint64(3), cmds)
}

func TestExecuteWithoutClientIsDropped(t *testing.T) {
	h := newHarness(t)
	h.bus.Send(msgbus.DataEngineExecute, subscribe(t, messages.KindQuotes, messages.Target{InstrumentID: esz4}, "", "XCME"))
	require.Empty(t, h.engine.Subscribed(messages.KindQuotes))
}

func TestStartAggregatesClientErrors(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.engine.RegisterClient(&fakeClient{id: "A"}))
	require.NoError(t, h.engine.RegisterClient(&fakeClient{id: "B", startErr: errors.New("boom")}))

	err := h.engine.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "start B")
}

func TestProcessCachesAndPublishes(t *testing.T) {
	h := newHarness(t)
	quotes := h.collect(h.bus.Switchboard().QuotesTopic(esz4))
	instruments := h.collect(h.bus.Switchboard().InstrumentsTopic("XCME"))

	inst := model.NewCurrencyPair(esz4, "ES", "USD", 2, 0, 0)
	h.bus.Send(msgbus.DataEngineProcess, inst)
	q := model.QuoteTick{InstrumentID: esz4, BidPrice: decimal.NewFromInt(5000), AskPrice: decimal.NewFromInt(5001)}
	h.bus.Send(msgbus.DataEngineProcess, q)

	_, ok := h.cache.Instrument(esz4)
	require.True(t, ok)
	cached, ok := h.cache.Quote(esz4)
	require.True(t, ok)
	require.True(t, cached.AskPrice.Equal(q.AskPrice))
	require.Len(t, *quotes, 1)
	require.Len(t, *instruments, 1)
}

func TestProcessPublishesRoutedExtensionData(t *testing.T) {
	h := newHarness(t)
	got := h.collect(defi.BlocksTopic(h.bus.Switchboard(), defi.Arbitrum))
	h.engine.OnData(defi.Block{Chain: defi.Arbitrum, Number: 100})
	require.Len(t, *got, 1)
}

func TestBookSnapshotsAtInterval(t *testing.T) {
	h := newHarness(t)
	client := &fakeClient{id: "CME", venue: "XCME"}
	require.NoError(t, h.engine.RegisterClient(client))
	snaps := h.collect(h.bus.Switchboard().BookSnapshotsTopic(esz4))

	target := messages.Target{InstrumentID: esz4, BookType: model.BookTypeL2MBP, IntervalMs: 1000}
	h.bus.Send(msgbus.DataEngineExecute, subscribe(t, messages.KindBookSnapshots, target, "", "XCME"))
	require.Contains(t, h.clock.TimerNames(), "OrderBook|ESZ24.XCME|1000")

	h.bus.Send(msgbus.DataEngineProcess, model.OrderBookDeltas{
		InstrumentID: esz4,
		Deltas: []model.OrderBookDelta{{
			InstrumentID: esz4,
			Action:       model.BookActionAdd,
			Order:        model.BookOrder{Side: model.OrderSideBuy, Price: decimal.NewFromInt(4999), Size: decimal.NewFromInt(3)},
		}},
	})
	book, ok := h.cache.Book(esz4)
	require.True(t, ok)
	bid, ok := book.BestBid()
	require.True(t, ok)
	require.True(t, bid.Equal(decimal.NewFromInt(4999)))

	h.clock.Advance(2500 * time.Millisecond)
	require.Len(t, *snaps, 2)

	unsub, err := messages.NewUnsubscribe(messages.KindBookSnapshots, target, "", "XCME", 0, nil)
	require.NoError(t, err)
	h.bus.Send(msgbus.DataEngineExecute, unsub)
	require.NotContains(t, h.clock.TimerNames(), "OrderBook|ESZ24.XCME|1000")
	h.clock.Advance(2 * time.Second)
	require.Len(t, *snaps, 2)
}

func TestBacktestClientAnswersRequests(t *testing.T) {
	h := newHarness(t)
	client := NewBacktestClient("SIM", "XCME", h.engine, h.clock, nil)
	require.NoError(t, h.engine.RegisterClient(client))
	for i := 1; i <= 5; i++ {
		client.AddHistory(model.TradeTick{InstrumentID: esz4, Price: decimal.NewFromInt(int64(5000 + i)), Size: decimal.NewFromInt(1), TsInit: model.UnixNanos(i)})
	}

	var got messages.DataResponse
	id := model.NewUUID4()
	require.NoError(t, h.bus.RegisterResponseHandler(id, msgbus.NewTypedHandler[messages.DataResponse]("resp",
		func(r messages.DataResponse) { got = r }, nil)))

	req, err := messages.NewRequest(messages.KindTrades, messages.Target{InstrumentID: esz4}, nil, nil, 2, "", "", id, 0, nil)
	require.NoError(t, err)
	h.bus.Send(msgbus.DataEngineExecute, req)

	trades, ok := got.Data.([]model.TradeTick)
	require.True(t, ok)
	require.Len(t, trades, 2)
	require.True(t, trades[1].Price.Equal(decimal.NewFromInt(5005)))
	last, ok := h.cache.Trade(esz4)
	require.True(t, ok)
	require.True(t, last.Price.Equal(decimal.NewFromInt(5005)))

	_, _, requests, responses := h.engine.Counts()
	require.Equal(t, uint64(1), requests)
	require.Equal(t, uint64(1), responses)
}

func TestBacktestClientTracksSubscriptions(t *testing.T) {
	h := newHarness(t)
	client := NewBacktestClient("SIM", "XCME", h.engine, h.clock, nil)
	cmd := subscribe(t, messages.KindQuotes, messages.Target{InstrumentID: esz4}, "SIM", "")
	require.NoError(t, client.Subscribe(cmd))
	require.True(t, client.IsSubscribed(messages.KindQuotes, esz4.String()))
	require.NoError(t, client.Unsubscribe(messages.UnsubscribeCommand{CommandHeader: cmd.CommandHeader}))
	require.False(t, client.IsSubscribed(messages.KindQuotes, esz4.String()))

	err := client.Request(messages.RequestCommand{CommandHeader: messages.CommandHeader{Kind: messages.KindInstrument, Target: messages.Target{InstrumentID: esz4}}})
	require.Error(t, err)
}
