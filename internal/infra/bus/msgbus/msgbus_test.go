package msgbus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/internal/domain/model"
)

func recorder(id string, into *[]string) MessageHandler {
	return NewHandler(id, func(msg any) { *into = append(*into, id+":"+msg.(string)) })
}

func TestPublishOrdersByPriorityThenInsertion(t *testing.T) {
	bus := New("TRADER-001", nil)
	var got []string

	bus.Subscribe("data.quotes.XCME.ESZ24", recorder("low-a", &got), 1)
	bus.Subscribe("data.quotes.XCME.ESZ24", recorder("high", &got), 9)
	bus.Subscribe("data.quotes.*", recorder("low-b", &got), 1)

	bus.Publish("data.quotes.XCME.ESZ24", "q")
	require.Equal(t, []string{"high:q", "low-a:q", "low-b:q"}, got)
	require.Equal(t, uint64(1), bus.PublishedCount())
}

func TestDuplicateSubscribeIgnored(t *testing.T) {
	bus := New("TRADER-001", nil)
	var got []string
	h := recorder("h", &got)

	bus.Subscribe("events.order.S-001", h, 0)
	bus.Subscribe("events.order.S-001", h, 5)
	require.Len(t, bus.Subscriptions("events.order.S-001"), 1)

	bus.Publish("events.order.S-001", "e")
	require.Equal(t, []string{"h:e"}, got)
}

func TestUnsubscribe(t *testing.T) {
	bus := New("TRADER-001", nil)
	var got []string
	a, b := recorder("a", &got), recorder("b", &got)
	bus.Subscribe("t.x", a, 0)
	bus.Subscribe("t.x", b, 0)

	bus.Unsubscribe("t.x", NewHandler("absent", func(any) {}))
	bus.Unsubscribe("t.y", a)
	require.True(t, bus.IsSubscribed("t.x", a))

	bus.Unsubscribe("t.x", a)
	require.False(t, bus.IsSubscribed("t.x", a))
	bus.Publish("t.x", "m")
	require.Equal(t, []string{"b:m"}, got)
	require.Equal(t, []Topic{"t.x"}, bus.Topics())
}

func TestSubscribeAfterPublishRefreshesMatchCache(t *testing.T) {
	bus := New("TRADER-001", nil)
	var got []string
	bus.Publish("data.trades.XCME.ESZ24", "first")
	require.False(t, bus.HasSubscribers("data.trades.XCME.ESZ24"))

	bus.Subscribe("data.trades.XCME.*", recorder("w", &got), 0)
	require.True(t, bus.HasSubscribers("data.trades.XCME.ESZ24"))
	bus.Publish("data.trades.XCME.ESZ24", "second")
	require.Equal(t, []string{"w:second"}, got)
}

func TestIsMatching(t *testing.T) {
	cases := []struct {
		topic, pattern string
		want           bool
	}{
		{"data.quotes.XCME.ESZ24", "data.quotes.XCME.ESZ24", true},
		{"data.quotes.XCME.ESZ24", "data.quotes.*", true},
		{"data.quotes.XCME.ESZ24", "data.*.XCME.*", true},
		{"data.quotes.XCME.ESZ24", "data.quotes.XCME.ESZ2?", true},
		{"data.quotes.XCME.ESZ24", "data.quotes.XCME.ESZ?", false},
		{"data.quotes.XCME.ESZ24", "data.trades.*", false},
		{"a", "*", true},
		{"", "*", true},
		{"abc", "a*c*", true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, IsMatching(tc.topic, tc.pattern), "%s ~ %s", tc.topic, tc.pattern)
	}
}

func TestSendDeliversToSingleEndpoint(t *testing.T) {
	bus := New("TRADER-001", nil)
	var got []string
	bus.RegisterEndpoint(DataEngineExecute, recorder("engine", &got))

	bus.Send(DataEngineExecute, "cmd")
	bus.Send(ExecEngineExecute, "lost")
	require.Equal(t, []string{"engine:cmd"}, got)
	require.Equal(t, uint64(1), bus.SentCount())

	require.Panics(t, func() {
		bus.RegisterEndpoint(DataEngineExecute, recorder("other", &got))
	})

	bus.DeregisterEndpoint(DataEngineExecute)
	require.False(t, bus.IsRegistered(DataEngineExecute))
	bus.Send(DataEngineExecute, "dropped")
	require.Len(t, got, 1)
}

func TestResponseHandlerFiresOnce(t *testing.T) {
	bus := New("TRADER-001", nil)
	var got []string
	id := model.NewUUID4()
	require.NoError(t, bus.RegisterResponseHandler(id, recorder("resp", &got)))
	require.Error(t, bus.RegisterResponseHandler(id, recorder("again", &got)))

	bus.Response(id, "r1")
	bus.Response(id, "r2")
	require.Equal(t, []string{"resp:r1"}, got)
	require.False(t, bus.HasResponseHandler(id))
	require.Equal(t, uint64(1), bus.ResponseCount())

	cancelled := model.NewUUID4()
	require.NoError(t, bus.RegisterResponseHandler(cancelled, recorder("c", &got)))
	bus.CancelResponseHandler(cancelled)
	bus.Response(cancelled, "late")
	require.Len(t, got, 1)
}

func TestMalformedNamesPanic(t *testing.T) {
	bus := New("TRADER-001", nil)
	h := NewHandler("h", func(any) {})
	require.Panics(t, func() { bus.Subscribe("", h, 0) })
	require.Panics(t, func() { bus.Publish("data quotes", nil) })
	require.Panics(t, func() { bus.RegisterEndpoint(" ", h) })
}

func TestTypedHandler(t *testing.T) {
	var ints []int
	var other []any
	h := NewTypedHandler[int]("ints", func(v int) { ints = append(ints, v) }, func(m any) { other = append(other, m) })
	h.Handle(3)
	h.Handle("x")
	require.Equal(t, []int{3}, ints)
	require.Equal(t, []any{"x"}, other)

	quiet := NewTypedHandler[int]("quiet", func(int) {}, nil)
	require.NotPanics(t, func() { quiet.Handle("x") })
}

func TestSwitchboardTopics(t *testing.T) {
	sb := NewSwitchboard()
	es := model.MustParseInstrumentID("ESZ24.XCME")

	require.Equal(t, Topic("data.quotes.XCME.ESZ24"), sb.QuotesTopic(es))
	require.Equal(t, Topic("data.trades.XCME.ESZ24"), sb.TradesTopic(es))
	require.Equal(t, Topic("data.book.deltas.XCME.ESZ24"), sb.BookDeltasTopic(es))
	require.Equal(t, Topic("data.book.depth10.XCME.ESZ24"), sb.BookDepth10Topic(es))
	require.Equal(t, Topic("data.book.snapshots.XCME.ESZ24"), sb.BookSnapshotsTopic(es))
	require.Equal(t, Topic("data.instrument.XCME.ESZ24"), sb.InstrumentTopic(es))
	require.Equal(t, Topic("data.instrument.XCME"), sb.InstrumentsTopic("XCME"))
	require.Equal(t, Topic("data.mark_prices.XCME.ESZ24"), sb.MarkPriceTopic(es))
	require.Equal(t, Topic("data.index_prices.XCME.ESZ24"), sb.IndexPriceTopic(es))
	require.Equal(t, Topic("data.status.XCME.ESZ24"), sb.InstrumentStatusTopic(es))
	require.Equal(t, Topic("data.close.XCME.ESZ24"), sb.InstrumentCloseTopic(es))
	require.Equal(t, Topic("order.snapshots.O-1"), sb.OrderSnapshotsTopic("O-1"))
	require.Equal(t, Topic("positions.snapshots.P-1"), sb.PositionSnapshotsTopic("P-1"))
	require.Equal(t, Topic("events.order.S-001"), sb.OrderEventsTopic("S-001"))
	require.Equal(t, Topic("events.position.S-001"), sb.PositionEventsTopic("S-001"))
	require.Equal(t, Topic("data.NewsEvent.source=x"),
		sb.CustomTopic(model.NewDataType("NewsEvent", map[string]string{"source": "x"})))

	bt, err := model.ParseBarType("ESZ24.XCME-1-MINUTE-LAST-EXTERNAL")
	require.NoError(t, err)
	require.Equal(t, Topic("data.bars.ESZ24.XCME-1-MINUTE-LAST-EXTERNAL"), sb.BarsTopic(bt))
}

func TestSwitchboardMemoizesPerKind(t *testing.T) {
	sb := NewSwitchboard()
	es := model.MustParseInstrumentID("ESZ24.XCME")

	first := sb.QuotesTopic(es)
	require.Equal(t, 1, sb.memoLen(kindQuotes))
	second := sb.QuotesTopic(es)
	require.Equal(t, first, second)
	require.Equal(t, 1, sb.memoLen(kindQuotes))
	require.Equal(t, 0, sb.memoLen(kindTrades))

	require.Panics(t, func() {
		sb.QuotesTopic(model.InstrumentID{Symbol: "ES Z24", Venue: "XCME"})
	})
}
