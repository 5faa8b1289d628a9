package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/clock"
)

var btcusdt = model.MustParseInstrumentID("BTCUSDT.SIM")

type recordingSink struct {
	data      chan any
	responses chan messages.DataResponse
}

func newRecordingSink() *recordingSink {
	return &recordingSink{data: make(chan any, 16), responses: make(chan messages.DataResponse, 4)}
}

func (s *recordingSink) OnData(d any)                       { s.data <- d }
func (s *recordingSink) OnResponse(r messages.DataResponse) { s.responses <- r }

// fakeVenue serves the stream protocol. Each accepted connection gets a
// sequence number starting at 1 and every control frame is forwarded.
type fakeVenue struct {
	srv    *httptest.Server
	conns  atomic.Int32
	frames chan received
	serve  func(ctx context.Context, seq int32, conn *websocket.Conn, f controlFrame)
}

type received struct {
	seq   int32
	frame controlFrame
}

func newFakeVenue(t *testing.T, serve func(ctx context.Context, seq int32, conn *websocket.Conn, f controlFrame)) *fakeVenue {
	t.Helper()
	v := &fakeVenue{frames: make(chan received, 32), serve: serve}
	v.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		seq := v.conns.Add(1)
		ctx := r.Context()
		for {
			_, payload, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f controlFrame
			if err := json.Unmarshal(payload, &f); err != nil {
				return
			}
			v.frames <- received{seq: seq, frame: f}
			v.serve(ctx, seq, conn, f)
		}
	}))
	t.Cleanup(v.srv.Close)
	return v
}

func (v *fakeVenue) url() string { return "ws" + strings.TrimPrefix(v.srv.URL, "http") }

func (v *fakeVenue) next(t *testing.T) received {
	t.Helper()
	select {
	case r := <-v.frames:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("no control frame received")
		return received{}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) {
	payload, _ := json.Marshal(v)
	_ = conn.Write(ctx, websocket.MessageText, payload)
}

func newTestClient(t *testing.T, url string, sink *recordingSink) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Venue:       "SIM",
		URL:         url,
		DialTimeout: 2 * time.Second,
		MinBackoff:  10 * time.Millisecond,
		MaxBackoff:  50 * time.Millisecond,
	}, sink, clock.NewTestClock(42), nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })
	return c
}

func TestClientDeliversSubscribedQuotes(t *testing.T) {
	venue := newFakeVenue(t, func(ctx context.Context, _ int32, conn *websocket.Conn, f controlFrame) {
		writeJSON(ctx, conn, map[string]any{"id": f.ID})
		if f.Op == opSubscribe {
			writeJSON(ctx, conn, map[string]any{
				"type": "quote", "instrument_id": f.InstrumentID,
				"bid": "100.1", "ask": "100.2", "bid_size": "1", "ask_size": "2", "ts": 7,
			})
		}
	})
	sink := newRecordingSink()
	c := newTestClient(t, venue.url(), sink)
	require.True(t, c.IsConnected())
	require.Equal(t, model.ClientID("SIM"), c.ClientID())

	cmd, err := messages.NewSubscribe(messages.KindQuotes, messages.Target{InstrumentID: btcusdt}, "", "SIM", 1, nil)
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(cmd))
	require.NoError(t, c.Subscribe(cmd))

	got := venue.next(t)
	require.Equal(t, opSubscribe, got.frame.Op)
	require.Equal(t, "quotes", got.frame.Channel)
	require.Equal(t, "BTCUSDT.SIM", got.frame.InstrumentID)

	select {
	case d := <-sink.data:
		q, ok := d.(model.QuoteTick)
		require.True(t, ok)
		require.Equal(t, btcusdt, q.InstrumentID)
		require.Equal(t, "100.2", q.AskPrice.String())
		require.Equal(t, model.UnixNanos(7), q.TsEvent)
		require.Equal(t, model.UnixNanos(42), q.TsInit)
	case <-time.After(3 * time.Second):
		t.Fatal("quote not delivered")
	}
	require.Empty(t, venue.frames, "duplicate subscribe must not be sent")
}

func TestClientAnswersRequests(t *testing.T) {
	bars := "BTCUSDT.SIM-1-MINUTE-LAST-EXTERNAL"
	venue := newFakeVenue(t, func(ctx context.Context, _ int32, conn *websocket.Conn, f controlFrame) {
		if f.Op != opRequest {
			return
		}
		writeJSON(ctx, conn, map[string]any{
			"type":       "response",
			"request_id": f.RequestID,
			"items": []map[string]any{
				{"type": "bar", "bar_type": f.BarType, "open": "1", "high": "3", "low": "1", "close": "2", "volume": "10", "ts": 60},
				{"type": "bar", "bar_type": f.BarType, "open": "2", "high": "2", "low": "1", "close": "1", "volume": "4", "ts": 120},
			},
		})
	})
	sink := newRecordingSink()
	c := newTestClient(t, venue.url(), sink)

	bt, err := model.ParseBarType(bars)
	require.NoError(t, err)
	req, err := messages.NewRequest(messages.KindBars, messages.Target{BarType: bt}, nil, nil, 2, "", "", model.NewUUID4(), 1, nil)
	require.NoError(t, err)
	require.NoError(t, c.Request(req))

	got := venue.next(t)
	require.Equal(t, opRequest, got.frame.Op)
	require.Equal(t, bars, got.frame.BarType)
	require.Equal(t, 2, got.frame.Limit)

	select {
	case resp := <-sink.responses:
		require.Equal(t, req.ID, resp.CorrelationID)
		values, ok := resp.Data.([]model.Bar)
		require.True(t, ok)
		require.Len(t, values, 2)
		require.Equal(t, "3", values[0].High.String())
	case <-time.After(3 * time.Second):
		t.Fatal("response not delivered")
	}
	require.Zero(t, c.Pending())
}

func TestClientResubscribesAfterReconnect(t *testing.T) {
	venue := newFakeVenue(t, func(_ context.Context, seq int32, conn *websocket.Conn, f controlFrame) {
		if seq == 1 && f.Op == opSubscribe {
			_ = conn.Close(websocket.StatusGoingAway, "maintenance")
		}
	})
	sink := newRecordingSink()
	c := newTestClient(t, venue.url(), sink)

	cmd, err := messages.NewSubscribe(messages.KindTrades, messages.Target{InstrumentID: btcusdt}, "", "SIM", 1, nil)
	require.NoError(t, err)
	require.NoError(t, c.Subscribe(cmd))

	first := venue.next(t)
	require.Equal(t, int32(1), first.seq)
	replay := venue.next(t)
	require.Equal(t, int32(2), replay.seq)
	require.Equal(t, opSubscribe, replay.frame.Op)
	require.Equal(t, "trades", replay.frame.Channel)
	require.Greater(t, replay.frame.ID, first.frame.ID)
	require.Eventually(t, c.IsConnected, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Stop(context.Background()))
	require.False(t, c.IsConnected())
}

func TestClientRejectsBadConfig(t *testing.T) {
	sink := newRecordingSink()
	_, err := NewClient(Config{Venue: "SIM", URL: "http://localhost"}, sink, clock.NewTestClock(0), nil)
	require.Error(t, err)
	_, err = NewClient(Config{URL: "ws://localhost"}, sink, clock.NewTestClock(0), nil)
	require.Error(t, err)
	_, err = NewClient(Config{Venue: "SIM", URL: "ws://localhost"}, nil, clock.NewTestClock(0), nil)
	require.Error(t, err)
}

func TestFrameForRequiresTarget(t *testing.T) {
	_, err := frameFor(opSubscribe, messages.CommandHeader{Kind: messages.KindBars})
	require.Error(t, err)
	_, err = frameFor(opSubscribe, messages.CommandHeader{Kind: messages.KindBookDeltas, Target: messages.Target{InstrumentID: btcusdt}})
	require.Error(t, err)
	f, err := frameFor(opUnsubscribe, messages.CommandHeader{Kind: messages.KindMarkPrices, Target: messages.Target{InstrumentID: btcusdt}})
	require.NoError(t, err)
	require.Equal(t, "mark_prices|BTCUSDT.SIM|", f.key())
}

func TestDecodeTradeSides(t *testing.T) {
	d, err := decode(inbound{Type: frameTrade, InstrumentID: "BTCUSDT.SIM", Side: "sell", TradeID: "T-9", Ts: 5}, 6)
	require.NoError(t, err)
	tr := d.(model.TradeTick)
	require.Equal(t, model.AggressorSideSeller, tr.AggressorSide)
	require.Equal(t, model.TradeID("T-9"), tr.TradeID)

	_, err = decode(inbound{Type: "depth", InstrumentID: "BTCUSDT.SIM"}, 6)
	require.Error(t, err)
}
