package httpserver_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/infra/persistence"
	httpserver "github.com/coachpo/quanta/internal/infra/server/http"
)

func journalWithOrders(t *testing.T) (*persistence.MemoryLog, orders.Order, orders.Order) {
	t.Helper()
	inst := model.MustParseInstrumentID("BTCUSDT.SIM")
	f := orders.NewFactory("TRADER-001", "S-001", func() model.UnixNanos { return 10 })

	filled, err := f.Market(inst, model.OrderSideBuy, decimal.NewFromInt(1), model.TimeInForceGTC)
	require.NoError(t, err)
	resting, err := f.Limit(inst, model.OrderSideSell, decimal.NewFromInt(1), decimal.NewFromInt(31000), model.TimeInForceGTC)
	require.NoError(t, err)

	head := func(o orders.Order, ts model.UnixNanos) events.OrderEventHeader {
		return events.OrderEventHeader{
			TraderID:      o.TraderID(),
			StrategyID:    o.StrategyID(),
			InstrumentID:  o.InstrumentID(),
			ClientOrderID: o.ClientOrderID(),
			EventID:       model.NewUUID4(),
			TsEvent:       ts,
			TsInit:        ts,
		}
	}
	for i, o := range []orders.Order{filled, resting} {
		venue := events.VenueFields{VenueOrderID: model.VenueOrderID(fmt.Sprintf("SIM-%d", i+1)), AccountID: "SIM-001"}
		require.NoError(t, o.Apply(events.OrderSubmitted{OrderEventHeader: head(o, 11), AccountID: "SIM-001"}))
		require.NoError(t, o.Apply(events.OrderAccepted{OrderEventHeader: head(o, 12), VenueFields: venue}))
	}
	require.NoError(t, filled.Apply(events.OrderFilled{
		OrderEventHeader: head(filled, 13),
		VenueFields:      events.VenueFields{VenueOrderID: "SIM-1", AccountID: "SIM-001"},
		TradeID:          "T-1",
		Side:             model.OrderSideBuy,
		OrderType:        model.OrderTypeMarket,
		LastQty:          decimal.NewFromInt(1),
		LastPx:           decimal.NewFromInt(30000),
		Currency:         "USDT",
		LiquiditySide:    model.LiquiditySideTaker,
	}))

	log := persistence.NewMemoryLog()
	for _, o := range []orders.Order{filled, resting} {
		for _, ev := range o.Events() {
			log.Write(ev)
		}
	}
	return log, filled, resting
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthReportsJournalCounts(t *testing.T) {
	log, _, _ := journalWithOrders(t)
	h := httpserver.NewHandler(httpserver.Info{TraderID: "TRADER-001", Environment: "dev", StartedAt: time.Now()}, log, nil)

	rec := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "TRADER-001", body["trader_id"])
	require.EqualValues(t, log.Len(), body["events"])
	require.EqualValues(t, 1, body["fills"])
}

func TestOrdersAreRebuiltFromJournal(t *testing.T) {
	log, filled, resting := journalWithOrders(t)
	h := httpserver.NewHandler(httpserver.Info{TraderID: "TRADER-001"}, log, nil)

	var all struct {
		Orders []map[string]any `json:"orders"`
	}
	rec := get(t, h, "/orders")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all.Orders, 2)

	rec = get(t, h, "/orders?state=open")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all.Orders, 1)
	require.Equal(t, string(resting.ClientOrderID()), all.Orders[0]["client_order_id"])
	require.Equal(t, "31000", all.Orders[0]["price"])

	rec = get(t, h, "/orders?strategy=OTHER")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Empty(t, all.Orders)

	require.Equal(t, http.StatusBadRequest, get(t, h, "/orders?state=pending").Code)

	rec = get(t, h, "/orders/"+string(filled.ClientOrderID()))
	require.Equal(t, http.StatusOK, rec.Code)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
	require.Equal(t, string(model.OrderStatusFilled), detail["status"])
	require.Equal(t, "1", detail["filled_qty"])
	require.Len(t, detail["events"], 4)
}

func TestUnknownOrderAndMethod(t *testing.T) {
	h := httpserver.NewHandler(httpserver.Info{}, persistence.NewMemoryLog(), nil)
	require.Equal(t, http.StatusNotFound, get(t, h, "/orders/O-missing").Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/orders", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}
