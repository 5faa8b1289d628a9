package persistence_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/infra/persistence"
)

func filledMarketOrder(t *testing.T) orders.Order {
	t.Helper()
	f := orders.NewFactory("TRADER-001", "S-001", func() model.UnixNanos { return 10 })
	o, err := f.Market(model.MustParseInstrumentID("BTCUSDT.SIM"), model.OrderSideBuy, decimal.NewFromInt(2), model.TimeInForceGTC)
	require.NoError(t, err)

	head := func(ts model.UnixNanos) events.OrderEventHeader {
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
	venue := events.VenueFields{VenueOrderID: "SIM-1", AccountID: "SIM-001"}
	require.NoError(t, o.Apply(events.OrderSubmitted{OrderEventHeader: head(11), AccountID: "SIM-001"}))
	require.NoError(t, o.Apply(events.OrderAccepted{OrderEventHeader: head(12), VenueFields: venue}))
	require.NoError(t, o.Apply(events.OrderFilled{
		OrderEventHeader: head(13),
		VenueFields:      venue,
		TradeID:          "T-1",
		PositionID:       "BTCUSDT.SIM-S-001",
		Side:             model.OrderSideBuy,
		OrderType:        model.OrderTypeMarket,
		LastQty:          decimal.NewFromInt(2),
		LastPx:           decimal.RequireFromString("30000.5"),
		Currency:         "USDT",
		Commission:       &model.Money{Amount: decimal.RequireFromString("0.06"), Currency: "USDT"},
		LiquiditySide:    model.LiquiditySideTaker,
	}))
	return o
}

func TestMemoryLogRebuildsOrders(t *testing.T) {
	ctx := context.Background()
	o := filledMarketOrder(t)
	log := persistence.NewMemoryLog()
	for _, ev := range o.Events() {
		log.Write(ev)
	}
	// replaying the same events must not duplicate them
	for _, ev := range o.Events() {
		require.NoError(t, log.Append(ctx, ev))
	}
	require.Equal(t, 4, log.Len())
	require.Equal(t, 1, log.Fills())
	require.Equal(t, []model.ClientOrderID{o.ClientOrderID()}, log.ClientOrderIDs())

	rebuilt, err := persistence.Rebuild(ctx, log, o.ClientOrderID())
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusFilled, rebuilt.Status())
	require.True(t, rebuilt.FilledQty().Equal(decimal.NewFromInt(2)))

	_, err = persistence.Rebuild(ctx, log, "O-missing")
	require.True(t, errs.Is(err, errs.CodeNotFound))
	require.Error(t, log.Append(ctx, nil))
}
