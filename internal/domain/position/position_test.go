package position

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

var ethID = model.MustParseInstrumentID("ETHUSDT.BINANCE")

func eth() model.Instrument {
	return model.NewCurrencyPair(ethID, "ETH", "USDT", 2, 3, 0)
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fill(trade string, side model.OrderSide, qty, px string, ts model.UnixNanos) events.OrderFilled {
	commission := model.NewMoney(d("1"), "USDT")
	return events.OrderFilled{
		OrderEventHeader: events.OrderEventHeader{
			TraderID:      "TRADER-001",
			StrategyID:    "S-001",
			InstrumentID:  ethID,
			ClientOrderID: model.ClientOrderID("O-" + trade),
			EventID:       model.NewUUID4(),
			TsEvent:       ts,
			TsInit:        ts,
		},
		VenueFields: events.VenueFields{VenueOrderID: "V-" + model.VenueOrderID(trade), AccountID: "SIM-001"},
		TradeID:     model.TradeID(trade),
		PositionID:  NettingID(ethID, "S-001"),
		Side:        side,
		OrderType:   model.OrderTypeMarket,
		LastQty:     d(qty),
		LastPx:      d(px),
		Currency:    "USDT",
		Commission:  &commission,
	}
}

func TestLongRoundTripRealizesPnL(t *testing.T) {
	p, err := New(eth(), fill("1", model.OrderSideBuy, "1", "100", 10))
	require.NoError(t, err)
	require.True(t, p.IsLong())
	require.Equal(t, model.OrderSideBuy, p.Entry())

	require.NoError(t, p.Apply(fill("2", model.OrderSideBuy, "1", "110", 20)))
	require.True(t, p.AvgPxOpen().Equal(d("105")))
	require.True(t, p.UnrealizedPnL(d("115")).Amount.Equal(d("20")))

	require.NoError(t, p.Apply(fill("3", model.OrderSideSell, "2", "120", 30)))
	require.True(t, p.IsClosed())
	// (120-105)*2 minus three commissions of 1
	require.True(t, p.RealizedPnL().Amount.Equal(d("27")), p.RealizedPnL().String())
	require.True(t, p.AvgPxClose().Equal(d("120")))
	require.Equal(t, model.ClientOrderID("O-3"), p.ClosingOrderID())
	require.Equal(t, uint64(20), p.DurationNs())
	require.True(t, p.PeakQty().Equal(d("2")))

	ev := EventFor(p, fill("3", model.OrderSideSell, "2", "120", 30), false, model.NewUUID4(), 31)
	closed, ok := ev.(PositionClosed)
	require.True(t, ok)
	require.Equal(t, model.UnixNanos(30), closed.TsClosed)
}

func TestShortPnLAndDuplicateTrade(t *testing.T) {
	p, err := New(eth(), fill("1", model.OrderSideSell, "2", "100", 1))
	require.NoError(t, err)
	require.True(t, p.IsShort())
	require.True(t, p.SignedQty().Equal(d("-2")))
	require.True(t, p.IsOppositeSide(model.OrderSideBuy))

	require.NoError(t, p.Apply(fill("2", model.OrderSideBuy, "1", "90", 2)))
	require.True(t, p.IsShort())
	require.True(t, p.RealizedPnL().Amount.Equal(d("8")), p.RealizedPnL().String())
	require.True(t, p.RealizedReturn().Equal(d("0.1")))

	err = p.Apply(fill("2", model.OrderSideBuy, "1", "90", 3))
	require.True(t, errs.Is(err, errs.CodeConflict))
}

func TestEventsSnapshotPositionAfterFill(t *testing.T) {
	f := fill("1", model.OrderSideBuy, "1.5", "100", 5)
	p, err := New(eth(), f)
	require.NoError(t, err)

	ev := EventFor(p, f, true, model.NewUUID4(), 6)
	opened, ok := ev.(PositionOpened)
	require.True(t, ok)
	require.Equal(t, KindOpened, opened.Kind())
	require.Equal(t, model.PositionID("ETHUSDT.BINANCE-S-001"), opened.PositionID)
	require.True(t, opened.Quantity.Equal(d("1.5")))
	require.Equal(t, model.UnixNanos(5), opened.TsEvent)
	require.Equal(t, model.UnixNanos(6), opened.TsInit)

	f2 := fill("2", model.OrderSideSell, "0.5", "110", 7)
	require.NoError(t, p.Apply(f2))
	changed, ok := EventFor(p, f2, false, model.NewUUID4(), 8).(PositionChanged)
	require.True(t, ok)
	require.True(t, changed.Quantity.Equal(d("1")))
	require.True(t, changed.UnrealizedPnL.Amount.Equal(d("10")))

	snap := p.Snapshot(9)
	require.Equal(t, 2, snap.TradeCount)
	require.Equal(t, model.OrderSideSell, snap.LastTradeSide)
}

func TestSplitFillAndHedgingIDs(t *testing.T) {
	f := fill("9", model.OrderSideSell, "3", "100", 1)
	closing, opening := SplitFill(f, d("1"), "P-2")
	require.True(t, closing.LastQty.Equal(d("1")))
	require.True(t, opening.LastQty.Equal(d("2")))
	require.Equal(t, model.PositionID("P-2"), opening.PositionID)
	require.NotEqual(t, closing.TradeID, opening.TradeID)
	require.True(t, closing.Commission.Amount.Add(opening.Commission.Amount).Equal(d("1")))

	g := NewIDGenerator("TRADER-001", func() model.UnixNanos { return 7 })
	require.Equal(t, model.PositionID("P-7-TRADER-001-S-001-1"), g.Next("S-001", false))
	require.Equal(t, model.PositionID("P-7-TRADER-001-S-001-2F"), g.Next("S-001", true))
	require.Equal(t, 2, g.Count("S-001"))

	_, err := New(eth(), events.OrderFilled{TradeID: "T"})
	require.Error(t, err)
}
