package orders

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

var btc = model.MustParseInstrumentID("BTCUSDT.BINANCE")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func pdec(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func baseParams(id string) Params {
	return Params{
		TraderID:      "TRADER-001",
		StrategyID:    "S-001",
		InstrumentID:  btc,
		ClientOrderID: model.ClientOrderID(id),
		Side:          model.OrderSideBuy,
		Quantity:      dec("2"),
		TsInit:        1,
	}
}

func header(o Order, ts model.UnixNanos) events.OrderEventHeader {
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

func venue(o Order) events.VenueFields {
	return events.VenueFields{VenueOrderID: "V-1", AccountID: "SIM-001"}
}

func submitted(o Order) events.OrderSubmitted {
	return events.OrderSubmitted{OrderEventHeader: header(o, 2), AccountID: "SIM-001"}
}

func accepted(o Order) events.OrderAccepted {
	return events.OrderAccepted{OrderEventHeader: header(o, 3), VenueFields: venue(o)}
}

func filled(o Order, tradeID, qty, px string) events.OrderFilled {
	return events.OrderFilled{
		OrderEventHeader: header(o, 4),
		VenueFields:      venue(o),
		TradeID:          model.TradeID(tradeID),
		Side:             o.Side(),
		OrderType:        o.OrderType(),
		LastQty:          dec(qty),
		LastPx:           dec(px),
		Currency:         "USDT",
		LiquiditySide:    model.LiquiditySideTaker,
	}
}

func TestFillsKeepQuantityInvariant(t *testing.T) {
	p := baseParams("O-1")
	p.Price = pdec("100")
	o := NewLimit(p)

	require.NoError(t, o.Apply(submitted(o)))
	require.NoError(t, o.Apply(accepted(o)))
	require.True(t, o.IsOpen())

	require.NoError(t, o.Apply(filled(o, "T-1", "0.5", "100")))
	require.Equal(t, model.OrderStatusPartiallyFilled, o.Status())
	require.True(t, o.FilledQty().Add(o.LeavesQty()).Equal(o.Quantity()))

	require.NoError(t, o.Apply(filled(o, "T-2", "1.5", "98")))
	require.Equal(t, model.OrderStatusFilled, o.Status())
	require.True(t, o.LeavesQty().IsZero())
	require.True(t, o.AvgPx().Equal(dec("98.5")))
	require.Nil(t, o.Slippage(), "favourable fill records no slippage")
	require.Len(t, o.Events(), 5)
	require.Equal(t, []model.TradeID{"T-1", "T-2"}, o.TradeIDs())
}

func TestGTDRequiresExpireTime(t *testing.T) {
	p := baseParams("O-2")
	p.Price = pdec("100")
	p.TimeInForce = model.TimeInForceGTD

	_, err := NewLimitChecked(p)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeInvalid))

	p.ExpireTime = 1_000
	o, err := NewLimitChecked(p)
	require.NoError(t, err)
	require.Equal(t, model.UnixNanos(1_000), o.ExpireTime())

	_, err = NewMarketChecked(p)
	require.Error(t, err)
}

func TestConstructorValidation(t *testing.T) {
	p := baseParams("O-3")
	p.DisplayQty = pdec("3")
	p.Price = pdec("100")
	_, err := NewLimitChecked(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "`display_qty` may not exceed `quantity`")

	p = baseParams("O-3")
	p.Quantity = decimal.Zero
	_, err = NewMarketChecked(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not positive")

	p = baseParams("O-3")
	_, err = NewStopMarketChecked(p)
	require.Error(t, err, "trigger price required")

	p.TriggerPrice = pdec("-1")
	require.Panics(t, func() { NewStopMarket(p) })

	p = baseParams("O-3")
	p.TrailingOffset = pdec("10")
	_, err = NewTrailingStopMarketChecked(p)
	require.Error(t, err, "offset type required")
	p.TrailingOffsetType = model.TrailingOffsetPrice
	o, err := NewTrailingStopMarketChecked(p)
	require.NoError(t, err)
	require.Nil(t, o.TriggerPrice())
	require.Equal(t, model.TriggerTypeDefault, o.TriggerType())
}

func TestUpdateRejectsPriceOnMarketIfTouched(t *testing.T) {
	p := baseParams("O-4")
	p.TriggerPrice = pdec("30000")
	o := NewMarketIfTouched(p)
	require.NoError(t, o.Apply(submitted(o)))
	require.NoError(t, o.Apply(accepted(o)))

	require.Panics(t, func() {
		_ = o.Apply(events.OrderUpdated{
			OrderEventHeader: header(o, 5),
			VenueFields:      venue(o),
			Quantity:         dec("2"),
			Price:            pdec("29000"),
		})
	})

	require.NoError(t, o.Apply(events.OrderUpdated{
		OrderEventHeader: header(o, 6),
		VenueFields:      venue(o),
		Quantity:         dec("3"),
		TriggerPrice:     pdec("29900"),
	}))
	require.True(t, o.TriggerPrice().Equal(dec("29900")))
	require.True(t, o.LeavesQty().Equal(dec("3")))
}

func TestSlippageIsAdverseOnly(t *testing.T) {
	p := baseParams("O-5")
	p.TriggerPrice = pdec("30000")
	p.TriggerType = model.TriggerTypeLastPrice
	o := NewMarketIfTouched(p)
	require.NoError(t, o.Apply(submitted(o)))
	require.NoError(t, o.Apply(accepted(o)))
	require.NoError(t, o.Apply(filled(o, "T-1", "2", "30010")))
	require.NotNil(t, o.Slippage())
	require.True(t, o.Slippage().Equal(dec("10")))

	sp := baseParams("O-6")
	sp.Side = model.OrderSideSell
	sp.Price = pdec("100")
	s := NewLimit(sp)
	require.NoError(t, s.Apply(submitted(s)))
	require.NoError(t, s.Apply(accepted(s)))
	require.NoError(t, s.Apply(filled(s, "T-2", "2", "99")))
	require.True(t, s.Slippage().Equal(dec("1")))

	m := NewMarket(baseParams("O-7"))
	require.NoError(t, m.Apply(submitted(m)))
	require.NoError(t, m.Apply(filled(m, "T-3", "2", "100")))
	require.Nil(t, m.Slippage())
}

func TestInvalidTransitionsError(t *testing.T) {
	o := NewMarket(baseParams("O-8"))

	err := o.Apply(accepted(o))
	require.NoError(t, err, "initialized orders may be accepted directly")

	denied := events.OrderDenied{OrderEventHeader: header(o, 5), Reason: "late"}
	err = o.Apply(denied)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeInvalidState))
	require.Equal(t, model.OrderStatusAccepted, o.Status())

	require.NoError(t, o.Apply(events.OrderCanceled{OrderEventHeader: header(o, 6), VenueFields: venue(o)}))
	require.True(t, o.IsClosed())

	err = o.Apply(events.OrderUpdated{OrderEventHeader: header(o, 7), VenueFields: venue(o), Quantity: dec("1")})
	require.True(t, errs.Is(err, errs.CodeInvalidState))
	require.True(t, o.Quantity().Equal(dec("2")), "closed order not mutated")

	other := NewMarket(baseParams("O-9"))
	require.Error(t, o.Apply(submitted(other)))
}

func TestPendingStatesRestore(t *testing.T) {
	p := baseParams("O-10")
	p.Price = pdec("100")
	o := NewLimit(p)
	require.NoError(t, o.Apply(submitted(o)))
	require.NoError(t, o.Apply(accepted(o)))
	require.NoError(t, o.Apply(filled(o, "T-1", "1", "100")))

	require.NoError(t, o.Apply(events.OrderPendingCancel{OrderEventHeader: header(o, 5), VenueFields: venue(o)}))
	require.True(t, o.IsInflight())
	require.NoError(t, o.Apply(events.OrderCancelRejected{OrderEventHeader: header(o, 6), VenueFields: venue(o), Reason: "too late"}))
	require.Equal(t, model.OrderStatusPartiallyFilled, o.Status())

	require.NoError(t, o.Apply(events.OrderPendingUpdate{OrderEventHeader: header(o, 7), VenueFields: venue(o)}))
	require.NoError(t, o.Apply(events.OrderUpdated{
		OrderEventHeader: header(o, 8),
		VenueFields:      venue(o),
		Quantity:         dec("2"),
		Price:            pdec("101"),
	}))
	require.Equal(t, model.OrderStatusPartiallyFilled, o.Status())
	require.True(t, o.Price().Equal(dec("101")))
}

func TestStopLimitTriggered(t *testing.T) {
	p := baseParams("O-11")
	p.Price = pdec("105")
	p.TriggerPrice = pdec("104")
	o := NewStopLimit(p)
	require.NoError(t, o.Apply(submitted(o)))
	require.NoError(t, o.Apply(accepted(o)))
	require.False(t, o.IsTriggered())
	require.NoError(t, o.Apply(events.OrderTriggered{OrderEventHeader: header(o, 9), VenueFields: venue(o)}))
	require.True(t, o.IsTriggered())
	require.Equal(t, model.UnixNanos(9), o.TsTriggered())
	require.Equal(t, model.OrderStatusTriggered, o.Status())
}

func TestFromEventsReplays(t *testing.T) {
	p := baseParams("O-12")
	p.Price = pdec("100")
	o := NewLimit(p)
	require.NoError(t, o.Apply(submitted(o)))
	require.NoError(t, o.Apply(accepted(o)))
	require.NoError(t, o.Apply(filled(o, "T-1", "1", "100")))

	replayed, err := FromEvents(o.Events())
	require.NoError(t, err)
	require.IsType(t, &LimitOrder{}, replayed)
	require.Equal(t, o.Status(), replayed.Status())
	require.True(t, o.FilledQty().Equal(replayed.FilledQty()))
	require.Equal(t, model.VenueOrderID("V-1"), replayed.VenueOrderID())

	_, err = FromEvents(nil)
	require.Error(t, err)
	_, err = FromEvents([]events.OrderEvent{submitted(o)})
	require.Error(t, err)
}

func TestFactoryIssuesSequentialIDs(t *testing.T) {
	f := NewFactory("TRADER-001", "S-001", func() model.UnixNanos { return 42 })
	m, err := f.Market(btc, model.OrderSideSell, dec("1"), "")
	require.NoError(t, err)
	require.Equal(t, model.ClientOrderID("O-42-TRADER-001-S-001-1"), m.ClientOrderID())
	require.Equal(t, model.TimeInForceGTC, m.TimeInForce())

	o, err := f.Build(model.OrderTypeLimitIfTouched, Params{
		InstrumentID: btc, Side: model.OrderSideBuy, Quantity: dec("1"),
		Price: pdec("10"), TriggerPrice: pdec("11"),
	})
	require.NoError(t, err)
	require.Equal(t, model.OrderTypeLimitIfTouched, o.OrderType())
	require.Equal(t, 2, f.Count())
	f.Reset()
	require.Equal(t, 0, f.Count())
}
