package events

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/model"
)

func sampleHeader() OrderEventHeader {
	return OrderEventHeader{
		TraderID:      "TRADER-001",
		StrategyID:    "S-001",
		InstrumentID:  model.MustParseInstrumentID("BTCUSDT.BINANCE"),
		ClientOrderID: "O-1",
		EventID:       model.NewUUID4(),
		TsEvent:       10,
		TsInit:        11,
	}
}

func TestFilledEventSurvivesEnvelope(t *testing.T) {
	commission := model.NewMoney(decimal.RequireFromString("0.6"), "USDT")
	fill := OrderFilled{
		OrderEventHeader: sampleHeader(),
		VenueFields:      VenueFields{VenueOrderID: "V-1", AccountID: "SIM-001"},
		TradeID:          "T-1",
		Side:             model.OrderSideSell,
		OrderType:        model.OrderTypeLimit,
		LastQty:          decimal.RequireFromString("0.5"),
		LastPx:           decimal.RequireFromString("30000.5"),
		Currency:         "USDT",
		Commission:       &commission,
		LiquiditySide:    model.LiquiditySideMaker,
	}

	data, err := Marshal(fill)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)
	got, ok := decoded.(OrderFilled)
	require.True(t, ok)
	require.Equal(t, fill.Header(), got.Header())
	require.True(t, fill.LastPx.Equal(got.LastPx))
	require.True(t, got.SignedQty().Equal(decimal.RequireFromString("-0.5")))
	require.Equal(t, model.VenueOrderID("V-1"), VenueOrderIDOf(got))
	require.Equal(t, model.AccountID("SIM-001"), AccountIDOf(got))
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode("OrderTeleported", []byte(`{}`))
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeInvalid))

	_, err = Marshal(nil)
	require.Error(t, err)
}

func TestAccountIDOfSubmitted(t *testing.T) {
	ev := OrderSubmitted{OrderEventHeader: sampleHeader(), AccountID: "SIM-001"}
	require.Equal(t, model.AccountID("SIM-001"), AccountIDOf(ev))
	require.Equal(t, model.VenueOrderID(""), VenueOrderIDOf(ev))
}
