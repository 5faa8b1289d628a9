package accounts

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

var btcID = model.MustParseInstrumentID("BTCUSDT.SIM")

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seed(t model.AccountType) events.AccountState {
	return events.AccountState{
		AccountID:   "SIM-001",
		AccountType: t,
		Balances: []events.AccountBalance{
			events.NewAccountBalance(d("100000"), decimal.Zero, "USDT"),
		},
		EventID: model.NewUUID4(),
	}
}

func buy(qty, px string) events.OrderFilled {
	commission := model.NewMoney(d("2"), "USDT")
	return events.OrderFilled{
		OrderEventHeader: events.OrderEventHeader{InstrumentID: btcID, ClientOrderID: "O-1"},
		TradeID:          "T-1",
		Side:             model.OrderSideBuy,
		LastQty:          d(qty),
		LastPx:           d(px),
		Currency:         "USDT",
		Commission:       &commission,
	}
}

func TestCashAccountSettlesFills(t *testing.T) {
	inst := model.NewCurrencyPair(btcID, "BTC", "USDT", 2, 6, 0)
	a, err := New(seed(model.AccountTypeCash), false)
	require.NoError(t, err)

	require.NoError(t, a.ApplyFill(inst, buy("1", "30000")))
	require.True(t, a.BalanceTotal("USDT").Amount.Equal(d("69998")))
	require.True(t, a.BalanceTotal("BTC").Amount.Equal(d("1")))
	require.True(t, a.Commissions()["USDT"].Amount.Equal(d("2")))

	err = a.ApplyFill(inst, buy("10", "30000"))
	require.True(t, errs.Is(err, errs.CodeDenied))
	require.True(t, a.BalanceTotal("USDT").Amount.Equal(d("69998")), "rejected fill leaves balances")

	state := a.State(model.NewUUID4(), 5, false)
	require.Equal(t, []string{"BTC", "USDT"}, a.Currencies())
	require.Len(t, state.Balances, 2)
}

func TestFrozenAccountIgnoresFillsAndPnL(t *testing.T) {
	inst := model.NewCurrencyPair(btcID, "BTC", "USDT", 2, 6, 0)
	a, err := New(seed(model.AccountTypeMargin), true)
	require.NoError(t, err)
	require.True(t, a.IsFrozen())

	require.NoError(t, a.ApplyFill(inst, buy("1", "30000")))
	require.NoError(t, a.ApplyPnL(model.NewMoney(d("500"), "USDT")))
	require.True(t, a.BalanceTotal("USDT").Amount.Equal(d("100000")))
	require.Equal(t, 1, a.EventCount())
}

func TestMarginAccountPnLAndMargin(t *testing.T) {
	inst := model.NewCurrencyPair(btcID, "BTC", "USDT", 2, 6, 0)
	a, err := New(seed(model.AccountTypeMargin), false)
	require.NoError(t, err)
	a.SetLeverage(btcID, d("10"))

	require.NoError(t, a.ApplyFill(inst, buy("1", "30000")))
	require.True(t, a.BalanceTotal("USDT").Amount.Equal(d("99998")))
	require.NoError(t, a.ApplyPnL(model.NewMoney(d("-100"), "USDT")))
	require.True(t, a.BalanceTotal("USDT").Amount.Equal(d("99898")))

	m := a.UpdateMargin(inst, d("1"), d("30000"), d("1"), d("0.5"))
	require.True(t, m.Initial.Amount.Equal(d("3000")))
	require.True(t, a.BalanceFree("USDT").Amount.Equal(d("96898")))

	a.UpdateMargin(inst, decimal.Zero, d("30000"), d("1"), d("0.5"))
	_, ok := a.Margin(btcID)
	require.False(t, ok)
	require.True(t, a.BalanceFree("USDT").Amount.Equal(d("99898")))
}

func TestNewValidates(t *testing.T) {
	_, err := New(events.AccountState{}, false)
	require.Error(t, err)

	bad := seed(model.AccountTypeCash)
	bad.AccountType = "BETTING"
	_, err = New(bad, false)
	require.Error(t, err)

	a, err := New(seed(model.AccountTypeCash), false)
	require.NoError(t, err)
	other := seed(model.AccountTypeCash)
	other.AccountID = "SIM-002"
	require.Error(t, a.Apply(other))
}
