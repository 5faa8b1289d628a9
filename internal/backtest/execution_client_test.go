package backtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
)

func TestClientRegistersStartingAccount(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{BaseCurrency: "USDT"})

	acct := h.client.Account()
	require.Equal(t, model.AccountID("SIM-001"), acct.ID())
	require.True(t, acct.IsCash())
	require.True(t, acct.BalanceTotal("USDT").Amount.Equal(d("100000")))
	got, ok := h.cache.Account("SIM-001")
	require.True(t, ok)
	require.Same(t, acct, got)
	require.Equal(t, model.ClientID("SIM"), h.client.ClientID())
}

func TestClientForwardsWhileDisconnected(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	require.False(t, h.client.IsConnected())
	h.quote("29990", "30000")
	o, err := h.factory.Market(btcusdt, model.OrderSideBuy, d("1"), model.TimeInForceGTC)
	require.NoError(t, err)

	h.submit(o)
	require.Equal(t, model.OrderStatusFilled, h.order(t, o.ClientOrderID()).Status())

	require.NoError(t, h.client.Start(context.Background()))
	require.True(t, h.client.IsConnected())
	require.NoError(t, h.client.Stop(context.Background()))
	require.False(t, h.client.IsConnected())
}

func TestClientAcknowledgesListChildrenInOrder(t *testing.T) {
	h := newVenueHarness(t, ExchangeConfig{})
	h.quote("29990", "30000")
	a := h.build(t, model.OrderTypeLimit, orders.Params{Side: model.OrderSideBuy, Quantity: d("1"), Price: p("29000")})
	b := h.build(t, model.OrderTypeLimit, orders.Params{Side: model.OrderSideBuy, Quantity: d("1"), Price: p("28000")})

	h.command(messages.SubmitOrderList{TradingHeader: h.header(), OrderListID: "OL-1", Orders: []orders.Order{a, b}})

	var submitted, accepted []model.ClientOrderID
	for _, ev := range h.events {
		switch ev.Kind() {
		case events.KindOrderSubmitted:
			submitted = append(submitted, ev.Header().ClientOrderID)
		case events.KindOrderAccepted:
			accepted = append(accepted, ev.Header().ClientOrderID)
		}
	}
	want := []model.ClientOrderID{a.ClientOrderID(), b.ClientOrderID()}
	require.Equal(t, want, submitted)
	require.Equal(t, want, accepted)
	require.Equal(t, 2, h.exchange.WorkingOrders(btcusdt))
}

func TestFrozenAccountKeepsStartingBalances(t *testing.T) {
	h := newClientHarness(t, ExchangeConfig{}, ClientConfig{AccountID: "SIM-009", FrozenAccount: true})
	require.True(t, h.client.Account().IsFrozen())
	require.Equal(t, model.AccountID("SIM-009"), h.client.Account().ID())
	h.quote("29990", "30000")
	o, err := h.factory.Market(btcusdt, model.OrderSideBuy, d("1"), model.TimeInForceGTC)
	require.NoError(t, err)

	h.submit(o)

	require.Equal(t, model.OrderStatusFilled, h.order(t, o.ClientOrderID()).Status())
	require.True(t, h.client.Account().BalanceTotal("USDT").Amount.Equal(d("100000")))
	require.True(t, h.client.Account().BalanceTotal("BTC").Amount.IsZero())
}
