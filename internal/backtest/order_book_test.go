package backtest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
)

func limitWorking(t *testing.T, f *orders.Factory, side model.OrderSide, px string, seq uint64) *workingOrder {
	t.Helper()
	o, err := f.Limit(btcusdt, side, d("1"), d(px), model.TimeInForceGTC)
	require.NoError(t, err)
	return newWorkingOrder(o, "", seq)
}

func TestOrderBookPriceTimePriority(t *testing.T) {
	f := orders.NewFactory("TRADER-001", "S-001", func() model.UnixNanos { return 1 })
	ob := newOrderBook()

	b1 := limitWorking(t, f, model.OrderSideBuy, "100", 1)
	b2 := limitWorking(t, f, model.OrderSideBuy, "101", 2)
	b3 := limitWorking(t, f, model.OrderSideBuy, "101", 3)
	a1 := limitWorking(t, f, model.OrderSideSell, "103", 4)
	a2 := limitWorking(t, f, model.OrderSideSell, "102", 5)
	for _, w := range []*workingOrder{b1, b2, b3, a1, a2} {
		ob.add(w)
	}

	require.Equal(t, 5, ob.len())
	require.Equal(t, []*workingOrder{b2, b3, b1}, ob.bids)
	require.Equal(t, []*workingOrder{a2, a1}, ob.asks)
	require.Equal(t, []*workingOrder{b2, b3, b1, a2, a1}, ob.all())
}

func TestOrderBookFindAndRemove(t *testing.T) {
	f := orders.NewFactory("TRADER-001", "S-001", func() model.UnixNanos { return 1 })
	ob := newOrderBook()
	w := limitWorking(t, f, model.OrderSideBuy, "100", 1)
	w.venueOrderID = "SIM-1"
	ob.add(w)

	got, ok := ob.find("", "SIM-1")
	require.True(t, ok)
	require.Same(t, w, got)

	_, ok = ob.find("O-unknown", "")
	require.False(t, ok)

	removed, ok := ob.remove(w.id())
	require.True(t, ok)
	require.Same(t, w, removed)
	require.Equal(t, 0, ob.len())

	_, ok = ob.remove(w.id())
	require.False(t, ok)
}

func TestOrderBookResortsAfterPriceChange(t *testing.T) {
	f := orders.NewFactory("TRADER-001", "S-001", func() model.UnixNanos { return 1 })
	ob := newOrderBook()
	a1 := limitWorking(t, f, model.OrderSideSell, "102", 1)
	a2 := limitWorking(t, f, model.OrderSideSell, "103", 2)
	ob.add(a1)
	ob.add(a2)

	a2.price = p("101")
	ob.sortSide(model.OrderSideSell)

	require.Equal(t, []*workingOrder{a2, a1}, ob.asks)
}

func TestWorkingOrderRestsAsLimitOnlyOnceTriggered(t *testing.T) {
	f := orders.NewFactory("TRADER-001", "S-001", func() model.UnixNanos { return 1 })
	o, err := f.Build(model.OrderTypeStopLimit, orders.Params{
		InstrumentID: btcusdt,
		Side:         model.OrderSideBuy,
		Quantity:     d("1"),
		Price:        p("105"),
		TriggerPrice: p("104"),
	})
	require.NoError(t, err)
	w := newWorkingOrder(o, "", 1)

	require.True(t, w.isStop())
	require.True(t, w.isConditional())
	require.False(t, w.restsAsLimit())
	require.True(t, w.priorityPrice().Equal(d("104")))

	w.triggered = true
	require.True(t, w.restsAsLimit())
	require.True(t, w.priorityPrice().Equal(d("105")))
}
