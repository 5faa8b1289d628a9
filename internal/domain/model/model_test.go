package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestParseInstrumentIDSplitsOnLastDot(t *testing.T) {
	id, err := ParseInstrumentID("ESZ24.XCME")
	require.NoError(t, err)
	require.Equal(t, Symbol("ESZ24"), id.Symbol)
	require.Equal(t, Venue("XCME"), id.Venue)
	require.Equal(t, "ESZ24.XCME", id.String())

	id, err = ParseInstrumentID("BTC.USDT-PERP.BINANCE")
	require.NoError(t, err)
	require.Equal(t, Symbol("BTC.USDT-PERP"), id.Symbol)

	_, err = ParseInstrumentID("NOVENUE")
	require.Error(t, err)
	_, err = ParseInstrumentID("TRAILING.")
	require.Error(t, err)
}

func TestBarTypeRoundTripsThroughString(t *testing.T) {
	bt := BarType{
		InstrumentID: MustParseInstrumentID("AUD/USD.SIM"),
		Spec:         BarSpecification{Step: 1, Aggregation: BarAggregationMinute, PriceType: PriceTypeBid},
		Source:       AggregationSourceExternal,
	}
	require.Equal(t, "AUD/USD.SIM-1-MINUTE-BID-EXTERNAL", bt.String())

	parsed, err := ParseBarType(bt.String())
	require.NoError(t, err)
	require.Equal(t, bt, parsed)

	_, err = ParseBarType("AUD/USD.SIM-0-MINUTE-BID-EXTERNAL")
	require.Error(t, err)
}

func TestDataTypeTopicSortsMetadata(t *testing.T) {
	require.Equal(t, "ExampleDataType", NewDataType("ExampleDataType", nil).Topic())
	dt := NewDataType("NewsEvent", map[string]string{"currency": "USD", "impact": "HIGH"})
	require.Equal(t, "NewsEvent.currency=USD.impact=HIGH", dt.Topic())
}

func TestCheckValidString(t *testing.T) {
	require.NoError(t, CheckValidString("TRADER-001", "trader_id"))
	require.Error(t, CheckValidString("", "trader_id"))
	require.Error(t, CheckValidString("TRADER 001", "trader_id"))
}

func TestUnixNanosConversions(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)
	n := NanosFromTime(ts)
	require.True(t, n.Time().Equal(ts))
	require.Equal(t, time.Second, n.Add(time.Second).Sub(n))
	require.Equal(t, UnixNanos(0), UnixNanos(5).Add(-time.Second))
}

func TestOrderBookMaintainsSortedLevels(t *testing.T) {
	book := NewOrderBook(MustParseInstrumentID("ETHUSDT.BINANCE"), BookTypeL2MBP)
	add := func(side OrderSide, px, sz string) {
		book.Apply(OrderBookDelta{
			Action: BookActionAdd,
			Order:  BookOrder{Side: side, Price: decimal.RequireFromString(px), Size: decimal.RequireFromString(sz)},
		})
	}
	add(OrderSideBuy, "99", "1")
	add(OrderSideBuy, "100", "2")
	add(OrderSideSell, "102", "1")
	add(OrderSideSell, "101", "3")

	bid, ok := book.BestBid()
	require.True(t, ok)
	require.Equal(t, "100", bid.String())
	ask, _ := book.BestAsk()
	require.Equal(t, "101", ask.String())
	spread, _ := book.Spread()
	require.Equal(t, "1", spread.String())

	book.Apply(OrderBookDelta{Action: BookActionDelete, Order: BookOrder{Side: OrderSideSell, Price: decimal.NewFromInt(101)}})
	ask, _ = book.BestAsk()
	require.Equal(t, "102", ask.String())
	require.Len(t, book.Bids(0), 2)
	require.Len(t, book.Bids(1), 1)
	require.Equal(t, uint64(5), book.UpdateCount)
}

func TestOrderBookSimulateFillsRespectsLimit(t *testing.T) {
	book := NewOrderBook(MustParseInstrumentID("ETHUSDT.BINANCE"), BookTypeL2MBP)
	var depth OrderBookDepth10
	depth.Asks[0] = BookOrder{Side: OrderSideSell, Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}
	depth.Asks[1] = BookOrder{Side: OrderSideSell, Price: decimal.NewFromInt(102), Size: decimal.NewFromInt(1)}
	book.ApplyDepth(depth)

	fills := book.SimulateFills(OrderSideBuy, decimal.NewFromInt(3), nil)
	require.Len(t, fills, 2)

	limit := decimal.NewFromInt(101)
	fills = book.SimulateFills(OrderSideBuy, decimal.NewFromInt(3), &limit)
	require.Len(t, fills, 1)
	require.Equal(t, "1", fills[0].Size.String())
}

func TestMoneyAddPanicsOnCurrencyMismatch(t *testing.T) {
	usd := NewMoney(decimal.NewFromInt(1), "USD")
	require.Equal(t, "2 USD", usd.Add(usd).String())
	require.Panics(t, func() { usd.Add(NewMoney(decimal.NewFromInt(1), "EUR")) })
}
