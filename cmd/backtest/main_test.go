package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const roundTripScript = `
module.exports = {
  metadata: { name: "roundtrip", config: { qty: 1 } },
  create(ctx) {
    let n = 0;
    return {
      onStart() { ctx.subscribeQuotes("BTCUSDT.SIM"); },
      onQuote(q) {
        n++;
        if (n === 1) ctx.buy(q.instrument, ctx.config.qty);
        if (n === 3) ctx.sell(q.instrument, ctx.config.qty);
      },
    };
  },
};`

const quotesCSV = `ts,bid,ask,bid_size,ask_size
1717200001000000000,30000,30010,5,5
1717200002000000000,30050,30060,5,5
1717200003000000000,30100,30110,5,5
`

func TestBacktestRunsScriptsOverCSV(t *testing.T) {
	dir := t.TempDir()
	scripts := filepath.Join(dir, "strategies")
	require.NoError(t, os.Mkdir(scripts, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "roundtrip.js"), []byte(roundTripScript), 0o600))
	data := filepath.Join(dir, "quotes.csv")
	require.NoError(t, os.WriteFile(data, []byte(quotesCSV), 0o600))

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-config", filepath.Join(dir, "missing.yaml"),
		"-data", data,
		"-scripts", scripts,
	}, &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "orders:         2 (filled 2)")
	require.Contains(t, out.String(), "window:         2024-06-01T00:00:01Z")
	require.Contains(t, out.String(), "(2 fills)")
	require.Contains(t, out.String(), "script roundtrip errors=0")
	require.Contains(t, out.String(), "unrealized pnl: -\n")
}

func TestAmountsSortsCurrencies(t *testing.T) {
	require.Equal(t, "-", amounts(nil))
	require.Equal(t, "1.5 BTC, -3.25 USDT", amounts(map[string]decimal.Decimal{
		"USDT": decimal.RequireFromString("-3.25"),
		"BTC":  decimal.RequireFromString("1.5"),
	}))
}

func TestBacktestFlags(t *testing.T) {
	_, err := parseFlags(nil)
	require.Error(t, err)

	opts, err := parseFlags([]string{"-data", "a.csv, b.csv", "-strategy", "x,,y"})
	require.NoError(t, err)
	require.Equal(t, []string{"a.csv", "b.csv"}, opts.data)
	require.Equal(t, []string{"x", "y"}, opts.strategies)
}
