package backtest

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/config"
)

func TestVenueFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(`
venues:
  - name: sim
    omsType: hedging
    accountType: margin
    baseCurrency: usdt
    startingBalances: ["1000 USDT", "2 btc"]
    frozenAccount: true
    feeRate: "0.001"
    slippageBps: "5"
    latency: 25ms
`))
	require.NoError(t, err)

	ec, cc, err := VenueFromConfig(cfg.Venues[0])
	require.NoError(t, err)
	require.Equal(t, model.Venue("SIM"), ec.Venue)
	require.Equal(t, model.OmsTypeHedging, ec.OmsType)
	require.Equal(t, model.AccountTypeMargin, ec.AccountType)
	require.Equal(t, "USDT", ec.BaseCurrency)
	require.Len(t, ec.StartingBalances, 2)
	require.Equal(t, "BTC", ec.StartingBalances[1].Currency)
	fee, ok := ec.Fee.(ProportionalFee)
	require.True(t, ok)
	require.True(t, fee.Rate.Equal(decimal.RequireFromString("0.001")))
	require.True(t, ec.Slippage.(BasisPointSlippage).BPS.Equal(decimal.NewFromInt(5)))
	require.Equal(t, 25*time.Millisecond, ec.Latency.Delay(nil))
	require.True(t, cc.Routing)
	require.True(t, cc.FrozenAccount)

	ec, _, err = VenueFromConfig(config.VenueConfig{Name: "X", StartingBalances: []string{"1 USD"}})
	require.NoError(t, err)
	require.Nil(t, ec.Fee)
}
