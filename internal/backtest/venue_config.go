package backtest

import (
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/config"
)

// VenueFromConfig builds the exchange and client settings for a configured
// simulated venue.
func VenueFromConfig(c config.VenueConfig) (ExchangeConfig, ClientConfig, error) {
	balances, err := c.Balances()
	if err != nil {
		return ExchangeConfig{}, ClientConfig{}, err
	}
	slippage, err := c.Slippage()
	if err != nil {
		return ExchangeConfig{}, ClientConfig{}, err
	}
	ec := ExchangeConfig{
		Venue:            model.Venue(c.Name),
		OmsType:          model.OmsType(c.OmsType),
		AccountType:      model.AccountType(c.AccountType),
		BaseCurrency:     c.BaseCurrency,
		StartingBalances: balances,
		Slippage:         BasisPointSlippage{BPS: slippage},
		Latency:          ConstantLatency{Value: c.Latency},
	}
	rate, flat, err := c.Fee()
	if err != nil {
		return ExchangeConfig{}, ClientConfig{}, err
	}
	if flat {
		ec.Fee = ProportionalFee{Rate: rate}
	}
	cc := ClientConfig{Routing: c.Routing, FrozenAccount: c.FrozenAccount}
	return ec, cc, nil
}
