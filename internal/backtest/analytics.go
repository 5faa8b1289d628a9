// Package backtest replays historical data through a simulated exchange and
// the trading engines, and reports the run's performance.
package backtest

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/position"
	"github.com/coachpo/quanta/internal/infra/cache"
)

// Analytics summarises a run. Orders, positions and balances are read from
// the cache when the summary is taken; amounts are keyed by currency.
// RealizedPnL is net of commissions paid in the quote currency.
type Analytics struct {
	TotalOrders   int
	FilledOrders  int
	TotalVolume   decimal.Decimal
	RealizedPnL   map[string]decimal.Decimal
	UnrealizedPnL map[string]decimal.Decimal
	Commissions   map[string]decimal.Decimal
	Balances      map[string]decimal.Decimal
	MaxDrawdown   map[string]decimal.Decimal
}

// TotalPnL returns realized plus unrealized PnL in currency.
func (a Analytics) TotalPnL(currency string) decimal.Decimal {
	return a.RealizedPnL[currency].Add(a.UnrealizedPnL[currency])
}

// equityCurve samples total PnL per currency and keeps the deepest fall from
// its running peak. The peak starts at zero, the PnL before the first fill.
type equityCurve struct {
	mu       sync.Mutex
	peak     map[string]decimal.Decimal
	drawdown map[string]decimal.Decimal
}

func newEquityCurve() *equityCurve {
	return &equityCurve{
		peak:     make(map[string]decimal.Decimal),
		drawdown: make(map[string]decimal.Decimal),
	}
}

func (c *equityCurve) sample(pnl map[string]decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for cur, v := range pnl {
		peak := c.peak[cur]
		if v.GreaterThan(peak) {
			peak = v
			c.peak[cur] = v
		}
		if dd := peak.Sub(v); dd.GreaterThan(c.drawdown[cur]) {
			c.drawdown[cur] = dd
		}
	}
}

func (c *equityCurve) maxDrawdown() map[string]decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(c.drawdown))
	for cur, v := range c.drawdown {
		out[cur] = v
	}
	return out
}

// markPrice values an open position: the last trade, else the quote mid,
// else the position's own last fill.
func markPrice(c *cache.Cache, p *position.Position) decimal.Decimal {
	if px, ok := c.Price(p.InstrumentID(), model.PriceTypeLast); ok {
		return px
	}
	if px, ok := c.Price(p.InstrumentID(), model.PriceTypeMid); ok {
		return px
	}
	return p.LastFill().LastPx
}

// positionPnL splits every cached position's PnL into realized and unrealized
// per currency.
func positionPnL(c *cache.Cache) (realized, unrealized map[string]decimal.Decimal) {
	realized = make(map[string]decimal.Decimal)
	unrealized = make(map[string]decimal.Decimal)
	for _, p := range c.Positions(cache.Filter{}) {
		r := p.RealizedPnL()
		realized[r.Currency] = realized[r.Currency].Add(r.Amount)
		if p.IsOpen() {
			u := p.UnrealizedPnL(markPrice(c, p))
			unrealized[u.Currency] = unrealized[u.Currency].Add(u.Amount)
		}
	}
	return realized, unrealized
}

func totalPnL(c *cache.Cache) map[string]decimal.Decimal {
	realized, unrealized := positionPnL(c)
	for cur, v := range unrealized {
		realized[cur] = realized[cur].Add(v)
	}
	return realized
}

func summarize(c *cache.Cache, curve *equityCurve) Analytics {
	a := Analytics{
		TotalVolume: decimal.Zero,
		Commissions: make(map[string]decimal.Decimal),
		Balances:    make(map[string]decimal.Decimal),
		MaxDrawdown: curve.maxDrawdown(),
	}
	for _, o := range c.Orders(cache.Filter{}) {
		a.TotalOrders++
		if filled := o.FilledQty(); filled.IsPositive() {
			a.FilledOrders++
			a.TotalVolume = a.TotalVolume.Add(filled)
		}
	}
	a.RealizedPnL, a.UnrealizedPnL = positionPnL(c)
	for _, p := range c.Positions(cache.Filter{}) {
		for cur, m := range p.Commissions() {
			a.Commissions[cur] = a.Commissions[cur].Add(m.Amount)
		}
	}
	for _, acct := range c.Accounts() {
		for _, cur := range acct.Currencies() {
			a.Balances[cur] = a.Balances[cur].Add(acct.BalanceTotal(cur).Amount)
		}
	}
	return a
}
