package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// LatencyModel returns the delay between a command leaving the client and the
// exchange acting on it.
type LatencyModel interface {
	Delay(cmd messages.TradingCommand) time.Duration
}

// ConstantLatency delays every command by the same amount.
type ConstantLatency struct {
	Value time.Duration
}

// Delay implements LatencyModel.
func (c ConstantLatency) Delay(_ messages.TradingCommand) time.Duration {
	if c.Value < 0 {
		return 0
	}
	return c.Value
}

// SlippageModel moves aggressive fill prices against the taker.
type SlippageModel interface {
	Adjust(inst model.Instrument, side model.OrderSide, px decimal.Decimal) decimal.Decimal
}

// BasisPointSlippage shifts taker fills by BPS basis points, rounded to the
// instrument's price precision.
type BasisPointSlippage struct {
	BPS decimal.Decimal
}

// Adjust implements SlippageModel.
func (b BasisPointSlippage) Adjust(inst model.Instrument, side model.OrderSide, px decimal.Decimal) decimal.Decimal {
	if !b.BPS.IsPositive() || !px.IsPositive() {
		return px
	}
	shift := px.Mul(b.BPS).Div(bpsDivisor)
	if side == model.OrderSideSell {
		shift = shift.Neg()
	}
	return px.Add(shift).Round(inst.PricePrecision)
}

// FeeModel prices the commission of one fill.
type FeeModel interface {
	Commission(inst model.Instrument, qty, px decimal.Decimal, liquidity model.LiquiditySide) model.Money
}

// ProportionalFee charges Rate of the fill notional regardless of liquidity side.
type ProportionalFee struct {
	Rate decimal.Decimal
}

// Commission implements FeeModel.
func (p ProportionalFee) Commission(inst model.Instrument, qty, px decimal.Decimal, _ model.LiquiditySide) model.Money {
	return notionalFee(inst, qty, px, p.Rate)
}

// MakerTakerFee charges the instrument's maker or taker rate.
type MakerTakerFee struct{}

// Commission implements FeeModel.
func (MakerTakerFee) Commission(inst model.Instrument, qty, px decimal.Decimal, liquidity model.LiquiditySide) model.Money {
	rate := inst.TakerFee
	if liquidity == model.LiquiditySideMaker {
		rate = inst.MakerFee
	}
	return notionalFee(inst, qty, px, rate)
}

func notionalFee(inst model.Instrument, qty, px, rate decimal.Decimal) model.Money {
	notional := inst.NotionalValue(qty, px)
	if !qty.IsPositive() || !px.IsPositive() || !rate.IsPositive() {
		return model.NewMoney(decimal.Zero, notional.Currency)
	}
	return model.NewMoney(notional.Amount.Mul(rate), notional.Currency)
}
