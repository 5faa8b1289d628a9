// Package position aggregates order fills into positions.
package position

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

// Position is derived exclusively from applied fills.
type Position struct {
	id             model.PositionID
	traderID       model.TraderID
	strategyID     model.StrategyID
	instrumentID   model.InstrumentID
	accountID      model.AccountID
	openingOrderID model.ClientOrderID
	closingOrderID model.ClientOrderID
	quoteCurrency  string
	multiplier     decimal.Decimal

	entry          model.OrderSide
	side           model.PositionSide
	signedQty      decimal.Decimal
	quantity       decimal.Decimal
	peakQty        decimal.Decimal
	closedQty      decimal.Decimal
	avgPxOpen      decimal.Decimal
	avgPxClose     *decimal.Decimal
	realizedReturn decimal.Decimal
	realizedPnL    model.Money
	commissions    map[string]model.Money

	tradeIDs map[model.TradeID]struct{}
	fills    []events.OrderFilled

	tsOpened model.UnixNanos
	tsClosed model.UnixNanos
	tsLast   model.UnixNanos
	duration uint64
}

// New opens a position from its first fill. The fill must carry a position id.
func New(instrument model.Instrument, fill events.OrderFilled) (*Position, error) {
	if fill.PositionID == "" {
		return nil, errs.New("position", errs.CodeInvalid,
			errs.WithMessage("fill has no position id"),
			errs.WithField("trade_id", fill.TradeID.String()))
	}
	if fill.InstrumentID != instrument.ID {
		return nil, errs.New("position", errs.CodeInvalid,
			errs.WithMessage("fill instrument does not match"),
			errs.WithField("instrument_id", instrument.ID.String()),
			errs.WithField("fill_instrument_id", fill.InstrumentID.String()))
	}
	mult := instrument.Multiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	p := &Position{
		id:            fill.PositionID,
		traderID:      fill.TraderID,
		strategyID:    fill.StrategyID,
		instrumentID:  fill.InstrumentID,
		accountID:     fill.AccountID,
		quoteCurrency: instrument.QuoteCurrency,
		multiplier:    mult,
		side:          model.PositionSideFlat,
		realizedPnL:   model.NewMoney(decimal.Zero, instrument.QuoteCurrency),
		commissions:   make(map[string]model.Money),
		tradeIDs:      make(map[model.TradeID]struct{}),
	}
	if err := p.Apply(fill); err != nil {
		return nil, err
	}
	return p, nil
}

// Apply folds fill into the position. Duplicate trade ids are rejected.
func (p *Position) Apply(fill events.OrderFilled) error {
	if _, dup := p.tradeIDs[fill.TradeID]; dup {
		return errs.New("position", errs.CodeConflict,
			errs.WithMessage("duplicate trade id"),
			errs.WithField("position_id", p.id.String()),
			errs.WithField("trade_id", fill.TradeID.String()))
	}
	if p.side == model.PositionSideFlat {
		p.reopen(fill)
	}
	p.tradeIDs[fill.TradeID] = struct{}{}
	p.fills = append(p.fills, fill)

	pnl := decimal.Zero
	if fill.Commission != nil {
		cur := fill.Commission.Currency
		total, ok := p.commissions[cur]
		if !ok {
			total = model.NewMoney(decimal.Zero, cur)
		}
		p.commissions[cur] = total.Add(*fill.Commission)
		if cur == p.quoteCurrency {
			pnl = fill.Commission.Amount.Neg()
		}
	}

	flipped := false
	reducing := (fill.IsBuy() && p.signedQty.IsNegative()) || (!fill.IsBuy() && p.signedQty.IsPositive())
	if reducing {
		closeQty := decimal.Min(fill.LastQty, p.quantity)
		closePx := fill.LastPx
		if p.avgPxClose != nil && p.closedQty.IsPositive() {
			closePx = p.avgPxClose.Mul(p.closedQty).Add(fill.LastPx.Mul(closeQty)).Div(p.closedQty.Add(closeQty))
		}
		p.avgPxClose = &closePx
		p.closedQty = p.closedQty.Add(closeQty)
		p.realizedReturn = p.calcReturn(p.avgPxOpen, closePx)
		pnl = pnl.Add(p.calcPnL(p.avgPxOpen, fill.LastPx, closeQty))
		flipped = fill.LastQty.GreaterThan(p.quantity)
	} else {
		p.avgPxOpen = p.avgPxOpen.Mul(p.quantity).Add(fill.LastPx.Mul(fill.LastQty)).Div(p.quantity.Add(fill.LastQty))
	}
	p.realizedPnL = p.realizedPnL.Add(model.NewMoney(pnl, p.quoteCurrency))

	p.signedQty = p.signedQty.Add(fill.SignedQty())
	p.quantity = p.signedQty.Abs()
	if p.quantity.GreaterThan(p.peakQty) {
		p.peakQty = p.quantity
	}
	switch {
	case p.signedQty.IsPositive():
		p.side = model.PositionSideLong
	case p.signedQty.IsNegative():
		p.side = model.PositionSideShort
	default:
		p.side = model.PositionSideFlat
		p.closingOrderID = fill.ClientOrderID
		p.tsClosed = fill.TsEvent
		p.duration = uint64(fill.TsEvent) - uint64(p.tsOpened)
	}
	if flipped {
		p.entry = fill.Side
		p.avgPxOpen = fill.LastPx
		p.avgPxClose = nil
		p.closedQty = decimal.Zero
	}
	p.tsLast = fill.TsEvent
	return nil
}

func (p *Position) reopen(fill events.OrderFilled) {
	p.openingOrderID = fill.ClientOrderID
	p.closingOrderID = ""
	p.entry = fill.Side
	p.tsOpened = fill.TsEvent
	p.tsClosed = 0
	p.duration = 0
	p.avgPxOpen = fill.LastPx
	p.avgPxClose = nil
	p.closedQty = decimal.Zero
	p.peakQty = decimal.Zero
	p.realizedReturn = decimal.Zero
	p.realizedPnL = model.NewMoney(decimal.Zero, p.quoteCurrency)
	if fill.AccountID != "" {
		p.accountID = fill.AccountID
	}
}

// calcPnL is the linear PnL of closing qty opened at open and closed at close.
func (p *Position) calcPnL(open, close, qty decimal.Decimal) decimal.Decimal {
	diff := close.Sub(open)
	if p.side == model.PositionSideShort {
		diff = diff.Neg()
	}
	return diff.Mul(qty).Mul(p.multiplier)
}

func (p *Position) calcReturn(open, close decimal.Decimal) decimal.Decimal {
	if open.IsZero() {
		return decimal.Zero
	}
	r := close.Sub(open).Div(open)
	if p.side == model.PositionSideShort {
		r = r.Neg()
	}
	return r
}

// UnrealizedPnL values the open quantity at last.
func (p *Position) UnrealizedPnL(last decimal.Decimal) model.Money {
	if p.side == model.PositionSideFlat {
		return model.NewMoney(decimal.Zero, p.quoteCurrency)
	}
	return model.NewMoney(p.calcPnL(p.avgPxOpen, last, p.quantity), p.quoteCurrency)
}

// TotalPnL is realized plus unrealized PnL at last.
func (p *Position) TotalPnL(last decimal.Decimal) model.Money {
	return p.realizedPnL.Add(p.UnrealizedPnL(last))
}

// NotionalValue is the open quantity valued at last.
func (p *Position) NotionalValue(last decimal.Decimal) model.Money {
	return model.NewMoney(p.quantity.Mul(last).Mul(p.multiplier), p.quoteCurrency)
}

// IsOppositeSide reports whether an order on side would reduce the position.
func (p *Position) IsOppositeSide(side model.OrderSide) bool {
	switch p.side {
	case model.PositionSideLong:
		return side == model.OrderSideSell
	case model.PositionSideShort:
		return side == model.OrderSideBuy
	}
	return false
}

func (p *Position) ID() model.PositionID                { return p.id }
func (p *Position) TraderID() model.TraderID            { return p.traderID }
func (p *Position) StrategyID() model.StrategyID        { return p.strategyID }
func (p *Position) InstrumentID() model.InstrumentID    { return p.instrumentID }
func (p *Position) AccountID() model.AccountID          { return p.accountID }
func (p *Position) OpeningOrderID() model.ClientOrderID { return p.openingOrderID }
func (p *Position) ClosingOrderID() model.ClientOrderID { return p.closingOrderID }
func (p *Position) Entry() model.OrderSide              { return p.entry }
func (p *Position) Side() model.PositionSide            { return p.side }
func (p *Position) SignedQty() decimal.Decimal          { return p.signedQty }
func (p *Position) Quantity() decimal.Decimal           { return p.quantity }
func (p *Position) PeakQty() decimal.Decimal            { return p.peakQty }
func (p *Position) AvgPxOpen() decimal.Decimal          { return p.avgPxOpen }
func (p *Position) AvgPxClose() *decimal.Decimal        { return p.avgPxClose }
func (p *Position) RealizedReturn() decimal.Decimal     { return p.realizedReturn }
func (p *Position) RealizedPnL() model.Money            { return p.realizedPnL }
func (p *Position) QuoteCurrency() string               { return p.quoteCurrency }
func (p *Position) TsOpened() model.UnixNanos           { return p.tsOpened }
func (p *Position) TsClosed() model.UnixNanos           { return p.tsClosed }
func (p *Position) TsLast() model.UnixNanos             { return p.tsLast }
func (p *Position) DurationNs() uint64                  { return p.duration }
func (p *Position) IsOpen() bool                        { return p.side != model.PositionSideFlat }
func (p *Position) IsClosed() bool                      { return p.side == model.PositionSideFlat }
func (p *Position) IsLong() bool                        { return p.side == model.PositionSideLong }
func (p *Position) IsShort() bool                       { return p.side == model.PositionSideShort }
func (p *Position) EventCount() int                     { return len(p.fills) }
func (p *Position) LastFill() events.OrderFilled        { return p.fills[len(p.fills)-1] }
func (p *Position) Fills() []events.OrderFilled         { return append([]events.OrderFilled(nil), p.fills...) }

// HasTrade reports whether the fill with id was applied.
func (p *Position) HasTrade(id model.TradeID) bool {
	_, ok := p.tradeIDs[id]
	return ok
}

// Commissions returns total commission per currency.
func (p *Position) Commissions() map[string]model.Money {
	out := make(map[string]model.Money, len(p.commissions))
	for k, v := range p.commissions {
		out[k] = v
	}
	return out
}

// SplitFill divides fill at qty: the first part closes the current position,
// the remainder opens the flipped one. Commission is pro-rated.
func SplitFill(fill events.OrderFilled, qty decimal.Decimal, flippedID model.PositionID) (events.OrderFilled, events.OrderFilled) {
	closing, opening := fill, fill
	closing.LastQty = qty
	opening.LastQty = fill.LastQty.Sub(qty)
	opening.PositionID = flippedID
	opening.TradeID = model.TradeID(fill.TradeID.String() + "-F")
	if fill.Commission != nil && fill.LastQty.IsPositive() {
		ratio := qty.Div(fill.LastQty)
		c1 := model.NewMoney(fill.Commission.Amount.Mul(ratio), fill.Commission.Currency)
		c2 := model.NewMoney(fill.Commission.Amount.Sub(c1.Amount), fill.Commission.Currency)
		closing.Commission = &c1
		opening.Commission = &c2
	}
	return closing, opening
}
