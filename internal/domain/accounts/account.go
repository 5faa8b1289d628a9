// Package accounts tracks cash and margin account balances.
package accounts

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

// Account holds per-currency balances. A frozen account keeps the balances it
// was seeded with and ignores every fill and PnL application.
type Account struct {
	id           model.AccountID
	accountType  model.AccountType
	baseCurrency string
	frozen       bool

	balances   map[string]events.AccountBalance
	leverages  map[model.InstrumentID]decimal.Decimal
	margins    map[model.InstrumentID]events.MarginBalance
	states     []events.AccountState
	commission map[string]model.Money
}

// New builds an account from its first state. frozen disables balance mutation from fills.
func New(state events.AccountState, frozen bool) (*Account, error) {
	if state.AccountID == "" {
		return nil, errs.New("accounts", errs.CodeInvalid, errs.WithMessage("account id required"))
	}
	switch state.AccountType {
	case model.AccountTypeCash, model.AccountTypeMargin:
	default:
		return nil, errs.New("accounts", errs.CodeInvalid,
			errs.WithMessage("unsupported account type"),
			errs.WithField("account_type", string(state.AccountType)))
	}
	a := &Account{
		id:           state.AccountID,
		accountType:  state.AccountType,
		baseCurrency: state.BaseCurrency,
		frozen:       frozen,
		balances:     make(map[string]events.AccountBalance),
		leverages:    make(map[model.InstrumentID]decimal.Decimal),
		margins:      make(map[model.InstrumentID]events.MarginBalance),
		commission:   make(map[string]model.Money),
	}
	if err := a.Apply(state); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Account) ID() model.AccountID     { return a.id }
func (a *Account) Type() model.AccountType { return a.accountType }
func (a *Account) BaseCurrency() string    { return a.baseCurrency }
func (a *Account) IsFrozen() bool          { return a.frozen }
func (a *Account) IsCash() bool            { return a.accountType == model.AccountTypeCash }
func (a *Account) IsMargin() bool          { return a.accountType == model.AccountTypeMargin }
func (a *Account) EventCount() int         { return len(a.states) }

// Apply replaces balances with those carried by state.
func (a *Account) Apply(state events.AccountState) error {
	if state.AccountID != a.id {
		return errs.New("accounts", errs.CodeInvalid,
			errs.WithMessage("account id mismatch"),
			errs.WithField("account_id", a.id.String()),
			errs.WithField("state_account_id", state.AccountID.String()))
	}
	for _, b := range state.Balances {
		if b.Total.Amount.IsNegative() {
			return balanceNegative(a.id, b.Total)
		}
	}
	for _, b := range state.Balances {
		a.balances[b.Total.Currency] = b
	}
	for _, m := range state.Margins {
		a.margins[m.InstrumentID] = m
	}
	a.states = append(a.states, state)
	return nil
}

// LastState returns the most recently applied state.
func (a *Account) LastState() (events.AccountState, bool) {
	if len(a.states) == 0 {
		return events.AccountState{}, false
	}
	return a.states[len(a.states)-1], true
}

// Balance returns the balance of currency.
func (a *Account) Balance(currency string) (events.AccountBalance, bool) {
	b, ok := a.balances[currency]
	return b, ok
}

// BalanceTotal returns the total of currency, zero when absent.
func (a *Account) BalanceTotal(currency string) model.Money {
	if b, ok := a.balances[currency]; ok {
		return b.Total
	}
	return model.NewMoney(decimal.Zero, currency)
}

// BalanceFree returns the free amount of currency, zero when absent.
func (a *Account) BalanceFree(currency string) model.Money {
	if b, ok := a.balances[currency]; ok {
		return b.Free
	}
	return model.NewMoney(decimal.Zero, currency)
}

// Currencies lists the currencies with a balance, sorted.
func (a *Account) Currencies() []string {
	out := make([]string, 0, len(a.balances))
	for cur := range a.balances {
		out = append(out, cur)
	}
	sort.Strings(out)
	return out
}

// Commissions returns total commission paid per currency.
func (a *Account) Commissions() map[string]model.Money {
	out := make(map[string]model.Money, len(a.commission))
	for k, v := range a.commission {
		out[k] = v
	}
	return out
}

// SetLeverage records the leverage used for margin on instrumentID.
func (a *Account) SetLeverage(instrumentID model.InstrumentID, leverage decimal.Decimal) {
	a.leverages[instrumentID] = leverage
}

// Leverage returns the leverage for instrumentID, 1 by default.
func (a *Account) Leverage(instrumentID model.InstrumentID) decimal.Decimal {
	if lev, ok := a.leverages[instrumentID]; ok && lev.IsPositive() {
		return lev
	}
	return decimal.NewFromInt(1)
}

// Margin returns the margin held for instrumentID.
func (a *Account) Margin(instrumentID model.InstrumentID) (events.MarginBalance, bool) {
	m, ok := a.margins[instrumentID]
	return m, ok
}

// ApplyFill mutates balances for fill. Cash accounts settle the full notional
// and the base asset; margin accounts only pay commission. Frozen accounts are
// left untouched.
func (a *Account) ApplyFill(instrument model.Instrument, fill events.OrderFilled) error {
	if a.frozen {
		return nil
	}
	deltas := make(map[string]decimal.Decimal, 3)
	if a.IsCash() {
		notional := instrument.NotionalValue(fill.LastQty, fill.LastPx)
		if fill.IsBuy() {
			deltas[notional.Currency] = notional.Amount.Neg()
			if instrument.BaseCurrency != "" {
				deltas[instrument.BaseCurrency] = fill.LastQty
			}
		} else {
			deltas[notional.Currency] = notional.Amount
			if instrument.BaseCurrency != "" {
				deltas[instrument.BaseCurrency] = fill.LastQty.Neg()
			}
		}
	}
	if fill.Commission != nil {
		cur := fill.Commission.Currency
		deltas[cur] = deltas[cur].Sub(fill.Commission.Amount)
	}
	if err := a.applyDeltas(deltas); err != nil {
		return err
	}
	if fill.Commission != nil {
		cur := fill.Commission.Currency
		total, ok := a.commission[cur]
		if !ok {
			total = model.NewMoney(decimal.Zero, cur)
		}
		a.commission[cur] = total.Add(*fill.Commission)
	}
	return nil
}

// ApplyPnL credits realized PnL to a margin account. Cash and frozen accounts ignore it.
func (a *Account) ApplyPnL(pnl model.Money) error {
	if a.frozen || !a.IsMargin() || pnl.Amount.IsZero() {
		return nil
	}
	return a.applyDeltas(map[string]decimal.Decimal{pnl.Currency: pnl.Amount})
}

// UpdateMargin records initial and maintenance margin for a position.
func (a *Account) UpdateMargin(instrument model.Instrument, qty, px, initRate, maintRate decimal.Decimal) events.MarginBalance {
	notional := instrument.NotionalValue(qty, px)
	lev := a.Leverage(instrument.ID)
	m := events.MarginBalance{
		Initial:      model.NewMoney(notional.Amount.Div(lev).Mul(initRate), notional.Currency),
		Maintenance:  model.NewMoney(notional.Amount.Div(lev).Mul(maintRate), notional.Currency),
		InstrumentID: instrument.ID,
	}
	if qty.IsZero() {
		delete(a.margins, instrument.ID)
	} else {
		a.margins[instrument.ID] = m
	}
	a.relock(notional.Currency)
	return m
}

func (a *Account) relock(currency string) {
	b, ok := a.balances[currency]
	if !ok {
		return
	}
	locked := decimal.Zero
	for _, m := range a.margins {
		if m.Initial.Currency == currency {
			locked = locked.Add(m.Initial.Amount)
		}
	}
	a.balances[currency] = events.NewAccountBalance(b.Total.Amount, locked, currency)
}

func (a *Account) applyDeltas(deltas map[string]decimal.Decimal) error {
	next := make(map[string]events.AccountBalance, len(deltas))
	for cur, delta := range deltas {
		b, ok := a.balances[cur]
		if !ok {
			b = events.NewAccountBalance(decimal.Zero, decimal.Zero, cur)
		}
		total := b.Total.Amount.Add(delta)
		if total.IsNegative() && a.IsCash() {
			return balanceNegative(a.id, model.NewMoney(total, cur))
		}
		next[cur] = events.NewAccountBalance(total, b.Locked.Amount, cur)
	}
	for cur, b := range next {
		a.balances[cur] = b
	}
	return nil
}

// State renders the current balances as an AccountState.
func (a *Account) State(eventID model.UUID4, ts model.UnixNanos, reported bool) events.AccountState {
	balances := make([]events.AccountBalance, 0, len(a.balances))
	for _, cur := range a.Currencies() {
		balances = append(balances, a.balances[cur])
	}
	margins := make([]events.MarginBalance, 0, len(a.margins))
	for _, m := range a.margins {
		margins = append(margins, m)
	}
	sort.Slice(margins, func(i, j int) bool {
		return margins[i].InstrumentID.String() < margins[j].InstrumentID.String()
	})
	return events.AccountState{
		AccountID:    a.id,
		AccountType:  a.accountType,
		BaseCurrency: a.baseCurrency,
		Balances:     balances,
		Margins:      margins,
		IsReported:   reported,
		EventID:      eventID,
		TsEvent:      ts,
		TsInit:       ts,
	}
}

func balanceNegative(id model.AccountID, total model.Money) error {
	return errs.New("accounts", errs.CodeDenied,
		errs.WithMessage("account balance would be negative"),
		errs.WithField("account_id", id.String()),
		errs.WithField("balance", total.String()))
}
