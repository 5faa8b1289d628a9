package events

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/model"
)

// AccountBalance is the balance of a single currency.
type AccountBalance struct {
	Total  model.Money `json:"total"`
	Locked model.Money `json:"locked"`
	Free   model.Money `json:"free"`
}

// NewAccountBalance builds a balance with free = total - locked.
func NewAccountBalance(total, locked decimal.Decimal, currency string) AccountBalance {
	return AccountBalance{
		Total:  model.NewMoney(total, currency),
		Locked: model.NewMoney(locked, currency),
		Free:   model.NewMoney(total.Sub(locked), currency),
	}
}

// MarginBalance is margin held against an instrument.
type MarginBalance struct {
	Initial      model.Money        `json:"initial"`
	Maintenance  model.Money        `json:"maintenance"`
	InstrumentID model.InstrumentID `json:"instrument_id"`
}

// AccountState is a snapshot of an account's balances.
type AccountState struct {
	AccountID    model.AccountID   `json:"account_id"`
	AccountType  model.AccountType `json:"account_type"`
	BaseCurrency string            `json:"base_currency,omitempty"`
	Balances     []AccountBalance  `json:"balances"`
	Margins      []MarginBalance   `json:"margins,omitempty"`
	IsReported   bool              `json:"is_reported"`
	EventID      model.UUID4       `json:"event_id"`
	TsEvent      model.UnixNanos   `json:"ts_event"`
	TsInit       model.UnixNanos   `json:"ts_init"`
}

// Balance returns the balance for currency.
func (s AccountState) Balance(currency string) (AccountBalance, bool) {
	for _, b := range s.Balances {
		if b.Total.Currency == currency {
			return b, true
		}
	}
	return AccountBalance{}, false
}
