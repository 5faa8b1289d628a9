package model

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/errs"
)

// Money is an amount denominated in a currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney builds a money value.
func NewMoney(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// Add returns m + other. Currencies must match.
func (m Money) Add(other Money) Money {
	if m.Currency != "" && other.Currency != "" && m.Currency != other.Currency {
		panic("money currency mismatch: " + m.Currency + " != " + other.Currency)
	}
	currency := m.Currency
	if currency == "" {
		currency = other.Currency
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: currency}
}

// Neg returns -m.
func (m Money) Neg() Money {
	return Money{Amount: m.Amount.Neg(), Currency: m.Currency}
}

func (m Money) String() string {
	return m.Amount.String() + " " + m.Currency
}

// Instrument describes a tradable contract.
type Instrument struct {
	ID             InstrumentID    `json:"id"`
	RawSymbol      string          `json:"raw_symbol"`
	BaseCurrency   string          `json:"base_currency,omitempty"`
	QuoteCurrency  string          `json:"quote_currency"`
	PricePrecision int32           `json:"price_precision"`
	SizePrecision  int32           `json:"size_precision"`
	PriceIncrement decimal.Decimal `json:"price_increment"`
	SizeIncrement  decimal.Decimal `json:"size_increment"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	MakerFee       decimal.Decimal `json:"maker_fee"`
	TakerFee       decimal.Decimal `json:"taker_fee"`
	IsInverse      bool            `json:"is_inverse"`
	TsEvent        UnixNanos       `json:"ts_event"`
	TsInit         UnixNanos       `json:"ts_init"`
}

func (i Instrument) Timestamp() UnixNanos     { return i.TsInit }
func (i Instrument) Instrument() InstrumentID { return i.ID }

// Validate checks the static fields of the instrument.
func (i Instrument) Validate() error {
	if i.ID.IsZero() {
		return errs.New("model/instrument", errs.CodeInvalid, errs.WithMessage("instrument id required"))
	}
	if i.QuoteCurrency == "" {
		return errs.New("model/instrument", errs.CodeInvalid,
			errs.WithMessage("quote currency required"), errs.WithField("instrument_id", i.ID.String()))
	}
	if !i.PriceIncrement.IsPositive() {
		return errs.New("model/instrument", errs.CodeInvalid,
			errs.WithMessage("price increment must be positive"), errs.WithField("instrument_id", i.ID.String()))
	}
	if !i.SizeIncrement.IsPositive() {
		return errs.New("model/instrument", errs.CodeInvalid,
			errs.WithMessage("size increment must be positive"), errs.WithField("instrument_id", i.ID.String()))
	}
	return nil
}

// MakePrice rounds value to the instrument price precision.
func (i Instrument) MakePrice(value decimal.Decimal) decimal.Decimal {
	return value.Round(i.PricePrecision)
}

// MakeQty rounds value to the instrument size precision.
func (i Instrument) MakeQty(value decimal.Decimal) decimal.Decimal {
	return value.Round(i.SizePrecision)
}

// NotionalValue returns quantity * price * multiplier in the quote currency.
func (i Instrument) NotionalValue(qty, price decimal.Decimal) Money {
	mult := i.Multiplier
	if mult.IsZero() {
		mult = decimal.NewFromInt(1)
	}
	return NewMoney(qty.Mul(price).Mul(mult), i.QuoteCurrency)
}

// NewCurrencyPair is a convenience constructor for spot FX and crypto pairs.
func NewCurrencyPair(id InstrumentID, base, quote string, pricePrecision, sizePrecision int32, tsInit UnixNanos) Instrument {
	return Instrument{
		ID:             id,
		RawSymbol:      string(id.Symbol),
		BaseCurrency:   base,
		QuoteCurrency:  quote,
		PricePrecision: pricePrecision,
		SizePrecision:  sizePrecision,
		PriceIncrement: decimal.New(1, -pricePrecision),
		SizeIncrement:  decimal.New(1, -sizePrecision),
		Multiplier:     decimal.NewFromInt(1),
		MakerFee:       decimal.RequireFromString("0.0002"),
		TakerFee:       decimal.RequireFromString("0.0002"),
		TsEvent:        tsInit,
		TsInit:         tsInit,
	}
}
