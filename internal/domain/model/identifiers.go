// Package model holds the identifiers, enums and market data types shared by every trading component.
package model

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/coachpo/quanta/errs"
)

// TraderID identifies a trader instance (e.g. TRADER-001).
type TraderID string

// StrategyID identifies a strategy within a trader.
type StrategyID string

// ComponentID identifies any addressable component.
type ComponentID string

// ClientID identifies a data or execution client.
type ClientID string

// Venue identifies a trading venue.
type Venue string

// Symbol is the venue-local ticker of an instrument.
type Symbol string

// ClientOrderID is the locally assigned order identifier.
type ClientOrderID string

// VenueOrderID is the venue assigned order identifier.
type VenueOrderID string

// TradeID identifies a single execution.
type TradeID string

// PositionID identifies a position.
type PositionID string

// AccountID identifies an account as {issuer}-{number}.
type AccountID string

// OrderListID identifies a list of contingent orders.
type OrderListID string

// ExecAlgorithmID identifies an execution algorithm.
type ExecAlgorithmID string

// UUID4 is the correlation and event identifier type.
type UUID4 = uuid.UUID

// NewUUID4 returns a random UUID.
func NewUUID4() UUID4 {
	return uuid.New()
}

func (id TraderID) String() string      { return string(id) }
func (id StrategyID) String() string    { return string(id) }
func (id ComponentID) String() string   { return string(id) }
func (id ClientID) String() string      { return string(id) }
func (v Venue) String() string          { return string(v) }
func (s Symbol) String() string         { return string(s) }
func (id ClientOrderID) String() string { return string(id) }
func (id VenueOrderID) String() string  { return string(id) }
func (id TradeID) String() string       { return string(id) }
func (id PositionID) String() string    { return string(id) }
func (id AccountID) String() string     { return string(id) }

// Issuer returns the account issuer, the part before the first dash.
func (id AccountID) Issuer() string {
	s := string(id)
	if i := strings.IndexByte(s, '-'); i > 0 {
		return s[:i]
	}
	return s
}

// InstrumentID joins a symbol and venue, rendered as SYMBOL.VENUE.
type InstrumentID struct {
	Symbol Symbol `json:"symbol"`
	Venue  Venue  `json:"venue"`
}

// NewInstrumentID builds an instrument id from its parts.
func NewInstrumentID(symbol, venue string) InstrumentID {
	return InstrumentID{Symbol: Symbol(symbol), Venue: Venue(venue)}
}

// ParseInstrumentID splits SYMBOL.VENUE on the last dot.
func ParseInstrumentID(value string) (InstrumentID, error) {
	trimmed := strings.TrimSpace(value)
	idx := strings.LastIndexByte(trimmed, '.')
	if idx <= 0 || idx == len(trimmed)-1 {
		return InstrumentID{}, errs.New("model/instrument_id", errs.CodeInvalid,
			errs.WithMessage("instrument id must be SYMBOL.VENUE"),
			errs.WithField("value", value))
	}
	return NewInstrumentID(trimmed[:idx], trimmed[idx+1:]), nil
}

// MustParseInstrumentID is ParseInstrumentID that panics on malformed input.
func MustParseInstrumentID(value string) InstrumentID {
	id, err := ParseInstrumentID(value)
	if err != nil {
		panic(err)
	}
	return id
}

func (id InstrumentID) String() string {
	return string(id.Symbol) + "." + string(id.Venue)
}

// IsZero reports whether the id is unset.
func (id InstrumentID) IsZero() bool {
	return id.Symbol == "" && id.Venue == ""
}

// CheckValidString fails when value is empty or contains whitespace.
func CheckValidString(value, name string) error {
	if value == "" {
		return errs.New("model", errs.CodeInvalid, errs.WithMessage("invalid string for '"+name+"', was empty"))
	}
	for _, r := range value {
		if unicode.IsSpace(r) {
			return errs.New("model", errs.CodeInvalid,
				errs.WithMessage("invalid string for '"+name+"' contained whitespace"),
				errs.WithField("value", value))
		}
	}
	return nil
}
