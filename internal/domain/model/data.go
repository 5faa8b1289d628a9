package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/errs"
)

// Data is implemented by every market data value that flows through the data engine.
type Data interface {
	// Timestamp returns the initialization time used to order replayed data.
	Timestamp() UnixNanos
}

// InstrumentData is market data bound to a single instrument.
type InstrumentData interface {
	Data
	Instrument() InstrumentID
}

// QuoteTick is a top-of-book quote.
type QuoteTick struct {
	InstrumentID InstrumentID    `json:"instrument_id"`
	BidPrice     decimal.Decimal `json:"bid_price"`
	AskPrice     decimal.Decimal `json:"ask_price"`
	BidSize      decimal.Decimal `json:"bid_size"`
	AskSize      decimal.Decimal `json:"ask_size"`
	TsEvent      UnixNanos       `json:"ts_event"`
	TsInit       UnixNanos       `json:"ts_init"`
}

func (q QuoteTick) Timestamp() UnixNanos     { return q.TsInit }
func (q QuoteTick) Instrument() InstrumentID { return q.InstrumentID }

// Mid returns the mid price.
func (q QuoteTick) Mid() decimal.Decimal {
	return q.BidPrice.Add(q.AskPrice).Div(decimal.NewFromInt(2))
}

// TradeTick is a single trade printed by the venue.
type TradeTick struct {
	InstrumentID  InstrumentID    `json:"instrument_id"`
	Price         decimal.Decimal `json:"price"`
	Size          decimal.Decimal `json:"size"`
	AggressorSide AggressorSide   `json:"aggressor_side"`
	TradeID       TradeID         `json:"trade_id"`
	TsEvent       UnixNanos       `json:"ts_event"`
	TsInit        UnixNanos       `json:"ts_init"`
}

func (t TradeTick) Timestamp() UnixNanos     { return t.TsInit }
func (t TradeTick) Instrument() InstrumentID { return t.InstrumentID }

// BarSpecification is the step, aggregation and price type of a bar.
type BarSpecification struct {
	Step        int            `json:"step"`
	Aggregation BarAggregation `json:"aggregation"`
	PriceType   PriceType      `json:"price_type"`
}

func (s BarSpecification) String() string {
	return fmt.Sprintf("%d-%s-%s", s.Step, s.Aggregation, s.PriceType)
}

// BarType identifies a bar series, rendered as {instrument_id}-{step}-{aggregation}-{price_type}-{source}.
type BarType struct {
	InstrumentID InstrumentID      `json:"instrument_id"`
	Spec         BarSpecification  `json:"spec"`
	Source       AggregationSource `json:"source"`
}

func (b BarType) String() string {
	source := b.Source
	if source == "" {
		source = AggregationSourceExternal
	}
	return b.InstrumentID.String() + "-" + b.Spec.String() + "-" + string(source)
}

// ParseBarType parses the string form produced by BarType.String.
func ParseBarType(value string) (BarType, error) {
	parts := strings.Split(strings.TrimSpace(value), "-")
	if len(parts) < 5 {
		return BarType{}, errs.New("model/bar_type", errs.CodeInvalid,
			errs.WithMessage("bar type must be INSTRUMENT-STEP-AGGREGATION-PRICE-SOURCE"),
			errs.WithField("value", value))
	}
	n := len(parts)
	instrument, err := ParseInstrumentID(strings.Join(parts[:n-4], "-"))
	if err != nil {
		return BarType{}, err
	}
	step, err := strconv.Atoi(parts[n-4])
	if err != nil || step <= 0 {
		return BarType{}, errs.New("model/bar_type", errs.CodeInvalid,
			errs.WithMessage("bar step must be a positive integer"),
			errs.WithField("value", value))
	}
	return BarType{
		InstrumentID: instrument,
		Spec: BarSpecification{
			Step:        step,
			Aggregation: BarAggregation(parts[n-3]),
			PriceType:   PriceType(parts[n-2]),
		},
		Source: AggregationSource(parts[n-1]),
	}, nil
}

// Bar is an OHLCV aggregate.
type Bar struct {
	BarType BarType         `json:"bar_type"`
	Open    decimal.Decimal `json:"open"`
	High    decimal.Decimal `json:"high"`
	Low     decimal.Decimal `json:"low"`
	Close   decimal.Decimal `json:"close"`
	Volume  decimal.Decimal `json:"volume"`
	TsEvent UnixNanos       `json:"ts_event"`
	TsInit  UnixNanos       `json:"ts_init"`
}

func (b Bar) Timestamp() UnixNanos     { return b.TsInit }
func (b Bar) Instrument() InstrumentID { return b.BarType.InstrumentID }

// MarkPriceUpdate carries a venue mark price.
type MarkPriceUpdate struct {
	InstrumentID InstrumentID    `json:"instrument_id"`
	Value        decimal.Decimal `json:"value"`
	TsEvent      UnixNanos       `json:"ts_event"`
	TsInit       UnixNanos       `json:"ts_init"`
}

func (m MarkPriceUpdate) Timestamp() UnixNanos     { return m.TsInit }
func (m MarkPriceUpdate) Instrument() InstrumentID { return m.InstrumentID }

// IndexPriceUpdate carries an index price.
type IndexPriceUpdate struct {
	InstrumentID InstrumentID    `json:"instrument_id"`
	Value        decimal.Decimal `json:"value"`
	TsEvent      UnixNanos       `json:"ts_event"`
	TsInit       UnixNanos       `json:"ts_init"`
}

func (i IndexPriceUpdate) Timestamp() UnixNanos     { return i.TsInit }
func (i IndexPriceUpdate) Instrument() InstrumentID { return i.InstrumentID }

// InstrumentStatus reports a trading status change.
type InstrumentStatus struct {
	InstrumentID InstrumentID       `json:"instrument_id"`
	Action       MarketStatusAction `json:"action"`
	Reason       string             `json:"reason,omitempty"`
	TsEvent      UnixNanos          `json:"ts_event"`
	TsInit       UnixNanos          `json:"ts_init"`
}

func (s InstrumentStatus) Timestamp() UnixNanos     { return s.TsInit }
func (s InstrumentStatus) Instrument() InstrumentID { return s.InstrumentID }

// InstrumentClose carries a closing price.
type InstrumentClose struct {
	InstrumentID InstrumentID        `json:"instrument_id"`
	ClosePrice   decimal.Decimal     `json:"close_price"`
	CloseType    InstrumentCloseType `json:"close_type"`
	TsEvent      UnixNanos           `json:"ts_event"`
	TsInit       UnixNanos           `json:"ts_init"`
}

func (c InstrumentClose) Timestamp() UnixNanos     { return c.TsInit }
func (c InstrumentClose) Instrument() InstrumentID { return c.InstrumentID }

// BookOrder is a single resting order or aggregated level.
type BookOrder struct {
	Side    OrderSide       `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	OrderID uint64          `json:"order_id"`
}

// OrderBookDelta is one incremental book mutation.
type OrderBookDelta struct {
	InstrumentID InstrumentID `json:"instrument_id"`
	Action       BookAction   `json:"action"`
	Order        BookOrder    `json:"order"`
	Sequence     uint64       `json:"sequence"`
	TsEvent      UnixNanos    `json:"ts_event"`
	TsInit       UnixNanos    `json:"ts_init"`
}

func (d OrderBookDelta) Timestamp() UnixNanos     { return d.TsInit }
func (d OrderBookDelta) Instrument() InstrumentID { return d.InstrumentID }

// OrderBookDeltas batches deltas that must be applied atomically.
type OrderBookDeltas struct {
	InstrumentID InstrumentID     `json:"instrument_id"`
	Deltas       []OrderBookDelta `json:"deltas"`
	TsEvent      UnixNanos        `json:"ts_event"`
	TsInit       UnixNanos        `json:"ts_init"`
}

func (d OrderBookDeltas) Timestamp() UnixNanos     { return d.TsInit }
func (d OrderBookDeltas) Instrument() InstrumentID { return d.InstrumentID }

// DepthLevels is the number of levels carried by OrderBookDepth10.
const DepthLevels = 10

// OrderBookDepth10 is a fixed ten-level book snapshot.
type OrderBookDepth10 struct {
	InstrumentID InstrumentID           `json:"instrument_id"`
	Bids         [DepthLevels]BookOrder `json:"bids"`
	Asks         [DepthLevels]BookOrder `json:"asks"`
	Sequence     uint64                 `json:"sequence"`
	TsEvent      UnixNanos              `json:"ts_event"`
	TsInit       UnixNanos              `json:"ts_init"`
}

func (d OrderBookDepth10) Timestamp() UnixNanos     { return d.TsInit }
func (d OrderBookDepth10) Instrument() InstrumentID { return d.InstrumentID }

// DataType names a custom data stream with optional metadata.
type DataType struct {
	TypeName string            `json:"type_name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewDataType builds a data type.
func NewDataType(typeName string, metadata map[string]string) DataType {
	return DataType{TypeName: typeName, Metadata: metadata}
}

// Topic renders the type name followed by sorted key=value metadata pairs, dot separated.
func (d DataType) Topic() string {
	if len(d.Metadata) == 0 {
		return d.TypeName
	}
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(d.TypeName)
	for _, k := range keys {
		b.WriteByte('.')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(d.Metadata[k])
	}
	return b.String()
}

func (d DataType) String() string { return d.Topic() }

// CustomData wraps a user-defined payload.
type CustomData struct {
	DataType DataType  `json:"data_type"`
	Value    any       `json:"value"`
	TsEvent  UnixNanos `json:"ts_event"`
	TsInit   UnixNanos `json:"ts_init"`
}

func (c CustomData) Timestamp() UnixNanos { return c.TsInit }
