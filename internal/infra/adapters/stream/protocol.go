// Package stream implements a live data client over a venue-neutral JSON
// websocket protocol. Every frame is a single JSON text message.
//
// Control frames sent by the client:
//
//	{"op":"subscribe","id":1,"channel":"quotes","instrument_id":"BTCUSDT.SIM"}
//	{"op":"subscribe","id":2,"channel":"bars","bar_type":"BTCUSDT.SIM-1-MINUTE-LAST-EXTERNAL"}
//	{"op":"unsubscribe","id":3,"channel":"trades","instrument_id":"BTCUSDT.SIM"}
//	{"op":"request","id":4,"request_id":"<uuid>","channel":"bars","bar_type":"...","start":0,"end":0,"limit":100}
//
// The server acknowledges control frames with {"id":1} or {"id":1,"error":"..."}.
// Channels are quotes, trades, bars, mark_prices and index_prices.
//
// Market data frames sent by the server:
//
//	{"type":"quote","instrument_id":"BTCUSDT.SIM","bid":"100.1","ask":"100.2","bid_size":"1","ask_size":"2","ts":1700000000000000000}
//	{"type":"trade","instrument_id":"BTCUSDT.SIM","price":"100.1","size":"0.5","side":"BUYER","trade_id":"T-1","ts":...}
//	{"type":"bar","bar_type":"BTCUSDT.SIM-1-MINUTE-LAST-EXTERNAL","open":"1","high":"2","low":"1","close":"2","volume":"10","ts":...}
//	{"type":"mark_price","instrument_id":"BTCUSDT.SIM","value":"100.15","ts":...}
//	{"type":"index_price","instrument_id":"BTCUSDT.SIM","value":"100.12","ts":...}
//
// Historical data answers a request with one frame carrying data frames as items:
//
//	{"type":"response","request_id":"<uuid>","items":[{"type":"bar",...},...]}
//
// ts is the venue event time in Unix nanoseconds; the client stamps ts_init
// from its own clock on receipt.
package stream

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
)

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
	opRequest     = "request"

	frameQuote      = "quote"
	frameTrade      = "trade"
	frameBar        = "bar"
	frameMarkPrice  = "mark_price"
	frameIndexPrice = "index_price"
	frameResponse   = "response"
)

type controlFrame struct {
	Op           string `json:"op"`
	ID           uint64 `json:"id"`
	RequestID    string `json:"request_id,omitempty"`
	Channel      string `json:"channel"`
	InstrumentID string `json:"instrument_id,omitempty"`
	BarType      string `json:"bar_type,omitempty"`
	Start        int64  `json:"start,omitempty"`
	End          int64  `json:"end,omitempty"`
	Limit        int    `json:"limit,omitempty"`
}

// key identifies the subscription a frame refers to.
func (f controlFrame) key() string {
	return f.Channel + "|" + f.InstrumentID + "|" + f.BarType
}

// inbound is the union of every frame the server sends.
type inbound struct {
	ID        uint64            `json:"id"`
	Error     string            `json:"error"`
	Type      string            `json:"type"`
	RequestID string            `json:"request_id"`
	Items     []json.RawMessage `json:"items"`

	InstrumentID string          `json:"instrument_id"`
	BarType      string          `json:"bar_type"`
	Bid          decimal.Decimal `json:"bid"`
	Ask          decimal.Decimal `json:"ask"`
	BidSize      decimal.Decimal `json:"bid_size"`
	AskSize      decimal.Decimal `json:"ask_size"`
	Price        decimal.Decimal `json:"price"`
	Size         decimal.Decimal `json:"size"`
	Side         string          `json:"side"`
	TradeID      string          `json:"trade_id"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Close        decimal.Decimal `json:"close"`
	Volume       decimal.Decimal `json:"volume"`
	Value        decimal.Decimal `json:"value"`
	Ts           int64           `json:"ts"`
}

func (f inbound) isAck() bool { return f.Type == "" && f.ID > 0 }

// channelFor maps a data command kind onto a protocol channel.
func channelFor(kind messages.DataKind) (string, error) {
	switch kind {
	case messages.KindQuotes, messages.KindTrades, messages.KindBars, messages.KindMarkPrices, messages.KindIndexPrices:
		return string(kind), nil
	default:
		return "", fmt.Errorf("stream: unsupported data kind %q", kind)
	}
}

func frameFor(op string, h messages.CommandHeader) (controlFrame, error) {
	channel, err := channelFor(h.Kind)
	if err != nil {
		return controlFrame{}, err
	}
	f := controlFrame{Op: op, Channel: channel}
	if h.Kind == messages.KindBars {
		if h.Target.BarType.InstrumentID.IsZero() {
			return controlFrame{}, fmt.Errorf("stream: %s %s requires a bar type", op, channel)
		}
		f.BarType = h.Target.BarType.String()
		return f, nil
	}
	if h.Target.InstrumentID.IsZero() {
		return controlFrame{}, fmt.Errorf("stream: %s %s requires an instrument id", op, channel)
	}
	f.InstrumentID = h.Target.InstrumentID.String()
	return f, nil
}

func requestFrame(cmd messages.RequestCommand) (controlFrame, error) {
	f, err := frameFor(opRequest, cmd.CommandHeader)
	if err != nil {
		return controlFrame{}, err
	}
	f.RequestID = cmd.RequestID().String()
	if cmd.Start != nil {
		f.Start = cmd.Start.UnixNano()
	}
	if cmd.End != nil {
		f.End = cmd.End.UnixNano()
	}
	f.Limit = cmd.Limit
	return f, nil
}

// decode converts a market data frame into a model value stamped with tsInit.
func decode(f inbound, tsInit model.UnixNanos) (model.Data, error) {
	tsEvent := model.UnixNanos(f.Ts)
	switch f.Type {
	case frameBar:
		bt, err := model.ParseBarType(f.BarType)
		if err != nil {
			return nil, err
		}
		return model.Bar{
			BarType: bt, Open: f.Open, High: f.High, Low: f.Low, Close: f.Close, Volume: f.Volume,
			TsEvent: tsEvent, TsInit: tsInit,
		}, nil
	}

	id, err := model.ParseInstrumentID(f.InstrumentID)
	if err != nil {
		return nil, err
	}
	switch f.Type {
	case frameQuote:
		return model.QuoteTick{
			InstrumentID: id, BidPrice: f.Bid, AskPrice: f.Ask, BidSize: f.BidSize, AskSize: f.AskSize,
			TsEvent: tsEvent, TsInit: tsInit,
		}, nil
	case frameTrade:
		return model.TradeTick{
			InstrumentID: id, Price: f.Price, Size: f.Size,
			AggressorSide: aggressor(f.Side), TradeID: model.TradeID(f.TradeID),
			TsEvent: tsEvent, TsInit: tsInit,
		}, nil
	case frameMarkPrice:
		return model.MarkPriceUpdate{InstrumentID: id, Value: f.Value, TsEvent: tsEvent, TsInit: tsInit}, nil
	case frameIndexPrice:
		return model.IndexPriceUpdate{InstrumentID: id, Value: f.Value, TsEvent: tsEvent, TsInit: tsInit}, nil
	default:
		return nil, fmt.Errorf("stream: unknown frame type %q", f.Type)
	}
}

func aggressor(side string) model.AggressorSide {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "BUYER", "BUY":
		return model.AggressorSideBuyer
	case "SELLER", "SELL":
		return model.AggressorSideSeller
	default:
		return model.AggressorSideNone
	}
}

// collect decodes response items into the typed slice the request kind expects.
func collect(kind messages.DataKind, items []json.RawMessage, tsInit model.UnixNanos) (any, error) {
	values := make([]model.Data, 0, len(items))
	for i, raw := range items {
		var f inbound
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("stream: response item %d: %w", i, err)
		}
		d, err := decode(f, tsInit)
		if err != nil {
			return nil, fmt.Errorf("stream: response item %d: %w", i, err)
		}
		values = append(values, d)
	}
	switch kind {
	case messages.KindQuotes:
		return typed[model.QuoteTick](values)
	case messages.KindTrades:
		return typed[model.TradeTick](values)
	case messages.KindBars:
		return typed[model.Bar](values)
	default:
		return values, nil
	}
}

func typed[T model.Data](values []model.Data) ([]T, error) {
	out := make([]T, 0, len(values))
	for _, v := range values {
		t, ok := v.(T)
		if !ok {
			return nil, fmt.Errorf("stream: response item %T does not match %T", v, t)
		}
		out = append(out, t)
	}
	return out, nil
}
