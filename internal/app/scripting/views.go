package scripting

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/position"
)

type view = map[string]any

func num(d decimal.Decimal) float64   { return d.InexactFloat64() }
func millis(ts model.UnixNanos) int64 { return int64(ts) / 1_000_000 }

func quoteView(q model.QuoteTick) view {
	return view{
		"instrument": q.InstrumentID.String(),
		"bid":        num(q.BidPrice),
		"ask":        num(q.AskPrice),
		"bid_size":   num(q.BidSize),
		"ask_size":   num(q.AskSize),
		"ts":         millis(q.TsEvent),
	}
}

func tradeView(t model.TradeTick) view {
	return view{
		"instrument": t.InstrumentID.String(),
		"price":      num(t.Price),
		"size":       num(t.Size),
		"side":       string(t.AggressorSide),
		"trade_id":   string(t.TradeID),
		"ts":         millis(t.TsEvent),
	}
}

func barView(b model.Bar) view {
	return view{
		"bar_type":   b.BarType.String(),
		"instrument": b.BarType.InstrumentID.String(),
		"open":       num(b.Open),
		"high":       num(b.High),
		"low":        num(b.Low),
		"close":      num(b.Close),
		"volume":     num(b.Volume),
		"ts":         millis(b.TsEvent),
	}
}

func priceView(id model.InstrumentID, value decimal.Decimal, ts model.UnixNanos) view {
	return view{"instrument": id.String(), "value": num(value), "ts": millis(ts)}
}

func instrumentView(inst model.Instrument) view {
	return view{
		"instrument":      inst.ID.String(),
		"base_currency":   inst.BaseCurrency,
		"quote_currency":  inst.QuoteCurrency,
		"price_precision": inst.PricePrecision,
		"size_precision":  inst.SizePrecision,
	}
}

func orderEventView(ev events.OrderEvent) view {
	h := ev.Header()
	out := view{
		"type":            string(ev.Kind()),
		"instrument":      h.InstrumentID.String(),
		"client_order_id": h.ClientOrderID.String(),
		"ts":              millis(h.TsEvent),
	}
	switch e := ev.(type) {
	case events.OrderFilled:
		out["side"] = string(e.Side)
		out["last_qty"] = num(e.LastQty)
		out["last_px"] = num(e.LastPx)
		out["trade_id"] = string(e.TradeID)
		out["position_id"] = string(e.PositionID)
		if e.Commission != nil {
			out["commission"] = num(e.Commission.Amount)
		}
	case events.OrderRejected:
		out["reason"] = e.Reason
	case events.OrderDenied:
		out["reason"] = e.Reason
	}
	return out
}

func positionView(ev position.Event) view {
	f := ev.Fields()
	out := view{
		"type":        string(ev.Kind()),
		"instrument":  f.InstrumentID.String(),
		"position_id": string(f.PositionID),
		"side":        string(f.Side),
		"quantity":    num(f.Quantity),
		"signed_qty":  num(f.SignedQty),
		"avg_px_open": num(f.AvgPxOpen),
		"ts":          millis(f.TsEvent),
	}
	switch e := ev.(type) {
	case position.PositionChanged:
		out["realized_pnl"] = num(e.RealizedPnL.Amount)
	case position.PositionClosed:
		out["realized_pnl"] = num(e.RealizedPnL.Amount)
	}
	return out
}

// toDecimal accepts what goja exports for numbers and numeric strings.
func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case int64:
		return decimal.NewFromInt(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(x))
	default:
		return decimal.Zero, fmt.Errorf("expected a number, got %T", v)
	}
}

func toSide(v string) (model.OrderSide, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "BUY":
		return model.OrderSideBuy, nil
	case "SELL":
		return model.OrderSideSell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", v)
	}
}
