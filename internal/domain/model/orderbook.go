package model

import (
	"sort"

	"github.com/shopspring/decimal"
)

// BookLevel is an aggregated price level.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// BookFill is a simulated execution against one level.
type BookFill struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is a price-level book for a single instrument. L3 deltas are aggregated by price.
type OrderBook struct {
	InstrumentID InstrumentID
	BookType     BookType
	Sequence     uint64
	TsLast       UnixNanos
	UpdateCount  uint64

	bids []BookLevel
	asks []BookLevel
}

// NewOrderBook creates an empty book.
func NewOrderBook(id InstrumentID, bookType BookType) *OrderBook {
	return &OrderBook{
		InstrumentID: id,
		BookType:     bookType,
		bids:         make([]BookLevel, 0),
		asks:         make([]BookLevel, 0),
	}
}

// Clear removes every level.
func (ob *OrderBook) Clear() {
	ob.bids = ob.bids[:0]
	ob.asks = ob.asks[:0]
}

// Apply applies a single delta.
func (ob *OrderBook) Apply(delta OrderBookDelta) {
	switch delta.Action {
	case BookActionClear:
		ob.Clear()
	case BookActionDelete:
		ob.setLevel(delta.Order.Side, delta.Order.Price, decimal.Zero)
	case BookActionAdd, BookActionUpdate:
		ob.setLevel(delta.Order.Side, delta.Order.Price, delta.Order.Size)
	}
	ob.touch(delta.Sequence, delta.TsEvent)
}

// ApplyDeltas applies a delta batch in order.
func (ob *OrderBook) ApplyDeltas(deltas OrderBookDeltas) {
	for _, d := range deltas.Deltas {
		ob.Apply(d)
	}
}

// ApplyDepth replaces the book with a depth snapshot.
func (ob *OrderBook) ApplyDepth(depth OrderBookDepth10) {
	ob.Clear()
	for _, o := range depth.Bids {
		if o.Size.IsPositive() {
			ob.setLevel(OrderSideBuy, o.Price, o.Size)
		}
	}
	for _, o := range depth.Asks {
		if o.Size.IsPositive() {
			ob.setLevel(OrderSideSell, o.Price, o.Size)
		}
	}
	ob.touch(depth.Sequence, depth.TsEvent)
}

// UpdateQuote replaces the top of book from a quote. Used for L1 books.
func (ob *OrderBook) UpdateQuote(q QuoteTick) {
	ob.Clear()
	ob.setLevel(OrderSideBuy, q.BidPrice, q.BidSize)
	ob.setLevel(OrderSideSell, q.AskPrice, q.AskSize)
	ob.touch(ob.Sequence+1, q.TsEvent)
}

// UpdateTrade collapses an L1 book onto the last trade price.
func (ob *OrderBook) UpdateTrade(t TradeTick) {
	ob.Clear()
	ob.setLevel(OrderSideBuy, t.Price, t.Size)
	ob.setLevel(OrderSideSell, t.Price, t.Size)
	ob.touch(ob.Sequence+1, t.TsEvent)
}

// BestBid returns the highest bid.
func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(ob.bids) == 0 {
		return decimal.Zero, false
	}
	return ob.bids[0].Price, true
}

// BestAsk returns the lowest ask.
func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(ob.asks) == 0 {
		return decimal.Zero, false
	}
	return ob.asks[0].Price, true
}

// Spread returns best ask minus best bid when both sides exist.
func (ob *OrderBook) Spread() (decimal.Decimal, bool) {
	bid, okBid := ob.BestBid()
	ask, okAsk := ob.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// Bids returns up to depth bid levels, best first. depth <= 0 returns all.
func (ob *OrderBook) Bids(depth int) []BookLevel {
	return copyLevels(ob.bids, depth)
}

// Asks returns up to depth ask levels, best first. depth <= 0 returns all.
func (ob *OrderBook) Asks(depth int) []BookLevel {
	return copyLevels(ob.asks, depth)
}

// SimulateFills walks the opposite side for an aggressive order of qty.
// A nil limit walks without price protection.
func (ob *OrderBook) SimulateFills(side OrderSide, qty decimal.Decimal, limit *decimal.Decimal) []BookFill {
	levels := ob.asks
	if side == OrderSideSell {
		levels = ob.bids
	}
	remaining := qty
	fills := make([]BookFill, 0, 1)
	for _, lvl := range levels {
		if !remaining.IsPositive() {
			break
		}
		if limit != nil {
			if side == OrderSideBuy && lvl.Price.GreaterThan(*limit) {
				break
			}
			if side == OrderSideSell && lvl.Price.LessThan(*limit) {
				break
			}
		}
		size := decimal.Min(remaining, lvl.Size)
		fills = append(fills, BookFill{Price: lvl.Price, Size: size})
		remaining = remaining.Sub(size)
	}
	return fills
}

func (ob *OrderBook) touch(seq uint64, ts UnixNanos) {
	if seq > ob.Sequence {
		ob.Sequence = seq
	}
	if ts > ob.TsLast {
		ob.TsLast = ts
	}
	ob.UpdateCount++
}

func (ob *OrderBook) setLevel(side OrderSide, price, size decimal.Decimal) {
	levels := &ob.bids
	better := func(a, b decimal.Decimal) bool { return a.GreaterThan(b) }
	if side == OrderSideSell {
		levels = &ob.asks
		better = func(a, b decimal.Decimal) bool { return a.LessThan(b) }
	}
	idx := sort.Search(len(*levels), func(i int) bool {
		return !better((*levels)[i].Price, price)
	})
	exists := idx < len(*levels) && (*levels)[idx].Price.Equal(price)
	switch {
	case !size.IsPositive() && exists:
		*levels = append((*levels)[:idx], (*levels)[idx+1:]...)
	case !size.IsPositive():
	case exists:
		(*levels)[idx].Size = size
	default:
		*levels = append(*levels, BookLevel{})
		copy((*levels)[idx+1:], (*levels)[idx:])
		(*levels)[idx] = BookLevel{Price: price, Size: size}
	}
}

func copyLevels(levels []BookLevel, depth int) []BookLevel {
	n := len(levels)
	if depth > 0 && depth < n {
		n = depth
	}
	out := make([]BookLevel, n)
	copy(out, levels[:n])
	return out
}
