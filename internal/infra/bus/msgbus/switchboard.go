package msgbus

import (
	"sync"

	"github.com/coachpo/quanta/internal/domain/model"
)

// Well-known endpoints.
const (
	DataEngineQueueExecute Endpoint = "DataEngine.queue_execute"
	DataEngineExecute      Endpoint = "DataEngine.execute"
	DataEngineProcess      Endpoint = "DataEngine.process"
	DataEngineResponse     Endpoint = "DataEngine.response"
	ExecEngineExecute      Endpoint = "ExecEngine.execute"
	ExecEngineProcess      Endpoint = "ExecEngine.process"
	SystemShutdown         Endpoint = "command.system.shutdown"
)

// Memo kinds used by the switchboard. Extensions may register their own.
const (
	kindCustom         = "custom"
	kindInstruments    = "instruments"
	kindInstrument     = "instrument"
	kindBookDeltas     = "book_deltas"
	kindBookDepth10    = "book_depth10"
	kindBookSnapshots  = "book_snapshots"
	kindQuotes         = "quotes"
	kindTrades         = "trades"
	kindBars           = "bars"
	kindMarkPrices     = "mark_prices"
	kindIndexPrices    = "index_prices"
	kindStatus         = "instrument_status"
	kindClose          = "instrument_close"
	kindOrderSnapshots = "order_snapshots"
	kindPosSnapshots   = "position_snapshots"
	kindEventOrders    = "event_orders"
	kindEventPositions = "event_positions"
)

// Switchboard builds topic names and interns them per key, so repeated
// lookups return the stored value.
type Switchboard struct {
	mu    sync.Mutex
	memos map[string]map[string]Topic
}

// NewSwitchboard returns an empty switchboard.
func NewSwitchboard() *Switchboard {
	return &Switchboard{memos: make(map[string]map[string]Topic)}
}

// Memo returns the topic stored under (kind, key), building and validating it
// on first use. A malformed topic panics.
func (s *Switchboard) Memo(kind, key string, build func() string) Topic {
	s.mu.Lock()
	defer s.mu.Unlock()
	memo, ok := s.memos[kind]
	if !ok {
		memo = make(map[string]Topic)
		s.memos[kind] = memo
	}
	if topic, ok := memo[key]; ok {
		return topic
	}
	name := build()
	validateName("topic", name)
	topic := Topic(name)
	memo[key] = topic
	return topic
}

func (s *Switchboard) memoLen(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memos[kind])
}

func venueSymbol(prefix string, id model.InstrumentID) string {
	return prefix + "." + string(id.Venue) + "." + string(id.Symbol)
}

// CustomTopic is data.{data_type.topic}.
func (s *Switchboard) CustomTopic(dt model.DataType) Topic {
	key := dt.Topic()
	return s.Memo(kindCustom, key, func() string { return "data." + key })
}

// InstrumentsTopic is data.instrument.{venue}.
func (s *Switchboard) InstrumentsTopic(venue model.Venue) Topic {
	return s.Memo(kindInstruments, string(venue), func() string { return "data.instrument." + string(venue) })
}

// InstrumentTopic is data.instrument.{venue}.{symbol}.
func (s *Switchboard) InstrumentTopic(id model.InstrumentID) Topic {
	return s.Memo(kindInstrument, id.String(), func() string { return venueSymbol("data.instrument", id) })
}

// BookDeltasTopic is data.book.deltas.{venue}.{symbol}.
func (s *Switchboard) BookDeltasTopic(id model.InstrumentID) Topic {
	return s.Memo(kindBookDeltas, id.String(), func() string { return venueSymbol("data.book.deltas", id) })
}

// BookDepth10Topic is data.book.depth10.{venue}.{symbol}.
func (s *Switchboard) BookDepth10Topic(id model.InstrumentID) Topic {
	return s.Memo(kindBookDepth10, id.String(), func() string { return venueSymbol("data.book.depth10", id) })
}

// BookSnapshotsTopic is data.book.snapshots.{venue}.{symbol}.
func (s *Switchboard) BookSnapshotsTopic(id model.InstrumentID) Topic {
	return s.Memo(kindBookSnapshots, id.String(), func() string { return venueSymbol("data.book.snapshots", id) })
}

// QuotesTopic is data.quotes.{venue}.{symbol}.
func (s *Switchboard) QuotesTopic(id model.InstrumentID) Topic {
	return s.Memo(kindQuotes, id.String(), func() string { return venueSymbol("data.quotes", id) })
}

// TradesTopic is data.trades.{venue}.{symbol}.
func (s *Switchboard) TradesTopic(id model.InstrumentID) Topic {
	return s.Memo(kindTrades, id.String(), func() string { return venueSymbol("data.trades", id) })
}

// BarsTopic is data.bars.{bar_type}.
func (s *Switchboard) BarsTopic(bt model.BarType) Topic {
	key := bt.String()
	return s.Memo(kindBars, key, func() string { return "data.bars." + key })
}

// MarkPriceTopic is data.mark_prices.{venue}.{symbol}.
func (s *Switchboard) MarkPriceTopic(id model.InstrumentID) Topic {
	return s.Memo(kindMarkPrices, id.String(), func() string { return venueSymbol("data.mark_prices", id) })
}

// IndexPriceTopic is data.index_prices.{venue}.{symbol}.
func (s *Switchboard) IndexPriceTopic(id model.InstrumentID) Topic {
	return s.Memo(kindIndexPrices, id.String(), func() string { return venueSymbol("data.index_prices", id) })
}

// InstrumentStatusTopic is data.status.{venue}.{symbol}.
func (s *Switchboard) InstrumentStatusTopic(id model.InstrumentID) Topic {
	return s.Memo(kindStatus, id.String(), func() string { return venueSymbol("data.status", id) })
}

// InstrumentCloseTopic is data.close.{venue}.{symbol}.
func (s *Switchboard) InstrumentCloseTopic(id model.InstrumentID) Topic {
	return s.Memo(kindClose, id.String(), func() string { return venueSymbol("data.close", id) })
}

// OrderSnapshotsTopic is order.snapshots.{client_order_id}.
func (s *Switchboard) OrderSnapshotsTopic(id model.ClientOrderID) Topic {
	return s.Memo(kindOrderSnapshots, string(id), func() string { return "order.snapshots." + string(id) })
}

// PositionSnapshotsTopic is positions.snapshots.{position_id}.
func (s *Switchboard) PositionSnapshotsTopic(id model.PositionID) Topic {
	return s.Memo(kindPosSnapshots, string(id), func() string { return "positions.snapshots." + string(id) })
}

// OrderEventsTopic is events.order.{strategy_id}.
func (s *Switchboard) OrderEventsTopic(id model.StrategyID) Topic {
	return s.Memo(kindEventOrders, string(id), func() string { return "events.order." + string(id) })
}

// PositionEventsTopic is events.position.{strategy_id}.
func (s *Switchboard) PositionEventsTopic(id model.StrategyID) Topic {
	return s.Memo(kindEventPositions, string(id), func() string { return "events.position." + string(id) })
}
