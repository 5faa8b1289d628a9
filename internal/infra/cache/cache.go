// Package cache is the in-memory state shared by actors, engines and clients
// within one runtime: instruments, market data, orders, positions and accounts.
package cache

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/accounts"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/domain/position"
)

// DefaultCapacity bounds the tick and bar history kept per series.
const DefaultCapacity = 10_000

// Config tunes the cache.
type Config struct {
	TickCapacity int
	BarCapacity  int
}

func (c Config) normalize() Config {
	if c.TickCapacity <= 0 {
		c.TickCapacity = DefaultCapacity
	}
	if c.BarCapacity <= 0 {
		c.BarCapacity = DefaultCapacity
	}
	return c
}

// Cache guards all state with a single RWMutex. Readers get copies of value
// types; orders, positions, accounts and books are shared pointers owned by
// the engines that mutate them.
type Cache struct {
	cfg Config

	mu          sync.RWMutex
	general     map[string][]byte
	instruments map[model.InstrumentID]model.Instrument
	quotes      map[model.InstrumentID][]model.QuoteTick
	trades      map[model.InstrumentID][]model.TradeTick
	bars        map[string][]model.Bar
	books       map[model.InstrumentID]*model.OrderBook
	markPrices  map[model.InstrumentID]model.MarkPriceUpdate
	indexPrices map[model.InstrumentID]model.IndexPriceUpdate
	statuses    map[model.InstrumentID]model.InstrumentStatus
	closes      map[model.InstrumentID]model.InstrumentClose
	custom      map[string][]model.CustomData

	orders         map[model.ClientOrderID]orders.Order
	venueOrders    map[model.VenueOrderID]model.ClientOrderID
	orderPositions map[model.ClientOrderID]model.PositionID
	positions      map[model.PositionID]*position.Position
	accounts       map[model.AccountID]*accounts.Account
	venueAccounts  map[model.Venue]model.AccountID
}

// New returns an empty cache.
func New(cfg Config) *Cache {
	c := &Cache{cfg: cfg.normalize()}
	c.init()
	return c
}

func (c *Cache) init() {
	c.general = make(map[string][]byte)
	c.instruments = make(map[model.InstrumentID]model.Instrument)
	c.quotes = make(map[model.InstrumentID][]model.QuoteTick)
	c.trades = make(map[model.InstrumentID][]model.TradeTick)
	c.bars = make(map[string][]model.Bar)
	c.books = make(map[model.InstrumentID]*model.OrderBook)
	c.markPrices = make(map[model.InstrumentID]model.MarkPriceUpdate)
	c.indexPrices = make(map[model.InstrumentID]model.IndexPriceUpdate)
	c.statuses = make(map[model.InstrumentID]model.InstrumentStatus)
	c.closes = make(map[model.InstrumentID]model.InstrumentClose)
	c.custom = make(map[string][]model.CustomData)
	c.orders = make(map[model.ClientOrderID]orders.Order)
	c.venueOrders = make(map[model.VenueOrderID]model.ClientOrderID)
	c.orderPositions = make(map[model.ClientOrderID]model.PositionID)
	c.positions = make(map[model.PositionID]*position.Position)
	c.accounts = make(map[model.AccountID]*accounts.Account)
	c.venueAccounts = make(map[model.Venue]model.AccountID)
}

// Reset drops everything.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.init()
	c.mu.Unlock()
}

// Add stores an opaque value under key.
func (c *Cache) Add(key string, value []byte) error {
	if err := model.CheckValidString(key, "key"); err != nil {
		return err
	}
	c.mu.Lock()
	c.general[key] = append([]byte(nil), value...)
	c.mu.Unlock()
	return nil
}

// Get returns the value stored under key.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.general[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// AddInstrument stores or replaces an instrument definition.
func (c *Cache) AddInstrument(inst model.Instrument) error {
	if err := inst.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.instruments[inst.ID] = inst
	c.mu.Unlock()
	return nil
}

// Instrument returns the instrument for id.
func (c *Cache) Instrument(id model.InstrumentID) (model.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.instruments[id]
	return inst, ok
}

// Instruments lists instruments, filtered by venue when venue is set, ordered by id.
func (c *Cache) Instruments(venue model.Venue) []model.Instrument {
	c.mu.RLock()
	out := make([]model.Instrument, 0, len(c.instruments))
	for id, inst := range c.instruments {
		if venue == "" || id.Venue == venue {
			out = append(out, inst)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// pushFront keeps the newest element at index 0 and drops beyond capacity.
func pushFront[T any](series []T, v T, capacity int) []T {
	series = append(series, v)
	copy(series[1:], series[:len(series)-1])
	series[0] = v
	if len(series) > capacity {
		series = series[:capacity]
	}
	return series
}

func latest[T any](series []T, index int) (T, bool) {
	var zero T
	if index < 0 || index >= len(series) {
		return zero, false
	}
	return series[index], true
}

// AddQuote records a quote.
func (c *Cache) AddQuote(q model.QuoteTick) {
	c.mu.Lock()
	c.quotes[q.InstrumentID] = pushFront(c.quotes[q.InstrumentID], q, c.cfg.TickCapacity)
	c.mu.Unlock()
}

// Quote returns the latest quote.
func (c *Cache) Quote(id model.InstrumentID) (model.QuoteTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return latest(c.quotes[id], 0)
}

// Quotes returns the quote history, newest first.
func (c *Cache) Quotes(id model.InstrumentID) []model.QuoteTick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.QuoteTick(nil), c.quotes[id]...)
}

// AddTrade records a trade.
func (c *Cache) AddTrade(t model.TradeTick) {
	c.mu.Lock()
	c.trades[t.InstrumentID] = pushFront(c.trades[t.InstrumentID], t, c.cfg.TickCapacity)
	c.mu.Unlock()
}

// Trade returns the latest trade.
func (c *Cache) Trade(id model.InstrumentID) (model.TradeTick, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return latest(c.trades[id], 0)
}

// Trades returns the trade history, newest first.
func (c *Cache) Trades(id model.InstrumentID) []model.TradeTick {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.TradeTick(nil), c.trades[id]...)
}

// AddBar records a bar.
func (c *Cache) AddBar(b model.Bar) {
	key := b.BarType.String()
	c.mu.Lock()
	c.bars[key] = pushFront(c.bars[key], b, c.cfg.BarCapacity)
	c.mu.Unlock()
}

// Bar returns the latest bar of bt.
func (c *Cache) Bar(bt model.BarType) (model.Bar, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return latest(c.bars[bt.String()], 0)
}

// Bars returns the bar history of bt, newest first.
func (c *Cache) Bars(bt model.BarType) []model.Bar {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.Bar(nil), c.bars[bt.String()]...)
}

// AddBook stores the book for its instrument.
func (c *Cache) AddBook(book *model.OrderBook) {
	if book == nil {
		return
	}
	c.mu.Lock()
	c.books[book.InstrumentID] = book
	c.mu.Unlock()
}

// Book returns the book for id.
func (c *Cache) Book(id model.InstrumentID) (*model.OrderBook, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[id]
	return b, ok
}

// AddMarkPrice records a mark price.
func (c *Cache) AddMarkPrice(m model.MarkPriceUpdate) {
	c.mu.Lock()
	c.markPrices[m.InstrumentID] = m
	c.mu.Unlock()
}

// MarkPrice returns the latest mark price.
func (c *Cache) MarkPrice(id model.InstrumentID) (model.MarkPriceUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.markPrices[id]
	return m, ok
}

// AddIndexPrice records an index price.
func (c *Cache) AddIndexPrice(p model.IndexPriceUpdate) {
	c.mu.Lock()
	c.indexPrices[p.InstrumentID] = p
	c.mu.Unlock()
}

// IndexPrice returns the latest index price.
func (c *Cache) IndexPrice(id model.InstrumentID) (model.IndexPriceUpdate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.indexPrices[id]
	return p, ok
}

// AddInstrumentStatus records a status update.
func (c *Cache) AddInstrumentStatus(s model.InstrumentStatus) {
	c.mu.Lock()
	c.statuses[s.InstrumentID] = s
	c.mu.Unlock()
}

// InstrumentStatus returns the latest status.
func (c *Cache) InstrumentStatus(id model.InstrumentID) (model.InstrumentStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.statuses[id]
	return s, ok
}

// AddInstrumentClose records a close price.
func (c *Cache) AddInstrumentClose(cl model.InstrumentClose) {
	c.mu.Lock()
	c.closes[cl.InstrumentID] = cl
	c.mu.Unlock()
}

// InstrumentClose returns the latest close.
func (c *Cache) InstrumentClose(id model.InstrumentID) (model.InstrumentClose, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.closes[id]
	return cl, ok
}

// AddCustomData records a custom data point under its data type.
func (c *Cache) AddCustomData(d model.CustomData) {
	key := d.DataType.Topic()
	c.mu.Lock()
	c.custom[key] = pushFront(c.custom[key], d, c.cfg.TickCapacity)
	c.mu.Unlock()
}

// CustomData returns the history for dt, newest first.
func (c *Cache) CustomData(dt model.DataType) []model.CustomData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]model.CustomData(nil), c.custom[dt.Topic()]...)
}

// Price returns the latest price of the requested type: bid, ask and mid come
// from quotes, last from trades.
func (c *Cache) Price(id model.InstrumentID, pt model.PriceType) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch pt {
	case model.PriceTypeBid, model.PriceTypeAsk, model.PriceTypeMid:
		q, ok := latest(c.quotes[id], 0)
		if !ok {
			return decimal.Zero, false
		}
		switch pt {
		case model.PriceTypeBid:
			return q.BidPrice, true
		case model.PriceTypeAsk:
			return q.AskPrice, true
		default:
			return q.Mid(), true
		}
	case model.PriceTypeLast:
		t, ok := latest(c.trades[id], 0)
		if !ok {
			return decimal.Zero, false
		}
		return t.Price, true
	default:
		return decimal.Zero, false
	}
}

func notFound(kind, id string) error {
	return errs.New("cache", errs.CodeNotFound,
		errs.WithMessage(kind+" not found"),
		errs.WithField("id", id))
}
