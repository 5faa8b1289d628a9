package cache

import (
	"sort"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/accounts"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/domain/position"
)

// Filter narrows order and position queries. Zero fields match anything.
type Filter struct {
	Venue        model.Venue
	InstrumentID model.InstrumentID
	StrategyID   model.StrategyID
	Side         model.OrderSide
}

func (f Filter) matches(venue model.Venue, instrument model.InstrumentID, strategy model.StrategyID) bool {
	if f.Venue != "" && venue != f.Venue {
		return false
	}
	if !f.InstrumentID.IsZero() && instrument != f.InstrumentID {
		return false
	}
	if f.StrategyID != "" && strategy != f.StrategyID {
		return false
	}
	return true
}

func (f Filter) matchOrder(o orders.Order) bool {
	if f.Side != "" && o.Side() != f.Side {
		return false
	}
	return f.matches(o.InstrumentID().Venue, o.InstrumentID(), o.StrategyID())
}

func (f Filter) matchPosition(p *position.Position) bool {
	if f.Side != "" && p.Entry() != f.Side {
		return false
	}
	return f.matches(p.InstrumentID().Venue, p.InstrumentID(), p.StrategyID())
}

// AddOrder stores a new order, optionally indexed against a position.
func (c *Cache) AddOrder(o orders.Order, positionID model.PositionID) error {
	if o == nil {
		return errs.New("cache", errs.CodeInvalid, errs.WithMessage("order required"))
	}
	id := o.ClientOrderID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.orders[id]; exists {
		return errs.New("cache", errs.CodeConflict,
			errs.WithMessage("order already exists"),
			errs.WithField("client_order_id", string(id)))
	}
	c.orders[id] = o
	if positionID != "" {
		c.orderPositions[id] = positionID
	}
	if vid := o.VenueOrderID(); vid != "" {
		c.venueOrders[vid] = id
	}
	return nil
}

// UpdateOrder refreshes the indexes after the order applied an event.
func (c *Cache) UpdateOrder(o orders.Order) error {
	id := o.ClientOrderID()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.orders[id]; !ok {
		return notFound("order", string(id))
	}
	c.orders[id] = o
	if vid := o.VenueOrderID(); vid != "" {
		c.venueOrders[vid] = id
	}
	if pid := o.PositionID(); pid != "" {
		c.orderPositions[id] = pid
	}
	return nil
}

// Order returns the order for id.
func (c *Cache) Order(id model.ClientOrderID) (orders.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[id]
	return o, ok
}

// OrderExists reports whether id is cached.
func (c *Cache) OrderExists(id model.ClientOrderID) bool {
	_, ok := c.Order(id)
	return ok
}

// ClientOrderIDFor resolves a venue order id.
func (c *Cache) ClientOrderIDFor(vid model.VenueOrderID) (model.ClientOrderID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.venueOrders[vid]
	return id, ok
}

// SetPositionIDForOrder links an order to a position.
func (c *Cache) SetPositionIDForOrder(id model.ClientOrderID, pid model.PositionID) {
	c.mu.Lock()
	c.orderPositions[id] = pid
	c.mu.Unlock()
}

// PositionIDForOrder returns the position linked to an order.
func (c *Cache) PositionIDForOrder(id model.ClientOrderID) (model.PositionID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pid, ok := c.orderPositions[id]
	return pid, ok
}

func (c *Cache) collectOrders(f Filter, keep func(orders.Order) bool) []orders.Order {
	c.mu.RLock()
	out := make([]orders.Order, 0)
	for _, o := range c.orders {
		if f.matchOrder(o) && keep(o) {
			out = append(out, o)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Core().TsInit() != out[j].Core().TsInit() {
			return out[i].Core().TsInit() < out[j].Core().TsInit()
		}
		return out[i].ClientOrderID() < out[j].ClientOrderID()
	})
	return out
}

// Orders lists every order matching f, oldest first.
func (c *Cache) Orders(f Filter) []orders.Order {
	return c.collectOrders(f, func(orders.Order) bool { return true })
}

// OrdersOpen lists working orders matching f.
func (c *Cache) OrdersOpen(f Filter) []orders.Order {
	return c.collectOrders(f, func(o orders.Order) bool { return o.IsOpen() })
}

// OrdersClosed lists closed orders matching f.
func (c *Cache) OrdersClosed(f Filter) []orders.Order {
	return c.collectOrders(f, func(o orders.Order) bool { return o.IsClosed() })
}

// OrdersInflight lists orders awaiting a venue response.
func (c *Cache) OrdersInflight(f Filter) []orders.Order {
	return c.collectOrders(f, func(o orders.Order) bool { return o.IsInflight() })
}

// AddPosition stores a new position.
func (c *Cache) AddPosition(p *position.Position) error {
	if p == nil {
		return errs.New("cache", errs.CodeInvalid, errs.WithMessage("position required"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.positions[p.ID()]; exists {
		return errs.New("cache", errs.CodeConflict,
			errs.WithMessage("position already exists"),
			errs.WithField("position_id", string(p.ID())))
	}
	c.positions[p.ID()] = p
	return nil
}

// Position returns the position for id.
func (c *Cache) Position(id model.PositionID) (*position.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[id]
	return p, ok
}

// PositionExists reports whether id is cached.
func (c *Cache) PositionExists(id model.PositionID) bool {
	_, ok := c.Position(id)
	return ok
}

// PositionForOrder returns the position linked to an order.
func (c *Cache) PositionForOrder(id model.ClientOrderID) (*position.Position, bool) {
	pid, ok := c.PositionIDForOrder(id)
	if !ok {
		return nil, false
	}
	return c.Position(pid)
}

func (c *Cache) collectPositions(f Filter, keep func(*position.Position) bool) []*position.Position {
	c.mu.RLock()
	out := make([]*position.Position, 0)
	for _, p := range c.positions {
		if f.matchPosition(p) && keep(p) {
			out = append(out, p)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].TsOpened() != out[j].TsOpened() {
			return out[i].TsOpened() < out[j].TsOpened()
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// Positions lists every position matching f.
func (c *Cache) Positions(f Filter) []*position.Position {
	return c.collectPositions(f, func(*position.Position) bool { return true })
}

// PositionsOpen lists open positions matching f.
func (c *Cache) PositionsOpen(f Filter) []*position.Position {
	return c.collectPositions(f, func(p *position.Position) bool { return p.IsOpen() })
}

// PositionsClosed lists closed positions matching f.
func (c *Cache) PositionsClosed(f Filter) []*position.Position {
	return c.collectPositions(f, func(p *position.Position) bool { return p.IsClosed() })
}

// AddAccount stores an account and indexes it by its issuer venue.
func (c *Cache) AddAccount(a *accounts.Account) error {
	if a == nil {
		return errs.New("cache", errs.CodeInvalid, errs.WithMessage("account required"))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.accounts[a.ID()]; exists {
		return errs.New("cache", errs.CodeConflict,
			errs.WithMessage("account already exists"),
			errs.WithField("account_id", string(a.ID())))
	}
	c.accounts[a.ID()] = a
	c.venueAccounts[model.Venue(a.ID().Issuer())] = a.ID()
	return nil
}

// Account returns the account for id.
func (c *Cache) Account(id model.AccountID) (*accounts.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accounts[id]
	return a, ok
}

// AccountForVenue returns the account issued by venue.
func (c *Cache) AccountForVenue(venue model.Venue) (*accounts.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.venueAccounts[venue]
	if !ok {
		return nil, false
	}
	a, ok := c.accounts[id]
	return a, ok
}

// Accounts lists every account ordered by id.
func (c *Cache) Accounts() []*accounts.Account {
	c.mu.RLock()
	out := make([]*accounts.Account, 0, len(c.accounts))
	for _, a := range c.accounts {
		out = append(out, a)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
