// Package execution owns the ExecEngine.* endpoints. The engine routes trading
// commands to execution clients and folds the events they report into orders,
// positions and accounts.
package execution

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/clock"
)

// Client is a connection to one trading venue, real or simulated.
type Client interface {
	ClientID() model.ClientID
	AccountID() model.AccountID
	Venue() model.Venue
	OmsType() model.OmsType
	IsConnected() bool
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	SubmitOrder(cmd messages.SubmitOrder) error
	SubmitOrderList(cmd messages.SubmitOrderList) error
	ModifyOrder(cmd messages.ModifyOrder) error
	CancelOrder(cmd messages.CancelOrder) error
	CancelAllOrders(cmd messages.CancelAllOrders) error
	BatchCancelOrders(cmd messages.BatchCancelOrders) error
	QueryOrder(cmd messages.QueryOrder) error

	GenerateAccountState(balances []events.AccountBalance, margins []events.MarginBalance, reported bool, ts model.UnixNanos) error
}

// BaseConfig identifies a client and its account.
type BaseConfig struct {
	TraderID     model.TraderID
	ClientID     model.ClientID
	Venue        model.Venue
	OmsType      model.OmsType
	AccountID    model.AccountID
	AccountType  model.AccountType
	BaseCurrency string
}

// Base carries the identity every client shares and turns venue outcomes into
// events sent to ExecEngine.process. Clients embed it.
type Base struct {
	cfg   BaseConfig
	bus   *msgbus.MessageBus
	clock clock.Clock
}

// NewBase builds the shared client state.
func NewBase(cfg BaseConfig, bus *msgbus.MessageBus, clk clock.Clock) Base {
	if cfg.OmsType == "" {
		cfg.OmsType = model.OmsTypeNetting
	}
	if cfg.AccountType == "" {
		cfg.AccountType = model.AccountTypeCash
	}
	return Base{cfg: cfg, bus: bus, clock: clk}
}

func (b *Base) TraderID() model.TraderID       { return b.cfg.TraderID }
func (b *Base) ClientID() model.ClientID       { return b.cfg.ClientID }
func (b *Base) Venue() model.Venue             { return b.cfg.Venue }
func (b *Base) OmsType() model.OmsType         { return b.cfg.OmsType }
func (b *Base) AccountID() model.AccountID     { return b.cfg.AccountID }
func (b *Base) AccountType() model.AccountType { return b.cfg.AccountType }
func (b *Base) BaseCurrency() string           { return b.cfg.BaseCurrency }
func (b *Base) Clock() clock.Clock             { return b.clock }
func (b *Base) Bus() *msgbus.MessageBus        { return b.bus }

func (b *Base) send(msg any) { b.bus.Send(msgbus.ExecEngineProcess, msg) }

func (b *Base) venueFields(vid model.VenueOrderID) events.VenueFields {
	return events.VenueFields{VenueOrderID: vid, AccountID: b.cfg.AccountID}
}

func (b *Base) header(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, ts model.UnixNanos) events.OrderEventHeader {
	return events.OrderEventHeader{
		TraderID:      b.cfg.TraderID,
		StrategyID:    strategyID,
		InstrumentID:  instrumentID,
		ClientOrderID: id,
		EventID:       model.NewUUID4(),
		TsEvent:       ts,
		TsInit:        b.clock.TimestampNs(),
	}
}

// GenerateAccountState reports balances for the client's account.
func (b *Base) GenerateAccountState(balances []events.AccountBalance, margins []events.MarginBalance, reported bool, ts model.UnixNanos) error {
	b.send(events.AccountState{
		AccountID:    b.cfg.AccountID,
		AccountType:  b.cfg.AccountType,
		BaseCurrency: b.cfg.BaseCurrency,
		Balances:     balances,
		Margins:      margins,
		IsReported:   reported,
		EventID:      model.NewUUID4(),
		TsEvent:      ts,
		TsInit:       b.clock.TimestampNs(),
	})
	return nil
}

func (b *Base) GenerateOrderSubmitted(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, ts model.UnixNanos) {
	b.send(events.OrderSubmitted{
		OrderEventHeader: b.header(strategyID, instrumentID, id, ts),
		AccountID:        b.cfg.AccountID,
	})
}

func (b *Base) GenerateOrderRejected(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, reason string, ts model.UnixNanos, dueToPostOnly bool) {
	b.send(events.OrderRejected{
		OrderEventHeader: b.header(strategyID, instrumentID, id, ts),
		AccountID:        b.cfg.AccountID,
		Reason:           reason,
		DueToPostOnly:    dueToPostOnly,
	})
}

func (b *Base) GenerateOrderAccepted(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, vid model.VenueOrderID, ts model.UnixNanos) {
	b.send(events.OrderAccepted{
		OrderEventHeader: b.header(strategyID, instrumentID, id, ts),
		VenueFields:      b.venueFields(vid),
	})
}

func (b *Base) GenerateOrderModifyRejected(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, vid model.VenueOrderID, reason string, ts model.UnixNanos) {
	b.send(events.OrderModifyRejected{
		OrderEventHeader: b.header(strategyID, instrumentID, id, ts),
		VenueFields:      b.venueFields(vid),
		Reason:           reason,
	})
}

func (b *Base) GenerateOrderCancelRejected(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, vid model.VenueOrderID, reason string, ts model.UnixNanos) {
	b.send(events.OrderCancelRejected{
		OrderEventHeader: b.header(strategyID, instrumentID, id, ts),
		VenueFields:      b.venueFields(vid),
		Reason:           reason,
	})
}

func (b *Base) GenerateOrderUpdated(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, vid model.VenueOrderID, qty decimal.Decimal, price, trigger *decimal.Decimal, ts model.UnixNanos) {
	b.send(events.OrderUpdated{
		OrderEventHeader: b.header(strategyID, instrumentID, id, ts),
		VenueFields:      b.venueFields(vid),
		Quantity:         qty,
		Price:            price,
		TriggerPrice:     trigger,
	})
}

func (b *Base) GenerateOrderCanceled(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, vid model.VenueOrderID, ts model.UnixNanos) {
	b.send(events.OrderCanceled{
		OrderEventHeader: b.header(strategyID, instrumentID, id, ts),
		VenueFields:      b.venueFields(vid),
	})
}

func (b *Base) GenerateOrderTriggered(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, vid model.VenueOrderID, ts model.UnixNanos) {
	b.send(events.OrderTriggered{
		OrderEventHeader: b.header(strategyID, instrumentID, id, ts),
		VenueFields:      b.venueFields(vid),
	})
}

func (b *Base) GenerateOrderExpired(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, vid model.VenueOrderID, ts model.UnixNanos) {
	b.send(events.OrderExpired{
		OrderEventHeader: b.header(strategyID, instrumentID, id, ts),
		VenueFields:      b.venueFields(vid),
	})
}

// Fill describes one execution reported by the venue.
type Fill struct {
	VenueOrderID  model.VenueOrderID
	PositionID    model.PositionID
	TradeID       model.TradeID
	Side          model.OrderSide
	OrderType     model.OrderType
	LastQty       decimal.Decimal
	LastPx        decimal.Decimal
	Currency      string
	Commission    *model.Money
	LiquiditySide model.LiquiditySide
}

func (b *Base) GenerateOrderFilled(strategyID model.StrategyID, instrumentID model.InstrumentID, id model.ClientOrderID, f Fill, ts model.UnixNanos) {
	b.send(events.OrderFilled{
		OrderEventHeader: b.header(strategyID, instrumentID, id, ts),
		VenueFields:      b.venueFields(f.VenueOrderID),
		TradeID:          f.TradeID,
		PositionID:       f.PositionID,
		Side:             f.Side,
		OrderType:        f.OrderType,
		LastQty:          f.LastQty,
		LastPx:           f.LastPx,
		Currency:         f.Currency,
		Commission:       f.Commission,
		LiquiditySide:    f.LiquiditySide,
	})
}
