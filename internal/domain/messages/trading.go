package messages

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
)

// TradingHeader is shared by every trading command.
type TradingHeader struct {
	TraderID     model.TraderID     `json:"trader_id"`
	ClientID     model.ClientID     `json:"client_id,omitempty"`
	StrategyID   model.StrategyID   `json:"strategy_id"`
	InstrumentID model.InstrumentID `json:"instrument_id"`
	CommandID    model.UUID4        `json:"command_id"`
	TsInit       model.UnixNanos    `json:"ts_init"`
}

// NewTradingHeader stamps a header with a fresh command id.
func NewTradingHeader(traderID model.TraderID, clientID model.ClientID, strategyID model.StrategyID, instrumentID model.InstrumentID, ts model.UnixNanos) TradingHeader {
	return TradingHeader{
		TraderID:     traderID,
		ClientID:     clientID,
		StrategyID:   strategyID,
		InstrumentID: instrumentID,
		CommandID:    model.NewUUID4(),
		TsInit:       ts,
	}
}

// TradingCommand is implemented by every command an execution client accepts.
type TradingCommand interface {
	Header() TradingHeader
	Name() string
}

// SubmitOrder submits a single order.
type SubmitOrder struct {
	TradingHeader
	Order           orders.Order
	PositionID      model.PositionID
	ExecAlgorithmID model.ExecAlgorithmID
}

// SubmitOrderList submits orders that belong to one contingency list.
type SubmitOrderList struct {
	TradingHeader
	OrderListID model.OrderListID
	Orders      []orders.Order
	PositionID  model.PositionID
}

// ModifyOrder amends a working order. Nil fields are left unchanged.
type ModifyOrder struct {
	TradingHeader
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
	Quantity      *decimal.Decimal
	Price         *decimal.Decimal
	TriggerPrice  *decimal.Decimal
}

// CancelOrder cancels a working order.
type CancelOrder struct {
	TradingHeader
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
}

// CancelAllOrders cancels every working order for the instrument, optionally by side.
type CancelAllOrders struct {
	TradingHeader
	OrderSide model.OrderSide
}

// BatchCancelOrders cancels several orders of one instrument.
type BatchCancelOrders struct {
	TradingHeader
	Cancels []CancelOrder
}

// QueryOrder asks the venue for the current state of an order.
type QueryOrder struct {
	TradingHeader
	ClientOrderID model.ClientOrderID
	VenueOrderID  model.VenueOrderID
}

func (c SubmitOrder) Header() TradingHeader       { return c.TradingHeader }
func (c SubmitOrderList) Header() TradingHeader   { return c.TradingHeader }
func (c ModifyOrder) Header() TradingHeader       { return c.TradingHeader }
func (c CancelOrder) Header() TradingHeader       { return c.TradingHeader }
func (c CancelAllOrders) Header() TradingHeader   { return c.TradingHeader }
func (c BatchCancelOrders) Header() TradingHeader { return c.TradingHeader }
func (c QueryOrder) Header() TradingHeader        { return c.TradingHeader }

func (SubmitOrder) Name() string       { return "SubmitOrder" }
func (SubmitOrderList) Name() string   { return "SubmitOrderList" }
func (ModifyOrder) Name() string       { return "ModifyOrder" }
func (CancelOrder) Name() string       { return "CancelOrder" }
func (CancelAllOrders) Name() string   { return "CancelAllOrders" }
func (BatchCancelOrders) Name() string { return "BatchCancelOrders" }
func (QueryOrder) Name() string        { return "QueryOrder" }
