package trading

import (
	"github.com/shopspring/decimal"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
	"github.com/coachpo/quanta/internal/domain/position"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/observability"
)

func (s *Strategy) header(id model.InstrumentID, clientID model.ClientID) messages.TradingHeader {
	if clientID == "" {
		clientID = s.cfg.ClientID
	}
	return messages.NewTradingHeader(s.TraderID(), clientID, s.cfg.StrategyID, id, s.Clock().TimestampNs())
}

func (s *Strategy) send(cmd messages.TradingCommand) {
	if s.cfg.LogCommands {
		h := cmd.Header()
		s.Log().Info("command sent",
			observability.F("command", cmd.Name()),
			observability.F("instrument_id", h.InstrumentID.String()),
			observability.F("command_id", h.CommandID.String()))
	}
	s.Bus().Send(msgbus.ExecEngineExecute, cmd)
}

func (s *Strategy) ownOrder(o orders.Order) error {
	if o.StrategyID() != s.cfg.StrategyID {
		return errs.New("trading", errs.CodeDenied,
			errs.WithMessage("order belongs to another strategy"),
			errs.WithField("client_order_id", o.ClientOrderID().String()),
			errs.WithField("strategy_id", o.StrategyID().String()))
	}
	return nil
}

// SubmitOrder caches o and sends it to the execution engine. positionID may
// be empty; under HEDGING it targets an existing position.
func (s *Strategy) SubmitOrder(o orders.Order, positionID model.PositionID, clientID model.ClientID) error {
	if err := s.ownOrder(o); err != nil {
		return err
	}
	if err := s.Cache().AddOrder(o, positionID); err != nil {
		return err
	}
	s.send(messages.SubmitOrder{
		TradingHeader: s.header(o.InstrumentID(), clientID),
		Order:         o,
		PositionID:    positionID,
	})
	return nil
}

// SubmitOrderList caches and submits a contingent order list. Every order must
// belong to the strategy and share one instrument.
func (s *Strategy) SubmitOrderList(listID model.OrderListID, list []orders.Order, positionID model.PositionID, clientID model.ClientID) error {
	if len(list) == 0 {
		return errs.New("trading", errs.CodeInvalid, errs.WithMessage("order list is empty"))
	}
	instrument := list[0].InstrumentID()
	for _, o := range list {
		if err := s.ownOrder(o); err != nil {
			return err
		}
		if o.InstrumentID() != instrument {
			return errs.New("trading", errs.CodeInvalid,
				errs.WithMessage("order list spans instruments"),
				errs.WithField("order_list_id", string(listID)))
		}
	}
	for _, o := range list {
		if err := s.Cache().AddOrder(o, positionID); err != nil {
			return err
		}
	}
	s.send(messages.SubmitOrderList{
		TradingHeader: s.header(instrument, clientID),
		OrderListID:   listID,
		Orders:        list,
		PositionID:    positionID,
	})
	return nil
}

// ModifyOrder amends an open order. Nil values keep the current value; a call
// that changes nothing is logged and dropped.
func (s *Strategy) ModifyOrder(o orders.Order, qty, price, trigger *decimal.Decimal, clientID model.ClientID) error {
	if err := s.ownOrder(o); err != nil {
		return err
	}
	if o.IsClosed() {
		return errs.New("trading", errs.CodeInvalidState,
			errs.WithMessage("cannot modify a closed order"),
			errs.WithField("client_order_id", o.ClientOrderID().String()),
			errs.WithField("status", string(o.Status())))
	}
	changed := qty != nil && !qty.Equal(o.Quantity()) ||
		price != nil && (o.Price() == nil || !price.Equal(*o.Price())) ||
		trigger != nil && (o.TriggerPrice() == nil || !trigger.Equal(*o.TriggerPrice()))
	if !changed {
		s.Log().Warn("modify order has no changes, dropped",
			observability.F("client_order_id", o.ClientOrderID().String()))
		return nil
	}
	s.send(messages.ModifyOrder{
		TradingHeader: s.header(o.InstrumentID(), clientID),
		ClientOrderID: o.ClientOrderID(),
		VenueOrderID:  o.VenueOrderID(),
		Quantity:      qty,
		Price:         price,
		TriggerPrice:  trigger,
	})
	return nil
}

// CancelOrder cancels an open order.
func (s *Strategy) CancelOrder(o orders.Order, clientID model.ClientID) error {
	if err := s.ownOrder(o); err != nil {
		return err
	}
	if o.IsClosed() {
		return errs.New("trading", errs.CodeInvalidState,
			errs.WithMessage("cannot cancel a closed order"),
			errs.WithField("client_order_id", o.ClientOrderID().String()),
			errs.WithField("status", string(o.Status())))
	}
	s.send(messages.CancelOrder{
		TradingHeader: s.header(o.InstrumentID(), clientID),
		ClientOrderID: o.ClientOrderID(),
		VenueOrderID:  o.VenueOrderID(),
	})
	return nil
}

// CancelOrders batch-cancels open orders of one instrument. Closed orders are skipped.
func (s *Strategy) CancelOrders(list []orders.Order, clientID model.ClientID) error {
	var cancels []messages.CancelOrder
	var instrument model.InstrumentID
	for _, o := range list {
		if err := s.ownOrder(o); err != nil {
			return err
		}
		if o.IsClosed() {
			continue
		}
		if instrument.IsZero() {
			instrument = o.InstrumentID()
		} else if o.InstrumentID() != instrument {
			return errs.New("trading", errs.CodeInvalid, errs.WithMessage("batch cancel spans instruments"))
		}
		cancels = append(cancels, messages.CancelOrder{
			TradingHeader: s.header(o.InstrumentID(), clientID),
			ClientOrderID: o.ClientOrderID(),
			VenueOrderID:  o.VenueOrderID(),
		})
	}
	if len(cancels) == 0 {
		return nil
	}
	s.send(messages.BatchCancelOrders{TradingHeader: s.header(instrument, clientID), Cancels: cancels})
	return nil
}

// CancelAllOrders cancels every open order of the instrument, optionally one side only.
func (s *Strategy) CancelAllOrders(id model.InstrumentID, side model.OrderSide, clientID model.ClientID) {
	if side == "" {
		side = model.OrderSideNoSide
	}
	s.send(messages.CancelAllOrders{TradingHeader: s.header(id, clientID), OrderSide: side})
}

// QueryOrder asks the venue for the order's current state.
func (s *Strategy) QueryOrder(o orders.Order, clientID model.ClientID) {
	s.send(messages.QueryOrder{
		TradingHeader: s.header(o.InstrumentID(), clientID),
		ClientOrderID: o.ClientOrderID(),
		VenueOrderID:  o.VenueOrderID(),
	})
}

// ClosePosition flattens p with a reduce-only market order.
func (s *Strategy) ClosePosition(p *position.Position, clientID model.ClientID, tags ...string) (orders.Order, error) {
	if p.IsClosed() {
		return nil, errs.New("trading", errs.CodeInvalidState,
			errs.WithMessage("position already closed"),
			errs.WithField("position_id", p.ID().String()))
	}
	side := model.OrderSideSell
	if p.IsShort() {
		side = model.OrderSideBuy
	}
	o, err := s.OrderFactory().Build(model.OrderTypeMarket, orders.Params{
		InstrumentID: p.InstrumentID(),
		Side:         side,
		Quantity:     p.Quantity(),
		TimeInForce:  model.TimeInForceGTC,
		ReduceOnly:   true,
		Tags:         tags,
	})
	if err != nil {
		return nil, err
	}
	return o, s.SubmitOrder(o, p.ID(), clientID)
}

// CloseAllPositions flattens every open position of the instrument held by the strategy.
func (s *Strategy) CloseAllPositions(id model.InstrumentID, clientID model.ClientID) error {
	var errList []error
	for _, p := range s.Cache().PositionsOpen(cache.Filter{StrategyID: s.cfg.StrategyID, InstrumentID: id}) {
		if _, err := s.ClosePosition(p, clientID); err != nil {
			errList = append(errList, err)
		}
	}
	return observability.JoinFailures(s.Log(), "close all positions", errList,
		observability.F("strategy_id", s.cfg.StrategyID.String()))
}
