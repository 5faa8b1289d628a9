package orders

import (
	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
)

type statusSet map[model.OrderStatus]struct{}

func set(statuses ...model.OrderStatus) statusSet {
	out := make(statusSet, len(statuses))
	for _, s := range statuses {
		out[s] = struct{}{}
	}
	return out
}

// transitions lists, for each status, the statuses an event may move it to.
// Canceled orders may still receive late fills from the venue.
var transitions = map[model.OrderStatus]statusSet{
	model.OrderStatusInitialized: set(
		model.OrderStatusDenied, model.OrderStatusEmulated, model.OrderStatusReleased,
		model.OrderStatusSubmitted, model.OrderStatusRejected, model.OrderStatusAccepted,
		model.OrderStatusCanceled, model.OrderStatusExpired, model.OrderStatusTriggered,
	),
	model.OrderStatusEmulated: set(
		model.OrderStatusCanceled, model.OrderStatusExpired, model.OrderStatusReleased,
	),
	model.OrderStatusReleased: set(
		model.OrderStatusSubmitted, model.OrderStatusDenied, model.OrderStatusCanceled,
	),
	model.OrderStatusSubmitted: set(
		model.OrderStatusPendingUpdate, model.OrderStatusPendingCancel, model.OrderStatusRejected,
		model.OrderStatusCanceled, model.OrderStatusAccepted, model.OrderStatusTriggered,
		model.OrderStatusPartiallyFilled, model.OrderStatusFilled,
	),
	model.OrderStatusAccepted: set(
		model.OrderStatusRejected, model.OrderStatusPendingUpdate, model.OrderStatusPendingCancel,
		model.OrderStatusCanceled, model.OrderStatusTriggered, model.OrderStatusExpired,
		model.OrderStatusPartiallyFilled, model.OrderStatusFilled,
	),
	model.OrderStatusCanceled: set(
		model.OrderStatusPartiallyFilled, model.OrderStatusFilled,
	),
	model.OrderStatusPendingUpdate: set(
		model.OrderStatusRejected, model.OrderStatusAccepted, model.OrderStatusCanceled,
		model.OrderStatusExpired, model.OrderStatusTriggered, model.OrderStatusPendingUpdate,
		model.OrderStatusPendingCancel, model.OrderStatusPartiallyFilled, model.OrderStatusFilled,
	),
	model.OrderStatusPendingCancel: set(
		model.OrderStatusRejected, model.OrderStatusPendingCancel, model.OrderStatusCanceled,
		model.OrderStatusExpired, model.OrderStatusAccepted, model.OrderStatusPartiallyFilled,
		model.OrderStatusFilled,
	),
	model.OrderStatusTriggered: set(
		model.OrderStatusRejected, model.OrderStatusPendingUpdate, model.OrderStatusPendingCancel,
		model.OrderStatusCanceled, model.OrderStatusExpired, model.OrderStatusPartiallyFilled,
		model.OrderStatusFilled,
	),
	model.OrderStatusPartiallyFilled: set(
		model.OrderStatusPendingUpdate, model.OrderStatusPendingCancel, model.OrderStatusCanceled,
		model.OrderStatusExpired, model.OrderStatusPartiallyFilled, model.OrderStatusFilled,
	),
}

// CanTransition reports whether an order in from may move to to.
func CanTransition(from, to model.OrderStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

// IsClosedStatus reports whether status is terminal for the order lifecycle.
func IsClosedStatus(status model.OrderStatus) bool {
	switch status {
	case model.OrderStatusDenied, model.OrderStatusRejected, model.OrderStatusCanceled,
		model.OrderStatusExpired, model.OrderStatusFilled:
		return true
	}
	return false
}

// targetStatus maps an event onto the status it requests. Events that keep or
// restore a status return ok=false and are resolved by the caller.
func targetStatus(ev events.OrderEvent, filledAfter bool) (model.OrderStatus, bool) {
	switch ev.Kind() {
	case events.KindOrderDenied:
		return model.OrderStatusDenied, true
	case events.KindOrderEmulated:
		return model.OrderStatusEmulated, true
	case events.KindOrderReleased:
		return model.OrderStatusReleased, true
	case events.KindOrderSubmitted:
		return model.OrderStatusSubmitted, true
	case events.KindOrderAccepted:
		return model.OrderStatusAccepted, true
	case events.KindOrderRejected:
		return model.OrderStatusRejected, true
	case events.KindOrderCanceled:
		return model.OrderStatusCanceled, true
	case events.KindOrderExpired:
		return model.OrderStatusExpired, true
	case events.KindOrderTriggered:
		return model.OrderStatusTriggered, true
	case events.KindOrderPendingUpdate:
		return model.OrderStatusPendingUpdate, true
	case events.KindOrderPendingCancel:
		return model.OrderStatusPendingCancel, true
	case events.KindOrderFilled:
		if filledAfter {
			return model.OrderStatusFilled, true
		}
		return model.OrderStatusPartiallyFilled, true
	}
	return "", false
}

func invalidTransition(id model.ClientOrderID, from model.OrderStatus, ev events.OrderEvent) error {
	return errs.New("orders", errs.CodeInvalidState,
		errs.WithMessage("invalid state transition"),
		errs.WithField("client_order_id", id.String()),
		errs.WithField("status", string(from)),
		errs.WithField("event", string(ev.Kind())))
}
