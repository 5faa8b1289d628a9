package events

import (
	json "github.com/goccy/go-json"

	"github.com/coachpo/quanta/errs"
)

// Envelope is the serialized form of an order event.
type Envelope struct {
	Kind    OrderEventKind  `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes an order event with its kind tag.
func Marshal(ev OrderEvent) ([]byte, error) {
	if ev == nil {
		return nil, errs.New("events/codec", errs.CodeInvalid, errs.WithMessage("nil order event"))
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, errs.New("events/codec", errs.CodeInvalid,
			errs.WithMessage("marshal order event"), errs.WithField("kind", string(ev.Kind())), errs.WithCause(err))
	}
	return json.Marshal(Envelope{Kind: ev.Kind(), Payload: payload})
}

// Unmarshal decodes an envelope produced by Marshal.
func Unmarshal(data []byte) (OrderEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errs.New("events/codec", errs.CodeInvalid, errs.WithMessage("decode envelope"), errs.WithCause(err))
	}
	return Decode(env.Kind, env.Payload)
}

// Decode decodes payload as the event named by kind.
func Decode(kind OrderEventKind, payload []byte) (OrderEvent, error) {
	var (
		ev  OrderEvent
		err error
	)
	switch kind {
	case KindOrderInitialized:
		ev, err = decodeAs[OrderInitialized](payload)
	case KindOrderDenied:
		ev, err = decodeAs[OrderDenied](payload)
	case KindOrderEmulated:
		ev, err = decodeAs[OrderEmulated](payload)
	case KindOrderReleased:
		ev, err = decodeAs[OrderReleased](payload)
	case KindOrderSubmitted:
		ev, err = decodeAs[OrderSubmitted](payload)
	case KindOrderAccepted:
		ev, err = decodeAs[OrderAccepted](payload)
	case KindOrderRejected:
		ev, err = decodeAs[OrderRejected](payload)
	case KindOrderCanceled:
		ev, err = decodeAs[OrderCanceled](payload)
	case KindOrderExpired:
		ev, err = decodeAs[OrderExpired](payload)
	case KindOrderTriggered:
		ev, err = decodeAs[OrderTriggered](payload)
	case KindOrderPendingUpdate:
		ev, err = decodeAs[OrderPendingUpdate](payload)
	case KindOrderPendingCancel:
		ev, err = decodeAs[OrderPendingCancel](payload)
	case KindOrderModifyRejected:
		ev, err = decodeAs[OrderModifyRejected](payload)
	case KindOrderCancelRejected:
		ev, err = decodeAs[OrderCancelRejected](payload)
	case KindOrderUpdated:
		ev, err = decodeAs[OrderUpdated](payload)
	case KindOrderFilled:
		ev, err = decodeAs[OrderFilled](payload)
	default:
		return nil, errs.New("events/codec", errs.CodeInvalid,
			errs.WithMessage("unknown order event kind"), errs.WithField("kind", string(kind)))
	}
	if err != nil {
		return nil, errs.New("events/codec", errs.CodeInvalid,
			errs.WithMessage("decode order event"), errs.WithField("kind", string(kind)), errs.WithCause(err))
	}
	return ev, nil
}

func decodeAs[T OrderEvent](payload []byte) (OrderEvent, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}
