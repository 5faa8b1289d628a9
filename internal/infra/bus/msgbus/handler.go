package msgbus

import "fmt"

// MessageHandler receives messages delivered by the bus. ID must be stable:
// the bus uses it to de-duplicate subscriptions and to unsubscribe.
type MessageHandler interface {
	ID() string
	Handle(msg any)
}

type funcHandler struct {
	id string
	fn func(any)
}

func (h funcHandler) ID() string     { return h.id }
func (h funcHandler) Handle(msg any) { h.fn(msg) }
func (h funcHandler) String() string { return h.id }

// NewHandler wraps fn as a handler identified by id.
func NewHandler(id string, fn func(msg any)) MessageHandler {
	return funcHandler{id: id, fn: fn}
}

type typedHandler[T any] struct {
	id         string
	fn         func(T)
	onMismatch func(any)
}

func (h typedHandler[T]) ID() string { return h.id }

func (h typedHandler[T]) Handle(msg any) {
	v, ok := msg.(T)
	if !ok {
		if h.onMismatch != nil {
			h.onMismatch(msg)
		}
		return
	}
	h.fn(v)
}

// NewTypedHandler delivers messages of type T to fn. Other messages go to
// onMismatch when set and are otherwise ignored.
func NewTypedHandler[T any](id string, fn func(T), onMismatch func(any)) MessageHandler {
	return typedHandler[T]{id: id, fn: fn, onMismatch: onMismatch}
}

// HandlerID builds the conventional id {owner}-{topic}.
func HandlerID(owner fmt.Stringer, topic Topic) string {
	return owner.String() + "-" + string(topic)
}
