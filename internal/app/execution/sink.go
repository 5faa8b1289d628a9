package execution

import (
	"context"

	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/observability"
	"github.com/coachpo/quanta/lib/async"
)

// Store persists order events.
type Store interface {
	Append(ctx context.Context, ev events.OrderEvent) error
}

// AsyncSink hands order events to a Store off the engine's goroutine.
type AsyncSink struct {
	store Store
	pool  *async.Pool
	log   observability.Logger
}

// NewSink starts workers that append events to store.
func NewSink(store Store, workers, queue int, logger observability.Logger) (*AsyncSink, error) {
	if logger == nil {
		logger = observability.Log()
	}
	s := &AsyncSink{store: store, log: logger}
	pool, err := async.NewPool(workers, queue, async.WithErrorHandler(func(err error) {
		s.log.Error("order event not persisted", observability.F("error", err.Error()))
	}))
	if err != nil {
		return nil, err
	}
	s.pool = pool
	return s, nil
}

// Write queues ev. A saturated or closed sink drops the event with a warning.
func (s *AsyncSink) Write(ev events.OrderEvent) {
	err := s.pool.Submit(context.Background(), func(ctx context.Context) error {
		return s.store.Append(ctx, ev)
	})
	if err != nil {
		s.log.Warn("order event dropped",
			observability.F("event", string(ev.Kind())),
			observability.F("client_order_id", ev.Header().ClientOrderID.String()),
			observability.F("error", err.Error()))
	}
}

// Close drains queued events.
func (s *AsyncSink) Close(ctx context.Context) error {
	return s.pool.Shutdown(ctx)
}

type teeWriter []EventWriter

func (t teeWriter) Write(ev events.OrderEvent) {
	for _, w := range t {
		w.Write(ev)
	}
}

// Tee returns a writer forwarding each event to every non-nil writer in order.
func Tee(writers ...EventWriter) EventWriter {
	out := make(teeWriter, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			out = append(out, w)
		}
	}
	return out
}
