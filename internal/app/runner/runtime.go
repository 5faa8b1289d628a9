package runner

import (
	"context"
	"errors"

	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/infra/bus/msgbus"
	"github.com/coachpo/quanta/internal/infra/cache"
	"github.com/coachpo/quanta/internal/infra/clock"
	"github.com/coachpo/quanta/internal/observability"
)

// Runtime is the per-node context shared by every component of a trader:
// one clock, one bus, one cache and the queue feeding the runner loop.
type Runtime struct {
	TraderID model.TraderID
	Clock    clock.Clock
	Bus      *msgbus.MessageBus
	Cache    *cache.Cache
	Queue    *EventQueue

	log observability.Logger
}

// NewLiveRuntime builds a runtime on the wall clock. Timer callbacks are
// queued so they run on the runner loop rather than the timer goroutine.
func NewLiveRuntime(traderID model.TraderID, capacity int, logger observability.Logger) (*Runtime, error) {
	if logger == nil {
		logger = observability.Log()
	}
	if err := model.CheckValidString(traderID.String(), "trader_id"); err != nil {
		return nil, err
	}
	rt := &Runtime{
		TraderID: traderID,
		Bus:      msgbus.New(traderID, logger),
		Cache:    cache.New(cache.Config{}),
		Queue:    NewEventQueue(capacity),
		log:      logger.With(observability.F("component", "Runtime")),
	}
	rt.Clock = clock.NewLiveClock(rt.dispatchTimer)
	return rt, nil
}

func (rt *Runtime) dispatchTimer(cb clock.Callback) {
	if err := rt.Queue.TryPush(TimerEvent(cb)); err != nil {
		rt.log.Warn("timer event dropped",
			observability.F("timer", cb.Event.Name),
			observability.F("error", err.Error()))
	}
}

// Sink returns the data.Sink handed to live data clients. Data and responses
// are queued for the runner instead of reaching the engine directly.
func (rt *Runtime) Sink() *QueueSink { return &QueueSink{queue: rt.Queue, log: rt.log} }

// QueueSink pushes client output onto the runner queue.
type QueueSink struct {
	queue *EventQueue
	log   observability.Logger
}

// OnData queues d. Under backpressure the item is dropped with a warning.
func (s *QueueSink) OnData(d any) {
	if err := s.queue.TryPush(DataEvent(d)); err != nil {
		s.log.Warn("data dropped", observability.F("error", err.Error()))
	}
}

// OnResponse queues resp. Responses are not dropped for backpressure: when
// the queue is full the push is retried off the caller's goroutine, which may
// be the runner loop itself.
func (s *QueueSink) OnResponse(resp messages.DataResponse) {
	ev := ResponseEvent(resp)
	err := s.queue.TryPush(ev)
	if errors.Is(err, ErrQueueFull) {
		go func() {
			if err := s.queue.Push(context.Background(), ev); err != nil {
				s.dropped(resp, err)
			}
		}()
		return
	}
	if err != nil {
		s.dropped(resp, err)
	}
}

func (s *QueueSink) dropped(resp messages.DataResponse, err error) {
	s.log.Error("data response dropped",
		observability.F("correlation_id", resp.CorrelationID.String()),
		observability.F("error", err.Error()))
}
