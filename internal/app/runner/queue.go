// Package runner drives a trading node. Live I/O goroutines only ever touch
// the EventQueue; everything else runs on the runner's loop.
package runner

import (
	"context"
	"errors"
	"sync"

	"github.com/coachpo/quanta/internal/domain/messages"
	"github.com/coachpo/quanta/internal/infra/clock"
)

var (
	// ErrQueueFull is returned by TryPush when the queue is at capacity.
	ErrQueueFull = errors.New("runner: event queue full")
	// ErrQueueClosed is returned once the queue stopped accepting events.
	ErrQueueClosed = errors.New("runner: event queue closed")
)

// EventKind tags what a runner Event carries.
type EventKind uint8

const (
	EventData EventKind = iota + 1
	EventResponse
	EventTimer
)

func (k EventKind) String() string {
	switch k {
	case EventData:
		return "data"
	case EventResponse:
		return "response"
	case EventTimer:
		return "timer"
	default:
		return "unknown"
	}
}

// Event is one unit of work for the runner loop.
type Event struct {
	Kind     EventKind
	Data     any
	Response messages.DataResponse
	Timer    clock.Callback
}

// DataEvent wraps market data.
func DataEvent(d any) Event { return Event{Kind: EventData, Data: d} }

// ResponseEvent wraps a data response.
func ResponseEvent(r messages.DataResponse) Event { return Event{Kind: EventResponse, Response: r} }

// TimerEvent wraps a fired timer.
func TimerEvent(cb clock.Callback) Event { return Event{Kind: EventTimer, Timer: cb} }

// EventQueue is a bounded multi-writer, single-reader queue.
type EventQueue struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

// NewEventQueue allocates a queue with the given capacity.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventQueue{ch: make(chan Event, capacity), done: make(chan struct{})}
}

// TryPush enqueues ev without blocking.
func (q *EventQueue) TryPush(ev Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Push enqueues ev, waiting for room until ctx is done or the queue closes.
func (q *EventQueue) Push(ctx context.Context, ev Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- ev:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C exposes the receive side for the runner's select loop.
func (q *EventQueue) C() <-chan Event { return q.ch }

// Len returns the number of queued events.
func (q *EventQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *EventQueue) Cap() int { return cap(q.ch) }

// Close stops the queue accepting events. Queued events can still be drained.
func (q *EventQueue) Close() {
	q.once.Do(func() {
		close(q.done)
		q.mu.Lock()
		q.closed = true
		close(q.ch)
		q.mu.Unlock()
	})
}

// Drain pops queued events without blocking and passes them to fn.
func (q *EventQueue) Drain(fn func(Event)) int {
	n := 0
	for {
		select {
		case ev, ok := <-q.ch:
			if !ok {
				return n
			}
			fn(ev)
			n++
		default:
			return n
		}
	}
}
