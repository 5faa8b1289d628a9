// Package persistence defines the order event log shared by the backtest
// journal and the PostgreSQL store.
package persistence

import (
	"context"
	"sync"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/events"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/domain/orders"
)

// EventLog stores order events keyed by client order id. Appending an event
// whose id is already stored is a no-op.
type EventLog interface {
	Append(ctx context.Context, ev events.OrderEvent) error
	Events(ctx context.Context, id model.ClientOrderID) ([]events.OrderEvent, error)
}

// Rebuild reconstructs an order from its logged events.
func Rebuild(ctx context.Context, log EventLog, id model.ClientOrderID) (orders.Order, error) {
	evs, err := log.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(evs) == 0 {
		return nil, errs.New("persistence", errs.CodeNotFound,
			errs.WithMessage("no events for order"), errs.WithField("client_order_id", id.String()))
	}
	return orders.FromEvents(evs)
}

// MemoryLog is an in-process EventLog. It also satisfies the execution
// engine's event writer so a backtest can journal synchronously.
type MemoryLog struct {
	mu      sync.RWMutex
	seen    map[model.UUID4]struct{}
	byOrder map[model.ClientOrderID][]events.OrderEvent
	ids     []model.ClientOrderID
	fills   int
}

// NewMemoryLog returns an empty log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		seen:    make(map[model.UUID4]struct{}),
		byOrder: make(map[model.ClientOrderID][]events.OrderEvent),
	}
}

// Append stores ev once.
func (l *MemoryLog) Append(_ context.Context, ev events.OrderEvent) error {
	if ev == nil {
		return errs.New("persistence", errs.CodeInvalid, errs.WithMessage("nil order event"))
	}
	h := ev.Header()
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[h.EventID]; dup {
		return nil
	}
	l.seen[h.EventID] = struct{}{}
	if _, known := l.byOrder[h.ClientOrderID]; !known {
		l.ids = append(l.ids, h.ClientOrderID)
	}
	l.byOrder[h.ClientOrderID] = append(l.byOrder[h.ClientOrderID], ev)
	if ev.Kind() == events.KindOrderFilled {
		l.fills++
	}
	return nil
}

// Write appends ev, ignoring the context.
func (l *MemoryLog) Write(ev events.OrderEvent) { _ = l.Append(context.Background(), ev) }

// Events returns a copy of the events stored for id in append order.
func (l *MemoryLog) Events(_ context.Context, id model.ClientOrderID) ([]events.OrderEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	stored := l.byOrder[id]
	out := make([]events.OrderEvent, len(stored))
	copy(out, stored)
	return out, nil
}

// ClientOrderIDs lists logged orders in first-seen order.
func (l *MemoryLog) ClientOrderIDs() []model.ClientOrderID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.ClientOrderID, len(l.ids))
	copy(out, l.ids)
	return out
}

// Len returns the number of stored events.
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}

// Fills returns the number of stored fill events.
func (l *MemoryLog) Fills() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fills
}
