// Package clock provides the time sources used by actors and engines.
package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/model"
)

// TimeEvent is raised when a timer or alert fires.
type TimeEvent struct {
	Name    string          `json:"name"`
	EventID model.UUID4     `json:"event_id"`
	TsEvent model.UnixNanos `json:"ts_event"`
	TsInit  model.UnixNanos `json:"ts_init"`
}

// Handler receives time events.
type Handler func(TimeEvent)

// Callback pairs a fired event with the handler that should receive it.
type Callback struct {
	Event   TimeEvent
	Handler Handler
}

// Run delivers the event.
func (c Callback) Run() {
	if c.Handler != nil {
		c.Handler(c.Event)
	}
}

// Clock supplies timestamps and schedules named timers and alerts.
type Clock interface {
	TimestampNs() model.UnixNanos
	UtcNow() time.Time
	// RegisterDefaultHandler sets the handler used by timers registered without one.
	RegisterDefaultHandler(h Handler)
	SetTimeAlert(name string, at time.Time, h Handler) error
	SetTimer(name string, interval time.Duration, start, stop time.Time, h Handler) error
	CancelTimer(name string)
	CancelTimers()
	TimerNames() []string
	NextTime(name string) (model.UnixNanos, bool)
}

type timer struct {
	name     string
	interval model.UnixNanos
	next     model.UnixNanos
	stop     model.UnixNanos
	handler  Handler
}

// registry is the timer bookkeeping shared by both clocks.
type registry struct {
	mu             sync.Mutex
	timers         map[string]*timer
	defaultHandler Handler
}

func (r *registry) RegisterDefaultHandler(h Handler) {
	r.mu.Lock()
	r.defaultHandler = h
	r.mu.Unlock()
}

func (r *registry) add(name string, interval, next, stop model.UnixNanos, h Handler) (*timer, error) {
	if err := model.CheckValidString(name, "name"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h == nil {
		h = r.defaultHandler
	}
	if h == nil {
		return nil, errs.New("clock", errs.CodeInvalid,
			errs.WithMessage("no handler and no default handler registered"),
			errs.WithField("timer", name))
	}
	if _, exists := r.timers[name]; exists {
		return nil, errs.New("clock", errs.CodeConflict,
			errs.WithMessage("timer already exists"),
			errs.WithField("timer", name))
	}
	t := &timer{name: name, interval: interval, next: next, stop: stop, handler: h}
	r.timers[name] = t
	return t, nil
}

func (r *registry) CancelTimer(name string) {
	r.mu.Lock()
	delete(r.timers, name)
	r.mu.Unlock()
}

func (r *registry) CancelTimers() {
	r.mu.Lock()
	r.timers = make(map[string]*timer)
	r.mu.Unlock()
}

func (r *registry) TimerNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.timers))
	for name := range r.timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *registry) NextTime(name string) (model.UnixNanos, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.timers[name]
	if !ok {
		return 0, false
	}
	return t.next, true
}

func checkInterval(name string, interval time.Duration) error {
	if interval <= 0 {
		return errs.New("clock", errs.CodeInvalid,
			errs.WithMessage("timer interval must be positive"),
			errs.WithField("timer", name))
	}
	return nil
}
