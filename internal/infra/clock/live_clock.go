package clock

import (
	"time"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/model"
)

// LiveClock reads wall-clock time. Timer callbacks are handed to dispatch so
// the runner can deliver them on its own loop.
type LiveClock struct {
	registry
	dispatch func(Callback)
	stops    map[string]chan struct{}
}

// NewLiveClock builds a wall clock. A nil dispatch runs callbacks on the timer goroutine.
func NewLiveClock(dispatch func(Callback)) *LiveClock {
	if dispatch == nil {
		dispatch = func(cb Callback) { cb.Run() }
	}
	return &LiveClock{registry: registry{timers: make(map[string]*timer)}, dispatch: dispatch, stops: make(map[string]chan struct{})}
}

// TimestampNs returns the current wall-clock time.
func (c *LiveClock) TimestampNs() model.UnixNanos { return model.NanosFromTime(time.Now()) }

// UtcNow returns the current wall-clock time in UTC.
func (c *LiveClock) UtcNow() time.Time { return time.Now().UTC() }

// SetTimeAlert fires h once at at.
func (c *LiveClock) SetTimeAlert(name string, at time.Time, h Handler) error {
	ts := model.NanosFromTime(at)
	if ts < c.TimestampNs() {
		return errs.New("clock", errs.CodeInvalid,
			errs.WithMessage("alert time is in the past"),
			errs.WithField("timer", name))
	}
	t, err := c.add(name, 0, ts, ts, h)
	if err != nil {
		return err
	}
	c.start(t)
	return nil
}

// SetTimer fires h every interval from start+interval until stop (zero stop runs forever).
func (c *LiveClock) SetTimer(name string, interval time.Duration, start, stop time.Time, h Handler) error {
	if err := checkInterval(name, interval); err != nil {
		return err
	}
	begin := c.TimestampNs()
	if !start.IsZero() {
		begin = model.NanosFromTime(start)
	}
	var end model.UnixNanos
	if !stop.IsZero() {
		end = model.NanosFromTime(stop)
	}
	t, err := c.add(name, model.UnixNanos(interval), begin.Add(interval), end, h)
	if err != nil {
		return err
	}
	c.start(t)
	return nil
}

// CancelTimer stops and removes the named timer.
func (c *LiveClock) CancelTimer(name string) {
	c.mu.Lock()
	if stop, ok := c.stops[name]; ok {
		close(stop)
		delete(c.stops, name)
	}
	delete(c.timers, name)
	c.mu.Unlock()
}

// CancelTimers stops every timer.
func (c *LiveClock) CancelTimers() {
	for _, name := range c.TimerNames() {
		c.CancelTimer(name)
	}
}

func (c *LiveClock) start(t *timer) {
	stop := make(chan struct{})
	c.mu.Lock()
	c.stops[t.name] = stop
	c.mu.Unlock()

	go func() {
		for {
			c.mu.Lock()
			next := t.next
			c.mu.Unlock()
			wait := time.Until(next.Time())
			tm := time.NewTimer(wait)
			select {
			case <-stop:
				tm.Stop()
				return
			case <-tm.C:
			}
			now := c.TimestampNs()
			c.dispatch(Callback{
				Event:   TimeEvent{Name: t.name, EventID: model.NewUUID4(), TsEvent: next, TsInit: now},
				Handler: t.handler,
			})
			c.mu.Lock()
			done := t.interval == 0 || (t.stop != 0 && t.next+t.interval > t.stop)
			if done {
				if c.stops[t.name] == stop {
					delete(c.stops, t.name)
					delete(c.timers, t.name)
				}
				c.mu.Unlock()
				return
			}
			t.next += t.interval
			c.mu.Unlock()
		}
	}()
}
