package clock

import (
	"sort"
	"time"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/model"
)

// TestClock is a virtual clock for backtests and tests. Time only moves when
// AdvanceTime or SetTime is called.
type TestClock struct {
	registry
	current model.UnixNanos
}

// NewTestClock starts a virtual clock at start.
func NewTestClock(start model.UnixNanos) *TestClock {
	return &TestClock{registry: registry{timers: make(map[string]*timer)}, current: start}
}

// TimestampNs returns the current virtual time.
func (c *TestClock) TimestampNs() model.UnixNanos {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// UtcNow returns the current virtual time as UTC.
func (c *TestClock) UtcNow() time.Time { return c.TimestampNs().Time() }

// SetTime jumps the clock without firing timers.
func (c *TestClock) SetTime(ts model.UnixNanos) {
	c.mu.Lock()
	c.current = ts
	c.mu.Unlock()
}

// SetTimeAlert fires h once at at.
func (c *TestClock) SetTimeAlert(name string, at time.Time, h Handler) error {
	ts := model.NanosFromTime(at)
	if ts < c.TimestampNs() {
		return errs.New("clock", errs.CodeInvalid,
			errs.WithMessage("alert time is in the past"),
			errs.WithField("timer", name))
	}
	_, err := c.add(name, 0, ts, ts, h)
	return err
}

// SetTimer fires h every interval from start+interval until stop (zero stop runs forever).
func (c *TestClock) SetTimer(name string, interval time.Duration, start, stop time.Time, h Handler) error {
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
	_, err := c.add(name, model.UnixNanos(interval), begin.Add(interval), end, h)
	return err
}

// AdvanceTime moves the clock to to and returns the callbacks due on the way,
// ordered by event time. Moving backwards is ignored. The caller runs them.
func (c *TestClock) AdvanceTime(to model.UnixNanos) []Callback {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to < c.current {
		return nil
	}
	var due []Callback
	for name, t := range c.timers {
		for t.next <= to {
			due = append(due, Callback{
				Event:   TimeEvent{Name: name, EventID: model.NewUUID4(), TsEvent: t.next, TsInit: to},
				Handler: t.handler,
			})
			if t.interval == 0 || (t.stop != 0 && t.next+t.interval > t.stop) {
				delete(c.timers, name)
				break
			}
			t.next += t.interval
		}
	}
	c.current = to
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Event.TsEvent == due[j].Event.TsEvent {
			return due[i].Event.Name < due[j].Event.Name
		}
		return due[i].Event.TsEvent < due[j].Event.TsEvent
	})
	return due
}

// Advance moves the clock forward by d and runs the due callbacks.
func (c *TestClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	for _, cb := range c.AdvanceTime(c.TimestampNs().Add(d)) {
		cb.Run()
	}
}

// AdvanceTo moves the clock to ts if it is in the future and runs the due callbacks.
func (c *TestClock) AdvanceTo(ts model.UnixNanos) {
	for _, cb := range c.AdvanceTime(ts) {
		cb.Run()
	}
}
