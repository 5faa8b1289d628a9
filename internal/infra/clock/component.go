package clock

import (
	"strings"
	"sync"
	"time"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/model"
)

const ownerSeparator = "/"

// ComponentClock is one component's view of a shared clock. Time comes from
// the parent. Timers live in the parent under an owner-qualified name, so
// the view only lists, reschedules and cancels its own. Events reach the
// handler under the unqualified name.
type ComponentClock struct {
	parent Clock
	prefix string

	mu             sync.Mutex
	defaultHandler Handler
}

// NewComponentClock returns a view of parent owned by owner.
func NewComponentClock(parent Clock, owner string) (*ComponentClock, error) {
	if parent == nil {
		return nil, errs.New("clock", errs.CodeInvalid, errs.WithMessage("parent clock required"))
	}
	if err := model.CheckValidString(owner, "owner"); err != nil {
		return nil, err
	}
	if strings.Contains(owner, ownerSeparator) {
		return nil, errs.New("clock", errs.CodeInvalid,
			errs.WithMessage("owner must not contain "+ownerSeparator),
			errs.WithField("owner", owner))
	}
	return &ComponentClock{parent: parent, prefix: owner + ownerSeparator}, nil
}

// Owner returns the component that owns the view.
func (c *ComponentClock) Owner() string { return strings.TrimSuffix(c.prefix, ownerSeparator) }

func (c *ComponentClock) TimestampNs() model.UnixNanos { return c.parent.TimestampNs() }

func (c *ComponentClock) UtcNow() time.Time { return c.parent.UtcNow() }

// RegisterDefaultHandler sets this view's default handler. The parent's is untouched.
func (c *ComponentClock) RegisterDefaultHandler(h Handler) {
	c.mu.Lock()
	c.defaultHandler = h
	c.mu.Unlock()
}

func (c *ComponentClock) SetTimeAlert(name string, at time.Time, h Handler) error {
	wrapped, err := c.resolve(name, h)
	if err != nil {
		return err
	}
	return c.parent.SetTimeAlert(c.prefix+name, at, wrapped)
}

func (c *ComponentClock) SetTimer(name string, interval time.Duration, start, stop time.Time, h Handler) error {
	wrapped, err := c.resolve(name, h)
	if err != nil {
		return err
	}
	return c.parent.SetTimer(c.prefix+name, interval, start, stop, wrapped)
}

func (c *ComponentClock) CancelTimer(name string) { c.parent.CancelTimer(c.prefix + name) }

// CancelTimers cancels the timers owned by this view only.
func (c *ComponentClock) CancelTimers() {
	for _, name := range c.TimerNames() {
		c.CancelTimer(name)
	}
}

// TimerNames lists this view's timers by their unqualified names.
func (c *ComponentClock) TimerNames() []string {
	var names []string
	for _, full := range c.parent.TimerNames() {
		if name, ok := strings.CutPrefix(full, c.prefix); ok {
			names = append(names, name)
		}
	}
	return names
}

func (c *ComponentClock) NextTime(name string) (model.UnixNanos, bool) {
	return c.parent.NextTime(c.prefix + name)
}

func (c *ComponentClock) resolve(name string, h Handler) (Handler, error) {
	if err := model.CheckValidString(name, "name"); err != nil {
		return nil, err
	}
	if h == nil {
		c.mu.Lock()
		h = c.defaultHandler
		c.mu.Unlock()
	}
	if h == nil {
		return nil, errs.New("clock", errs.CodeInvalid,
			errs.WithMessage("no handler and no default handler registered"),
			errs.WithField("timer", name),
			errs.WithField("owner", c.Owner()))
	}
	return func(ev TimeEvent) {
		ev.Name = name
		h(ev)
	}, nil
}

var _ Clock = (*ComponentClock)(nil)
