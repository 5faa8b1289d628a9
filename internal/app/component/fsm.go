package component

import (
	"sync"

	"github.com/coachpo/quanta/errs"
	"github.com/coachpo/quanta/internal/domain/model"
	"github.com/coachpo/quanta/internal/observability"
)

// Component is the lifecycle surface exposed by actors, engines and clients.
type Component interface {
	ID() model.ComponentID
	State() State
	IsRunning() bool
	Start() error
	Stop() error
	Resume() error
	Reset() error
	Dispose() error
	Degrade() error
	Fault() error
}

// Hook is a lifecycle callback run between a trigger and its completion.
type Hook func() error

// FSM tracks a component's identity, registration and lifecycle state.
type FSM struct {
	id  model.ComponentID
	log observability.Logger

	mu       sync.RWMutex
	state    State
	traderID model.TraderID
}

// NewFSM returns a machine in StatePreInitialized.
func NewFSM(id model.ComponentID, logger observability.Logger) *FSM {
	if logger == nil {
		logger = observability.Log()
	}
	return &FSM{
		id:    id,
		log:   logger.With(observability.F("component", string(id))),
		state: StatePreInitialized,
	}
}

// ID returns the component id.
func (f *FSM) ID() model.ComponentID { return f.id }

// Logger returns the component-scoped logger.
func (f *FSM) Logger() observability.Logger { return f.log }

// State returns the current state.
func (f *FSM) State() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// IsRunning reports whether the component is running.
func (f *FSM) IsRunning() bool { return f.State().IsRunning() }

// TraderID returns the registered trader, or "" before registration.
func (f *FSM) TraderID() model.TraderID {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.traderID
}

// IsRegistered reports whether Register has succeeded.
func (f *FSM) IsRegistered() bool { return f.TraderID() != "" }

// Register binds the component to a trader once.
func (f *FSM) Register(traderID model.TraderID) error {
	if err := model.CheckValidString(string(traderID), "trader_id"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.traderID != "" {
		return errs.New("component/register", errs.CodeAlreadyRegistered,
			errs.WithMessage("component already registered"),
			errs.WithField("component", string(f.id)),
			errs.WithField("trader_id", string(f.traderID)))
	}
	f.traderID = traderID
	return nil
}

// Fire applies a single trigger.
func (f *FSM) Fire(t Trigger) error {
	f.mu.Lock()
	next, err := Transition(f.state, t)
	if err == nil {
		f.state = next
	}
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.log.Info(string(next))
	return nil
}

// Initialize moves PreInitialized to Ready.
func (f *FSM) Initialize() error { return f.Fire(TriggerInitialize) }

// Start runs hook between START and START_COMPLETED.
func (f *FSM) Start(hook Hook) error {
	return f.run(TriggerStart, TriggerStartCompleted, hook)
}

// Stop runs hook between STOP and STOP_COMPLETED.
func (f *FSM) Stop(hook Hook) error {
	return f.run(TriggerStop, TriggerStopCompleted, hook)
}

// Resume runs hook between RESUME and RESUME_COMPLETED.
func (f *FSM) Resume(hook Hook) error {
	return f.run(TriggerResume, TriggerResumeCompleted, hook)
}

// Reset runs hook between RESET and RESET_COMPLETED.
func (f *FSM) Reset(hook Hook) error {
	return f.run(TriggerReset, TriggerResetCompleted, hook)
}

// Dispose runs hook between DISPOSE and DISPOSE_COMPLETED.
func (f *FSM) Dispose(hook Hook) error {
	return f.run(TriggerDispose, TriggerDisposeCompleted, hook)
}

// Degrade runs hook between DEGRADE and DEGRADE_COMPLETED.
func (f *FSM) Degrade(hook Hook) error {
	return f.run(TriggerDegrade, TriggerDegradeCompleted, hook)
}

// Fault runs hook between FAULT and FAULT_COMPLETED.
func (f *FSM) Fault(hook Hook) error {
	return f.run(TriggerFault, TriggerFaultCompleted, hook)
}

// run fires begin, calls hook, then fires done. A failing hook faults the
// component when the intermediate state allows it and otherwise leaves it there.
func (f *FSM) run(begin, done Trigger, hook Hook) error {
	if err := f.Fire(begin); err != nil {
		return err
	}
	if hook != nil {
		if err := hook(); err != nil {
			f.log.Error("lifecycle hook failed",
				observability.F("trigger", string(begin)), observability.F("error", err.Error()))
			if begin != TriggerFault {
				if ferr := f.Fire(TriggerFault); ferr == nil {
					_ = f.Fire(TriggerFaultCompleted)
				}
			}
			return err
		}
	}
	return f.Fire(done)
}
