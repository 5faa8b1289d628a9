// Package component implements the lifecycle state machine shared by actors,
// engines and clients.
package component

import (
	"errors"
	"strings"

	"github.com/coachpo/quanta/errs"
)

// State is a lifecycle state.
type State string

const (
	StatePreInitialized State = "PRE_INITIALIZED"
	StateReady          State = "READY"
	StateResetting      State = "RESETTING"
	StateStarting       State = "STARTING"
	StateRunning        State = "RUNNING"
	StateStopping       State = "STOPPING"
	StateStopped        State = "STOPPED"
	StateResuming       State = "RESUMING"
	StateDegrading      State = "DEGRADING"
	StateDegraded       State = "DEGRADED"
	StateDisposing      State = "DISPOSING"
	StateDisposed       State = "DISPOSED"
	StateFaulting       State = "FAULTING"
	StateFaulted        State = "FAULTED"
)

// Trigger drives a state change.
type Trigger string

const (
	TriggerInitialize       Trigger = "INITIALIZE"
	TriggerReset            Trigger = "RESET"
	TriggerResetCompleted   Trigger = "RESET_COMPLETED"
	TriggerStart            Trigger = "START"
	TriggerStartCompleted   Trigger = "START_COMPLETED"
	TriggerStop             Trigger = "STOP"
	TriggerStopCompleted    Trigger = "STOP_COMPLETED"
	TriggerResume           Trigger = "RESUME"
	TriggerResumeCompleted  Trigger = "RESUME_COMPLETED"
	TriggerDegrade          Trigger = "DEGRADE"
	TriggerDegradeCompleted Trigger = "DEGRADE_COMPLETED"
	TriggerDispose          Trigger = "DISPOSE"
	TriggerDisposeCompleted Trigger = "DISPOSE_COMPLETED"
	TriggerFault            Trigger = "FAULT"
	TriggerFaultCompleted   Trigger = "FAULT_COMPLETED"
)

// ErrInvalidTransition is wrapped by every rejected transition.
var ErrInvalidTransition = errors.New("invalid state transition")

type edge struct {
	from    State
	trigger Trigger
}

var transitions = map[edge]State{
	{StatePreInitialized, TriggerInitialize}: StateReady,

	{StateReady, TriggerReset}:   StateResetting,
	{StateReady, TriggerStart}:   StateStarting,
	{StateReady, TriggerDispose}: StateDisposing,

	{StateResetting, TriggerResetCompleted}: StateReady,

	{StateStarting, TriggerStartCompleted}: StateRunning,
	{StateStarting, TriggerStop}:           StateStopping,
	{StateStarting, TriggerFault}:          StateFaulting,

	{StateRunning, TriggerStop}:    StateStopping,
	{StateRunning, TriggerDegrade}: StateDegrading,
	{StateRunning, TriggerFault}:   StateFaulting,

	{StateResuming, TriggerStop}:            StateStopping,
	{StateResuming, TriggerResumeCompleted}: StateRunning,
	{StateResuming, TriggerFault}:           StateFaulting,

	{StateStopping, TriggerStopCompleted}: StateStopped,
	{StateStopping, TriggerFault}:         StateFaulting,

	{StateStopped, TriggerReset}:   StateResetting,
	{StateStopped, TriggerResume}:  StateResuming,
	{StateStopped, TriggerDispose}: StateDisposing,
	{StateStopped, TriggerFault}:   StateFaulting,

	{StateDegrading, TriggerDegradeCompleted}: StateDegraded,

	{StateDegraded, TriggerResume}: StateResuming,
	{StateDegraded, TriggerStop}:   StateStopping,
	{StateDegraded, TriggerFault}:  StateFaulting,

	{StateDisposing, TriggerDisposeCompleted}: StateDisposed,

	{StateFaulting, TriggerFaultCompleted}: StateFaulted,
}

// Transition returns the state reached from s by t.
func Transition(s State, t Trigger) (State, error) {
	next, ok := transitions[edge{s, t}]
	if !ok {
		return s, errs.New("component/transition", errs.CodeInvalidState,
			errs.WithMessage("invalid state trigger "+string(s)+" -> "+string(t)),
			errs.WithField("state", string(s)),
			errs.WithField("trigger", string(t)),
			errs.WithCause(ErrInvalidTransition))
	}
	return next, nil
}

// IsRunning reports whether s accepts data and commands.
func (s State) IsRunning() bool { return s == StateRunning }

// IsTerminal reports whether s has no outgoing transitions.
func (s State) IsTerminal() bool { return s == StateDisposed || s == StateFaulted }

func (s State) String() string { return string(s) }

// ParseState maps a case-insensitive name to a State.
func ParseState(value string) (State, bool) {
	s := State(strings.ToUpper(strings.TrimSpace(value)))
	switch s {
	case StatePreInitialized, StateReady, StateResetting, StateStarting, StateRunning,
		StateStopping, StateStopped, StateResuming, StateDegrading, StateDegraded,
		StateDisposing, StateDisposed, StateFaulting, StateFaulted:
		return s, true
	default:
		return "", false
	}
}
