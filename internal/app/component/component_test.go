package component

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/errs"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from State
		trig Trigger
		want State
	}{
		{StatePreInitialized, TriggerInitialize, StateReady},
		{StateReady, TriggerStart, StateStarting},
		{StateStarting, TriggerStartCompleted, StateRunning},
		{StateRunning, TriggerDegrade, StateDegrading},
		{StateDegrading, TriggerDegradeCompleted, StateDegraded},
		{StateDegraded, TriggerResume, StateResuming},
		{StateResuming, TriggerResumeCompleted, StateRunning},
		{StateRunning, TriggerStop, StateStopping},
		{StateStopping, TriggerStopCompleted, StateStopped},
		{StateStopped, TriggerReset, StateResetting},
		{StateResetting, TriggerResetCompleted, StateReady},
		{StateReady, TriggerDispose, StateDisposing},
		{StateDisposing, TriggerDisposeCompleted, StateDisposed},
		{StateRunning, TriggerFault, StateFaulting},
		{StateFaulting, TriggerFaultCompleted, StateFaulted},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.trig)
		require.NoError(t, err, "%s + %s", tc.from, tc.trig)
		require.Equal(t, tc.want, got)
	}
}

func TestIllegalTransitions(t *testing.T) {
	illegal := []struct {
		from State
		trig Trigger
	}{
		{StatePreInitialized, TriggerStart},
		{StateReady, TriggerStop},
		{StateRunning, TriggerStart},
		{StateDisposed, TriggerReset},
		{StateFaulted, TriggerInitialize},
		{StateDegrading, TriggerFault},
	}
	for _, tc := range illegal {
		got, err := Transition(tc.from, tc.trig)
		require.Error(t, err)
		require.Equal(t, tc.from, got)
		require.True(t, errs.Is(err, errs.CodeInvalidState))
		require.ErrorIs(t, err, ErrInvalidTransition)
	}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for e := range transitions {
		require.False(t, e.from.IsTerminal(), "edge out of %s", e.from)
	}
}

func TestFSMLifecycle(t *testing.T) {
	f := NewFSM("Actor-1", nil)
	require.Equal(t, StatePreInitialized, f.State())
	require.Error(t, f.Start(nil))

	require.NoError(t, f.Initialize())
	calls := 0
	require.NoError(t, f.Start(func() error { calls++; return nil }))
	require.True(t, f.IsRunning())
	require.NoError(t, f.Stop(func() error { calls++; return nil }))
	require.Equal(t, StateStopped, f.State())
	require.NoError(t, f.Resume(nil))
	require.True(t, f.IsRunning())
	require.Equal(t, 2, calls)
}

func TestFSMHookFailureFaults(t *testing.T) {
	f := NewFSM("Actor-1", nil)
	require.NoError(t, f.Initialize())
	boom := errors.New("boom")
	require.ErrorIs(t, f.Start(func() error { return boom }), boom)
	require.Equal(t, StateFaulted, f.State())
	require.Error(t, f.Reset(nil))
}

func TestFSMRegisterOnce(t *testing.T) {
	f := NewFSM("Actor-1", nil)
	require.Error(t, f.Register(""))
	require.NoError(t, f.Register("TRADER-001"))
	err := f.Register("TRADER-002")
	require.True(t, errs.Is(err, errs.CodeAlreadyRegistered))
	require.Equal(t, "TRADER-001", string(f.TraderID()))
}

func TestParseState(t *testing.T) {
	s, ok := ParseState(" running ")
	require.True(t, ok)
	require.Equal(t, StateRunning, s)
	_, ok = ParseState("bogus")
	require.False(t, ok)
}
