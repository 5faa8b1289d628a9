package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/internal/domain/model"
)

func TestTestClockFiresTimersInOrder(t *testing.T) {
	c := NewTestClock(0)
	var fired []string
	c.RegisterDefaultHandler(func(ev TimeEvent) { fired = append(fired, ev.Name) })

	require.NoError(t, c.SetTimer("tick", 10*time.Nanosecond, time.Time{}, time.Time{}, nil))
	require.NoError(t, c.SetTimeAlert("alert", model.UnixNanos(15).Time(), nil))
	require.Equal(t, []string{"alert", "tick"}, c.TimerNames())

	due := c.AdvanceTime(30)
	require.Len(t, due, 4)
	require.Equal(t, model.UnixNanos(10), due[0].Event.TsEvent)
	require.Equal(t, "alert", due[1].Event.Name)
	for _, cb := range due {
		cb.Run()
	}
	require.Equal(t, []string{"tick", "alert", "tick", "tick"}, fired)
	require.Equal(t, model.UnixNanos(30), c.TimestampNs())
	require.Equal(t, []string{"tick"}, c.TimerNames(), "alerts are removed once fired")

	next, ok := c.NextTime("tick")
	require.True(t, ok)
	require.Equal(t, model.UnixNanos(40), next)

	require.Nil(t, c.AdvanceTime(5), "moving backwards is ignored")
}

func TestTestClockStopsTimerAtStop(t *testing.T) {
	c := NewTestClock(0)
	count := 0
	h := func(TimeEvent) { count++ }
	require.NoError(t, c.SetTimer("bounded", 10*time.Nanosecond, time.Time{}, model.UnixNanos(25).Time(), h))
	c.AdvanceTo(100)
	require.Equal(t, 2, count)
	require.Empty(t, c.TimerNames())
}

func TestTimerValidation(t *testing.T) {
	c := NewTestClock(100)
	require.Error(t, c.SetTimer("x", time.Second, time.Time{}, time.Time{}, nil), "no default handler")

	h := func(TimeEvent) {}
	require.Error(t, c.SetTimer("x", 0, time.Time{}, time.Time{}, h))
	require.Error(t, c.SetTimeAlert("past", model.UnixNanos(50).Time(), h))
	require.NoError(t, c.SetTimer("x", time.Second, time.Time{}, time.Time{}, h))
	require.Error(t, c.SetTimer("x", time.Second, time.Time{}, time.Time{}, h), "duplicate name")

	c.CancelTimer("x")
	require.Empty(t, c.TimerNames())
}

func TestLiveClockDispatchesAlert(t *testing.T) {
	var mu sync.Mutex
	var got []TimeEvent
	done := make(chan struct{})
	c := NewLiveClock(func(cb Callback) {
		mu.Lock()
		got = append(got, cb.Event)
		mu.Unlock()
		close(done)
	})
	require.NotZero(t, c.TimestampNs())

	require.NoError(t, c.SetTimeAlert("soon", time.Now().Add(5*time.Millisecond), func(TimeEvent) {}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("alert did not fire")
	}
	mu.Lock()
	require.Len(t, got, 1)
	require.Equal(t, "soon", got[0].Name)
	mu.Unlock()

	require.Eventually(t, func() bool { return len(c.TimerNames()) == 0 }, time.Second, 5*time.Millisecond)
}
