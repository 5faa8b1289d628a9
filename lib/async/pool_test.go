package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/quanta/errs"
)

func TestNewPoolRejectsZeroWorkers(t *testing.T) {
	_, err := NewPool(0, 1)
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestShutdownDrainsQueuedTasks(t *testing.T) {
	p, err := NewPool(2, 16)
	require.NoError(t, err)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			n.Add(1)
			return nil
		}))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	require.Equal(t, int32(10), n.Load())

	err = p.Submit(context.Background(), func(context.Context) error { return nil })
	require.True(t, errs.Is(err, errs.CodeUnavailable))
}

func TestErrorsAndPanicsReachHandler(t *testing.T) {
	var mu sync.Mutex
	var seen []error
	p, err := NewPool(1, 4, WithErrorHandler(func(err error) {
		mu.Lock()
		seen = append(seen, err)
		mu.Unlock()
	}))
	require.NoError(t, err)
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { panic("bad") }))
	require.NoError(t, p.Shutdown(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	require.EqualError(t, seen[0], "boom")
	require.Contains(t, seen[1].Error(), "bad")
}

func TestSubmitAtCapacity(t *testing.T) {
	p, err := NewPool(1, 0)
	require.NoError(t, err)
	release := make(chan struct{})
	started := make(chan struct{})
	require.Eventually(t, func() bool {
		return p.Submit(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		}) == nil
	}, time.Second, time.Millisecond)
	<-started

	err = p.Submit(context.Background(), func(context.Context) error { return nil })
	require.True(t, errs.Is(err, errs.CodeUnavailable))
	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}
