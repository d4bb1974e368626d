package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartInterval(t *testing.T) {
	mgr := NewManager(context.Background(), nil)

	var ticks atomic.Int32
	err := mgr.StartInterval("tick", func() bool {
		ticks.Add(1)
		return true
	}, 5*time.Millisecond, true)
	require.NoError(t, err)

	// runNow fires immediately; ticks follow.
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	mgr.Stop()
	mgr.Wait()

	final := ticks.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, final, ticks.Load())
}

func TestStartIntervalDuplicateName(t *testing.T) {
	mgr := NewManager(context.Background(), nil)
	defer func() {
		mgr.Stop()
		mgr.Wait()
	}()

	noop := func() bool { return true }
	require.NoError(t, mgr.StartInterval("poll", noop, time.Millisecond, false))
	assert.Error(t, mgr.StartInterval("poll", noop, time.Millisecond, false))
}

func TestTaskStopsWhenFuncReturnsFalse(t *testing.T) {
	mgr := NewManager(context.Background(), nil)

	var runs atomic.Int32
	err := mgr.Start("once", func() bool {
		runs.Add(1)
		return false
	})
	require.NoError(t, err)

	mgr.Wait()
	assert.Equal(t, int32(1), runs.Load())
}

func TestManagerRearmsAfterWait(t *testing.T) {
	mgr := NewManager(context.Background(), nil)

	mgr.Stop()
	mgr.Wait()

	// After Wait the manager accepts tasks again.
	var ran atomic.Bool
	err := mgr.Start("again", func() bool {
		ran.Store(true)
		return false
	})
	require.NoError(t, err)

	mgr.Wait()
	assert.True(t, ran.Load())
}

func TestStartAfterStopFails(t *testing.T) {
	mgr := NewManager(context.Background(), nil)
	mgr.Stop()

	assert.Error(t, mgr.Start("late", func() bool { return false }))
}

func TestPanicRecovery(t *testing.T) {
	mgr := NewManager(context.Background(), nil)

	var ticks atomic.Int32
	err := mgr.StartInterval("panicky", func() bool {
		if ticks.Add(1) == 1 {
			panic("boom")
		}
		return true
	}, time.Millisecond, true)
	require.NoError(t, err)

	// The task survives the panic and keeps ticking.
	require.Eventually(t, func() bool { return ticks.Load() >= 3 }, time.Second, time.Millisecond)

	mgr.Stop()
	mgr.Wait()
}
