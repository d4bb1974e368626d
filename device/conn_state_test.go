package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMgrTransitions(t *testing.T) {
	require := require.New(t)

	t.Run("initial state", func(t *testing.T) {
		m := NewStateMgr(KindRelay, nil)
		require.Equal(Disconnected, m.State())
		require.True(m.Is(Disconnected))
	})

	t.Run("connect path", func(t *testing.T) {
		changes := 0
		m := NewStateMgr(KindRegulator, nil)
		m.AddHandler(func(kind Kind, prev, next State) { changes++ })

		require.NoError(m.ToConnecting())
		require.Equal(Connecting, m.State())
		require.NoError(m.ToConnected())
		require.Equal(Connected, m.State())
		require.Equal(2, changes)

		// No-op when already Connected.
		require.NoError(m.ToConnected())
		require.Equal(2, changes)
	})

	t.Run("degraded and recovering", func(t *testing.T) {
		m := NewStateMgr(KindRegulator, nil)
		require.NoError(m.ToConnecting())
		require.NoError(m.ToConnected())

		require.NoError(m.ToDegraded())
		require.Equal(Degraded, m.State())

		// Degraded session recovers on a successful poll.
		require.NoError(m.ToConnected())
		require.Equal(Connected, m.State())

		require.NoError(m.ToDegraded())
		require.NoError(m.ToRecovering())
		require.Equal(Recovering, m.State())

		// A failed recovery forces Disconnected.
		m.ToDisconnected()
		require.Equal(Disconnected, m.State())
	})

	t.Run("invalid transitions", func(t *testing.T) {
		m := NewStateMgr(KindRelay, nil)

		require.ErrorIs(m.ToConnected(), ErrInvalidTransition)
		require.ErrorIs(m.ToDegraded(), ErrInvalidTransition)
		require.ErrorIs(m.ToRecovering(), ErrInvalidTransition)

		require.NoError(m.ToConnecting())
		require.ErrorIs(m.ToDegraded(), ErrInvalidTransition)
		require.ErrorIs(m.ToConnecting(), ErrInvalidTransition)
	})

	t.Run("disconnect from any state", func(t *testing.T) {
		changes := 0
		m := NewStateMgr(KindRelay, nil)
		m.AddHandler(func(kind Kind, prev, next State) { changes++ })

		// No-op when already Disconnected.
		m.ToDisconnected()
		require.Equal(0, changes)

		require.NoError(m.ToConnecting())
		m.ToDisconnected()
		require.Equal(Disconnected, m.State())
		require.Equal(2, changes)
	})
}

func TestStateMgrHandlerArguments(t *testing.T) {
	var gotKind Kind
	var gotPrev, gotNext State

	m := NewStateMgr(KindRegulator, nil, func(kind Kind, prev, next State) {
		gotKind, gotPrev, gotNext = kind, prev, next
	})

	require.NoError(t, m.ToConnecting())
	assert.Equal(t, KindRegulator, gotKind)
	assert.Equal(t, Disconnected, gotPrev)
	assert.Equal(t, Connecting, gotNext)
}

func TestStateMgrWaitState(t *testing.T) {
	m := NewStateMgr(KindRelay, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = m.ToConnecting()
		_ = m.ToConnected()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.WaitState(ctx, Connected))

	// Waiting for an unreachable state times out.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, m.WaitState(ctx2, Recovering), context.DeadlineExceeded)
}
