package device

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/plasmalab/gasflow/logger"
)

// State represents the connection state of a device session.
type State uint32

const (
	// Disconnected means the session holds no handle.
	Disconnected State = iota
	// Connecting means a handle is being opened.
	Connecting
	// Connected means the session holds a live handle and operations are
	// expected to succeed.
	Connected
	// Degraded means the resource is still present but communication with
	// it is failing; the handle is retained and the next poll retries.
	Degraded
	// Recovering means a bounded recovery attempt is in flight.
	Recovering
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	case Recovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// StateChangeHandler is invoked on every state transition. Handlers run
// synchronously under the state manager's lock; keep them short.
type StateChangeHandler func(kind Kind, prev State, next State)

// StateMgr manages the connection state of one device session.
//
// Transitions are serialized and validated; listeners are notified of every
// change. Reads are lock-free.
type StateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	kind     Kind
	logger   logger.Logger
	handlers []StateChangeHandler
}

// NewStateMgr creates a StateMgr for the given device kind, initialized to
// Disconnected.
func NewStateMgr(kind Kind, log logger.Logger, handlers ...StateChangeHandler) *StateMgr {
	if log == nil {
		log = logger.GetLogger()
	}

	mgr := &StateMgr{
		kind:     kind,
		logger:   log,
		handlers: handlers,
	}
	mgr.state.Store(uint32(Disconnected))
	mgr.cond = sync.NewCond(&mgr.mu)

	return mgr
}

// State returns the current connection state.
func (m *StateMgr) State() State {
	return State(m.state.Load())
}

// Is reports whether the current state equals s.
func (m *StateMgr) Is(s State) bool {
	return m.State() == s
}

// AddHandler registers additional state-change handlers.
func (m *StateMgr) AddHandler(handlers ...StateChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handlers...)
}

// WaitState blocks until the session reaches the given state or ctx is done.
func (m *StateMgr) WaitState(ctx context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		m.cond.Broadcast()
	})
	defer stop()

	for m.State() != state {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			m.cond.Wait()
		}
	}

	return nil
}

// ToConnecting transitions Disconnected → Connecting.
func (m *StateMgr) ToConnecting() error {
	return m.transition(Connecting, Disconnected)
}

// ToConnected transitions to Connected from Connecting, Degraded, or
// Recovering. It is a no-op when already Connected.
func (m *StateMgr) ToConnected() error {
	return m.transition(Connected, Connecting, Degraded, Recovering)
}

// ToDegraded transitions Connected → Degraded. It is a no-op when already
// Degraded.
func (m *StateMgr) ToDegraded() error {
	return m.transition(Degraded, Connected)
}

// ToRecovering transitions to Recovering from Connected or Degraded.
func (m *StateMgr) ToRecovering() error {
	return m.transition(Recovering, Connected, Degraded)
}

// ToDisconnected transitions to Disconnected. It is allowed from any state
// and is a no-op when already Disconnected.
func (m *StateMgr) ToDisconnected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.State()
	if prev == Disconnected {
		return
	}

	m.setState(Disconnected)
	m.invokeHandlers(prev, Disconnected)
}

// transition moves to next if the current state is one of from; a no-op if
// already in next, ErrInvalidTransition otherwise.
func (m *StateMgr) transition(next State, from ...State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.State()
	if prev == next {
		return nil
	}

	allowed := false
	for _, f := range from {
		if prev == f {
			allowed = true
			break
		}
	}
	if !allowed {
		m.logger.Debug("rejected state transition", "device", m.kind, "from", prev, "to", next)
		return ErrInvalidTransition
	}

	m.setState(next)
	m.invokeHandlers(prev, next)

	return nil
}

// setState atomically stores the new state and wakes any WaitState callers.
func (m *StateMgr) setState(next State) {
	m.state.Store(uint32(next))
	m.cond.Broadcast()
}

func (m *StateMgr) invokeHandlers(prev, next State) {
	for _, handler := range m.handlers {
		if handler != nil {
			handler(m.kind, prev, next)
		}
	}
}
