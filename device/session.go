package device

import (
	"sync"

	"github.com/plasmalab/gasflow/logger"
	"github.com/plasmalab/gasflow/modbus"
)

// session is the state shared by both instrument sessions.
//
// Locking discipline: opMu serializes exported hardware operations, because
// the underlying Modbus transaction is not reentrant and supervisor polls
// must not interleave with user commands on the same session. mu guards
// only the client field and is never held across hardware I/O, which keeps
// nested safe-call invocations (a connect inside a power-on, a recovery
// probe inside a poll) free of double-release and deadlock hazards.
type session struct {
	kind   Kind
	cfg    *Config
	logger logger.Logger
	states *StateMgr
	slot   ErrorSlot

	opMu sync.Mutex

	mu       sync.Mutex
	client   *modbus.Client
	resource string
}

func newSession(kind Kind, cfg *Config) session {
	log := cfg.GetLogger().With("device", kind.String())

	return session{
		kind:   kind,
		cfg:    cfg,
		logger: log,
		states: NewStateMgr(kind, log),
	}
}

// Kind returns the session's device kind.
func (s *session) Kind() Kind { return s.kind }

// States returns the session's connection state manager. The supervisor
// registers state-change handlers and drives the Degraded/Recovering
// transitions through it.
func (s *session) States() *StateMgr { return s.states }

// State returns the current connection state.
func (s *session) State() State { return s.states.State() }

// IsConnected reports whether the session holds an open handle. It is a
// pure state read and never touches hardware. A session with no handle is
// closed regardless of prior state.
func (s *session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// LastError returns the session's ErrorSlot value: the error recorded by
// the most recent safe-call attempt, or nil.
func (s *session) LastError() *Error {
	return s.slot.Last()
}

// Resource returns the serial resource name the session is bound to, or ""
// when it has never connected.
func (s *session) Resource() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resource
}

// Connect opens the session's handle on the given serial resource.
//
// Calling Connect on an already-connected session is a no-op success: no
// hardware re-initialization happens. On failure the session remains
// Disconnected and no handle is retained.
func (s *session) Connect(resource string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.IsConnected() {
		s.logger.Debug("connect: already connected", "resource", s.Resource())
		return nil
	}

	if err := s.states.ToConnecting(); err != nil {
		return err
	}

	err := s.safeCall("connect", CodeConnectionFailed, func(_ *modbus.Client) error {
		port, err := s.cfg.opener(resource, s.cfg.portSettings())
		if err != nil {
			return err
		}

		s.setClient(modbus.NewClient(port, s.cfg.UnitID(), s.cfg.Timeout(), s.logger), resource)

		return nil
	}, withInitCheckSkipped())
	if err != nil {
		s.states.ToDisconnected()
		return err
	}

	if err := s.states.ToConnected(); err != nil {
		return err
	}

	s.logger.Info("connected", "resource", resource)

	return nil
}

// Disconnect releases the session's handle if present and transitions to
// Disconnected. It is idempotent: disconnecting an already-closed session
// returns nil.
func (s *session) Disconnect() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	defer s.states.ToDisconnected()

	client := s.takeClient()
	if client == nil {
		return nil
	}

	s.slot.Clear()
	if err := client.Close(); err != nil {
		devErr := newError(s.kind, CodeShutdownFailed, "disconnect", err)
		s.slot.Set(devErr)
		return devErr
	}

	s.logger.Info("disconnected")

	return nil
}

// ForceDisconnect releases the handle without error bookkeeping. It is used
// when the physical resource has vanished and the handle is already dead;
// the close failure, if any, is logged and discarded.
func (s *session) ForceDisconnect() {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.closeClientQuiet("force disconnect")
	s.states.ToDisconnected()
}

// --- client field helpers; mu is never held across hardware I/O ---

func (s *session) getClient() *modbus.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *session) setClient(client *modbus.Client, resource string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.resource = resource
}

// takeClient detaches and returns the current client, leaving the session
// handle-less. Returns nil if no handle is held.
func (s *session) takeClient() *modbus.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	client := s.client
	s.client = nil
	return client
}

// closeClientQuiet releases the handle, if any, swallowing and logging a
// secondary close failure so it never masks a primary one.
func (s *session) closeClientQuiet(op string) {
	client := s.takeClient()
	if client == nil {
		return
	}

	if err := client.Close(); err != nil {
		s.logger.Warn("handle release failed", "op", op, "error", err)
	}
}
