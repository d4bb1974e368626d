// Package modbustest provides an in-memory instrument simulator for tests.
//
// Simulator implements modbus.Port by decoding request ADUs written to it
// and queuing the matching response for the next Read. Fault injection
// covers the failure modes the engine must recover from: line silence
// (timeouts), per-operation failures, and a fully dead device.
package modbustest

import (
	"io"
	"sync"
	"time"

	"github.com/plasmalab/gasflow/modbus"
)

// Simulator is a scriptable in-memory Modbus instrument.
type Simulator struct {
	mu      sync.Mutex
	unit    byte
	regs    map[uint16]uint16
	pending []byte
	closed  bool

	silent      bool
	failReads   int
	failWrites  int
	failWriteAt map[uint16]int
	exception   byte
	closeErr    error

	reads  int
	writes int

	onWrite func(addr, value uint16)
}

var _ modbus.Port = (*Simulator)(nil)

// NewSimulator creates a simulator answering for the given unit ID.
func NewSimulator(unit byte) *Simulator {
	return &Simulator{
		unit: unit,
		regs: make(map[uint16]uint16),
	}
}

// SetRegister sets a holding register value.
func (s *Simulator) SetRegister(addr, value uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[addr] = value
}

// Register returns the current value of a holding register.
func (s *Simulator) Register(addr uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[addr]
}

// SetSilent makes the device stop answering entirely (comm loss) when on is
// true. Requests are still consumed so the line stays consistent.
func (s *Simulator) SetSilent(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = on
}

// FailNextReads suppresses the response to the next n read requests.
func (s *Simulator) FailNextReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = n
}

// FailNextWrites suppresses the response to the next n write requests.
func (s *Simulator) FailNextWrites(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = n
}

// FailNextWritesTo suppresses the response to the next n write requests
// targeting the given register, leaving writes to other registers intact.
func (s *Simulator) FailNextWritesTo(addr uint16, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWriteAt == nil {
		s.failWriteAt = make(map[uint16]int)
	}
	s.failWriteAt[addr] = n
}

// ExceptionNext makes the simulator answer the next request with the given
// Modbus exception code.
func (s *Simulator) ExceptionNext(code byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exception = code
}

// OnWrite registers a hook invoked after each successful register write.
func (s *Simulator) OnWrite(fn func(addr, value uint16)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = fn
}

// Reads returns the number of read requests served (including failed ones).
func (s *Simulator) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Writes returns the number of write requests served (including failed ones).
func (s *Simulator) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// --- modbus.Port implementation ---

// Write consumes a request ADU and queues the response, if any.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}

	req, err := modbus.DecodeRequest(p)
	if err != nil {
		// Garbled request: a real instrument stays silent.
		return len(p), nil
	}
	if req.Unit != s.unit {
		return len(p), nil
	}

	if s.exception != 0 {
		code := s.exception
		s.exception = 0
		s.pending = modbus.BuildExceptionResponse(s.unit, req.Function, code)
		return len(p), nil
	}

	switch req.Function {
	case modbus.FuncReadHoldingRegisters:
		s.reads++
		if s.silent || s.takeFailure(&s.failReads) {
			return len(p), nil
		}
		values := make([]uint16, req.Count)
		for i := range values {
			values[i] = s.regs[req.Addr+uint16(i)]
		}
		s.pending = modbus.BuildReadResponse(s.unit, values)

	case modbus.FuncWriteSingleRegister:
		s.writes++
		if s.silent || s.takeFailure(&s.failWrites) {
			return len(p), nil
		}
		if n, ok := s.failWriteAt[req.Addr]; ok && n > 0 {
			s.failWriteAt[req.Addr] = n - 1
			return len(p), nil
		}
		s.regs[req.Addr] = req.Value
		if s.onWrite != nil {
			s.onWrite(req.Addr, req.Value)
		}
		s.pending = modbus.BuildWriteResponse(s.unit, req.Addr, req.Value)
	}

	return len(p), nil
}

// Read serves queued response bytes. With nothing pending it reports line
// silence the way a serial port with a read timeout does: zero bytes, nil
// error, after a short delay.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	if len(s.pending) == 0 {
		s.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()

	return n, nil
}

// FailClose makes the next Close return err. The simulator still ends up
// closed.
func (s *Simulator) FailClose(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeErr = err
}

// Close marks the simulator closed; subsequent I/O fails.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	err := s.closeErr
	s.closeErr = nil
	return err
}

// Closed reports whether Close has been called.
func (s *Simulator) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Reopen clears the closed flag so the same simulator can serve a
// reconnection in tests.
func (s *Simulator) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	s.pending = nil
}

// SetReadTimeout satisfies modbus.Port; the simulator's Read already
// behaves like a port with a short timeout configured.
func (s *Simulator) SetReadTimeout(time.Duration) error {
	return nil
}

func (s *Simulator) takeFailure(budget *int) bool {
	if *budget > 0 {
		*budget--
		return true
	}
	return false
}
