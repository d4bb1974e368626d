package device

import "sync/atomic"

// ErrorSlot holds the most recent operation error for one device kind.
//
// The slot is overwritten, never accumulated: the safe-call boundary clears
// it at the start of every attempt and sets it only on failure of that
// attempt. Each session owns its own slot, so failures on one device kind
// can never bleed into the other's.
type ErrorSlot struct {
	v atomic.Pointer[Error]
}

// Clear resets the slot to "no error".
func (s *ErrorSlot) Clear() {
	s.v.Store(nil)
}

// Set overwrites the slot with err.
func (s *ErrorSlot) Set(err *Error) {
	s.v.Store(err)
}

// Last returns the error recorded by the most recent attempt, or nil.
func (s *ErrorSlot) Last() *Error {
	return s.v.Load()
}
