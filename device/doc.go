// Package device implements the per-instrument session layer of the gasflow
// engine: the connection state machine, the per-device-kind last-error slot,
// the safe-call boundary that normalizes every hardware operation's error
// and cleanup behavior, and the two concrete sessions (power relay and
// gas-flow regulator).
//
// Each session owns at most one live Modbus client. All exported hardware
// operations on a session are serialized; operations against different
// sessions proceed independently. The safe-call boundary guarantees that a
// failed hardware operation releases the session's handle (unless the
// operation's policy preserves it), records a normalized error in the
// session's ErrorSlot, and never lets the raw failure escape uncaught.
package device
