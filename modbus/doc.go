// Package modbus implements the Modbus RTU register protocol used by the
// gasflow instruments.
//
// It provides ADU encoding/decoding for the two function codes the
// instruments speak (read holding registers, write single register), a
// CRC-16/Modbus implementation, a Port abstraction over the physical serial
// line, and a Client that performs one bounded request/response transaction
// at a time.
//
// The protocol is strictly half-duplex request/response: the Client owns the
// line for the duration of a transaction and serializes all callers. A
// timeout is reported as an ordinary error (ErrTimeout); no transaction is
// cancellable mid-flight.
package modbus
