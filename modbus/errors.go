package modbus

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates that no (or an incomplete) response arrived
	// within the per-operation timeout.
	ErrTimeout = errors.New("modbus: response timeout")

	// ErrCRCMismatch indicates that a received ADU failed CRC validation.
	ErrCRCMismatch = errors.New("modbus: CRC mismatch")

	// ErrShortFrame indicates that an ADU is too short to be valid.
	ErrShortFrame = errors.New("modbus: frame too short")

	// ErrUnitMismatch indicates that a response carries an unexpected unit ID.
	ErrUnitMismatch = errors.New("modbus: unit ID mismatch")

	// ErrFunctionMismatch indicates that a response echoes a different
	// function code than the request.
	ErrFunctionMismatch = errors.New("modbus: function code mismatch")

	// ErrEchoMismatch indicates that a write response does not echo the
	// written address/value.
	ErrEchoMismatch = errors.New("modbus: write echo mismatch")

	// ErrInvalidFunction indicates an unsupported function code.
	ErrInvalidFunction = errors.New("modbus: unsupported function code")

	// ErrInvalidCount indicates an out-of-range register count.
	ErrInvalidCount = errors.New("modbus: invalid register count")

	// ErrPortClosed indicates that the client has been closed.
	ErrPortClosed = errors.New("modbus: port closed")
)

// Modbus exception codes (spec §7, MODBUS Application Protocol V1.1b3).
const (
	ExceptionIllegalFunction    byte = 0x01
	ExceptionIllegalDataAddress byte = 0x02
	ExceptionIllegalDataValue   byte = 0x03
	ExceptionServerFailure      byte = 0x04
)

// ExceptionError represents an exception response returned by an instrument.
type ExceptionError struct {
	Function byte // original function code, without the exception flag
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception 0x%02X for function 0x%02X", e.Code, e.Function)
}
