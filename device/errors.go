package device

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a connection state transition is not
// allowed from the current state.
var ErrInvalidTransition = errors.New("device: invalid state transition")

// Kind identifies one of the two managed instrument types.
type Kind uint8

const (
	// KindRelay is the power relay instrument.
	KindRelay Kind = iota
	// KindRegulator is the gas-flow regulator instrument.
	KindRegulator
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindRelay:
		return "relay"
	case KindRegulator:
		return "regulator"
	default:
		return "unknown"
	}
}

// Code classifies a fault in the engine's error taxonomy.
type Code uint8

const (
	// CodeNone means no fault.
	CodeNone Code = iota
	// CodeResourceUnavailable means the serial resource is absent from the host.
	CodeResourceUnavailable
	// CodeSharedResourceConflict means both instruments were assigned the
	// same serial resource.
	CodeSharedResourceConflict
	// CodeConnectionFailed means opening the instrument's handle failed.
	CodeConnectionFailed
	// CodeDeviceNotInitialized means an operation ran against a session
	// with no open handle.
	CodeDeviceNotInitialized
	// CodeCommunicationLost means the resource is present but operations
	// against it fail or time out.
	CodeCommunicationLost
	// CodeAcquisitionStalled means no fresh measurement arrived across the
	// stall threshold and the recovery probe failed.
	CodeAcquisitionStalled
	// CodeValidationEmpty means a setpoint request carried empty input text.
	CodeValidationEmpty
	// CodeValidationMalformed means a setpoint request carried
	// non-numeric input text.
	CodeValidationMalformed
	// CodeValidationOutOfRange means a setpoint value falls outside the
	// instrument's representable range.
	CodeValidationOutOfRange
	// CodeWriteFailed means a register write failed.
	CodeWriteFailed
	// CodeReadFailed means a register read failed.
	CodeReadFailed
	// CodeShutdownFailed means releasing a handle during teardown failed.
	CodeShutdownFailed
)

// String returns the string representation of the code.
func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeResourceUnavailable:
		return "resource-unavailable"
	case CodeSharedResourceConflict:
		return "shared-resource-conflict"
	case CodeConnectionFailed:
		return "connection-failed"
	case CodeDeviceNotInitialized:
		return "device-not-initialized"
	case CodeCommunicationLost:
		return "communication-lost"
	case CodeAcquisitionStalled:
		return "acquisition-stalled"
	case CodeValidationEmpty:
		return "validation-empty"
	case CodeValidationMalformed:
		return "validation-malformed"
	case CodeValidationOutOfRange:
		return "validation-out-of-range"
	case CodeWriteFailed:
		return "write-failed"
	case CodeReadFailed:
		return "read-failed"
	case CodeShutdownFailed:
		return "shutdown-failed"
	default:
		return "unknown"
	}
}

// IsValidation reports whether the code is one of the input-validation
// codes, which are raised before any hardware access and never populate an
// ErrorSlot.
func (c Code) IsValidation() bool {
	return c == CodeValidationEmpty || c == CodeValidationMalformed || c == CodeValidationOutOfRange
}

// Error is the normalized failure outcome returned by session operations.
type Error struct {
	Kind Kind
	Code Code
	Op   string
	// cause is the underlying failure, nil for pre-hardware failures such
	// as the initialized check and input validation.
	cause error
}

// NewError creates a taxonomy error for the given device and fault code.
// cause may be nil for pre-hardware failures.
func NewError(kind Kind, code Code, op string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Op: op, cause: cause}
}

func newError(kind Kind, code Code, op string, cause error) *Error {
	return NewError(kind, code, op, cause)
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("device: %s %s: %s", e.Kind, e.Op, e.Code)
	}
	return fmt.Sprintf("device: %s %s: %s: %v", e.Kind, e.Op, e.Code, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// CodeOf extracts the taxonomy code from err, or CodeNone when err is nil or
// not a device error.
func CodeOf(err error) Code {
	var devErr *Error
	if errors.As(err, &devErr) {
		return devErr.Code
	}
	return CodeNone
}
