package device

import (
	"github.com/plasmalab/gasflow/modbus"
)

// callPolicy controls the safe-call boundary's behavior for one operation.
type callPolicy struct {
	// skipInitCheck disables the open-handle precondition. Used by the
	// connect path, which legitimately runs without a handle.
	skipInitCheck bool

	// keepHandle disables auto-close on failure. Used by operations that
	// must preserve the handle after a soft failure, such as the
	// stall-recovery probe.
	keepHandle bool
}

// CallOption adjusts the safe-call policy for one operation.
type CallOption func(*callPolicy)

func withInitCheckSkipped() CallOption {
	return func(p *callPolicy) { p.skipInitCheck = true }
}

func withHandleKept() CallOption {
	return func(p *callPolicy) { p.keepHandle = true }
}

// safeCall is the boundary every hardware-bound operation passes through.
//
// In order: unless the policy skips it, verify the session holds an open
// handle, failing fast with CodeDeviceNotInitialized without touching
// hardware; clear this device's ErrorSlot; invoke fn. On success the
// result passes through unchanged. On failure the handle is released to
// avoid leaking the resource (unless the policy keeps it; a failure during
// the release itself is logged and swallowed), the ErrorSlot is set to a
// normalized *Error with the given failure code, and that error is the
// returned outcome. The raw failure never escapes uncaught: it is wrapped
// as the *Error's cause.
//
// The boundary holds no lock across fn and touches no state outside the
// session it belongs to, so an operation may safely re-enter it on the
// same session.
func (s *session) safeCall(op string, failCode Code, fn func(client *modbus.Client) error, opts ...CallOption) error {
	var policy callPolicy
	for _, opt := range opts {
		opt(&policy)
	}

	client := s.getClient()

	if !policy.skipInitCheck && client == nil {
		devErr := newError(s.kind, CodeDeviceNotInitialized, op, nil)
		s.slot.Set(devErr)
		s.logger.Warn("operation on uninitialized device", "op", op)

		return devErr
	}

	s.slot.Clear()

	err := fn(client)
	if err == nil {
		return nil
	}

	if !policy.keepHandle {
		s.closeClientQuiet(op)
	}

	devErr := newError(s.kind, failCode, op, err)
	s.slot.Set(devErr)
	s.logger.Error("operation failed", "op", op, "code", failCode.String(), "error", err)

	return devErr
}
