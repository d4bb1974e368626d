package supervisor

import "errors"

// ErrCommandsDisabled is returned when a runtime command arrives while no
// assigned resource is available.
var ErrCommandsDisabled = errors.New("supervisor: no assigned resource available, commands disabled")

// ErrNotConnected is returned when a command targets a device session that
// holds no open handle.
var ErrNotConnected = errors.New("supervisor: device not connected")

// ErrSharedResource is returned when power-on finds both instruments
// assigned to the same serial resource.
var ErrSharedResource = errors.New("supervisor: relay and regulator assigned the same serial resource")

// ErrAlreadyRunning is returned when Run is called while the poll loop is
// active.
var ErrAlreadyRunning = errors.New("supervisor: already running")
