package modbus

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the physical byte stream a Client talks over.
//
// SetReadTimeout bounds each Read call; a Read that returns 0 bytes with a
// nil error after the timeout elapsed signals line silence, which the Client
// reports as ErrTimeout. go.bug.st/serial ports satisfy this interface
// directly.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Parity of the serial line.
type Parity byte

const (
	ParityNone Parity = 'N'
	ParityEven Parity = 'E'
	ParityOdd  Parity = 'O'
)

// PortSettings holds the serial line parameters for one instrument.
type PortSettings struct {
	BaudRate int
	Parity   Parity
	DataBits int
	StopBits int
}

// OpenPort opens the named serial resource (e.g. "/dev/ttyUSB0" or "COM3")
// with the given line settings.
func OpenPort(resource string, settings PortSettings) (Port, error) {
	mode := &serial.Mode{
		BaudRate: settings.BaudRate,
		DataBits: settings.DataBits,
	}

	switch settings.Parity {
	case ParityNone:
		mode.Parity = serial.NoParity
	case ParityEven:
		mode.Parity = serial.EvenParity
	case ParityOdd:
		mode.Parity = serial.OddParity
	default:
		return nil, fmt.Errorf("modbus: invalid parity %q", settings.Parity)
	}

	switch settings.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("modbus: invalid stop bits %d", settings.StopBits)
	}

	port, err := serial.Open(resource, mode)
	if err != nil {
		return nil, fmt.Errorf("modbus: open %s: %w", resource, err)
	}

	return port, nil
}
