// Package discovery enumerates the host's serial resources and classifies
// a saved instrument assignment into one of four startup conditions.
//
// Classification only reads the visible resource list; it never opens a
// handle and has no other side effects.
package discovery

import (
	"fmt"
	"slices"

	"go.bug.st/serial"
)

// Lister enumerates the serial resources currently visible on the host.
type Lister interface {
	List() ([]string, error)
}

// SerialLister enumerates real serial ports.
type SerialLister struct{}

var _ Lister = SerialLister{}

// List returns the serial port names visible on the host.
func (SerialLister) List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("discovery: list serial ports: %w", err)
	}

	return ports, nil
}

// Assignment maps each instrument to a saved serial resource name. An empty
// string means no resource is assigned for that instrument.
type Assignment struct {
	Relay     string
	Regulator string
}

// Shared reports whether both instruments are assigned the same non-empty
// resource. Identical assignments are a conflict, never silently resolved.
func (a Assignment) Shared() bool {
	return a.Relay != "" && a.Relay == a.Regulator
}

// Classification is the startup condition derived from the visible
// resources and the saved assignment.
type Classification uint8

const (
	// NoneAvailable means no visible resource matches either saved
	// assignment, or the host exposes zero resources. Fatal for this run.
	NoneAvailable Classification = iota
	// BothAvailable means both saved resources are present.
	BothAvailable
	// RelayUnavailable means the regulator's resource is present but the
	// relay's is absent or unreachable.
	RelayUnavailable
	// RegulatorUnavailable means the relay's resource is present but the
	// regulator's is absent or unreachable.
	RegulatorUnavailable
)

// String returns the string representation of the classification.
func (c Classification) String() string {
	switch c {
	case NoneAvailable:
		return "none-available"
	case BothAvailable:
		return "both-available"
	case RelayUnavailable:
		return "relay-unavailable"
	case RegulatorUnavailable:
		return "regulator-unavailable"
	default:
		return "unknown"
	}
}

// Result is the outcome of a startup classification.
type Result struct {
	Classification Classification

	// Ambiguous warns that the host exposes exactly one resource while one
	// instrument's saved resource is missing; the user must disambiguate
	// before connecting.
	Ambiguous bool

	// Shared warns that both instruments name the same present resource.
	// Connecting is rejected later with a shared-resource conflict.
	Shared bool

	// Available is the visible resource list the classification was made
	// against.
	Available []string
}

// Scan lists the host's resources through lister and classifies saved
// against them.
func Scan(lister Lister, saved Assignment) (Result, error) {
	ports, err := lister.List()
	if err != nil {
		return Result{}, err
	}

	return Classify(ports, saved), nil
}

// Classify derives the startup condition for saved given the visible
// resource list.
func Classify(ports []string, saved Assignment) Result {
	res := Result{Available: ports}

	relayPresent := saved.Relay != "" && slices.Contains(ports, saved.Relay)
	regulatorPresent := saved.Regulator != "" && slices.Contains(ports, saved.Regulator)

	switch {
	case relayPresent && regulatorPresent:
		res.Classification = BothAvailable
		res.Shared = saved.Shared()
	case regulatorPresent:
		res.Classification = RelayUnavailable
	case relayPresent:
		res.Classification = RegulatorUnavailable
	default:
		res.Classification = NoneAvailable
	}

	// A single visible resource with a device missing cannot be attributed
	// to either instrument without user input.
	if len(ports) == 1 && res.Classification != BothAvailable && res.Classification != NoneAvailable {
		res.Ambiguous = true
	}

	return res
}
