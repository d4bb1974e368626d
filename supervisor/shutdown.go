package supervisor

import (
	"fmt"

	"github.com/plasmalab/gasflow/device"
)

// Report collects the shutdown sequence's failures per device. Failures are
// reported, never re-raised: shutdown always runs to completion and the
// process exit is never blocked.
type Report struct {
	Regulator error
	Relay     error

	// Unclassified holds failures not attributable to either device, such
	// as a panicking teardown step.
	Unclassified []error
}

// Failed reports whether any teardown step failed.
func (r *Report) Failed() bool {
	return r.Regulator != nil || r.Relay != nil || len(r.Unclassified) > 0
}

// ConfirmFunc gates the shutdown sequence. Returning false cancels the
// request and leaves the engine running.
type ConfirmFunc func() bool

// RequestShutdown runs the confirm-gated shutdown sequence: stop the fault
// monitor, release the regulator, de-energize and release the relay. The
// boolean result reports whether shutdown proceeded; a declined confirmation
// returns (nil, false) with the engine untouched.
//
// Each step runs regardless of earlier failures, which are collected into
// the returned Report and published on the bus.
func (s *Supervisor) RequestShutdown(confirm ConfirmFunc) (*Report, bool) {
	if confirm != nil && !confirm() {
		s.logger.Info("shutdown declined")
		return nil, false
	}

	s.logger.Info("shutdown confirmed")
	s.stopPolling()

	report := &Report{}

	s.runStep("regulator teardown", report, func() {
		if !s.regulator.IsConnected() {
			return
		}
		if err := s.regulator.Disconnect(); err != nil {
			report.Regulator = err
		}
	})

	s.runStep("relay teardown", report, func() {
		if !s.relay.IsConnected() {
			return
		}
		err := s.relay.TurnOff()
		if derr := s.relay.Disconnect(); err == nil {
			err = derr
		}
		report.Relay = err
	})

	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()

	if report.Failed() {
		s.logger.Warn("shutdown completed with failures",
			"regulator", report.Regulator,
			"relay", report.Relay,
			"unclassified", len(report.Unclassified),
		)
	} else {
		s.logger.Info("shutdown completed")
	}
	s.bus.Publish(Event{Type: EventShutdown, Code: device.CodeOf(report.Regulator), Report: report})

	return report, true
}

// runStep runs one teardown step, capturing a panic into the unclassified
// bucket so the remaining steps still run.
func (s *Supervisor) runStep(name string, report *Report, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("teardown step panicked", "step", name, "panic", r)
			report.Unclassified = append(report.Unclassified, fmt.Errorf("supervisor: %s: panic: %v", name, r))
		}
	}()

	fn()
}
