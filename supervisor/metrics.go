package supervisor

import "sync/atomic"

// Metrics tracks supervisor activity counters. All counters are monotonic
// and safe for concurrent access.
type Metrics struct {
	polls            atomic.Int64
	samples          atomic.Int64
	commLosses       atomic.Int64
	removals         atomic.Int64
	stallProbes      atomic.Int64
	recoveries       atomic.Int64
	recoveryFailures atomic.Int64
	setpoints        atomic.Int64
	setpointRejects  atomic.Int64
}

// Polls returns the number of completed poll cycles.
func (m *Metrics) Polls() int64 { return m.polls.Load() }

// Samples returns the number of flow measurements appended to the window.
func (m *Metrics) Samples() int64 { return m.samples.Load() }

// CommLosses returns the number of poll cycles classified as communication
// loss.
func (m *Metrics) CommLosses() int64 { return m.commLosses.Load() }

// Removals returns the number of physical disconnections detected.
func (m *Metrics) Removals() int64 { return m.removals.Load() }

// StallProbes returns the number of recovery probes issued.
func (m *Metrics) StallProbes() int64 { return m.stallProbes.Load() }

// Recoveries returns the number of recovery probes that succeeded.
func (m *Metrics) Recoveries() int64 { return m.recoveries.Load() }

// RecoveryFailures returns the number of recovery probes that failed.
func (m *Metrics) RecoveryFailures() int64 { return m.recoveryFailures.Load() }

// Setpoints returns the number of setpoint commands accepted by the
// regulator.
func (m *Metrics) Setpoints() int64 { return m.setpoints.Load() }

// SetpointRejects returns the number of setpoint commands rejected by input
// validation.
func (m *Metrics) SetpointRejects() int64 { return m.setpointRejects.Load() }
