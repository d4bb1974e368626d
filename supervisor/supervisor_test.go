package supervisor_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plasmalab/gasflow/device"
	"github.com/plasmalab/gasflow/discovery"
	"github.com/plasmalab/gasflow/modbus"
	"github.com/plasmalab/gasflow/modbus/modbustest"
	"github.com/plasmalab/gasflow/supervisor"
)

// testTimeout keeps failure-path polls fast.
const testTimeout = 20 * time.Millisecond

const (
	relayPort     = "P1"
	regulatorPort = "P2"
)

type fakeLister struct {
	mu    sync.Mutex
	ports []string
	err   error
}

func (f *fakeLister) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]string(nil), f.ports...), nil
}

func (f *fakeLister) set(ports ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports = ports
}

// rig wires a supervisor over two simulated instruments and a scriptable
// resource lister.
type rig struct {
	relaySim *modbustest.Simulator
	regSim   *modbustest.Simulator
	lister   *fakeLister
	sup      *supervisor.Supervisor
	events   <-chan supervisor.Event
}

func newRig(t *testing.T) *rig {
	t.Helper()

	r := &rig{
		relaySim: modbustest.NewSimulator(device.DefaultRelayUnitID),
		regSim:   modbustest.NewSimulator(device.DefaultRegulatorUnitID),
		lister:   &fakeLister{ports: []string{relayPort, regulatorPort}},
	}

	relayCfg, err := device.NewRelayConfig(
		device.WithTimeout(testTimeout),
		device.WithPortOpener(simOpener(r.relaySim)),
	)
	require.NoError(t, err)
	relay, err := device.NewRelaySession(relayCfg)
	require.NoError(t, err)

	regCfg, err := device.NewRegulatorConfig(
		device.WithTimeout(testTimeout),
		device.WithPortOpener(simOpener(r.regSim)),
	)
	require.NoError(t, err)
	regulator, err := device.NewRegulatorSession(regCfg)
	require.NoError(t, err)

	r.sup, err = supervisor.New(relay, regulator, supervisor.WithLister(r.lister))
	require.NoError(t, err)

	_, r.events = r.sup.Bus().Subscribe(128)

	return r
}

func simOpener(sim *modbustest.Simulator) device.PortOpener {
	return func(string, modbus.PortSettings) (modbus.Port, error) {
		sim.Reopen()
		return sim, nil
	}
}

// startUp classifies the default assignment and asserts both resources are
// available.
func (r *rig) startUp(t *testing.T) {
	t.Helper()

	res, err := r.sup.Startup(discovery.Assignment{Relay: relayPort, Regulator: regulatorPort})
	require.NoError(t, err)
	require.Equal(t, discovery.BothAvailable, res.Classification)
	require.True(t, r.sup.CommandsEnabled())
}

func (r *rig) powerOn(t *testing.T) {
	t.Helper()
	r.startUp(t)
	require.NoError(t, r.sup.PowerOn())
}

// drain returns the events published so far. All supervisor calls in these
// tests are synchronous, so no waiting is needed.
func (r *rig) drain() []supervisor.Event {
	var out []supervisor.Event
	for {
		select {
		case ev := <-r.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventsOfType(events []supervisor.Event, eventType supervisor.EventType) []supervisor.Event {
	var out []supervisor.Event
	for _, ev := range events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func TestStartupClassification(t *testing.T) {
	r := newRig(t)

	res, err := r.sup.Startup(discovery.Assignment{Relay: relayPort, Regulator: regulatorPort})
	require.NoError(t, err)
	assert.Equal(t, discovery.BothAvailable, res.Classification)
	assert.True(t, r.sup.CommandsEnabled())

	classified := eventsOfType(r.drain(), supervisor.EventClassified)
	require.Len(t, classified, 1)
	assert.Equal(t, discovery.BothAvailable, classified[0].Result.Classification)
	assert.NotZero(t, classified[0].ID)
	assert.False(t, classified[0].Time.IsZero())
}

func TestStartupNoneAvailableDisablesCommands(t *testing.T) {
	r := newRig(t)
	r.lister.set("P9")

	res, err := r.sup.Startup(discovery.Assignment{Relay: relayPort, Regulator: regulatorPort})
	require.NoError(t, err)
	assert.Equal(t, discovery.NoneAvailable, res.Classification)
	assert.False(t, r.sup.CommandsEnabled())

	assert.ErrorIs(t, r.sup.PowerOn(), supervisor.ErrCommandsDisabled)
	_, err = r.sup.SetFlow("1.0")
	assert.ErrorIs(t, err, supervisor.ErrCommandsDisabled)
	assert.ErrorIs(t, r.sup.SetGas(1), supervisor.ErrCommandsDisabled)

	// Plugging the instruments back in and rescanning re-enables commands.
	r.lister.set(relayPort, regulatorPort)
	res, err = r.sup.Rescan()
	require.NoError(t, err)
	assert.Equal(t, discovery.BothAvailable, res.Classification)
	assert.True(t, r.sup.CommandsEnabled())
}

func TestStartupEnumerationFailure(t *testing.T) {
	r := newRig(t)
	listErr := errors.New("enumeration failed")
	r.lister.err = listErr

	_, err := r.sup.Startup(discovery.Assignment{Relay: relayPort})
	require.ErrorIs(t, err, listErr)
	assert.False(t, r.sup.CommandsEnabled())

	classified := eventsOfType(r.drain(), supervisor.EventClassified)
	require.Len(t, classified, 1)
	assert.Equal(t, device.CodeResourceUnavailable, classified[0].Code)
	assert.ErrorIs(t, classified[0].Err, listErr)
}

func TestPowerOnEnergizesRelayAndConnectsRegulator(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)

	assert.Equal(t, uint16(1), r.relaySim.Register(device.RelayPowerRegister))
	assert.True(t, r.sup.Relay().IsConnected())
	assert.True(t, r.sup.Regulator().IsConnected())

	outcomes := eventsOfType(r.drain(), supervisor.EventPowerOn)
	require.Len(t, outcomes, 2)
	for _, ev := range outcomes {
		assert.NoError(t, ev.Err)
	}
}

func TestPowerOnSharedResourceRejected(t *testing.T) {
	r := newRig(t)
	r.lister.set(relayPort)

	res, err := r.sup.Startup(discovery.Assignment{Relay: relayPort, Regulator: relayPort})
	require.NoError(t, err)
	require.Equal(t, discovery.BothAvailable, res.Classification)
	require.True(t, res.Shared)

	err = r.sup.PowerOn()
	require.ErrorIs(t, err, supervisor.ErrSharedResource)

	// Rejected before any handle was opened.
	assert.False(t, r.sup.Relay().IsConnected())
	assert.False(t, r.sup.Regulator().IsConnected())
	assert.Zero(t, r.relaySim.Writes())

	outcomes := eventsOfType(r.drain(), supervisor.EventPowerOn)
	require.Len(t, outcomes, 1)
	assert.Equal(t, device.CodeSharedResourceConflict, outcomes[0].Code)
}

func TestPowerOnAttemptsDevicesIndependently(t *testing.T) {
	r := newRig(t)

	// Relay handle cannot be opened; the regulator attempt must still run.
	openErr := errors.New("open failed")
	relayCfg, err := device.NewRelayConfig(
		device.WithPortOpener(func(string, modbus.PortSettings) (modbus.Port, error) {
			return nil, openErr
		}),
	)
	require.NoError(t, err)
	relay, err := device.NewRelaySession(relayCfg)
	require.NoError(t, err)

	regCfg, err := device.NewRegulatorConfig(
		device.WithTimeout(testTimeout),
		device.WithPortOpener(simOpener(r.regSim)),
	)
	require.NoError(t, err)
	regulator, err := device.NewRegulatorSession(regCfg)
	require.NoError(t, err)

	sup, err := supervisor.New(relay, regulator, supervisor.WithLister(r.lister))
	require.NoError(t, err)

	_, err = sup.Startup(discovery.Assignment{Relay: relayPort, Regulator: regulatorPort})
	require.NoError(t, err)

	err = sup.PowerOn()
	require.Error(t, err)
	assert.Equal(t, device.CodeConnectionFailed, device.CodeOf(err))

	assert.False(t, relay.IsConnected())
	assert.True(t, regulator.IsConnected())
}

func TestPowerOffReleasesRegulatorThenRelay(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)
	r.drain()

	require.NoError(t, r.sup.PowerOff())

	assert.False(t, r.sup.Regulator().IsConnected())
	assert.False(t, r.sup.Relay().IsConnected())
	assert.Equal(t, uint16(0), r.relaySim.Register(device.RelayPowerRegister))

	events := r.drain()
	offs := eventsOfType(events, supervisor.EventPowerOff)
	require.Len(t, offs, 2)
	assert.Equal(t, device.KindRegulator.String(), offs[0].Device)
	assert.Equal(t, device.KindRelay.String(), offs[1].Device)

	// Powering off again is a no-op with nothing published.
	require.NoError(t, r.sup.PowerOff())
	assert.Empty(t, eventsOfType(r.drain(), supervisor.EventPowerOff))
}

func TestPollSamplesFlow(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)

	// 2.5 SCCM fixed point.
	r.regSim.SetRegister(device.RegulatorFlowHighRegister, 0)
	r.regSim.SetRegister(device.RegulatorFlowLowRegister, 2500)

	r.sup.Poll()
	r.sup.Poll()

	samples := r.sup.Samples()
	require.Len(t, samples, 2)
	assert.InDelta(t, 2.5, samples[0].Flow, 1e-9)

	last, ok := r.sup.LastSample()
	require.True(t, ok)
	assert.InDelta(t, 2.5, last.Flow, 1e-9)

	assert.Equal(t, int64(2), r.sup.Metrics().Polls())
	assert.Equal(t, int64(2), r.sup.Metrics().Samples())
	assert.Len(t, eventsOfType(r.drain(), supervisor.EventFlowSample), 2)

	// Retained measurements are cleared only on explicit request.
	r.sup.ClearSamples()
	assert.Empty(t, r.sup.Samples())
}

func TestPollPhysicalDisconnect(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)
	r.drain()

	// The relay's resource vanishes from the host; its handle is dead.
	r.lister.set(regulatorPort)
	r.sup.Poll()

	assert.False(t, r.sup.Relay().IsConnected())
	assert.Equal(t, device.Disconnected, r.sup.Relay().State())
	// Force teardown records no operation failure.
	assert.Nil(t, r.sup.Relay().LastError())

	// The regulator keeps sampling undisturbed.
	assert.True(t, r.sup.Regulator().IsConnected())
	assert.Equal(t, int64(1), r.sup.Metrics().Samples())

	removed := eventsOfType(r.drain(), supervisor.EventDeviceRemoved)
	require.Len(t, removed, 1)
	assert.Equal(t, device.KindRelay.String(), removed[0].Device)
	assert.Equal(t, device.CodeResourceUnavailable, removed[0].Code)
	assert.Equal(t, int64(1), r.sup.Metrics().Removals())
}

func TestPollCommLossAndHeal(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)
	r.drain()

	// Resource still enumerable, device mute: communication loss, the
	// handle is retained and the session degrades.
	r.regSim.SetSilent(true)
	r.sup.Poll()

	assert.True(t, r.sup.Regulator().IsConnected())
	assert.Equal(t, device.Degraded, r.sup.Regulator().State())

	lost := eventsOfType(r.drain(), supervisor.EventCommLost)
	require.Len(t, lost, 1)
	assert.Equal(t, device.CodeReadFailed, lost[0].Code)
	assert.Equal(t, int64(1), r.sup.Metrics().CommLosses())

	// The device answers again: the next poll heals the session.
	r.regSim.SetSilent(false)
	r.sup.Poll()

	assert.Equal(t, device.Connected, r.sup.Regulator().State())
	events := r.drain()
	assert.Len(t, eventsOfType(events, supervisor.EventRecovered), 1)
	assert.Len(t, eventsOfType(events, supervisor.EventFlowSample), 1)
}

func TestPollStallProbeSucceeds(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)
	r.drain()

	// Three consecutive readless polls cross the threshold; the recovery
	// probe is the fourth read and succeeds.
	r.regSim.FailNextReads(3)
	r.sup.Poll()
	r.sup.Poll()
	r.sup.Poll()

	assert.True(t, r.sup.Regulator().IsConnected())
	assert.Equal(t, device.Connected, r.sup.Regulator().State())

	events := r.drain()
	require.Len(t, eventsOfType(events, supervisor.EventStallWarning), 1)
	require.Len(t, eventsOfType(events, supervisor.EventRecovered), 1)
	assert.Empty(t, eventsOfType(events, supervisor.EventRecoveryFailed))

	assert.Equal(t, int64(1), r.sup.Metrics().StallProbes())
	assert.Equal(t, int64(1), r.sup.Metrics().Recoveries())
	assert.Equal(t, int64(1), r.sup.Metrics().Samples())
}

func TestPollStallProbeFailureIsFatal(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)
	r.drain()

	// The device never answers: threshold crossed on the third poll, the
	// single probe fails, and the session is released.
	r.regSim.SetSilent(true)
	r.sup.Poll()
	r.sup.Poll()
	r.sup.Poll()

	assert.False(t, r.sup.Regulator().IsConnected())
	assert.Equal(t, device.Disconnected, r.sup.Regulator().State())

	events := r.drain()
	require.Len(t, eventsOfType(events, supervisor.EventStallWarning), 1)
	failed := eventsOfType(events, supervisor.EventRecoveryFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, device.CodeAcquisitionStalled, failed[0].Code)

	assert.Equal(t, int64(1), r.sup.Metrics().StallProbes())
	assert.Equal(t, int64(1), r.sup.Metrics().RecoveryFailures())

	// Exactly one probe per stall episode: further polls on the released
	// session are no-ops.
	r.sup.Poll()
	assert.Equal(t, int64(1), r.sup.Metrics().StallProbes())
}

func TestSetFlowOutcomes(t *testing.T) {
	r := newRig(t)
	r.startUp(t)

	// Not connected: warning outcome, no hardware access.
	_, err := r.sup.SetFlow("1.0")
	require.ErrorIs(t, err, supervisor.ErrNotConnected)
	rejected := eventsOfType(r.drain(), supervisor.EventSetpoint)
	require.Len(t, rejected, 1)
	assert.Equal(t, device.CodeDeviceNotInitialized, rejected[0].Code)

	require.NoError(t, r.sup.PowerOn())
	r.drain()

	// Validation failure.
	_, err = r.sup.SetFlow("fast")
	require.Error(t, err)
	assert.Equal(t, device.CodeValidationMalformed, device.CodeOf(err))
	assert.Equal(t, int64(1), r.sup.Metrics().SetpointRejects())

	// Accepted setpoint.
	target, err := r.sup.SetFlow("2.5")
	require.NoError(t, err)
	assert.InDelta(t, 2.5, target, 1e-9)
	assert.Equal(t, int64(1), r.sup.Metrics().Setpoints())

	events := eventsOfType(r.drain(), supervisor.EventSetpoint)
	require.Len(t, events, 2)
	assert.Equal(t, device.CodeValidationMalformed, events[0].Code)
	assert.InDelta(t, 2.5, events[1].Flow, 1e-9)
	assert.NoError(t, events[1].Err)
}

func TestSetGasOutcomes(t *testing.T) {
	r := newRig(t)
	r.startUp(t)

	require.ErrorIs(t, r.sup.SetGas(7), supervisor.ErrNotConnected)

	require.NoError(t, r.sup.PowerOn())
	require.NoError(t, r.sup.SetGas(7))
	assert.Equal(t, uint16(7), r.regSim.Register(device.RegulatorGasRegister))

	selected := eventsOfType(r.drain(), supervisor.EventGasSelected)
	require.Len(t, selected, 2)
	assert.Equal(t, device.CodeDeviceNotInitialized, selected[0].Code)
	assert.Equal(t, uint16(7), selected[1].Gas)
}

func TestStateChangeEventsRepublished(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)

	changes := eventsOfType(r.drain(), supervisor.EventStateChanged)

	var relayStates []device.State
	for _, ev := range changes {
		if ev.Device == device.KindRelay.String() {
			relayStates = append(relayStates, ev.State)
		}
	}
	assert.Equal(t, []device.State{device.Connecting, device.Connected}, relayStates)
}

func TestShutdownDeclined(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)

	report, done := r.sup.RequestShutdown(func() bool { return false })
	assert.False(t, done)
	assert.Nil(t, report)

	// Declining leaves the engine running.
	assert.True(t, r.sup.Relay().IsConnected())
	assert.True(t, r.sup.Regulator().IsConnected())
	assert.True(t, r.sup.CommandsEnabled())
}

func TestShutdownReleasesBothDevices(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)
	r.drain()

	report, done := r.sup.RequestShutdown(nil)
	require.True(t, done)
	require.NotNil(t, report)
	assert.False(t, report.Failed())

	assert.False(t, r.sup.Regulator().IsConnected())
	assert.False(t, r.sup.Relay().IsConnected())
	assert.Equal(t, uint16(0), r.relaySim.Register(device.RelayPowerRegister))
	assert.False(t, r.sup.CommandsEnabled())

	events := eventsOfType(r.drain(), supervisor.EventShutdown)
	require.Len(t, events, 1)
	assert.Same(t, report, events[0].Report)
}

func TestShutdownCollectsPartialFailures(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)

	// Regulator teardown fails; the relay must still be de-energized and
	// released, and the failure lands in the report rather than aborting.
	closeErr := errors.New("release failed")
	r.regSim.FailClose(closeErr)

	report, done := r.sup.RequestShutdown(func() bool { return true })
	require.True(t, done)
	require.True(t, report.Failed())

	require.Error(t, report.Regulator)
	assert.Equal(t, device.CodeShutdownFailed, device.CodeOf(report.Regulator))
	assert.ErrorIs(t, report.Regulator, closeErr)

	assert.NoError(t, report.Relay)
	assert.Empty(t, report.Unclassified)
	assert.False(t, r.sup.Relay().IsConnected())
	assert.Equal(t, uint16(0), r.relaySim.Register(device.RelayPowerRegister))
}

func TestRunPollsOnInterval(t *testing.T) {
	r := newRig(t)
	r.powerOn(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, r.sup.Run(ctx))
	assert.ErrorIs(t, r.sup.Run(ctx), supervisor.ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		return r.sup.Metrics().Polls() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	r.sup.Close()

	// Close stops polling and closes the bus.
	_, open := <-r.events
	for open {
		_, open = <-r.events
	}
}
