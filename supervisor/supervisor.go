package supervisor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/plasmalab/gasflow/device"
	"github.com/plasmalab/gasflow/discovery"
	"github.com/plasmalab/gasflow/internal/ring"
	"github.com/plasmalab/gasflow/internal/task"
	"github.com/plasmalab/gasflow/logger"
)

const (
	// DefaultPollInterval is the fault-monitor cadence.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultStallThreshold is the number of consecutive readless polls
	// tolerated before a recovery probe is issued.
	DefaultStallThreshold = 2
	// DefaultSampleWindow is the number of recent flow measurements kept.
	DefaultSampleWindow = 60
)

const pollTaskName = "fault-poll"

// MeasurementSample is one timestamped flow reading.
type MeasurementSample struct {
	At   time.Time
	Flow float64
}

// sessionRef is the view of a device session the poll loop needs.
type sessionRef interface {
	Kind() device.Kind
	Resource() string
	IsConnected() bool
	ForceDisconnect()
}

// Supervisor owns both device sessions and drives the engine's runtime
// phases. All exported methods are safe for concurrent use.
type Supervisor struct {
	relay     *device.RelaySession
	regulator *device.RegulatorSession
	lister    discovery.Lister
	logger    logger.Logger
	bus       *Bus
	samples   *ring.Buffer[MeasurementSample]
	metrics   Metrics

	pollInterval   time.Duration
	stallThreshold int
	sampleWindow   int

	mu          sync.Mutex
	tasks       *task.Manager
	assignment  discovery.Assignment
	enabled     bool
	stallStreak int
}

// Option configures a Supervisor.
type Option func(*Supervisor) error

// WithPollInterval sets the fault-monitor cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(s *Supervisor) error {
		if interval <= 0 {
			return fmt.Errorf("supervisor: invalid poll interval %v", interval)
		}
		s.pollInterval = interval
		return nil
	}
}

// WithStallThreshold sets the number of consecutive readless polls tolerated
// before a recovery probe.
func WithStallThreshold(threshold int) Option {
	return func(s *Supervisor) error {
		if threshold < 1 {
			return fmt.Errorf("supervisor: invalid stall threshold %d", threshold)
		}
		s.stallThreshold = threshold
		return nil
	}
}

// WithSampleWindow sets how many recent flow measurements are kept.
func WithSampleWindow(window int) Option {
	return func(s *Supervisor) error {
		if window < 1 {
			return fmt.Errorf("supervisor: invalid sample window %d", window)
		}
		s.sampleWindow = window
		return nil
	}
}

// WithLister overrides the serial resource lister.
func WithLister(lister discovery.Lister) Option {
	return func(s *Supervisor) error {
		if lister == nil {
			return errors.New("supervisor: nil lister")
		}
		s.lister = lister
		return nil
	}
}

// WithLogger overrides the supervisor's logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Supervisor) error {
		if log == nil {
			return errors.New("supervisor: nil logger")
		}
		s.logger = log
		return nil
	}
}

// New creates a Supervisor over the given sessions. State transitions on
// either session are republished on the supervisor's event bus.
func New(relay *device.RelaySession, regulator *device.RegulatorSession, opts ...Option) (*Supervisor, error) {
	if relay == nil || regulator == nil {
		return nil, errors.New("supervisor: nil device session")
	}

	s := &Supervisor{
		relay:          relay,
		regulator:      regulator,
		lister:         discovery.SerialLister{},
		logger:         logger.GetLogger(),
		pollInterval:   DefaultPollInterval,
		stallThreshold: DefaultStallThreshold,
		sampleWindow:   DefaultSampleWindow,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	s.bus = NewBus(s.logger)
	s.samples = ring.New[MeasurementSample](s.sampleWindow)

	relay.States().AddHandler(s.publishStateChange)
	regulator.States().AddHandler(s.publishStateChange)

	return s, nil
}

// Bus returns the supervisor's event bus.
func (s *Supervisor) Bus() *Bus { return s.bus }

// Metrics returns the supervisor's activity counters.
func (s *Supervisor) Metrics() *Metrics { return &s.metrics }

// Relay returns the managed relay session.
func (s *Supervisor) Relay() *device.RelaySession { return s.relay }

// Regulator returns the managed regulator session.
func (s *Supervisor) Regulator() *device.RegulatorSession { return s.regulator }

// Samples returns a copy of the retained flow measurements, oldest first.
func (s *Supervisor) Samples() []MeasurementSample { return s.samples.Snapshot() }

// LastSample returns the most recent flow measurement, if any.
func (s *Supervisor) LastSample() (MeasurementSample, bool) { return s.samples.Last() }

// ClearSamples discards the retained flow measurements. Clearing happens
// only on this explicit request, never implicitly.
func (s *Supervisor) ClearSamples() { s.samples.Clear() }

// Assignment returns the saved resource assignment from the last
// classification.
func (s *Supervisor) Assignment() discovery.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.assignment
}

// CommandsEnabled reports whether runtime commands are accepted. Commands
// are disabled until a classification finds at least one assigned resource
// available.
func (s *Supervisor) CommandsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Startup classifies the saved assignment against the host's visible serial
// resources and publishes the outcome. A none-available classification
// disables all runtime commands until a rescan improves it.
func (s *Supervisor) Startup(saved discovery.Assignment) (discovery.Result, error) {
	res, err := discovery.Scan(s.lister, saved)
	if err != nil {
		s.mu.Lock()
		s.assignment = saved
		s.enabled = false
		s.mu.Unlock()

		s.logger.Error("resource enumeration failed", "error", err)
		s.bus.Publish(Event{Type: EventClassified, Code: device.CodeResourceUnavailable, Err: err})

		return discovery.Result{}, err
	}

	s.mu.Lock()
	s.assignment = saved
	s.enabled = res.Classification != discovery.NoneAvailable
	s.mu.Unlock()

	s.logger.Info("resources classified",
		"classification", res.Classification,
		"ambiguous", res.Ambiguous,
		"shared", res.Shared,
	)
	s.bus.Publish(Event{Type: EventClassified, Result: res})

	return res, nil
}

// Rescan re-runs classification with the stored assignment, letting the user
// retry after plugging an instrument back in.
func (s *Supervisor) Rescan() (discovery.Result, error) {
	return s.Startup(s.Assignment())
}

// PowerOn starts a run: it connects the relay and energizes it, then
// connects the regulator. The two devices are attempted independently; one
// failing does not skip the other. Each outcome is published per device and
// the combined error, if any, is returned.
//
// A shared assignment is rejected before any handle is opened.
func (s *Supervisor) PowerOn() error {
	if !s.CommandsEnabled() {
		return ErrCommandsDisabled
	}

	assignment := s.Assignment()
	if assignment.Shared() {
		s.logger.Error("power on rejected", "resource", assignment.Relay)
		s.bus.Publish(Event{Type: EventPowerOn, Code: device.CodeSharedResourceConflict, Err: ErrSharedResource})
		return ErrSharedResource
	}

	relayErr := s.powerOnRelay(assignment.Relay)
	regulatorErr := s.powerOnRegulator(assignment.Regulator)

	return errors.Join(relayErr, regulatorErr)
}

func (s *Supervisor) powerOnRelay(resource string) error {
	err := s.connectAssigned(s.relay.Kind(), resource, s.relay.Connect)
	if err == nil {
		err = s.relay.TurnOn()
	}

	s.publishOutcome(EventPowerOn, s.relay.Kind(), err)

	return err
}

func (s *Supervisor) powerOnRegulator(resource string) error {
	err := s.connectAssigned(s.regulator.Kind(), resource, s.regulator.Connect)

	s.publishOutcome(EventPowerOn, s.regulator.Kind(), err)

	return err
}

func (s *Supervisor) connectAssigned(kind device.Kind, resource string, connect func(string) error) error {
	if resource == "" {
		return device.NewError(kind, device.CodeResourceUnavailable, "power on", nil)
	}
	return connect(resource)
}

// PowerOff ends a run: the regulator is disconnected first so the gas line
// is released before the relay drops power. Already-disconnected devices are
// skipped.
func (s *Supervisor) PowerOff() error {
	var regulatorErr error
	if s.regulator.IsConnected() {
		regulatorErr = s.regulator.Disconnect()
		s.publishOutcome(EventPowerOff, s.regulator.Kind(), regulatorErr)
	}

	var relayErr error
	if s.relay.IsConnected() {
		relayErr = s.relay.TurnOff()
		if err := s.relay.Disconnect(); relayErr == nil {
			relayErr = err
		}
		s.publishOutcome(EventPowerOff, s.relay.Kind(), relayErr)
	}

	return errors.Join(regulatorErr, relayErr)
}

// SetFlow forwards a raw setpoint request to the regulator and publishes the
// outcome. The normalized numeric target is returned on success.
func (s *Supervisor) SetFlow(text string) (float64, error) {
	if !s.CommandsEnabled() {
		return 0, ErrCommandsDisabled
	}

	if !s.regulator.IsConnected() {
		s.logger.Warn("setpoint ignored, regulator not connected")
		s.bus.Publish(Event{
			Type:   EventSetpoint,
			Device: s.regulator.Kind().String(),
			Code:   device.CodeDeviceNotInitialized,
			Err:    ErrNotConnected,
		})
		return 0, ErrNotConnected
	}

	target, err := s.regulator.SetFlow(text)
	if err != nil {
		if device.CodeOf(err).IsValidation() {
			s.metrics.setpointRejects.Add(1)
		}
		s.publishOutcome(EventSetpoint, s.regulator.Kind(), err)
		return 0, err
	}

	s.metrics.setpoints.Add(1)
	s.bus.Publish(Event{Type: EventSetpoint, Device: s.regulator.Kind().String(), Flow: target})

	return target, nil
}

// SetGas forwards a gas selection to the regulator and publishes the
// outcome.
func (s *Supervisor) SetGas(id uint16) error {
	if !s.CommandsEnabled() {
		return ErrCommandsDisabled
	}

	if !s.regulator.IsConnected() {
		s.logger.Warn("gas selection ignored, regulator not connected")
		s.bus.Publish(Event{
			Type:   EventGasSelected,
			Device: s.regulator.Kind().String(),
			Code:   device.CodeDeviceNotInitialized,
			Err:    ErrNotConnected,
		})
		return ErrNotConnected
	}

	if err := s.regulator.SetGas(id); err != nil {
		s.publishOutcome(EventGasSelected, s.regulator.Kind(), err)
		return err
	}

	s.bus.Publish(Event{Type: EventGasSelected, Device: s.regulator.Kind().String(), Gas: id})

	return nil
}

// Run starts the fault-monitor poll loop under ctx. The loop runs until
// Close, RequestShutdown, or ctx cancellation.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.tasks != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	tasks := task.NewManager(ctx, s.logger)
	s.tasks = tasks
	s.mu.Unlock()

	return tasks.StartInterval(pollTaskName, s.pollTick, s.pollInterval, false)
}

// Close stops the poll loop and closes the event bus.
func (s *Supervisor) Close() {
	s.stopPolling()
	s.bus.Close()
}

func (s *Supervisor) stopPolling() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = nil
	s.mu.Unlock()

	if tasks != nil {
		tasks.Stop()
		tasks.Wait()
	}
}

func (s *Supervisor) pollTick() bool {
	s.Poll()
	return true
}

// Poll runs one fault-monitor cycle synchronously: check resource presence
// for both devices, then sample the regulator. Run invokes it on the
// configured interval; callers may also invoke it directly to force an
// immediate check.
func (s *Supervisor) Poll() {
	s.metrics.polls.Add(1)

	ports, err := s.lister.List()
	if err != nil {
		// Enumeration hiccups are transient; skip classification this cycle
		// rather than misreading them as disconnections.
		s.logger.Warn("resource enumeration failed during poll", "error", err)
		return
	}

	s.pollRelay(ports)
	s.pollRegulator(ports)
}

// pollRelay checks physical presence only. The relay has no register worth
// polling, so liveness is judged by enumeration alone.
func (s *Supervisor) pollRelay(ports []string) {
	if s.relay.IsConnected() && !slices.Contains(ports, s.relay.Resource()) {
		s.dropVanished(s.relay)
	}
}

func (s *Supervisor) pollRegulator(ports []string) {
	if !s.regulator.IsConnected() {
		return
	}

	if !slices.Contains(ports, s.regulator.Resource()) {
		s.resetStall()
		s.dropVanished(s.regulator)
		return
	}

	flow, err := s.regulator.ProbeFlow()
	if err == nil {
		s.recordSample(flow)
		s.resetStall()

		// A degraded session answering again has healed.
		if s.regulator.State() == device.Degraded {
			if terr := s.regulator.States().ToConnected(); terr == nil {
				s.metrics.recoveries.Add(1)
				s.bus.Publish(Event{Type: EventRecovered, Device: s.regulator.Kind().String(), Flow: flow})
			}
		}

		return
	}

	// The resource is still enumerable, so this is communication loss, not
	// removal. The handle is retained and the next poll retries.
	s.metrics.commLosses.Add(1)
	s.regulator.States().ToDegraded()
	s.bus.Publish(Event{
		Type:   EventCommLost,
		Device: s.regulator.Kind().String(),
		Code:   device.CodeOf(err),
		Err:    err,
	})

	if s.bumpStall() > s.stallThreshold {
		s.recoverStalled()
	}
}

// recoverStalled issues the single bounded recovery probe for an acquisition
// stall. Success resumes normal monitoring; failure is fatal for the session.
func (s *Supervisor) recoverStalled() {
	kind := s.regulator.Kind().String()

	s.logger.Warn("acquisition stalled, probing", "threshold", s.stallThreshold)
	s.bus.Publish(Event{Type: EventStallWarning, Device: kind, Code: device.CodeAcquisitionStalled})

	s.regulator.States().ToRecovering()
	s.metrics.stallProbes.Add(1)

	flow, err := s.regulator.ProbeFlow()
	s.resetStall()

	if err == nil {
		s.recordSample(flow)
		s.regulator.States().ToConnected()
		s.metrics.recoveries.Add(1)
		s.bus.Publish(Event{Type: EventRecovered, Device: kind, Flow: flow})
		return
	}

	s.logger.Error("recovery probe failed, releasing regulator", "error", err)
	s.metrics.recoveryFailures.Add(1)
	s.bus.Publish(Event{
		Type:   EventRecoveryFailed,
		Device: kind,
		Code:   device.CodeAcquisitionStalled,
		Err:    err,
	})
	s.regulator.ForceDisconnect()
}

// dropVanished tears down a session whose serial resource disappeared from
// the host. The dead handle is released without error bookkeeping.
func (s *Supervisor) dropVanished(sess sessionRef) {
	s.logger.Warn("resource vanished", "device", sess.Kind(), "resource", sess.Resource())

	sess.ForceDisconnect()
	s.metrics.removals.Add(1)
	s.bus.Publish(Event{
		Type:   EventDeviceRemoved,
		Device: sess.Kind().String(),
		Code:   device.CodeResourceUnavailable,
	})
}

func (s *Supervisor) recordSample(flow float64) {
	s.samples.Append(MeasurementSample{At: time.Now(), Flow: flow})
	s.metrics.samples.Add(1)
	s.bus.Publish(Event{Type: EventFlowSample, Device: s.regulator.Kind().String(), Flow: flow})
}

func (s *Supervisor) bumpStall() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallStreak++
	return s.stallStreak
}

func (s *Supervisor) resetStall() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallStreak = 0
}

// publishStateChange republishes session state transitions on the bus. It
// runs under the state manager's lock; Publish never blocks, so this is
// safe to keep synchronous.
func (s *Supervisor) publishStateChange(kind device.Kind, prev, next device.State) {
	s.bus.Publish(Event{
		Type:   EventStateChanged,
		Device: kind.String(),
		Prev:   prev,
		State:  next,
	})
}

func (s *Supervisor) publishOutcome(eventType EventType, kind device.Kind, err error) {
	s.bus.Publish(Event{
		Type:   eventType,
		Device: kind.String(),
		Code:   device.CodeOf(err),
		Err:    err,
	})
}
