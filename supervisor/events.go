package supervisor

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/plasmalab/gasflow/device"
	"github.com/plasmalab/gasflow/discovery"
	"github.com/plasmalab/gasflow/logger"
)

// EventType identifies the kind of supervisor event.
type EventType uint8

const (
	// EventClassified reports the startup or rescan classification outcome.
	EventClassified EventType = iota
	// EventStateChanged reports a device session state transition.
	EventStateChanged
	// EventPowerOn reports a per-device power-on outcome.
	EventPowerOn
	// EventPowerOff reports a per-device power-off outcome.
	EventPowerOff
	// EventFlowSample reports a fresh flow measurement.
	EventFlowSample
	// EventCommLost reports a poll cycle that failed to reach an enumerable
	// device.
	EventCommLost
	// EventDeviceRemoved reports that a connected device's serial resource
	// vanished from the host.
	EventDeviceRemoved
	// EventStallWarning reports that the acquisition stall threshold was
	// crossed.
	EventStallWarning
	// EventRecovered reports a successful recovery probe.
	EventRecovered
	// EventRecoveryFailed reports a failed recovery probe; the session is
	// torn down.
	EventRecoveryFailed
	// EventSetpoint reports a setpoint command outcome.
	EventSetpoint
	// EventGasSelected reports a gas selection outcome.
	EventGasSelected
	// EventShutdown reports the shutdown sequence outcome.
	EventShutdown
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventClassified:
		return "classified"
	case EventStateChanged:
		return "state-changed"
	case EventPowerOn:
		return "power-on"
	case EventPowerOff:
		return "power-off"
	case EventFlowSample:
		return "flow-sample"
	case EventCommLost:
		return "comm-lost"
	case EventDeviceRemoved:
		return "device-removed"
	case EventStallWarning:
		return "stall-warning"
	case EventRecovered:
		return "recovered"
	case EventRecoveryFailed:
		return "recovery-failed"
	case EventSetpoint:
		return "setpoint"
	case EventGasSelected:
		return "gas-selected"
	case EventShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event is one supervisor notification. Fields beyond ID, Time, and Type are
// populated per event type; unrelated fields hold zero values.
type Event struct {
	ID   uuid.UUID
	Time time.Time
	Type EventType

	// Device names the instrument the event concerns, empty for engine-level
	// events such as classification and shutdown.
	Device string

	// Prev and State carry the transition for EventStateChanged.
	Prev  device.State
	State device.State

	// Result carries the classification for EventClassified.
	Result discovery.Result

	// Flow carries the measured or commanded value for EventFlowSample,
	// EventSetpoint, and EventRecovered.
	Flow float64

	// Gas carries the selected gas ID for EventGasSelected.
	Gas uint16

	// Code and Err describe the failure for fault and failed-command events.
	Code device.Code
	Err  error

	// Report carries the teardown outcome for EventShutdown.
	Report *Report
}

// Bus fans supervisor events out to subscribers.
//
// Publishing never blocks: a subscriber whose channel buffer is full misses
// the event, with a warning logged. Subscribers that need every event size
// their buffer accordingly.
type Bus struct {
	logger logger.Logger

	// mu serializes channel close against in-flight publish sends; closing
	// a channel another goroutine is sending on would panic.
	mu   sync.RWMutex
	subs *xsync.MapOf[uuid.UUID, chan Event]
}

// NewBus creates an event bus.
func NewBus(log logger.Logger) *Bus {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Bus{
		logger: log,
		subs:   xsync.NewMapOf[uuid.UUID, chan Event](),
	}
}

// Subscribe registers a subscriber with the given channel buffer size and
// returns its ID along with the receive channel.
func (b *Bus) Subscribe(buffer int) (uuid.UUID, <-chan Event) {
	if buffer <= 0 {
		buffer = 1
	}

	id := uuid.New()
	ch := make(chan Event, buffer)
	b.subs.Store(id, ch)

	return id, ch
}

// Unsubscribe removes the subscriber and closes its channel.
func (b *Bus) Unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs.LoadAndDelete(id); ok {
		close(ch)
	}
}

// Close removes and closes all subscribers.
func (b *Bus) Close() {
	b.subs.Range(func(id uuid.UUID, _ chan Event) bool {
		b.Unsubscribe(id)
		return true
	})
}

// Publish stamps the event with an ID and timestamp and delivers it to every
// subscriber that has buffer room.
func (b *Bus) Publish(ev Event) {
	ev.ID = uuid.New()
	ev.Time = time.Now()

	b.mu.RLock()
	defer b.mu.RUnlock()

	b.subs.Range(func(id uuid.UUID, ch chan Event) bool {
		select {
		case ch <- ev:
		default:
			b.logger.Warn("subscriber buffer full, event dropped", "subscriber", id, "type", ev.Type)
		}
		return true
	})
}
