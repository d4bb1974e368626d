package device

import (
	"fmt"
	"time"

	"github.com/plasmalab/gasflow/logger"
	"github.com/plasmalab/gasflow/modbus"
)

// Default serial line settings, matching the instruments' factory
// configuration.
const (
	DefaultRelayBaudRate     = 9600
	DefaultRegulatorBaudRate = 38400

	DefaultRelayUnitID     byte = 16
	DefaultRegulatorUnitID byte = 1

	DefaultDataBits = 8
	DefaultStopBits = 1

	// DefaultTimeout is the bounded per-operation protocol timeout.
	DefaultTimeout = 50 * time.Millisecond

	// DefaultMaxFlow is the regulator's representable setpoint ceiling in
	// SCCM. The floor is always zero.
	DefaultMaxFlow = 10000.0
)

// PortOpener opens the physical serial resource for a session. Tests inject
// openers returning simulated ports.
type PortOpener func(resource string, settings modbus.PortSettings) (modbus.Port, error)

// Config holds the resource-independent settings of one device session.
type Config struct {
	kind     Kind
	baudRate int
	parity   modbus.Parity
	dataBits int
	stopBits int
	unitID   byte
	timeout  time.Duration
	maxFlow  float64
	opener   PortOpener
	logger   logger.Logger
}

// Option mutates a Config during construction.
type Option func(*Config)

// NewRelayConfig creates a relay session configuration with instrument
// defaults, applying opts in order.
func NewRelayConfig(opts ...Option) (*Config, error) {
	return newConfig(KindRelay, DefaultRelayBaudRate, DefaultRelayUnitID, opts)
}

// NewRegulatorConfig creates a regulator session configuration with
// instrument defaults, applying opts in order.
func NewRegulatorConfig(opts ...Option) (*Config, error) {
	return newConfig(KindRegulator, DefaultRegulatorBaudRate, DefaultRegulatorUnitID, opts)
}

func newConfig(kind Kind, baudRate int, unitID byte, opts []Option) (*Config, error) {
	cfg := &Config{
		kind:     kind,
		baudRate: baudRate,
		parity:   modbus.ParityNone,
		dataBits: DefaultDataBits,
		stopBits: DefaultStopBits,
		unitID:   unitID,
		timeout:  DefaultTimeout,
		maxFlow:  DefaultMaxFlow,
		opener:   modbus.OpenPort,
		logger:   logger.GetLogger(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.baudRate <= 0 {
		return fmt.Errorf("device: invalid baud rate %d", c.baudRate)
	}

	switch c.parity {
	case modbus.ParityNone, modbus.ParityEven, modbus.ParityOdd:
	default:
		return fmt.Errorf("device: invalid parity %q", c.parity)
	}

	if c.dataBits != 7 && c.dataBits != 8 {
		return fmt.Errorf("device: invalid data bits %d", c.dataBits)
	}
	if c.stopBits != 1 && c.stopBits != 2 {
		return fmt.Errorf("device: invalid stop bits %d", c.stopBits)
	}
	if c.timeout <= 0 {
		return fmt.Errorf("device: invalid timeout %v", c.timeout)
	}
	if c.maxFlow <= 0 {
		return fmt.Errorf("device: invalid max flow %v", c.maxFlow)
	}
	if c.opener == nil {
		return fmt.Errorf("device: port opener is nil")
	}

	return nil
}

// --- Options ---

// WithBaudRate overrides the serial baud rate.
func WithBaudRate(rate int) Option {
	return func(c *Config) { c.baudRate = rate }
}

// WithParity overrides the serial parity.
func WithParity(parity modbus.Parity) Option {
	return func(c *Config) { c.parity = parity }
}

// WithDataBits overrides the serial data bits.
func WithDataBits(bits int) Option {
	return func(c *Config) { c.dataBits = bits }
}

// WithStopBits overrides the serial stop bits.
func WithStopBits(bits int) Option {
	return func(c *Config) { c.stopBits = bits }
}

// WithUnitID overrides the instrument's Modbus unit ID.
func WithUnitID(id byte) Option {
	return func(c *Config) { c.unitID = id }
}

// WithTimeout overrides the per-operation protocol timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.timeout = timeout }
}

// WithMaxFlow overrides the regulator's representable setpoint ceiling.
func WithMaxFlow(max float64) Option {
	return func(c *Config) { c.maxFlow = max }
}

// WithPortOpener overrides how the session opens its serial resource.
func WithPortOpener(opener PortOpener) Option {
	return func(c *Config) { c.opener = opener }
}

// WithLogger overrides the session logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Config) { c.logger = log }
}

// --- Getters ---

// Kind returns the device kind this configuration targets.
func (c *Config) Kind() Kind { return c.kind }

// BaudRate returns the serial baud rate.
func (c *Config) BaudRate() int { return c.baudRate }

// Parity returns the serial parity.
func (c *Config) Parity() modbus.Parity { return c.parity }

// DataBits returns the serial data bits.
func (c *Config) DataBits() int { return c.dataBits }

// StopBits returns the serial stop bits.
func (c *Config) StopBits() int { return c.stopBits }

// UnitID returns the instrument's Modbus unit ID.
func (c *Config) UnitID() byte { return c.unitID }

// Timeout returns the per-operation protocol timeout.
func (c *Config) Timeout() time.Duration { return c.timeout }

// MaxFlow returns the regulator's representable setpoint ceiling.
func (c *Config) MaxFlow() float64 { return c.maxFlow }

// GetLogger returns the session logger.
func (c *Config) GetLogger() logger.Logger { return c.logger }

// portSettings returns the line settings used when opening the resource.
func (c *Config) portSettings() modbus.PortSettings {
	return modbus.PortSettings{
		BaudRate: c.baudRate,
		Parity:   c.parity,
		DataBits: c.dataBits,
		StopBits: c.stopBits,
	}
}
