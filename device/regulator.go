package device

import (
	"math"
	"strconv"
	"strings"

	"github.com/plasmalab/gasflow/modbus"
)

// Regulator holding registers. The setpoint and measured flow are 32-bit
// fixed-point values (SCCM × 1000) split across two registers, high word
// first.
const (
	RegulatorSetpointHighRegister uint16 = 2053
	RegulatorSetpointLowRegister  uint16 = 2054
	RegulatorGasRegister          uint16 = 2100
	RegulatorFlowHighRegister     uint16 = 2103
	RegulatorFlowLowRegister      uint16 = 2104
)

// flowScale is the fixed-point scale of the flow registers.
const flowScale = 1000.0

// RegulatorSession manages the gas-flow regulator instrument.
type RegulatorSession struct {
	session
}

// NewRegulatorSession creates a regulator session. A nil cfg selects the
// regulator defaults.
func NewRegulatorSession(cfg *Config) (*RegulatorSession, error) {
	if cfg == nil {
		var err error
		cfg, err = NewRegulatorConfig()
		if err != nil {
			return nil, err
		}
	}

	return &RegulatorSession{session: newSession(KindRegulator, cfg)}, nil
}

// SetFlow validates the raw setpoint text and, when valid, commands the
// regulator to the target flow. It returns the normalized numeric target.
//
// Validation failures (empty, malformed, out-of-range input) are reported
// before any hardware access and leave the ErrorSlot untouched.
//
// The setpoint is encoded as round(value*1000) split into two 16-bit
// registers written high word then low word. If the high-word write
// succeeds but the low-word write fails, the operation is reported as a
// single failed write; the high word is not rolled back.
func (s *RegulatorSession) SetFlow(text string) (float64, error) {
	value, err := s.validateSetpoint(text)
	if err != nil {
		return 0, err
	}

	raw := uint32(int32(math.Round(value * flowScale)))
	high := uint16(raw >> 16)
	low := uint16(raw)

	s.opMu.Lock()
	defer s.opMu.Unlock()

	err = s.safeCall("set flow", CodeWriteFailed, func(client *modbus.Client) error {
		if err := client.WriteRegister(RegulatorSetpointHighRegister, high); err != nil {
			return err
		}
		return client.WriteRegister(RegulatorSetpointLowRegister, low)
	})
	if err != nil {
		return 0, err
	}

	return value, nil
}

// GetFlow reads the measured flow registers and reassembles the SCCM value.
func (s *RegulatorSession) GetFlow() (float64, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.readFlow("get flow")
}

// ProbeFlow is the stall-recovery read: one re-read issued with auto-close
// on failure disabled, so a soft failure leaves the handle in place for
// normal monitoring to resume.
func (s *RegulatorSession) ProbeFlow() (float64, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var flow float64
	err := s.safeCall("probe flow", CodeReadFailed, func(client *modbus.Client) error {
		var err error
		flow, err = readFlowRegisters(client)
		return err
	}, withHandleKept())
	if err != nil {
		return 0, err
	}

	return flow, nil
}

// SetGas selects the active gas calibration by ID.
func (s *RegulatorSession) SetGas(id uint16) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.safeCall("set gas", CodeWriteFailed, func(client *modbus.Client) error {
		return client.WriteRegister(RegulatorGasRegister, id)
	})
}

func (s *RegulatorSession) readFlow(op string) (float64, error) {
	var flow float64
	err := s.safeCall(op, CodeReadFailed, func(client *modbus.Client) error {
		var err error
		flow, err = readFlowRegisters(client)
		return err
	})
	if err != nil {
		return 0, err
	}

	return flow, nil
}

func readFlowRegisters(client *modbus.Client) (float64, error) {
	values, err := client.ReadRegisters(RegulatorFlowHighRegister, 2)
	if err != nil {
		return 0, err
	}

	raw := int32(uint32(values[0])<<16 | uint32(values[1]))

	return float64(raw) / flowScale, nil
}

// validateSetpoint checks the raw input text and converts it to the numeric
// target. It never touches hardware or the ErrorSlot.
func (s *RegulatorSession) validateSetpoint(text string) (float64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, newError(s.kind, CodeValidationEmpty, "set flow", nil)
	}

	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, newError(s.kind, CodeValidationMalformed, "set flow", nil)
	}

	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 || value > s.cfg.MaxFlow() {
		return 0, newError(s.kind, CodeValidationOutOfRange, "set flow", nil)
	}

	return value, nil
}
