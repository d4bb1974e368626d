package device

import (
	"github.com/plasmalab/gasflow/modbus"
)

// RelayPowerRegister is the relay's single on/off holding register.
const RelayPowerRegister uint16 = 512

// RelaySession manages the power relay instrument.
type RelaySession struct {
	session
}

// NewRelaySession creates a relay session. A nil cfg selects the relay
// defaults.
func NewRelaySession(cfg *Config) (*RelaySession, error) {
	if cfg == nil {
		var err error
		cfg, err = NewRelayConfig()
		if err != nil {
			return nil, err
		}
	}

	return &RelaySession{session: newSession(KindRelay, cfg)}, nil
}

// TurnOn energizes the relay by writing 1 into the power register. The
// session must be connected; the safe-call boundary enforces this.
func (s *RelaySession) TurnOn() error {
	return s.writePower("turn on", 1)
}

// TurnOff de-energizes the relay by writing 0 into the power register.
func (s *RelaySession) TurnOff() error {
	return s.writePower("turn off", 0)
}

func (s *RelaySession) writePower(op string, value uint16) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	return s.safeCall(op, CodeWriteFailed, func(client *modbus.Client) error {
		return client.WriteRegister(RelayPowerRegister, value)
	})
}
