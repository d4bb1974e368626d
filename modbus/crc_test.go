package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC16(t *testing.T) {
	// Standard CRC-16/MODBUS check value.
	assert.Equal(t, uint16(0x4B37), CRC16([]byte("123456789")))

	// Empty input keeps the initial value.
	assert.Equal(t, uint16(0xFFFF), CRC16(nil))
}

func TestAppendVerifyCRC(t *testing.T) {
	adu := appendCRC([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02})
	require.Len(t, adu, 8)
	require.NoError(t, verifyCRC(adu))

	// Any corrupted byte must fail validation.
	for i := range adu {
		bad := make([]byte, len(adu))
		copy(bad, adu)
		bad[i] ^= 0xFF
		assert.ErrorIs(t, verifyCRC(bad), ErrCRCMismatch, "byte %d", i)
	}
}
