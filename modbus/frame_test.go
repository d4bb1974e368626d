package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		req := &Request{Unit: 1, Function: FuncReadHoldingRegisters, Addr: 2103, Count: 2}
		decoded, err := DecodeRequest(req.Encode())
		require.NoError(t, err)
		assert.Equal(t, req, decoded)
	})

	t.Run("write", func(t *testing.T) {
		req := &Request{Unit: 16, Function: FuncWriteSingleRegister, Addr: 512, Value: 1}
		decoded, err := DecodeRequest(req.Encode())
		require.NoError(t, err)
		assert.Equal(t, req, decoded)
	})
}

func TestDecodeRequestErrors(t *testing.T) {
	t.Run("short frame", func(t *testing.T) {
		_, err := DecodeRequest([]byte{0x01, 0x03})
		assert.ErrorIs(t, err, ErrShortFrame)
	})

	t.Run("bad CRC", func(t *testing.T) {
		adu := (&Request{Unit: 1, Function: FuncReadHoldingRegisters, Addr: 0, Count: 1}).Encode()
		adu[len(adu)-1] ^= 0xFF
		_, err := DecodeRequest(adu)
		assert.ErrorIs(t, err, ErrCRCMismatch)
	})

	t.Run("unsupported function", func(t *testing.T) {
		adu := appendCRC([]byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x01})
		_, err := DecodeRequest(adu)
		assert.ErrorIs(t, err, ErrInvalidFunction)
	})

	t.Run("zero count", func(t *testing.T) {
		adu := (&Request{Unit: 1, Function: FuncReadHoldingRegisters, Addr: 0, Count: 0}).Encode()
		_, err := DecodeRequest(adu)
		assert.ErrorIs(t, err, ErrInvalidCount)
	})
}

func TestDecodeReadResponse(t *testing.T) {
	req := &Request{Unit: 1, Function: FuncReadHoldingRegisters, Addr: 2103, Count: 2}

	t.Run("success", func(t *testing.T) {
		adu := BuildReadResponse(1, []uint16{0x0001, 0x86A0})
		values, err := decodeReadResponse(req, adu)
		require.NoError(t, err)
		assert.Equal(t, []uint16{0x0001, 0x86A0}, values)
	})

	t.Run("exception", func(t *testing.T) {
		adu := BuildExceptionResponse(1, FuncReadHoldingRegisters, ExceptionIllegalDataAddress)
		_, err := decodeReadResponse(req, adu)
		var exc *ExceptionError
		require.ErrorAs(t, err, &exc)
		assert.Equal(t, ExceptionIllegalDataAddress, exc.Code)
		assert.Equal(t, FuncReadHoldingRegisters, exc.Function)
	})

	t.Run("unit mismatch", func(t *testing.T) {
		adu := BuildReadResponse(2, []uint16{0, 0})
		_, err := decodeReadResponse(req, adu)
		assert.ErrorIs(t, err, ErrUnitMismatch)
	})

	t.Run("count mismatch", func(t *testing.T) {
		adu := BuildReadResponse(1, []uint16{7})
		_, err := decodeReadResponse(req, adu)
		assert.ErrorIs(t, err, ErrShortFrame)
	})
}

func TestDecodeWriteResponse(t *testing.T) {
	req := &Request{Unit: 16, Function: FuncWriteSingleRegister, Addr: 512, Value: 1}

	t.Run("echo accepted", func(t *testing.T) {
		adu := BuildWriteResponse(16, 512, 1)
		require.NoError(t, decodeWriteResponse(req, adu))
	})

	t.Run("wrong echo", func(t *testing.T) {
		adu := BuildWriteResponse(16, 512, 0)
		assert.ErrorIs(t, decodeWriteResponse(req, adu), ErrEchoMismatch)
	})

	t.Run("function mismatch", func(t *testing.T) {
		adu := BuildReadResponse(16, []uint16{1, 2})
		assert.ErrorIs(t, decodeWriteResponse(req, adu), ErrFunctionMismatch)
	})
}
