package modbus

import (
	"encoding/binary"
)

// Function codes understood by the gasflow instruments.
const (
	// FuncReadHoldingRegisters reads a contiguous block of 16-bit registers.
	FuncReadHoldingRegisters byte = 0x03

	// FuncWriteSingleRegister writes one 16-bit register.
	FuncWriteSingleRegister byte = 0x06
)

// exceptionFlag is OR'd into the function code of an exception response.
const exceptionFlag byte = 0x80

// MaxReadCount is the largest register count a single read request may carry.
// The protocol limit is 125; the instruments never need more than 2.
const MaxReadCount = 125

// crcSize is the size of the trailing CRC in bytes.
const crcSize = 2

// Request represents a decoded Modbus RTU request ADU.
//
// For FuncReadHoldingRegisters, Count holds the register count.
// For FuncWriteSingleRegister, Value holds the register value.
type Request struct {
	Unit     byte
	Function byte
	Addr     uint16
	Count    uint16
	Value    uint16
}

// Encode serializes the request into a wire-ready ADU including the CRC.
func (r *Request) Encode() []byte {
	adu := make([]byte, 6, 6+crcSize)
	adu[0] = r.Unit
	adu[1] = r.Function
	binary.BigEndian.PutUint16(adu[2:4], r.Addr)
	switch r.Function {
	case FuncReadHoldingRegisters:
		binary.BigEndian.PutUint16(adu[4:6], r.Count)
	default:
		binary.BigEndian.PutUint16(adu[4:6], r.Value)
	}

	return appendCRC(adu)
}

// DecodeRequest parses a request ADU, validating length, CRC and function
// code. It is used by instrument simulators; real instruments do their own
// parsing on the other end of the wire.
func DecodeRequest(adu []byte) (*Request, error) {
	if len(adu) < 6+crcSize {
		return nil, ErrShortFrame
	}
	if err := verifyCRC(adu); err != nil {
		return nil, err
	}

	req := &Request{
		Unit:     adu[0],
		Function: adu[1],
		Addr:     binary.BigEndian.Uint16(adu[2:4]),
	}

	switch req.Function {
	case FuncReadHoldingRegisters:
		req.Count = binary.BigEndian.Uint16(adu[4:6])
		if req.Count == 0 || req.Count > MaxReadCount {
			return nil, ErrInvalidCount
		}
	case FuncWriteSingleRegister:
		req.Value = binary.BigEndian.Uint16(adu[4:6])
	default:
		return nil, ErrInvalidFunction
	}

	return req, nil
}

// BuildReadResponse builds a read-holding-registers response ADU carrying
// the given register values, big-endian per register.
func BuildReadResponse(unit byte, values []uint16) []byte {
	adu := make([]byte, 3, 3+2*len(values)+crcSize)
	adu[0] = unit
	adu[1] = FuncReadHoldingRegisters
	adu[2] = byte(2 * len(values))
	for _, v := range values {
		adu = binary.BigEndian.AppendUint16(adu, v)
	}

	return appendCRC(adu)
}

// BuildWriteResponse builds a write-single-register response ADU, which
// echoes the written address and value.
func BuildWriteResponse(unit byte, addr, value uint16) []byte {
	adu := make([]byte, 6, 6+crcSize)
	adu[0] = unit
	adu[1] = FuncWriteSingleRegister
	binary.BigEndian.PutUint16(adu[2:4], addr)
	binary.BigEndian.PutUint16(adu[4:6], value)

	return appendCRC(adu)
}

// BuildExceptionResponse builds an exception response ADU for the given
// function code and exception code.
func BuildExceptionResponse(unit byte, function byte, code byte) []byte {
	adu := []byte{unit, function | exceptionFlag, code}
	return appendCRC(adu)
}

// decodeReadResponse validates and extracts register values from a
// read-holding-registers response.
func decodeReadResponse(req *Request, adu []byte) ([]uint16, error) {
	if err := checkResponseHeader(req, adu); err != nil {
		return nil, err
	}

	wantBytes := int(2 * req.Count)
	if len(adu) != 3+wantBytes+crcSize || int(adu[2]) != wantBytes {
		return nil, ErrShortFrame
	}

	values := make([]uint16, req.Count)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(adu[3+2*i : 5+2*i])
	}

	return values, nil
}

// decodeWriteResponse validates a write-single-register response, which must
// echo the request's address and value.
func decodeWriteResponse(req *Request, adu []byte) error {
	if err := checkResponseHeader(req, adu); err != nil {
		return err
	}

	if len(adu) != 6+crcSize {
		return ErrShortFrame
	}

	addr := binary.BigEndian.Uint16(adu[2:4])
	value := binary.BigEndian.Uint16(adu[4:6])
	if addr != req.Addr || value != req.Value {
		return ErrEchoMismatch
	}

	return nil
}

// checkResponseHeader validates the common prefix of a response ADU: length,
// CRC, unit ID, and function code (mapping exception responses to
// ExceptionError).
func checkResponseHeader(req *Request, adu []byte) error {
	if len(adu) < 3+crcSize {
		return ErrShortFrame
	}
	if err := verifyCRC(adu); err != nil {
		return err
	}
	if adu[0] != req.Unit {
		return ErrUnitMismatch
	}

	function := adu[1]
	if function == req.Function|exceptionFlag {
		return &ExceptionError{Function: req.Function, Code: adu[2]}
	}
	if function != req.Function {
		return ErrFunctionMismatch
	}

	return nil
}
