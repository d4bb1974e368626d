package modbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/plasmalab/gasflow/logger"
)

// DefaultTimeout is the default per-transaction response timeout.
const DefaultTimeout = 50 * time.Millisecond

// readChunkTimeout bounds each individual Read call inside a transaction.
// It is short so that the overall transaction deadline is respected with
// reasonable granularity even when the instrument trickles bytes.
const readChunkTimeout = 10 * time.Millisecond

// maxResponseSize is the largest response the client ever expects:
// unit + function + byte count + 2*MaxReadCount data bytes + CRC.
const maxResponseSize = 3 + 2*MaxReadCount + crcSize

// Client performs Modbus RTU transactions against a single instrument over
// one Port.
//
// The underlying transaction is not reentrant, so the client serializes all
// callers: only one request/response exchange is in flight at any time.
type Client struct {
	mu      sync.Mutex
	port    Port
	unit    byte
	timeout time.Duration
	logger  logger.Logger
	closed  bool
}

// NewClient creates a Client bound to port for the instrument with the given
// unit ID. A timeout of 0 selects DefaultTimeout. A nil log selects the
// package default logger.
func NewClient(port Port, unit byte, timeout time.Duration, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		port:    port,
		unit:    unit,
		timeout: timeout,
		logger:  log.With("unit", unit),
	}
}

// ReadRegisters reads count holding registers starting at addr.
func (c *Client) ReadRegisters(addr, count uint16) ([]uint16, error) {
	if count == 0 || count > MaxReadCount {
		return nil, ErrInvalidCount
	}

	req := &Request{
		Unit:     c.unit,
		Function: FuncReadHoldingRegisters,
		Addr:     addr,
		Count:    count,
	}

	adu, err := c.transact(req)
	if err != nil {
		return nil, err
	}

	return decodeReadResponse(req, adu)
}

// WriteRegister writes value into the single holding register at addr.
func (c *Client) WriteRegister(addr, value uint16) error {
	req := &Request{
		Unit:     c.unit,
		Function: FuncWriteSingleRegister,
		Addr:     addr,
		Value:    value,
	}

	adu, err := c.transact(req)
	if err != nil {
		return err
	}

	return decodeWriteResponse(req, adu)
}

// Close closes the underlying port. It is idempotent; a second Close is a
// no-op returning nil.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	return c.port.Close()
}

// transact sends one request and reads the complete response ADU, holding
// the transaction lock for the whole exchange.
func (c *Client) transact(req *Request) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrPortClosed
	}

	if err := c.port.SetReadTimeout(readChunkTimeout); err != nil {
		return nil, fmt.Errorf("modbus: set read timeout: %w", err)
	}

	frame := req.Encode()
	if err := c.writeAll(frame); err != nil {
		return nil, fmt.Errorf("modbus: write request: %w", err)
	}

	c.logger.Debug("request sent", "function", req.Function, "addr", req.Addr)

	return c.readResponse(req)
}

// writeAll writes all bytes in data to the port.
func (c *Client) writeAll(data []byte) error {
	for written := 0; written < len(data); {
		n, err := c.port.Write(data[written:])
		written += n

		if err != nil {
			return err
		}
	}

	return nil
}

// readResponse accumulates response bytes until a complete ADU for req has
// arrived or the transaction deadline passes.
//
// RTU response length is deterministic once the function byte (and, for
// reads, the byte-count byte) is known, so the reader computes the expected
// total incrementally rather than relying on inter-frame silence.
func (c *Client) readResponse(req *Request) ([]byte, error) {
	deadline := time.Now().Add(c.timeout)
	buf := make([]byte, 0, maxResponseSize)
	chunk := make([]byte, maxResponseSize)

	for {
		want, known := expectedLength(req, buf)
		if known && len(buf) >= want {
			return buf[:want], nil
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}

		n, err := c.port.Read(chunk)
		if err != nil {
			return nil, fmt.Errorf("modbus: read response: %w", err)
		}
		buf = append(buf, chunk[:n]...)
		// n == 0 with a nil error means the chunk read timed out; loop to
		// re-check the transaction deadline.
	}
}

// expectedLength returns the total expected ADU length for the response to
// req, given the bytes received so far. known is false while too few bytes
// have arrived to decide.
func expectedLength(req *Request, buf []byte) (want int, known bool) {
	if len(buf) < 2 {
		return 0, false
	}

	function := buf[1]
	switch {
	case function == req.Function|exceptionFlag:
		return 3 + crcSize, true
	case function == FuncReadHoldingRegisters:
		if len(buf) < 3 {
			return 0, false
		}
		return 3 + int(buf[2]) + crcSize, true
	default:
		// Write echo and anything unrecognized: fixed-size frame. Header
		// validation rejects a bad function code after the read completes.
		return 6 + crcSize, true
	}
}
