// Package wire implements the binary framing and opcode-dispatched codec
// used between qorvex-host and the on-device agent. Every message is a
// 4-byte little-endian length header (excluding itself) followed by an
// opcode byte and a payload. Integers are little-endian, strings are
// 4-byte-length-prefixed UTF-8, optional fields carry a 1-byte presence
// flag ahead of their value.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// OpCode identifies a request or response variant on the wire.
type OpCode byte

const (
	OpHeartbeat    OpCode = 0x01
	OpTapCoord     OpCode = 0x02
	OpTapElement   OpCode = 0x03
	OpTapByLabel   OpCode = 0x04
	OpTapWithType  OpCode = 0x05
	OpTypeText     OpCode = 0x06
	OpSwipe        OpCode = 0x07
	OpGetValue     OpCode = 0x08
	OpLongPress    OpCode = 0x09
	OpDumpTree     OpCode = 0x10
	OpScreenshot   OpCode = 0x11
	OpSetTarget    OpCode = 0x12
	OpFindElement  OpCode = 0x13
	OpBareError    OpCode = 0x99
	OpResponse     OpCode = 0xA0
)

// ResponseSubType identifies the payload shape of an 0xA0 Response frame.
type ResponseSubType byte

const (
	RespOk         ResponseSubType = 0x00
	RespError      ResponseSubType = 0x01
	RespTree       ResponseSubType = 0x02
	RespScreenshot ResponseSubType = 0x03
	RespValue      ResponseSubType = 0x04
	RespElement    ResponseSubType = 0x05
)

func (o OpCode) String() string {
	switch o {
	case OpHeartbeat:
		return "heartbeat"
	case OpTapCoord:
		return "tap_coord"
	case OpTapElement:
		return "tap_element"
	case OpTapByLabel:
		return "tap_by_label"
	case OpTapWithType:
		return "tap_with_type"
	case OpTypeText:
		return "type_text"
	case OpSwipe:
		return "swipe"
	case OpGetValue:
		return "get_value"
	case OpLongPress:
		return "long_press"
	case OpDumpTree:
		return "dump_tree"
	case OpScreenshot:
		return "screenshot"
	case OpSetTarget:
		return "set_target"
	case OpFindElement:
		return "find_element"
	case OpBareError:
		return "bare_error"
	case OpResponse:
		return "response"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(o))
	}
}

// Codec errors. Any of these invalidate the underlying transport at the
// call site — the cursor discipline they describe assumes an intact
// byte stream, and a caller cannot resynchronize after one fires.
var (
	ErrInsufficientData = fmt.Errorf("wire: insufficient data")
	ErrUTF8             = fmt.Errorf("wire: invalid utf-8")
)

// InvalidOpCodeError reports an unrecognized opcode byte.
type InvalidOpCodeError struct {
	OpCode byte
}

func (e *InvalidOpCodeError) Error() string {
	return fmt.Sprintf("wire: invalid opcode 0x%02x", e.OpCode)
}

// InvalidPayloadError reports a structurally valid but semantically
// wrong payload (e.g. a zero-length frame or an unknown response
// sub-type).
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("wire: invalid payload: %s", e.Reason)
}

// cursor is a sequential little-endian reader over a payload buffer.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) take(n int) ([]byte, error) {
	if n < 0 || c.remaining() < n {
		return nil, ErrInsufficientData
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) readByte() (byte, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) readBool() (bool, error) {
	b, err := c.readByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (c *cursor) readI32() (int32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func (c *cursor) readU32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *cursor) readU64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (c *cursor) readF64() (float64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

func (c *cursor) readString() (string, error) {
	n, err := c.readU32()
	if err != nil {
		return "", err
	}
	b, err := c.take(int(n))
	if err != nil {
		return "", err
	}
	if !isValidUTF8(b) {
		return "", ErrUTF8
	}
	return string(b), nil
}

func (c *cursor) readOptionalString() (*string, error) {
	present, err := c.readBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	s, err := c.readString()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// readTrailingOptionalU64 implements the backward-compatible trailing
// field rule: if the cursor is already exhausted, the value is treated
// as absent rather than an error, so an old peer that never wrote the
// flag byte still decodes cleanly.
func (c *cursor) readTrailingOptionalU64() (*uint64, error) {
	if c.remaining() == 0 {
		return nil, nil
	}
	present, err := c.readBool()
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := c.readU64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}

// writer accumulates a little-endian payload.
type writer struct {
	buf bytes.Buffer
}

func (w *writer) writeByte(b byte)  { w.buf.WriteByte(b) }
func (w *writer) writeBool(b bool) {
	if b {
		w.writeByte(1)
	} else {
		w.writeByte(0)
	}
}

func (w *writer) writeI32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *writer) writeU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) writeU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *writer) writeF64(v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	w.buf.Write(b[:])
}

func (w *writer) writeString(s string) {
	w.writeU32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *writer) writeOptionalString(s *string) {
	if s == nil {
		w.writeBool(false)
		return
	}
	w.writeBool(true)
	w.writeString(*s)
}

// writeTrailingOptionalU64 always writes the presence flag, per the
// forward-compatibility contract: a decoder built before this field
// existed simply never reads it.
func (w *writer) writeTrailingOptionalU64(v *uint64) {
	if v == nil {
		w.writeBool(false)
		return
	}
	w.writeBool(true)
	w.writeU64(*v)
}

// WriteFrame writes the 4-byte length header, opcode, and payload to w.
func WriteFrame(w io.Writer, op OpCode, payload []byte) error {
	header := make([]byte, 4)
	binary.LittleEndian.PutUint32(header, uint32(len(payload)+1))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("wire: write length header: %w", err)
	}
	if _, err := w.Write([]byte{byte(op)}); err != nil {
		return fmt.Errorf("wire: write opcode: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("wire: write payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads a length-prefixed frame from r and returns the opcode
// and raw payload (opcode byte excluded).
func ReadFrame(r io.Reader) (OpCode, []byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("wire: read length header: %w", err)
	}
	n := binary.LittleEndian.Uint32(header)
	if n == 0 {
		return 0, nil, &InvalidPayloadError{Reason: "zero-length frame"}
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return OpCode(body[0]), body[1:], nil
}
