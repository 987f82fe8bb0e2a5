package wire

import "fmt"

// Request is implemented by every request variant. Payloads are encoded
// in the exact field order given in the opcode table; decoding mirrors
// that order.
type Request interface {
	OpCode() OpCode
	encode(w *writer)
}

type HeartbeatRequest struct{}

func (HeartbeatRequest) OpCode() OpCode  { return OpHeartbeat }
func (HeartbeatRequest) encode(*writer) {}

type TapCoordRequest struct {
	X, Y int32
}

func (TapCoordRequest) OpCode() OpCode { return OpTapCoord }
func (r TapCoordRequest) encode(w *writer) {
	w.writeI32(r.X)
	w.writeI32(r.Y)
}

type TapElementRequest struct {
	Selector  string
	TimeoutMs *uint64
}

func (TapElementRequest) OpCode() OpCode { return OpTapElement }
func (r TapElementRequest) encode(w *writer) {
	w.writeString(r.Selector)
	w.writeTrailingOptionalU64(r.TimeoutMs)
}

type TapByLabelRequest struct {
	Label     string
	TimeoutMs *uint64
}

func (TapByLabelRequest) OpCode() OpCode { return OpTapByLabel }
func (r TapByLabelRequest) encode(w *writer) {
	w.writeString(r.Label)
	w.writeTrailingOptionalU64(r.TimeoutMs)
}

type TapWithTypeRequest struct {
	Selector  string
	ByLabel   bool
	Type      string
	TimeoutMs *uint64
}

func (TapWithTypeRequest) OpCode() OpCode { return OpTapWithType }
func (r TapWithTypeRequest) encode(w *writer) {
	w.writeString(r.Selector)
	w.writeBool(r.ByLabel)
	w.writeString(r.Type)
	w.writeTrailingOptionalU64(r.TimeoutMs)
}

type TypeTextRequest struct {
	Text string
}

func (TypeTextRequest) OpCode() OpCode { return OpTypeText }
func (r TypeTextRequest) encode(w *writer) {
	w.writeString(r.Text)
}

type SwipeRequest struct {
	StartX, StartY, EndX, EndY int32
	DurationSeconds            *float64
}

func (SwipeRequest) OpCode() OpCode { return OpSwipe }
func (r SwipeRequest) encode(w *writer) {
	w.writeI32(r.StartX)
	w.writeI32(r.StartY)
	w.writeI32(r.EndX)
	w.writeI32(r.EndY)
	w.writeBool(r.DurationSeconds != nil)
	if r.DurationSeconds != nil {
		w.writeF64(*r.DurationSeconds)
	}
}

type GetValueRequest struct {
	Selector  string
	ByLabel   bool
	Type      *string
	TimeoutMs *uint64
}

func (GetValueRequest) OpCode() OpCode { return OpGetValue }
func (r GetValueRequest) encode(w *writer) {
	w.writeString(r.Selector)
	w.writeBool(r.ByLabel)
	w.writeOptionalString(r.Type)
	w.writeTrailingOptionalU64(r.TimeoutMs)
}

type LongPressRequest struct {
	X, Y     int32
	Duration float64
}

func (LongPressRequest) OpCode() OpCode { return OpLongPress }
func (r LongPressRequest) encode(w *writer) {
	w.writeI32(r.X)
	w.writeI32(r.Y)
	w.writeF64(r.Duration)
}

type DumpTreeRequest struct{}

func (DumpTreeRequest) OpCode() OpCode  { return OpDumpTree }
func (DumpTreeRequest) encode(*writer) {}

type ScreenshotRequest struct{}

func (ScreenshotRequest) OpCode() OpCode  { return OpScreenshot }
func (ScreenshotRequest) encode(*writer) {}

type SetTargetRequest struct {
	BundleID string
}

func (SetTargetRequest) OpCode() OpCode { return OpSetTarget }
func (r SetTargetRequest) encode(w *writer) {
	w.writeString(r.BundleID)
}

type FindElementRequest struct {
	Selector string
	ByLabel  bool
	Type     *string
}

func (FindElementRequest) OpCode() OpCode { return OpFindElement }
func (r FindElementRequest) encode(w *writer) {
	w.writeString(r.Selector)
	w.writeBool(r.ByLabel)
	w.writeOptionalString(r.Type)
}

// EncodeRequest serializes a request into a ready-to-send frame body
// (opcode + payload). Use WriteFrame to add the length header.
func EncodeRequest(r Request) (OpCode, []byte) {
	w := &writer{}
	r.encode(w)
	return r.OpCode(), w.buf.Bytes()
}

// DecodeRequest decodes a request payload given its opcode. Used on the
// agent side; kept here so the same cursor/writer machinery serves both
// directions symmetrically.
func DecodeRequest(op OpCode, payload []byte) (Request, error) {
	c := &cursor{buf: payload}
	switch op {
	case OpHeartbeat:
		return HeartbeatRequest{}, nil
	case OpTapCoord:
		x, err := c.readI32()
		if err != nil {
			return nil, err
		}
		y, err := c.readI32()
		if err != nil {
			return nil, err
		}
		return TapCoordRequest{X: x, Y: y}, nil
	case OpTapElement:
		sel, err := c.readString()
		if err != nil {
			return nil, err
		}
		timeout, err := c.readTrailingOptionalU64()
		if err != nil {
			return nil, err
		}
		return TapElementRequest{Selector: sel, TimeoutMs: timeout}, nil
	case OpTapByLabel:
		label, err := c.readString()
		if err != nil {
			return nil, err
		}
		timeout, err := c.readTrailingOptionalU64()
		if err != nil {
			return nil, err
		}
		return TapByLabelRequest{Label: label, TimeoutMs: timeout}, nil
	case OpTapWithType:
		sel, err := c.readString()
		if err != nil {
			return nil, err
		}
		byLabel, err := c.readBool()
		if err != nil {
			return nil, err
		}
		typ, err := c.readString()
		if err != nil {
			return nil, err
		}
		timeout, err := c.readTrailingOptionalU64()
		if err != nil {
			return nil, err
		}
		return TapWithTypeRequest{Selector: sel, ByLabel: byLabel, Type: typ, TimeoutMs: timeout}, nil
	case OpTypeText:
		text, err := c.readString()
		if err != nil {
			return nil, err
		}
		return TypeTextRequest{Text: text}, nil
	case OpSwipe:
		sx, err := c.readI32()
		if err != nil {
			return nil, err
		}
		sy, err := c.readI32()
		if err != nil {
			return nil, err
		}
		ex, err := c.readI32()
		if err != nil {
			return nil, err
		}
		ey, err := c.readI32()
		if err != nil {
			return nil, err
		}
		hasDuration, err := c.readBool()
		if err != nil {
			return nil, err
		}
		var duration *float64
		if hasDuration {
			d, err := c.readF64()
			if err != nil {
				return nil, err
			}
			duration = &d
		}
		return SwipeRequest{StartX: sx, StartY: sy, EndX: ex, EndY: ey, DurationSeconds: duration}, nil
	case OpGetValue:
		sel, err := c.readString()
		if err != nil {
			return nil, err
		}
		byLabel, err := c.readBool()
		if err != nil {
			return nil, err
		}
		typ, err := c.readOptionalString()
		if err != nil {
			return nil, err
		}
		timeout, err := c.readTrailingOptionalU64()
		if err != nil {
			return nil, err
		}
		return GetValueRequest{Selector: sel, ByLabel: byLabel, Type: typ, TimeoutMs: timeout}, nil
	case OpLongPress:
		x, err := c.readI32()
		if err != nil {
			return nil, err
		}
		y, err := c.readI32()
		if err != nil {
			return nil, err
		}
		duration, err := c.readF64()
		if err != nil {
			return nil, err
		}
		return LongPressRequest{X: x, Y: y, Duration: duration}, nil
	case OpDumpTree:
		return DumpTreeRequest{}, nil
	case OpScreenshot:
		return ScreenshotRequest{}, nil
	case OpSetTarget:
		bundleID, err := c.readString()
		if err != nil {
			return nil, err
		}
		return SetTargetRequest{BundleID: bundleID}, nil
	case OpFindElement:
		sel, err := c.readString()
		if err != nil {
			return nil, err
		}
		byLabel, err := c.readBool()
		if err != nil {
			return nil, err
		}
		typ, err := c.readOptionalString()
		if err != nil {
			return nil, err
		}
		return FindElementRequest{Selector: sel, ByLabel: byLabel, Type: typ}, nil
	default:
		return nil, &InvalidOpCodeError{OpCode: byte(op)}
	}
}

// Response is the decoded form of an 0xA0 frame (or a bare 0x99 error,
// which decodes to the same ErrorResponse shape).
type Response interface {
	SubType() ResponseSubType
	encode(w *writer)
}

type OkResponse struct{}

func (OkResponse) SubType() ResponseSubType { return RespOk }
func (OkResponse) encode(*writer)           {}

type ErrorResponse struct {
	Message string
}

func (ErrorResponse) SubType() ResponseSubType { return RespError }
func (r ErrorResponse) encode(w *writer)       { w.writeString(r.Message) }

func (r ErrorResponse) Error() string { return r.Message }

type TreeResponse struct {
	TreeJSON string
}

func (TreeResponse) SubType() ResponseSubType { return RespTree }
func (r TreeResponse) encode(w *writer)       { w.writeString(r.TreeJSON) }

type ScreenshotResponse struct {
	Data []byte
}

func (ScreenshotResponse) SubType() ResponseSubType { return RespScreenshot }
func (r ScreenshotResponse) encode(w *writer) {
	w.writeU32(uint32(len(r.Data)))
	w.buf.Write(r.Data)
}

type ValueResponse struct {
	Value *string
}

func (ValueResponse) SubType() ResponseSubType { return RespValue }
func (r ValueResponse) encode(w *writer)       { w.writeOptionalString(r.Value) }

type ElementResponse struct {
	ElementJSON string
}

func (ElementResponse) SubType() ResponseSubType { return RespElement }
func (r ElementResponse) encode(w *writer)       { w.writeString(r.ElementJSON) }

// EncodeResponse serializes a response as an 0xA0 frame body.
func EncodeResponse(r Response) (OpCode, []byte) {
	w := &writer{}
	w.writeByte(byte(r.SubType()))
	r.encode(w)
	return OpResponse, w.buf.Bytes()
}

// DecodeResponse decodes a frame body given its opcode. A bare 0x99
// frame is treated as an ErrorResponse with the same field layout as
// the 0xA0/Error sub-type, per the bare-error aliasing rule.
func DecodeResponse(op OpCode, payload []byte) (Response, error) {
	switch op {
	case OpBareError:
		c := &cursor{buf: payload}
		msg, err := c.readString()
		if err != nil {
			return nil, err
		}
		return ErrorResponse{Message: msg}, nil
	case OpResponse:
		c := &cursor{buf: payload}
		sub, err := c.readByte()
		if err != nil {
			return nil, err
		}
		return decodeResponseBody(ResponseSubType(sub), c)
	default:
		return nil, &InvalidOpCodeError{OpCode: byte(op)}
	}
}

func decodeResponseBody(sub ResponseSubType, c *cursor) (Response, error) {
	switch sub {
	case RespOk:
		return OkResponse{}, nil
	case RespError:
		msg, err := c.readString()
		if err != nil {
			return nil, err
		}
		return ErrorResponse{Message: msg}, nil
	case RespTree:
		tree, err := c.readString()
		if err != nil {
			return nil, err
		}
		return TreeResponse{TreeJSON: tree}, nil
	case RespScreenshot:
		n, err := c.readU32()
		if err != nil {
			return nil, err
		}
		data, err := c.take(int(n))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, len(data))
		copy(buf, data)
		return ScreenshotResponse{Data: buf}, nil
	case RespValue:
		val, err := c.readOptionalString()
		if err != nil {
			return nil, err
		}
		return ValueResponse{Value: val}, nil
	case RespElement:
		elem, err := c.readString()
		if err != nil {
			return nil, err
		}
		return ElementResponse{ElementJSON: elem}, nil
	default:
		return nil, &InvalidPayloadError{Reason: fmt.Sprintf("unknown response sub-type 0x%02x", byte(sub))}
	}
}
