package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u64p(v uint64) *uint64    { return &v }
func f64p(v float64) *float64  { return &v }
func strp(v string) *string    { return &v }

func TestRequestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"heartbeat", HeartbeatRequest{}},
		{"tap_coord", TapCoordRequest{X: 10, Y: -20}},
		{"tap_element_no_timeout", TapElementRequest{Selector: "submit"}},
		{"tap_element_with_timeout", TapElementRequest{Selector: "submit", TimeoutMs: u64p(2000)}},
		{"tap_by_label", TapByLabelRequest{Label: "Login", TimeoutMs: u64p(500)}},
		{"tap_with_type", TapWithTypeRequest{Selector: "btn", ByLabel: true, Type: "Button", TimeoutMs: u64p(1)}},
		{"type_text", TypeTextRequest{Text: "hello world"}},
		{"swipe_no_duration", SwipeRequest{StartX: 0, StartY: 0, EndX: 100, EndY: 200}},
		{"swipe_with_duration", SwipeRequest{StartX: 1, StartY: 2, EndX: 3, EndY: 4, DurationSeconds: f64p(1.5)}},
		{"get_value", GetValueRequest{Selector: "field", ByLabel: false, Type: strp("TextField"), TimeoutMs: u64p(300)}},
		{"get_value_no_optionals", GetValueRequest{Selector: "field", ByLabel: true}},
		{"long_press", LongPressRequest{X: 5, Y: 6, Duration: 2.25}},
		{"dump_tree", DumpTreeRequest{}},
		{"screenshot", ScreenshotRequest{}},
		{"set_target", SetTargetRequest{BundleID: "com.example.app"}},
		{"find_element", FindElementRequest{Selector: "*Submit*", ByLabel: true, Type: strp("Button")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, payload := EncodeRequest(tt.req)
			assert.Equal(t, tt.req.OpCode(), op)

			decoded, err := DecodeRequest(op, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.req, decoded)
		})
	}
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		resp Response
	}{
		{"ok", OkResponse{}},
		{"error", ErrorResponse{Message: "element not hittable"}},
		{"tree", TreeResponse{TreeJSON: `{"children":[]}`}},
		{"screenshot", ScreenshotResponse{Data: []byte{0x89, 0x50, 0x4E, 0x47}}},
		{"value_present", ValueResponse{Value: strp("42")}},
		{"value_absent", ValueResponse{Value: nil}},
		{"element", ElementResponse{ElementJSON: `{"id":"x"}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, payload := EncodeResponse(tt.resp)
			assert.Equal(t, OpResponse, op)

			decoded, err := DecodeResponse(op, payload)
			require.NoError(t, err)
			assert.Equal(t, tt.resp, decoded)
		})
	}
}

func TestTrailingOptionalU64BackwardCompatibility(t *testing.T) {
	// Encoder writes None: a decoder that stops reading before the flag
	// byte (as an old agent effectively would, by never advancing past
	// the selector) must still be able to decode None if it reads no
	// further bytes at all.
	req := TapElementRequest{Selector: "submit", TimeoutMs: nil}
	_, payload := EncodeRequest(req)

	// Truncate the payload to drop the trailing optional-u64 flag byte
	// entirely, simulating an old encoder that never wrote this field.
	selectorLen := 4 + len(req.Selector)
	truncated := payload[:selectorLen]

	decoded, err := DecodeRequest(OpTapElement, truncated)
	require.NoError(t, err)
	assert.Equal(t, TapElementRequest{Selector: "submit", TimeoutMs: nil}, decoded)
}

func TestTruncatedPayloadFailsWithInsufficientData(t *testing.T) {
	_, payload := EncodeRequest(TapCoordRequest{X: 1, Y: 2})
	truncated := payload[:len(payload)-1]

	_, err := DecodeRequest(OpTapCoord, truncated)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestUnknownOpCodeFails(t *testing.T) {
	_, err := DecodeRequest(OpCode(0x7F), nil)
	var invalidOp *InvalidOpCodeError
	assert.ErrorAs(t, err, &invalidOp)
}

func TestBareErrorAliasesToResponseError(t *testing.T) {
	msg := "connection lost"
	bareOp, barePayload := func() (OpCode, []byte) {
		w := &writer{}
		w.writeString(msg)
		return OpBareError, w.buf.Bytes()
	}()

	bare, err := DecodeResponse(bareOp, barePayload)
	require.NoError(t, err)

	wrappedOp, wrappedPayload := EncodeResponse(ErrorResponse{Message: msg})
	wrapped, err := DecodeResponse(wrappedOp, wrappedPayload)
	require.NoError(t, err)

	assert.Equal(t, wrapped, bare)
}

func TestWriteFrameAndReadFrame(t *testing.T) {
	var buf bytes.Buffer
	op, payload := EncodeRequest(TapCoordRequest{X: 7, Y: 9})

	require.NoError(t, WriteFrame(&buf, op, payload))

	gotOp, gotPayload, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, op, gotOp)
	assert.Equal(t, payload, gotPayload)
}

func TestReadFrameRejectsZeroLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0})

	_, _, err := ReadFrame(&buf)
	require.Error(t, err)
	var invalidPayload *InvalidPayloadError
	assert.ErrorAs(t, err, &invalidPayload)
}

func TestInvalidUTF8Fails(t *testing.T) {
	w := &writer{}
	w.writeU32(2)
	w.buf.Write([]byte{0xFF, 0xFE})

	c := &cursor{buf: w.buf.Bytes()}
	_, err := c.readString()
	assert.ErrorIs(t, err, ErrUTF8)
}
