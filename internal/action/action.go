// Package action defines the executable action vocabulary the executor
// dispatches and the log records it produces.
package action

import "github.com/qorvex/qorvex-host/internal/element"

// Kind identifies which action variant a value carries.
type Kind string

const (
	KindTap          Kind = "tap"
	KindTapLocation  Kind = "tap_location"
	KindSwipe        Kind = "swipe"
	KindLongPress    Kind = "long_press"
	KindSendKeys     Kind = "send_keys"
	KindGetScreenshot Kind = "get_screenshot"
	KindGetScreenInfo Kind = "get_screen_info"
	KindGetValue     Kind = "get_value"
	KindWaitFor      Kind = "wait_for"
	KindWaitForNot   Kind = "wait_for_not"
	KindLogComment   Kind = "log_comment"
	KindStartSession Kind = "start_session"
	KindEndSession   Kind = "end_session"
)

// Action is a tagged union of every automation command the executor
// understands. Exactly the fields relevant to Kind are populated; the
// rest are left at their zero value.
type Action struct {
	Kind Kind `json:"kind"`

	Selector  element.Selector `json:"selector"`
	TimeoutMs *uint64          `json:"timeout_ms,omitempty"`

	X      int32 `json:"x,omitempty"`
	Y      int32 `json:"y,omitempty"`
	StartX int32 `json:"start_x,omitempty"`
	StartY int32 `json:"start_y,omitempty"`
	EndX   int32 `json:"end_x,omitempty"`
	EndY   int32 `json:"end_y,omitempty"`

	Duration *float64 `json:"duration,omitempty"` // swipe: optional; long_press: required (non-nil)

	Text string `json:"text,omitempty"`

	RequireStable bool `json:"require_stable,omitempty"`

	Comment string `json:"comment,omitempty"`
}

// Tap builds a Tap action.
func Tap(sel element.Selector, timeoutMs *uint64) Action {
	return Action{Kind: KindTap, Selector: sel, TimeoutMs: timeoutMs}
}

// TapLocation builds a TapLocation action.
func TapLocation(x, y int32) Action {
	return Action{Kind: KindTapLocation, X: x, Y: y}
}

// Swipe builds a Swipe action.
func Swipe(startX, startY, endX, endY int32, duration *float64) Action {
	return Action{Kind: KindSwipe, StartX: startX, StartY: startY, EndX: endX, EndY: endY, Duration: duration}
}

// LongPress builds a LongPress action.
func LongPress(x, y int32, duration float64) Action {
	return Action{Kind: KindLongPress, X: x, Y: y, Duration: &duration}
}

// SendKeys builds a SendKeys action.
func SendKeys(text string) Action {
	return Action{Kind: KindSendKeys, Text: text}
}

// GetValue builds a GetValue action.
func GetValue(sel element.Selector, timeoutMs *uint64) Action {
	return Action{Kind: KindGetValue, Selector: sel, TimeoutMs: timeoutMs}
}

// WaitFor builds a WaitFor action.
func WaitFor(sel element.Selector, timeoutMs uint64, requireStable bool) Action {
	return Action{Kind: KindWaitFor, Selector: sel, TimeoutMs: &timeoutMs, RequireStable: requireStable}
}

// WaitForNot builds a WaitForNot action.
func WaitForNot(sel element.Selector, timeoutMs uint64) Action {
	return Action{Kind: KindWaitForNot, Selector: sel, TimeoutMs: &timeoutMs}
}

// LogComment builds a LogComment action.
func LogComment(text string) Action {
	return Action{Kind: KindLogComment, Comment: text}
}

// Result is the outcome of executing an action.
type Result struct {
	Success    bool
	Message    string
	Screenshot []byte
	Data       *string
}

// Ok builds a successful, message-less result.
func Ok() Result { return Result{Success: true} }

// OkWithMessage builds a successful result carrying a message.
func OkWithMessage(msg string) Result { return Result{Success: true, Message: msg} }

// Fail builds a failed result carrying a message.
func Fail(msg string) Result { return Result{Success: false, Message: msg} }
