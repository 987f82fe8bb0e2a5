package ipcserver

import (
	"github.com/qorvex/qorvex-host/internal/action"
	"github.com/qorvex/qorvex-host/internal/session"
)

// Request types, one struct per tagged variant, discriminated by Type.
// Fields irrelevant to a given Type are left at their zero value, the
// same tagged-union-as-struct shape used for the wire protocol's
// requests and for Action itself.
const (
	ReqExecute           = "execute"
	ReqSubscribe         = "subscribe"
	ReqGetState          = "get_state"
	ReqGetLog            = "get_log"
	ReqStartSession      = "start_session"
	ReqEndSession        = "end_session"
	ReqListDevices       = "list_devices"
	ReqUseDevice         = "use_device"
	ReqBootDevice        = "boot_device"
	ReqStartAgent        = "start_agent"
	ReqStopAgent         = "stop_agent"
	ReqConnect           = "connect"
	ReqSetTarget         = "set_target"
	ReqSetTimeout        = "set_timeout"
	ReqGetTimeout        = "get_timeout"
	ReqStartWatcher      = "start_watcher"
	ReqStopWatcher       = "stop_watcher"
	ReqGetSessionInfo    = "get_session_info"
	ReqGetCompletionData = "get_completion_data"
	ReqShutdown          = "shutdown"
)

// Request is one line of client input. Every request carries a Type
// discriminator; only the fields relevant to that type are populated.
type Request struct {
	Type string `json:"type"`

	// Execute
	Action action.Action `json:"action,omitempty"`
	Tag    *string       `json:"tag,omitempty"`

	// UseDevice / BootDevice
	DeviceID string `json:"device_id,omitempty"`

	// StartAgent
	ProjectDir *string `json:"project_dir,omitempty"`
	Rebuild    bool    `json:"rebuild,omitempty"`

	// Connect
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`

	// SetTarget
	BundleID string `json:"bundle_id,omitempty"`

	// SetTimeout
	TimeoutMs uint64 `json:"timeout_ms,omitempty"`

	// StartWatcher
	IntervalMs *uint64 `json:"interval_ms,omitempty"`
}

// Response types, one struct per tagged variant.
const (
	RespActionResult   = "action_result"
	RespState          = "state"
	RespLog            = "log"
	RespEvent          = "event"
	RespError          = "error"
	RespCommandResult  = "command_result"
	RespDeviceList     = "device_list"
	RespSessionInfo    = "session_info"
	RespCompletionData = "completion_data"
	RespTimeoutValue   = "timeout_value"
	RespShutdownAck    = "shutdown_ack"
)

// Response is one line of server output. As with Request, only the
// fields relevant to Type are populated.
type Response struct {
	Type string `json:"type"`

	// ActionResult
	Success    bool    `json:"success,omitempty"`
	Message    string  `json:"message,omitempty"`
	Screenshot []byte  `json:"screenshot,omitempty"`
	Data       *string `json:"data,omitempty"`

	// State
	SessionID string `json:"session_id,omitempty"`

	// Log
	Entries []action.LogEntry `json:"entries,omitempty"`

	// Event
	Event *session.Event `json:"event,omitempty"`

	// DeviceList
	Devices []string `json:"devices,omitempty"`

	// SessionInfo
	SessionName string `json:"session_name,omitempty"`
	Active      bool   `json:"active,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	ActionCount int    `json:"action_count,omitempty"`

	// CompletionData
	Elements []string `json:"elements,omitempty"`

	// TimeoutValue
	TimeoutMs uint64 `json:"timeout_ms,omitempty"`
}

func actionResult(r action.Result) Response {
	return Response{Type: RespActionResult, Success: r.Success, Message: r.Message, Screenshot: r.Screenshot, Data: r.Data}
}

func errorResponse(message string) Response {
	return Response{Type: RespError, Message: message}
}

func commandResult(success bool, message string) Response {
	return Response{Type: RespCommandResult, Success: success, Message: message}
}
