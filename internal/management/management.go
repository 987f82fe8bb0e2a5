// Package management implements the pluggable side of the IPC server's
// request surface: everything beyond Execute/Subscribe/GetState/GetLog
// (device discovery, agent lifecycle, connection, app targeting, the
// selector timeout, the background watcher, and session/completion
// queries). It is the daemon's orchestration layer, gluing
// internal/agentlifecycle and internal/driver to a single IPC server's
// pluggable management slot.
package management

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qorvex/qorvex-host/internal/agentclient"
	"github.com/qorvex/qorvex-host/internal/agentlifecycle"
	"github.com/qorvex/qorvex-host/internal/driver"
	"github.com/qorvex/qorvex-host/internal/element"
	"github.com/qorvex/qorvex-host/internal/ipcserver"
	"github.com/qorvex/qorvex-host/internal/session"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/qorvex/qorvex-host/pkg/metrics"
	"github.com/qorvex/qorvex-host/pkg/tracing"
)

// DeviceLister discovers and boots simulator/device targets. Simulator
// control itself is an external collaborator (spec.md's Non-goals list
// "simulator control shell-outs" as out of scope); this interface is the
// seam a real implementation plugs into, with a process-backed default
// in simctl.go and a fake usable by tests.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]string, error)
	BootDevice(ctx context.Context, deviceID string) error
}

// Config configures a Manager's defaults for agent startup and the
// driver's observability wiring.
type Config struct {
	ProjectDir          string
	AgentPort           int
	AgentStartupTimeout time.Duration
	AgentMaxRetries     int
	DefaultTimeoutMs    uint64
	DefaultWatcherMs    uint64
}

// Manager holds daemon-lifetime state for the management request
// surface: the single active session, the currently installed driver
// (if any), an agent lifecycle handle, and the background watcher.
// Implements ipcserver.ManagementHandler.
type Manager struct {
	logger  log.Logger
	config  Config
	metrics *metrics.Metrics
	tracer  *tracing.Tracer

	devices DeviceLister

	installDriver func(*driver.Driver)

	mu         sync.Mutex
	session    *session.Session
	lifecycle  *agentlifecycle.Lifecycle
	drv        *driver.Driver
	deviceID   string
	timeoutMs  uint64
	watcherCtl *watcherHandle
}

type watcherHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a Manager bound to sess, reporting driver installs through
// installDriver (typically (*ipcserver.Server).InstallDriver).
func New(logger log.Logger, cfg Config, sess *session.Session, devices DeviceLister, m *metrics.Metrics, tracer *tracing.Tracer, installDriver func(*driver.Driver)) *Manager {
	return &Manager{
		logger:        logger,
		config:        cfg,
		metrics:       m,
		tracer:        tracer,
		devices:       devices,
		installDriver: installDriver,
		session:       sess,
		timeoutMs:     cfg.DefaultTimeoutMs,
	}
}

var _ ipcserver.ManagementHandler = (*Manager)(nil)

// Handle dispatches one management request. It returns (_, false) for
// any request type it does not own (Execute/Subscribe/GetState/GetLog,
// already handled by the server's default dispatch).
func (m *Manager) Handle(ctx context.Context, req ipcserver.Request) (ipcserver.Response, bool) {
	switch req.Type {
	case ipcserver.ReqStartSession:
		return m.handleStartSession(), true
	case ipcserver.ReqEndSession:
		return m.handleEndSession(), true
	case ipcserver.ReqListDevices:
		return m.handleListDevices(ctx), true
	case ipcserver.ReqUseDevice:
		return m.handleUseDevice(req), true
	case ipcserver.ReqBootDevice:
		return m.handleBootDevice(ctx, req), true
	case ipcserver.ReqStartAgent:
		return m.handleStartAgent(ctx, req), true
	case ipcserver.ReqStopAgent:
		return m.handleStopAgent(), true
	case ipcserver.ReqConnect:
		return m.handleConnect(ctx, req), true
	case ipcserver.ReqSetTarget:
		return m.handleSetTarget(ctx, req), true
	case ipcserver.ReqSetTimeout:
		return m.handleSetTimeout(req), true
	case ipcserver.ReqGetTimeout:
		return m.handleGetTimeout(), true
	case ipcserver.ReqStartWatcher:
		return m.handleStartWatcher(req), true
	case ipcserver.ReqStopWatcher:
		return m.handleStopWatcher(), true
	case ipcserver.ReqGetSessionInfo:
		return m.handleGetSessionInfo(), true
	case ipcserver.ReqGetCompletionData:
		return m.handleGetCompletionData(ctx), true
	default:
		return ipcserver.Response{}, false
	}
}

// Close tears down any background watcher and the agent lifecycle's
// owned child process. Called once, from the daemon's shutdown sequence
// after the IPC server stops accepting connections.
func (m *Manager) Close() error {
	m.stopWatcher()
	m.mu.Lock()
	lc := m.lifecycle
	m.mu.Unlock()
	if lc != nil {
		return lc.Close()
	}
	return nil
}

func (m *Manager) handleStartSession() ipcserver.Response {
	return commandResult(true, fmt.Sprintf("session %q already active", m.session.ID))
}

func (m *Manager) handleEndSession() ipcserver.Response {
	if err := m.session.End(); err != nil {
		return commandResult(false, err.Error())
	}
	return commandResult(true, "session ended")
}

func (m *Manager) handleListDevices(ctx context.Context) ipcserver.Response {
	devices, err := m.devices.ListDevices(ctx)
	if err != nil {
		return errorResponse(fmt.Sprintf("list devices: %v", err))
	}
	return ipcserver.Response{Type: ipcserver.RespDeviceList, Devices: devices}
}

func (m *Manager) handleUseDevice(req ipcserver.Request) ipcserver.Response {
	m.mu.Lock()
	m.deviceID = req.DeviceID
	m.mu.Unlock()
	return commandResult(true, fmt.Sprintf("using device %q", req.DeviceID))
}

func (m *Manager) handleBootDevice(ctx context.Context, req ipcserver.Request) ipcserver.Response {
	if err := m.devices.BootDevice(ctx, req.DeviceID); err != nil {
		return commandResult(false, err.Error())
	}
	return commandResult(true, fmt.Sprintf("booted device %q", req.DeviceID))
}

func (m *Manager) handleStartAgent(ctx context.Context, req ipcserver.Request) ipcserver.Response {
	m.mu.Lock()
	deviceID := m.deviceID
	projectDir := m.config.ProjectDir
	if req.ProjectDir != nil {
		projectDir = *req.ProjectDir
	}
	if m.lifecycle == nil {
		lcCfg := agentlifecycle.DefaultConfig(projectDir)
		if m.config.AgentPort != 0 {
			lcCfg.AgentPort = m.config.AgentPort
		}
		if m.config.AgentStartupTimeout != 0 {
			lcCfg.StartupTimeout = m.config.AgentStartupTimeout
		}
		if m.config.AgentMaxRetries != 0 {
			lcCfg.MaxRetries = m.config.AgentMaxRetries
		}
		m.lifecycle = agentlifecycle.New(lcCfg, m.logger)
	}
	lc := m.lifecycle
	agentPort := lc.AgentPort()
	m.mu.Unlock()

	if req.Rebuild {
		_ = lc.Terminate()
		if err := lc.ForceRebuild(); err != nil {
			return commandResult(false, fmt.Sprintf("rebuild agent: %v", err))
		}
	}

	if err := lc.EnsureRunning(ctx, deviceID); err != nil {
		return commandResult(false, fmt.Sprintf("start agent: %v", err))
	}

	drv := driver.New(m.logger, driver.WithLifecycle(lc, deviceID), withMetrics(m.metrics), withTracer(m.tracer))
	endpoint := agentclient.Endpoint{Host: "127.0.0.1", Port: agentPort}
	if err := drv.Connect(ctx, endpoint); err != nil {
		return commandResult(false, fmt.Sprintf("connect to agent: %v", err))
	}

	m.installLocked(drv)
	return commandResult(true, "agent started")
}

func (m *Manager) handleStopAgent() ipcserver.Response {
	m.mu.Lock()
	lc := m.lifecycle
	m.mu.Unlock()

	m.installLocked(nil)
	if lc == nil {
		return commandResult(true, "no agent running")
	}
	if err := lc.Terminate(); err != nil {
		return commandResult(false, fmt.Sprintf("stop agent: %v", err))
	}
	return commandResult(true, "agent stopped")
}

func (m *Manager) handleConnect(ctx context.Context, req ipcserver.Request) ipcserver.Response {
	drv := driver.New(m.logger, withMetrics(m.metrics), withTracer(m.tracer))
	endpoint := agentclient.Endpoint{Host: req.Host, Port: req.Port}
	if err := drv.Connect(ctx, endpoint); err != nil {
		return commandResult(false, fmt.Sprintf("connect: %v", err))
	}
	m.installLocked(drv)
	return commandResult(true, fmt.Sprintf("connected to %s", endpoint))
}

func (m *Manager) handleSetTarget(ctx context.Context, req ipcserver.Request) ipcserver.Response {
	drv := m.currentDriver()
	if drv == nil {
		return commandResult(false, "no agent connection installed")
	}
	if err := drv.SetTarget(ctx, req.BundleID); err != nil {
		return commandResult(false, err.Error())
	}
	return commandResult(true, fmt.Sprintf("target set to %q", req.BundleID))
}

func (m *Manager) handleSetTimeout(req ipcserver.Request) ipcserver.Response {
	m.mu.Lock()
	m.timeoutMs = req.TimeoutMs
	m.mu.Unlock()
	return ipcserver.Response{Type: ipcserver.RespTimeoutValue, TimeoutMs: req.TimeoutMs}
}

func (m *Manager) handleGetTimeout() ipcserver.Response {
	m.mu.Lock()
	ms := m.timeoutMs
	m.mu.Unlock()
	return ipcserver.Response{Type: ipcserver.RespTimeoutValue, TimeoutMs: ms}
}

func (m *Manager) handleGetSessionInfo() ipcserver.Response {
	m.mu.Lock()
	deviceID := m.deviceID
	drv := m.drv
	m.mu.Unlock()

	return ipcserver.Response{
		Type:        ipcserver.RespSessionInfo,
		SessionName: m.session.Name,
		Active:      drv != nil && drv.IsConnected(),
		DeviceID:    deviceID,
		ActionCount: len(m.session.ActionLog()),
	}
}

func (m *Manager) handleGetCompletionData(ctx context.Context) ipcserver.Response {
	resp := ipcserver.Response{Type: ipcserver.RespCompletionData}

	if devices, err := m.devices.ListDevices(ctx); err == nil {
		resp.Devices = devices
	}

	drv := m.currentDriver()
	if drv == nil {
		return resp
	}
	elements, err := drv.ListElements(ctx)
	if err != nil {
		return resp
	}
	resp.Elements = selectorCompletions(elements)
	return resp
}

func selectorCompletions(elements []*element.Element) []string {
	out := make([]string, 0, len(elements))
	for _, e := range elements {
		if e.Identifier != nil {
			out = append(out, *e.Identifier)
		} else if e.Label != nil {
			out = append(out, *e.Label)
		}
	}
	return out
}

func (m *Manager) currentDriver() *driver.Driver {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drv
}

func (m *Manager) installLocked(drv *driver.Driver) {
	m.mu.Lock()
	m.drv = drv
	m.mu.Unlock()
	m.installDriver(drv)
}

func commandResult(success bool, message string) ipcserver.Response {
	return ipcserver.Response{Type: ipcserver.RespCommandResult, Success: success, Message: message}
}

func errorResponse(message string) ipcserver.Response {
	return ipcserver.Response{Type: ipcserver.RespError, Message: message}
}

func withMetrics(m *metrics.Metrics) driver.Option {
	if m == nil {
		return func(*driver.Driver) {}
	}
	return driver.WithMetrics(m.Driver)
}

func withTracer(t *tracing.Tracer) driver.Option {
	return driver.WithTracer(t)
}
