// Package agentlifecycle builds, spawns, and terminates the on-device
// agent process and probes it for readiness. It owns no wire traffic
// itself — internal/driver attaches a Lifecycle purely for staged crash
// recovery (reconnect, then respawn).
package agentlifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/qorvex/qorvex-host/internal/agentclient"
	"github.com/qorvex/qorvex-host/pkg/log"
)

// ErrStartupTimeout is returned when the agent never responds to a
// heartbeat within the configured startup timeout.
var ErrStartupTimeout = errors.New("agentlifecycle: agent did not become ready within startup timeout")

// ErrNotRunning is returned by operations that require a tracked child
// process when none is currently owned by this lifecycle handle.
var ErrNotRunning = errors.New("agentlifecycle: agent is not running")

const readyPollInterval = 500 * time.Millisecond

// Config configures how the agent is built, launched, and probed.
type Config struct {
	// ProjectDir is the on-disk location of the agent's Xcode project,
	// built for a generic simulator target (no specific device).
	ProjectDir string
	// AgentPort is the fixed TCP port the agent listens on once spawned.
	AgentPort int
	// StartupTimeout bounds how long ReadyWait polls before giving up.
	StartupTimeout time.Duration
	// MaxRetries bounds how many spawn+wait cycles EnsureRunning attempts
	// beyond the first.
	MaxRetries int
	// BuildCommand and SpawnCommand let callers substitute the concrete
	// toolchain invocation (real builds shell out to xcodebuild/simctl);
	// tests substitute fakes.
	BuildCommand func(projectDir string) (artifactPath string, err error)
	SpawnCommand func(artifactPath, deviceID string, port int) (*exec.Cmd, error)
}

// DefaultConfig returns the documented defaults: port 9800, a 30s
// startup timeout, and up to 3 retries.
func DefaultConfig(projectDir string) Config {
	return Config{
		ProjectDir:     projectDir,
		AgentPort:      9800,
		StartupTimeout: 30 * time.Second,
		MaxRetries:     3,
		BuildCommand:   defaultBuildCommand,
		SpawnCommand:   defaultSpawnCommand,
	}
}

// Lifecycle owns build/spawn/terminate operations and a single tracked
// child process for one device. Safe for concurrent use; only one
// logical owner should drive lifecycle transitions at a time even
// though the handle may be shared for readonly queries.
type Lifecycle struct {
	config Config
	logger log.Logger

	mu           sync.Mutex
	cmd          *exec.Cmd
	deviceID     string
	artifactPath string
}

// New returns a lifecycle manager for the given configuration.
func New(config Config, logger log.Logger) *Lifecycle {
	if config.BuildCommand == nil {
		config.BuildCommand = defaultBuildCommand
	}
	if config.SpawnCommand == nil {
		config.SpawnCommand = defaultSpawnCommand
	}
	return &Lifecycle{config: config, logger: logger}
}

// LastBuildArtifactPath returns the path produced by the most recent
// successful Build, or empty if none has run yet this process lifetime.
func (l *Lifecycle) LastBuildArtifactPath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.artifactPath
}

// AgentPort returns the fixed TCP port this lifecycle's agent listens on.
func (l *Lifecycle) AgentPort() int {
	return l.config.AgentPort
}

// Build compiles the agent test bundle for a generic simulator target.
func (l *Lifecycle) Build() error {
	path, err := l.config.BuildCommand(l.config.ProjectDir)
	if err != nil {
		return fmt.Errorf("agentlifecycle: build: %w", err)
	}
	l.mu.Lock()
	l.artifactPath = path
	l.mu.Unlock()
	l.logger.Info().Str("artifact_path", path).Msg("agent build succeeded")
	return nil
}

// ForceRebuild discards any cached artifact path and rebuilds
// unconditionally, used when a caller knows the on-disk bundle is stale.
func (l *Lifecycle) ForceRebuild() error {
	l.mu.Lock()
	l.artifactPath = ""
	l.mu.Unlock()
	return l.Build()
}

// Spawn launches the pre-built bundle bound to deviceID, tracking the
// child process so Terminate can kill it directly.
func (l *Lifecycle) Spawn(deviceID string) error {
	l.mu.Lock()
	artifactPath := l.artifactPath
	l.mu.Unlock()
	if artifactPath == "" {
		return fmt.Errorf("agentlifecycle: spawn: no build artifact present")
	}

	cmd, err := l.config.SpawnCommand(artifactPath, deviceID, l.config.AgentPort)
	if err != nil {
		return fmt.Errorf("agentlifecycle: spawn: %w", err)
	}

	l.mu.Lock()
	l.cmd = cmd
	l.deviceID = deviceID
	l.mu.Unlock()
	l.logger.Info().Str("device_id", deviceID).Msg("agent spawned")
	return nil
}

// Terminate kills the tracked child process. If no child handle is
// held (e.g. this lifecycle didn't spawn it, or the process already
// exited), it falls back to a platform-specific terminate-by-bundle-id
// call so a stray agent left over from a previous run is still cleaned
// up.
func (l *Lifecycle) Terminate() error {
	l.mu.Lock()
	cmd := l.cmd
	deviceID := l.deviceID
	l.cmd = nil
	l.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("agentlifecycle: terminate: kill child: %w", err)
		}
		_ = cmd.Wait()
		return nil
	}

	if deviceID == "" {
		return nil
	}
	return terminateByBundleID(deviceID)
}

// ReadyWait polls the agent's TCP port every 500ms, sending a heartbeat
// on each successful connection, until either a heartbeat succeeds or
// the configured startup timeout elapses.
func (l *Lifecycle) ReadyWait(ctx context.Context) error {
	deadline := time.Now().Add(l.config.StartupTimeout)
	endpoint := agentclient.Endpoint{Host: "127.0.0.1", Port: l.config.AgentPort}

	for {
		client := agentclient.New(l.logger)
		connectCtx, cancel := context.WithTimeout(ctx, readyPollInterval)
		err := client.Connect(connectCtx, endpoint)
		cancel()
		if err == nil {
			client.Close()
			return nil
		}

		if time.Now().After(deadline) {
			return ErrStartupTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

// EnsureRunning builds (if no artifact is present), spawns, and waits
// for readiness, retrying the spawn+wait cycle up to MaxRetries+1
// total attempts.
func (l *Lifecycle) EnsureRunning(ctx context.Context, deviceID string) error {
	if l.LastBuildArtifactPath() == "" {
		if err := l.Build(); err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= l.config.MaxRetries; attempt++ {
		if err := l.Spawn(deviceID); err != nil {
			return err
		}
		err := l.ReadyWait(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		_ = l.Terminate()
	}
	return lastErr
}

// EnsureReady tries a readiness probe first; if the agent is already
// reachable it returns without spawning anything. Otherwise it
// delegates to EnsureRunning.
func (l *Lifecycle) EnsureReady(ctx context.Context, deviceID string) error {
	probeCtx, cancel := context.WithTimeout(ctx, l.config.StartupTimeout)
	defer cancel()
	if err := l.ReadyWait(probeCtx); err == nil {
		return nil
	}
	return l.EnsureRunning(ctx, deviceID)
}

// Close terminates any child process this handle owns, matching the
// documented drop behavior: on scope exit, kill what you spawned.
func (l *Lifecycle) Close() error {
	return l.Terminate()
}

func defaultBuildCommand(projectDir string) (string, error) {
	cmd := exec.Command("xcodebuild", "build-for-testing",
		"-project", projectDir,
		"-scheme", "QorvexAgent",
		"-destination", "generic/platform=iOS Simulator",
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("xcodebuild: %w: %s", err, out)
	}
	return projectDir + "/build/QorvexAgent.app", nil
}

func defaultSpawnCommand(artifactPath, deviceID string, port int) (*exec.Cmd, error) {
	cmd := exec.Command("xcrun", "simctl", "launch", deviceID, "com.qorvex.agent",
		fmt.Sprintf("--agent-port=%d", port), fmt.Sprintf("--bundle-path=%s", artifactPath))
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func terminateByBundleID(deviceID string) error {
	cmd := exec.Command("xcrun", "simctl", "terminate", deviceID, "com.qorvex.agent")
	out, err := cmd.CombinedOutput()
	if err != nil {
		// simctl reports non-zero when the app isn't running; treat as success.
		if strings.Contains(strings.ToLower(string(out)), "not running") {
			return nil
		}
		return fmt.Errorf("agentlifecycle: terminate by bundle id: %w: %s", err, out)
	}
	return nil
}
