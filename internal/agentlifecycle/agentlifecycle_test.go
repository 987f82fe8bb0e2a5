package agentlifecycle

import (
	"context"
	"net"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/qorvex/qorvex-host/internal/wire"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startFakeAgentOn(t *testing.T, port int) {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				op, _, err := wire.ReadFrame(c)
				if err != nil {
					return
				}
				_ = op
				respOp, respPayload := wire.EncodeResponse(wire.OkResponse{})
				_ = wire.WriteFrame(c, respOp, respPayload)
			}(conn)
		}
	}()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(port int) Config {
	cfg := DefaultConfig("/fake/project")
	cfg.AgentPort = port
	cfg.StartupTimeout = 2 * time.Second
	cfg.MaxRetries = 1
	cfg.BuildCommand = func(projectDir string) (string, error) {
		return "/fake/build/QorvexAgent.app", nil
	}
	cfg.SpawnCommand = func(artifactPath, deviceID string, port int) (*exec.Cmd, error) {
		// Simulate a spawned process without actually launching a
		// simulator: a short-lived no-op child the test can kill.
		cmd := exec.Command("sleep", "5")
		if err := cmd.Start(); err != nil {
			return nil, err
		}
		return cmd, nil
	}
	return cfg
}

func TestEnsureRunningBuildsSpawnsAndWaits(t *testing.T) {
	port := freePort(t)
	startFakeAgentOn(t, port)

	l := New(testConfig(port), log.NewNop())
	err := l.EnsureRunning(context.Background(), "DEVICE-1")
	require.NoError(t, err)
	assert.Equal(t, "/fake/build/QorvexAgent.app", l.LastBuildArtifactPath())

	require.NoError(t, l.Terminate())
}

func TestEnsureReadySkipsSpawnWhenAlreadyReachable(t *testing.T) {
	port := freePort(t)
	startFakeAgentOn(t, port)

	spawnCalled := false
	cfg := testConfig(port)
	cfg.SpawnCommand = func(artifactPath, deviceID string, port int) (*exec.Cmd, error) {
		spawnCalled = true
		return exec.Command("sleep", "5"), nil
	}

	l := New(cfg, log.NewNop())
	err := l.EnsureReady(context.Background(), "DEVICE-1")
	require.NoError(t, err)
	assert.False(t, spawnCalled, "EnsureReady must not spawn when the agent already responds")
}

func TestReadyWaitTimesOutWhenAgentNeverResponds(t *testing.T) {
	port := freePort(t) // nothing listens here

	cfg := testConfig(port)
	cfg.StartupTimeout = 200 * time.Millisecond
	l := New(cfg, log.NewNop())

	err := l.ReadyWait(context.Background())
	assert.ErrorIs(t, err, ErrStartupTimeout)
}

func TestBuildIsSkippedWhenArtifactAlreadyPresent(t *testing.T) {
	port := freePort(t)
	startFakeAgentOn(t, port)

	buildCalls := 0
	cfg := testConfig(port)
	cfg.BuildCommand = func(projectDir string) (string, error) {
		buildCalls++
		return "/fake/build/QorvexAgent.app", nil
	}

	l := New(cfg, log.NewNop())
	require.NoError(t, l.Build())
	require.NoError(t, l.EnsureRunning(context.Background(), "DEVICE-1"))

	assert.Equal(t, 1, buildCalls, "EnsureRunning should not rebuild when an artifact is already present")
}
