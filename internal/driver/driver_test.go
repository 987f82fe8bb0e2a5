package driver

import (
	"context"
	"encoding/json"
	"net"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/qorvex/qorvex-host/internal/agentclient"
	"github.com/qorvex/qorvex-host/internal/agentlifecycle"
	"github.com/qorvex/qorvex-host/internal/element"
	"github.com/qorvex/qorvex-host/internal/wire"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	ln net.Listener
}

func newFakeAgent(t *testing.T, port int, handle func(op wire.OpCode, payload []byte) (wire.OpCode, []byte)) *fakeAgent {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	fa := &fakeAgent{ln: ln}
	go fa.serve(handle)
	return fa
}

func (fa *fakeAgent) serve(handle func(wire.OpCode, []byte) (wire.OpCode, []byte)) {
	for {
		conn, err := fa.ln.Accept()
		if err != nil {
			return
		}
		go func(c net.Conn) {
			defer c.Close()
			for {
				op, payload, err := wire.ReadFrame(c)
				if err != nil {
					return
				}
				respOp, respPayload := handle(op, payload)
				if err := wire.WriteFrame(c, respOp, respPayload); err != nil {
					return
				}
			}
		}(conn)
	}
}

func (fa *fakeAgent) close() { fa.ln.Close() }

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func okHandler(op wire.OpCode, payload []byte) (wire.OpCode, []byte) {
	return wire.EncodeResponse(wire.OkResponse{})
}

func TestTapLocationSuccess(t *testing.T) {
	port := freePort(t)
	agent := newFakeAgent(t, port, okHandler)
	defer agent.close()

	d := New(log.NewNop())
	require.NoError(t, d.Connect(context.Background(), agentclient.Endpoint{Host: "127.0.0.1", Port: port}))

	err := d.TapLocation(context.Background(), 10, 20)
	assert.NoError(t, err)
}

func TestDumpTreeDecodesElements(t *testing.T) {
	port := freePort(t)
	tree := []*element.Element{
		{Identifier: strp("root")},
	}
	treeJSON, err := json.Marshal(tree)
	require.NoError(t, err)

	agent := newFakeAgent(t, port, func(op wire.OpCode, payload []byte) (wire.OpCode, []byte) {
		return wire.EncodeResponse(wire.TreeResponse{TreeJSON: string(treeJSON)})
	})
	defer agent.close()

	d := New(log.NewNop())
	require.NoError(t, d.Connect(context.Background(), agentclient.Endpoint{Host: "127.0.0.1", Port: port}))

	got, err := d.DumpTree(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "root", *got[0].Identifier)
}

func strp(s string) *string { return &s }

func TestRecoveryViaReconnect(t *testing.T) {
	port := freePort(t)
	agent := newFakeAgent(t, port, okHandler)
	defer agent.close()

	lc := agentlifecycle.New(agentlifecycle.Config{
		AgentPort:      port,
		StartupTimeout: time.Second,
		MaxRetries:     1,
	}, log.NewNop())

	d := New(log.NewNop(), WithLifecycle(lc, "DEVICE-1"))
	require.NoError(t, d.Connect(context.Background(), agentclient.Endpoint{Host: "127.0.0.1", Port: port}))

	// Simulate a dropped-but-alive agent: invalidate the client's stream
	// directly, without touching the still-listening fake agent, so the
	// next send sees NotConnected and reconnect succeeds against the
	// same listener.
	d.client.Close()

	err := d.TapLocation(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), d.RecoveryCount())
}

func TestRecoveryViaRespawnWhenReconnectFails(t *testing.T) {
	port := freePort(t)
	agent := newFakeAgent(t, port, okHandler)

	spawned := false
	lc := agentlifecycle.New(agentlifecycle.Config{
		AgentPort:      port,
		StartupTimeout: 2 * time.Second,
		MaxRetries:     1,
		BuildCommand: func(projectDir string) (string, error) {
			return "/fake/build/QorvexAgent.app", nil
		},
		SpawnCommand: func(artifactPath, deviceID string, agentPort int) (*exec.Cmd, error) {
			spawned = true
			// Simulate respawn bringing the agent back up on the same
			// port the original listener occupied.
			newFakeAgent(t, agentPort, okHandler)
			return exec.Command("sleep", "5"), nil
		},
	}, log.NewNop())
	require.NoError(t, lc.Build())

	d := New(log.NewNop(), WithLifecycle(lc, "DEVICE-1"))
	require.NoError(t, d.Connect(context.Background(), agentclient.Endpoint{Host: "127.0.0.1", Port: port}))

	// Kill the listener entirely so reconnect (stage 1) fails and the
	// driver must fall through to respawn (stage 2).
	agent.close()
	d.client.Close()

	err := d.TapLocation(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, spawned, "expected respawn to be attempted after reconnect failed")
	assert.Equal(t, uint64(1), d.RecoveryCount())
}

func TestTimeoutDoesNotTriggerRecovery(t *testing.T) {
	port := freePort(t)
	// Accept the connection but never respond, forcing a read deadline.
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = wire.ReadFrame(conn)
		time.Sleep(2 * time.Second)
	}()

	lc := agentlifecycle.New(agentlifecycle.Config{AgentPort: port, StartupTimeout: time.Second, MaxRetries: 1}, log.NewNop())
	d := New(log.NewNop(), WithLifecycle(lc, "DEVICE-1"))
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	endpoint := agentclient.Endpoint{Host: "127.0.0.1", Port: port}
	d.client.InstallConn(conn, endpoint)
	d.endpoint = endpoint

	_, err = d.send(context.Background(), "tap_location", wire.TapCoordRequest{X: 1, Y: 1}, 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, uint64(0), d.RecoveryCount(), "a deadline expiry must not trigger staged recovery on the same call")
}
