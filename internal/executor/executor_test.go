package executor

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qorvex/qorvex-host/internal/action"
	"github.com/qorvex/qorvex-host/internal/agentclient"
	"github.com/qorvex/qorvex-host/internal/driver"
	"github.com/qorvex/qorvex-host/internal/element"
	"github.com/qorvex/qorvex-host/internal/session"
	"github.com/qorvex/qorvex-host/internal/wire"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct{ ln net.Listener }

func newFakeAgent(t *testing.T, port int, handle func(op wire.OpCode, payload []byte) (wire.OpCode, []byte)) *fakeAgent {
	t.Helper()
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	fa := &fakeAgent{ln: ln}
	go func() {
		for {
			conn, err := ln.Accept()
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
	}()
	return fa
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New(log.NewNop(), "exec-test", nil, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.End() })
	return s
}

func newConnectedDriver(t *testing.T, port int) *driver.Driver {
	t.Helper()
	d := driver.New(log.NewNop())
	require.NoError(t, d.Connect(context.Background(), agentclient.Endpoint{Host: "127.0.0.1", Port: port}))
	return d
}

func trueVal() *bool { b := true; return &b }

func elementJSON(t *testing.T, e element.Element) string {
	t.Helper()
	b, err := json.Marshal(e)
	require.NoError(t, err)
	return string(b)
}

func TestExecuteCoordinateTap(t *testing.T) {
	port := freePort(t)
	newFakeAgent(t, port, func(op wire.OpCode, payload []byte) (wire.OpCode, []byte) {
		return wire.EncodeResponse(wire.OkResponse{})
	})
	d := newConnectedDriver(t, port)
	sess := newTestSession(t)
	exec := New(log.NewNop(), d, sess, nil)

	result := exec.Execute(context.Background(), action.TapLocation(100, 200), nil)
	assert.True(t, result.Success)

	entries := sess.ActionLog()
	require.Len(t, entries, 1)
	assert.Equal(t, action.KindTapLocation, entries[0].Action.Kind)
}

func TestExecuteElementTapWithAutoWaitSucceedsAfterAgentRetry(t *testing.T) {
	port := freePort(t)
	var calls atomic.Int32
	newFakeAgent(t, port, func(op wire.OpCode, payload []byte) (wire.OpCode, []byte) {
		calls.Add(1)
		return wire.EncodeResponse(wire.OkResponse{})
	})
	d := newConnectedDriver(t, port)
	sess := newTestSession(t)
	exec := New(log.NewNop(), d, sess, nil)

	timeout := uint64(2000)
	act := action.Tap(element.Selector{Value: "submit"}, &timeout)
	result := exec.Execute(context.Background(), act, nil)

	assert.True(t, result.Success)
	entries := sess.ActionLog()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].TapMs)
	assert.GreaterOrEqual(t, *entries[0].TapMs, int64(0))
}

func TestExecuteTapWithoutTimeoutFailsOnSingleAttempt(t *testing.T) {
	port := freePort(t)
	newFakeAgent(t, port, func(op wire.OpCode, payload []byte) (wire.OpCode, []byte) {
		if op == wire.OpHeartbeat {
			return wire.EncodeResponse(wire.OkResponse{})
		}
		return wire.EncodeResponse(wire.ErrorResponse{Message: "element not hittable"})
	})
	d := newConnectedDriver(t, port)
	sess := newTestSession(t)
	exec := New(log.NewNop(), d, sess, nil)

	result := exec.Execute(context.Background(), action.Tap(element.Selector{Value: "submit"}, nil), nil)
	assert.False(t, result.Success)
}

func TestWaitForStabilityAcrossThreeIdenticalFrames(t *testing.T) {
	port := freePort(t)
	frameA := element.Frame{X: 1, Y: 1, Width: 10, Height: 10}
	frameB := element.Frame{X: 2, Y: 2, Width: 10, Height: 10}
	frames := []element.Frame{frameA, frameB, frameA, frameA, frameA}
	var idx atomic.Int32

	newFakeAgent(t, port, func(op wire.OpCode, payload []byte) (wire.OpCode, []byte) {
		i := idx.Add(1) - 1
		f := frames[int(i)%len(frames)]
		el := element.Element{Identifier: strp("target"), Hittable: trueVal(), Frame: &f}
		return wire.EncodeResponse(wire.ElementResponse{ElementJSON: elementJSON(t, el)})
	})
	d := newConnectedDriver(t, port)
	sess := newTestSession(t)
	exec := New(log.NewNop(), d, sess, nil)

	timeoutMs := uint64(2000)
	start := time.Now()
	result := exec.Execute(context.Background(), action.WaitFor(element.Selector{Value: "target"}, timeoutMs, true), nil)
	elapsed := time.Since(start)

	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, elapsed, 2*pollInterval)
}

func TestWaitForNeverSucceedsWithAlternatingFrames(t *testing.T) {
	port := freePort(t)
	frameA := element.Frame{X: 1, Y: 1, Width: 10, Height: 10}
	frameB := element.Frame{X: 2, Y: 2, Width: 10, Height: 10}
	var idx atomic.Int32

	newFakeAgent(t, port, func(op wire.OpCode, payload []byte) (wire.OpCode, []byte) {
		i := idx.Add(1)
		f := frameA
		if i%2 == 0 {
			f = frameB
		}
		el := element.Element{Identifier: strp("target"), Hittable: trueVal(), Frame: &f}
		return wire.EncodeResponse(wire.ElementResponse{ElementJSON: elementJSON(t, el)})
	})
	d := newConnectedDriver(t, port)
	sess := newTestSession(t)
	exec := New(log.NewNop(), d, sess, nil)

	timeoutMs := uint64(350)
	result := exec.Execute(context.Background(), action.WaitFor(element.Selector{Value: "target"}, timeoutMs, true), nil)
	assert.False(t, result.Success)
}

func TestWaitForNotSucceedsOnFirstAbsentPoll(t *testing.T) {
	port := freePort(t)
	newFakeAgent(t, port, func(op wire.OpCode, payload []byte) (wire.OpCode, []byte) {
		if op == wire.OpHeartbeat {
			return wire.EncodeResponse(wire.OkResponse{})
		}
		return wire.EncodeResponse(wire.ErrorResponse{Message: "element not found"})
	})
	d := newConnectedDriver(t, port)
	sess := newTestSession(t)
	exec := New(log.NewNop(), d, sess, nil)

	timeoutMs := uint64(1000)
	result := exec.Execute(context.Background(), action.WaitForNot(element.Selector{Value: "target"}, timeoutMs), nil)
	assert.True(t, result.Success)
}

func TestWaitForNotFailsOnTransportError(t *testing.T) {
	port := freePort(t)
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	var callIndex atomic.Int32
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		for {
			_, _, err := wire.ReadFrame(conn)
			if err != nil {
				return
			}
			switch callIndex.Add(1) {
			case 1: // liveness heartbeat performed by Connect
				respOp, respPayload := wire.EncodeResponse(wire.OkResponse{})
				_ = wire.WriteFrame(conn, respOp, respPayload)
			case 2: // first WaitForNot poll: element still present
				el := element.Element{Identifier: strp("target"), Hittable: trueVal(), Frame: &element.Frame{}}
				b, _ := json.Marshal(el)
				respOp, respPayload := wire.EncodeResponse(wire.ElementResponse{ElementJSON: string(b)})
				_ = wire.WriteFrame(conn, respOp, respPayload)
			default: // second poll: connection dies mid-read
				conn.Close()
				return
			}
		}
	}()

	d := driver.New(log.NewNop())
	require.NoError(t, d.Connect(context.Background(), agentclient.Endpoint{Host: "127.0.0.1", Port: port}))
	sess := newTestSession(t)
	exec := New(log.NewNop(), d, sess, nil)

	timeoutMs := uint64(1000)
	result := exec.Execute(context.Background(), action.WaitForNot(element.Selector{Value: "target"}, timeoutMs), nil)
	assert.False(t, result.Success)
}

func strp(s string) *string { return &s }
