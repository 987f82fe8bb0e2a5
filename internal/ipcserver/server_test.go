package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qorvex/qorvex-host/internal/action"
	"github.com/qorvex/qorvex-host/internal/session"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	sess, err := session.New(log.NewNop(), "ipc-test", nil, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.End() })

	sockPath := filepath.Join(t.TempDir(), "qorvex_ipc-test.sock")
	srv := New(Config{SocketPath: sockPath}, log.NewNop(), sess, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
		<-done
	})

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("unix", sockPath, 100*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return srv, sockPath
}

func dialClient(t *testing.T, sockPath string) (net.Conn, *bufio.Scanner) {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return conn, scanner
}

func sendRequest(t *testing.T, conn net.Conn, req Request) {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	_, err = conn.Write(append(b, '\n'))
	require.NoError(t, err)
}

func readResponse(t *testing.T, scanner *bufio.Scanner) Response {
	t.Helper()
	require.True(t, scanner.Scan())
	var resp Response
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
	return resp
}

func TestGetStateReturnsSessionID(t *testing.T) {
	srv, sock := newTestServer(t)
	conn, scanner := dialClient(t, sock)

	sendRequest(t, conn, Request{Type: ReqGetState})
	resp := readResponse(t, scanner)
	assert.Equal(t, RespState, resp.Type)
	assert.Equal(t, srv.session.ID, resp.SessionID)
}

func TestGetLogReturnsEmptyBeforeAnyActions(t *testing.T) {
	_, sock := newTestServer(t)
	conn, scanner := dialClient(t, sock)

	sendRequest(t, conn, Request{Type: ReqGetLog})
	resp := readResponse(t, scanner)
	assert.Equal(t, RespLog, resp.Type)
	assert.Empty(t, resp.Entries)
}

func TestExecuteWithoutDriverInstalledReturnsError(t *testing.T) {
	_, sock := newTestServer(t)
	conn, scanner := dialClient(t, sock)

	sendRequest(t, conn, Request{Type: ReqExecute, Action: action.LogComment("hi")})
	resp := readResponse(t, scanner)
	assert.Equal(t, RespError, resp.Type)
}

func TestUnsupportedRequestWithNoManagementHandlerReturnsError(t *testing.T) {
	_, sock := newTestServer(t)
	conn, scanner := dialClient(t, sock)

	sendRequest(t, conn, Request{Type: ReqListDevices})
	resp := readResponse(t, scanner)
	assert.Equal(t, RespError, resp.Type)
}

type fakeManagementHandler struct{}

func (fakeManagementHandler) Handle(ctx context.Context, req Request) (Response, bool) {
	if req.Type == ReqListDevices {
		return Response{Type: RespDeviceList, Devices: []string{"iphone-1"}}, true
	}
	return Response{}, false
}

func TestManagementHandlerServesAttachedVariant(t *testing.T) {
	srv, sock := newTestServer(t)
	srv.SetManagementHandler(fakeManagementHandler{})
	conn, scanner := dialClient(t, sock)

	sendRequest(t, conn, Request{Type: ReqListDevices})
	resp := readResponse(t, scanner)
	assert.Equal(t, RespDeviceList, resp.Type)
	assert.Equal(t, []string{"iphone-1"}, resp.Devices)
}

func TestSubscribeStreamsActionLoggedEvent(t *testing.T) {
	srv, sock := newTestServer(t)
	conn, scanner := dialClient(t, sock)

	sendRequest(t, conn, Request{Type: ReqSubscribe})

	// The Started event was published (with no subscribers yet) before
	// this connection subscribed, so keep logging until the
	// subscription has actually registered server-side and one lands.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_, _ = srv.session.LogAction(action.LogComment("hi"), action.Ok(), nil, 1, nil)
			}
		}
	}()

	resp := readResponse(t, scanner)
	assert.Equal(t, RespEvent, resp.Type)
	require.NotNil(t, resp.Event)
	assert.Equal(t, session.EventActionLogged, resp.Event.Kind)
}

func TestShutdownAcksAndClosesListener(t *testing.T) {
	_, sock := newTestServer(t)
	conn, scanner := dialClient(t, sock)

	sendRequest(t, conn, Request{Type: ReqShutdown})
	resp := readResponse(t, scanner)
	assert.Equal(t, RespShutdownAck, resp.Type)

	require.Eventually(t, func() bool {
		_, err := net.DialTimeout("unix", sock, 100*time.Millisecond)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStaleSocketFileIsRemovedOnServe(t *testing.T) {
	sess, err := session.New(log.NewNop(), "stale-test", nil, t.TempDir())
	require.NoError(t, err)
	defer sess.End()

	sockPath := filepath.Join(t.TempDir(), "qorvex_stale-test.sock")
	// Simulate a leftover socket file from a prior crashed run; Go's
	// unix listener unlinks its own socket on Close, so a plain stale
	// file is what Serve actually has to clear.
	require.NoError(t, os.WriteFile(sockPath, nil, 0o644))

	srv := New(Config{SocketPath: sockPath}, log.NewNop(), sess, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ctx)
		close(done)
	}()
	defer func() {
		srv.Shutdown()
		<-done
	}()

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("unix", sockPath, 100*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
}
