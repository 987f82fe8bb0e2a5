package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/qorvex/qorvex-host/internal/ipcserver"
)

// Client speaks the daemon's newline-delimited-JSON protocol over a
// Unix-domain socket: one JSON Request per line out, one JSON Response
// per line back. Each call dials fresh since the CLI is a short-lived
// process issuing one request per invocation (Subscribe excepted, which
// holds the connection open for the stream).
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient returns a client dialing socketPath, each request bounded
// by timeout.
func NewClient(socketPath string, timeout time.Duration) *Client {
	return &Client{socketPath: socketPath, timeout: timeout}
}

// Do sends req and returns the single Response line the daemon replies
// with.
func (c *Client) Do(req ipcserver.Request) (ipcserver.Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return ipcserver.Response{}, fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	enc := json.NewEncoder(conn)
	if err := enc.Encode(req); err != nil {
		return ipcserver.Response{}, fmt.Errorf("send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return ipcserver.Response{}, fmt.Errorf("read response: %w", err)
		}
		return ipcserver.Response{}, fmt.Errorf("daemon closed connection without a response")
	}

	var resp ipcserver.Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return ipcserver.Response{}, fmt.Errorf("parse response: %w", err)
	}
	if resp.Type == ipcserver.RespError {
		return resp, fmt.Errorf("daemon error: %s", resp.Message)
	}
	return resp, nil
}

// Subscribe dials socketPath and streams Response lines (each carrying
// an Event) until the connection closes or onEvent returns an error.
// Unlike Do, this holds the connection open for the process lifetime of
// the calling command.
func (c *Client) Subscribe(onEvent func(ipcserver.Response) error) error {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	enc := json.NewEncoder(conn)
	if err := enc.Encode(ipcserver.Request{Type: ipcserver.ReqSubscribe}); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var resp ipcserver.Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			return fmt.Errorf("parse event: %w", err)
		}
		if err := onEvent(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
