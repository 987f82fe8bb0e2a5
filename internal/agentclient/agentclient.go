// Package agentclient holds the single TCP connection to an on-device
// agent and enforces the one-in-flight request discipline: at most one
// outstanding request per connection, and any read error or deadline
// invalidates the stream immediately rather than returning it to the
// pool half-consumed.
package agentclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/qorvex/qorvex-host/internal/wire"
	"github.com/qorvex/qorvex-host/pkg/log"
)

// Default read deadlines. Tree dumps and other legitimately slow calls
// use the long deadline; everything else uses the short one.
const (
	DefaultReadTimeout = 30 * time.Second
	LongReadTimeout    = 120 * time.Second
)

// ErrNotConnected is returned when a request is attempted with no live
// stream installed.
var ErrNotConnected = errors.New("agentclient: not connected")

// ErrTimeout wraps a read/write deadline expiry: the stream is still
// dropped (framing is positional and a late response would
// desynchronize the next request), but this is distinct from a raw I/O
// failure because the agent may simply be alive and slow.
var ErrTimeout = errors.New("agentclient: deadline exceeded")

// ErrIO wraps a raw I/O failure other than a deadline expiry (reset
// connection, broken pipe, EOF).
var ErrIO = errors.New("agentclient: i/o error")

// Endpoint is a direct TCP host:port. It has no tunnel-handle form, so a
// physical device reached through a USB multiplexer is not dialable here.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Client holds a single TCP stream and serializes requests over it.
type Client struct {
	logger log.Logger

	mu       sync.Mutex
	conn     net.Conn
	endpoint Endpoint
}

// New returns a client with no connection installed. Callers must
// Connect before issuing requests.
func New(logger log.Logger) *Client {
	return &Client{logger: logger}
}

// Connect dials the endpoint and verifies liveness with a heartbeat.
func (c *Client) Connect(ctx context.Context, endpoint Endpoint) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", endpoint.String())
	if err != nil {
		return fmt.Errorf("agentclient: dial %s: %w", endpoint, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.endpoint = endpoint
	c.mu.Unlock()

	if _, err := c.Send(wire.HeartbeatRequest{}); err != nil {
		c.invalidate()
		return fmt.Errorf("agentclient: liveness check failed: %w", err)
	}
	return nil
}

// IsConnected reports whether a stream is currently installed. It does
// not verify liveness — a stale-but-installed stream still reads true
// until an I/O error invalidates it.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// InstallConn replaces the underlying stream directly, used by recovery
// once a fresh connection has already been dialed and verified.
func (c *Client) InstallConn(conn net.Conn, endpoint Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.conn = conn
	c.endpoint = endpoint
}

// Endpoint returns the endpoint of the currently installed connection.
func (c *Client) Endpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// Send issues request with the default read deadline.
func (c *Client) Send(req wire.Request) (wire.Response, error) {
	return c.SendWithReadTimeout(req, DefaultReadTimeout)
}

// SendWithReadTimeout issues request and waits up to timeout for the
// framed response. Serializes with any concurrent caller: at most one
// outstanding request is ever in flight on the connection. Any I/O
// error or deadline expiry drops the stream immediately so a late,
// half-read response can never desynchronize the next command.
func (c *Client) SendWithReadTimeout(req wire.Request, timeout time.Duration) (wire.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrNotConnected
	}

	op, payload := wire.EncodeRequest(req)

	if err := c.conn.SetWriteDeadline(time.Now().Add(DefaultReadTimeout)); err != nil {
		c.invalidateLocked()
		return nil, classifyIOError("set write deadline", err)
	}
	if err := wire.WriteFrame(c.conn, op, payload); err != nil {
		c.invalidateLocked()
		return nil, classifyIOError("write request", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		c.invalidateLocked()
		return nil, classifyIOError("set read deadline", err)
	}
	respOp, respPayload, err := wire.ReadFrame(c.conn)
	if err != nil {
		// The stream is dropped regardless of whether this was a
		// deadline expiry or a raw I/O failure: a late response
		// arriving after we give up would otherwise desynchronize the
		// next request's framing. The two cases are still reported
		// with distinct sentinels, though, since only the raw I/O case
		// is eligible for the driver's staged recovery on THIS call —
		// a deadline expiry surfaces as ErrTimeout and the caller
		// decides whether to treat it as a legitimate slow response.
		c.invalidateLocked()
		return nil, classifyIOError("read response", err)
	}

	resp, err := wire.DecodeResponse(respOp, respPayload)
	if err != nil {
		// Decode errors do not desynchronize the stream (the frame was
		// fully consumed) but a caller relying on this response can't
		// proceed either way, so the caller decides whether to retry.
		return nil, fmt.Errorf("agentclient: decode response: %w", err)
	}
	if errResp, ok := resp.(wire.ErrorResponse); ok {
		return nil, errResp
	}
	return resp, nil
}

// classifyIOError distinguishes a deadline expiry (ErrTimeout) from any
// other I/O failure (ErrIO), matching the distinction the driver's
// recovery classifier needs: a slow-but-alive agent is not a crash.
func classifyIOError(step string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("agentclient: %s: %w: %w", step, ErrTimeout, err)
	}
	return fmt.Errorf("agentclient: %s: %w: %w", step, ErrIO, err)
}

// Heartbeat performs a liveness round-trip over the current connection.
func (c *Client) Heartbeat() error {
	_, err := c.Send(wire.HeartbeatRequest{})
	return err
}

// Close invalidates the current stream, closing the underlying socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *Client) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *Client) invalidateLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
