// Package ipcserver exposes execution and session observation over a
// local newline-delimited-JSON stream socket, multiplexing Execute,
// Subscribe, and a pluggable management surface across independent
// per-connection read loops.
package ipcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/qorvex/qorvex-host/internal/driver"
	"github.com/qorvex/qorvex-host/internal/executor"
	"github.com/qorvex/qorvex-host/internal/session"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/qorvex/qorvex-host/pkg/metrics"
)

// ManagementHandler answers management requests the default dispatch
// doesn't implement (device/agent lifecycle, timeouts, watchers,
// completion data). Returning (nil, false) tells the server to fall
// through to the default "unsupported" error for that request type.
type ManagementHandler interface {
	Handle(ctx context.Context, req Request) (Response, bool)
}

// Config configures a Server. The zero value (what DefaultConfig
// returns) is not usable until SocketPath is set.
type Config struct {
	SocketPath string
}

// DefaultConfig returns a Config with no socket path set; callers must
// fill SocketPath from resolved state-dir paths.
func DefaultConfig() Config {
	return Config{}
}

// Server accepts connections on a Unix-domain socket and dispatches
// each request line to Execute/Subscribe/GetState/GetLog or, when
// attached, a pluggable management handler.
type Server struct {
	config      Config
	logger      log.Logger
	session     *session.Session
	metrics     *metrics.IPCMetrics
	execMetrics *metrics.ExecutorMetrics

	management ManagementHandler

	driverMu sync.Mutex
	driver   *driver.Driver

	execMu sync.Mutex
	exec   *executor.Executor

	listener net.Listener

	connWg sync.WaitGroup

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New returns a server bound to sess, with no driver installed yet.
func New(cfg Config, logger log.Logger, sess *session.Session, m *metrics.IPCMetrics, execMetrics *metrics.ExecutorMetrics) *Server {
	return &Server{
		config:      cfg,
		logger:      logger,
		session:     sess,
		metrics:     m,
		execMetrics: execMetrics,
		shutdownCh:  make(chan struct{}),
	}
}

// SetManagementHandler attaches a pluggable handler for the management
// request surface. Must be called before Serve.
func (s *Server) SetManagementHandler(h ManagementHandler) { s.management = h }

// InstallDriver replaces the shared driver slot, taking it briefly. A
// nil driver uninstalls it (Execute then reports not-connected).
func (s *Server) InstallDriver(d *driver.Driver) {
	s.driverMu.Lock()
	s.driver = d
	s.driverMu.Unlock()

	s.execMu.Lock()
	if d != nil {
		s.exec = executor.New(s.logger, d, s.session, s.execMetrics)
	} else {
		s.exec = nil
	}
	s.execMu.Unlock()
}

func (s *Server) currentExecutor() *executor.Executor {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	return s.exec
}

// IsConnected reports whether a driver is currently installed and its
// agent stream is connected. Satisfies health.Driver.
func (s *Server) IsConnected() bool {
	s.driverMu.Lock()
	defer s.driverMu.Unlock()
	return s.driver != nil && s.driver.IsConnected()
}

// RecoveryCount returns the installed driver's recovery counter, or 0 if
// no driver is installed. Satisfies health.Driver.
func (s *Server) RecoveryCount() uint64 {
	s.driverMu.Lock()
	defer s.driverMu.Unlock()
	if s.driver == nil {
		return 0
	}
	return s.driver.RecoveryCount()
}

// Serve removes any stale socket file, binds, and runs the accept loop
// until the listener is closed or Shutdown is called. It returns nil on
// a clean shutdown.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.RemoveAll(s.config.SocketPath); err != nil {
		return fmt.Errorf("ipcserver: remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", s.config.SocketPath)
	if err != nil {
		return fmt.Errorf("ipcserver: listen on %s: %w", s.config.SocketPath, err)
	}
	s.listener = ln
	s.logger.Info().Str("socket", s.config.SocketPath).Msg("ipcserver: accepting connections")

	go func() {
		<-s.shutdownCh
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdownCh:
				s.connWg.Wait()
				return nil
			default:
				return fmt.Errorf("ipcserver: accept: %w", err)
			}
		}
		s.connWg.Add(1)
		go func() {
			defer s.connWg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Shutdown stops the accept loop and removes the socket file. Safe to
// call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdownCh)
		os.RemoveAll(s.config.SocketPath)
	})
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	if s.metrics != nil {
		s.metrics.ActiveConnections.Inc()
		defer s.metrics.ActiveConnections.Dec()
	}
	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	writer := json.NewEncoder(conn)

	for reader.Scan() {
		var req Request
		if err := json.Unmarshal(reader.Bytes(), &req); err != nil {
			_ = writer.Encode(errorResponse(fmt.Sprintf("invalid request: %v", err)))
			continue
		}

		if req.Type == ReqShutdown {
			_ = writer.Encode(Response{Type: RespShutdownAck})
			s.Shutdown()
			return
		}

		if req.Type == ReqSubscribe {
			s.handleSubscribe(ctx, conn, writer)
			return
		}

		resp := s.dispatch(ctx, req)
		if s.metrics != nil {
			s.metrics.RecordRequest(req.Type, resp.Type != RespError)
		}
		if err := writer.Encode(resp); err != nil {
			s.logger.Warn().Err(err).Msg("ipcserver: write response failed")
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Type {
	case ReqExecute:
		return s.handleExecute(ctx, req)
	case ReqGetState:
		return s.handleGetState()
	case ReqGetLog:
		return s.handleGetLog()
	default:
		if s.management != nil {
			if resp, ok := s.management.Handle(ctx, req); ok {
				return resp
			}
		}
		return errorResponse(fmt.Sprintf("unsupported request type %q", req.Type))
	}
}

func (s *Server) handleExecute(ctx context.Context, req Request) Response {
	exec := s.currentExecutor()
	if exec == nil {
		return errorResponse("no agent connection installed")
	}
	result := exec.Execute(ctx, req.Action, req.Tag)
	return actionResult(result)
}

func (s *Server) handleGetState() Response {
	resp := Response{Type: RespState, SessionID: s.session.ID}
	resp.Screenshot = s.session.LatestScreenshot()
	return resp
}

func (s *Server) handleGetLog() Response {
	return Response{Type: RespLog, Entries: s.session.ActionLog()}
}

// handleSubscribe streams Event responses from a freshly cloned
// broadcast subscriber until the client disconnects or falls behind far
// enough that the connection is closed and the client must resync via
// GetState/GetLog.
func (s *Server) handleSubscribe(ctx context.Context, conn net.Conn, writer *json.Encoder) {
	sub := s.session.Subscribe()
	defer s.session.Unsubscribe(sub)

	if s.metrics != nil {
		s.metrics.SubscribersActive.Inc()
		defer s.metrics.SubscribersActive.Dec()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writer.Encode(Response{Type: RespEvent, Event: &ev}); err != nil {
				return
			}
			if sub.TryLagged() {
				if s.metrics != nil {
					s.metrics.RecordBroadcastLag()
				}
				return
			}
		}
	}
}
