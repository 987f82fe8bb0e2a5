// Package grpchealth runs a minimal grpc.health.v1.Health service on its
// own TCP port so process supervisors (systemd watchdogs, container
// orchestrators) can probe the daemon without speaking the Unix-socket
// IPC protocol. It tracks nothing beyond SERVING/NOT_SERVING for the
// empty service name, derived from the aggregate of whatever health
// checks are installed and polled on a ticker.
package grpchealth

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	apphealth "github.com/qorvex/qorvex-host/pkg/health"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/qorvex/qorvex-host/pkg/tracing"
)

// Server wraps a grpc.Server exposing only the standard health service.
type Server struct {
	logger   log.Logger
	grpc     *grpc.Server
	health   *health.Server
	listener net.Listener

	checks []apphealth.DetailedCheck
}

// New constructs a health server bound to addr (not yet listening). Its
// single unary method (grpc.health.v1.Health/Check) runs behind the same
// request-logging and tracing interceptors as every other surface this
// daemon exposes. Initial status is NOT_SERVING until SetChecks and
// RunHealthLoop (or a direct SetServing call) establish one.
func New(logger log.Logger) *Server {
	h := health.NewServer()
	g := grpc.NewServer(grpc.ChainUnaryInterceptor(
		tracing.UnaryServerInterceptor(),
		log.GRPCUnaryServerInterceptor(logger),
	))
	healthpb.RegisterHealthServer(g, h)
	h.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{logger: logger, grpc: g, health: h}
}

// SetChecks installs the health checks RunHealthLoop polls. Must be
// called before RunHealthLoop starts; safe to call again afterward, since
// the loop rereads the slice on each tick.
func (s *Server) SetChecks(checks ...apphealth.DetailedCheck) {
	s.checks = checks
}

// SetServing flips the overall health status to SERVING or NOT_SERVING.
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
}

// RunHealthLoop evaluates the installed checks immediately, then every
// interval, flipping the serving status accordingly (degraded still
// counts as serving; only an unhealthy check marks the daemon
// NOT_SERVING). With no checks installed it just marks the daemon
// serving once. It returns when ctx is cancelled.
func (s *Server) RunHealthLoop(ctx context.Context, interval time.Duration) {
	s.evaluate(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.evaluate(ctx)
		}
	}
}

func (s *Server) evaluate(ctx context.Context) {
	if len(s.checks) == 0 {
		s.SetServing(true)
		return
	}

	overall, results := apphealth.Aggregate(ctx, s.checks)
	s.SetServing(overall != apphealth.StatusUnhealthy)

	for _, r := range results {
		if r.Status != apphealth.StatusHealthy {
			s.logger.Warn().
				Str("check", r.Name).
				Str("status", string(r.Status)).
				Str("message", r.Message).
				Msg("grpchealth: check not healthy")
		}
	}
}

// Serve binds addr and runs the gRPC accept loop until Stop is called.
func (s *Server) Serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpchealth: listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.logger.Info().Str("addr", addr).Msg("grpchealth: serving")
	if err := s.grpc.Serve(ln); err != nil {
		return fmt.Errorf("grpchealth: serve: %w", err)
	}
	return nil
}

// Stop marks the service NOT_SERVING and gracefully stops the gRPC server.
func (s *Server) Stop() {
	s.SetServing(false)
	s.grpc.GracefulStop()
}
