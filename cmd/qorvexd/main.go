// Package main is the entry point for qorvexd, the daemon that owns
// config, the session, the driver, the Unix-socket IPC server, and the
// optional observability surfaces (gRPC health, WebSocket bridge,
// Prometheus metrics, OpenTelemetry tracing).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/qorvex/qorvex-host/internal/artifactstore"
	"github.com/qorvex/qorvex-host/internal/config"
	"github.com/qorvex/qorvex-host/internal/grpchealth"
	"github.com/qorvex/qorvex-host/internal/ipcserver"
	"github.com/qorvex/qorvex-host/internal/management"
	"github.com/qorvex/qorvex-host/internal/session"
	"github.com/qorvex/qorvex-host/internal/sessionindex"
	"github.com/qorvex/qorvex-host/internal/wsbridge"
	"github.com/qorvex/qorvex-host/pkg/health"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/qorvex/qorvex-host/pkg/metrics"
	"github.com/qorvex/qorvex-host/pkg/tracing"
)

// healthCheckInterval is how often grpchealth re-evaluates the driver
// and broadcast checks to derive its SERVING/NOT_SERVING status.
const healthCheckInterval = 5 * time.Second

// Build information, set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	sessionNameFlag := flag.String("session", "default", "session name, used for the log file prefix and the daemon's socket name")
	flag.Parse()

	cfg := config.LoadDaemonConfig()
	logger := log.New(cfg.LogLevel, cfg.LogFormat)

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("build_time", buildTime).
		Str("go_version", runtime.Version()).
		Msg("starting qorvexd")

	paths, err := config.DefaultPaths()
	if err != nil {
		logger.Error().Err(err).Msg("resolve state dir")
		os.Exit(1)
	}
	if err := paths.EnsureStateDir(); err != nil {
		logger.Error().Err(err).Msg("create state dir")
		os.Exit(1)
	}

	persistent, err := config.LoadPersistent(paths)
	if err != nil {
		logger.Warn().Err(err).Msg("load persistent config, continuing with defaults")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	appMetrics := metrics.NewMetrics()
	logger.Info().Msg("metrics initialized")

	var tracer *tracing.Tracer
	if cfg.TracingEnabled && cfg.TracingEndpoint != "" {
		tracer, err = tracing.InitTracer(tracing.Config{
			ServiceName:    "qorvexd",
			ServiceVersion: version,
			Endpoint:       cfg.TracingEndpoint,
			Insecure:       cfg.TracingInsecure,
			SampleRate:     cfg.TracingSampleRate,
			Environment:    cfg.Environment,
			Enabled:        true,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("failed to initialize tracing - continuing without tracing")
		} else {
			logger.Info().Str("endpoint", cfg.TracingEndpoint).Msg("tracing initialized")
		}
	} else {
		logger.Info().Msg("tracing disabled")
	}

	sessionIdx, err := sessionindex.Open(paths.SessionIndexPath())
	if err != nil {
		logger.Error().Err(err).Msg("open session index")
		os.Exit(1)
	}
	defer sessionIdx.Close()

	var artifacts *artifactstore.Store
	if cfg.ArtifactStoreEnabled {
		artifacts, err = artifactstore.New(artifactstore.Config{
			Endpoint:        cfg.ArtifactStoreEndpoint,
			Bucket:          cfg.ArtifactStoreBucket,
			Region:          cfg.ArtifactStoreRegion,
			AccessKeyID:     cfg.ArtifactStoreAccessKey,
			SecretAccessKey: cfg.ArtifactStoreSecretKey,
			UseSSL:          cfg.ArtifactStoreUseSSL,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("artifact store unavailable - screenshots will not be archived")
			artifacts = nil
		} else {
			bucketCtx, bucketCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := artifacts.EnsureBucket(bucketCtx); err != nil {
				logger.Warn().Err(err).Msg("ensure artifact bucket exists")
			}
			bucketCancel()
		}
	}

	sessionOpts := []session.Option{session.WithSessionIndex(sessionIdx)}
	if artifacts != nil {
		sessionOpts = append(sessionOpts, session.WithArtifactStore(artifacts))
	}
	sess, err := session.New(logger, *sessionNameFlag, nil, paths.LogDir(), sessionOpts...)
	if err != nil {
		logger.Error().Err(err).Msg("create session")
		os.Exit(1)
	}
	logger.Info().Str("session_id", sess.ID).Str("session_name", sess.Name).Msg("session started")

	ipcCfg := ipcserver.DefaultConfig()
	ipcCfg.SocketPath = paths.SocketPath(*sessionNameFlag)
	ipcServer := ipcserver.New(ipcCfg, logger, sess, appMetrics.IPC, appMetrics.Executor)

	mgmtCfg := management.Config{
		ProjectDir:          persistent.AgentSourceDir,
		AgentPort:           cfg.AgentPort,
		AgentStartupTimeout: cfg.AgentStartupTimeout,
		AgentMaxRetries:     cfg.AgentMaxRetries,
		DefaultTimeoutMs:    5000,
		DefaultWatcherMs:    2000,
	}
	mgr := management.New(logger, mgmtCfg, sess, management.SimctlDeviceLister{}, appMetrics, tracer, ipcServer.InstallDriver)
	ipcServer.SetManagementHandler(mgr)

	healthChecks := []health.DetailedCheck{
		health.NewDriverCheck(ipcServer),
		health.NewBroadcastCheck(sess.Broadcaster()),
	}

	var healthServer *grpchealth.Server
	if cfg.GRPCHealthEnabled {
		healthServer = grpchealth.New(logger)
		healthServer.SetChecks(healthChecks...)
		go func() {
			addr := fmt.Sprintf("127.0.0.1:%d", cfg.GRPCHealthPort)
			if err := healthServer.Serve(addr); err != nil {
				logger.Warn().Err(err).Msg("grpc health server stopped")
			}
		}()
	}

	var bridge *wsbridge.Bridge
	if cfg.WSBridgeEnabled {
		bridge = wsbridge.New(logger, sess, appMetrics.Handler())
		bridge.SetChecks(healthChecks...)
		go func() {
			if err := bridge.Serve(ctx, cfg.WSBridgeAddr); err != nil {
				logger.Warn().Err(err).Msg("websocket bridge stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := ipcServer.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("ipc server error: %w", err)
		}
	}()

	if healthServer != nil {
		go healthServer.RunHealthLoop(ctx, healthCheckInterval)
	}

	logger.Info().Str("socket", ipcCfg.SocketPath).Msg("qorvexd started")

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
	}

	logger.Info().Msg("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if tracer != nil {
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("tracer shutdown error")
		}
	}

	if bridge != nil {
		if err := bridge.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("websocket bridge shutdown error")
		}
	}

	if healthServer != nil {
		healthServer.Stop()
	}

	ipcServer.Shutdown()

	if err := mgr.Close(); err != nil {
		logger.Error().Err(err).Msg("management shutdown error")
	}

	if err := sess.End(); err != nil {
		logger.Warn().Err(err).Msg("end session")
	}

	logger.Info().Msg("shutdown complete")
}
