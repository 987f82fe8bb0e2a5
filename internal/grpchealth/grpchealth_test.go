package grpchealth

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	apphealth "github.com/qorvex/qorvex-host/pkg/health"
	"github.com/qorvex/qorvex-host/pkg/log"
)

// fakeCheck is safe to mutate from a test goroutine while RunHealthLoop
// polls it from its own goroutine.
type fakeCheck struct {
	mu     sync.Mutex
	result apphealth.Result
}

func (f *fakeCheck) Name() string { return f.result.Name }

func (f *fakeCheck) Check(ctx context.Context) error { return nil }

func (f *fakeCheck) CheckDetailed(ctx context.Context) apphealth.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

func (f *fakeCheck) setStatus(status apphealth.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result.Status = status
}

func dialHealthClient(t *testing.T, addr string) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestServingStatusTransitions(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := New(log.NewNop())
	go s.Serve(addr)
	t.Cleanup(s.Stop)

	client := waitForReady(t, addr)

	resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)

	s.SetServing(true)
	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	s.SetServing(false)
	resp, err = client.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}

func TestRunHealthLoopReflectsChecks(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := New(log.NewNop())
	check := &fakeCheck{result: apphealth.Result{Name: "fake", Status: apphealth.StatusHealthy}}
	s.SetChecks(check)

	go s.Serve(addr)
	t.Cleanup(s.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.RunHealthLoop(ctx, 10*time.Millisecond)

	client := waitForReady(t, addr)

	require.Eventually(t, func() bool {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.Status == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)

	check.setStatus(apphealth.StatusUnhealthy)

	require.Eventually(t, func() bool {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		return err == nil && resp.Status == healthpb.HealthCheckResponse_NOT_SERVING
	}, 2*time.Second, 20*time.Millisecond)
}

// waitForReady retries the initial Check call briefly while the server's
// accept loop spins up in its own goroutine.
func waitForReady(t *testing.T, addr string) healthpb.HealthClient {
	t.Helper()
	client := dialHealthClient(t, addr)
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		if err == nil {
			return client
		}
		if time.Now().After(deadline) {
			t.Fatalf("grpchealth server never became reachable: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
