package driver

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/qorvex/qorvex-host/internal/agentclient"
	"github.com/qorvex/qorvex-host/internal/wire"
	"github.com/qorvex/qorvex-host/pkg/tracing"
	"go.opentelemetry.io/otel/trace"
)

// send issues a request, applying staged crash recovery when a
// transport-shaped error is encountered and a lifecycle is attached.
// Timeout, CommandFailed, and JsonParse-shaped errors (the agent
// responded, just not favorably) never trigger recovery.
func (d *Driver) send(ctx context.Context, opName string, req wire.Request, timeout time.Duration) (wire.Response, error) {
	start := time.Now()
	var span trace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.StartSpan(ctx, "driver."+opName)
		defer span.End()
		span.SetAttributes(tracing.AttrOpCode.String(req.OpCode().String()))
	}

	resp, err := d.client.SendWithReadTimeout(req, timeout)
	if err != nil && d.isRecoverable(err) {
		resp, err = d.recoverAndRetry(ctx, req, timeout)
	}

	success := err == nil
	if d.metrics != nil {
		d.metrics.RecordCommand(opName, success, time.Since(start).Seconds())
	}
	if span != nil && err != nil {
		span.RecordError(err)
	}
	return resp, err
}

// isRecoverable reports whether err is transport-shaped: not-connected
// or a raw I/O failure. A deadline expiry (ErrTimeout) does NOT trigger
// recovery on this call — the agent may simply be slow — even though
// the stream underneath was already invalidated and the *next* call
// will see ErrNotConnected and recover then. Agent-level failures
// (CommandFailed, decode errors) are excluded too: the agent is alive
// and answered.
func (d *Driver) isRecoverable(err error) bool {
	if d.lifecycle == nil {
		return false
	}
	if errors.Is(err, agentclient.ErrTimeout) {
		return false
	}
	var errResp wire.ErrorResponse
	if errors.As(err, &errResp) {
		return false
	}
	return errors.Is(err, agentclient.ErrNotConnected) || errors.Is(err, agentclient.ErrIO)
}

// recoverAndRetry attempts stage 1 (reconnect) then, only on failure,
// stage 2 (respawn), retrying the original command exactly once after
// whichever stage succeeds. It increments the recovery counter after a
// successful stage.
func (d *Driver) recoverAndRetry(ctx context.Context, req wire.Request, timeout time.Duration) (wire.Response, error) {
	if err := d.reconnect(ctx); err == nil {
		d.recoveryCount.Add(1)
		trace.SpanFromContext(ctx).SetAttributes(tracing.AttrRecoveryCount.Int64(int64(d.recoveryCount.Load())), tracing.AttrRecoveryStaged.Bool(true))
		d.logger.Info().Msg("driver recovered via reconnect")
		if d.metrics != nil {
			d.metrics.RecordRecovery("reconnect", d.recoveryCount.Load())
		}
		return d.client.SendWithReadTimeout(req, timeout)
	}

	if err := d.respawn(ctx); err != nil {
		return nil, err
	}
	d.recoveryCount.Add(1)
	trace.SpanFromContext(ctx).SetAttributes(tracing.AttrRecoveryCount.Int64(int64(d.recoveryCount.Load())), tracing.AttrRecoveryStaged.Bool(false))
	d.logger.Warn().Msg("driver recovered via respawn")
	if d.metrics != nil {
		d.metrics.RecordRecovery("respawn", d.recoveryCount.Load())
	}
	return d.client.SendWithReadTimeout(req, timeout)
}

// reconnect opens a new connection to the last-known endpoint and
// verifies liveness. It never kills the child process — this is the
// cheap path for a dropped-but-alive agent.
func (d *Driver) reconnect(ctx context.Context) error {
	d.mu.Lock()
	endpoint := d.endpoint
	d.mu.Unlock()
	return d.client.Connect(ctx, endpoint)
}

// respawn terminates, spawns, and ready-waits the agent before
// reconnecting. Only attempted when reconnect has already failed.
func (d *Driver) respawn(ctx context.Context) error {
	if err := d.lifecycle.Terminate(); err != nil {
		d.logger.Warn().Err(err).Msg("driver respawn: terminate failed, continuing")
	}
	if err := d.lifecycle.Spawn(d.deviceID); err != nil {
		return err
	}
	if err := d.lifecycle.ReadyWait(ctx); err != nil {
		return err
	}
	return d.reconnect(ctx)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
