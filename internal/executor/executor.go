// Package executor maps Action requests onto driver calls, records the
// outcome to a session, and implements the host-side WaitFor/WaitForNot
// poll loops with frame-stability and recovery-aware deadline resets.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/qorvex/qorvex-host/internal/action"
	"github.com/qorvex/qorvex-host/internal/driver"
	"github.com/qorvex/qorvex-host/internal/element"
	"github.com/qorvex/qorvex-host/internal/session"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/qorvex/qorvex-host/pkg/metrics"
)

const pollInterval = 100 * time.Millisecond

// Executor dispatches actions to a driver and logs outcomes to a session.
type Executor struct {
	logger  log.Logger
	driver  *driver.Driver
	session *session.Session
	metrics *metrics.ExecutorMetrics
}

// New returns an executor bound to drv and sess. metrics may be nil.
func New(logger log.Logger, drv *driver.Driver, sess *session.Session, m *metrics.ExecutorMetrics) *Executor {
	return &Executor{logger: logger, driver: drv, session: sess, metrics: m}
}

// Execute runs act to completion, recording it to the session regardless
// of outcome.
func (e *Executor) Execute(ctx context.Context, act action.Action, tag *string) action.Result {
	start := time.Now()
	result, waitMs, tapMs := e.dispatch(ctx, act)
	durationMs := time.Since(start).Milliseconds()

	if e.metrics != nil {
		e.metrics.RecordAction(string(act.Kind), result.Success, time.Since(start).Seconds())
	}

	if e.session != nil {
		if waitMs != nil || tapMs != nil {
			if _, err := e.session.LogActionTimed(act, result, result.Screenshot, durationMs, waitMs, tapMs, tag); err != nil {
				e.logger.Warn().Err(err).Msg("executor: session log failed")
			}
		} else {
			if _, err := e.session.LogAction(act, result, result.Screenshot, durationMs, tag); err != nil {
				e.logger.Warn().Err(err).Msg("executor: session log failed")
			}
		}
	}
	return result
}

func (e *Executor) dispatch(ctx context.Context, act action.Action) (result action.Result, waitMs, tapMs *int64) {
	switch act.Kind {
	case action.KindTap:
		return e.executeTap(ctx, act)
	case action.KindTapLocation:
		if err := e.driver.TapLocation(ctx, act.X, act.Y); err != nil {
			return action.Fail(err.Error()), nil, nil
		}
		return action.Ok(), nil, nil
	case action.KindSwipe:
		if err := e.driver.Swipe(ctx, act.StartX, act.StartY, act.EndX, act.EndY, act.Duration); err != nil {
			return action.Fail(err.Error()), nil, nil
		}
		return action.Ok(), nil, nil
	case action.KindLongPress:
		duration := float64(0)
		if act.Duration != nil {
			duration = *act.Duration
		}
		if err := e.driver.LongPress(ctx, act.X, act.Y, duration); err != nil {
			return action.Fail(err.Error()), nil, nil
		}
		return action.Ok(), nil, nil
	case action.KindSendKeys:
		if err := e.driver.TypeText(ctx, act.Text); err != nil {
			return action.Fail(err.Error()), nil, nil
		}
		return action.Ok(), nil, nil
	case action.KindGetScreenshot:
		data, err := e.driver.Screenshot(ctx)
		if err != nil {
			return action.Fail(err.Error()), nil, nil
		}
		return action.Result{Success: true, Screenshot: data}, nil, nil
	case action.KindGetScreenInfo:
		tree, err := e.driver.ListElements(ctx)
		if err != nil {
			return action.Fail(err.Error()), nil, nil
		}
		b, err := json.Marshal(tree)
		if err != nil {
			return action.Fail(fmt.Sprintf("encode screen info: %v", err)), nil, nil
		}
		data := string(b)
		return action.Result{Success: true, Data: &data}, nil, nil
	case action.KindGetValue:
		value, err := e.driver.GetValueWithTimeout(ctx, act.Selector.Value, act.Selector.ByLabel, act.Selector.ElementType, act.TimeoutMs)
		if err != nil {
			return action.Fail(err.Error()), nil, nil
		}
		return action.Result{Success: true, Data: value}, nil, nil
	case action.KindWaitFor:
		return e.waitFor(ctx, act, true)
	case action.KindWaitForNot:
		return e.waitFor(ctx, act, false)
	case action.KindLogComment, action.KindStartSession, action.KindEndSession:
		return action.Ok(), nil, nil
	default:
		return action.Fail(fmt.Sprintf("executor: unknown action kind %q", act.Kind)), nil, nil
	}
}

// executeTap dispatches to the timeout-forwarding tap family selected by
// the selector triple. With no timeout, a single attempt is made and a
// "not found"/"not hittable" failure is a terminal result at this layer
// — the caller decides whether to escalate to WaitFor.
func (e *Executor) executeTap(ctx context.Context, act action.Action) (action.Result, *int64, *int64) {
	start := time.Now()
	var err error
	switch {
	case act.Selector.ElementType != nil:
		err = e.driver.TapWithTypeWithTimeout(ctx, act.Selector.Value, act.Selector.ByLabel, *act.Selector.ElementType, act.TimeoutMs)
	case act.Selector.ByLabel:
		err = e.driver.TapByLabelWithTimeout(ctx, act.Selector.Value, act.TimeoutMs)
	default:
		err = e.driver.TapElementWithTimeout(ctx, act.Selector.Value, act.TimeoutMs)
	}
	tapMs := time.Since(start).Milliseconds()
	if err != nil {
		return action.Fail(err.Error()), nil, &tapMs
	}
	return action.Ok(), nil, &tapMs
}

// waitFor implements both WaitFor (wantPresent=true) and WaitForNot
// (wantPresent=false): poll every 100ms via the live single-element
// lookup, tracking frame stability when required, resetting the
// deadline and stability counter whenever the driver's recovery count
// increases mid-loop.
func (e *Executor) waitFor(ctx context.Context, act action.Action, wantPresent bool) (action.Result, *int64, *int64) {
	timeoutMs := uint64(0)
	if act.TimeoutMs != nil {
		timeoutMs = *act.TimeoutMs
	}
	deadline := time.Duration(timeoutMs) * time.Millisecond
	start := time.Now()
	lastRecovery := e.driver.RecoveryCount()

	var lastFrame *element.Frame
	stableCount := 0

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		elem, err := e.driver.FindElement(ctx, act.Selector.Value, act.Selector.ByLabel, act.Selector.ElementType)
		if err != nil {
			waitMs := time.Since(start).Milliseconds()
			return action.Fail(fmt.Sprintf("wait_for: transport error: %v", err)), &waitMs, nil
		}

		present := elem != nil && elem.Hittable != nil && *elem.Hittable

		if wantPresent {
			if present {
				if !act.RequireStable {
					waitMs := time.Since(start).Milliseconds()
					return action.Ok(), &waitMs, nil
				}
				if lastFrame != nil && elem.Frame != nil && *lastFrame == *elem.Frame {
					stableCount++
				} else {
					stableCount = 1
				}
				lastFrame = elem.Frame
				if stableCount >= 3 {
					waitMs := time.Since(start).Milliseconds()
					return action.Ok(), &waitMs, nil
				}
			} else {
				stableCount = 0
				lastFrame = nil
			}
		} else {
			if !present {
				waitMs := time.Since(start).Milliseconds()
				return action.Ok(), &waitMs, nil
			}
		}

		if e.metrics != nil {
			e.metrics.RecordWaitForPoll(waitForMetricLabel(wantPresent))
		}

		if recovery := e.driver.RecoveryCount(); recovery != lastRecovery {
			lastRecovery = recovery
			start = time.Now()
			stableCount = 0
			lastFrame = nil
		}

		if time.Since(start) >= deadline {
			waitMs := time.Since(start).Milliseconds()
			return action.Fail(fmt.Sprintf("wait_for: timed out after %s waiting for %q", deadline, act.Selector.Value)), &waitMs, nil
		}

		select {
		case <-ctx.Done():
			waitMs := time.Since(start).Milliseconds()
			return action.Fail("wait_for: cancelled"), &waitMs, nil
		case <-ticker.C:
		}
	}
}

func waitForMetricLabel(wantPresent bool) string {
	if wantPresent {
		return "wait_for"
	}
	return "wait_for_not"
}
