// Package driver implements the automation contract over an agent
// client: connection lifecycle, the four gesture/input/query/app-switch
// operation families, and staged crash recovery (cheap reconnect before
// a full agent respawn) with a monotonic recovery counter.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qorvex/qorvex-host/internal/agentclient"
	"github.com/qorvex/qorvex-host/internal/agentlifecycle"
	"github.com/qorvex/qorvex-host/internal/element"
	"github.com/qorvex/qorvex-host/internal/wire"
	"github.com/qorvex/qorvex-host/pkg/log"
	"github.com/qorvex/qorvex-host/pkg/metrics"
	"github.com/qorvex/qorvex-host/pkg/tracing"
)

// ErrSetTargetUnsupported is the default response for backends that
// don't implement app switching (physical devices reached without an
// agent extension for it).
var ErrSetTargetUnsupported = errors.New("driver: set_target not supported by this backend")

// Driver drives one agent connection: gestures, input, queries, and
// app-switching, with staged crash recovery when a lifecycle handle is
// attached.
type Driver struct {
	logger  log.Logger
	tracer  *tracing.Tracer
	metrics *metrics.DriverMetrics

	client   *agentclient.Client
	endpoint agentclient.Endpoint

	// lifecycle is nil for physical devices dialed directly; recovery
	// only triggers when a lifecycle handle is attached.
	lifecycle *agentlifecycle.Lifecycle
	deviceID  string

	recoveryCount atomic.Uint64

	mu sync.Mutex
}

// Option configures optional Driver dependencies.
type Option func(*Driver)

// WithLifecycle attaches a lifecycle handle enabling staged crash
// recovery for the given device.
func WithLifecycle(lc *agentlifecycle.Lifecycle, deviceID string) Option {
	return func(d *Driver) {
		d.lifecycle = lc
		d.deviceID = deviceID
	}
}

// WithTracer attaches an OpenTelemetry tracer for span-scoped calls.
func WithTracer(t *tracing.Tracer) Option {
	return func(d *Driver) { d.tracer = t }
}

// WithMetrics attaches Prometheus counters for command and recovery
// observability.
func WithMetrics(m *metrics.DriverMetrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// New returns a driver with no connection established yet.
func New(logger log.Logger, opts ...Option) *Driver {
	d := &Driver{logger: logger, client: agentclient.New(logger)}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Connect dials the agent endpoint and verifies liveness. Recovery is
// never triggered by a Connect failure — the caller decides whether to
// retry the initial connection.
func (d *Driver) Connect(ctx context.Context, endpoint agentclient.Endpoint) error {
	if err := d.client.Connect(ctx, endpoint); err != nil {
		return err
	}
	d.mu.Lock()
	d.endpoint = endpoint
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.SetConnected(true)
	}
	return nil
}

// IsConnected reports whether the underlying stream is currently live.
func (d *Driver) IsConnected() bool { return d.client.IsConnected() }

// RecoveryCount returns the number of successful recoveries (reconnect
// or respawn) since this driver was created.
func (d *Driver) RecoveryCount() uint64 { return d.recoveryCount.Load() }

// --- Gestures ---------------------------------------------------------

func (d *Driver) TapLocation(ctx context.Context, x, y int32) error {
	_, err := d.send(ctx, "tap_location", wire.TapCoordRequest{X: x, Y: y}, agentclient.DefaultReadTimeout)
	return err
}

func (d *Driver) TapElement(ctx context.Context, selector string) error {
	return d.TapElementWithTimeout(ctx, selector, nil)
}

func (d *Driver) TapElementWithTimeout(ctx context.Context, selector string, timeoutMs *uint64) error {
	_, err := d.send(ctx, "tap_element", wire.TapElementRequest{Selector: selector, TimeoutMs: timeoutMs}, readTimeoutFor(timeoutMs))
	return err
}

func (d *Driver) TapByLabel(ctx context.Context, label string) error {
	return d.TapByLabelWithTimeout(ctx, label, nil)
}

func (d *Driver) TapByLabelWithTimeout(ctx context.Context, label string, timeoutMs *uint64) error {
	_, err := d.send(ctx, "tap_by_label", wire.TapByLabelRequest{Label: label, TimeoutMs: timeoutMs}, readTimeoutFor(timeoutMs))
	return err
}

func (d *Driver) TapWithType(ctx context.Context, selector string, byLabel bool, elementType string) error {
	return d.TapWithTypeWithTimeout(ctx, selector, byLabel, elementType, nil)
}

func (d *Driver) TapWithTypeWithTimeout(ctx context.Context, selector string, byLabel bool, elementType string, timeoutMs *uint64) error {
	_, err := d.send(ctx, "tap_with_type", wire.TapWithTypeRequest{
		Selector: selector, ByLabel: byLabel, Type: elementType, TimeoutMs: timeoutMs,
	}, readTimeoutFor(timeoutMs))
	return err
}

func (d *Driver) Swipe(ctx context.Context, startX, startY, endX, endY int32, duration *float64) error {
	_, err := d.send(ctx, "swipe", wire.SwipeRequest{
		StartX: startX, StartY: startY, EndX: endX, EndY: endY, DurationSeconds: duration,
	}, agentclient.DefaultReadTimeout)
	return err
}

func (d *Driver) LongPress(ctx context.Context, x, y int32, duration float64) error {
	_, err := d.send(ctx, "long_press", wire.LongPressRequest{X: x, Y: y, Duration: duration}, agentclient.DefaultReadTimeout)
	return err
}

// --- Input --------------------------------------------------------------

func (d *Driver) TypeText(ctx context.Context, text string) error {
	_, err := d.send(ctx, "type_text", wire.TypeTextRequest{Text: text}, agentclient.DefaultReadTimeout)
	return err
}

// --- Queries --------------------------------------------------------------

func (d *Driver) DumpTree(ctx context.Context) ([]*element.Element, error) {
	resp, err := d.send(ctx, "dump_tree", wire.DumpTreeRequest{}, agentclient.LongReadTimeout)
	if err != nil {
		return nil, err
	}
	tree, ok := resp.(wire.TreeResponse)
	if !ok {
		return nil, fmt.Errorf("driver: dump_tree: unexpected response type %T", resp)
	}
	return decodeTree(tree.TreeJSON)
}

// ListElements returns the flattened result of DumpTree, keeping only
// nodes with an identifier or label.
func (d *Driver) ListElements(ctx context.Context) ([]*element.Element, error) {
	tree, err := d.DumpTree(ctx)
	if err != nil {
		return nil, err
	}
	return element.Flatten(tree), nil
}

func (d *Driver) GetElementValue(ctx context.Context, selector string, byLabel bool) (*string, error) {
	return d.GetValueWithTimeout(ctx, selector, byLabel, nil, nil)
}

func (d *Driver) GetValueWithType(ctx context.Context, selector string, byLabel bool, elementType string) (*string, error) {
	return d.GetValueWithTimeout(ctx, selector, byLabel, &elementType, nil)
}

func (d *Driver) GetValueWithTimeout(ctx context.Context, selector string, byLabel bool, elementType *string, timeoutMs *uint64) (*string, error) {
	resp, err := d.send(ctx, "get_value", wire.GetValueRequest{
		Selector: selector, ByLabel: byLabel, Type: elementType, TimeoutMs: timeoutMs,
	}, readTimeoutFor(timeoutMs))
	if err != nil {
		return nil, err
	}
	val, ok := resp.(wire.ValueResponse)
	if !ok {
		return nil, fmt.Errorf("driver: get_value: unexpected response type %T", resp)
	}
	return val.Value, nil
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := d.send(ctx, "screenshot", wire.ScreenshotRequest{}, agentclient.LongReadTimeout)
	if err != nil {
		return nil, err
	}
	shot, ok := resp.(wire.ScreenshotResponse)
	if !ok {
		return nil, fmt.Errorf("driver: screenshot: unexpected response type %T", resp)
	}
	return shot.Data, nil
}

// FindElement performs a live single-element lookup, so the resulting
// element's Hittable flag reflects current state rather than a stale
// tree dump.
func (d *Driver) FindElement(ctx context.Context, selector string, byLabel bool, elementType *string) (*element.Element, error) {
	resp, err := d.send(ctx, "find_element", wire.FindElementRequest{
		Selector: selector, ByLabel: byLabel, Type: elementType,
	}, agentclient.DefaultReadTimeout)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	elem, ok := resp.(wire.ElementResponse)
	if !ok {
		return nil, fmt.Errorf("driver: find_element: unexpected response type %T", resp)
	}
	return decodeElement(elem.ElementJSON)
}

// --- App switching --------------------------------------------------------

func (d *Driver) SetTarget(ctx context.Context, bundleID string) error {
	_, err := d.send(ctx, "set_target", wire.SetTargetRequest{BundleID: bundleID}, agentclient.DefaultReadTimeout)
	return err
}

func isNotFound(err error) bool {
	return err != nil && containsFold(err.Error(), "not found")
}

func readTimeoutFor(timeoutMs *uint64) time.Duration {
	if timeoutMs == nil {
		return agentclient.DefaultReadTimeout
	}
	return time.Duration(*timeoutMs)*time.Millisecond + 5*time.Second
}
