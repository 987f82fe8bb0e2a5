package health

import (
	"context"
	"fmt"
)

// Broadcast defines the interface for session broadcast bus health checks.
type Broadcast interface {
	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
	// LaggedTotal returns the cumulative number of events dropped because
	// a subscriber's queue was full.
	LaggedTotal() uint64
}

// BroadcastCheck checks the health of the session broadcast bus.
type BroadcastCheck struct {
	bus                     Broadcast
	maxSubscribersThreshold int
	lastLaggedTotal         uint64
}

// BroadcastCheckOption configures a BroadcastCheck.
type BroadcastCheckOption func(*BroadcastCheck)

// WithMaxSubscribersThreshold sets the subscriber count above which the
// check reports degraded status.
func WithMaxSubscribersThreshold(threshold int) BroadcastCheckOption {
	return func(c *BroadcastCheck) {
		c.maxSubscribersThreshold = threshold
	}
}

// NewBroadcastCheck creates a health check for the session broadcast bus.
func NewBroadcastCheck(bus Broadcast, opts ...BroadcastCheckOption) *BroadcastCheck {
	c := &BroadcastCheck{
		bus:                     bus,
		maxSubscribersThreshold: 256,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the name of the health check.
func (c *BroadcastCheck) Name() string {
	return "broadcast"
}

// Check performs the broadcast bus health check.
func (c *BroadcastCheck) Check(ctx context.Context) error {
	laggedTotal := c.bus.LaggedTotal()
	if laggedTotal > c.lastLaggedTotal {
		delta := laggedTotal - c.lastLaggedTotal
		c.lastLaggedTotal = laggedTotal
		return fmt.Errorf("%d event(s) dropped for lagging subscribers since last check", delta)
	}
	return nil
}

// CheckDetailed performs a detailed health check and returns a Result.
func (c *BroadcastCheck) CheckDetailed(ctx context.Context) Result {
	subCount := c.bus.SubscriberCount()
	laggedTotal := c.bus.LaggedTotal()

	details := map[string]string{
		"subscribers":  fmt.Sprintf("%d", subCount),
		"lagged_total": fmt.Sprintf("%d", laggedTotal),
	}

	if c.maxSubscribersThreshold > 0 && subCount > c.maxSubscribersThreshold {
		return Result{
			Name:    c.Name(),
			Status:  StatusDegraded,
			Message: fmt.Sprintf("high subscriber count: %d", subCount),
			Details: details,
		}
	}

	return Result{
		Name:    c.Name(),
		Status:  StatusHealthy,
		Message: "broadcast bus is running",
		Details: details,
	}
}
