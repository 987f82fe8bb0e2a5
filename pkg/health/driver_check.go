package health

import (
	"context"
	"fmt"
)

// Driver defines the interface for driver health checks.
type Driver interface {
	// IsConnected returns true if the agent stream is currently connected.
	IsConnected() bool
	// RecoveryCount returns the driver's monotonic recovery counter.
	RecoveryCount() uint64
}

// DriverCheck checks the health of the agent connection.
type DriverCheck struct {
	driver                Driver
	recoveryCountWarnRate uint64
	lastRecoveryCount     uint64
}

// DriverCheckOption configures a DriverCheck.
type DriverCheckOption func(*DriverCheck)

// WithRecoveryCountWarnRate sets the number of additional recoveries
// between two checks above which the check reports degraded status.
func WithRecoveryCountWarnRate(rate uint64) DriverCheckOption {
	return func(c *DriverCheck) {
		c.recoveryCountWarnRate = rate
	}
}

// NewDriverCheck creates a health check for the agent connection.
func NewDriverCheck(driver Driver, opts ...DriverCheckOption) *DriverCheck {
	c := &DriverCheck{
		driver:                driver,
		recoveryCountWarnRate: 5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the name of the health check.
func (c *DriverCheck) Name() string {
	return "driver"
}

// Check performs the driver health check.
func (c *DriverCheck) Check(ctx context.Context) error {
	if !c.driver.IsConnected() {
		return fmt.Errorf("agent stream is not connected")
	}
	return nil
}

// CheckDetailed performs a detailed health check and returns a Result.
func (c *DriverCheck) CheckDetailed(ctx context.Context) Result {
	if !c.driver.IsConnected() {
		return Result{
			Name:    c.Name(),
			Status:  StatusUnhealthy,
			Message: "agent stream is not connected",
		}
	}

	recoveryCount := c.driver.RecoveryCount()
	details := map[string]string{
		"recovery_count": fmt.Sprintf("%d", recoveryCount),
	}

	delta := recoveryCount - c.lastRecoveryCount
	c.lastRecoveryCount = recoveryCount

	if c.recoveryCountWarnRate > 0 && delta > c.recoveryCountWarnRate {
		return Result{
			Name:    c.Name(),
			Status:  StatusDegraded,
			Message: fmt.Sprintf("recovered %d times since last check", delta),
			Details: details,
		}
	}

	return Result{
		Name:    c.Name(),
		Status:  StatusHealthy,
		Message: "agent stream is connected",
		Details: details,
	}
}
