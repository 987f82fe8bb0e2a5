package health

import (
	"context"
	"testing"
)

type mockDriver struct {
	connected     bool
	recoveryCount uint64
}

func (m *mockDriver) IsConnected() bool      { return m.connected }
func (m *mockDriver) RecoveryCount() uint64  { return m.recoveryCount }

func TestDriverCheck_Name(t *testing.T) {
	check := NewDriverCheck(&mockDriver{connected: true})

	if check.Name() != "driver" {
		t.Errorf("expected name 'driver', got '%s'", check.Name())
	}
}

func TestDriverCheck_Healthy(t *testing.T) {
	driver := &mockDriver{connected: true, recoveryCount: 2}
	check := NewDriverCheck(driver)

	if err := check.Check(context.Background()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestDriverCheck_Unhealthy(t *testing.T) {
	driver := &mockDriver{connected: false}
	check := NewDriverCheck(driver)

	if err := check.Check(context.Background()); err == nil {
		t.Error("expected error for disconnected driver")
	}
}

func TestDriverCheck_CheckDetailed_Healthy(t *testing.T) {
	driver := &mockDriver{connected: true, recoveryCount: 3}
	check := NewDriverCheck(driver)

	result := check.CheckDetailed(context.Background())

	if result.Status != StatusHealthy {
		t.Errorf("expected status healthy, got %s", result.Status)
	}
	if result.Details["recovery_count"] != "3" {
		t.Errorf("expected recovery_count=3, got %s", result.Details["recovery_count"])
	}
}

func TestDriverCheck_CheckDetailed_Unhealthy(t *testing.T) {
	driver := &mockDriver{connected: false}
	check := NewDriverCheck(driver)

	result := check.CheckDetailed(context.Background())

	if result.Status != StatusUnhealthy {
		t.Errorf("expected status unhealthy, got %s", result.Status)
	}
}

func TestDriverCheck_CheckDetailed_DegradedOnRecoverySpike(t *testing.T) {
	driver := &mockDriver{connected: true, recoveryCount: 1}
	check := NewDriverCheck(driver, WithRecoveryCountWarnRate(2))

	// First call establishes the baseline.
	first := check.CheckDetailed(context.Background())
	if first.Status != StatusHealthy {
		t.Errorf("expected first check healthy, got %s", first.Status)
	}

	driver.recoveryCount = 10
	second := check.CheckDetailed(context.Background())
	if second.Status != StatusDegraded {
		t.Errorf("expected status degraded after recovery spike, got %s", second.Status)
	}
}
