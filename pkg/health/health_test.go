package health

import (
	"context"
	"testing"
)

type fakeCheck struct {
	name   string
	result Result
}

func (f *fakeCheck) Name() string { return f.name }

func (f *fakeCheck) Check(ctx context.Context) error { return nil }

func (f *fakeCheck) CheckDetailed(ctx context.Context) Result { return f.result }

func TestAggregate_AllHealthy(t *testing.T) {
	checks := []DetailedCheck{
		&fakeCheck{name: "a", result: Result{Name: "a", Status: StatusHealthy}},
		&fakeCheck{name: "b", result: Result{Name: "b", Status: StatusHealthy}},
	}

	overall, results := Aggregate(context.Background(), checks)

	if overall != StatusHealthy {
		t.Errorf("expected overall healthy, got %s", overall)
	}
	if len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestAggregate_DegradedWins(t *testing.T) {
	checks := []DetailedCheck{
		&fakeCheck{name: "a", result: Result{Name: "a", Status: StatusHealthy}},
		&fakeCheck{name: "b", result: Result{Name: "b", Status: StatusDegraded}},
	}

	overall, _ := Aggregate(context.Background(), checks)

	if overall != StatusDegraded {
		t.Errorf("expected overall degraded, got %s", overall)
	}
}

func TestAggregate_UnhealthyOverridesDegraded(t *testing.T) {
	checks := []DetailedCheck{
		&fakeCheck{name: "a", result: Result{Name: "a", Status: StatusDegraded}},
		&fakeCheck{name: "b", result: Result{Name: "b", Status: StatusUnhealthy}},
	}

	overall, _ := Aggregate(context.Background(), checks)

	if overall != StatusUnhealthy {
		t.Errorf("expected overall unhealthy, got %s", overall)
	}
}

func TestAggregate_EmptyIsHealthy(t *testing.T) {
	overall, results := Aggregate(context.Background(), nil)

	if overall != StatusHealthy {
		t.Errorf("expected overall healthy for no checks, got %s", overall)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
