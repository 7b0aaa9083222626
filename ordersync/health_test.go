package ordersync

import (
	"strings"
	"testing"
	"time"
)

func TestEvaluateHealthHealthy(t *testing.T) {
	report := EvaluateHealth(HealthStats{
		RecentBatchTotal:   5,
		RecentOrdersTotal:  100,
		RecentOrdersSynced: 98,
	}, time.Now())

	if report.Status != HealthLevelHealthy {
		t.Fatalf("expected healthy, got %s (issues=%v)", report.Status, report.Issues)
	}
	if len(report.Issues) != 0 {
		t.Fatalf("healthy report should carry no issues: %v", report.Issues)
	}
}

func TestEvaluateHealthFailureRateThresholds(t *testing.T) {
	warning := EvaluateHealth(HealthStats{
		RecentBatchTotal:    5,
		RecentOrdersTotal:   100,
		RecentOrdersFailure: 25,
	}, time.Now())
	if warning.Status != HealthLevelWarning {
		t.Fatalf("25%% failures should be warning, got %s", warning.Status)
	}

	critical := EvaluateHealth(HealthStats{
		RecentBatchTotal:    5,
		RecentOrdersTotal:   100,
		RecentOrdersFailure: 60,
	}, time.Now())
	if critical.Status != HealthLevelCritical {
		t.Fatalf("60%% failures should be critical, got %s", critical.Status)
	}
	if len(critical.Recommendations) == 0 {
		t.Fatalf("critical report should carry recommendations")
	}
}

func TestEvaluateHealthStaleInProgressIsCritical(t *testing.T) {
	report := EvaluateHealth(HealthStats{StaleInProgress: 3}, time.Now())
	if report.Status != HealthLevelCritical {
		t.Fatalf("stale in_progress leases should be critical, got %s", report.Status)
	}
	found := false
	for _, issue := range report.Issues {
		if strings.Contains(issue, "in_progress") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected an in_progress issue, got %v", report.Issues)
	}
}

func TestEvaluateHealthStaleConflictsAndFailedOrders(t *testing.T) {
	report := EvaluateHealth(HealthStats{
		StaleConflicts: 2,
		FailedOrders:   4,
	}, time.Now())
	if report.Status != HealthLevelWarning {
		t.Fatalf("expected warning, got %s", report.Status)
	}
	if len(report.Issues) != 2 {
		t.Fatalf("expected two issues, got %v", report.Issues)
	}
}

func TestEvaluateHealthCriticalNotDowngraded(t *testing.T) {
	// Critical from stale leases must survive later warning-level findings.
	report := EvaluateHealth(HealthStats{
		StaleInProgress: 1,
		FailedOrders:    1,
	}, time.Now())
	if report.Status != HealthLevelCritical {
		t.Fatalf("critical should not be downgraded by warnings, got %s", report.Status)
	}
}
