package ordersync

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"bitbucket.org/mmdatafocus/restaurant_backend/models"
)

const (
	healthRecentBatches     = 10
	staleInProgressAfter    = 1 * time.Hour
	staleConflictAfter      = 7 * 24 * time.Hour
	warningFailureRate      = 0.2
	criticalFailureRate     = 0.5
	healthCheckInterval     = 5 * time.Minute
	healthReportRedisKey    = "ordersync:health"
	healthReportRedisExpiry = 2 * healthCheckInterval
)

// HealthStats is the raw snapshot evaluated by EvaluateHealth. Collecting it
// is the only part of the monitor that touches storage.
type HealthStats struct {
	RecentBatchTotal    int   `json:"recent_batch_total"`
	RecentBatchFailed   int   `json:"recent_batch_failed"`
	StaleInProgress     int64 `json:"stale_in_progress"`
	StaleConflicts      int64 `json:"stale_conflicts"`
	PendingConflicts    int64 `json:"pending_conflicts"`
	FailedOrders        int64 `json:"failed_orders"`
	UnsyncedOrders      int64 `json:"unsynced_orders"`
	RecentOrdersSynced  int   `json:"recent_orders_synced"`
	RecentOrdersTotal   int   `json:"recent_orders_total"`
	RecentOrdersFailure int   `json:"recent_orders_failure"`
}

type HealthLevel string

const (
	HealthLevelHealthy  HealthLevel = "healthy"
	HealthLevelWarning  HealthLevel = "warning"
	HealthLevelCritical HealthLevel = "critical"
)

// HealthReport is advisory only; producing it never mutates sync state.
type HealthReport struct {
	Status          HealthLevel `json:"status"`
	Issues          []string    `json:"issues"`
	Recommendations []string    `json:"recommendations"`
	Stats           HealthStats `json:"stats"`
	EvaluatedAt     time.Time   `json:"evaluated_at"`
}

// CollectHealthStats reads recent batch history and status counts.
func CollectHealthStats(ctx context.Context) (*HealthStats, error) {
	stats := &HealthStats{}
	now := time.Now()

	batches, err := models.GetRecentBatches(ctx, healthRecentBatches)
	if err != nil {
		return nil, err
	}
	stats.RecentBatchTotal = len(batches)
	for _, b := range batches {
		stats.RecentOrdersTotal += b.TotalOrders
		stats.RecentOrdersSynced += b.SuccessfulSyncs
		stats.RecentOrdersFailure += b.FailedSyncs
		if b.TotalOrders > 0 && b.FailedSyncs*2 >= b.TotalOrders {
			stats.RecentBatchFailed++
		}
	}

	if stats.StaleInProgress, err = models.CountStaleInProgress(ctx, now.Add(-staleInProgressAfter)); err != nil {
		return nil, err
	}
	if stats.StaleConflicts, err = models.CountPendingConflicts(ctx, now.Add(-staleConflictAfter)); err != nil {
		return nil, err
	}
	if stats.PendingConflicts, err = models.CountPendingConflicts(ctx, time.Time{}); err != nil {
		return nil, err
	}

	counts, err := models.CountSyncStatuses(ctx)
	if err != nil {
		return nil, err
	}
	stats.FailedOrders = counts[string(models.SyncStatusFailed)]

	if stats.UnsyncedOrders, err = models.CountUnsyncedOrders(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// EvaluateHealth maps a stats snapshot onto a tri-level report. Pure, so the
// threshold logic is testable without a database.
func EvaluateHealth(stats HealthStats, now time.Time) HealthReport {
	report := HealthReport{
		Status:          HealthLevelHealthy,
		Issues:          []string{},
		Recommendations: []string{},
		Stats:           stats,
		EvaluatedAt:     now,
	}

	raise := func(level HealthLevel) {
		if level == HealthLevelCritical || report.Status == HealthLevelHealthy {
			report.Status = level
		}
	}

	if stats.RecentOrdersTotal > 0 {
		failureRate := float64(stats.RecentOrdersFailure) / float64(stats.RecentOrdersTotal)
		if failureRate >= criticalFailureRate {
			raise(HealthLevelCritical)
			report.Issues = append(report.Issues,
				fmt.Sprintf("%.0f%% of order syncs failed over the last %d batches", failureRate*100, stats.RecentBatchTotal))
			report.Recommendations = append(report.Recommendations,
				"check remote endpoint availability and credentials")
		} else if failureRate >= warningFailureRate {
			raise(HealthLevelWarning)
			report.Issues = append(report.Issues,
				fmt.Sprintf("%.0f%% of order syncs failed over the last %d batches", failureRate*100, stats.RecentBatchTotal))
			report.Recommendations = append(report.Recommendations,
				"review recent sync log errors for a common cause")
		}
	}

	if stats.StaleInProgress > 0 {
		raise(HealthLevelCritical)
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d orders stuck in in_progress for over an hour", stats.StaleInProgress))
		report.Recommendations = append(report.Recommendations,
			"a worker likely crashed mid-attempt; requeue the stale orders")
	}

	if stats.StaleConflicts > 0 {
		raise(HealthLevelWarning)
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d conflicts unresolved for over 7 days", stats.StaleConflicts))
		report.Recommendations = append(report.Recommendations,
			"resolve pending conflicts via POST /sync/conflicts/{id}/resolve")
	}

	if stats.FailedOrders > 0 {
		raise(HealthLevelWarning)
		report.Issues = append(report.Issues,
			fmt.Sprintf("%d orders in terminal failed state", stats.FailedOrders))
		report.Recommendations = append(report.Recommendations,
			"requeue with POST /sync/retry-failed after fixing the underlying errors")
	}

	return report
}

// HealthMonitor periodically collects stats, evaluates them, and caches the
// latest report in redis for GET /sync/health.
type HealthMonitor struct {
	stopCh chan struct{}
}

func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{stopCh: make(chan struct{})}
}

func (m *HealthMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				report, err := CurrentHealth(ctx)
				if err != nil {
					config.LogError(config.GetLogger(), "ordersync", "HealthMonitor", "collect health stats", nil, err)
					continue
				}
				_ = config.SetRedisObject(healthReportRedisKey, report, healthReportRedisExpiry)
				if report.Status != HealthLevelHealthy {
					config.GetLogger().WithFields(map[string]interface{}{
						"module": "ordersync",
						"status": report.Status,
						"issues": report.Issues,
					}).Warn("sync health degraded")
				}
			}
		}
	}()
}

func (m *HealthMonitor) Stop() {
	close(m.stopCh)
}

// CurrentHealth collects and evaluates a fresh report.
func CurrentHealth(ctx context.Context) (*HealthReport, error) {
	stats, err := CollectHealthStats(ctx)
	if err != nil {
		return nil, err
	}
	report := EvaluateHealth(*stats, time.Now())
	return &report, nil
}
