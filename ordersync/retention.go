package ordersync

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"bitbucket.org/mmdatafocus/restaurant_backend/models"
)

const retentionSweepInterval = 24 * time.Hour

// StartRetentionSweeper periodically deletes sync log rows older than the
// configured retention window.
func StartRetentionSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(retentionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweepOnce(ctx)
			}
		}
	}()
}

func sweepOnce(ctx context.Context) {
	logger := config.GetLogger()

	settings, err := models.LoadSyncSettings(ctx)
	if err != nil {
		config.LogError(logger, "ordersync", "sweepOnce", "load settings", nil, err)
		return
	}

	cutoff := time.Now().AddDate(0, 0, -settings.SyncLogRetentionDays)
	deleted, err := models.DeleteSyncLogsBefore(ctx, cutoff)
	if err != nil {
		config.LogError(logger, "ordersync", "sweepOnce", "delete old sync logs", nil, err)
		return
	}
	if deleted > 0 {
		logger.WithFields(map[string]interface{}{
			"module":  "ordersync",
			"deleted": deleted,
			"cutoff":  cutoff,
		}).Info("sync log retention sweep completed")
	}
}
