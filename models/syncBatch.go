package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
)

type SyncBatchType string

const (
	SyncBatchTypeScheduled SyncBatchType = "scheduled"
	SyncBatchTypeManual    SyncBatchType = "manual"
	SyncBatchTypeRetry     SyncBatchType = "retry"
)

// SyncBatch is one coordinator run. Created at batch start, finalized once
// with the aggregates, immutable thereafter.
type SyncBatch struct {
	ID              int           `gorm:"primary_key" json:"id"`
	BatchId         string        `gorm:"size:64;uniqueIndex;not null" json:"batch_id"`
	BatchType       SyncBatchType `gorm:"type:enum('scheduled','manual','retry');not null" json:"batch_type"`
	StartedAt       time.Time     `gorm:"not null" json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at"`
	TotalOrders     int           `gorm:"default:0" json:"total_orders"`
	SuccessfulSyncs int           `gorm:"default:0" json:"successful_syncs"`
	FailedSyncs     int           `gorm:"default:0" json:"failed_syncs"`
	ConflictCount   int           `gorm:"default:0" json:"conflict_count"`
	AvgSyncTimeMs   int           `gorm:"default:0" json:"avg_sync_time_ms"`
	MinSyncTimeMs   int           `gorm:"default:0" json:"min_sync_time_ms"`
	MaxSyncTimeMs   int           `gorm:"default:0" json:"max_sync_time_ms"`
	ErrorSummary    string        `gorm:"type:text" json:"error_summary"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

func CreateSyncBatch(ctx context.Context, batchId string, batchType SyncBatchType) (*SyncBatch, error) {
	db := config.GetDB()
	batch := SyncBatch{
		BatchId:   batchId,
		BatchType: batchType,
		StartedAt: time.Now(),
	}
	if err := db.WithContext(ctx).Create(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

type SyncBatchResult struct {
	TotalOrders     int
	SuccessfulSyncs int
	FailedSyncs     int
	ConflictCount   int
	AvgSyncTimeMs   int
	MinSyncTimeMs   int
	MaxSyncTimeMs   int
	ErrorSummary    string
}

func FinalizeSyncBatch(ctx context.Context, batchId string, result *SyncBatchResult) error {
	db := config.GetDB()
	now := time.Now()
	return db.WithContext(ctx).Model(&SyncBatch{}).
		Where("batch_id = ? AND completed_at IS NULL", batchId).
		Updates(map[string]interface{}{
			"completed_at":     now,
			"total_orders":     result.TotalOrders,
			"successful_syncs": result.SuccessfulSyncs,
			"failed_syncs":     result.FailedSyncs,
			"conflict_count":   result.ConflictCount,
			"avg_sync_time_ms": result.AvgSyncTimeMs,
			"min_sync_time_ms": result.MinSyncTimeMs,
			"max_sync_time_ms": result.MaxSyncTimeMs,
			"error_summary":    result.ErrorSummary,
		}).Error
}

// GetSyncBatches returns batch history, newest first. completed filters on
// completion state when non-nil.
func GetSyncBatches(ctx context.Context, limit int, offset int, completed *bool) ([]*SyncBatch, int64, error) {
	db := config.GetDB()
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := db.WithContext(ctx).Model(&SyncBatch{})
	if completed != nil {
		if *completed {
			query = query.Where("completed_at IS NOT NULL")
		} else {
			query = query.Where("completed_at IS NULL")
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var batches []*SyncBatch
	err := query.Order("started_at desc").
		Limit(limit).
		Offset(offset).
		Find(&batches).Error
	return batches, total, err
}

// GetLastCompletedBatch returns the most recently finished batch, or nil when
// no batch has completed yet.
func GetLastCompletedBatch(ctx context.Context) (*SyncBatch, error) {
	db := config.GetDB()
	var batch SyncBatch
	err := db.WithContext(ctx).
		Where("completed_at IS NOT NULL").
		Order("completed_at desc").
		Limit(1).
		Find(&batch).Error
	if err != nil {
		return nil, err
	}
	if batch.ID == 0 {
		return nil, nil
	}
	return &batch, nil
}

// GetRecentBatches returns the last n completed batches for health evaluation.
func GetRecentBatches(ctx context.Context, n int) ([]*SyncBatch, error) {
	db := config.GetDB()
	var batches []*SyncBatch
	err := db.WithContext(ctx).
		Where("completed_at IS NOT NULL").
		Order("completed_at desc").
		Limit(n).
		Find(&batches).Error
	return batches, err
}
