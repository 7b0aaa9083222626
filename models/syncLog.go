package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
)

type SyncLogOperation string

const (
	SyncLogOperationCreate SyncLogOperation = "create"
	SyncLogOperationUpdate SyncLogOperation = "update"
)

type SyncLogStatus string

const (
	SyncLogStatusSuccess  SyncLogStatus = "success"
	SyncLogStatusFailed   SyncLogStatus = "failed"
	SyncLogStatusConflict SyncLogStatus = "conflict"
)

// SyncLog is the append-only audit trail: one row per order-sync attempt.
type SyncLog struct {
	ID             int              `gorm:"primary_key" json:"id"`
	BatchId        *string          `gorm:"size:64;index" json:"batch_id"`
	OrderId        int              `gorm:"index;not null" json:"order_id"`
	Operation      SyncLogOperation `gorm:"type:enum('create','update');not null" json:"operation"`
	Status         SyncLogStatus    `gorm:"type:enum('success','failed','conflict');not null" json:"status"`
	StartedAt      time.Time        `gorm:"not null" json:"started_at"`
	CompletedAt    time.Time        `gorm:"not null" json:"completed_at"`
	DurationMs     int              `gorm:"default:0" json:"duration_ms"`
	DataBefore     []byte           `gorm:"type:json" json:"data_before"`
	DataAfter      []byte           `gorm:"type:json" json:"data_after"`
	ChangesMade    []byte           `gorm:"type:json" json:"changes_made"`
	ErrorMessage   string           `gorm:"type:text" json:"error_message"`
	ErrorCode      string           `gorm:"size:64" json:"error_code"`
	RemoteResponse []byte           `gorm:"type:json" json:"remote_response"`
	CreatedAt      time.Time        `gorm:"autoCreateTime;index" json:"created_at"`
}

func CreateSyncLog(ctx context.Context, log *SyncLog) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(log).Error
}

// SyncTimingStats holds duration aggregates over a batch's log rows.
type SyncTimingStats struct {
	AvgMs int
	MinMs int
	MaxMs int
}

// GetBatchTimingStats aggregates per-attempt durations for one batch.
func GetBatchTimingStats(ctx context.Context, batchId string) (*SyncTimingStats, error) {
	db := config.GetDB()

	type row struct {
		AvgMs float64
		MinMs int
		MaxMs int
	}
	var r row
	err := db.WithContext(ctx).Model(&SyncLog{}).
		Select("COALESCE(AVG(duration_ms),0) as avg_ms, COALESCE(MIN(duration_ms),0) as min_ms, COALESCE(MAX(duration_ms),0) as max_ms").
		Where("batch_id = ?", batchId).
		Scan(&r).Error
	if err != nil {
		return nil, err
	}
	return &SyncTimingStats{AvgMs: int(r.AvgMs), MinMs: r.MinMs, MaxMs: r.MaxMs}, nil
}

// GetSyncLogsByOrder returns recent attempts for one order, newest first.
func GetSyncLogsByOrder(ctx context.Context, orderId int, limit int) ([]*SyncLog, error) {
	db := config.GetDB()
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var logs []*SyncLog
	err := db.WithContext(ctx).
		Where("order_id = ?", orderId).
		Order("id desc").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// DeleteSyncLogsBefore removes audit rows older than the cutoff. Used by the
// retention sweeper.
func DeleteSyncLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	db := config.GetDB()
	result := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&SyncLog{})
	return result.RowsAffected, result.Error
}
