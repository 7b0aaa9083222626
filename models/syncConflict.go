package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
)

type ConflictResolutionStatus string

const (
	ConflictResolutionStatusPending  ConflictResolutionStatus = "pending"
	ConflictResolutionStatusResolved ConflictResolutionStatus = "resolved"
	ConflictResolutionStatusIgnored  ConflictResolutionStatus = "ignored"
)

type ConflictResolutionMethod string

const (
	ConflictResolutionLocalWins  ConflictResolutionMethod = "local_wins"
	ConflictResolutionRemoteWins ConflictResolutionMethod = "remote_wins"
	ConflictResolutionMerge      ConflictResolutionMethod = "merge"
	ConflictResolutionIgnore     ConflictResolutionMethod = "ignore"
)

// SyncConflict records one remote-reported version/data mismatch. Terminal
// once resolution_status leaves pending.
type SyncConflict struct {
	ID               int                      `gorm:"primary_key" json:"id"`
	OrderId          int                      `gorm:"index;not null" json:"order_id"`
	ConflictType     string                   `gorm:"size:64;not null" json:"conflict_type"`
	LocalData        []byte                   `gorm:"type:json" json:"local_data"`
	RemoteData       []byte                   `gorm:"type:json" json:"remote_data"`
	Differences      []byte                   `gorm:"type:json" json:"differences"`
	ResolutionStatus ConflictResolutionStatus `gorm:"type:enum('pending','resolved','ignored');not null;default:'pending';index" json:"resolution_status"`
	ResolutionMethod string                   `gorm:"size:32" json:"resolution_method"`
	ResolutionNotes  string                   `gorm:"type:text" json:"resolution_notes"`
	FinalData        []byte                   `gorm:"type:json" json:"final_data"`
	ResolvedAt       *time.Time               `json:"resolved_at"`
	ResolvedBy       string                   `gorm:"size:255" json:"resolved_by"`
	CreatedAt        time.Time                `gorm:"autoCreateTime" json:"created_at"`
}

func CreateSyncConflict(ctx context.Context, conflict *SyncConflict) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(conflict).Error
}

func GetSyncConflict(ctx context.Context, id int) (*SyncConflict, error) {
	db := config.GetDB()
	var conflict SyncConflict
	err := db.WithContext(ctx).Where("id = ?", id).Take(&conflict).Error
	if err != nil {
		return nil, err
	}
	return &conflict, nil
}

// GetSyncConflicts lists conflicts, newest first, optionally filtered by
// resolution status.
func GetSyncConflicts(ctx context.Context, status string, limit int, offset int) ([]*SyncConflict, int64, error) {
	db := config.GetDB()
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := db.WithContext(ctx).Model(&SyncConflict{})
	if status != "" {
		query = query.Where("resolution_status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var conflicts []*SyncConflict
	err := query.Order("id desc").
		Limit(limit).
		Offset(offset).
		Find(&conflicts).Error
	return conflicts, total, err
}

// ResolveSyncConflict finalizes a pending conflict row. Zero rows affected
// means the conflict was already resolved.
func ResolveSyncConflict(ctx context.Context, id int, status ConflictResolutionStatus, method ConflictResolutionMethod, notes string, finalData []byte, resolvedBy string) (bool, error) {
	db := config.GetDB()
	now := time.Now()
	result := db.WithContext(ctx).Model(&SyncConflict{}).
		Where("id = ? AND resolution_status = ?", id, ConflictResolutionStatusPending).
		Updates(map[string]interface{}{
			"resolution_status": status,
			"resolution_method": string(method),
			"resolution_notes":  notes,
			"final_data":        finalData,
			"resolved_at":       now,
			"resolved_by":       resolvedBy,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CountPendingConflicts counts unresolved conflicts; olderThan narrows to
// stale ones when non-zero.
func CountPendingConflicts(ctx context.Context, olderThan time.Time) (int64, error) {
	db := config.GetDB()
	query := db.WithContext(ctx).Model(&SyncConflict{}).
		Where("resolution_status = ?", ConflictResolutionStatusPending)
	if !olderThan.IsZero() {
		query = query.Where("created_at < ?", olderThan)
	}
	var count int64
	err := query.Count(&count).Error
	return count, err
}
