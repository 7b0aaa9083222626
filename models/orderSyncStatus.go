package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

type SyncStatus string

const (
	SyncStatusPending    SyncStatus = "pending"
	SyncStatusInProgress SyncStatus = "in_progress"
	SyncStatusSynced     SyncStatus = "synced"
	SyncStatusConflict   SyncStatus = "conflict"
	SyncStatusRetry      SyncStatus = "retry"
	SyncStatusFailed     SyncStatus = "failed"
)

type SyncDirection string

const (
	SyncDirectionLocalToRemote SyncDirection = "local_to_remote"
	SyncDirectionRemoteToLocal SyncDirection = "remote_to_local"
	SyncDirectionBidirectional SyncDirection = "bidirectional"
)

// OrderSyncStatus is the sync state machine instance for one order. Exactly
// one row per order (unique index on order_id); transitions go through the
// functions below, each a single atomic UPDATE guarded by the current state.
type OrderSyncStatus struct {
	ID            int           `gorm:"primary_key" json:"id"`
	OrderId       int           `gorm:"uniqueIndex;not null" json:"order_id"`
	SyncStatus    SyncStatus    `gorm:"type:enum('pending','in_progress','synced','conflict','retry','failed');not null;default:'pending';index" json:"sync_status"`
	SyncDirection SyncDirection `gorm:"type:enum('local_to_remote','remote_to_local','bidirectional');not null;default:'local_to_remote'" json:"sync_direction"`
	AttemptCount  int           `gorm:"default:0" json:"attempt_count"`
	LastAttemptAt *time.Time    `json:"last_attempt_at"`
	NextRetryAt   *time.Time    `gorm:"index" json:"next_retry_at"`
	SyncedAt      *time.Time    `json:"synced_at"`

	LastError  string `gorm:"type:text" json:"last_error"`
	ErrorCode  string `gorm:"size:64" json:"error_code"`
	ErrorCount int    `gorm:"default:0" json:"error_count"`

	RemoteId       string `gorm:"size:128" json:"remote_id"`
	RemoteVersion  int    `gorm:"default:0" json:"remote_version"`
	LocalChecksum  string `gorm:"size:64" json:"local_checksum"`
	RemoteChecksum string `gorm:"size:64" json:"remote_checksum"`

	ConflictDetectedAt *time.Time `json:"conflict_detected_at"`
	ConflictResolution string     `gorm:"size:32" json:"conflict_resolution"`
	ConflictData       []byte     `gorm:"type:json" json:"conflict_data"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

var ErrSyncStatusClaimed = errors.New("order sync status already claimed by another worker")

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// GetOrCreateSyncStatus returns the status row for the order, creating a
// pending one if absent. A concurrent create racing on the unique order_id
// index is resolved by re-reading the winner's row.
func GetOrCreateSyncStatus(ctx context.Context, orderId int) (*OrderSyncStatus, error) {
	db := config.GetDB()

	var status OrderSyncStatus
	err := db.WithContext(ctx).Where("order_id = ?", orderId).Take(&status).Error
	if err == nil {
		return &status, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	exists, err := OrderExists(ctx, orderId)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, gorm.ErrRecordNotFound
	}

	status = OrderSyncStatus{
		OrderId:       orderId,
		SyncStatus:    SyncStatusPending,
		SyncDirection: SyncDirectionLocalToRemote,
	}
	if err := db.WithContext(ctx).Create(&status).Error; err != nil {
		if isDuplicateKeyErr(err) {
			var existing OrderSyncStatus
			if err := db.WithContext(ctx).Where("order_id = ?", orderId).Take(&existing).Error; err != nil {
				return nil, err
			}
			return &existing, nil
		}
		return nil, err
	}
	return &status, nil
}

// BeginSyncAttempt claims the in_progress lease for the order. The guarded
// UPDATE only succeeds when the row is still in a claimable state; zero rows
// affected means another worker holds the lease.
func BeginSyncAttempt(ctx context.Context, statusId int) (*OrderSyncStatus, error) {
	db := config.GetDB()
	now := time.Now()

	result := db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("id = ? AND sync_status IN ?", statusId,
			[]SyncStatus{SyncStatusPending, SyncStatusRetry, SyncStatusConflict, SyncStatusFailed}).
		Updates(map[string]interface{}{
			"sync_status":     SyncStatusInProgress,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"last_attempt_at": now,
			"next_retry_at":   nil,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrSyncStatusClaimed
	}

	var status OrderSyncStatus
	if err := db.WithContext(ctx).Where("id = ?", statusId).Take(&status).Error; err != nil {
		return nil, err
	}
	return &status, nil
}

// SetLocalChecksum records the checksum computed for the current attempt.
func SetLocalChecksum(ctx context.Context, statusId int, checksum string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("id = ?", statusId).
		Update("local_checksum", checksum).Error
}

// MarkSynced finishes an attempt successfully and clears error/retry state.
func MarkSynced(ctx context.Context, statusId int, remoteId string, remoteVersion int, remoteChecksum string) error {
	db := config.GetDB()
	now := time.Now()
	return db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("id = ? AND sync_status = ?", statusId, SyncStatusInProgress).
		Updates(map[string]interface{}{
			"sync_status":     SyncStatusSynced,
			"synced_at":       now,
			"remote_id":       remoteId,
			"remote_version":  remoteVersion,
			"remote_checksum": remoteChecksum,
			"last_error":      "",
			"error_code":      "",
			"next_retry_at":   nil,
		}).Error
}

// MarkConflict parks the order in conflict until resolution.
func MarkConflict(ctx context.Context, statusId int, remoteChecksum string, conflictData []byte) error {
	db := config.GetDB()
	now := time.Now()
	return db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("id = ? AND sync_status = ?", statusId, SyncStatusInProgress).
		Updates(map[string]interface{}{
			"sync_status":          SyncStatusConflict,
			"conflict_detected_at": now,
			"remote_checksum":      remoteChecksum,
			"conflict_data":        conflictData,
			"next_retry_at":        nil,
		}).Error
}

// MarkRetry schedules the next attempt.
func MarkRetry(ctx context.Context, statusId int, nextRetryAt time.Time, errMsg string, errCode string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("id = ? AND sync_status IN ?", statusId,
			[]SyncStatus{SyncStatusInProgress, SyncStatusConflict}).
		Updates(map[string]interface{}{
			"sync_status":   SyncStatusRetry,
			"next_retry_at": nextRetryAt,
			"last_error":    errMsg,
			"error_code":    errCode,
			"error_count":   gorm.Expr("error_count + 1"),
			"synced_at":     nil,
		}).Error
}

// MarkFailed ends retrying for the order. Terminal until an operator requeues.
func MarkFailed(ctx context.Context, statusId int, errMsg string, errCode string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("id = ? AND sync_status IN ?", statusId,
			[]SyncStatus{SyncStatusInProgress, SyncStatusConflict}).
		Updates(map[string]interface{}{
			"sync_status":   SyncStatusFailed,
			"last_error":    errMsg,
			"error_code":    errCode,
			"error_count":   gorm.Expr("error_count + 1"),
			"next_retry_at": nil,
		}).Error
}

// MarkSyncedAfterResolution is the remote_wins path: conflict -> synced
// without another network round trip.
func MarkSyncedAfterResolution(ctx context.Context, statusId int, resolution string) error {
	db := config.GetDB()
	now := time.Now()
	return db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("id = ? AND sync_status = ?", statusId, SyncStatusConflict).
		Updates(map[string]interface{}{
			"sync_status":         SyncStatusSynced,
			"synced_at":           now,
			"conflict_resolution": resolution,
			"last_error":          "",
			"error_code":          "",
			"next_retry_at":       nil,
		}).Error
}

// RequeueAfterResolution is the local_wins/merge path: conflict -> retry with
// a short delay so the next batch re-syncs the order.
func RequeueAfterResolution(ctx context.Context, statusId int, resolution string, nextRetryAt time.Time) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("id = ? AND sync_status = ?", statusId, SyncStatusConflict).
		Updates(map[string]interface{}{
			"sync_status":         SyncStatusRetry,
			"next_retry_at":       nextRetryAt,
			"conflict_resolution": resolution,
			"attempt_count":       0,
			"synced_at":           nil,
		}).Error
}

// MarkIgnored leaves the order permanently out of sync. The failed state with
// attempt_count at the ceiling keeps it out of candidate selection.
func MarkIgnored(ctx context.Context, statusId int, resolution string) error {
	db := config.GetDB()
	return db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("id = ? AND sync_status = ?", statusId, SyncStatusConflict).
		Updates(map[string]interface{}{
			"sync_status":         SyncStatusFailed,
			"conflict_resolution": resolution,
			"last_error":          "conflict ignored by operator",
			"error_code":          "CONFLICT_IGNORED",
			"next_retry_at":       nil,
		}).Error
}

// RequeueFailedOrders resets up to limit failed orders back to retry with
// a cleared attempt counter. Returns the number of rows requeued.
func RequeueFailedOrders(ctx context.Context, limit int) (int64, error) {
	db := config.GetDB()
	now := time.Now()

	var ids []int
	err := db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("sync_status = ?", SyncStatusFailed).
		Order("updated_at asc").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	result := db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("id IN ? AND sync_status = ?", ids, SyncStatusFailed).
		Updates(map[string]interface{}{
			"sync_status":   SyncStatusRetry,
			"attempt_count": 0,
			"next_retry_at": now,
			"last_error":    "",
			"error_code":    "",
		})
	return result.RowsAffected, result.Error
}

// ForceResyncOrders resets already-synced statuses back to pending so a
// forced manual sync picks the orders up again.
func ForceResyncOrders(ctx context.Context, orderIds []int) error {
	if len(orderIds) == 0 {
		return nil
	}
	db := config.GetDB()
	return db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("order_id IN ? AND sync_status = ?", orderIds, SyncStatusSynced).
		Updates(map[string]interface{}{
			"sync_status":   SyncStatusPending,
			"attempt_count": 0,
			"synced_at":     nil,
		}).Error
}

// GetSyncStatusByOrderId loads the status row for one order.
func GetSyncStatusByOrderId(ctx context.Context, orderId int) (*OrderSyncStatus, error) {
	db := config.GetDB()
	var status OrderSyncStatus
	err := db.WithContext(ctx).Where("order_id = ?", orderId).Take(&status).Error
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// CountSyncStatuses returns row counts grouped by sync_status.
func CountSyncStatuses(ctx context.Context) (map[string]int64, error) {
	db := config.GetDB()

	type row struct {
		SyncStatus string
		Total      int64
	}
	var rows []row
	err := db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Select("sync_status, count(*) as total").
		Group("sync_status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[string]int64{}
	for _, r := range rows {
		counts[r.SyncStatus] = r.Total
	}
	return counts, nil
}

// CountStaleInProgress counts leases older than the staleness cutoff,
// which indicates a worker that died mid-attempt.
func CountStaleInProgress(ctx context.Context, olderThan time.Time) (int64, error) {
	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&OrderSyncStatus{}).
		Where("sync_status = ? AND last_attempt_at < ?", SyncStatusInProgress, olderThan).
		Count(&count).Error
	return count, err
}
