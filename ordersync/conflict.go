package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"bitbucket.org/mmdatafocus/restaurant_backend/models"
)

// localWinsRequeueDelay is how long after an automatic or manual local_wins
// resolution the order waits before the next batch re-syncs it.
const localWinsRequeueDelay = 1 * time.Minute

// FieldDiff is one differing field between the local and remote snapshots.
type FieldDiff struct {
	Local  interface{} `json:"local"`
	Remote interface{} `json:"remote"`
}

// DiffSnapshots computes a field-by-field diff of two JSON object snapshots.
// Fields present on only one side count as differences.
func DiffSnapshots(localData []byte, remoteData []byte) (map[string]FieldDiff, error) {
	var local, remote map[string]interface{}
	if err := json.Unmarshal(localData, &local); err != nil {
		return nil, fmt.Errorf("parse local snapshot: %w", err)
	}
	if len(remoteData) > 0 {
		if err := json.Unmarshal(remoteData, &remote); err != nil {
			return nil, fmt.Errorf("parse remote snapshot: %w", err)
		}
	}

	diffs := map[string]FieldDiff{}
	for key, localVal := range local {
		remoteVal, ok := remote[key]
		if !ok {
			diffs[key] = FieldDiff{Local: localVal, Remote: nil}
			continue
		}
		localJSON, _ := json.Marshal(localVal)
		remoteJSON, _ := json.Marshal(remoteVal)
		if string(localJSON) != string(remoteJSON) {
			diffs[key] = FieldDiff{Local: localVal, Remote: remoteVal}
		}
	}
	for key, remoteVal := range remote {
		if _, ok := local[key]; !ok {
			diffs[key] = FieldDiff{Local: nil, Remote: remoteVal}
		}
	}
	return diffs, nil
}

// Resolver records remote-reported conflicts and applies the configured
// resolution mode. Automatic resolutions run inline in the worker path;
// manual ones wait for an operator call.
type Resolver struct{}

func NewResolver() *Resolver {
	return &Resolver{}
}

// HandleConflict records the conflict and, in auto mode, resolves it
// immediately. Returns the sync_status the order ended in.
func (r *Resolver) HandleConflict(ctx context.Context, order *models.Order, status *models.OrderSyncStatus, localData []byte, result *SyncResult, settings models.SyncSettings) (models.SyncStatus, error) {
	logger := config.GetLogger()

	differences, err := DiffSnapshots(localData, result.ConflictData)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"module":   "ordersync",
			"order_id": order.ID,
		}).Warnf("conflict diff failed, recording raw payloads: %v", err)
		differences = map[string]FieldDiff{}
	}
	diffJSON, _ := json.Marshal(differences)

	conflict := models.SyncConflict{
		OrderId:      order.ID,
		ConflictType: "version_mismatch",
		LocalData:    localData,
		RemoteData:   result.ConflictData,
		Differences:  diffJSON,
	}
	if err := models.CreateSyncConflict(ctx, &conflict); err != nil {
		return "", fmt.Errorf("record conflict: %w", err)
	}

	if err := models.MarkConflict(ctx, status.ID, result.RemoteChecksum, result.ConflictData); err != nil {
		return "", err
	}

	if settings.ConflictMode != "auto" {
		return models.SyncStatusConflict, nil
	}

	switch settings.ConflictStrategy {
	case "local_wins":
		return r.resolveLocalWins(ctx, &conflict, status, "auto")
	case "remote_wins":
		return r.resolveRemoteWins(ctx, &conflict, status, result.ConflictData, "auto")
	default:
		return models.SyncStatusConflict, fmt.Errorf("unknown conflict strategy %q", settings.ConflictStrategy)
	}
}

func (r *Resolver) resolveLocalWins(ctx context.Context, conflict *models.SyncConflict, status *models.OrderSyncStatus, resolvedBy string) (models.SyncStatus, error) {
	if _, err := models.ResolveSyncConflict(ctx, conflict.ID,
		models.ConflictResolutionStatusResolved, models.ConflictResolutionLocalWins,
		"", conflict.LocalData, resolvedBy); err != nil {
		return "", err
	}
	// Requeue with a short delay so the next batch re-syncs the local state
	// over the remote copy.
	nextRetry := time.Now().Add(localWinsRequeueDelay)
	if err := models.RequeueAfterResolution(ctx, status.ID, string(models.ConflictResolutionLocalWins), nextRetry); err != nil {
		return "", err
	}
	return models.SyncStatusRetry, nil
}

func (r *Resolver) resolveRemoteWins(ctx context.Context, conflict *models.SyncConflict, status *models.OrderSyncStatus, remoteData []byte, resolvedBy string) (models.SyncStatus, error) {
	if err := models.ApplyRemoteSnapshot(ctx, conflict.OrderId, remoteData); err != nil {
		return "", fmt.Errorf("apply remote snapshot: %w", err)
	}
	if _, err := models.ResolveSyncConflict(ctx, conflict.ID,
		models.ConflictResolutionStatusResolved, models.ConflictResolutionRemoteWins,
		"", remoteData, resolvedBy); err != nil {
		return "", err
	}
	if err := models.MarkSyncedAfterResolution(ctx, status.ID, string(models.ConflictResolutionRemoteWins)); err != nil {
		return "", err
	}
	return models.SyncStatusSynced, nil
}

var ErrConflictAlreadyResolved = errors.New("conflict is not pending")

// ManualResolution is the operator payload for resolving a pending conflict.
type ManualResolution struct {
	Method    models.ConflictResolutionMethod
	Notes     string
	FinalData []byte
	By        string
}

// ResolveManual applies an operator's resolution to a pending conflict. The
// method switch is exhaustive; an unrecognized method is an input error.
func (r *Resolver) ResolveManual(ctx context.Context, conflictId int, resolution ManualResolution) (models.SyncStatus, error) {
	conflict, err := models.GetSyncConflict(ctx, conflictId)
	if err != nil {
		return "", err
	}
	if conflict.ResolutionStatus != models.ConflictResolutionStatusPending {
		return "", ErrConflictAlreadyResolved
	}

	status, err := models.GetSyncStatusByOrderId(ctx, conflict.OrderId)
	if err != nil {
		return "", err
	}

	switch resolution.Method {
	case models.ConflictResolutionLocalWins:
		return r.resolveLocalWins(ctx, conflict, status, resolution.By)

	case models.ConflictResolutionRemoteWins:
		return r.resolveRemoteWins(ctx, conflict, status, conflict.RemoteData, resolution.By)

	case models.ConflictResolutionMerge:
		if len(resolution.FinalData) == 0 {
			return "", errors.New("merge resolution requires final_data")
		}
		if err := models.ApplyRemoteSnapshot(ctx, conflict.OrderId, resolution.FinalData); err != nil {
			return "", fmt.Errorf("apply merged data: %w", err)
		}
		if _, err := models.ResolveSyncConflict(ctx, conflict.ID,
			models.ConflictResolutionStatusResolved, models.ConflictResolutionMerge,
			resolution.Notes, resolution.FinalData, resolution.By); err != nil {
			return "", err
		}
		// Merged state still has to reach the remote side.
		nextRetry := time.Now().Add(localWinsRequeueDelay)
		if err := models.RequeueAfterResolution(ctx, status.ID, string(models.ConflictResolutionMerge), nextRetry); err != nil {
			return "", err
		}
		return models.SyncStatusRetry, nil

	case models.ConflictResolutionIgnore:
		if _, err := models.ResolveSyncConflict(ctx, conflict.ID,
			models.ConflictResolutionStatusIgnored, models.ConflictResolutionIgnore,
			resolution.Notes, nil, resolution.By); err != nil {
			return "", err
		}
		if err := models.MarkIgnored(ctx, status.ID, string(models.ConflictResolutionIgnore)); err != nil {
			return "", err
		}
		return models.SyncStatusFailed, nil

	default:
		return "", fmt.Errorf("unknown resolution method %q", resolution.Method)
	}
}
