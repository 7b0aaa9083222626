package ordersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"bitbucket.org/mmdatafocus/restaurant_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Outcome is the worker's report for one order attempt, consumed by the
// coordinator's batch aggregation.
type Outcome struct {
	OrderId    int    `json:"order_id"`
	Skipped    bool   `json:"skipped"`
	Success    bool   `json:"success"`
	Conflict   bool   `json:"conflict"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	DurationMs int    `json:"duration_ms"`
}

// Worker runs the per-order sync: claim the lease, serialize and checksum,
// call the remote store, then route the result through the resolver or retry
// policy. Every claimed attempt writes exactly one sync log row, including
// the panic path.
type Worker struct {
	client   *Client
	resolver *Resolver
}

func NewWorker(client *Client, resolver *Resolver) *Worker {
	return &Worker{client: client, resolver: resolver}
}

var ErrOrderNotFound = errors.New("order does not exist")

func (w *Worker) SyncOrder(ctx context.Context, orderId int, batchId *string, settings models.SyncSettings) Outcome {
	logger := config.GetLogger()

	status, err := models.GetOrCreateSyncStatus(ctx, orderId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Outcome{OrderId: orderId, Error: ErrOrderNotFound.Error(), ErrorCode: string(ErrorKindCritical)}
		}
		return Outcome{OrderId: orderId, Error: err.Error(), ErrorCode: string(ErrorKindCritical)}
	}
	if status.SyncStatus == models.SyncStatusSynced {
		return Outcome{OrderId: orderId, Skipped: true}
	}

	status, err = models.BeginSyncAttempt(ctx, status.ID)
	if err != nil {
		if errors.Is(err, models.ErrSyncStatusClaimed) {
			// Another worker holds the lease; not an attempt, no log row.
			return Outcome{OrderId: orderId, Skipped: true}
		}
		return Outcome{OrderId: orderId, Error: err.Error(), ErrorCode: string(ErrorKindCritical)}
	}

	return w.runAttempt(ctx, orderId, status, batchId, settings, logger)
}

// runAttempt covers everything between a claimed lease and the single sync
// log row. The deferred block owns the log write and the panic recovery so
// no attempt is ever unobserved.
func (w *Worker) runAttempt(ctx context.Context, orderId int, status *models.OrderSyncStatus, batchId *string, settings models.SyncSettings, logger *logrus.Logger) (outcome Outcome) {
	startedAt := time.Now()
	operation := models.SyncLogOperationCreate
	if status.RemoteId != "" {
		operation = models.SyncLogOperationUpdate
	}

	var (
		dataBefore     []byte
		dataAfter      []byte
		changesMade    []byte
		remoteResponse []byte
	)

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in sync worker: %v", r)
			config.LogError(config.GetLogger(), "ordersync", "SyncOrder", "panic recovery",
				map[string]interface{}{"order_id": orderId}, err)
			outcome = w.applyFailure(ctx, orderId, status, &SyncResult{
				ErrorKind:    ErrorKindCritical,
				ErrorMessage: err.Error(),
			}, settings)
		}

		completedAt := time.Now()
		outcome.OrderId = orderId
		outcome.DurationMs = int(completedAt.Sub(startedAt).Milliseconds())

		logStatus := models.SyncLogStatusFailed
		if outcome.Success {
			logStatus = models.SyncLogStatusSuccess
		} else if outcome.Conflict {
			logStatus = models.SyncLogStatusConflict
		}

		logRow := models.SyncLog{
			BatchId:        batchId,
			OrderId:        orderId,
			Operation:      operation,
			Status:         logStatus,
			StartedAt:      startedAt,
			CompletedAt:    completedAt,
			DurationMs:     outcome.DurationMs,
			DataBefore:     dataBefore,
			DataAfter:      dataAfter,
			ChangesMade:    changesMade,
			ErrorMessage:   outcome.Error,
			ErrorCode:      outcome.ErrorCode,
			RemoteResponse: remoteResponse,
		}
		if err := models.CreateSyncLog(ctx, &logRow); err != nil {
			config.LogError(config.GetLogger(), "ordersync", "SyncOrder", "write sync log",
				map[string]interface{}{"order_id": orderId}, err)
		}
	}()

	order, err := models.GetOrder(ctx, orderId)
	if err != nil {
		return w.applyFailure(ctx, orderId, status, &SyncResult{
			ErrorKind:    ErrorKindCritical,
			ErrorMessage: fmt.Sprintf("load order: %v", err),
		}, settings)
	}

	payload, checksum, err := OrderChecksum(order)
	if err != nil {
		return w.applyFailure(ctx, orderId, status, &SyncResult{
			ErrorKind:    ErrorKindValidation,
			ErrorMessage: fmt.Sprintf("serialize order: %v", err),
		}, settings)
	}
	dataBefore = payload

	if err := models.SetLocalChecksum(ctx, status.ID, checksum); err != nil {
		logger.WithFields(map[string]interface{}{
			"module":   "ordersync",
			"order_id": orderId,
		}).Warnf("store local checksum: %v", err)
	}

	externalId := ""
	if order.ExternalId != nil {
		externalId = *order.ExternalId
	}

	result := w.client.Upsert(ctx, payload, externalId, order.SyncVersion)
	remoteResponse = result.RawResponse

	switch {
	case result.Success:
		newVersion := order.SyncVersion + 1
		if err := models.ApplySyncSuccess(ctx, orderId, result.RemoteId, newVersion); err != nil {
			return w.applyFailure(ctx, orderId, status, &SyncResult{
				ErrorKind:    ErrorKindCritical,
				ErrorMessage: fmt.Sprintf("apply sync success: %v", err),
			}, settings)
		}
		if err := models.MarkSynced(ctx, status.ID, result.RemoteId, result.RemoteVersion, result.RemoteChecksum); err != nil {
			return Outcome{Error: err.Error(), ErrorCode: string(ErrorKindCritical)}
		}
		after, _ := models.GetOrder(ctx, orderId)
		if after != nil {
			dataAfter, _ = SerializeOrder(after)
		}
		changesMade, _ = json.Marshal(map[string]interface{}{
			"external_id":  result.RemoteId,
			"sync_version": newVersion,
			"is_synced":    true,
		})
		return Outcome{Success: true}

	case result.ErrorKind == ErrorKindConflict:
		endState, err := w.resolver.HandleConflict(ctx, order, status, payload, result, settings)
		if err != nil {
			return w.applyFailure(ctx, orderId, status, &SyncResult{
				ErrorKind:    ErrorKindCritical,
				ErrorMessage: fmt.Sprintf("handle conflict: %v", err),
			}, settings)
		}
		resolved := endState == models.SyncStatusSynced
		out := Outcome{Conflict: !resolved, Success: resolved}
		if !resolved {
			out.Error = "remote version conflict"
		}
		return out

	default:
		return w.applyFailure(ctx, orderId, status, result, settings)
	}
}

// applyFailure routes a non-conflict failure through the retry policy and
// records the corresponding state transition.
func (w *Worker) applyFailure(ctx context.Context, orderId int, status *models.OrderSyncStatus, result *SyncResult, settings models.SyncSettings) Outcome {
	decision := NextRetryState(status.AttemptCount, settings.MaxRetryAttempts, settings.RetryBackoffMultiplier)

	var transitionErr error
	if decision.Retry {
		nextRetryAt := time.Now().Add(decision.Delay)
		transitionErr = models.MarkRetry(ctx, status.ID, nextRetryAt, result.ErrorMessage, string(result.ErrorKind))
	} else {
		transitionErr = models.MarkFailed(ctx, status.ID, result.ErrorMessage, string(result.ErrorKind))
	}
	if transitionErr != nil {
		config.LogError(config.GetLogger(), "ordersync", "applyFailure", "state transition",
			map[string]interface{}{"order_id": orderId, "retry": decision.Retry}, transitionErr)
	}

	return Outcome{
		Error:     result.ErrorMessage,
		ErrorCode: string(result.ErrorKind),
	}
}
