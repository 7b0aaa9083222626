package ordersync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"bitbucket.org/mmdatafocus/restaurant_backend/models"
	"bitbucket.org/mmdatafocus/restaurant_backend/utils"
	"github.com/google/uuid"
)

// defaultMaxConcurrent bounds in-flight order syncs per batch regardless of
// batch size, so a large backlog cannot overwhelm the remote endpoint.
const defaultMaxConcurrent = 10

// Coordinator selects candidate orders and fans them out to the worker under
// a fixed concurrency bound, then finalizes one SyncBatch row per run.
type Coordinator struct {
	worker        *Worker
	maxConcurrent int
}

func NewCoordinator(worker *Worker) *Coordinator {
	return &Coordinator{
		worker:        worker,
		maxConcurrent: utils.IntFromEnv("SYNC_MAX_CONCURRENT", defaultMaxConcurrent),
	}
}

// selectCandidates returns order ids due for sync: orders with no status row
// or a pending one, plus retry rows whose next_retry_at has passed. Rows in
// in_progress are excluded, the lease belongs to another worker. Capped at
// twice the batch size.
func (c *Coordinator) selectCandidates(ctx context.Context, batchSize int) ([]int, error) {
	db := config.GetDB()
	now := time.Now()

	var ids []int
	err := db.WithContext(ctx).
		Table("orders").
		Select("orders.id").
		Joins("LEFT JOIN order_sync_statuses oss ON oss.order_id = orders.id").
		Where("oss.id IS NULL OR oss.sync_status = ? OR (oss.sync_status = ? AND oss.next_retry_at <= ?)",
			models.SyncStatusPending, models.SyncStatusRetry, now).
		Order("orders.id asc").
		Limit(batchSize * 2).
		Pluck("orders.id", &ids).Error
	return ids, err
}

// RunBatch executes one sync batch. settings is a snapshot taken by the
// caller; a configuration change mid-batch does not affect this run. When
// orderIds is non-empty, only those orders are processed (targeted manual
// sync); otherwise candidates come from selection.
func (c *Coordinator) RunBatch(ctx context.Context, settings models.SyncSettings, batchType models.SyncBatchType, orderIds []int) (*models.SyncBatch, []Outcome, error) {
	logger := config.GetLogger()

	candidates := orderIds
	if len(candidates) == 0 {
		var err error
		candidates, err = c.selectCandidates(ctx, settings.BatchSize)
		if err != nil {
			return nil, nil, fmt.Errorf("select candidates: %w", err)
		}
	}

	batchId := uuid.NewString()
	batch, err := models.CreateSyncBatch(ctx, batchId, batchType)
	if err != nil {
		return nil, nil, fmt.Errorf("create batch: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"module":     "ordersync",
		"batch_id":   batchId,
		"batch_type": batchType,
		"candidates": len(candidates),
	}).Info("sync batch started")

	var outcomes []Outcome
	for start := 0; start < len(candidates); start += settings.BatchSize {
		end := start + settings.BatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		outcomes = append(outcomes, c.runChunk(ctx, candidates[start:end], &batchId, settings)...)
	}

	result := summarizeOutcomes(outcomes)
	timing, err := models.GetBatchTimingStats(ctx, batchId)
	if err != nil {
		config.LogError(logger, "ordersync", "RunBatch", "batch timing stats",
			map[string]interface{}{"batch_id": batchId}, err)
	} else {
		result.AvgSyncTimeMs = timing.AvgMs
		result.MinSyncTimeMs = timing.MinMs
		result.MaxSyncTimeMs = timing.MaxMs
	}

	if err := models.FinalizeSyncBatch(ctx, batchId, result); err != nil {
		return batch, outcomes, fmt.Errorf("finalize batch: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"module":     "ordersync",
		"batch_id":   batchId,
		"total":      result.TotalOrders,
		"successful": result.SuccessfulSyncs,
		"failed":     result.FailedSyncs,
		"conflicts":  result.ConflictCount,
	}).Info("sync batch completed")

	completedAt := time.Now()
	batch.CompletedAt = &completedAt
	batch.TotalOrders = result.TotalOrders
	batch.SuccessfulSyncs = result.SuccessfulSyncs
	batch.FailedSyncs = result.FailedSyncs
	batch.ConflictCount = result.ConflictCount
	batch.AvgSyncTimeMs = result.AvgSyncTimeMs
	batch.MinSyncTimeMs = result.MinSyncTimeMs
	batch.MaxSyncTimeMs = result.MaxSyncTimeMs
	batch.ErrorSummary = result.ErrorSummary
	return batch, outcomes, nil
}

// runChunk processes one chunk with a fixed pool of worker goroutines
// consuming from a job channel.
func (c *Coordinator) runChunk(ctx context.Context, orderIds []int, batchId *string, settings models.SyncSettings) []Outcome {
	workers := c.maxConcurrent
	if workers <= 0 {
		workers = defaultMaxConcurrent
	}
	if workers > len(orderIds) {
		workers = len(orderIds)
	}

	jobs := make(chan int)
	results := make(chan Outcome, len(orderIds))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for orderId := range jobs {
				results <- c.worker.SyncOrder(ctx, orderId, batchId, settings)
			}
		}()
	}

	for _, orderId := range orderIds {
		jobs <- orderId
	}
	close(jobs)
	wg.Wait()
	close(results)

	outcomes := make([]Outcome, 0, len(orderIds))
	for outcome := range results {
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func summarizeOutcomes(outcomes []Outcome) *models.SyncBatchResult {
	result := &models.SyncBatchResult{}
	var errParts []string
	for _, o := range outcomes {
		if o.Skipped {
			continue
		}
		result.TotalOrders++
		switch {
		case o.Success:
			result.SuccessfulSyncs++
		case o.Conflict:
			result.ConflictCount++
		default:
			result.FailedSyncs++
			if o.Error != "" && len(errParts) < 5 {
				errParts = append(errParts, fmt.Sprintf("order %d: %s", o.OrderId, o.Error))
			}
		}
	}
	result.ErrorSummary = strings.Join(errParts, "; ")
	return result
}
