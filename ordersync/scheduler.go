package ordersync

import (
	"context"
	"errors"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"bitbucket.org/mmdatafocus/restaurant_backend/models"
	"github.com/bsm/redislock"
)

// BatchRunner is what the scheduler drives; satisfied by *Coordinator and by
// fakes in tests.
type BatchRunner interface {
	RunBatch(ctx context.Context, settings models.SyncSettings, batchType models.SyncBatchType, orderIds []int) (*models.SyncBatch, []Outcome, error)
}

// SettingsLoader supplies the configuration snapshot taken at the start of
// each batch.
type SettingsLoader func(ctx context.Context) (models.SyncSettings, error)

// batchLockKey guards cross-instance mutual exclusion; within one process the
// inFlight flag alone is authoritative.
const batchLockKey = "ordersync:batch-lock"

var ErrBatchInProgress = errors.New("a sync batch is already running")

// Scheduler owns the recurring batch trigger. Invariant: at most one batch is
// in flight at any time; a full-batch manual trigger during an active run is
// queued and executed once, right after the active run finishes. Interval
// changes take effect on the next cycle.
type Scheduler struct {
	runner       BatchRunner
	loadSettings SettingsLoader

	mu             sync.Mutex
	running        bool
	inFlight       bool
	pendingTrigger bool
	nextRunTime    time.Time
	lastBatchId    string
	stopCh         chan struct{}
	wakeCh         chan struct{}
}

func NewScheduler(runner BatchRunner, loadSettings SettingsLoader) *Scheduler {
	return &Scheduler{
		runner:       runner,
		loadSettings: loadSettings,
	}
}

// Start launches the scheduling loop. Idempotent while running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.wakeCh = make(chan struct{}, 1)
	stopCh, wakeCh := s.stopCh, s.wakeCh
	s.mu.Unlock()

	go s.loop(ctx, stopCh, wakeCh)
}

// Stop halts the loop. An in-flight batch finishes on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)
}

// UpdateInterval wakes the loop so it re-reads configuration; the new
// interval is used from the next cycle on.
func (s *Scheduler) UpdateInterval() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, stopCh chan struct{}, wakeCh chan struct{}) {
	logger := config.GetLogger()

	for {
		settings, err := s.loadSettings(ctx)
		if err != nil {
			config.LogError(logger, "ordersync", "Scheduler.loop", "load settings", nil, err)
			settings = models.DefaultSyncSettings()
		}

		interval := time.Duration(settings.SyncIntervalMinutes) * time.Minute
		s.mu.Lock()
		s.nextRunTime = time.Now().Add(interval)
		s.mu.Unlock()

		timer := time.NewTimer(interval)
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-wakeCh:
			// Interval reconfigured; restart the cycle without running.
			timer.Stop()
			continue
		case <-timer.C:
		}

		if !settings.SyncEnabled {
			logger.WithFields(map[string]interface{}{"module": "ordersync"}).
				Debug("sync disabled, skipping scheduled batch")
			continue
		}

		s.runGuarded(ctx, models.SyncBatchTypeScheduled, nil)
		s.drainPendingTrigger(ctx)
	}
}

// drainPendingTrigger runs the one queued manual batch, if any.
func (s *Scheduler) drainPendingTrigger(ctx context.Context) {
	s.mu.Lock()
	pending := s.pendingTrigger
	s.pendingTrigger = false
	s.mu.Unlock()
	if pending {
		s.runGuarded(ctx, models.SyncBatchTypeManual, nil)
	}
}

// TriggerManualSync handles POST /sync/manual. With order ids it syncs those
// orders synchronously, rejecting if a batch is active. Without ids it
// schedules a full batch: queued behind the active run, or started now.
func (s *Scheduler) TriggerManualSync(ctx context.Context, orderIds []int) (queued bool, outcomes []Outcome, err error) {
	if len(orderIds) > 0 {
		outcomes, err = s.runGuarded(ctx, models.SyncBatchTypeManual, orderIds)
		return false, outcomes, err
	}

	s.mu.Lock()
	if s.inFlight {
		s.pendingTrigger = true
		s.mu.Unlock()
		return true, nil, nil
	}
	s.mu.Unlock()

	go func() {
		s.runGuarded(context.WithoutCancel(ctx), models.SyncBatchTypeManual, nil)
		s.drainPendingTrigger(context.WithoutCancel(ctx))
	}()
	return false, nil, nil
}

// RequeueFailed re-arms up to limit failed orders and schedules a retry
// batch for them.
func (s *Scheduler) RequeueFailed(ctx context.Context, limit int) (int64, error) {
	requeued, err := models.RequeueFailedOrders(ctx, limit)
	if err != nil {
		return 0, err
	}
	if requeued > 0 {
		go func() {
			s.runGuarded(context.WithoutCancel(ctx), models.SyncBatchTypeRetry, nil)
		}()
	}
	return requeued, nil
}

// runGuarded enforces the single-flight invariant (in-process flag plus the
// cross-instance redis lock) around one coordinator run.
func (s *Scheduler) runGuarded(ctx context.Context, batchType models.SyncBatchType, orderIds []int) ([]Outcome, error) {
	logger := config.GetLogger()

	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrBatchInProgress
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	var lock *redislock.Lock
	if locker := config.GetRedisLock(); locker != nil {
		var err error
		lock, err = locker.Obtain(ctx, batchLockKey, 10*time.Minute, nil)
		if err != nil {
			// Another instance is running the batch; skip this run.
			logger.WithFields(map[string]interface{}{
				"module":     "ordersync",
				"batch_type": batchType,
			}).Warnf("batch lock not obtained: %v", err)
			return nil, ErrBatchInProgress
		}
		defer lock.Release(context.WithoutCancel(ctx))
	}

	settings, err := s.loadSettings(ctx)
	if err != nil {
		config.LogError(logger, "ordersync", "Scheduler.runGuarded", "load settings", nil, err)
		settings = models.DefaultSyncSettings()
	}

	batch, outcomes, err := s.runner.RunBatch(ctx, settings, batchType, orderIds)
	if err != nil {
		config.LogError(logger, "ordersync", "Scheduler.runGuarded", "run batch",
			map[string]interface{}{"batch_type": batchType}, err)
		return outcomes, err
	}

	s.mu.Lock()
	s.lastBatchId = batch.BatchId
	s.mu.Unlock()
	return outcomes, nil
}

// SchedulerStatus is the snapshot served by GET /sync/status.
type SchedulerStatus struct {
	Running        bool      `json:"running"`
	BatchActive    bool      `json:"batch_active"`
	PendingTrigger bool      `json:"pending_trigger"`
	NextRunTime    time.Time `json:"next_run_time"`
	LastBatchId    string    `json:"last_batch_id,omitempty"`
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SchedulerStatus{
		Running:        s.running,
		BatchActive:    s.inFlight,
		PendingTrigger: s.pendingTrigger,
		NextRunTime:    s.nextRunTime,
		LastBatchId:    s.lastBatchId,
	}
}
