package ordersync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/models"
)

// blockingRunner parks each RunBatch call until released, recording every
// invocation. Stands in for the coordinator so scheduler invariants are
// testable without a database.
type blockingRunner struct {
	mu      sync.Mutex
	calls   []models.SyncBatchType
	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
	}
}

func (r *blockingRunner) RunBatch(ctx context.Context, settings models.SyncSettings, batchType models.SyncBatchType, orderIds []int) (*models.SyncBatch, []Outcome, error) {
	r.mu.Lock()
	r.calls = append(r.calls, batchType)
	r.mu.Unlock()
	r.started <- struct{}{}
	<-r.release
	return &models.SyncBatch{BatchId: "test-batch"}, nil, nil
}

func (r *blockingRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func staticSettings(ctx context.Context) (models.SyncSettings, error) {
	return models.DefaultSyncSettings(), nil
}

func waitFor(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestTargetedManualSyncRejectedWhileBatchActive(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, staticSettings)

	queued, _, err := s.TriggerManualSync(context.Background(), nil)
	if err != nil || queued {
		t.Fatalf("first trigger should start immediately: queued=%v err=%v", queued, err)
	}
	waitFor(t, runner.started, "first batch to start")

	_, _, err = s.TriggerManualSync(context.Background(), []int{1, 2})
	if !errors.Is(err, ErrBatchInProgress) {
		t.Fatalf("targeted sync during active batch: got err=%v, want ErrBatchInProgress", err)
	}

	close(runner.release)
}

func TestFullBatchTriggerQueuedAndRunNext(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, staticSettings)

	queued, _, err := s.TriggerManualSync(context.Background(), nil)
	if err != nil || queued {
		t.Fatalf("first trigger: queued=%v err=%v", queued, err)
	}
	waitFor(t, runner.started, "first batch to start")

	queued, _, err = s.TriggerManualSync(context.Background(), nil)
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if !queued {
		t.Fatalf("trigger during active batch should be queued")
	}
	if !s.Status().PendingTrigger {
		t.Fatalf("status should report the pending trigger")
	}

	// A third trigger collapses into the same pending flag.
	queued, _, _ = s.TriggerManualSync(context.Background(), nil)
	if !queued {
		t.Fatalf("third trigger should also be queued")
	}

	close(runner.release)
	waitFor(t, runner.started, "queued batch to start")

	if got := runner.callCount(); got != 2 {
		t.Fatalf("expected exactly 2 batch runs (active + one queued), got %d", got)
	}
}

func TestBatchActiveVisibleInStatus(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, staticSettings)

	if s.Status().BatchActive {
		t.Fatalf("no batch should be active before any trigger")
	}

	_, _, err := s.TriggerManualSync(context.Background(), nil)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	waitFor(t, runner.started, "batch to start")

	if !s.Status().BatchActive {
		t.Fatalf("status should report an active batch")
	}

	close(runner.release)

	deadline := time.Now().Add(2 * time.Second)
	for s.Status().BatchActive {
		if time.Now().After(deadline) {
			t.Fatalf("batch never marked inactive")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if s.Status().LastBatchId != "test-batch" {
		t.Fatalf("last batch id not recorded: %q", s.Status().LastBatchId)
	}
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	runner := newBlockingRunner()
	s := NewScheduler(runner, staticSettings)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	s.Start(ctx) // second start is a no-op
	if !s.Status().Running {
		t.Fatalf("scheduler should report running after Start")
	}

	s.Stop()
	if s.Status().Running {
		t.Fatalf("scheduler should report stopped after Stop")
	}
	s.Stop() // second stop is a no-op
}
