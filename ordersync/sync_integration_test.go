package ordersync_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/restaurant_backend/config"
	"bitbucket.org/mmdatafocus/restaurant_backend/models"
	"bitbucket.org/mmdatafocus/restaurant_backend/ordersync"
	"github.com/shopspring/decimal"
)

// fakeRemote is a switchable stand-in for the remote order store.
type fakeRemote struct {
	mu      sync.Mutex
	mode    string // "success", "conflict", "timeout"
	body    string
	nextId  int
	calls   int
	created map[string]bool
}

func (f *fakeRemote) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	mode := f.mode
	body := f.body
	f.calls++
	f.nextId++
	id := f.nextId
	f.mu.Unlock()

	switch mode {
	case "timeout":
		time.Sleep(3 * time.Second)
	case "conflict":
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(body))
	default:
		status := http.StatusCreated
		remoteId := fmt.Sprintf("R%d", id)
		if r.Method == http.MethodPut {
			status = http.StatusOK
			remoteId = strings.TrimPrefix(r.URL.Path, "/orders/")
		}
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"id":%q,"version":1,"checksum":"c-%d"}`, remoteId, id)
	}
}

func (f *fakeRemote) setMode(mode, body string) {
	f.mu.Lock()
	f.mode = mode
	f.body = body
	f.mu.Unlock()
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestOrder(t *testing.T, ctx context.Context, number string) *models.Order {
	t.Helper()
	order, err := models.CreateOrder(ctx, &models.NewOrder{
		OrderNumber:  number,
		TerminalId:   "pos-7",
		CustomerName: "walk-in",
		Items: []models.NewOrderItem{
			{Name: "Noodle Bowl", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromFloat(10.25)},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder %s: %v", number, err)
	}
	return order
}

func TestSyncEngineEndToEnd(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	remote := &fakeRemote{mode: "success"}
	srv := httptest.NewServer(http.HandlerFunc(remote.handler))
	defer srv.Close()

	// Wire env for config.Connect* helpers and the sync client.
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "restaurant_test")
	t.Setenv("REMOTE_SYNC_BASE_URL", srv.URL)
	t.Setenv("REMOTE_SYNC_API_KEY", "test-key")
	t.Setenv("POS_TERMINAL_ID", "pos-7")
	t.Setenv("REMOTE_SYNC_TIMEOUT_SECONDS", "1")

	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	client := ordersync.NewClient()
	resolver := ordersync.NewResolver()
	worker := ordersync.NewWorker(client, resolver)
	coordinator := ordersync.NewCoordinator(worker)

	settings := models.DefaultSyncSettings()
	settings.MaxRetryAttempts = 3
	settings.RetryBackoffMultiplier = 2

	// 1) First sync of a never-synced order assigns the remote id.
	orderA := newTestOrder(t, ctx, "ORD-A")
	batch, _, err := coordinator.RunBatch(ctx, settings, models.SyncBatchTypeScheduled, nil)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if batch.SuccessfulSyncs != 1 || batch.FailedSyncs != 0 {
		t.Fatalf("first batch: %+v", batch)
	}
	synced, err := models.GetOrder(ctx, orderA.ID)
	if err != nil {
		t.Fatalf("reload order A: %v", err)
	}
	if synced.ExternalId == nil || *synced.ExternalId != "R1" {
		t.Fatalf("external id not assigned: %+v", synced.ExternalId)
	}
	if !synced.IsSynced || synced.SyncVersion != 1 {
		t.Fatalf("order A not marked synced: is_synced=%v version=%d", synced.IsSynced, synced.SyncVersion)
	}
	statusA, err := models.GetSyncStatusByOrderId(ctx, orderA.ID)
	if err != nil {
		t.Fatalf("status A: %v", err)
	}
	if statusA.SyncStatus != models.SyncStatusSynced || statusA.SyncedAt == nil {
		t.Fatalf("status A: %+v", statusA)
	}

	// 2) Idempotence: an immediate re-run selects zero candidates and makes
	// no network calls.
	callsBefore := remote.callCount()
	rerun, _, err := coordinator.RunBatch(ctx, settings, models.SyncBatchTypeScheduled, nil)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if rerun.TotalOrders != 0 {
		t.Fatalf("rerun should select zero candidates, got %d", rerun.TotalOrders)
	}
	if remote.callCount() != callsBefore {
		t.Fatalf("rerun made network calls")
	}

	// 3) 409 under manual mode leaves a pending conflict and status conflict.
	remote.setMode("conflict", `{"customer_name":"remote-edit","total_amount":"31.0000"}`)
	orderB := newTestOrder(t, ctx, "ORD-B")
	batch, _, err = coordinator.RunBatch(ctx, settings, models.SyncBatchTypeManual, []int{orderB.ID})
	if err != nil {
		t.Fatalf("conflict batch: %v", err)
	}
	if batch.ConflictCount != 1 {
		t.Fatalf("conflict batch: %+v", batch)
	}
	statusB, _ := models.GetSyncStatusByOrderId(ctx, orderB.ID)
	if statusB.SyncStatus != models.SyncStatusConflict {
		t.Fatalf("status B should be conflict, got %s", statusB.SyncStatus)
	}
	conflicts, _, err := models.GetSyncConflicts(ctx, string(models.ConflictResolutionStatusPending), 10, 0)
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].OrderId != orderB.ID {
		t.Fatalf("pending conflict missing: %v", conflicts)
	}
	if !strings.Contains(string(conflicts[0].Differences), "customer_name") {
		t.Fatalf("differences should include customer_name: %s", conflicts[0].Differences)
	}
	unchangedB, _ := models.GetOrder(ctx, orderB.ID)
	if unchangedB.CustomerName != "walk-in" {
		t.Fatalf("conflicted attempt must not mutate the order: %q", unchangedB.CustomerName)
	}

	// 4) Three consecutive timeouts exhaust retries.
	remote.setMode("timeout", "")
	orderC := newTestOrder(t, ctx, "ORD-C")
	for i := 0; i < 3; i++ {
		if _, _, err := coordinator.RunBatch(ctx, settings, models.SyncBatchTypeManual, []int{orderC.ID}); err != nil {
			t.Fatalf("timeout batch %d: %v", i, err)
		}
	}
	statusC, _ := models.GetSyncStatusByOrderId(ctx, orderC.ID)
	if statusC.SyncStatus != models.SyncStatusFailed {
		t.Fatalf("status C should be failed after 3 timeouts, got %s", statusC.SyncStatus)
	}
	if statusC.AttemptCount != 3 {
		t.Fatalf("attempt_count should be 3, got %d", statusC.AttemptCount)
	}
	if statusC.ErrorCode != string(ordersync.ErrorKindTransient) {
		t.Fatalf("timeouts should record transient errors, got %q", statusC.ErrorCode)
	}
	logs, _ := models.GetSyncLogsByOrder(ctx, orderC.ID, 10)
	if len(logs) != 3 {
		t.Fatalf("every attempt must write one sync log row, got %d", len(logs))
	}

	// 5) Auto remote_wins overwrites local fields and ends synced.
	remote.setMode("conflict", `{"customer_name":"remote-edit","total_amount":"31.0000"}`)
	autoSettings := settings
	autoSettings.ConflictMode = "auto"
	autoSettings.ConflictStrategy = "remote_wins"
	orderD := newTestOrder(t, ctx, "ORD-D")
	if _, _, err := coordinator.RunBatch(ctx, autoSettings, models.SyncBatchTypeManual, []int{orderD.ID}); err != nil {
		t.Fatalf("remote_wins batch: %v", err)
	}
	statusD, _ := models.GetSyncStatusByOrderId(ctx, orderD.ID)
	if statusD.SyncStatus != models.SyncStatusSynced {
		t.Fatalf("status D should be synced after remote_wins, got %s", statusD.SyncStatus)
	}
	resolvedD, _ := models.GetOrder(ctx, orderD.ID)
	if resolvedD.CustomerName != "remote-edit" {
		t.Fatalf("remote_wins should overwrite local fields, got %q", resolvedD.CustomerName)
	}
	if !resolvedD.TotalAmount.Equal(decimal.RequireFromString("31.0000")) {
		t.Fatalf("remote_wins total_amount: %s", resolvedD.TotalAmount)
	}

	// Uniqueness invariant: one status row per order.
	db := config.GetDB()
	var statusRows, distinctOrders int64
	db.Model(&models.OrderSyncStatus{}).Count(&statusRows)
	db.Model(&models.OrderSyncStatus{}).Distinct("order_id").Count(&distinctOrders)
	if statusRows != distinctOrders {
		t.Fatalf("duplicate status rows: %d rows for %d orders", statusRows, distinctOrders)
	}
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("restaurant-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=restaurant_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
