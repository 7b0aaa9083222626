package ordersync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func testClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     "test-key",
		terminalId: "pos-7",
		httpClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "test",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return false
			},
		}),
	}
}

func TestUpsertCreateSuccess(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotTerminal, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotTerminal = r.Header.Get("X-POS-Terminal-ID")
		gotVersion = r.Header.Get("X-Sync-Version")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"R1","version":1,"checksum":"abc"}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	result := c.Upsert(context.Background(), []byte(`{}`), "", 0)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if result.RemoteId != "R1" || result.RemoteVersion != 1 || result.RemoteChecksum != "abc" {
		t.Fatalf("ack not parsed: %+v", result)
	}
	if gotMethod != http.MethodPost || gotPath != "/orders" {
		t.Fatalf("create should POST /orders, got %s %s", gotMethod, gotPath)
	}
	if gotAuth != "Bearer test-key" || gotTerminal != "pos-7" || gotVersion != "0" {
		t.Fatalf("headers wrong: auth=%q terminal=%q version=%q", gotAuth, gotTerminal, gotVersion)
	}
}

func TestUpsertUpdateUsesExternalId(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"R1","version":2}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	result := c.Upsert(context.Background(), []byte(`{}`), "R1", 1)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	if gotMethod != http.MethodPut || gotPath != "/orders/R1" {
		t.Fatalf("update should PUT /orders/R1, got %s %s", gotMethod, gotPath)
	}
}

func TestUpsertConflictCarriesRemoteBody(t *testing.T) {
	remoteBody := `{"total_amount":"31.0000","version":7}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(remoteBody))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	result := c.Upsert(context.Background(), []byte(`{}`), "R1", 1)

	if result.Success {
		t.Fatalf("409 must not be success")
	}
	if result.ErrorKind != ErrorKindConflict {
		t.Fatalf("409 should classify as conflict, got %s", result.ErrorKind)
	}
	if string(result.ConflictData) != remoteBody {
		t.Fatalf("conflict body not carried: %q", result.ConflictData)
	}
}

func TestUpsertClassification(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusBadRequest, ErrorKindValidation},
		{http.StatusUnprocessableEntity, ErrorKindValidation},
		{http.StatusInternalServerError, ErrorKindRejection},
		{http.StatusBadGateway, ErrorKindRejection},
		{http.StatusNotFound, ErrorKindRejection},
	}

	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		c := testClient(srv.URL, 5*time.Second)
		result := c.Upsert(context.Background(), []byte(`{}`), "", 0)
		srv.Close()

		if result.Success {
			t.Fatalf("status %d must not be success", tc.status)
		}
		if result.ErrorKind != tc.want {
			t.Fatalf("status %d: got %s, want %s", tc.status, result.ErrorKind, tc.want)
		}
	}
}

func TestUpsertTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := testClient(srv.URL, 50*time.Millisecond)
	result := c.Upsert(context.Background(), []byte(`{}`), "", 0)

	if result.Success {
		t.Fatalf("timeout must not be success")
	}
	if result.ErrorKind != ErrorKindTransient {
		t.Fatalf("timeout should classify as transient, got %s (%s)", result.ErrorKind, result.ErrorMessage)
	}
}

func TestUpsertSuccessWithoutIdIsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, 5*time.Second)
	result := c.Upsert(context.Background(), []byte(`{}`), "", 0)

	if result.Success {
		t.Fatalf("2xx without id must not count as success")
	}
	if result.ErrorKind != ErrorKindRejection {
		t.Fatalf("got %s, want rejection", result.ErrorKind)
	}
}

func TestUpsertWithoutBaseURL(t *testing.T) {
	c := testClient("", time.Second)
	result := c.Upsert(context.Background(), []byte(`{}`), "", 0)
	if result.Success || result.ErrorKind != ErrorKindRejection {
		t.Fatalf("missing base url should be a rejection, got %+v", result)
	}
}

func TestUpsertOpenBreakerIsTransient(t *testing.T) {
	c := testClient("http://127.0.0.1:1", 100*time.Millisecond)
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "trip-fast",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= 1
		},
	})

	// First call fails at the transport level and trips the breaker.
	first := c.Upsert(context.Background(), []byte(`{}`), "", 0)
	if first.ErrorKind != ErrorKindTransient {
		t.Fatalf("connection refused should be transient, got %s", first.ErrorKind)
	}

	second := c.Upsert(context.Background(), []byte(`{}`), "", 0)
	if second.ErrorKind != ErrorKindTransient {
		t.Fatalf("open breaker should be transient, got %s", second.ErrorKind)
	}
}
