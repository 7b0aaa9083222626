package ordersync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sony/gobreaker"
)

// ErrorKind classifies a failed remote exchange. The worker routes each kind
// differently: conflicts go to the resolver, everything else to the retry
// policy.
type ErrorKind string

const (
	ErrorKindTransient  ErrorKind = "TRANSIENT_NETWORK"
	ErrorKindRejection  ErrorKind = "REMOTE_REJECTION"
	ErrorKindConflict   ErrorKind = "CONFLICT_DETECTED"
	ErrorKindValidation ErrorKind = "VALIDATION_ERROR"
	ErrorKindCritical   ErrorKind = "CRITICAL"
)

// SyncResult is the interpreted outcome of one upsert call.
type SyncResult struct {
	Success        bool
	RemoteId       string
	RemoteVersion  int
	RemoteChecksum string
	StatusCode     int
	ErrorKind      ErrorKind
	ErrorMessage   string
	// ConflictData is the remote body of a 409 response, carried opaquely so
	// the resolver can snapshot the remote state.
	ConflictData []byte
	RawResponse  []byte
}

type remoteAck struct {
	Id       string `json:"id"`
	Version  int    `json:"version"`
	Checksum string `json:"checksum"`
}

// Client talks to the remote order store. All calls share one http.Client
// with a fixed timeout and a circuit breaker, so a dead remote endpoint fails
// fast instead of tying up batch workers.
type Client struct {
	baseURL    string
	apiKey     string
	terminalId string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

func NewClient() *Client {
	timeout := 30 * time.Second
	if v := os.Getenv("REMOTE_SYNC_TIMEOUT_SECONDS"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			timeout = d
		}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "remote-order-sync",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.TotalFailures*2 > counts.Requests
		},
	})

	return &Client{
		baseURL:    os.Getenv("REMOTE_SYNC_BASE_URL"),
		apiKey:     os.Getenv("REMOTE_SYNC_API_KEY"),
		terminalId: os.Getenv("POS_TERMINAL_ID"),
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
	}
}

// Upsert sends the canonical order payload to the remote store: PUT when the
// order already carries an external id, POST otherwise. Transport failures
// and breaker rejections come back as transient results, never as errors —
// the caller always gets a classified SyncResult.
func (c *Client) Upsert(ctx context.Context, payload []byte, externalId string, syncVersion int) *SyncResult {
	if c.baseURL == "" {
		return &SyncResult{
			ErrorKind:    ErrorKindRejection,
			ErrorMessage: "REMOTE_SYNC_BASE_URL is not configured",
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doUpsert(ctx, payload, externalId, syncVersion)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &SyncResult{
				ErrorKind:    ErrorKindTransient,
				ErrorMessage: "circuit breaker open: " + err.Error(),
			}
		}
		return &SyncResult{
			ErrorKind:    ErrorKindTransient,
			ErrorMessage: err.Error(),
		}
	}
	return result.(*SyncResult)
}

func (c *Client) doUpsert(ctx context.Context, payload []byte, externalId string, syncVersion int) (*SyncResult, error) {
	method := http.MethodPost
	url := c.baseURL + "/orders"
	if externalId != "" {
		method = http.MethodPut
		url = c.baseURL + "/orders/" + externalId
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return &SyncResult{ErrorKind: ErrorKindCritical, ErrorMessage: err.Error()}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-POS-Terminal-ID", c.terminalId)
	req.Header.Set("X-Sync-Version", fmt.Sprintf("%d", syncVersion))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// timeout / connection refused; surfaced through the breaker
		return nil, err
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr != nil {
		return nil, readErr
	}

	return interpretResponse(resp.StatusCode, body), nil
}

// interpretResponse maps the remote status code onto the error taxonomy.
// Split out from the transport so it is testable without a server.
func interpretResponse(statusCode int, body []byte) *SyncResult {
	switch {
	case statusCode == http.StatusOK || statusCode == http.StatusCreated:
		var ack remoteAck
		if err := json.Unmarshal(body, &ack); err != nil || ack.Id == "" {
			return &SyncResult{
				StatusCode:   statusCode,
				ErrorKind:    ErrorKindRejection,
				ErrorMessage: "remote success response missing id",
				RawResponse:  body,
			}
		}
		return &SyncResult{
			Success:        true,
			StatusCode:     statusCode,
			RemoteId:       ack.Id,
			RemoteVersion:  ack.Version,
			RemoteChecksum: ack.Checksum,
			RawResponse:    body,
		}
	case statusCode == http.StatusConflict:
		return &SyncResult{
			StatusCode:   statusCode,
			ErrorKind:    ErrorKindConflict,
			ErrorMessage: "remote reported a version conflict",
			ConflictData: body,
			RawResponse:  body,
		}
	case statusCode == http.StatusBadRequest || statusCode == http.StatusUnprocessableEntity:
		return &SyncResult{
			StatusCode:   statusCode,
			ErrorKind:    ErrorKindValidation,
			ErrorMessage: fmt.Sprintf("remote rejected payload with status %d", statusCode),
			RawResponse:  body,
		}
	default:
		return &SyncResult{
			StatusCode:   statusCode,
			ErrorKind:    ErrorKindRejection,
			ErrorMessage: fmt.Sprintf("remote returned status %d", statusCode),
			RawResponse:  body,
		}
	}
}
