// Package spsync is the HTTP client for the central sync service. Every call
// carries the authorization token and tenant identifier as headers and runs
// under the configured timeout; a timeout is treated the same as any other
// network failure.
package spsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sellpoint/sellpoint-client/pkg/appcontext"
	"github.com/sellpoint/sellpoint-client/pkg/models"
)

// ErrNetworkUnavailable marks transient failures: timeouts, refused
// connections, 5xx responses. Operations failing with it stay queued and
// are retried on a later pass.
var ErrNetworkUnavailable = fmt.Errorf("network unavailable")

// RejectionError marks a permanent 4xx rejection of a payload. The caller
// decides whether to dead-letter after repeated rejections.
type RejectionError struct {
	Status int
	Body   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("server rejected request: status %d: %s", e.Status, e.Body)
}

// Client talks to the central sync service.
type Client struct {
	serverURL  string
	authToken  string
	businessID string
	httpClient *http.Client
}

// NewClient creates a sync client for the given server.
func NewClient(serverURL, authToken, businessID string, timeout time.Duration) *Client {
	return &Client{
		serverURL:  serverURL,
		authToken:  authToken,
		businessID: businessID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// PushRequest is the body of POST /api/sync/{table}.
type PushRequest struct {
	Operation string            `json:"operation"`
	Data      map[string]string `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
	SyncID    string            `json:"syncId"`
}

// PullRequest is the body of POST /api/sync/pull.
type PullRequest struct {
	LastSync   time.Time `json:"lastSync"`
	BusinessID string    `json:"businessId"`
}

// PullEntry is one remote operation returned by a pull or delivered over
// the real-time channel.
type PullEntry struct {
	Table     string            `json:"table"`
	Operation string            `json:"operation"`
	Data      map[string]string `json:"data"`
	UserID    string            `json:"userId"`
	Timestamp time.Time         `json:"timestamp"`
}

// PullResponse is the body returned by POST /api/sync/pull.
type PullResponse struct {
	Data []PullEntry `json:"data"`
}

// Ticket is a support ticket created through the service.
type Ticket struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type ticketResponse struct {
	TicketID string `json:"ticketId"`
}

// PushOperation delivers one queued operation. The server deduplicates by
// syncId, so redelivery after a lost ack is a no-op there.
func (c *Client) PushOperation(ctx context.Context, op models.SyncOperation) error {
	body := PushRequest{
		Operation: string(op.Kind),
		Data:      op.Payload,
		Timestamp: op.CreatedAt,
		SyncID:    op.ID,
	}
	return c.post(ctx, "/api/sync/"+op.Table, body, nil)
}

// Pull requests all remote operations newer than lastSync.
func (c *Client) Pull(ctx context.Context, lastSync time.Time) ([]PullEntry, error) {
	var resp PullResponse
	err := c.post(ctx, "/api/sync/pull", PullRequest{LastSync: lastSync, BusinessID: c.businessID}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SendBackup delivers a full backup payload.
func (c *Client) SendBackup(ctx context.Context, payload any) error {
	return c.post(ctx, "/api/backup", payload, nil)
}

// SendDiagnostic delivers a diagnostic payload.
func (c *Client) SendDiagnostic(ctx context.Context, payload any) error {
	return c.post(ctx, "/api/diagnostic", payload, nil)
}

// CreateTicket opens a support ticket and returns its id.
func (c *Client) CreateTicket(ctx context.Context, t Ticket) (string, error) {
	var resp ticketResponse
	if err := c.post(ctx, "/api/tickets", t, &resp); err != nil {
		return "", err
	}
	return resp.TicketID, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serverURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	token := c.authToken
	if t, ok := appcontext.GetAuthToken(ctx); ok {
		token = t
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	businessID := c.businessID
	if id, ok := appcontext.GetBusinessID(ctx); ok {
		businessID = id
	}
	if businessID != "" {
		req.Header.Set("X-Business-ID", businessID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ErrNetworkUnavailable
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return ErrNetworkUnavailable
	case resp.StatusCode >= 400:
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &RejectionError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out != nil {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
