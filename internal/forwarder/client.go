// Package forwarder provides the client for the consumption API
package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds every outbound call
const DefaultTimeout = 5 * time.Second

// maxBodySize caps how much of a response is read
const maxBodySize = 1 << 20

const (
	syncPath  = "/consumption/sync-firebase"
	resetPath = "/consumption/check-reset"
)

// SyncRequest is the body of a sync-firebase call
type SyncRequest struct {
	Name            string  `json:"name"`
	LoadType        *string `json:"load_type"`
	SocketID        string  `json:"socket_id"`
	Power           float64 `json:"power"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Buckets holds the accumulation windows reported by the API
type Buckets struct {
	Hour json.RawMessage `json:"hour,omitempty"`
}

// SyncResponse is the decoded sync-firebase response
type SyncResponse struct {
	Buckets *Buckets `json:"buckets,omitempty"`
}

// HourBucket returns the hourly bucket identifier for display
func (r *SyncResponse) HourBucket() string {
	if r == nil || r.Buckets == nil || len(r.Buckets.Hour) == 0 {
		return "undefined"
	}
	var s string
	if err := json.Unmarshal(r.Buckets.Hour, &s); err == nil {
		return s
	}
	return string(r.Buckets.Hour)
}

// ResetRequest is the body of a check-reset call
type ResetRequest struct {
	Name string `json:"name"`
}

// ResetResponse is the decoded check-reset response
type ResetResponse struct {
	ResetsPerformed []string `json:"resets_performed,omitempty"`
}

// Client calls the consumption API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for baseURL (already normalized to end in /api).
// A non-positive timeout falls back to DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewClientWithHTTP creates a client with a caller-provided http.Client
func NewClientWithHTTP(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// BaseURL returns the API base URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SyncConsumption posts one power sample for a socket
func (c *Client) SyncConsumption(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	var resp SyncResponse
	if err := c.post(ctx, "sync", syncPath, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckReset asks the API to perform any due bucket resets for a user database
func (c *Client) CheckReset(ctx context.Context, name string) (*ResetResponse, error) {
	var resp ResetResponse
	if err := c.post(ctx, "check-reset", resetPath, ResetRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post sends a JSON body and decodes a JSON response into out
func (c *Client) post(ctx context.Context, op, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    remoteMessage(data),
			Body:       data,
		}
	}

	if len(bytes.TrimSpace(data)) == 0 || out == nil {
		return nil
	}
	// A 2xx with an undecodable body still counts as delivered
	_ = json.Unmarshal(data, out)
	return nil
}

// remoteMessage extracts the "message" or "error" field of a JSON error payload
func remoteMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}

// IsTimeout reports whether err is a timeout of the outbound call
func IsTimeout(err error) bool {
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		return false
	}
	if errors.Is(netErr.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(netErr.Err, &t) && t.Timeout()
}
