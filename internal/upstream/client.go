// Package upstream calls the face-recognition attendance backend. The
// backend is the system of record; the console only reads aggregates,
// manages identities, and submits enrollment images.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"faceconsole/internal/faults"
	"faceconsole/internal/session"
)

// Client calls the attendance backend.
type Client struct {
	BaseURL  string
	HTTP     *http.Client
	Sessions *session.Store
}

// New creates a client with a bounded timeout; face processing can take time.
func New(baseURL string, sessions *session.Store, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:  baseURL,
		Sessions: sessions,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

// Login authenticates the operator and installs the bearer credential in the
// process-wide session store.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/auth/login", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return faults.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return faults.ClassifyResponse(resp.StatusCode, readDetail(resp.Body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to decode login response: %w", err)
	}
	if out.AccessToken == "" {
		return faults.New(faults.Unclassified, "login response carried no token")
	}
	c.Sessions.Set(out.AccessToken)
	return nil
}

// GetStats fetches the authoritative dashboard aggregates.
func (c *Client) GetStats(ctx context.Context) (DashboardStats, error) {
	var stats DashboardStats
	err := c.get(ctx, "/api/attendance/stats", nil, &stats)
	return stats, err
}

// ListEvents fetches attendance records, newest first.
func (c *Client) ListEvents(ctx context.Context, q EventQuery) ([]AttendanceEvent, error) {
	params := url.Values{}
	if q.StartDate != "" {
		params.Set("start_date", q.StartDate)
	}
	if q.EndDate != "" {
		params.Set("end_date", q.EndDate)
	}
	if q.UserID > 0 {
		params.Set("user_id", strconv.FormatInt(q.UserID, 10))
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	var events []AttendanceEvent
	err := c.get(ctx, "/api/attendance", params, &events)
	return events, err
}

// get performs an authenticated GET and decodes the JSON response.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	target := c.BaseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// doJSON performs an authenticated request with a JSON body.
func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

// do attaches the bearer credential, runs the request, and maps failures
// into the fault taxonomy. A 401 invalidates the credential generation it
// was sent with, so a logout or re-login racing the request is preserved.
func (c *Client) do(req *http.Request, out any) error {
	token, gen, haveToken := c.Sessions.Token()
	if haveToken {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return faults.ClassifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		f := faults.ClassifyResponse(resp.StatusCode, readDetail(resp.Body))
		if f.Kind == faults.AuthExpired && haveToken {
			c.Sessions.Invalidate(gen)
		}
		return f
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// readDetail extracts the backend's error text. FastAPI wraps it in
// {"detail": ...}; fall back to the raw body.
func readDetail(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var wrapped struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Detail != "" {
		return wrapped.Detail
	}
	return string(raw)
}
