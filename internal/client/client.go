// Package client talks to the installer API: it submits installations and
// reads back their progress, logs and the host checks.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	api "github.com/serverkit/installer/api/v1alpha1"
	"github.com/serverkit/installer/pkg/requestid"
)

// ErrRejected is returned when the server answered with a non-success status.
type ErrRejected struct {
	StatusCode int
	Message    string
}

func (e *ErrRejected) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	mu      sync.RWMutex
	session string
}

type ClientOption func(c *Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = h
	}
}

func WithSession(session string) ClientOption {
	return func(c *Client) {
		c.session = session
	}
}

func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Session returns the session the client is bound to. It is empty until the
// server assigned one on the first submission.
func (c *Client) Session() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) setSession(session string) {
	if session == "" {
		return
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

// Submit posts an installation. A rejected submission is returned together
// with *ErrRejected so callers can show the server's message.
func (c *Client) Submit(ctx context.Context, cfg api.InstallConfig) (*api.InstallResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/install", cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	c.setSession(resp.Header.Get(api.SessionHeader))

	var body api.InstallResponse
	if err := decode(resp, &body); err != nil {
		return nil, err
	}
	c.setSession(body.SessionId)

	if resp.StatusCode != http.StatusAccepted {
		return &body, &ErrRejected{StatusCode: resp.StatusCode, Message: body.Message}
	}
	return &body, nil
}

// Poll fetches the progress of the client's session. An unknown session is
// not an error: the server answers with an error status and a message.
func (c *Client) Poll(ctx context.Context) (*api.ProgressResponse, error) {
	session := c.Session()
	if session == "" {
		return nil, fmt.Errorf("no session to poll, submit an installation first")
	}
	return c.SessionProgress(ctx, session)
}

func (c *Client) SessionProgress(ctx context.Context, session string) (*api.ProgressResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(session)+"/progress", nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return nil, rejected(resp)
	}

	var body api.ProgressResponse
	if err := decode(resp, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (c *Client) Requirements(ctx context.Context) (*api.RequirementsResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/requirements", nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, rejected(resp)
	}
	var body api.RequirementsResponse
	if err := decode(resp, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

func (c *Client) TestDatabase(ctx context.Context, cfg api.DatabaseConfig) (*api.DatabaseTestResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/database/test", cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var body api.DatabaseTestResponse
	if err := decode(resp, &body); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return &body, &ErrRejected{StatusCode: resp.StatusCode, Message: body.Message}
	}
	return &body, nil
}

// Logs returns the raw content of one log channel of a session.
func (c *Client) Logs(ctx context.Context, session string, channel string) (string, error) {
	path := fmt.Sprintf("/api/v1/sessions/%s/logs/%s", url.PathEscape(session), url.PathEscape(channel))
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", rejected(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(data), nil
}

// SupportBundle copies the support bundle of a session to w.
func (c *Client) SupportBundle(ctx context.Context, session string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/sessions/"+url.PathEscape(session)+"/support", nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 0, rejected(resp)
	}
	return io.Copy(w, resp.Body)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Drain body to enable connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("installer health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session := c.Session(); session != "" {
		req.Header.Set(api.SessionHeader, session)
	}
	requestid.Propagate(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call installer: %w", err)
	}
	return resp, nil
}

func decode(resp *http.Response, v any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	return nil
}

// rejected turns an error response into *ErrRejected, using the message of
// the JSON error body when there is one.
func rejected(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	var e api.Error
	if err := json.Unmarshal(data, &e); err == nil && e.Message != "" {
		return &ErrRejected{StatusCode: resp.StatusCode, Message: e.Message}
	}
	return &ErrRejected{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
