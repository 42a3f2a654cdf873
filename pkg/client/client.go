// Package client provides a Go SDK for driving a speedgauge web server.
// Applications can import this package instead of shelling out to the CLI.
//
// Usage:
//
//	c := client.New("http://gauge.local:8080")
//	resp, err := c.Start(ctx)
//	final, err := c.Measure(ctx, time.Second, nil)
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/saveenergy/speedgauge/internal/api"
	gaugeerrors "github.com/saveenergy/speedgauge/pkg/errors"
	"github.com/saveenergy/speedgauge/pkg/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrBusy means another client's session is already running.
	ErrBusy = errors.New("a session is already running")
	// ErrAborted means the session was aborted before it completed.
	ErrAborted = errors.New("session aborted")
)

const maxResponseBytes = 1 << 20

// Client talks to a single speedgauge web server.
type Client struct {
	serverURL  string
	httpClient *http.Client
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(serverURL string, opts ...Option) *Client {
	c := &Client{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-success response from the server.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, http.StatusOK)
}

func (c *Client) Version(ctx context.Context) (*api.VersionResponse, error) {
	var v api.VersionResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/version", &v, http.StatusOK); err != nil {
		return nil, err
	}
	return &v, nil
}

// Display fetches the current display, with its interpretation after a
// completed run.
func (c *Client) Display(ctx context.Context) (*api.DisplayResponse, error) {
	var d api.DisplayResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/display", &d, http.StatusOK); err != nil {
		return nil, err
	}
	return &d, nil
}

// Start asks the server to begin a session. A session that is already
// running is reported with Started false and no error.
func (c *Client) Start(ctx context.Context) (*api.SessionResponse, error) {
	var s api.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/session/start", &s, http.StatusAccepted, http.StatusConflict); err != nil {
		return nil, err
	}
	return &s, nil
}

// Abort stops any running session; the returned display is reset.
func (c *Client) Abort(ctx context.Context) (*api.DisplayResponse, error) {
	var d api.DisplayResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/session/abort", &d, http.StatusOK); err != nil {
		return nil, err
	}
	return &d, nil
}

// Measure starts a session and polls the display every interval until it
// ends. Cancelling ctx aborts the session on the server.
func (c *Client) Measure(ctx context.Context, interval time.Duration, onUpdate func(*api.DisplayResponse)) (*api.DisplayResponse, error) {
	if interval <= 0 {
		interval = time.Second
	}
	started, err := c.Start(ctx)
	if err != nil {
		return nil, err
	}
	if !started.Started {
		return &started.DisplayResponse, ErrBusy
	}
	id := started.SessionID

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			abortCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			d, err := c.Abort(abortCtx)
			if err != nil {
				return nil, errors.Join(ctx.Err(), err)
			}
			return d, ctx.Err()
		case <-ticker.C:
		}

		d, err := c.Display(ctx)
		if err != nil {
			if gaugeerrors.IsContextError(err) {
				continue
			}
			return nil, err
		}
		switch {
		case d.Display.Running() && d.SessionID == id:
			if onUpdate != nil {
				onUpdate(d)
			}
		case d.Outcome == session.OutcomeCompleted && d.SessionID == id:
			return d, nil
		default:
			return d, ErrAborted
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}, okStatus ...int) error {
	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return gaugeerrors.ErrConnectionFailed(c.serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return gaugeerrors.ErrConnectionFailed("read "+path, err)
	}
	for _, status := range okStatus {
		if resp.StatusCode != status {
			continue
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}
