package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/emberworks/consoled/sse"
)

// Status mirrors the daemon's /server/status response.
type Status struct {
	Running       bool     `json:"running"`
	PID           int      `json:"pid"`
	GamePort      int      `json:"game_port"`
	UptimeSeconds float64  `json:"uptime_seconds"`
	RAMMB         *float64 `json:"ram_mb"`
	CPUPercent    *float64 `json:"cpu_percent"`
	LastExitCode  *int     `json:"last_exit_code"`
}

// Client talks to a consoled daemon. Control calls go through a
// retrying HTTP client; the event stream and command delivery use a
// plain client, since neither may be retried (a replayed stream would
// duplicate history, a replayed command would run twice).
type Client struct {
	log     *zap.SugaredLogger
	baseURL string

	httpClient *http.Client
	retry      *retryablehttp.Client

	statusTTL  time.Duration
	mut        sync.Mutex
	status     *Status
	statusTime time.Time
}

type ClientOption func(c *Client)

func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = h
	}
}

func WithStatusTTL(d time.Duration) ClientOption {
	return func(c *Client) {
		c.statusTTL = d
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

func NewClient(log *zap.SugaredLogger, baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		log:        log.Named("client"),
		baseURL:    baseURL,
		httpClient: &http.Client{},
		statusTTL:  2 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	retry := retryablehttp.NewClient()
	retry.HTTPClient = c.httpClient
	retry.RetryMax = 3
	retry.Logger = &logAdapter{c.log}
	c.retry = retry
	return c
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.retry.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("calling %s: unexpected status %s", path, resp.Status)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s response: %w", path, err)
		}
	}
	return nil
}

// StartServer asks the daemon to launch the managed server.
func (c *Client) StartServer(ctx context.Context) error {
	return c.postJSON(ctx, "/server/start", nil, nil)
}

// StopServer asks the daemon to stop the managed server gracefully.
func (c *Client) StopServer(ctx context.Context) error {
	return c.postJSON(ctx, "/server/stop", nil, nil)
}

// Status returns the daemon's view of the managed process. Responses
// are cached briefly; InvalidateStatus drops the cache.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	c.mut.Lock()
	if c.status != nil && time.Since(c.statusTime) < c.statusTTL {
		cached := *c.status
		c.mut.Unlock()
		return &cached, nil
	}
	c.mut.Unlock()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/server/status", nil)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}
	resp, err := c.retry.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching status: unexpected status %s", resp.Status)
	}
	var st Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}

	c.mut.Lock()
	c.status = &st
	c.statusTime = time.Now()
	c.mut.Unlock()
	return &st, nil
}

// InvalidateStatus drops the cached status so the next Status call
// refetches. The session controller calls this after a successful
// auth refresh.
func (c *Client) InvalidateStatus() {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.status = nil
}

// SendCommand posts one command (terminator included) to the daemon.
// Not retried.
func (c *Client) SendCommand(ctx context.Context, command string) error {
	b, err := json.Marshal(map[string]string{"command": command})
	if err != nil {
		return fmt.Errorf("encoding command: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/server/command", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("building command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("sending command: unexpected status %s", resp.Status)
	}
	return nil
}

// OpenConsole opens the live console event stream.
func (c *Client) OpenConsole(ctx context.Context) (EventStream, error) {
	return sse.Open(ctx, c.httpClient, http.MethodGet, c.baseURL+"/server/console", nil, c.log)
}

// OpenAuthRefresh kicks off an auth refresh on the daemon and streams
// the helper's output. The POST both triggers the work and carries the
// stream back, so it must not be retried.
func (c *Client) OpenAuthRefresh(ctx context.Context) (EventStream, error) {
	return sse.Open(ctx, c.httpClient, http.MethodPost, c.baseURL+"/auth/refresh", nil, c.log)
}
