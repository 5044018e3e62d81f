package swappilot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Jobs such as monitor can take a while on large backlogs.
const DefaultHTTPTimeout = 2 * time.Minute

// Job names accepted by the trigger API.
const (
	JobSignals = "signals"
	JobExecute = "execute"
	JobMonitor = "monitor"
	JobHarvest = "harvest"
	JobBuyback = "buyback"
)

// Client wraps the HTTP interactions with the SwapPilot trigger API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	secret     string
}

// APIError represents a non-2xx response from the trigger API.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("swappilot api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("swappilot api error (%d): %s", e.StatusCode, e.Message)
}

// IsBusy reports whether err means the job was already running.
func IsBusy(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// NewClient instantiates a client for the trigger API. When httpClient is nil,
// a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL, secret string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, secret: secret}, nil
}

// ListJobs returns the job names registered on the daemon.
func (c *Client) ListJobs(ctx context.Context) ([]string, error) {
	var out struct {
		Jobs []string `json:"jobs"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/jobs", true, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// Trigger runs the named job and decodes its JSON summary into out. Pass a nil
// out to discard the summary.
func (c *Client) Trigger(ctx context.Context, job string, out any) error {
	if job == "" {
		return errors.New("swappilot: job name is empty")
	}
	return c.call(ctx, http.MethodPost, "/api/v1/jobs/"+url.PathEscape(job), true, out)
}

// TriggerRaw runs the named job and returns the raw JSON summary.
func (c *Client) TriggerRaw(ctx context.Context, job string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.Trigger(ctx, job, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Health checks the daemon liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/healthz", false, nil)
}

func (c *Client) call(ctx context.Context, method, endpoint string, withAuth bool, out any) error {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		if c.secret == "" {
			return errors.New("swappilot: secret is not set")
		}
		req.Header.Set("Authorization", "Bearer "+c.secret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
