// Package cachet provides the status page API client.
//
// # Operations
//
// - Ping: connectivity and credential check
// - ListGroups / CreateGroup: component group lookup and creation
// - ListComponents / CreateComponent: component lookup and creation
// - UpdateComponent: status and description updates
//
// Every request carries the X-Cachet-Token header and is bounded by the
// client timeout. Responses use the {"data": ...} envelope.
package cachet

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// TokenHeader carries the API token on every request.
const TokenHeader = "X-Cachet-Token"

// Client talks to a Cachet v1 API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	token       string
	userAgent   string
	instanceID  string
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// Config for the client.
type Config struct {
	BaseURL            string        // e.g. https://status.example.com/api/v1
	Token              string        // API token
	Timeout            time.Duration // per request (default: 10s)
	RateLimit          int           // requests per minute (0 = unlimited)
	InsecureSkipVerify bool
	UserAgent          string
	InstanceID         string // sent as X-Agent-Instance for log correlation
	HTTPClient         *http.Client
}

// NewClient creates a new status page client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		transport := &http.Transport{}
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		cfg.HTTPClient = &http.Client{
			Timeout:   timeout,
			Transport: transport,
		}
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cachet-agent"
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RateLimit)/60.0), 1)
	}

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:  cfg.HTTPClient,
		token:       cfg.Token,
		userAgent:   cfg.UserAgent,
		instanceID:  cfg.InstanceID,
		rateLimiter: limiter,
		logger:      logger.With("component", "cachet_client"),
	}
}

// BaseURL returns the API base the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Ping checks that the API is reachable and answers.
func (c *Client) Ping(ctx context.Context) error {
	var out envelope[string]
	return c.call(ctx, http.MethodGet, "/ping", nil, &out, http.StatusOK)
}

// ListGroups returns the groups whose name matches name.
func (c *Client) ListGroups(ctx context.Context, name string) ([]Group, error) {
	q := url.Values{}
	q.Set("name", name)

	var out envelope[[]Group]
	if err := c.call(ctx, http.MethodGet, "/components/groups?"+q.Encode(), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateGroup creates a component group.
func (c *Client) CreateGroup(ctx context.Context, name string) (*Group, error) {
	var out envelope[Group]
	err := c.call(ctx, http.MethodPost, "/components/groups", CreateGroupRequest{Name: name}, &out,
		http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	if out.Data.ID == 0 {
		return nil, fmt.Errorf("create group response has no id")
	}
	return &out.Data, nil
}

// ListComponents returns the components named name inside the group.
func (c *Client) ListComponents(ctx context.Context, name string, groupID int) ([]Component, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("group_id", strconv.Itoa(groupID))

	var out envelope[[]Component]
	if err := c.call(ctx, http.MethodGet, "/components?"+q.Encode(), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// CreateComponent creates a component in a group.
func (c *Client) CreateComponent(ctx context.Context, req CreateComponentRequest) (*Component, error) {
	var out envelope[Component]
	err := c.call(ctx, http.MethodPost, "/components", req, &out, http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	if out.Data.ID == 0 {
		return nil, fmt.Errorf("create component response has no id")
	}
	return &out.Data, nil
}

// UpdateComponent sets a component's status and description.
func (c *Client) UpdateComponent(ctx context.Context, id int, req UpdateComponentRequest) error {
	path := fmt.Sprintf("/components/%d", id)
	var out envelope[json.RawMessage]
	return c.call(ctx, http.MethodPut, path, req, &out, http.StatusOK)
}

// call performs a request and decodes the envelope into out.
func (c *Client) call(ctx context.Context, method, path string, body, out any, okCodes ...int) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start))

	ok := false
	for _, code := range okCodes {
		if resp.StatusCode == code {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("%s %s: %w", method, path, c.readError(resp))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}

// doRequest performs an HTTP request with auth headers.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(TokenHeader, c.token)
	if c.instanceID != "" {
		req.Header.Set("X-Agent-Instance", c.instanceID)
	}

	return c.httpClient.Do(req)
}

// APIError is a non-success response from the status page.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

// readError extracts an error message from a failed response.
func (c *Client) readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}
