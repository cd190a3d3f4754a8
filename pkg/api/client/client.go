// Package client is a typed client for the OneOps API used by the CLI.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"resty.dev/v3"

	"github.com/oneops/oneops/internal/domain"
	"github.com/oneops/oneops/internal/service/cloud"
	"github.com/oneops/oneops/internal/service/deploy"
)

// DefaultBaseURL is used when no API address is configured.
const DefaultBaseURL = "http://localhost:4000"

// Client provides typed access to the OneOps API.
type Client struct {
	baseURL string
	rc      *resty.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.rc = resty.NewWithClient(h)
		}
	}
}

// WithTimeout bounds every request. Deploys run the whole pipeline inside
// one request, so the default is generous.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.rc.SetTimeout(d)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = DefaultBaseURL
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL: strings.TrimRight(trimmed, "/"),
		rc:      resty.New().SetTimeout(30 * time.Minute),
	}
	for _, opt := range opts {
		opt(cli)
	}
	cli.rc.SetRetryCount(0)
	return cli, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	return c.rc.Close()
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// do sends body as JSON and decodes the answer into v. When keepBody is set
// v is decoded for error statuses too.
func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any, keepBody bool) error {
	req := c.rc.R().SetContext(ctx)
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		req.SetHeader("Content-Type", "application/json").SetBody(payload)
	}
	if t := strings.TrimSpace(token); t != "" {
		req.SetHeader("Authorization", "Bearer "+t)
	}
	resp, err := req.Execute(method, c.baseURL+path)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	data := resp.Bytes()
	if resp.IsError() {
		apiErr := APIError{Status: resp.StatusCode(), Message: extractError(data)}
		if keepBody && v != nil {
			_ = json.Unmarshal(data, v)
		}
		return apiErr
	}
	if v == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Health reports the server and database status.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/healthz", nil, "", &out, true)
	return out, err
}

// Deploy runs the deployment pipeline. The response is returned even when
// the API reports a failure so callers can show its error field.
func (c *Client) Deploy(ctx context.Context, token string, req deploy.Request) (deploy.Response, error) {
	var out deploy.Response
	err := c.do(ctx, http.MethodPost, "/deploy", req, token, &out, true)
	return out, err
}

// ListProjects returns the caller's deployed projects.
func (c *Client) ListProjects(ctx context.Context, token string) ([]domain.Project, error) {
	var projects []domain.Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, token, &projects, false); err != nil {
		return nil, err
	}
	return projects, nil
}

// ListEvents returns the caller's deployment events, newest first.
func (c *Client) ListEvents(ctx context.Context, token string, limit, offset int) ([]domain.DeploymentEvent, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/events"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var events []domain.DeploymentEvent
	if err := c.do(ctx, http.MethodGet, path, nil, token, &events, false); err != nil {
		return nil, err
	}
	return events, nil
}

// VerifyCloud checks cloud credentials; empty fields use the server's.
func (c *Client) VerifyCloud(ctx context.Context, token string, req cloud.VerifyRequest) (cloud.VerifyResponse, error) {
	var out cloud.VerifyResponse
	err := c.do(ctx, http.MethodPost, "/cloud/verify", req, token, &out, true)
	return out, err
}

// Dispatch triggers workflow of repo ("owner/name") on the source host.
func (c *Client) Dispatch(ctx context.Context, token, repo, workflow string) error {
	body := map[string]string{"repo": repo, "workflow": workflow}
	return c.do(ctx, http.MethodPost, "/github/dispatch", body, token, nil, false)
}
