package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"resty.dev/v3"
)

const githubAPIBase = "https://api.github.com"

// Dispatcher triggers GitHub Actions workflow_dispatch events.
type Dispatcher struct {
	client  *resty.Client
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewDispatcher returns a Dispatcher authenticated with token. baseURL is
// empty for api.github.com.
func NewDispatcher(token, baseURL string, hc *http.Client, logger *slog.Logger) *Dispatcher {
	client := resty.New()
	if hc != nil {
		client = resty.NewWithClient(hc)
	}
	if baseURL == "" {
		baseURL = githubAPIBase
	}
	return &Dispatcher{
		client:  client.SetRetryCount(0),
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   strings.TrimSpace(token),
		logger:  logger,
	}
}

// Dispatch runs workflow (file name or id) of repo ("owner/name") on main.
func (d *Dispatcher) Dispatch(ctx context.Context, repo, workflow string) error {
	if d.token == "" {
		return errors.New("github dispatch token not configured")
	}
	repo = strings.Trim(strings.TrimSpace(repo), "/")
	if strings.Count(repo, "/") != 1 {
		return fmt.Errorf("repo must be owner/name, got %q", repo)
	}
	workflow = strings.TrimSpace(workflow)
	if workflow == "" {
		return errors.New("workflow is required")
	}
	endpoint := fmt.Sprintf("%s/repos/%s/actions/workflows/%s/dispatches", d.baseURL, repo, url.PathEscape(workflow))
	resp, err := d.client.R().
		SetContext(ctx).
		SetHeaders(map[string]string{
			"Authorization": "Bearer " + d.token,
			"Accept":        "application/vnd.github.v3+json",
			"User-Agent":    userAgent,
		}).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"ref": "main"}).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("github dispatch: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("github API error: %d - %s", resp.StatusCode(), resp.String())
	}
	d.logger.Info("workflow dispatched", "repo", repo, "workflow", workflow)
	return nil
}

// Close releases idle connections.
func (d *Dispatcher) Close() error {
	return d.client.Close()
}
