package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"resty.dev/v3"
)

const (
	userAgent       = "OneOps-Deploy-Bot"
	defaultMaxBytes = 512 << 20
)

// Request describes one archive download.
type Request struct {
	RepoURL  string
	Provider Provider
	Token    string
}

// Archive is a downloaded repository snapshot.
type Archive struct {
	URL  string
	Data []byte
}

// Fetcher downloads archives. It never retries.
type Fetcher struct {
	client   *resty.Client
	logger   *slog.Logger
	maxBytes int64
}

// Option customises a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Fetcher) {
		if hc != nil {
			f.client = resty.NewWithClient(hc)
		}
	}
}

// WithMaxBytes caps the archive size.
func WithMaxBytes(n int64) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// NewFetcher constructs a Fetcher.
func NewFetcher(logger *slog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:   resty.New().SetTimeout(10 * time.Minute),
		logger:   logger,
		maxBytes: defaultMaxBytes,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.client.SetRetryCount(0)
	return f
}

// Close releases idle connections.
func (f *Fetcher) Close() error {
	return f.client.Close()
}

// Fetch resolves the archive URL and downloads it.
func (f *Fetcher) Fetch(ctx context.Context, in Request) (Archive, error) {
	archiveURL, err := ResolveArchiveURL(in.RepoURL, in.Provider)
	if err != nil {
		return Archive{}, err
	}
	headers := map[string]string{"User-Agent": userAgent}
	if token := strings.TrimSpace(in.Token); token != "" {
		headers["Authorization"] = AuthorizationHeader(in.Provider, token)
	}
	f.logger.Info("downloading repository archive", "url", archiveURL, "provider", in.Provider, "authenticated", in.Token != "")

	resp, err := f.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetDoNotParseResponse(true).
		Get(archiveURL)
	if err != nil {
		return Archive{}, &DownloadError{Err: err}
	}
	defer resp.Body.Close()
	switch status := resp.StatusCode(); {
	case status == http.StatusNotFound:
		return Archive{}, &RepoNotFoundError{URL: archiveURL}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Archive{}, &AuthenticationError{Status: status}
	case status < 200 || status > 299:
		return Archive{}, &DownloadError{Status: status}
	}
	data, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return Archive{}, &DownloadError{Status: resp.StatusCode(), Err: err}
	}
	if len(data) == 0 {
		return Archive{}, &DownloadError{Status: resp.StatusCode(), Err: fmt.Errorf("empty archive body")}
	}
	f.logger.Info("repository archive downloaded", "url", archiveURL, "bytes", len(data))
	return Archive{URL: archiveURL, Data: data}, nil
}

// readLimited reads at most max bytes and stops at the first byte past it,
// so an oversized archive is never buffered whole.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, fmt.Errorf("read archive: %w", err)
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("archive exceeds %d bytes", max)
	}
	return data, nil
}
