package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// redirectTransport sends every request to target while keeping the path.
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(out)
}

type recordedRequest struct {
	path, auth, agent string
}

func newTestFetcher(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Fetcher, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var seen []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, recordedRequest{path: r.URL.EscapedPath(), auth: r.Header.Get("Authorization"), agent: r.Header.Get("User-Agent")})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	target, _ := url.Parse(srv.URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithHTTPClient(&http.Client{Transport: redirectTransport{target: target}})}, opts...)
	f := NewFetcher(logger, opts...)
	return f, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), seen...)
	}
}

func TestFetchReturnsArchiveBytes(t *testing.T) {
	f, seen := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("PK-zip-bytes"))
	})
	archive, err := f.Fetch(context.Background(), Request{RepoURL: "https://github.com/acme/widget", Provider: ProviderGitHub})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(archive.Data) != "PK-zip-bytes" {
		t.Fatalf("unexpected body %q", archive.Data)
	}
	reqs := seen()
	if len(reqs) != 1 {
		t.Fatalf("expected one request, got %d", len(reqs))
	}
	if reqs[0].path != "/repos/acme/widget/zipball/main" {
		t.Fatalf("unexpected path %s", reqs[0].path)
	}
	if reqs[0].auth != "" {
		t.Fatalf("expected no authorization header without token, got %q", reqs[0].auth)
	}
	if reqs[0].agent != "OneOps-Deploy-Bot" {
		t.Fatalf("unexpected user agent %q", reqs[0].agent)
	}
}

func TestFetchSendsProviderAuthScheme(t *testing.T) {
	f, seen := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("zip"))
	})
	if _, err := f.Fetch(context.Background(), Request{RepoURL: "https://gitlab.com/acme/widget", Provider: ProviderGitLab, Token: "glpat"}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := seen()[0].auth; got != "Bearer glpat" {
		t.Fatalf("expected bearer scheme, got %q", got)
	}
}

func TestFetchMapsStatusErrors(t *testing.T) {
	cases := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusNotFound, func(err error) bool {
			var target *RepoNotFoundError
			return errors.As(err, &target) && strings.Contains(err.Error(), "404") && strings.Contains(err.Error(), "access token")
		}},
		{http.StatusUnauthorized, func(err error) bool { var target *AuthenticationError; return errors.As(err, &target) }},
		{http.StatusForbidden, func(err error) bool { var target *AuthenticationError; return errors.As(err, &target) }},
		{http.StatusBadGateway, func(err error) bool {
			var target *DownloadError
			return errors.As(err, &target) && target.Status == http.StatusBadGateway
		}},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			f, seen := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			_, err := f.Fetch(context.Background(), Request{RepoURL: "https://github.com/acme/widget", Provider: ProviderGitHub})
			if !tc.check(err) {
				t.Fatalf("unexpected error for %d: %v", tc.status, err)
			}
			if n := len(seen()); n != 1 {
				t.Fatalf("expected exactly one attempt, got %d", n)
			}
		})
	}
}

func TestFetchRejectsUnsupportedProviderWithoutNetwork(t *testing.T) {
	f, seen := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := f.Fetch(context.Background(), Request{RepoURL: "https://git.example.com/a/b", Provider: ProviderGeneric})
	var unsupported *UnsupportedProviderError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected unsupported provider, got %v", err)
	}
	if len(seen()) != 0 {
		t.Fatal("expected no network call")
	}
}

func TestFetchStopsReadingOversizedArchive(t *testing.T) {
	const total = 64 << 20
	var written atomic.Int64
	handlerDone := make(chan struct{})
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		defer close(handlerDone)
		chunk := make([]byte, 32<<10)
		for written.Load() < total {
			n, err := w.Write(chunk)
			written.Add(int64(n))
			if err != nil {
				return
			}
		}
	}, WithMaxBytes(1024))

	_, err := f.Fetch(context.Background(), Request{RepoURL: "https://github.com/acme/huge", Provider: ProviderGitHub})
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Fatalf("expected DownloadError, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds 1024 bytes") {
		t.Fatalf("unexpected error %v", err)
	}
	select {
	case <-handlerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("server kept streaming after the client gave up")
	}
	if n := written.Load(); n >= total/2 {
		t.Fatalf("client drained %d bytes of an oversized archive", n)
	}
}
