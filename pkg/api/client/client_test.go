package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/oneops/oneops/internal/domain"
	"github.com/oneops/oneops/internal/service/deploy"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDeploySendsTokenAndBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/deploy" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req deploy.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Repo != "https://github.com/acme/app" || req.Region != "eu-west-1" {
			t.Errorf("unexpected body %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(deploy.Response{Success: true, Image: "acme/app:latest", DeploymentURL: "http://lb"})
	})

	resp, err := c.Deploy(context.Background(), "tok", deploy.Request{Repo: "https://github.com/acme/app", Region: "eu-west-1"})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !resp.Success || resp.DeploymentURL != "http://lb" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestDeployFailureKeepsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(deploy.Response{Success: false, Error: "repository not found"})
	})

	resp, err := c.Deploy(context.Background(), "tok", deploy.Request{Repo: "https://github.com/acme/gone"})
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected APIError 500, got %v", err)
	}
	if apiErr.Message != "repository not found" || resp.Error != "repository not found" {
		t.Fatalf("error body lost: %+v %+v", apiErr, resp)
	}
}

func TestListEventsQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" || r.URL.Query().Get("limit") != "5" || r.URL.Query().Get("offset") != "10" {
			t.Errorf("unexpected url %s", r.URL.String())
		}
		_ = json.NewEncoder(w).Encode([]domain.DeploymentEvent{{Event: domain.EventDeploymentStarted}})
	})

	events, err := c.ListEvents(context.Background(), "tok", 5, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].Event != domain.EventDeploymentStarted {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestUnauthorizedProjects(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"authentication required"}`))
	})
	_, err := c.ListProjects(context.Background(), "")
	var apiErr APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized || apiErr.Message != "authentication required" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestNewNormalizesBaseURL(t *testing.T) {
	c, err := New("localhost:4000/")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer c.Close()
	if c.baseURL != "http://localhost:4000" {
		t.Fatalf("unexpected base url %q", c.baseURL)
	}
}
