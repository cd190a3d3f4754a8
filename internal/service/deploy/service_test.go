package deploy

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/oneops/oneops/internal/archive"
	"github.com/oneops/oneops/internal/domain"
	"github.com/oneops/oneops/internal/image"
	"github.com/oneops/oneops/internal/provision"
	"github.com/oneops/oneops/internal/repository"
	"github.com/oneops/oneops/internal/service/auth"
	"github.com/oneops/oneops/internal/sigv4"
	"github.com/oneops/oneops/internal/source"
	"github.com/oneops/oneops/internal/workspace"
)

const testRepo = "https://github.com/Acme/Demo-App.git"

type fakeAuth struct{}

func (fakeAuth) Authorize(ctx context.Context, token string) (auth.Identity, error) {
	if token != "good" {
		return auth.Identity{}, &auth.AuthError{Reason: "invalid token"}
	}
	return auth.Identity{UserID: "user-1"}, nil
}

type fakeFetcher struct {
	data  []byte
	err   error
	calls int
	last  source.Request
}

func (f *fakeFetcher) Fetch(ctx context.Context, req source.Request) (source.Archive, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return source.Archive{}, f.err
	}
	return source.Archive{URL: "https://api.github.com/repos/acme/demo-app/zipball/main", Data: f.data}, nil
}

type fakePublisher struct {
	calls   int
	roots   []string
	outcome image.Outcome
}

func (p *fakePublisher) Namespace() string { return "acme" }

func (p *fakePublisher) Publish(ctx context.Context, root, dockerfile string, ref image.Reference) (image.Result, error) {
	p.calls++
	p.roots = append(p.roots, root)
	if _, err := os.Stat(root + "/" + dockerfile); err != nil {
		return image.Result{}, err
	}
	outcome := p.outcome
	if outcome == "" {
		outcome = image.OutcomePushed
	}
	return image.Result{Reference: ref, Outcome: outcome}, nil
}

type fakeProvisioner struct {
	calls    int
	last     provision.Input
	err      error
	readyErr error
}

func (p *fakeProvisioner) Ready(region string) error {
	return p.readyErr
}

func (p *fakeProvisioner) Run(ctx context.Context, in provision.Input) (provision.Result, error) {
	p.calls++
	p.last = in
	if p.err != nil {
		return provision.Result{}, p.err
	}
	return provision.Result{
		ClusterName:     provision.DefaultClusterName,
		ServiceName:     in.AppName,
		ServiceARN:      "arn:aws:ecs:us-east-1:1:service/oneops-prod/" + in.AppName,
		LoadBalancerDNS: in.AppName + "-1.us-east-1.elb.amazonaws.com",
		URL:             "http://" + in.AppName + "-1.us-east-1.elb.amazonaws.com",
	}, nil
}

type memoryProjects struct {
	mu       sync.Mutex
	projects map[string]domain.Project
}

func (m *memoryProjects) UpsertProject(ctx context.Context, p *domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := p.OwnerID + "|" + p.RepoURL
	if existing, ok := m.projects[key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else if p.ID == "" {
		p.ID = "project-" + p.Name
	}
	m.projects[key] = *p
	return nil
}

func (m *memoryProjects) GetProjectByRepo(ctx context.Context, ownerID, repoURL string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[ownerID+"|"+repoURL]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (m *memoryProjects) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Project
	for _, p := range m.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memoryEvents struct {
	events []domain.DeploymentEvent
	err    error
}

func (m *memoryEvents) Append(ctx context.Context, e *domain.DeploymentEvent) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *e)
	return nil
}

type recordingObserver struct {
	transitions []Transition
}

func (o *recordingObserver) Observe(ctx context.Context, t Transition) {
	o.transitions = append(o.transitions, t)
}

type harness struct {
	svc         Service
	fetcher     *fakeFetcher
	publisher   *fakePublisher
	provisioner *fakeProvisioner
	projects    *memoryProjects
	events      *memoryEvents
	observer    *recordingObserver
	workspaces  *workspace.Manager
}

func newHarness(t *testing.T, opts ...func(*harness)) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	h := &harness{
		fetcher:     &fakeFetcher{data: zipArchive(t, map[string]string{"demo-app-main/package.json": `{"name":"demo"}`})},
		publisher:   &fakePublisher{},
		provisioner: &fakeProvisioner{},
		projects:    &memoryProjects{projects: map[string]domain.Project{}},
		events:      &memoryEvents{},
		observer:    &recordingObserver{},
		workspaces:  ws,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.svc = New(Dependencies{
		Auth:        fakeAuth{},
		Fetcher:     h.fetcher,
		Extractor:   archive.NewExtractor(logger),
		Publisher:   h.publisher,
		Provisioner: h.provisioner,
		Projects:    h.projects,
		Events:      h.events,
		Workspaces:  h.workspaces,
		Observer:    h.observer,
		Logger:      logger,
	}, "us-east-1")
	return h
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func validRequest() Request {
	return Request{Repo: testRepo, RepoToken: "ghp_secret", Region: "us-east-1", InstanceType: "t3.micro"}
}

func TestDeploySuccess(t *testing.T) {
	h := newHarness(t)

	resp, err := h.svc.Deploy(context.Background(), "good", validRequest())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !resp.Success || resp.Error != "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Image != "acme/demo-app:latest" {
		t.Fatalf("unexpected image %q", resp.Image)
	}
	if resp.DeploymentURL != "http://demo-app-1.us-east-1.elb.amazonaws.com" {
		t.Fatalf("unexpected url %q", resp.DeploymentURL)
	}
	if resp.ServiceDetails == nil || resp.ServiceDetails.ClusterName != provision.DefaultClusterName {
		t.Fatalf("missing service details: %+v", resp.ServiceDetails)
	}

	if h.fetcher.last.RepoURL != "https://github.com/Acme/Demo-App" || h.fetcher.last.Provider != source.ProviderGitHub || h.fetcher.last.Token != "ghp_secret" {
		t.Fatalf("unexpected fetch request %+v", h.fetcher.last)
	}
	if h.provisioner.last.Image != "acme/demo-app:latest" || h.provisioner.last.ContainerPort.Int() != 3000 {
		t.Fatalf("unexpected provision input %+v", h.provisioner.last)
	}

	if len(h.events.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(h.events.events))
	}
	started, completed := h.events.events[0], h.events.events[1]
	if started.Event != domain.EventDeploymentStarted || started.Status != domain.EventStatusInProgress {
		t.Fatalf("unexpected first event %+v", started)
	}
	if completed.Event != domain.EventDeploymentCompleted || completed.Status != domain.EventStatusSuccess || completed.ImageURL != resp.Image {
		t.Fatalf("unexpected second event %+v", completed)
	}
	if completed.OwnerID != "user-1" || completed.Region != "us-east-1" {
		t.Fatalf("event missing request fields %+v", completed)
	}

	project, err := h.projects.GetProjectByRepo(context.Background(), "user-1", "https://github.com/Acme/Demo-App")
	if err != nil {
		t.Fatalf("project not recorded: %v", err)
	}
	if project.Status != domain.ProjectStatusActive || project.DeploymentURL != resp.DeploymentURL {
		t.Fatalf("unexpected project %+v", project)
	}

	wantStages := []Stage{StageStarted, StageDownloaded, StageExtracted, StageDescriptorReady, StageImagePublished, StageResourcesProvisioned, StageCompleted}
	if len(h.observer.transitions) != len(wantStages) {
		t.Fatalf("expected %d transitions, got %d", len(wantStages), len(h.observer.transitions))
	}
	for i, tr := range h.observer.transitions {
		if tr.To != wantStages[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, wantStages[i], tr.To)
		}
	}

	// the working tree is gone once the image is published
	if _, err := os.Stat(h.publisher.roots[0]); !os.IsNotExist(err) {
		t.Fatalf("expected working tree removed, stat err=%v", err)
	}
}

func TestDeployRepoNotFound(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.fetcher.err = &source.RepoNotFoundError{URL: testRepo}
	})

	resp, err := h.svc.Deploy(context.Background(), "good", validRequest())
	if resp.Success {
		t.Fatal("expected failure")
	}
	var notFound *source.RepoNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected RepoNotFoundError, got %v", err)
	}
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Stage != StageStarted {
		t.Fatalf("expected failure in Started, got %v", err)
	}
	if resp.Error != notFound.Error() {
		t.Fatalf("response error %q does not carry cause", resp.Error)
	}

	var failed []domain.DeploymentEvent
	for _, e := range h.events.events {
		if e.Status == domain.EventStatusFailed {
			failed = append(failed, e)
		}
	}
	if len(failed) != 1 || failed[0].Event != domain.EventDeploymentFailed || failed[0].ErrorMessage == "" {
		t.Fatalf("expected one failed event, got %+v", h.events.events)
	}
	if len(h.projects.projects) != 0 {
		t.Fatalf("expected no project record, got %d", len(h.projects.projects))
	}
	if h.provisioner.calls != 0 || h.publisher.calls != 0 {
		t.Fatalf("expected no publish or cloud calls, got publish=%d provision=%d", h.publisher.calls, h.provisioner.calls)
	}
	last := h.observer.transitions[len(h.observer.transitions)-1]
	if last.To != StageFailed || last.Err == nil {
		t.Fatalf("expected failed transition, got %+v", last)
	}
}

func TestRedeployKeepsOneRecord(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 2; i++ {
		if _, err := h.svc.Deploy(context.Background(), "good", validRequest()); err != nil {
			t.Fatalf("deploy %d: %v", i, err)
		}
	}
	if len(h.projects.projects) != 1 {
		t.Fatalf("expected one record, got %d", len(h.projects.projects))
	}
	if len(h.events.events) != 4 {
		t.Fatalf("expected two event pairs, got %d events", len(h.events.events))
	}
	for i, want := range []string{domain.EventDeploymentStarted, domain.EventDeploymentCompleted, domain.EventDeploymentStarted, domain.EventDeploymentCompleted} {
		if h.events.events[i].Event != want {
			t.Fatalf("event %d: expected %q, got %q", i, want, h.events.events[i].Event)
		}
	}
}

func TestDeployRejectsBadToken(t *testing.T) {
	h := newHarness(t)
	resp, err := h.svc.Deploy(context.Background(), "bad", validRequest())
	var authErr *auth.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthError, got %v", err)
	}
	if resp.Success || resp.Error == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(h.events.events) != 0 || h.fetcher.calls != 0 || len(h.observer.transitions) != 0 {
		t.Fatal("expected nothing to run for an unauthorized caller")
	}
}

func TestDeployValidatesInput(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.Deploy(context.Background(), "good", Request{Repo: "  "})
	var invalid *InvalidRequestError
	if !errors.As(err, &invalid) || invalid.Field != "repo" {
		t.Fatalf("expected repo validation error, got %v", err)
	}
	if !IsClientError(err) {
		t.Fatal("expected client error")
	}
	if len(h.events.events) != 2 {
		t.Fatalf("expected Started and Failed events, got %+v", h.events.events)
	}
	if h.events.events[0].Event != domain.EventDeploymentStarted || h.events.events[1].Event != domain.EventDeploymentFailed {
		t.Fatalf("unexpected events %+v", h.events.events)
	}
	if h.fetcher.calls != 0 {
		t.Fatal("fetch should not run for invalid input")
	}
}

func TestDeployStopsBeforeFetchWhenCloudNotReady(t *testing.T) {
	credErr := &sigv4.CredentialFormatError{Field: "access key id", Reason: "must be 20 characters"}
	h := newHarness(t, func(h *harness) { h.provisioner.readyErr = credErr })

	resp, err := h.svc.Deploy(context.Background(), "good", validRequest())
	if !errors.Is(err, credErr) {
		t.Fatalf("expected credential error, got %v", err)
	}
	if resp.Success {
		t.Fatal("expected failed response")
	}
	if h.fetcher.calls != 0 || h.publisher.calls != 0 || h.provisioner.calls != 0 {
		t.Fatalf("no stage should run: fetch=%d publish=%d provision=%d", h.fetcher.calls, h.publisher.calls, h.provisioner.calls)
	}
	if n := len(h.events.events); n != 2 || h.events.events[1].Event != domain.EventDeploymentFailed {
		t.Fatalf("expected Started then Failed, got %+v", h.events.events)
	}
}

// cancellingFetcher simulates the client hanging up mid-download.
type cancellingFetcher struct {
	cancel context.CancelFunc
}

func (f cancellingFetcher) Fetch(ctx context.Context, req source.Request) (source.Archive, error) {
	f.cancel()
	return source.Archive{}, ctx.Err()
}

// ctxCheckingEvents rejects writes on a finished context, like database/sql.
type ctxCheckingEvents struct {
	memoryEvents
}

func (m *ctxCheckingEvents) Append(ctx context.Context, e *domain.DeploymentEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.memoryEvents.Append(ctx, e)
}

func TestCallerDisconnectStillRecordsFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ws, err := workspace.New(t.TempDir())
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	events := &ctxCheckingEvents{}
	svc := New(Dependencies{
		Auth:        fakeAuth{},
		Fetcher:     cancellingFetcher{cancel: cancel},
		Extractor:   archive.NewExtractor(logger),
		Publisher:   &fakePublisher{},
		Provisioner: &fakeProvisioner{},
		Projects:    &memoryProjects{projects: map[string]domain.Project{}},
		Events:      events,
		Workspaces:  ws,
		Logger:      logger,
	}, "us-east-1")

	if _, err := svc.Deploy(ctx, "good", validRequest()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	got := events.events
	if len(got) != 2 || got[1].Event != domain.EventDeploymentFailed {
		t.Fatalf("expected Started then Failed, got %+v", got)
	}
	if got[1].Stage != string(StageStarted) {
		t.Fatalf("unexpected failure stage %q", got[1].Stage)
	}
}

func TestDeployDefaultsRegionAndInstance(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.Deploy(context.Background(), "good", Request{Repo: testRepo}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if h.provisioner.last.Region != "us-east-1" || h.provisioner.last.InstanceType != defaultInstanceType {
		t.Fatalf("defaults not applied: %+v", h.provisioner.last)
	}
}

func TestDeployDegradedArchiveStillDeploys(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.fetcher.data = []byte("<html>not a zip</html>")
		h.publisher.outcome = image.OutcomeDegraded
	})
	resp, err := h.svc.Deploy(context.Background(), "good", validRequest())
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if !resp.Success || len(resp.Warnings) == 0 {
		t.Fatalf("expected success with warnings, got %+v", resp)
	}
}

func TestProvisioningFailureRecordsStage(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.provisioner.err = &provision.ProvisioningError{Step: provision.StepLoadBalancerProvisioned, Err: errors.New("denied")}
	})
	_, err := h.svc.Deploy(context.Background(), "good", validRequest())
	var perr *provision.ProvisioningError
	if !errors.As(err, &perr) || perr.Step != provision.StepLoadBalancerProvisioned {
		t.Fatalf("expected provisioning error, got %v", err)
	}
	last := h.events.events[len(h.events.events)-1]
	if last.Stage != string(StageImagePublished) || last.Status != domain.EventStatusFailed {
		t.Fatalf("unexpected failure event %+v", last)
	}
	if len(h.projects.projects) != 0 {
		t.Fatal("expected no record on failure")
	}
}

func TestEventSinkFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.events.err = errors.New("db down")
	})
	resp, err := h.svc.Deploy(context.Background(), "good", validRequest())
	if err != nil || !resp.Success {
		t.Fatalf("expected success despite event failures, got %v %+v", err, resp)
	}
}
