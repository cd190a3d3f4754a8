package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oneops/oneops/internal/archive"
	"github.com/oneops/oneops/internal/descriptor"
	"github.com/oneops/oneops/internal/domain"
	"github.com/oneops/oneops/internal/image"
	"github.com/oneops/oneops/internal/provision"
	"github.com/oneops/oneops/internal/repository"
	"github.com/oneops/oneops/internal/service/auth"
	"github.com/oneops/oneops/internal/source"
	"github.com/oneops/oneops/internal/workspace"
)

const (
	defaultInstanceType = "t3.micro"
	eventWriteTimeout   = 10 * time.Second
)

// Authorizer resolves a bearer token to an identity.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (auth.Identity, error)
}

// Fetcher downloads repository archives.
type Fetcher interface {
	Fetch(ctx context.Context, req source.Request) (source.Archive, error)
}

// Extractor unpacks archives into a working tree.
type Extractor interface {
	Extract(data []byte, dest string) (archive.Result, error)
}

// Publisher builds and pushes images.
type Publisher interface {
	Namespace() string
	Publish(ctx context.Context, root, dockerfile string, ref image.Reference) (image.Result, error)
}

// Provisioner establishes the cloud resources serving an image.
type Provisioner interface {
	Ready(region string) error
	Run(ctx context.Context, in provision.Input) (provision.Result, error)
}

// EventSink records deployment events.
type EventSink interface {
	Append(ctx context.Context, event *domain.DeploymentEvent) error
}

// Workspaces hands out per-run directories.
type Workspaces interface {
	Prepare(runID string) (workspace.Dir, error)
	Cleanup(d workspace.Dir) error
}

// Dependencies are the collaborators of the pipeline.
type Dependencies struct {
	Auth        Authorizer
	Fetcher     Fetcher
	Extractor   Extractor
	Publisher   Publisher
	Provisioner Provisioner
	Projects    repository.ProjectRepository
	Events      EventSink
	Workspaces  Workspaces
	Observer    StageObserver
	Logger      *slog.Logger
}

// Service runs the repository to running service pipeline.
type Service struct {
	deps          Dependencies
	defaultRegion string
}

// New constructs a deploy service. Requests without a region deploy to
// defaultRegion.
func New(deps Dependencies, defaultRegion string) Service {
	if deps.Observer == nil {
		deps.Observer = LogObserver{Logger: deps.Logger}
	}
	return Service{deps: deps, defaultRegion: defaultRegion}
}

// Deploy authorizes the caller and runs the pipeline once. The response is
// always populated; the error carries the typed cause (auth.AuthError,
// InvalidRequestError or PipelineError) for transports that map status
// codes.
func (s Service) Deploy(ctx context.Context, token string, req Request) (Response, error) {
	id, err := s.deps.Auth.Authorize(ctx, token)
	if err != nil {
		s.deps.Logger.Warn("deploy rejected", "error", err)
		return failure(err), err
	}
	req = req.normalized(s.defaultRegion, defaultInstanceType)
	r := &run{
		svc:     s,
		id:      uuid.NewString(),
		owner:   id.UserID,
		req:     req,
		entered: time.Now(),
	}
	r.log = s.deps.Logger.With("run_id", r.id, "repo", req.Repo, "user_id", r.owner)
	return r.execute(ctx)
}

// run is the state of one pipeline execution.
type run struct {
	svc     Service
	id      string
	owner   string
	req     Request
	log     *slog.Logger
	stage   Stage
	entered time.Time

	warnings []string
	dir      workspace.Dir
	cleaned  bool
}

func (r *run) advance(ctx context.Context, to Stage, err error) {
	now := time.Now()
	r.svc.deps.Observer.Observe(ctx, Transition{
		RunID:   r.id,
		Repo:    r.req.Repo,
		From:    r.stage,
		To:      to,
		Elapsed: now.Sub(r.entered),
		Err:     err,
	})
	if to != StageFailed {
		r.stage = to
	}
	r.entered = now
}

func (r *run) execute(ctx context.Context) (Response, error) {
	deps := r.svc.deps
	r.advance(ctx, StageStarted, nil)
	r.appendEvent(ctx, &domain.DeploymentEvent{
		Event:  domain.EventDeploymentStarted,
		Status: domain.EventStatusInProgress,
		Stage:  string(StageStarted),
	})

	defer r.cleanup()

	if err := r.req.validate(); err != nil {
		return r.fail(ctx, err)
	}
	if err := deps.Provisioner.Ready(r.req.Region); err != nil {
		return r.fail(ctx, err)
	}

	dir, err := deps.Workspaces.Prepare(r.id)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("prepare workspace: %w", err))
	}
	r.dir = dir

	provider := source.ParseProvider(r.req.RepoType, r.req.Repo)
	pkg, err := deps.Fetcher.Fetch(ctx, source.Request{
		RepoURL:  r.req.Repo,
		Provider: provider,
		Token:    r.req.RepoToken,
	})
	if err != nil {
		return r.fail(ctx, err)
	}
	r.advance(ctx, StageDownloaded, nil)

	tree, err := deps.Extractor.Extract(pkg.Data, dir.Path)
	if err != nil {
		return r.fail(ctx, fmt.Errorf("extract archive: %w", err))
	}
	pkg.Data = nil
	if tree.Degraded {
		r.warn("archive could not be extracted, deployed placeholder app: " + tree.Reason)
	}
	r.advance(ctx, StageExtracted, nil)

	desc, err := descriptor.Ensure(tree.Root)
	if err != nil {
		return r.fail(ctx, err)
	}
	port, err := descriptor.ContainerPort(tree.Root, desc.Name)
	if err != nil {
		return r.fail(ctx, err)
	}
	if desc.Generated {
		r.log.Info("generated default Dockerfile")
	}
	r.advance(ctx, StageDescriptorReady, nil)

	ref, err := image.ReferenceFor(deps.Publisher.Namespace(), r.req.Repo)
	if err != nil {
		return r.fail(ctx, err)
	}
	published, err := deps.Publisher.Publish(ctx, tree.Root, desc.Name, ref)
	if err != nil {
		return r.fail(ctx, err)
	}
	for _, w := range published.Warnings {
		r.warn(w)
	}
	r.cleanup()
	r.advance(ctx, StageImagePublished, nil)

	imageURL := published.Reference.String()
	res, err := deps.Provisioner.Run(ctx, provision.Input{
		AppName:       published.Reference.Slug,
		Image:         imageURL,
		Region:        r.req.Region,
		InstanceType:  r.req.InstanceType,
		ContainerPort: port,
	})
	if err != nil {
		return r.fail(ctx, err)
	}
	r.advance(ctx, StageResourcesProvisioned, nil)

	r.appendEvent(ctx, &domain.DeploymentEvent{
		Event:    domain.EventDeploymentCompleted,
		Status:   domain.EventStatusSuccess,
		ImageURL: imageURL,
		Stage:    string(StageCompleted),
	})
	project := &domain.Project{
		OwnerID:         r.owner,
		Name:            published.Reference.Slug,
		RepoURL:         r.req.Repo,
		Region:          r.req.Region,
		InstanceType:    r.req.InstanceType,
		ImageURL:        imageURL,
		DeploymentURL:   res.URL,
		Status:          domain.ProjectStatusActive,
		ClusterName:     res.ClusterName,
		ServiceARN:      res.ServiceARN,
		LoadBalancerDNS: res.LoadBalancerDNS,
		LastDeployedAt:  time.Now().UTC(),
	}
	upsertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventWriteTimeout)
	defer cancel()
	if err := deps.Projects.UpsertProject(upsertCtx, project); err != nil {
		r.log.Error("failed to record project", "error", err)
		r.warn("deployment succeeded but the project record could not be saved")
	}
	r.advance(ctx, StageCompleted, nil)

	return Response{
		Success:        true,
		Image:          imageURL,
		DeploymentURL:  res.URL,
		ServiceDetails: &res,
		Warnings:       r.warnings,
	}, nil
}

func (r *run) fail(ctx context.Context, err error) (Response, error) {
	stage := r.stage
	r.advance(ctx, StageFailed, err)
	r.appendEvent(ctx, &domain.DeploymentEvent{
		Event:        domain.EventDeploymentFailed,
		Status:       domain.EventStatusFailed,
		ErrorMessage: err.Error(),
		Stage:        string(stage),
	})
	return failure(err), &PipelineError{Stage: stage, Err: err}
}

// appendEvent fills the request fields and records the event. Failures
// are logged only. The write outlives the caller's context so a run
// abandoned by its client still ends with a terminal event.
func (r *run) appendEvent(ctx context.Context, event *domain.DeploymentEvent) {
	event.RepoURL = r.req.Repo
	event.Region = r.req.Region
	event.InstanceType = r.req.InstanceType
	event.OwnerID = r.owner
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventWriteTimeout)
	defer cancel()
	if err := r.svc.deps.Events.Append(ctx, event); err != nil {
		r.log.Error("failed to record deployment event", "event", event.Event, "error", err)
	}
}

func (r *run) warn(msg string) {
	r.warnings = append(r.warnings, msg)
	r.log.Warn(msg)
}

func (r *run) cleanup() {
	if r.cleaned || r.dir.Path == "" {
		return
	}
	r.cleaned = true
	if err := r.svc.deps.Workspaces.Cleanup(r.dir); err != nil {
		r.log.Warn("workspace cleanup failed", "error", err)
	}
}

// IsClientError reports whether err was caused by the caller rather than
// the pipeline.
func IsClientError(err error) bool {
	var invalid *InvalidRequestError
	var unsupported *source.UnsupportedProviderError
	var badURL *source.InvalidRepoURLError
	return errors.As(err, &invalid) || errors.As(err, &unsupported) || errors.As(err, &badURL)
}
