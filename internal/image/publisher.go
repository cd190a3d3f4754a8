package image

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oneops/oneops/internal/docker"
)

// Outcome classifies a publish that produced a usable reference.
type Outcome string

const (
	// OutcomePushed means the image was built and pushed.
	OutcomePushed Outcome = "pushed"
	// OutcomeLocalOnly means the image was built but no registry
	// credentials were configured.
	OutcomeLocalOnly Outcome = "local_only"
	// OutcomeDegraded means build or push failed; provisioning relies on a
	// previously published tag under the same reference.
	OutcomeDegraded Outcome = "degraded"
)

// Result is returned for every publish that yields a reference.
type Result struct {
	Reference Reference
	Outcome   Outcome
	Warnings  []string
}

// Engine is the subset of the docker client the publisher drives.
type Engine interface {
	BuildImage(ctx context.Context, opts docker.BuildOptions, onOutput docker.OutputFunc) error
	PushImage(ctx context.Context, ref string, auth docker.RegistryAuth, onOutput docker.OutputFunc) error
	ImageExists(ctx context.Context, ref string) (bool, error)
	RemoteImageExists(ctx context.Context, ref string, auth docker.RegistryAuth) (bool, error)
}

// Credentials identify the registry account images are pushed to.
type Credentials struct {
	Username string
	Token    string
	Server   string
}

// Publisher builds and pushes images.
type Publisher struct {
	engine Engine
	creds  Credentials
	logger *slog.Logger
}

// NewPublisher constructs a Publisher. engine may be nil when no daemon is
// reachable; every publish is then degraded.
func NewPublisher(engine Engine, creds Credentials, logger *slog.Logger) *Publisher {
	return &Publisher{engine: engine, creds: creds, logger: logger}
}

// Namespace is the registry namespace references are created under.
func (p *Publisher) Namespace() string {
	return p.creds.Username
}

// Publish builds root with dockerfile and pushes it as ref. Build and push
// failures are reported in the result as long as some image already exists
// under ref; otherwise the publish fails.
func (p *Publisher) Publish(ctx context.Context, root, dockerfile string, ref Reference) (Result, error) {
	if ref.Slug == "" || ref.Tag == "" {
		return Result{}, &PublishError{Reason: "empty image reference"}
	}
	name := ref.String()
	res := Result{Reference: ref}
	if p.engine == nil {
		res.Outcome = OutcomeDegraded
		res.Warnings = append(res.Warnings, "docker engine unavailable, using previously published "+name)
		p.logger.Warn("docker engine unavailable, skipping build", "image", name)
		return res, nil
	}

	log := p.logger.With("image", name)
	output := func(line string) { log.Debug("docker", "output", line) }

	log.Info("building image")
	if err := p.engine.BuildImage(ctx, docker.BuildOptions{
		Dir:        root,
		Dockerfile: dockerfile,
		Tag:        name,
		Platform:   docker.DefaultPlatform,
	}, output); err != nil {
		if !p.existing(ctx, log, name) {
			return Result{}, &PublishError{Reason: "build failed and no image exists under " + name, Err: err}
		}
		log.Warn("image build failed, falling back to existing tag", "error", err)
		res.Outcome = OutcomeDegraded
		res.Warnings = append(res.Warnings, "build failed: "+err.Error())
		return res, nil
	}

	if !p.canPush() {
		log.Warn("registry credentials not configured, keeping local image only")
		res.Outcome = OutcomeLocalOnly
		res.Warnings = append(res.Warnings, "registry credentials not configured, image not pushed")
		return res, nil
	}

	log.Info("pushing image")
	if err := p.engine.PushImage(ctx, name, p.auth(), output); err != nil {
		log.Warn("image push failed, using local image", "error", err)
		res.Outcome = OutcomeDegraded
		res.Warnings = append(res.Warnings, "push failed: "+err.Error())
		return res, nil
	}
	res.Outcome = OutcomePushed
	log.Info("image pushed")
	return res, nil
}

func (p *Publisher) canPush() bool {
	return strings.TrimSpace(p.creds.Username) != "" && strings.TrimSpace(p.creds.Token) != ""
}

func (p *Publisher) auth() docker.RegistryAuth {
	return docker.RegistryAuth{
		Username:      p.creds.Username,
		Password:      p.creds.Token,
		ServerAddress: p.creds.Server,
	}
}

// existing reports whether name can still be pulled after a failed build,
// either from the local store or from the registry. A lookup error counts
// as present: only a confirmed absence fails the publish.
func (p *Publisher) existing(ctx context.Context, log *slog.Logger, name string) bool {
	local, err := p.engine.ImageExists(ctx, name)
	if err != nil {
		log.Warn("local image lookup failed", "error", err)
		return true
	}
	if local {
		return true
	}
	if !p.canPush() {
		return false
	}
	remote, err := p.engine.RemoteImageExists(ctx, name, p.auth())
	if err != nil {
		log.Warn("registry image lookup failed", "error", err)
		return true
	}
	return remote
}
