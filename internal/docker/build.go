package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/archive"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// OutputFunc receives rendered build and push progress lines.
type OutputFunc func(string)

// BuildOptions describes one image build.
type BuildOptions struct {
	Dir        string
	Dockerfile string
	Tag        string
	Platform   ocispec.Platform
}

// DefaultPlatform is what Fargate runs unless told otherwise.
var DefaultPlatform = ocispec.Platform{OS: "linux", Architecture: "amd64"}

// BuildImage tars opts.Dir and builds it on the daemon.
func (c *Client) BuildImage(ctx context.Context, opts BuildOptions, onOutput OutputFunc) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	if opts.Dir == "" {
		return fmt.Errorf("build directory cannot be empty")
	}
	if opts.Tag == "" {
		return fmt.Errorf("image tag cannot be empty")
	}
	buildCtx, err := archive.TarWithOptions(opts.Dir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer buildCtx.Close()

	resp, err := c.inner.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{opts.Tag},
		Dockerfile:  opts.Dockerfile,
		Platform:    platformString(opts.Platform),
		Remove:      true,
		ForceRemove: true,
		PullParent:  true,
	})
	if err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	defer resp.Body.Close()
	if err := decodeStream(resp.Body, onOutput); err != nil {
		return fmt.Errorf("docker image build: %w", err)
	}
	return nil
}

func platformString(p ocispec.Platform) string {
	if p.OS == "" || p.Architecture == "" {
		p = DefaultPlatform
	}
	parts := []string{p.OS, p.Architecture}
	if p.Variant != "" {
		parts = append(parts, p.Variant)
	}
	return strings.Join(parts, "/")
}
