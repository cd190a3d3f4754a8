// Package docker drives the Docker Engine for the image publisher: build,
// push and existence checks.
package docker

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const engineCheckTimeout = 5 * time.Second

// Client wraps the Docker SDK client.
type Client struct {
	inner *client.Client
}

// New connects to host, or to DOCKER_HOST and friends when host is empty.
// The API version is negotiated on first use.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{inner: inner}, nil
}

// EngineInfo describes the daemon images are built on.
type EngineInfo struct {
	Host       string
	Version    string
	APIVersion string
	OS         string
	Arch       string
}

// Supports reports whether the daemon can produce images for p without
// emulation. Only the OS is binding; buildx emulates foreign architectures.
func (i EngineInfo) Supports(p ocispec.Platform) error {
	if i.OS != "" && i.OS != p.OS {
		return fmt.Errorf("docker engine %s runs %s containers, deployments need %s", i.Version, i.OS, platformString(p))
	}
	return nil
}

// Engine asks the daemon for its version and platform.
func (c *Client) Engine(ctx context.Context) (EngineInfo, error) {
	if c == nil || c.inner == nil {
		return EngineInfo{}, fmt.Errorf("docker client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, engineCheckTimeout)
	defer cancel()
	v, err := c.inner.ServerVersion(ctx)
	if err != nil {
		return EngineInfo{}, fmt.Errorf("docker version: %w", err)
	}
	return EngineInfo{
		Host:       c.inner.DaemonHost(),
		Version:    v.Version,
		APIVersion: v.APIVersion,
		OS:         v.Os,
		Arch:       v.Arch,
	}, nil
}

// Close releases resources held by the Docker client.
func (c *Client) Close() error {
	if c == nil || c.inner == nil {
		return nil
	}
	return c.inner.Close()
}
