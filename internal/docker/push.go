package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
)

// RegistryAuth carries registry credentials for a push.
type RegistryAuth struct {
	Username      string
	Password      string
	ServerAddress string
}

func (a RegistryAuth) encode() (string, error) {
	encoded, err := registry.EncodeAuthConfig(registry.AuthConfig{
		Username:      a.Username,
		Password:      a.Password,
		ServerAddress: a.ServerAddress,
	})
	if err != nil {
		return "", fmt.Errorf("encode registry auth: %w", err)
	}
	return encoded, nil
}

// PushImage uploads ref to its registry.
func (c *Client) PushImage(ctx context.Context, ref string, auth RegistryAuth, onOutput OutputFunc) error {
	if c == nil || c.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	encoded, err := auth.encode()
	if err != nil {
		return err
	}
	body, err := c.inner.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: encoded})
	if err != nil {
		return fmt.Errorf("docker image push: %w", err)
	}
	defer body.Close()
	// Push failures arrive inside the stream with a 200 status.
	if err := decodeStream(body, onOutput); err != nil {
		return fmt.Errorf("docker image push: %w", err)
	}
	return nil
}

// ImageExists reports whether ref is present in the local image store.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	if c == nil || c.inner == nil {
		return false, fmt.Errorf("docker client not initialized")
	}
	if _, _, err := c.inner.ImageInspectWithRaw(ctx, ref); err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("docker image inspect: %w", err)
	}
	return true, nil
}

// RemoteImageExists asks the registry, through the daemon, whether ref has a
// manifest.
func (c *Client) RemoteImageExists(ctx context.Context, ref string, auth RegistryAuth) (bool, error) {
	if c == nil || c.inner == nil {
		return false, fmt.Errorf("docker client not initialized")
	}
	encoded, err := auth.encode()
	if err != nil {
		return false, err
	}
	if _, err := c.inner.DistributionInspect(ctx, ref, encoded); err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("docker distribution inspect: %w", err)
	}
	return true, nil
}
