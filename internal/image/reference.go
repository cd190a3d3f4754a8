// Package image names and publishes container images for deployments.
package image

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/distribution/reference"
)

// DefaultTag is the mutable tag every deployment overwrites.
const DefaultTag = "latest"

// Reference is the name a built image is published and pulled under.
type Reference struct {
	Namespace string
	Slug      string
	Tag       string
}

// String renders namespace/slug:tag, or slug:tag without a namespace.
func (r Reference) String() string {
	name := r.Slug
	if r.Namespace != "" {
		name = r.Namespace + "/" + r.Slug
	}
	return name + ":" + r.Tag
}

// RepoSlug is the repository URL's last path segment, lower-cased, with a
// trailing ".git" removed.
func RepoSlug(repoURL string) string {
	trimmed := strings.TrimSpace(repoURL)
	if u, err := url.Parse(trimmed); err == nil && u.Path != "" {
		trimmed = u.Path
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	return strings.TrimSuffix(strings.ToLower(trimmed), ".git")
}

// ReferenceFor derives the image reference for repoURL under namespace. The
// result only depends on its inputs, so redeploys reuse the same name.
func ReferenceFor(namespace, repoURL string) (Reference, error) {
	ref := Reference{
		Namespace: strings.ToLower(strings.TrimSpace(namespace)),
		Slug:      RepoSlug(repoURL),
		Tag:       DefaultTag,
	}
	if ref.Slug == "" {
		return Reference{}, &PublishError{Reason: fmt.Sprintf("cannot derive image name from %q", repoURL)}
	}
	if _, err := reference.ParseNormalizedNamed(ref.String()); err != nil {
		return Reference{}, &PublishError{Reason: fmt.Sprintf("invalid image reference %q", ref.String()), Err: err}
	}
	return ref, nil
}
