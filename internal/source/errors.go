package source

import (
	"fmt"
	"net/http"
)

// UnsupportedProviderError is returned for repository hosts without a known
// archive endpoint.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported repo type: %s", e.Provider)
}

// InvalidRepoURLError is returned when no owner and repository name can be
// read from the URL.
type InvalidRepoURLError struct {
	URL string
}

func (e *InvalidRepoURLError) Error() string {
	return fmt.Sprintf("invalid repository url: %q", e.URL)
}

// RepoNotFoundError is returned when the archive endpoint answers 404.
type RepoNotFoundError struct {
	URL string
}

func (e *RepoNotFoundError) Error() string {
	return "repo download failed: 404 Not Found. Please check that the repository exists and is accessible. " +
		"For private repos, ensure you've provided a valid access token."
}

// AuthenticationError is returned on 401 and 403.
type AuthenticationError struct {
	Status int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("repo download failed: %d %s. Authentication failed. Please check your access token for private repositories.",
		e.Status, http.StatusText(e.Status))
}

// DownloadError covers every other non-2xx answer and transport failures
// (Status is 0 for the latter).
type DownloadError struct {
	Status int
	Err    error
}

func (e *DownloadError) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("repo download failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("repo download failed: %d %s: %v", e.Status, http.StatusText(e.Status), e.Err)
	default:
		return fmt.Sprintf("repo download failed: %d %s", e.Status, http.StatusText(e.Status))
	}
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
