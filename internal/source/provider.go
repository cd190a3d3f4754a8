// Package source downloads repository archives from hosted git providers.
package source

import (
	"net/url"
	"strings"
)

// Provider identifies a source host.
type Provider string

const (
	ProviderGitHub    Provider = "github"
	ProviderGitLab    Provider = "gitlab"
	ProviderBitbucket Provider = "bitbucket"
	ProviderGeneric   Provider = "generic"
)

// ParseProvider maps a user supplied repo_type. Empty input infers the
// provider from the repository host.
func ParseProvider(value, repoURL string) Provider {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "github":
		return ProviderGitHub
	case "gitlab":
		return ProviderGitLab
	case "bitbucket":
		return ProviderBitbucket
	case "":
		return InferProvider(repoURL)
	default:
		return Provider(strings.ToLower(strings.TrimSpace(value)))
	}
}

// InferProvider guesses the provider from well-known hosts.
func InferProvider(repoURL string) Provider {
	u, err := url.Parse(strings.TrimSpace(repoURL))
	if err != nil {
		return ProviderGeneric
	}
	switch strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") {
	case "github.com":
		return ProviderGitHub
	case "gitlab.com":
		return ProviderGitLab
	case "bitbucket.org":
		return ProviderBitbucket
	default:
		return ProviderGeneric
	}
}

// NormalizeRepoURL strips one trailing slash and then one trailing ".git".
func NormalizeRepoURL(repoURL string) string {
	clean := strings.TrimSpace(repoURL)
	clean = strings.TrimSuffix(clean, "/")
	return strings.TrimSuffix(clean, ".git")
}

// ResolveArchiveURL maps a repository URL to the provider's zip download
// endpoint. The default branch is assumed to be main on GitHub and master
// on Bitbucket; GitLab serves the project's default branch.
func ResolveArchiveURL(repoURL string, provider Provider) (string, error) {
	switch provider {
	case ProviderGitHub, ProviderGitLab, ProviderBitbucket:
	default:
		return "", &UnsupportedProviderError{Provider: string(provider)}
	}
	path, err := repoPath(repoURL)
	if err != nil {
		return "", err
	}
	switch provider {
	case ProviderGitHub:
		return "https://api.github.com/repos/" + path + "/zipball/main", nil
	case ProviderGitLab:
		return "https://gitlab.com/api/v4/projects/" + url.PathEscape(path) + "/repository/archive.zip", nil
	default:
		return "https://bitbucket.org/" + path + "/get/master.zip", nil
	}
}

// repoPath returns the "owner/name" part of a repository URL, dropping the
// host so www. and scheme variants resolve to the same archive.
func repoPath(repoURL string) (string, error) {
	u, err := url.Parse(NormalizeRepoURL(repoURL))
	if err != nil || u.Host == "" {
		return "", &InvalidRepoURLError{URL: repoURL}
	}
	path := strings.Trim(u.Path, "/")
	if strings.Count(path, "/") < 1 {
		return "", &InvalidRepoURLError{URL: repoURL}
	}
	return path, nil
}

// AuthorizationHeader returns the header value for token on provider.
func AuthorizationHeader(provider Provider, token string) string {
	if provider == ProviderGitHub {
		return "token " + token
	}
	return "Bearer " + token
}
