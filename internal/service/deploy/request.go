package deploy

import (
	"strings"

	"github.com/oneops/oneops/internal/provision"
	"github.com/oneops/oneops/internal/source"
)

// Request asks for a repository to be deployed.
type Request struct {
	Repo         string `json:"repo"`
	RepoType     string `json:"repo_type,omitempty"`
	RepoToken    string `json:"repo_token,omitempty"`
	Region       string `json:"region"`
	InstanceType string `json:"instance_type"`
}

// Response is returned for every deploy, successful or not.
type Response struct {
	Success        bool              `json:"success"`
	Image          string            `json:"image,omitempty"`
	DeploymentURL  string            `json:"deployment_url,omitempty"`
	ServiceDetails *provision.Result `json:"service_details,omitempty"`
	Warnings       []string          `json:"warnings,omitempty"`
	Error          string            `json:"error,omitempty"`
}

func failure(err error) Response {
	return Response{Success: false, Error: err.Error()}
}

// normalized trims input and fills defaults. RepoToken is left untouched.
func (r Request) normalized(defaultRegion, defaultInstance string) Request {
	r.Repo = source.NormalizeRepoURL(strings.TrimSpace(r.Repo))
	r.RepoType = strings.TrimSpace(r.RepoType)
	r.Region = strings.TrimSpace(r.Region)
	if r.Region == "" {
		r.Region = defaultRegion
	}
	r.InstanceType = strings.TrimSpace(r.InstanceType)
	if r.InstanceType == "" {
		r.InstanceType = defaultInstance
	}
	return r
}

func (r Request) validate() error {
	if r.Repo == "" {
		return &InvalidRequestError{Field: "repo", Reason: "is required"}
	}
	if !strings.HasPrefix(r.Repo, "https://") && !strings.HasPrefix(r.Repo, "http://") {
		return &InvalidRequestError{Field: "repo", Reason: "must be an http(s) URL"}
	}
	if r.Region == "" {
		return &InvalidRequestError{Field: "region", Reason: "is required"}
	}
	return nil
}
