package domain

import "time"

// Project statuses.
const (
	ProjectStatusIdle   = "idle"
	ProjectStatusActive = "active"
	ProjectStatusError  = "error"
)

// Project is the durable record of an application deployed for an owner.
// (OwnerID, RepoURL) is unique; redeploys overwrite the record.
type Project struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"user_id"`
	Name            string    `json:"name"`
	RepoURL         string    `json:"repo_url"`
	Region          string    `json:"region"`
	InstanceType    string    `json:"instance_type"`
	ImageURL        string    `json:"image_url"`
	DeploymentURL   string    `json:"deployment_url"`
	Status          string    `json:"status"`
	ClusterName     string    `json:"cluster_name"`
	ServiceARN      string    `json:"service_arn"`
	LoadBalancerDNS string    `json:"alb_dns_name"`
	CreatedAt       time.Time `json:"created_at"`
	LastDeployedAt  time.Time `json:"last_deployed_at"`
}
