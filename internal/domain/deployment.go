package domain

import "time"

// Deployment event statuses.
const (
	EventStatusInProgress = "In Progress"
	EventStatusSuccess    = "Success"
	EventStatusFailed     = "Failed"
)

// Deployment event names.
const (
	EventDeploymentStarted   = "Deployment Started"
	EventDeploymentCompleted = "Deployment Completed"
	EventDeploymentFailed    = "Deployment Failed"
)

// DeploymentEvent is one append-only entry of the deployment log.
type DeploymentEvent struct {
	ID           string    `json:"id"`
	Event        string    `json:"event"`
	RepoURL      string    `json:"repo"`
	Region       string    `json:"region"`
	InstanceType string    `json:"instance_type"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ImageURL     string    `json:"image_url,omitempty"`
	Stage        string    `json:"stage,omitempty"`
	OwnerID      string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
}
