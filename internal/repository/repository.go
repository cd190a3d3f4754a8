package repository

import (
	"context"

	"github.com/oneops/oneops/internal/domain"
)

// ProjectRepository persists deployed project records.
type ProjectRepository interface {
	// UpsertProject inserts or overwrites the record keyed by
	// (OwnerID, RepoURL). ID and CreatedAt of an existing record are kept
	// and written back into project.
	UpsertProject(ctx context.Context, project *domain.Project) error
	GetProjectByRepo(ctx context.Context, ownerID, repoURL string) (*domain.Project, error)
	ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error)
}

// EventRepository appends and lists deployment events.
type EventRepository interface {
	AppendEvent(ctx context.Context, event *domain.DeploymentEvent) error
	ListEventsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.DeploymentEvent, error)
}

// Store bundles every repository plus a liveness check.
type Store interface {
	ProjectRepository
	EventRepository
	Ping(ctx context.Context) error
	Close() error
}
