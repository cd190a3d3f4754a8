// Package sqlite stores projects and deployment events in a local SQLite
// file. It backs single-node installs and the repository tests.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/oneops/oneops/internal/domain"
	"github.com/oneops/oneops/internal/repository"
)

// Repository implements persistence interfaces on SQLite.
type Repository struct {
	db *sql.DB
}

// Open opens the database at path. Schema is managed by the migrate runner.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// one writer avoids SQLITE_BUSY under concurrent deploys
	db.SetMaxOpenConns(1)
	return &Repository{db: db}, nil
}

var _ repository.Store = (*Repository)(nil)

// DB exposes the handle for migrations.
func (r *Repository) DB() *sql.DB {
	return r.db
}

const projectColumns = `id, user_id, name, repo_url, region, instance_type, image_url, deployment_url,
	status, cluster_name, service_arn, alb_dns_name, created_at, last_deployed_at`

// UpsertProject inserts or overwrites the record for (user_id, repo_url).
func (r *Repository) UpsertProject(ctx context.Context, p *domain.Project) error {
	const query = `INSERT INTO projects (id, user_id, name, repo_url, region, instance_type, image_url,
		deployment_url, status, cluster_name, service_arn, alb_dns_name, created_at, last_deployed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, repo_url) DO UPDATE SET
			name = excluded.name,
			region = excluded.region,
			instance_type = excluded.instance_type,
			image_url = excluded.image_url,
			deployment_url = excluded.deployment_url,
			status = excluded.status,
			cluster_name = excluded.cluster_name,
			service_arn = excluded.service_arn,
			alb_dns_name = excluded.alb_dns_name,
			last_deployed_at = excluded.last_deployed_at`
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.LastDeployedAt.IsZero() {
		p.LastDeployedAt = now
	}
	if p.Status == "" {
		p.Status = domain.ProjectStatusIdle
	}
	if _, err := r.db.ExecContext(ctx, query,
		p.ID, p.OwnerID, p.Name, p.RepoURL, p.Region, p.InstanceType, p.ImageURL,
		p.DeploymentURL, p.Status, p.ClusterName, p.ServiceARN, p.LoadBalancerDNS,
		p.CreatedAt.UTC(), p.LastDeployedAt.UTC(),
	); err != nil {
		return err
	}
	// read back the surviving id and created_at
	const readBack = `SELECT id, created_at FROM projects WHERE user_id = ? AND repo_url = ?`
	return r.db.QueryRowContext(ctx, readBack, p.OwnerID, p.RepoURL).Scan(&p.ID, &p.CreatedAt)
}

// GetProjectByRepo fetches the owner's record for repoURL.
func (r *Repository) GetProjectByRepo(ctx context.Context, ownerID, repoURL string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE user_id = ? AND repo_url = ?`
	p, err := scanProject(r.db.QueryRowContext(ctx, query, ownerID, repoURL))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListProjectsByOwner returns the owner's records, most recently deployed first.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE user_id = ? ORDER BY last_deployed_at DESC`
	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// AppendEvent stores a deployment event.
func (r *Repository) AppendEvent(ctx context.Context, e *domain.DeploymentEvent) error {
	const query = `INSERT INTO deployment_logs (id, event, repo, region, instance_type, status,
		error_message, image_url, stage, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query, e.ID, e.Event, e.RepoURL, e.Region, e.InstanceType, e.Status,
		e.ErrorMessage, e.ImageURL, e.Stage, e.OwnerID, e.CreatedAt.UTC())
	return err
}

// ListEventsByOwner returns the owner's events, newest first.
func (r *Repository) ListEventsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.DeploymentEvent, error) {
	const query = `SELECT id, event, repo, region, instance_type, status, error_message, image_url,
		stage, user_id, created_at
		FROM deployment_logs WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]domain.DeploymentEvent, 0)
	for rows.Next() {
		var e domain.DeploymentEvent
		if err := rows.Scan(&e.ID, &e.Event, &e.RepoURL, &e.Region, &e.InstanceType, &e.Status,
			&e.ErrorMessage, &e.ImageURL, &e.Stage, &e.OwnerID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Ping checks the database.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database.
func (r *Repository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.RepoURL, &p.Region, &p.InstanceType, &p.ImageURL,
		&p.DeploymentURL, &p.Status, &p.ClusterName, &p.ServiceARN, &p.LoadBalancerDNS,
		&p.CreatedAt, &p.LastDeployedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
