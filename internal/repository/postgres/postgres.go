package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oneops/oneops/internal/domain"
	"github.com/oneops/oneops/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ repository.Store = (*Repository)(nil)

const projectColumns = `id::text, user_id, name, repo_url, region, instance_type, image_url, deployment_url,
	status, cluster_name, service_arn, alb_dns_name, created_at, last_deployed_at`

// UpsertProject inserts or overwrites the record for (user_id, repo_url).
func (r *Repository) UpsertProject(ctx context.Context, p *domain.Project) error {
	const query = `INSERT INTO projects (id, user_id, name, repo_url, region, instance_type, image_url,
		deployment_url, status, cluster_name, service_arn, alb_dns_name, created_at, last_deployed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, repo_url) DO UPDATE SET
			name = EXCLUDED.name,
			region = EXCLUDED.region,
			instance_type = EXCLUDED.instance_type,
			image_url = EXCLUDED.image_url,
			deployment_url = EXCLUDED.deployment_url,
			status = EXCLUDED.status,
			cluster_name = EXCLUDED.cluster_name,
			service_arn = EXCLUDED.service_arn,
			alb_dns_name = EXCLUDED.alb_dns_name,
			last_deployed_at = EXCLUDED.last_deployed_at
		RETURNING id::text, created_at`
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
	row := r.pool.QueryRow(ctx, query,
		p.ID, p.OwnerID, p.Name, p.RepoURL, p.Region, p.InstanceType, p.ImageURL,
		p.DeploymentURL, p.Status, p.ClusterName, p.ServiceARN, p.LoadBalancerDNS,
		p.CreatedAt, p.LastDeployedAt,
	)
	return row.Scan(&p.ID, &p.CreatedAt)
}

// GetProjectByRepo fetches the owner's record for repoURL.
func (r *Repository) GetProjectByRepo(ctx context.Context, ownerID, repoURL string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE user_id = $1 AND repo_url = $2`
	p, err := scanProject(r.pool.QueryRow(ctx, query, ownerID, repoURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// ListProjectsByOwner returns the owner's records, most recently deployed first.
func (r *Repository) ListProjectsByOwner(ctx context.Context, ownerID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE user_id = $1 ORDER BY last_deployed_at DESC`
	rows, err := r.pool.Query(ctx, query, ownerID)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, query, e.ID, e.Event, e.RepoURL, e.Region, e.InstanceType, e.Status,
		e.ErrorMessage, e.ImageURL, e.Stage, e.OwnerID, e.CreatedAt)
	return err
}

// ListEventsByOwner returns the owner's events, newest first.
func (r *Repository) ListEventsByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.DeploymentEvent, error) {
	const query = `SELECT id::text, event, repo, region, instance_type, status, error_message, image_url,
		stage, user_id, created_at
		FROM deployment_logs WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, ownerID, limit, offset)
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

// Ping checks the pool.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the pool.
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.RepoURL, &p.Region, &p.InstanceType, &p.ImageURL,
		&p.DeploymentURL, &p.Status, &p.ClusterName, &p.ServiceARN, &p.LoadBalancerDNS,
		&p.CreatedAt, &p.LastDeployedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
