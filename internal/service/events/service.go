package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oneops/oneops/internal/domain"
	"github.com/oneops/oneops/internal/repository"
	"github.com/oneops/oneops/internal/ws"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Service stores deployment events and streams them to their owner.
type Service struct {
	repo   repository.EventRepository
	hub    *ws.Hub
	logger *slog.Logger
}

// New constructs an event service. hub may be nil when streaming is off.
func New(repo repository.EventRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, hub: hub, logger: logger}
}

// Append stores and broadcasts an event.
func (s Service) Append(ctx context.Context, event *domain.DeploymentEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	event.CreatedAt = event.CreatedAt.UTC()
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		return err
	}
	s.broadcast(*event)
	return nil
}

// List returns the owner's events, newest first.
func (s Service) List(ctx context.Context, ownerID string, limit, offset int) ([]domain.DeploymentEvent, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListEventsByOwner(ctx, ownerID, limit, offset)
}

// Hub returns the stream hub.
func (s Service) Hub() *ws.Hub {
	return s.hub
}

func (s Service) broadcast(event domain.DeploymentEvent) {
	if s.hub == nil {
		return
	}
	data, err := MarshalEvent(event)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", "error", err)
		return
	}
	s.hub.Broadcast(event.OwnerID, data)
}

// MarshalEvent formats an event for stream payloads.
func MarshalEvent(event domain.DeploymentEvent) ([]byte, error) {
	return json.Marshal(event)
}
