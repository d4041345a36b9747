package notifications

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/models"
)

// Publisher pushes a payload to a user's live connections.
type Publisher interface {
	PublishToUser(ctx context.Context, userID uuid.UUID, payload []byte) error
}

// Service creates notification rows and pushes them to connected clients.
// Push failures are logged and never surfaced to callers; the row is the
// source of truth and clients reconcile on reconnect.
type Service struct {
	repo      *Repository
	publisher Publisher
	logger    *zap.Logger
}

func NewService(repo *Repository, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{repo: repo, publisher: publisher, logger: logger}
}

// Notify creates a notification for a single user and pushes it.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID, ntype, title, body string) error {
	n := &models.Notification{UserID: userID, OrgID: orgID, Type: ntype, Title: title, Body: body}
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	s.push(ctx, *n)
	return nil
}

// NotifyOrgManagers notifies every owner and admin of the org.
func (s *Service) NotifyOrgManagers(ctx context.Context, orgID uuid.UUID, ntype, title, body string) error {
	created, err := s.repo.CreateForOrgRoles(ctx, orgID,
		[]string{models.OrgRoleOwner, models.OrgRoleAdmin}, ntype, title, body)
	if err != nil {
		return err
	}
	for _, n := range created {
		s.push(ctx, n)
	}
	return nil
}

func (s *Service) push(ctx context.Context, n models.Notification) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	if err := s.publisher.PublishToUser(ctx, n.UserID, payload); err != nil {
		s.logger.Warn("notification push failed",
			zap.String("user_id", n.UserID.String()), zap.Error(err))
	}
}
