package service

import (
	"context"

	"pomelo/internal/model"
	"pomelo/internal/pkg/id"
)

// sessionAdmin subset of SessionRepo used for provisioning
type sessionAdmin interface {
	Create(ctx context.Context, sess *model.Session) error
	FindByID(ctx context.Context, id string) (*model.Session, error)
	SoftRemove(ctx context.Context, tenantID, id string) error
	ListByTenant(ctx context.Context, tenantID string) ([]*model.Session, error)
}

// SessionService session provisioning and removal
type SessionService struct {
	sessions sessionAdmin
}

// NewSessionService creates the session service
func NewSessionService(sessions sessionAdmin) *SessionService {
	return &SessionService{sessions: sessions}
}

// Provision creates a session in the connecting state with a fresh webhook
// token; the channel provider is expected to call back with qr_code or
// connected
func (s *SessionService) Provision(ctx context.Context, tenantID, userID, name string) (*model.Session, error) {
	sess := &model.Session{
		ID:           id.New(),
		TenantID:     tenantID,
		UserID:       userID,
		Name:         name,
		Status:       model.SessionConnecting,
		Lifecycle:    model.LifecycleActive,
		WebhookToken: id.NewToken(),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads one session scoped to its tenant
func (s *SessionService) Get(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	sess, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Remove soft-deletes a session; its webhook events are discarded from then on
func (s *SessionService) Remove(ctx context.Context, tenantID, sessionID string) error {
	return s.sessions.SoftRemove(ctx, tenantID, sessionID)
}

// List returns the tenant's active sessions
func (s *SessionService) List(ctx context.Context, tenantID string) ([]*model.Session, error) {
	return s.sessions.ListByTenant(ctx, tenantID)
}
