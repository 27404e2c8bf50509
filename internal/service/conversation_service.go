package service

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"pomelo/internal/model"
)

// conversationAdmin subset of ConversationRepo used for management operations
type conversationAdmin interface {
	FindByID(ctx context.Context, tenantID string, id primitive.ObjectID) (*model.Conversation, error)
	Assign(ctx context.Context, tenantID string, id primitive.ObjectID, userID string) error
	Release(ctx context.Context, tenantID string, id primitive.ObjectID) error
	ListBySession(ctx context.Context, tenantID, sessionID string, limit, offset int64) ([]*model.Conversation, error)
}

// ConversationService conversation management: listing, human takeover and
// release back to the AI
type ConversationService struct {
	conversations conversationAdmin
}

// NewConversationService creates the conversation service
func NewConversationService(conversations conversationAdmin) *ConversationService {
	return &ConversationService{conversations: conversations}
}

// Get loads one conversation scoped to its tenant
func (s *ConversationService) Get(ctx context.Context, tenantID string, id primitive.ObjectID) (*model.Conversation, error) {
	return s.conversations.FindByID(ctx, tenantID, id)
}

// List returns a page of a session's active conversations, most recent first
func (s *ConversationService) List(ctx context.Context, tenantID, sessionID string, limit, offset int64) ([]*model.Conversation, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.conversations.ListBySession(ctx, tenantID, sessionID, limit, offset)
}

// Assign hands the conversation to a human operator; the responder skips it
// until released
func (s *ConversationService) Assign(ctx context.Context, tenantID string, id primitive.ObjectID, userID string) error {
	return s.conversations.Assign(ctx, tenantID, id, userID)
}

// Release returns the conversation to the AI
func (s *ConversationService) Release(ctx context.Context, tenantID string, id primitive.ObjectID) error {
	return s.conversations.Release(ctx, tenantID, id)
}
