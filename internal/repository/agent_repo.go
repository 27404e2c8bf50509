package repository

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"pomelo/internal/model"
)

// AgentRepo AI agent profile store
type AgentRepo struct {
	collection *mongo.Collection
}

// NewAgentRepo creates an agent repository
func NewAgentRepo(db *mongo.Database) *AgentRepo {
	return &AgentRepo{
		collection: db.Collection((&model.AgentProfile{}).Collection()),
	}
}

// FindActiveForSession returns the active agent for a session, preferring a
// session-specific profile over the tenant default
func (r *AgentRepo) FindActiveForSession(ctx context.Context, tenantID, sessionID string) (*model.AgentProfile, error) {
	agent, err := r.findOne(ctx, bson.M{"tenant_id": tenantID, "session_id": sessionID, "active": true})
	if err == nil {
		return agent, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// tenant default (no session binding)
	return r.findOne(ctx, bson.M{
		"tenant_id":  tenantID,
		"session_id": bson.M{"$in": bson.A{"", nil}},
		"active":     true,
	})
}

func (r *AgentRepo) findOne(ctx context.Context, filter bson.M) (*model.AgentProfile, error) {
	var agent model.AgentProfile
	err := r.collection.FindOne(ctx, filter).Decode(&agent)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}
