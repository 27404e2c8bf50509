package repository

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"pomelo/internal/model"
)

// PlanRepo tenant subscription store
type PlanRepo struct {
	collection *mongo.Collection
}

// NewPlanRepo creates a plan repository
func NewPlanRepo(db *mongo.Database) *PlanRepo {
	return &PlanRepo{
		collection: db.Collection((&model.Plan{}).Collection()),
	}
}

// FindByTenant loads the tenant's plan
func (r *PlanRepo) FindByTenant(ctx context.Context, tenantID string) (*model.Plan, error) {
	var plan model.Plan
	err := r.collection.FindOne(ctx, bson.M{"tenant_id": tenantID}).Decode(&plan)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}
