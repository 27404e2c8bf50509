package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/pkg/mongodb"
)

// feature tags gated by the plan
const (
	FeatureAIChat       = "ai_chat"
	FeatureAutofill     = "autofill"
	FeatureLeadAnalysis = "lead_analysis"
	FeatureEmailDraft   = "email_draft"
)

// PlanStatus subscription state
type PlanStatus string

const (
	PlanActive   PlanStatus = "active"
	PlanInactive PlanStatus = "inactive"
)

// Plan tenant subscription with token budgets and feature switches
type Plan struct {
	ID                string          `bson:"_id" json:"id"`
	TenantID          string          `bson:"tenant_id" json:"tenant_id"`
	Name              string          `bson:"name" json:"name"`
	Status            PlanStatus      `bson:"status" json:"status"`
	ExpiresAt         *time.Time      `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	MonthlyTokenLimit int64           `bson:"monthly_token_limit" json:"monthly_token_limit"`
	DailyTokenLimit   int64           `bson:"daily_token_limit" json:"daily_token_limit"`
	Features          map[string]bool `bson:"features" json:"features"`
}

// HasFeature reports whether the plan enables a feature tag
func (p *Plan) HasFeature(feature string) bool {
	return p.Features[feature]
}

// Expired reports whether the plan has passed its expiry at time now
func (p *Plan) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Collection implements mongodb.Model
func (*Plan) Collection() string { return "plans" }

// EnsureIndexes implements mongodb.Model
func (p *Plan) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(p.Collection())
	return mongodb.CreateIndex(ctx, coll, mongo.IndexModel{
		Keys:    bson.D{bson.E{Key: "tenant_id", Value: 1}},
		Options: options.Index().SetName("uniq_tenant").SetUnique(true),
	})
}

// UsageCounter monthly/daily token counters for one tenant. Month and Day
// hold the boundary keys the counters belong to; a lazy conditional reset
// swaps them exactly once per boundary crossing.
type UsageCounter struct {
	TenantID    string    `bson:"_id" json:"tenant_id"`
	Month       string    `bson:"month" json:"month"` // "2006-01"
	Day         string    `bson:"day" json:"day"`     // "2006-01-02"
	MonthlyUsed int64     `bson:"monthly_used" json:"monthly_used"`
	DailyUsed   int64     `bson:"daily_used" json:"daily_used"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// Collection implements mongodb.Model
func (*UsageCounter) Collection() string { return "usage_counters" }

// EnsureIndexes implements mongodb.Model; the _id is the tenant id so no
// extra indexes are needed
func (u *UsageCounter) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	return nil
}

// boundary key formats
const (
	MonthKeyFormat = "2006-01"
	DayKeyFormat   = "2006-01-02"
)
