package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/pkg/mongodb"
)

// HourWindow one service window on a weekday, times as "15:04"
type HourWindow struct {
	Day   time.Weekday `bson:"day" json:"day"`
	Start string       `bson:"start" json:"start"`
	End   string       `bson:"end" json:"end"`
}

// AgentProfile AI agent configuration for a session (or the tenant default
// when SessionID is empty)
type AgentProfile struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID     string             `bson:"tenant_id" json:"tenant_id"`
	SessionID    string             `bson:"session_id,omitempty" json:"session_id,omitempty"` // empty = tenant default
	Name         string             `bson:"name" json:"name"`
	SystemPrompt string             `bson:"system_prompt" json:"system_prompt"`
	Temperature  float64            `bson:"temperature" json:"temperature"`
	Active       bool               `bson:"active" json:"active"`
	Timezone     string             `bson:"timezone,omitempty" json:"timezone,omitempty"` // IANA name
	Hours        []HourWindow       `bson:"hours,omitempty" json:"hours,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// ActiveAt reports whether the agent serves at time t. No configured hours
// means always active; configured hours with no window for t's weekday means
// inactive for that day.
func (a *AgentProfile) ActiveAt(t time.Time) bool {
	if len(a.Hours) == 0 {
		return true
	}

	if a.Timezone != "" {
		if loc, err := time.LoadLocation(a.Timezone); err == nil {
			t = t.In(loc)
		}
	}

	hhmm := t.Format("15:04")
	for _, w := range a.Hours {
		if w.Day != t.Weekday() {
			continue
		}
		if hhmm >= w.Start && hhmm <= w.End {
			return true
		}
	}
	return false
}

// Collection implements mongodb.Model
func (*AgentProfile) Collection() string { return "agent_profiles" }

// EnsureIndexes implements mongodb.Model
func (a *AgentProfile) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(a.Collection())
	return mongodb.CreateIndex(ctx, coll, mongo.IndexModel{
		Keys:    bson.D{bson.E{Key: "tenant_id", Value: 1}, bson.E{Key: "session_id", Value: 1}, bson.E{Key: "active", Value: 1}},
		Options: options.Index().SetName("idx_tenant_session_active"),
	})
}
