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

// Conversation one logical thread with a contact or group, scoped to a
// session. At most one active conversation exists per (session, chat_id);
// the unique partial index below backs the first-contact race recovery.
type Conversation struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID  string             `bson:"tenant_id" json:"tenant_id"`
	SessionID string             `bson:"session_id" json:"session_id"`

	ChatID string `bson:"chat_id" json:"chat_id"`                   // stable channel identifier
	LidJID string `bson:"lid_jid,omitempty" json:"lid_jid,omitempty"` // ephemeral id cross-reference
	Phone  string `bson:"phone,omitempty" json:"phone,omitempty"`   // normalized digits
	Name   string `bson:"name,omitempty" json:"name,omitempty"`

	IsGroup    bool   `bson:"is_group" json:"is_group"`
	AssignedTo string `bson:"assigned_to,omitempty" json:"assigned_to,omitempty"` // empty = unassigned, AI-eligible

	Pinned      bool `bson:"pinned" json:"pinned"`
	Archived    bool `bson:"archived" json:"archived"`
	UnreadCount int  `bson:"unread_count" json:"unread_count"`

	Lifecycle     Lifecycle `bson:"lifecycle" json:"lifecycle"`
	LastMessageAt time.Time `bson:"last_message_at" json:"last_message_at"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// HumanAssigned reports whether a human operator has taken over the thread
func (c *Conversation) HumanAssigned() bool {
	return c.AssignedTo != ""
}

// Removed reports whether the conversation has been soft-removed
func (c *Conversation) Removed() bool {
	return c.Lifecycle == LifecycleRemoved
}

// Collection implements mongodb.Model
func (*Conversation) Collection() string { return "conversations" }

// EnsureIndexes implements mongodb.Model
func (c *Conversation) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(c.Collection())
	indexes := []mongo.IndexModel{
		{
			// exactly-once conversation creation under concurrent first contact
			Keys: bson.D{bson.E{Key: "session_id", Value: 1}, bson.E{Key: "chat_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_session_chat_active").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"lifecycle": string(LifecycleActive)}),
		},
		{
			Keys:    bson.D{bson.E{Key: "session_id", Value: 1}, bson.E{Key: "lid_jid", Value: 1}},
			Options: options.Index().SetName("idx_session_lid").SetSparse(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "session_id", Value: 1}, bson.E{Key: "phone", Value: 1}},
			Options: options.Index().SetName("idx_session_phone").SetSparse(true),
		},
		{
			Keys:    bson.D{bson.E{Key: "tenant_id", Value: 1}, bson.E{Key: "last_message_at", Value: -1}},
			Options: options.Index().SetName("idx_tenant_activity"),
		},
	}
	return mongodb.CreateIndexes(ctx, coll, indexes)
}
