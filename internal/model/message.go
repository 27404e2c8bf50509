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

// Direction message flow relative to the session owner
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// MessageStatus delivery status lifecycle: pending -> sent -> delivered ->
// read, or failed
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// statusRank ordering used to keep status updates monotonic; out-of-order
// receipts are idempotent no-ops
var statusRank = map[MessageStatus]int{
	MessagePending:   0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
	MessageFailed:    4,
}

// StatusesBelow returns the statuses a message may currently hold for an
// update to target to be a forward move
func StatusesBelow(target MessageStatus) []MessageStatus {
	rank, ok := statusRank[target]
	if !ok {
		return nil
	}
	var below []MessageStatus
	for st, r := range statusRank {
		if r < rank {
			below = append(below, st)
		}
	}
	return below
}

// ParseMessageStatus validates a provider status string
func ParseMessageStatus(s string) (MessageStatus, bool) {
	st := MessageStatus(s)
	_, ok := statusRank[st]
	if !ok || st == MessagePending {
		return "", false
	}
	return st, true
}

// Message one inbound or outbound unit. ProviderID, when present, is unique
// per session: re-delivery must not duplicate the row.
type Message struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TenantID       string             `bson:"tenant_id" json:"tenant_id"`
	SessionID      string             `bson:"session_id" json:"session_id"`
	ConversationID primitive.ObjectID `bson:"conversation_id" json:"conversation_id"`

	ProviderID string    `bson:"provider_id,omitempty" json:"provider_id,omitempty"` // empty for locally-originated until acked
	Direction  Direction `bson:"direction" json:"direction"`
	Type       string    `bson:"type" json:"type"`
	Content    string    `bson:"content" json:"content"`
	MediaRef   string    `bson:"media_ref,omitempty" json:"media_ref,omitempty"`

	// populated only for inbound messages
	SenderName  string `bson:"sender_name,omitempty" json:"sender_name,omitempty"`
	SenderPhone string `bson:"sender_phone,omitempty" json:"sender_phone,omitempty"`

	Status    MessageStatus `bson:"status" json:"status"`
	IsHistory bool          `bson:"is_history,omitempty" json:"is_history,omitempty"`
	Timestamp time.Time     `bson:"timestamp" json:"timestamp"`
	CreatedAt time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time     `bson:"updated_at" json:"updated_at"`
}

// Collection implements mongodb.Model
func (*Message) Collection() string { return "messages" }

// EnsureIndexes implements mongodb.Model
func (m *Message) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(m.Collection())
	indexes := []mongo.IndexModel{
		{
			// at-least-once delivery becomes exactly-once persistence
			Keys: bson.D{bson.E{Key: "session_id", Value: 1}, bson.E{Key: "provider_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_session_provider").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"provider_id": bson.M{"$exists": true, "$type": "string"}}),
		},
		{
			Keys:    bson.D{bson.E{Key: "conversation_id", Value: 1}, bson.E{Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("idx_conversation_time"),
		},
	}
	return mongodb.CreateIndexes(ctx, coll, indexes)
}
