package model

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/pkg/mongodb"
)

// SessionStatus connection state of a messaging-channel session
type SessionStatus string

const (
	SessionConnecting   SessionStatus = "connecting"
	SessionQRCode       SessionStatus = "qr_code"
	SessionConnected    SessionStatus = "connected"
	SessionDisconnected SessionStatus = "disconnected"
	SessionLoggedOut    SessionStatus = "logged_out"
	SessionFailed       SessionStatus = "failed"
)

// Lifecycle replaces framework soft-delete: every query path checks it
// explicitly
type Lifecycle string

const (
	LifecycleActive  Lifecycle = "active"
	LifecycleRemoved Lifecycle = "removed"
)

// Session one connection to a messaging channel
type Session struct {
	ID           string        `bson:"_id" json:"id"` // uuid
	TenantID     string        `bson:"tenant_id" json:"tenant_id"`
	UserID       string        `bson:"user_id,omitempty" json:"user_id,omitempty"` // empty = shared/global
	Name         string        `bson:"name" json:"name"`
	Status       SessionStatus `bson:"status" json:"status"`
	Lifecycle    Lifecycle     `bson:"lifecycle" json:"lifecycle"`
	WebhookToken string        `bson:"webhook_token" json:"-"`
	ConnectedAt  *time.Time    `bson:"connected_at,omitempty" json:"connected_at,omitempty"`
	CreatedAt    time.Time     `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `bson:"updated_at" json:"updated_at"`
}

// sessionTransitions allowed status moves. SessionFailed is reachable from
// anywhere (handled in CanTransition), disconnected sessions may re-provision.
var sessionTransitions = map[SessionStatus][]SessionStatus{
	SessionConnecting:   {SessionQRCode, SessionConnected},
	SessionQRCode:       {SessionConnected, SessionDisconnected},
	SessionConnected:    {SessionDisconnected, SessionLoggedOut},
	SessionDisconnected: {SessionConnecting, SessionQRCode, SessionConnected},
	SessionLoggedOut:    {SessionConnecting, SessionQRCode},
	SessionFailed:       {SessionConnecting, SessionQRCode},
}

// CanTransition reports whether moving from -> to is a legal status change
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return false
	}
	if to == SessionFailed {
		return true
	}
	for _, next := range sessionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusForEvent maps a connection webhook event to the target status;
// ok is false for events that do not change connection state
func StatusForEvent(event EventType) (SessionStatus, bool) {
	switch event {
	case EventQRCode:
		return SessionQRCode, true
	case EventConnected:
		return SessionConnected, true
	case EventDisconnected:
		return SessionDisconnected, true
	case EventLoggedOut:
		return SessionLoggedOut, true
	case EventFailed:
		return SessionFailed, true
	default:
		return "", false
	}
}

// Removed reports whether the session has been soft-removed
func (s *Session) Removed() bool {
	return s.Lifecycle == LifecycleRemoved
}

// Collection implements mongodb.Model
func (*Session) Collection() string { return "sessions" }

// EnsureIndexes implements mongodb.Model
func (s *Session) EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	coll := db.Collection(s.Collection())
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{bson.E{Key: "tenant_id", Value: 1}, bson.E{Key: "lifecycle", Value: 1}},
			Options: options.Index().SetName("idx_tenant_lifecycle"),
		},
		{
			Keys:    bson.D{bson.E{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_created"),
		},
	}
	return mongodb.CreateIndexes(ctx, coll, indexes)
}
