package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
)

// ConversationRepo conversation store. Uniqueness of (session, chat_id) for
// active rows is enforced by index; callers recover from duplicate-key
// errors via IsDuplicate.
type ConversationRepo struct {
	collection *mongo.Collection
}

// NewConversationRepo creates a conversation repository
func NewConversationRepo(db *mongo.Database) *ConversationRepo {
	return &ConversationRepo{
		collection: db.Collection((&model.Conversation{}).Collection()),
	}
}

// IsDuplicate reports whether err is the unique-index violation raised by a
// lost first-contact insert race
func IsDuplicate(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// Insert creates a conversation; a duplicate-key error means a concurrent
// event created the row first
func (r *ConversationRepo) Insert(ctx context.Context, conv *model.Conversation) error {
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.Lifecycle == "" {
		conv.Lifecycle = model.LifecycleActive
	}

	result, err := r.collection.InsertOne(ctx, conv)
	if err != nil {
		return err
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		conv.ID = oid
	}
	return nil
}

// FindByID loads one conversation scoped by tenant
func (r *ConversationRepo) FindByID(ctx context.Context, tenantID string, id primitive.ObjectID) (*model.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id, "tenant_id": tenantID})
}

// FindByChatID matches on the current channel identifier, any lifecycle;
// restoring a removed row takes precedence over creating a duplicate
func (r *ConversationRepo) FindByChatID(ctx context.Context, tenantID, sessionID, chatID string) (*model.Conversation, error) {
	return r.findOne(ctx, bson.M{
		"tenant_id":  tenantID,
		"session_id": sessionID,
		"chat_id":    chatID,
	})
}

// FindByLid matches a conversation previously tagged with an ephemeral id
func (r *ConversationRepo) FindByLid(ctx context.Context, tenantID, sessionID, lidJID string) (*model.Conversation, error) {
	return r.findOne(ctx, bson.M{
		"tenant_id":  tenantID,
		"session_id": sessionID,
		"lid_jid":    lidJID,
		"lifecycle":  model.LifecycleActive,
	})
}

// FindByPhone matches on the normalized phone number
func (r *ConversationRepo) FindByPhone(ctx context.Context, tenantID, sessionID, phone string) (*model.Conversation, error) {
	return r.findOne(ctx, bson.M{
		"tenant_id":  tenantID,
		"session_id": sessionID,
		"phone":      phone,
		"lifecycle":  model.LifecycleActive,
	})
}

func (r *ConversationRepo) findOne(ctx context.Context, filter bson.M) (*model.Conversation, error) {
	var conv model.Conversation
	err := r.collection.FindOne(ctx, filter).Decode(&conv)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// Restore reactivates a soft-removed conversation
func (r *ConversationRepo) Restore(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.collection.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"lifecycle": model.LifecycleActive, "updated_at": time.Now()},
	})
	return err
}

// MigrateChatID moves a conversation keyed by an ephemeral id onto its
// resolved stable identifier, recording the ephemeral id for future
// cross-reference
func (r *ConversationRepo) MigrateChatID(ctx context.Context, id primitive.ObjectID, stableChatID, lidJID, phone string) error {
	set := bson.M{
		"chat_id":    stableChatID,
		"lid_jid":    lidJID,
		"updated_at": time.Now(),
	}
	if phone != "" {
		set["phone"] = phone
	}
	_, err := r.collection.UpdateByID(ctx, id, bson.M{"$set": set})
	return err
}

// TouchIncoming advances activity and bumps the unread counter
func (r *ConversationRepo) TouchIncoming(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := r.collection.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"last_message_at": at, "updated_at": time.Now()},
		"$inc": bson.M{"unread_count": 1},
	})
	return err
}

// TouchOutgoing advances activity and clears the unread counter
func (r *ConversationRepo) TouchOutgoing(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	_, err := r.collection.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"last_message_at": at, "unread_count": 0, "updated_at": time.Now()},
	})
	return err
}

// Assign hands the conversation to a human operator, disabling the AI path
func (r *ConversationRepo) Assign(ctx context.Context, tenantID string, id primitive.ObjectID, userID string) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "tenant_id": tenantID},
		bson.M{"$set": bson.M{"assigned_to": userID, "updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Release returns the conversation to the AI
func (r *ConversationRepo) Release(ctx context.Context, tenantID string, id primitive.ObjectID) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "tenant_id": tenantID},
		bson.M{"$unset": bson.M{"assigned_to": ""}, "$set": bson.M{"updated_at": time.Now()}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBySession lists active conversations ordered by recency
func (r *ConversationRepo) ListBySession(ctx context.Context, tenantID, sessionID string, limit, offset int64) ([]*model.Conversation, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "last_message_at", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{
		"tenant_id":  tenantID,
		"session_id": sessionID,
		"lifecycle":  model.LifecycleActive,
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var convs []*model.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}
