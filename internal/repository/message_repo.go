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

// MessageRepo message store. The unique (session, provider_id) index turns
// at-least-once webhook delivery into exactly-once persistence.
type MessageRepo struct {
	collection *mongo.Collection
}

// NewMessageRepo creates a message repository
func NewMessageRepo(db *mongo.Database) *MessageRepo {
	return &MessageRepo{
		collection: db.Collection((&model.Message{}).Collection()),
	}
}

// Insert persists a message; a duplicate-key error signals a re-delivered
// provider id
func (r *MessageRepo) Insert(ctx context.Context, msg *model.Message) error {
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now

	result, err := r.collection.InsertOne(ctx, msg)
	if err != nil {
		return err
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		msg.ID = oid
	}
	return nil
}

// FindByProviderID loads a message by its provider-assigned id
func (r *MessageRepo) FindByProviderID(ctx context.Context, tenantID, sessionID, providerID string) (*model.Message, error) {
	var msg model.Message
	err := r.collection.FindOne(ctx, bson.M{
		"tenant_id":   tenantID,
		"session_id":  sessionID,
		"provider_id": providerID,
	}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateStatus applies a delivery-status transition keyed by provider id.
// The filter restricts to statuses below the target so replays and
// out-of-order receipts match nothing and become no-ops. Returns whether a
// row changed; an unknown provider id is not an error.
func (r *MessageRepo) UpdateStatus(ctx context.Context, tenantID, sessionID, providerID string, status model.MessageStatus) (bool, error) {
	priors := model.StatusesBelow(status)
	if len(priors) == 0 {
		return false, nil
	}

	res, err := r.collection.UpdateOne(ctx,
		bson.M{
			"tenant_id":   tenantID,
			"session_id":  sessionID,
			"provider_id": providerID,
			"status":      bson.M{"$in": priors},
		},
		bson.M{"$set": bson.M{"status": status, "updated_at": time.Now()}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

// MarkFailed flags a pending outgoing message whose send errored
func (r *MessageRepo) MarkFailed(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.collection.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"status": model.MessageFailed, "updated_at": time.Now()},
	})
	return err
}

// SetProviderID fills in the provider id once an outgoing send is
// acknowledged
func (r *MessageRepo) SetProviderID(ctx context.Context, id primitive.ObjectID, providerID string) error {
	_, err := r.collection.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"provider_id": providerID, "status": model.MessageSent, "updated_at": time.Now()},
	})
	return err
}

// ListInboundSince returns inbound non-history messages of a conversation
// received at or after since, in chronological order; feeds the
// message-combination window
func (r *MessageRepo) ListInboundSince(ctx context.Context, conversationID primitive.ObjectID, since time.Time) ([]*model.Message, error) {
	opts := options.Find().SetSort(bson.D{bson.E{Key: "timestamp", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{
		"conversation_id": conversationID,
		"direction":       model.DirectionIn,
		"is_history":      bson.M{"$ne": true},
		"timestamp":       bson.M{"$gte": since},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []*model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListByConversation returns a page of a conversation's messages, newest
// first
func (r *MessageRepo) ListByConversation(ctx context.Context, tenantID string, conversationID primitive.ObjectID, limit, offset int64) ([]*model.Message, error) {
	opts := options.Find().
		SetSort(bson.D{bson.E{Key: "timestamp", Value: -1}}).
		SetLimit(limit).
		SetSkip(offset)

	cursor, err := r.collection.Find(ctx, bson.M{
		"tenant_id":       tenantID,
		"conversation_id": conversationID,
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []*model.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}
