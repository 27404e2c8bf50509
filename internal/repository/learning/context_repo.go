package learning

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
	"pomelo/internal/repository"
)

// maxTopics keeps the rolling topic list bounded per conversation
const maxTopics = 20

// ContextRepo stores the rolling per-conversation context summary
type ContextRepo struct {
	collection *mongo.Collection
}

// NewContextRepo creates a conversation context repository
func NewContextRepo(db *mongo.Database) *ContextRepo {
	return &ContextRepo{
		collection: db.Collection((&model.ConversationContext{}).Collection()),
	}
}

// Merge folds one exchange into the conversation context: topics are a capped
// set union, counters accumulate, sentiment is last-writer-wins when provided
func (r *ContextRepo) Merge(ctx context.Context, tenantID string, conversationID primitive.ObjectID, topics []string, sentiment string, messageDelta, aiResponseDelta int) error {
	if topics == nil {
		topics = []string{}
	}

	set := bson.D{
		bson.E{Key: "tenant_id", Value: tenantID},
		bson.E{Key: "conversation_id", Value: conversationID},
		bson.E{Key: "topics", Value: bson.D{
			bson.E{Key: "$slice", Value: bson.A{
				bson.D{bson.E{Key: "$setUnion", Value: bson.A{
					bson.D{bson.E{Key: "$ifNull", Value: bson.A{"$topics", bson.A{}}}},
					topics,
				}}},
				maxTopics,
			}},
		}},
		bson.E{Key: "message_count", Value: bson.D{
			bson.E{Key: "$add", Value: bson.A{
				bson.D{bson.E{Key: "$ifNull", Value: bson.A{"$message_count", 0}}},
				messageDelta,
			}},
		}},
		bson.E{Key: "ai_response_count", Value: bson.D{
			bson.E{Key: "$add", Value: bson.A{
				bson.D{bson.E{Key: "$ifNull", Value: bson.A{"$ai_response_count", 0}}},
				aiResponseDelta,
			}},
		}},
		bson.E{Key: "updated_at", Value: "$$NOW"},
	}
	if sentiment != "" {
		set = append(set, bson.E{Key: "sentiment", Value: sentiment})
	} else {
		set = append(set, bson.E{Key: "sentiment", Value: bson.D{
			bson.E{Key: "$ifNull", Value: bson.A{"$sentiment", ""}},
		}})
	}

	filter := bson.M{
		"tenant_id":       tenantID,
		"conversation_id": conversationID,
	}
	pipeline := mongo.Pipeline{bson.D{bson.E{Key: "$set", Value: set}}}
	_, err := r.collection.UpdateOne(ctx, filter, pipeline, options.Update().SetUpsert(true))
	return err
}

// Find returns the context for a conversation
func (r *ContextRepo) Find(ctx context.Context, tenantID string, conversationID primitive.ObjectID) (*model.ConversationContext, error) {
	var cc model.ConversationContext
	err := r.collection.FindOne(ctx, bson.M{
		"tenant_id":       tenantID,
		"conversation_id": conversationID,
	}).Decode(&cc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &cc, nil
}
