// Package learning holds the repositories behind the learning store:
// keyword-indexed memories, the FAQ cache, observed patterns and per
// conversation context. Score updates are computed store-side so concurrent
// feedback never loses increments.
package learning

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pomelo/internal/model"
)

// initialConfidence score given to a memory on first write
const initialConfidence = 0.5

// MemoryRepo keyword-indexed memory store
type MemoryRepo struct {
	collection *mongo.Collection
}

// NewMemoryRepo creates a memory repository
func NewMemoryRepo(db *mongo.Database) *MemoryRepo {
	return &MemoryRepo{
		collection: db.Collection((&model.MemoryEntry{}).Collection()),
	}
}

// Upsert writes a memory keyed by (tenant, type, key)
func (r *MemoryRepo) Upsert(ctx context.Context, entry *model.MemoryEntry) error {
	filter := bson.M{
		"tenant_id": entry.TenantID,
		"type":      entry.Type,
		"key":       entry.Key,
	}
	update := bson.M{
		"$set": bson.M{
			"content":    entry.Content,
			"keywords":   entry.Keywords,
			"updated_at": time.Now(),
		},
		"$setOnInsert": bson.M{
			"confidence":  initialConfidence,
			"usage_count": int64(0),
			"created_at":  time.Now(),
		},
	}
	_, err := r.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return err
}

// Search runs an OR-keyword match ordered by confidence then usage count
func (r *MemoryRepo) Search(ctx context.Context, tenantID string, keywords []string, limit int64) ([]*model.MemoryEntry, error) {
	if len(keywords) == 0 {
		return nil, nil
	}

	opts := options.Find().
		SetSort(bson.D{
			bson.E{Key: "confidence", Value: -1},
			bson.E{Key: "usage_count", Value: -1},
		}).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, bson.M{
		"tenant_id": tenantID,
		"keywords":  bson.M{"$in": keywords},
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*model.MemoryEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// BumpUsage increments usage counters for recalled entries
func (r *MemoryRepo) BumpUsage(ctx context.Context, ids []primitive.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.collection.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$inc": bson.M{"usage_count": 1}},
	)
	return err
}

// Boost raises confidence by increment, capped at 1.0; confidence never
// decreases automatically
func (r *MemoryRepo) Boost(ctx context.Context, tenantID, memType, key string, increment float64) error {
	pipeline := mongo.Pipeline{
		bson.D{bson.E{Key: "$set", Value: bson.D{
			bson.E{Key: "confidence", Value: bson.D{
				bson.E{Key: "$min", Value: bson.A{
					1.0,
					bson.D{bson.E{Key: "$add", Value: bson.A{"$confidence", increment}}},
				}},
			}},
			bson.E{Key: "updated_at", Value: "$$NOW"},
		}}},
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{
		"tenant_id": tenantID,
		"type":      memType,
		"key":       key,
	}, pipeline)
	return err
}
